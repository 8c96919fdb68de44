// internal/persona/loader.go
package persona

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/focusgroup/api/schemas"
)

// File is the on-disk description of a focus group. It either lists the
// personas explicitly or carries a template to generate Count of them.
type File struct {
	Personas []schemas.Persona       `yaml:"personas,omitempty"`
	Template *schemas.PersonaTemplate `yaml:"template,omitempty"`
	Count    int                      `yaml:"count,omitempty"`
}

// Validate checks that the file describes a usable group.
func (f *File) Validate() error {
	if len(f.Personas) == 0 && f.Template == nil {
		return errors.New("persona file lists no personas and no template")
	}
	if f.Template != nil {
		if err := f.Template.Validate(); err != nil {
			return err
		}
		if f.Count < 0 {
			return fmt.Errorf("persona count must not be negative, got %d", f.Count)
		}
	}
	var errs []error
	seen := make(map[string]bool, len(f.Personas))
	for i, p := range f.Personas {
		if err := p.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("persona %d: %w", i, err))
			continue
		}
		if seen[p.Name] {
			errs = append(errs, fmt.Errorf("persona %d: duplicate name %q", i, p.Name))
		}
		seen[p.Name] = true
	}
	return errors.Join(errs...)
}

// LoadFile reads a persona file. A document that is a bare YAML list is
// read as the persona list.
func LoadFile(path string) (*File, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand persona path %s: %w", path, err)
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to read persona file: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(expanded), err)
	}
	return f, nil
}

// Parse decodes and validates persona file content.
func Parse(data []byte) (*File, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("invalid persona yaml: %w", err)
	}
	if len(root.Content) == 0 {
		return nil, errors.New("persona file is empty")
	}

	f := &File{}
	if root.Content[0].Kind == yaml.SequenceNode {
		if err := root.Content[0].Decode(&f.Personas); err != nil {
			return nil, fmt.Errorf("invalid persona list: %w", err)
		}
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(f); err != nil {
			return nil, fmt.Errorf("invalid persona file: %w", err)
		}
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// WriteFile saves personas in the list form LoadFile accepts.
func WriteFile(path string, personas []schemas.Persona) error {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return fmt.Errorf("failed to expand persona path %s: %w", path, err)
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(File{Personas: personas}); err != nil {
		return fmt.Errorf("failed to encode personas: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to encode personas: %w", err)
	}
	if dir := filepath.Dir(expanded); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create persona directory: %w", err)
		}
	}
	return os.WriteFile(expanded, buf.Bytes(), 0o644)
}
