package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/andybalholm/brotli"
	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/xkilldash9x/focusgroup/api/schemas"
	"github.com/xkilldash9x/focusgroup/internal/reporting"
)

// FileStore writes reports as JSON files under dir/<task id>/, optionally
// brotli-compressed with a .json.br extension.
type FileStore struct {
	dir      string
	compress bool
	log      *zap.Logger
}

var _ schemas.ReportStore = (*FileStore)(nil)

// NewFileStore creates the report directory (expanding a leading ~).
func NewFileStore(dir string, compress bool, logger *zap.Logger) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("file store requires a directory")
	}
	expanded, err := homedir.Expand(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to expand report directory %s: %w", dir, err)
	}
	if err := os.MkdirAll(expanded, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create report directory %s: %w", expanded, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{dir: expanded, compress: compress, log: logger.Named("file_store")}, nil
}

// Dir returns the expanded root directory.
func (s *FileStore) Dir() string { return s.dir }

// SavePersonaReport writes <persona>_<report id>.json.
func (s *FileStore) SavePersonaReport(ctx context.Context, taskID string, r *schemas.PersonaReport) error {
	name := fmt.Sprintf("%s_%s", slugify(r.Persona.Name), r.ID)
	return s.write(ctx, taskID, name, r)
}

// SaveFocusGroupReport writes focus_group.json in the persisted shape.
func (s *FileStore) SaveFocusGroupReport(ctx context.Context, taskID string, r *schemas.FocusGroupReport) error {
	return s.write(ctx, taskID, "focus_group", reporting.ToPersisted(r))
}

// Close is a no-op.
func (s *FileStore) Close() error { return nil }

// Path returns the file a report named name of taskID is written to.
func (s *FileStore) Path(taskID, name string) string {
	ext := ".json"
	if s.compress {
		ext += ".br"
	}
	return filepath.Join(s.dir, slugify(taskID), name+ext)
}

func (s *FileStore) write(ctx context.Context, taskID, name string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	if s.compress {
		var buf bytes.Buffer
		bw := brotli.NewWriterLevel(&buf, brotli.DefaultCompression)
		if _, err := bw.Write(data); err != nil {
			return fmt.Errorf("failed to compress %s: %w", name, err)
		}
		if err := bw.Close(); err != nil {
			return fmt.Errorf("failed to compress %s: %w", name, err)
		}
		data = buf.Bytes()
	}

	path := s.Path(taskID, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create task directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move report into place: %w", err)
	}
	s.log.Debug("Report written", zap.String("path", path), zap.Int("bytes", len(data)))
	return nil
}

// ReadFile decodes a report file written by a FileStore into v, handling
// the compressed form by extension.
func ReadFile(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".br") {
		r = brotli.NewReader(f)
	}
	if err := json.NewDecoder(r).Decode(v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

func slugify(s string) string {
	var b strings.Builder
	lastDash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastDash = false
			continue
		}
		if !lastDash && b.Len() > 0 {
			b.WriteByte('_')
			lastDash = true
		}
	}
	out := strings.TrimRight(b.String(), "_")
	if out == "" {
		return "unnamed"
	}
	return out
}
