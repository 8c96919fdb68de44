// internal/analyzer/content.go
package analyzer

import (
	"sort"
	"strings"
	"unicode"

	"github.com/xkilldash9x/focusgroup/api/schemas"
	"github.com/xkilldash9x/focusgroup/internal/navigation"
)

const (
	// DefaultMaxContent bounds the page text sent to the reasoning service.
	DefaultMaxContent = 2000
	maxHeaderLen      = 100
	maxHeaders        = 5
	maxMainParagraphs = 3
)

// Preprocess collapses whitespace inside each line, drops blank and repeated
// lines and truncates the result to maxLen runes.
func Preprocess(text string, maxLen int) string {
	seen := make(map[string]struct{})
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			continue
		}
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		kept = append(kept, line)
	}
	out := strings.Join(kept, "\n")
	if maxLen > 0 {
		if r := []rune(out); len(r) > maxLen {
			out = string(r[:maxLen])
		}
	}
	return out
}

// ExtractHeaders picks up to five short lines that contain an upper-case
// letter, in page order.
func ExtractHeaders(content string) string {
	var headers []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || len([]rune(line)) >= maxHeaderLen || !strings.ContainsFunc(line, unicode.IsUpper) {
			continue
		}
		headers = append(headers, line)
		if len(headers) == maxHeaders {
			break
		}
	}
	return strings.Join(headers, "\n")
}

// ExtractMainContent returns the three paragraphs that best match the
// persona's interests and needs. Earlier paragraphs win ties.
func ExtractMainContent(p schemas.Persona, content string) string {
	paragraphs := strings.Split(content, "\n")
	type scored struct {
		text  string
		score float64
	}
	var all []scored
	n := float64(len(paragraphs))
	for idx, para := range paragraphs {
		if strings.TrimSpace(para) == "" {
			continue
		}
		lower := strings.ToLower(para)
		score := 0.0
		for _, item := range append(append([]string(nil), p.Interests...), p.Needs...) {
			if item = strings.ToLower(strings.TrimSpace(item)); item != "" && strings.Contains(lower, item) {
				score += 2
			}
		}
		score += (n - float64(idx)) / n
		all = append(all, scored{text: para, score: score})
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].score > all[j].score })
	if len(all) > maxMainParagraphs {
		all = all[:maxMainParagraphs]
	}
	out := make([]string, len(all))
	for i, s := range all {
		out[i] = s.text
	}
	return strings.Join(out, "\n\n")
}

// ctaPhrases are anchor phrases treated as calls to action.
var ctaPhrases = []string{"contact", "demo", "trial", "sign up", "get started", "buy", "pricing", "subscribe"}

// DetectCTAs returns the calls to action among the observation's links,
// deduplicated by normalized target.
func DetectCTAs(obs *schemas.PageObservation) []schemas.CTA {
	if obs == nil {
		return nil
	}
	page := obs.EffectiveURL()
	seen := make(map[string]struct{})
	var out []schemas.CTA
	for _, link := range obs.Links {
		if !isCTA(link.Text) {
			continue
		}
		target, err := navigation.Normalize(link.URL, page)
		if err != nil {
			continue
		}
		if _, dup := seen[target]; dup {
			continue
		}
		seen[target] = struct{}{}
		out = append(out, schemas.CTA{
			Label:   strings.Join(strings.Fields(link.Text), " "),
			URL:     target,
			PageURL: page,
			State:   schemas.CTANoticed,
		})
	}
	return out
}

func isCTA(text string) bool {
	padded := " " + strings.Join(strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}), " ") + " "
	for _, phrase := range ctaPhrases {
		if strings.Contains(padded, " "+phrase+" ") {
			return true
		}
	}
	return false
}

// InformationCoverage is the fraction of the persona's needs mentioned in
// at least one insight.
func InformationCoverage(needs []string, insights []string) float64 {
	if len(needs) == 0 {
		return 0
	}
	covered := 0
	for _, need := range needs {
		n := strings.ToLower(strings.TrimSpace(need))
		if n == "" {
			continue
		}
		for _, ins := range insights {
			if strings.Contains(strings.ToLower(ins), n) {
				covered++
				break
			}
		}
	}
	return float64(covered) / float64(len(needs))
}
