// internal/navigation/scorer.go
package navigation

import (
	"sort"
	"strings"
	"unicode"

	"github.com/xkilldash9x/focusgroup/api/schemas"
)

// RelevanceScore is the verdict of scoring one candidate link.
type RelevanceScore struct {
	Value                  float64  `json:"value"`
	MatchedKeywords        []string `json:"matched_keywords"`
	AddressesGoal          string   `json:"addresses_goal,omitempty"`
	TechnicalLevelMismatch bool     `json:"technical_level_mismatch"`
	Repetitive             bool     `json:"repetitive"`
}

// Scorer rates links and pages for a persona. Implementations must be
// deterministic for identical inputs.
type Scorer interface {
	Score(p schemas.Persona, link schemas.Link, obs *schemas.PageObservation, mem *Memory) RelevanceScore
	ScorePage(p schemas.Persona, text string) float64
}

// Weights of the noisy-or combination.
const (
	goalWeight     = 0.8
	interestWeight = 0.5
	needWeight     = 0.4

	repetitionOverlap  = 0.8
	beginnerPenalty    = 0.7
	expertPenalty      = 0.85
	jargonThreshold    = 2
	minRepetitionWords = 2
)

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "that": {}, "this": {}, "from": {}, "your": {},
	"you": {}, "our": {}, "are": {}, "was": {}, "how": {}, "what": {}, "who": {}, "why": {},
	"when": {}, "where": {}, "which": {}, "into": {}, "out": {}, "more": {}, "all": {}, "any": {},
	"can": {}, "will": {}, "its": {}, "has": {}, "have": {}, "not": {}, "but": {}, "http": {},
	"https": {}, "www": {}, "com": {}, "html": {}, "htm": {}, "php": {}, "index": {},
	// Verbs and filler that appear in almost every goal statement.
	"find": {}, "learn": {}, "understand": {}, "get": {}, "see": {}, "know": {}, "information": {},
	"info": {}, "about": {}, "want": {}, "need": {}, "check": {}, "look": {}, "explore": {},
	"evaluate": {}, "compare": {}, "determine": {}, "discover": {}, "page": {}, "website": {},
	"site": {}, "details": {}, "read": {},
}

var jargon = map[string]struct{}{
	"api": {}, "sdk": {}, "webhook": {}, "oauth": {}, "kubernetes": {}, "latency": {}, "throughput": {},
	"schema": {}, "endpoint": {}, "cli": {}, "yaml": {}, "json": {}, "graphql": {}, "terraform": {},
	"microservice": {}, "architecture": {}, "deployment": {}, "rest": {}, "grpc": {}, "docker": {},
	"config": {}, "configuration": {}, "runtime": {}, "saml": {}, "sso": {}, "ssl": {}, "dns": {},
}

var beginnerMarkers = []string{"beginner", "getting started", "basics", "101", "introduction", "what is"}

// KeywordScorer is the lexical Scorer: token overlap between persona goals,
// interests and needs on one side and anchor text, surrounding context and
// URL path on the other.
type KeywordScorer struct{}

// NewKeywordScorer returns the default Scorer.
func NewKeywordScorer() *KeywordScorer { return &KeywordScorer{} }

// Score implements Scorer.
func (KeywordScorer) Score(p schemas.Persona, link schemas.Link, obs *schemas.PageObservation, mem *Memory) RelevanceScore {
	linkText := link.Text + " " + link.Context + " " + pathWords(link.URL)
	linkWords := words(linkText)
	linkStems := stemSet(linkWords)

	matched := make(map[string]struct{})
	g, goal := bestOverlap(p.Goals, linkStems, linkWords, matched)
	i, _ := bestOverlap(p.Interests, linkStems, linkWords, matched)
	n, _ := bestOverlap(p.Needs, linkStems, linkWords, matched)

	value := noisyOr(g, i, n)
	score := RelevanceScore{AddressesGoal: goal}

	// Repetition is only flagged; the engine ranks flagged links lower but
	// keeps the value for the threshold check.
	if mem != nil && value > 0 && isRepetitive(link, mem) {
		score.Repetitive = true
	}

	// A technical link on a technical page reads as more complex than the
	// link alone. Page jargon never flags a link that has none of its own.
	linkJargon := jargonCount(linkWords)
	contextJargon := linkJargon
	if obs != nil {
		contextJargon = jargonCount(append(words(obs.Title+" "+obs.Text), linkWords...))
	}

	switch p.ExperienceLevel.Normalize() {
	case schemas.ExperienceBeginner:
		if linkJargon > 0 && contextJargon >= jargonThreshold {
			score.TechnicalLevelMismatch = true
			value *= beginnerPenalty
		}
	case schemas.ExperienceExpert:
		if contextJargon == 0 && hasBeginnerMarker(linkText) {
			score.TechnicalLevelMismatch = true
			value *= expertPenalty
		}
	}

	score.Value = clamp01(value)
	score.MatchedKeywords = sortedKeys(matched)
	return score
}

// ScorePage rates how relevant a page's text is to the persona. Goal coverage
// uses the best covered goal; interests and needs use the fraction of items
// at least half of whose words appear on the page.
func (KeywordScorer) ScorePage(p schemas.Persona, text string) float64 {
	pageStems := stemSet(words(text))
	if len(pageStems) == 0 {
		return 0
	}
	g := 0.0
	for _, goal := range p.Goals {
		if c := coverage(goal, pageStems); c > g {
			g = c
		}
	}
	return clamp01(noisyOr(g, itemFraction(p.Interests, pageStems), itemFraction(p.Needs, pageStems)))
}

func noisyOr(g, i, n float64) float64 {
	return 1 - (1-goalWeight*g)*(1-interestWeight*i)*(1-needWeight*n)
}

// bestOverlap returns the highest fraction of an item's stems found in
// linkStems and the item that produced it. Matched surface words are added
// to matched.
func bestOverlap(items []string, linkStems map[string]struct{}, linkWords []string, matched map[string]struct{}) (float64, string) {
	best, bestItem := 0.0, ""
	for _, item := range items {
		stems := stemSet(words(item))
		if len(stems) == 0 {
			continue
		}
		hits := 0
		for s := range stems {
			if _, ok := linkStems[s]; ok {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		for _, w := range linkWords {
			if _, ok := stems[stem(w)]; ok {
				matched[w] = struct{}{}
			}
		}
		if f := float64(hits) / float64(len(stems)); f > best {
			best, bestItem = f, item
		}
	}
	return best, bestItem
}

func coverage(item string, pageStems map[string]struct{}) float64 {
	stems := stemSet(words(item))
	if len(stems) == 0 {
		return 0
	}
	hits := 0
	for s := range stems {
		if _, ok := pageStems[s]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(stems))
}

func itemFraction(items []string, pageStems map[string]struct{}) float64 {
	counted, covered := 0, 0
	for _, item := range items {
		if len(stemSet(words(item))) == 0 {
			continue
		}
		counted++
		if coverage(item, pageStems) >= 0.5 {
			covered++
		}
	}
	if counted == 0 {
		return 0
	}
	return float64(covered) / float64(counted)
}

// isRepetitive reports whether the anchor promises content that an earlier
// page summary already covered.
func isRepetitive(link schemas.Link, mem *Memory) bool {
	anchor := stemSet(words(link.Text + " " + pathWords(link.URL)))
	if len(anchor) < minRepetitionWords {
		return false
	}
	for _, summary := range mem.Summaries() {
		seen := stemSet(words(summary))
		hits := 0
		for s := range anchor {
			if _, ok := seen[s]; ok {
				hits++
			}
		}
		if float64(hits)/float64(len(anchor)) >= repetitionOverlap {
			return true
		}
	}
	return false
}

func jargonCount(ws []string) int {
	n := 0
	seen := make(map[string]struct{})
	for _, w := range ws {
		if _, ok := jargon[w]; !ok {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		n++
	}
	return n
}

func hasBeginnerMarker(s string) bool {
	s = strings.ToLower(s)
	for _, m := range beginnerMarkers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// words lower-cases s and splits it into alphanumeric tokens, dropping
// stopwords and tokens shorter than three characters.
func words(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) < 3 {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}

func pathWords(raw string) string {
	if i := strings.Index(raw, "://"); i >= 0 {
		raw = raw[i+3:]
		if j := strings.IndexByte(raw, '/'); j >= 0 {
			raw = raw[j:]
		} else {
			raw = ""
		}
	}
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		raw = raw[:i]
	}
	return raw
}

var suffixes = []string{"ing", "ed", "es", "s", "e"}

// stem strips one common English suffix so that "pricing", "prices" and
// "price" share a token.
func stem(w string) string {
	for _, suf := range suffixes {
		if strings.HasSuffix(w, suf) && len(w)-len(suf) >= 3 {
			return w[:len(w)-len(suf)]
		}
	}
	return w
}

func stemSet(ws []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ws))
	for _, w := range ws {
		set[stem(w)] = struct{}{}
	}
	return set
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
