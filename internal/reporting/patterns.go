// internal/reporting/patterns.go
package reporting

import (
	"sort"
	"strings"

	"github.com/xkilldash9x/focusgroup/api/schemas"
)

// maxPatterns caps every ranked insight list.
const maxPatterns = 5

// counter counts how many personas raised an insight. Each persona counts
// once per insight no matter how many pages repeat it.
type counter struct {
	counts map[string]int
	first  map[string]int
	text   map[string]string
	next   int
}

func newCounter() *counter {
	return &counter{counts: map[string]int{}, first: map[string]int{}, text: map[string]string{}}
}

// addPersona records the distinct insights of one persona.
func (c *counter) addPersona(items []string) {
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		key := insightKey(it)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if _, known := c.first[key]; !known {
			c.first[key] = c.next
			c.text[key] = strings.TrimSpace(it)
			c.next++
		}
		c.counts[key]++
	}
}

// top returns up to n insights by persona count; ties keep first-seen order.
func (c *counter) top(n int) []schemas.InsightCount {
	keys := make([]string, 0, len(c.counts))
	for k := range c.counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if c.counts[keys[i]] != c.counts[keys[j]] {
			return c.counts[keys[i]] > c.counts[keys[j]]
		}
		return c.first[keys[i]] < c.first[keys[j]]
	})
	if n > 0 && len(keys) > n {
		keys = keys[:n]
	}
	out := make([]schemas.InsightCount, len(keys))
	for i, k := range keys {
		out[i] = schemas.InsightCount{Text: c.text[k], Count: c.counts[k]}
	}
	return out
}

func insightKey(s string) string {
	s = strings.ToLower(strings.Join(strings.Fields(s), " "))
	return strings.TrimRight(s, ".!;:,")
}

// commonPatterns ranks likes, dislikes and expectations across personas.
func commonPatterns(reports []schemas.PersonaReport) schemas.CommonPatterns {
	likes, dislikes, expectations := newCounter(), newCounter(), newCounter()
	for _, r := range reports {
		var l, d, e []string
		for _, p := range r.Pages {
			l = append(l, p.Likes...)
			d = append(d, p.Dislikes...)
			e = append(e, p.NextExpectations...)
		}
		likes.addPersona(l)
		dislikes.addPersona(d)
		expectations.addPersona(e)
	}
	return schemas.CommonPatterns{
		Likes:        likes.top(maxPatterns),
		Dislikes:     dislikes.top(maxPatterns),
		Expectations: expectations.top(maxPatterns),
	}
}

// topInsights ranks every qualitative insight across personas.
func topInsights(reports []schemas.PersonaReport) []schemas.InsightCount {
	c := newCounter()
	for _, r := range reports {
		var all []string
		for _, p := range r.Pages {
			all = append(all, p.Likes...)
			all = append(all, p.Dislikes...)
			all = append(all, p.ClickReasons...)
			all = append(all, p.NextExpectations...)
		}
		c.addPersona(all)
	}
	return c.top(maxPatterns)
}
