// internal/browser/extract.go
package browser

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/focusgroup/api/schemas"
)

const (
	maxLinkContext = 160
	maxSectionText = 4000
)

// challengeIndicator pairs an XPath expression with the name reported when it matches.
type challengeIndicator struct {
	name  string
	xpath string
}

var challengeIndicators = []challengeIndicator{
	{"verification heading", "//h1[contains(text(), 'Verify you are human')]"},
	{"challenge iframe", "//iframe[contains(@src, 'challenges.cloudflare.com')]"},
	{"security review text", "//*[contains(text(), 'needs to review the security of your connection')]"},
	{"captcha input", "//input[@name='cf_captcha']"},
	{"#challenge-running", "//*[@id='challenge-running']"},
	{".cf-browser-verification", "//*[contains(concat(' ', normalize-space(@class), ' '), ' cf-browser-verification ')]"},
}

var challengeTitlePhrases = []string{"security check", "cloudflare", "ddos protection"}

// Elements whose text never reaches the visitor.
var invisibleTags = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
	"svg":      true,
	"head":     true,
}

// Extract parses a rendered document into a PageObservation. pageURL is the
// address the document was served from and is used to resolve relative links.
// The returned indicator is non-empty when the page is a bot challenge.
func Extract(source, pageURL string) (*schemas.PageObservation, string, error) {
	doc, err := htmlquery.Parse(strings.NewReader(source))
	if err != nil {
		return nil, "", fmt.Errorf("failed to parse document: %w", err)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, "", fmt.Errorf("invalid page url %q: %w", pageURL, err)
	}
	if n := htmlquery.FindOne(doc, "//head/base[@href]"); n != nil {
		if b, err := base.Parse(htmlquery.SelectAttr(n, "href")); err == nil {
			base = b
		}
	}

	title := ""
	if n := htmlquery.FindOne(doc, "//title"); n != nil {
		title = collapse(htmlquery.InnerText(n))
	}

	obs := &schemas.PageObservation{
		URL:      pageURL,
		Title:    title,
		Sections: sections(doc),
		Links:    links(doc, base),
	}
	if body := htmlquery.FindOne(doc, "//body"); body != nil {
		obs.Text = visibleText(body, nil)
	}
	obs.VisualNotes = visualNotes(doc)

	indicator := DetectChallenge(doc, title)
	obs.BotChallenge = indicator != ""
	return obs, indicator, nil
}

// DetectChallenge reports the first bot-challenge indicator present in doc or
// its title, or "" when the page looks like ordinary content.
func DetectChallenge(doc *html.Node, title string) string {
	for _, ind := range challengeIndicators {
		if htmlquery.FindOne(doc, ind.xpath) != nil {
			return ind.name
		}
	}
	return DetectTitle(title)
}

// DetectTitle reports a challenge phrase in a page title.
func DetectTitle(title string) string {
	lower := strings.ToLower(title)
	for _, phrase := range challengeTitlePhrases {
		if strings.Contains(lower, phrase) {
			return fmt.Sprintf("title mentions %q", phrase)
		}
	}
	return ""
}

// -- Sections --

func sections(doc *html.Node) map[string]string {
	out := make(map[string]string, 4)

	var headings []string
	for _, n := range htmlquery.Find(doc, "//body//*[self::h1 or self::h2 or self::h3]") {
		if t := collapse(htmlquery.InnerText(n)); t != "" {
			headings = append(headings, t)
		}
	}
	if len(headings) > 0 {
		out[schemas.SectionHeaders] = clip(strings.Join(headings, "\n"), maxSectionText)
	}

	var main string
	if n := htmlquery.FindOne(doc, "//main"); n != nil {
		main = visibleText(n, nil)
	} else if n := htmlquery.FindOne(doc, "//article"); n != nil {
		main = visibleText(n, nil)
	} else if body := htmlquery.FindOne(doc, "//body"); body != nil {
		main = visibleText(body, map[string]bool{"nav": true, "header": true, "footer": true})
	}
	if main != "" {
		out[schemas.SectionMain] = clip(main, maxSectionText)
	}

	if t := joinText(htmlquery.Find(doc, "//nav")); t != "" {
		out[schemas.SectionNav] = clip(t, maxSectionText)
	}
	if t := joinText(htmlquery.Find(doc, "//footer")); t != "" {
		out[schemas.SectionFooter] = clip(t, maxSectionText)
	}
	return out
}

func joinText(nodes []*html.Node) string {
	var parts []string
	for _, n := range nodes {
		if t := visibleText(n, nil); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n")
}

// visibleText renders the text of n the way a reader sees it, skipping
// hidden subtrees and any element named in skip.
func visibleText(n *html.Node, skip map[string]bool) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if t := collapse(n.Data); t != "" {
				if b.Len() > 0 {
					b.WriteByte(' ')
				}
				b.WriteString(t)
			}
			return
		case html.ElementNode:
			if invisibleTags[n.Data] || skip[n.Data] || hidden(n) {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func hidden(n *html.Node) bool {
	for _, a := range n.Attr {
		switch a.Key {
		case "hidden":
			return true
		case "aria-hidden":
			if a.Val == "true" {
				return true
			}
		case "style":
			s := strings.ReplaceAll(strings.ToLower(a.Val), " ", "")
			if strings.Contains(s, "display:none") || strings.Contains(s, "visibility:hidden") {
				return true
			}
		}
	}
	return false
}

// -- Links --

func links(doc *html.Node, base *url.URL) []schemas.Link {
	var out []schemas.Link
	index := make(map[string]int)
	for _, a := range htmlquery.Find(doc, "//a[@href]") {
		if hiddenAncestor(a) {
			continue
		}
		href := strings.TrimSpace(htmlquery.SelectAttr(a, "href"))
		if href == "" || strings.HasPrefix(href, "#") {
			continue
		}
		u, err := base.Parse(href)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			continue
		}
		u.Fragment = ""
		abs := u.String()

		text := anchorText(a)
		if i, ok := index[abs]; ok {
			if out[i].Text == "" {
				out[i].Text = text
			}
			continue
		}
		index[abs] = len(out)
		out = append(out, schemas.Link{URL: abs, Text: text, Context: linkContext(a, text)})
	}
	return out
}

func anchorText(a *html.Node) string {
	if t := visibleText(a, nil); t != "" {
		return t
	}
	for _, attr := range []string{"aria-label", "title"} {
		if v := collapse(htmlquery.SelectAttr(a, attr)); v != "" {
			return v
		}
	}
	if img := htmlquery.FindOne(a, ".//img[@alt]"); img != nil {
		return collapse(htmlquery.SelectAttr(img, "alt"))
	}
	return ""
}

var blockTags = map[string]bool{
	"p": true, "li": true, "section": true, "article": true, "div": true,
	"td": true, "nav": true, "header": true, "footer": true, "aside": true,
}

// linkContext is the text of the nearest enclosing block, minus the anchor's own text.
func linkContext(a *html.Node, text string) string {
	for p := a.Parent; p != nil; p = p.Parent {
		if p.Type != html.ElementNode || !blockTags[p.Data] {
			continue
		}
		ctx := visibleText(p, nil)
		ctx = collapse(strings.Replace(ctx, text, "", 1))
		return clip(ctx, maxLinkContext)
	}
	return ""
}

func hiddenAncestor(n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && (hidden(p) || invisibleTags[p.Data]) {
			return true
		}
	}
	return false
}

// -- Visual notes --

func visualNotes(doc *html.Node) []string {
	var notes []string
	if htmlquery.FindOne(doc, "//body//h1") == nil {
		notes = append(notes, "No primary heading")
	}
	images := htmlquery.Find(doc, "//body//img")
	if len(images) > 0 {
		missing := 0
		for _, img := range images {
			if strings.TrimSpace(htmlquery.SelectAttr(img, "alt")) == "" {
				missing++
			}
		}
		notes = append(notes, fmt.Sprintf("%d images", len(images)))
		if missing > 0 {
			notes = append(notes, fmt.Sprintf("%d images lack alt text", missing))
		}
	}
	if forms := htmlquery.Find(doc, "//body//form"); len(forms) > 0 {
		notes = append(notes, fmt.Sprintf("%d forms", len(forms)))
	}
	if buttons := htmlquery.Find(doc, "//body//*[self::button or @role='button' or (self::input and (@type='submit' or @type='button'))]"); len(buttons) > 0 {
		notes = append(notes, fmt.Sprintf("%d buttons", len(buttons)))
	}
	if htmlquery.FindOne(doc, "//body//video | //body//iframe[contains(@src, 'youtube') or contains(@src, 'vimeo')]") != nil {
		notes = append(notes, "Embedded video")
	}
	return notes
}

// -- Text helpers --

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n])) + "..."
}
