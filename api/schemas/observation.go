package schemas

import "time"

// Link is a candidate outbound link found on a page.
type Link struct {
	URL     string `json:"url"`
	Text    string `json:"text"`
	Context string `json:"context,omitempty"` // Text surrounding the anchor.
}

// Well-known section identifiers produced by the extractor.
const (
	SectionHeaders = "headers"
	SectionMain    = "main"
	SectionNav     = "navigation"
	SectionFooter  = "footer"
)

// ScreenshotMIMEType is the encoding of PageObservation.Screenshot.
const ScreenshotMIMEType = "image/jpeg"

// PageObservation is the transient result of fetching and extracting one page.
// Only derived data outlives the loop iteration that produced it.
type PageObservation struct {
	URL          string            `json:"url"`
	FinalURL     string            `json:"final_url"`
	StatusCode   int               `json:"status_code"`
	Title        string            `json:"title"`
	Sections     map[string]string `json:"sections"`
	Text         string            `json:"text"`
	Links        []Link            `json:"links"`
	VisualNotes  []string          `json:"visual_notes,omitempty"`
	Screenshot   []byte            `json:"-"`
	BotChallenge bool              `json:"bot_challenge"`
	FetchedAt    time.Time         `json:"fetched_at"`
}

// EffectiveURL returns the post-redirect URL when known.
func (o *PageObservation) EffectiveURL() string {
	if o.FinalURL != "" {
		return o.FinalURL
	}
	return o.URL
}

// WaitStrategy selects the page-ready condition used by a fetch.
type WaitStrategy string

const (
	// WaitNetworkIdle waits until the network has been quiet. Strict.
	WaitNetworkIdle WaitStrategy = "networkidle"
	// WaitDOMContentLoaded waits only for the DOM to be parsed. Loose.
	WaitDOMContentLoaded WaitStrategy = "domcontentloaded"
)

// FetchOptions controls a single page fetch.
type FetchOptions struct {
	WaitStrategy WaitStrategy  `json:"wait_strategy"`
	Timeout      time.Duration `json:"timeout"`
	Screenshot   bool          `json:"screenshot"`
}
