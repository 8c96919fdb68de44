package browser

import (
	"strings"
	"testing"

	"github.com/antchfx/htmlquery"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/focusgroup/api/schemas"
)

const productPage = `<!DOCTYPE html>
<html>
<head>
  <title> Acme Analytics | Pricing </title>
  <script>var tracking = "should not appear";</script>
</head>
<body>
  <header><a href="/">Acme</a></header>
  <nav>
    <a href="/features">Features</a>
    <a href="/pricing#plans">Pricing</a>
    <a href="https://blog.acme.test/">Blog</a>
  </nav>
  <main>
    <h1>Simple pricing for growing teams</h1>
    <p>Start free, then pay as you grow. <a href="/signup">Start your trial</a> today.</p>
    <h2>Plans</h2>
    <ul>
      <li><a href="plans/team">Team plan</a> for up to 10 seats</li>
      <li><a href="/features"></a></li>
      <li><a href="mailto:sales@acme.test">Email sales</a></li>
      <li><a href="#faq">FAQ</a></li>
      <li><a href="javascript:void(0)">Chat</a></li>
      <li><a href="/enterprise" aria-label="Enterprise plan"><img src="e.png"></a></li>
    </ul>
    <div style="display: none"><a href="/hidden">Secret</a> hidden promo</div>
    <form><input type="submit" value="Subscribe"></form>
    <img src="chart.png" alt="Usage chart">
  </main>
  <footer>Copyright Acme <a href="/privacy">Privacy</a></footer>
</body>
</html>`

func TestExtract_ProductPage(t *testing.T) {
	obs, indicator, err := Extract(productPage, "https://acme.test/pricing/")
	require.NoError(t, err)
	assert.Empty(t, indicator)
	assert.False(t, obs.BotChallenge)
	assert.Equal(t, "Acme Analytics | Pricing", obs.Title)
	assert.Equal(t, "https://acme.test/pricing/", obs.URL)

	assert.Equal(t, "Simple pricing for growing teams\nPlans", obs.Sections[schemas.SectionHeaders])
	assert.Contains(t, obs.Sections[schemas.SectionMain], "Start free, then pay as you grow.")
	assert.NotContains(t, obs.Sections[schemas.SectionMain], "hidden promo")
	assert.Equal(t, "Features Pricing Blog", obs.Sections[schemas.SectionNav])
	assert.Equal(t, "Copyright Acme Privacy", obs.Sections[schemas.SectionFooter])
	assert.NotContains(t, obs.Text, "should not appear")

	var urls []string
	for _, l := range obs.Links {
		urls = append(urls, l.URL)
	}
	want := []string{
		"https://acme.test/",
		"https://acme.test/features",
		"https://acme.test/pricing",
		"https://blog.acme.test/",
		"https://acme.test/signup",
		"https://acme.test/pricing/plans/team",
		"https://acme.test/enterprise",
		"https://acme.test/privacy",
	}
	if diff := cmp.Diff(want, urls); diff != "" {
		t.Errorf("links mismatch (-want +got):\n%s", diff)
	}

	byURL := make(map[string]schemas.Link)
	for _, l := range obs.Links {
		byURL[l.URL] = l
	}
	assert.Equal(t, "Features", byURL["https://acme.test/features"].Text, "first non-empty text wins")
	assert.Equal(t, "Enterprise plan", byURL["https://acme.test/enterprise"].Text)
	assert.Equal(t, "Start your trial", byURL["https://acme.test/signup"].Text)
	assert.Equal(t, "Start free, then pay as you grow. today.", byURL["https://acme.test/signup"].Context)
	assert.Equal(t, "for up to 10 seats", byURL["https://acme.test/pricing/plans/team"].Context)

	assert.Equal(t, []string{"2 images", "1 images lack alt text", "1 forms", "1 buttons"}, obs.VisualNotes)
}

func TestExtract_BaseHref(t *testing.T) {
	src := `<html><head><base href="https://cdn.acme.test/docs/"></head>
<body><h1>Docs</h1><a href="intro">Intro</a></body></html>`
	obs, _, err := Extract(src, "https://acme.test/help")
	require.NoError(t, err)
	require.Len(t, obs.Links, 1)
	assert.Equal(t, "https://cdn.acme.test/docs/intro", obs.Links[0].URL)
	assert.NotContains(t, obs.VisualNotes, "No primary heading")
}

func TestExtract_Errors(t *testing.T) {
	_, _, err := Extract("<html></html>", "://bad")
	assert.ErrorContains(t, err, "invalid page url")
}

func TestExtract_EmptyDocument(t *testing.T) {
	obs, indicator, err := Extract("", "https://acme.test/")
	require.NoError(t, err)
	assert.Empty(t, indicator)
	assert.Empty(t, obs.Links)
	assert.Empty(t, obs.Text)
	assert.Equal(t, []string{"No primary heading"}, obs.VisualNotes)
}

func TestDetectChallenge(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{"heading", `<html><body><h1>Verify you are human</h1></body></html>`, "verification heading"},
		{"iframe", `<html><body><iframe src="https://challenges.cloudflare.com/turnstile"></iframe></body></html>`, "challenge iframe"},
		{"review text", `<html><body><p>acme.test needs to review the security of your connection before proceeding.</p></body></html>`, "security review text"},
		{"captcha input", `<html><body><form><input name="cf_captcha"></form></body></html>`, "captcha input"},
		{"challenge running", `<html><body><div id="challenge-running"></div></body></html>`, "#challenge-running"},
		{"verification class", `<html><body><div class="main cf-browser-verification cf-im-under-attack"></div></body></html>`, ".cf-browser-verification"},
		{"title", `<html><head><title>Just a moment... DDoS Protection</title></head><body></body></html>`, `title mentions "ddos protection"`},
		{"clean", `<html><head><title>Security tips for teams</title></head><body><h1>Verify your email</h1><div class="cf-browser"></div></body></html>`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := htmlquery.Parse(strings.NewReader(tt.html))
			require.NoError(t, err)
			title := ""
			if n := htmlquery.FindOne(doc, "//title"); n != nil {
				title = htmlquery.InnerText(n)
			}
			assert.Equal(t, tt.want, DetectChallenge(doc, title))

			obs, indicator, err := Extract(tt.html, "https://acme.test/")
			require.NoError(t, err)
			assert.Equal(t, tt.want, indicator)
			assert.Equal(t, tt.want != "", obs.BotChallenge)
		})
	}
}

func TestDetectTitle(t *testing.T) {
	assert.Equal(t, `title mentions "security check"`, DetectTitle("Security Check Required"))
	assert.Equal(t, `title mentions "cloudflare"`, DetectTitle("Attention Required! | Cloudflare"))
	assert.Empty(t, DetectTitle("Pricing"))
}

func TestClip(t *testing.T) {
	assert.Equal(t, "short", clip("short", 10))
	assert.Equal(t, "abc...", clip("abc def", 4))
}

func FuzzExtract(f *testing.F) {
	f.Add(productPage, "https://acme.test/")
	f.Add(`<a href="//x">`, "http://a/b")
	f.Fuzz(func(t *testing.T, src, pageURL string) {
		obs, _, err := Extract(src, pageURL)
		if err != nil {
			return
		}
		for _, l := range obs.Links {
			if !strings.HasPrefix(l.URL, "http://") && !strings.HasPrefix(l.URL, "https://") {
				t.Fatalf("non-http link extracted: %q", l.URL)
			}
		}
	})
}
