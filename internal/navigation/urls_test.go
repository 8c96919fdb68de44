package navigation

import (
	"strings"
	"testing"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/focusgroup/internal/config"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		base string
		want string
	}{
		{"lowercases host and drops default port and fragment", "https://Example.COM:443/Pricing/#plans", "", "https://example.com/Pricing"},
		{"resolves relative and sorts query", "/pricing?b=2&a=1", "https://example.com/home", "https://example.com/pricing?a=1&b=2"},
		{"fragment only is the base page", "#top", "https://example.com/page", "https://example.com/page"},
		{"empty path becomes root", "https://example.com", "", "https://example.com/"},
		{"http default port", "http://example.com:80/a/", "", "http://example.com/a"},
		{"keeps explicit port", "http://localhost:8080/x", "", "http://localhost:8080/x"},
		{"strips credentials", "https://user:pw@example.com/a", "", "https://example.com/a"},
		{"relative without slash", "docs/start", "https://example.com/product/", "https://example.com/product/docs/start"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.raw, tt.base)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalize_Rejects(t *testing.T) {
	for _, raw := range []string{"", "   ", "mailto:hi@example.com", "javascript:void(0)", "ftp://example.com/file", "https:///nohost", "tel:+123"} {
		_, err := Normalize(raw, "https://example.com/")
		assert.Error(t, err, raw)
	}
}

func TestSameSiteAndSamePage(t *testing.T) {
	assert.True(t, SameSite("https://www.example.com/a", "https://example.com/b"))
	assert.False(t, SameSite("https://blog.example.com/", "https://example.com/"))
	assert.False(t, SameSite("https://example.com/", "https://example.org/"))

	assert.True(t, SamePage("https://example.com/a#x", "https://EXAMPLE.com/a/"))
	assert.False(t, SamePage("https://example.com/a", "https://example.com/b"))
	assert.False(t, SamePage("notaurl", "notaurl"))
}

func TestDenylist(t *testing.T) {
	d := NewDenylist(config.DefaultDenylist)

	tests := []struct {
		url, text string
		want      []string
	}{
		{"https://x.test/login", "Log in", []string{"login", "log-in"}},
		{"https://x.test/legal/terms-of-service", "", []string{"terms", "legal"}},
		{"https://x.test/p", "Privacy Policy", []string{"privacy"}},
		{"https://x.test/auth/sign-in?next=/", "", []string{"sign-in"}},
		{"https://x.test/register", "Create account", []string{"register", "account"}},
		{"https://x.test/pricing", "Pricing", nil},
		{"https://x.test/blog/accountability-tips", "Accountability tips", nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, d.Match(tt.url, tt.text), tt.url)
	}

	var nilList *Denylist
	assert.Empty(t, nilList.Match("https://x.test/login", "Log in"))
}

func TestExemptedBy(t *testing.T) {
	assert.True(t, ExemptedBy([]string{"privacy"}, []string{"Review the privacy policy before signing up"}))
	assert.True(t, ExemptedBy([]string{"sign-in"}, []string{"Check the Sign in flow"}))
	assert.True(t, ExemptedBy([]string{"register", "account"}, []string{"Create an account to save invoices"}),
		"any matched keyword can exempt the link")
	assert.False(t, ExemptedBy([]string{"login"}, []string{"find pricing information"}))
	assert.False(t, ExemptedBy([]string{""}, []string{"anything"}))
	assert.False(t, ExemptedBy(nil, []string{"anything"}))
}

func FuzzNormalize(f *testing.F) {
	f.Add([]byte("https://example.com/a?b=1#c"))
	f.Add([]byte("/relative/path"))
	f.Fuzz(func(t *testing.T, data []byte) {
		consumer := fuzz.NewConsumer(data)
		var input struct {
			Raw  string
			Base string
		}
		if err := consumer.GenerateStruct(&input); err != nil {
			return
		}
		raw := input.Raw
		got, err := Normalize(raw, input.Base)
		if err != nil {
			return
		}
		if !strings.HasPrefix(got, "http://") && !strings.HasPrefix(got, "https://") {
			t.Fatalf("normalized %q to non-http url %q", raw, got)
		}
		if strings.Contains(got, "#") {
			t.Fatalf("normalized %q kept a fragment: %q", raw, got)
		}
	})
}
