// internal/navigation/urls.go
package navigation

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Normalize resolves raw against base (when raw is relative) and returns the
// canonical form used as the identity of a page: http(s) only, lower-cased
// host, default port and fragment removed, trailing slash trimmed.
func Normalize(raw, base string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty url")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if !u.IsAbs() && base != "" {
		b, err := url.Parse(base)
		if err != nil {
			return "", fmt.Errorf("invalid base url %q: %w", base, err)
		}
		u = b.ResolveReference(u)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme in %q", raw)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("url %q has no host", raw)
	}

	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	switch {
	case port != "":
		host = net.JoinHostPort(host, port)
	case strings.Contains(host, ":"):
		host = "[" + host + "]"
	}
	u.Host = host
	u.User = nil
	u.Fragment = ""
	u.RawFragment = ""

	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	if u.Path == "" {
		u.Path = "/"
	}
	if u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	}
	u.ForceQuery = false
	return u.String(), nil
}

// SameSite reports whether two URLs share a host, ignoring a leading "www.".
func SameSite(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil {
		return false
	}
	return siteHost(ua) == siteHost(ub)
}

func siteHost(u *url.URL) string {
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// SamePage reports whether two URLs name the same page once normalized.
func SamePage(a, b string) bool {
	na, err := Normalize(a, "")
	if err != nil {
		return false
	}
	nb, err := Normalize(b, "")
	if err != nil {
		return false
	}
	return na == nb
}

// slug lower-cases s and joins its alphanumeric runs with single hyphens,
// wrapped in hyphens so that whole-word matching is a substring check.
func slug(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('-')
	last := byte('-')
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			last = 0
			continue
		}
		if last != '-' {
			b.WriteByte('-')
			last = '-'
		}
	}
	if last != '-' {
		b.WriteByte('-')
	}
	return b.String()
}

// Denylist matches links to low-value administrative pages.
type Denylist struct {
	entries []string
}

// NewDenylist builds a Denylist from keywords such as "login" or "sign-in".
func NewDenylist(keywords []string) *Denylist {
	d := &Denylist{}
	for _, k := range keywords {
		if s := slug(k); s != "-" {
			d.entries = append(d.entries, s)
		}
	}
	return d
}

// Match returns every keyword matched by the link's path segments or anchor
// text, in denylist order. A nil result means the link is not denylisted.
func (d *Denylist) Match(link, text string) []string {
	if d == nil {
		return nil
	}
	var haystacks []string
	if u, err := url.Parse(link); err == nil {
		for _, seg := range strings.Split(u.Path, "/") {
			if seg != "" {
				haystacks = append(haystacks, slug(seg))
			}
		}
	}
	if t := strings.TrimSpace(text); t != "" {
		haystacks = append(haystacks, slug(t))
	}
	var matched []string
	for _, entry := range d.entries {
		for _, h := range haystacks {
			if strings.Contains(h, entry) {
				matched = append(matched, strings.Trim(entry, "-"))
				break
			}
		}
	}
	return matched
}

// ExemptedBy reports whether any goal explicitly concerns one of keywords.
func ExemptedBy(keywords []string, goals []string) bool {
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		needle := slug(kw)
		for _, g := range goals {
			if strings.Contains(slug(g), needle) {
				return true
			}
		}
	}
	return false
}
