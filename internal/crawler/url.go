package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL standardizes a URL so the frontier and store can use it as an
// identity key. It lowercases the scheme and host, strips default ports and
// the fragment, sorts query parameters, and trims a trailing slash from
// non-root paths.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q is not absolute", rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""

	// url.Values.Encode sorts keys, giving canonical query ordering.
	u.RawQuery = u.Query().Encode()

	if len(u.Path) > 1 {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	return u.String(), nil
}

// SameHost reports whether two absolute URLs share a hostname.
func SameHost(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil {
		return false
	}
	return ua.Hostname() != "" && strings.EqualFold(ua.Hostname(), ub.Hostname())
}

// SectionOf derives the section and subsection from a URL path: first path
// segment is the section, second the subsection. The root path maps to the
// "home" section.
func SectionOf(rawURL string) (section, subsection string) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "home", ""
	}
	segments := make([]string, 0, 4)
	for _, part := range strings.Split(u.Path, "/") {
		if part != "" {
			segments = append(segments, part)
		}
	}
	if len(segments) == 0 {
		return "home", ""
	}
	section = segments[0]
	if len(segments) > 1 {
		subsection = segments[1]
	}
	return section, subsection
}
