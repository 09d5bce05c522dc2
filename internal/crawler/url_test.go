package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases scheme and host", "HTTPS://Example.COM/Docs", "https://example.com/Docs"},
		{"strips default https port", "https://example.com:443/a", "https://example.com/a"},
		{"strips default http port", "http://example.com:80/a", "http://example.com/a"},
		{"strips fragment", "https://example.com/a#section-2", "https://example.com/a"},
		{"sorts query parameters", "https://example.com/a?z=1&a=2", "https://example.com/a?a=2&z=1"},
		{"trims trailing slash", "https://example.com/docs/", "https://example.com/docs"},
		{"keeps root slash", "https://example.com/", "https://example.com/"},
		{"trims surrounding whitespace", "  https://example.com/a  ", "https://example.com/a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := NormalizeURL(tt.in)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeURLRejectsRelative(t *testing.T) {
	t.Parallel()

	_, err := NormalizeURL("/docs/a")
	require.Error(t, err)
}

func TestNormalizeURLIsIdempotent(t *testing.T) {
	t.Parallel()

	once, err := NormalizeURL("HTTPS://Example.com:443/docs/?b=2&a=1#top")
	require.NoError(t, err)
	twice, err := NormalizeURL(once)
	require.NoError(t, err)
	require.Equal(t, once, twice)
}

func TestSameHost(t *testing.T) {
	t.Parallel()

	require.True(t, SameHost("https://example.com/a", "https://EXAMPLE.com/b"))
	require.False(t, SameHost("https://example.com/a", "https://other.com/a"))
	require.False(t, SameHost("not a url at all\x7f", "https://example.com"))
}

func TestSectionOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		url        string
		section    string
		subsection string
	}{
		{"https://site/", "home", ""},
		{"https://site/docs", "docs", ""},
		{"https://site/docs/api", "docs", "api"},
		{"https://site/blog/2024/hello", "blog", "2024"},
	}
	for _, tt := range tests {
		section, subsection := SectionOf(tt.url)
		require.Equal(t, tt.section, section, tt.url)
		require.Equal(t, tt.subsection, subsection, tt.url)
	}
}
