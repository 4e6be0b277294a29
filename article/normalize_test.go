package article

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCanonicalURL verifies URL canonicalization
func TestCanonicalURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://Example.COM/a/b", "https://example.com/a/b"},
		{"http://example.com:80/a", "http://example.com/a"},
		{"https://example.com:8443/a", "https://example.com:8443/a"},
		{"https://example.com", "https://example.com/"},
		{"https://example.com/a#section", "https://example.com/a"},
		{"https://example.com/a?utm_source=rss&utm_medium=feed", "https://example.com/a"},
		{"https://example.com/a?id=7&fbclid=abc", "https://example.com/a?id=7"},
		{"https://example.com/a?b=2&a=1", "https://example.com/a?a=1&b=2"},
		{"  https://example.com/x  ", "https://example.com/x"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := CanonicalURL(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// TestCanonicalURL_Errors verifies invalid URLs are rejected
func TestCanonicalURL_Errors(t *testing.T) {
	for _, in := range []string{"", "example.com/a", "mailto:a@example.com", "https://", "http://[::1"} {
		_, err := CanonicalURL(in)
		assert.Error(t, err, in)
	}
}

// TestNormalizeTitle verifies CDATA, markup and whitespace handling
func TestNormalizeTitle(t *testing.T) {
	assert.Equal(t, "Hello World", NormalizeTitle("<![CDATA[Hello   World]]>"))
	assert.Equal(t, "Go & Rust", NormalizeTitle("Go &amp; Rust"))
	assert.Equal(t, "Bold move", NormalizeTitle("<b>Bold</b>\n move"))
	assert.Equal(t, "", NormalizeTitle(" \t\n "))
}

// TestHTMLToText verifies markup is stripped from summaries
func TestHTMLToText(t *testing.T) {
	assert.Equal(t, "", HTMLToText(""))
	assert.Equal(t, "plain text", HTMLToText("plain   text"))
	assert.Equal(t, "Read more", HTMLToText(`<a href="/x">Read <em>more</em></a><script>track()</script>`))
}
