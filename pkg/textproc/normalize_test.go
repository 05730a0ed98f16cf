package textproc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeLineEndings(t *testing.T) {
	assert.Equal(t, "a\nb\nc", Normalize("a\r\nb\rc"))
}

func TestNormalizeCollapsesWhitespace(t *testing.T) {
	assert.Equal(t, "hello world", Normalize("hello   \t  world"))
}

func TestNormalizeCapsBlankLines(t *testing.T) {
	assert.Equal(t, "a\n\nb", Normalize("a\n\n\n\n\nb"))
}

func TestNormalizeStripsControlChars(t *testing.T) {
	assert.Equal(t, "ab", Normalize("a\x00\x08b"))
	assert.Equal(t, "ab", Normalize("a\x7fb"))
}

func TestNormalizeKeepsUnicode(t *testing.T) {
	assert.Equal(t, "héllo wörld — ok", Normalize("héllo  wörld — ok"))
}

func TestNormalizeEmptyInput(t *testing.T) {
	assert.Equal(t, "", Normalize(""))
	assert.Equal(t, "", Normalize("   \n\t  \r\n "))
}

func TestHTMLToText(t *testing.T) {
	html := `<html><head><style>p{color:red}</style></head><body>
		<p>First paragraph.</p>
		<div>Second   line</div>
		<script>alert("x")</script>
	</body></html>`

	text := HTMLToText(html)
	assert.Contains(t, text, "First paragraph.")
	assert.Contains(t, text, "Second line")
	assert.NotContains(t, text, "alert")
	assert.NotContains(t, text, "color:red")
}

func TestHTMLToTextEmpty(t *testing.T) {
	assert.Equal(t, "", HTMLToText(""))
}
