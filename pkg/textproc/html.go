package textproc

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Invisible Unicode characters (zero-width spaces etc.) that marketing mail
// loves to sprinkle into text.
var invisibleRegex = regexp.MustCompile(`[\x{200B}-\x{200D}\x{FEFF}\x{00AD}\x{2060}-\x{2064}\x{206A}-\x{206F}\x{FE00}-\x{FE0F}]+`)

// HTMLToText converts an HTML email body to clean plain text and normalizes
// it. On parse failure it falls back to a crude tag strip so the pipeline
// never loses a message over malformed markup.
func HTMLToText(html string) string {
	if html == "" {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Normalize(stripTags(html))
	}

	doc.Find("script, style, head, meta, link").Remove()

	// Block elements become line breaks so the text keeps its structure.
	doc.Find("p, div, br, h1, h2, h3, h4, h5, h6, li, tr").Each(func(i int, s *goquery.Selection) {
		s.PrependHtml("\n")
	})

	text := doc.Text()
	text = invisibleRegex.ReplaceAllString(text, "")

	lines := strings.Split(text, "\n")
	cleanLines := make([]string, 0, len(lines))
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			cleanLines = append(cleanLines, line)
		}
	}

	return Normalize(strings.Join(cleanLines, "\n"))
}

var tagRegex = regexp.MustCompile(`<[^>]*>`)

func stripTags(html string) string {
	text := tagRegex.ReplaceAllString(html, " ")
	text = strings.ReplaceAll(text, "&nbsp;", " ")
	text = strings.ReplaceAll(text, "&lt;", "<")
	text = strings.ReplaceAll(text, "&gt;", ">")
	text = strings.ReplaceAll(text, "&amp;", "&")
	text = strings.ReplaceAll(text, "&quot;", "\"")
	return text
}
