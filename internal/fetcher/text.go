package fetcher

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ExtractText returns the readable text of an HTML or plain-text body, one
// block per line with inline whitespace collapsed.
func ExtractText(body []byte, contentType string) string {
	if len(bytes.TrimSpace(body)) == 0 {
		return ""
	}
	if ct := strings.ToLower(contentType); ct != "" && !strings.Contains(ct, "html") {
		return strings.TrimSpace(string(body))
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return strings.TrimSpace(string(body))
	}
	doc.Find("script, style, noscript, template, svg, iframe").Remove()
	doc.Find("p, div, li, h1, h2, h3, h4, h5, h6, br, tr, section, article").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})
	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}
	lines := strings.Split(root.Text(), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
