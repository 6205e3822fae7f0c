package reducer

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const noiseSelector = "script, style, noscript, template, svg, iframe, nav, header, footer, form, button"

const blockSelector = "p, div, li, ul, ol, h1, h2, h3, h4, h5, h6, br, tr, section, article, main, aside, blockquote, pre, dd, dt"

// Class and id words that mark advertising, cross-promotion and overlays.
var noiseWords = map[string]struct{}{
	"ad": {}, "ads": {}, "advert": {}, "advertisement": {}, "advertising": {}, "promo": {},
	"promoted": {}, "sponsor": {}, "sponsored": {}, "recommendation": {}, "recommendations": {},
	"recommended": {}, "suggestion": {}, "suggestions": {}, "similar": {}, "related": {},
	"sidebar": {}, "widget": {}, "cookie": {}, "cookies": {}, "consent": {}, "gdpr": {},
	"newsletter": {}, "subscribe": {}, "popup": {}, "modal": {}, "overlay": {}, "banner": {},
	"share": {}, "social": {}, "breadcrumb": {}, "breadcrumbs": {},
}

// Section containers recognized on profile pages, in output order.
var profileSections = []struct {
	label string
	words []string
}{
	{"ABOUT", []string{"about", "summary"}},
	{"EXPERIENCE", []string{"experience"}},
	{"EDUCATION", []string{"education"}},
	{"ACTIVITY", []string{"activity", "posts"}},
}

// fromMarkup turns an HTML document into block-per-line text with page
// chrome removed. Profile pages keep only their recognized sections when any
// are present.
func fromMarkup(raw string, profile bool) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return raw
	}
	doc.Find(noiseSelector).Remove()
	doc.Find("[class], [id]").Each(func(_ int, s *goquery.Selection) {
		if isNoiseElement(s) {
			s.Remove()
		}
	})
	doc.Find(blockSelector).Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	if profile {
		if text := profileSectionText(doc); text != "" {
			return text
		}
	}
	return mainContent(doc).Text()
}

func mainContent(doc *goquery.Document) *goquery.Selection {
	for _, sel := range []string{"main", "article", "body"} {
		if found := doc.Find(sel).First(); found.Length() > 0 {
			return found
		}
	}
	return doc.Selection
}

func isNoiseElement(s *goquery.Selection) bool {
	if goquery.NodeName(s) == "body" || goquery.NodeName(s) == "html" {
		return false
	}
	class, _ := s.Attr("class")
	id, _ := s.Attr("id")
	for _, word := range attrWords(class + " " + id) {
		if _, ok := noiseWords[word]; ok {
			return true
		}
	}
	return false
}

// attrWords splits class and id values on whitespace, dashes and underscores so
// that "ad-slot" matches "ad" while "header" does not.
func attrWords(value string) []string {
	return strings.FieldsFunc(strings.ToLower(value), func(r rune) bool {
		return r == ' ' || r == '-' || r == '_' || r == '\t' || r == '\n'
	})
}

func profileSectionText(doc *goquery.Document) string {
	parts := make([]string, 0, len(profileSections))
	for _, section := range profileSections {
		var texts []string
		doc.Find("section, div").Each(func(_ int, s *goquery.Selection) {
			if !matchesSection(s, section.words) || hasMatchingAncestor(s, section.words) {
				return
			}
			if text := strings.TrimSpace(s.Text()); text != "" {
				texts = append(texts, text)
			}
		})
		if section.label == "ACTIVITY" {
			doc.Find(`a[href*="/recent-activity/"], a[href*="/posts/"]`).Each(func(_ int, s *goquery.Selection) {
				if text := strings.TrimSpace(s.Text()); text != "" {
					texts = append(texts, text)
				}
			})
		}
		if len(texts) > 0 {
			parts = append(parts, section.label+":\n"+strings.Join(texts, "\n"))
		}
	}
	return strings.Join(parts, sectionSeparator)
}

func matchesSection(s *goquery.Selection, words []string) bool {
	class, _ := s.Attr("class")
	id, _ := s.Attr("id")
	for _, w := range attrWords(class + " " + id) {
		for _, want := range words {
			if w == want {
				return true
			}
		}
	}
	return false
}

func hasMatchingAncestor(s *goquery.Selection, words []string) bool {
	matched := false
	s.ParentsFiltered("section, div").EachWithBreak(func(_ int, p *goquery.Selection) bool {
		matched = matchesSection(p, words)
		return !matched
	})
	return matched
}
