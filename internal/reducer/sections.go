package reducer

import (
	"regexp"
	"strings"
)

const (
	sectionRule      = "=========="
	sectionSeparator = "\n\n" + sectionRule + "\n\n"
)

// Heading lines that open a kept profile section, with or without markdown
// hashes or a trailing colon.
var sectionHeading = regexp.MustCompile(`(?i)^#*\s*(about|summary|experience|education|activity|recent activity|posts|posts/activity)\s*:?$`)

// Headings that close a kept section without opening another.
var otherHeading = regexp.MustCompile(`(?i)^#*\s*(skills|languages|licenses( & certifications)?|certifications|volunteer( experience)?|honors( & awards)?|recommendations|interests|projects|publications|courses|organizations|people also viewed|more activity by .*|similar profiles|explore more posts)\s*:?$`)

func sectionLabel(heading string) string {
	name := strings.ToLower(strings.TrimSpace(strings.Trim(heading, "#: ")))
	switch name {
	case "about", "summary":
		return "ABOUT"
	case "experience":
		return "EXPERIENCE"
	case "education":
		return "EDUCATION"
	default:
		return "ACTIVITY"
	}
}

func isSectionMarker(line string) bool {
	return line == sectionRule || sectionHeading.MatchString(line)
}

// extractSections keeps the about, experience, education and activity parts
// of a profile page. Text without any recognized heading is returned whole.
func extractSections(text string) string {
	bodies := make(map[string][]string)
	current := ""
	found := false
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case sectionHeading.MatchString(trimmed):
			current = sectionLabel(trimmed)
			found = true
		case trimmed == sectionRule || otherHeading.MatchString(trimmed):
			current = ""
		case current != "" && trimmed != "":
			bodies[current] = append(bodies[current], trimmed)
		}
	}
	if !found {
		return text
	}
	parts := make([]string, 0, len(profileSections))
	for _, section := range profileSections {
		if lines := bodies[section.label]; len(lines) > 0 {
			parts = append(parts, section.label+":\n"+strings.Join(lines, "\n"))
		}
	}
	if len(parts) == 0 {
		return text
	}
	return strings.Join(parts, sectionSeparator)
}
