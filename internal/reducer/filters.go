package reducer

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var boilerplatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(cookie policy|cookie settings|privacy policy|privacy notice|terms of (service|use)|terms and conditions|legal notice)\b`),
	regexp.MustCompile(`(?i)\b(we use cookies|this (site|website) uses cookies|accept (all )?cookies|manage cookies|cookie preferences)\b`),
	regexp.MustCompile(`(?i)\b(subscribe to our newsletter|sign up for our newsletter|join our mailing list|follow us on)\b`),
	regexp.MustCompile(`(?i)\b(share on (facebook|twitter|linkedin|x|whatsapp)|tweet this|pin it)\b`),
	regexp.MustCompile(`(?i)(©\s*\d{4}|\(c\)\s*\d{4}|\ball rights reserved\b|\bcopyright\s+(©\s*)?\d{4})`),
	regexp.MustCompile(`(?i)^(powered by|built with)\b`),
}

// "Home | About | Contact" style breadcrumb and menu trails.
var navTrail = regexp.MustCompile(`^([\p{L}\p{N} &'-]+\s*[|>•»]\s*){2,}[\p{L}\p{N} &'-]*$`)

var chromeWords = map[string]struct{}{
	"home": {}, "menu": {}, "search": {}, "login": {}, "log in": {}, "logout": {}, "log out": {},
	"sign in": {}, "sign up": {}, "register": {}, "contact": {}, "contact us": {}, "services": {},
	"products": {}, "back to top": {}, "skip to content": {}, "skip to main content": {},
	"read more": {}, "learn more": {}, "next": {}, "previous": {}, "close": {}, "accept": {},
	"decline": {}, "toggle navigation": {}, "open menu": {}, "share": {}, "print": {},
}

var profileChrome = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(sign in to view|join to view|see who you know|get introduced|report this (post|profile)|view profile)\b`),
	regexp.MustCompile(`(?i)\bsee all \d+ employees\b`),
	regexp.MustCompile(`(?i)^(show more|show less|see more|see less)$`),
	regexp.MustCompile(`(?i)^\d+\s+(reactions?|comments?|reposts?|followers?|connections?)$`),
	regexp.MustCompile(`(?i)^(like|comment|repost|share|send|connect|message|follow|save|more)$`),
}

var listItem = regexp.MustCompile(`^([-*•·–+]\s|\d{1,3}[.)]\s)`)

func isBoilerplate(line string) bool {
	for _, re := range boilerplatePatterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

func isNavTrail(line string) bool {
	return navTrail.MatchString(line)
}

func isProfileChrome(line string) bool {
	for _, re := range profileChrome {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// isShortChrome flags short lines that read as menu entries, buttons or
// decoration. List items and section markers are never chrome.
func (r *Reducer) isShortChrome(line string) bool {
	if utf8.RuneCountInString(line) >= r.cfg.MinLineChars {
		return false
	}
	if listItem.MatchString(line) || strings.HasPrefix(line, "#") || isSectionMarker(line) {
		return false
	}
	if _, ok := chromeWords[strings.ToLower(strings.Trim(line, " .:»>|"))]; ok {
		return true
	}
	return !strings.ContainsFunc(line, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsNumber(r)
	})
}
