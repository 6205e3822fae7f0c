package detector

import (
	"bytes"
	"net/http"
	"strings"
)

// BotCheck inspects a page for a bot-protection challenge and names the vendor.
type BotCheck func(page Page) (detected bool, vendor string)

// DefaultBotChecks returns the standard vendor signatures.
func DefaultBotChecks() []BotCheck {
	return []BotCheck{
		detectCloudflare,
		detectAkamai,
		detectDataDome,
		detectPerimeterX,
	}
}

// Blocked runs the default checks and reports the first vendor detected.
func Blocked(page Page) (bool, string) {
	for _, check := range DefaultBotChecks() {
		if detected, vendor := check(page); detected {
			return true, vendor
		}
	}
	return false, ""
}

func header(h http.Header, key string) string {
	if h == nil {
		return ""
	}
	return h.Get(key)
}

func detectCloudflare(page Page) (bool, string) {
	if page.StatusCode != http.StatusForbidden && page.StatusCode != http.StatusServiceUnavailable {
		return false, ""
	}
	if strings.Contains(strings.ToLower(header(page.Headers, "Server")), "cloudflare") {
		return true, "cloudflare"
	}
	if header(page.Headers, "Cf-Mitigated") != "" {
		return true, "cloudflare"
	}
	if bytes.Contains(page.Body, []byte("cf-browser-verification")) ||
		bytes.Contains(page.Body, []byte("cf-turnstile")) ||
		bytes.Contains(page.Body, []byte("Attention Required! | Cloudflare")) {
		return true, "cloudflare"
	}
	return false, ""
}

func detectAkamai(page Page) (bool, string) {
	if page.StatusCode != http.StatusForbidden {
		return false, ""
	}
	if strings.Contains(strings.ToLower(header(page.Headers, "Server")), "akamai") {
		return true, "akamai"
	}
	if bytes.Contains(page.Body, []byte("Reference #")) && bytes.Contains(page.Body, []byte("Access Denied")) {
		return true, "akamai"
	}
	return false, ""
}

func detectDataDome(page Page) (bool, string) {
	if page.StatusCode != http.StatusForbidden {
		return false, ""
	}
	if strings.Contains(strings.ToLower(header(page.Headers, "Server")), "datadome") ||
		header(page.Headers, "X-DataDome") != "" ||
		header(page.Headers, "X-DataDome-Response") != "" {
		return true, "datadome"
	}
	if bytes.Contains(page.Body, []byte("geo.captcha-delivery.com")) {
		return true, "datadome"
	}
	return false, ""
}

func detectPerimeterX(page Page) (bool, string) {
	if page.StatusCode != http.StatusForbidden {
		return false, ""
	}
	if header(page.Headers, "X-Px-Captcha") != "" {
		return true, "perimeterx"
	}
	if bytes.Contains(page.Body, []byte("client.perimeterx.net")) ||
		bytes.Contains(page.Body, []byte("px-captcha")) ||
		bytes.Contains(page.Body, []byte("_pxBlock")) {
		return true, "perimeterx"
	}
	return false, ""
}
