package scrape

import (
	"net/http"
	"strings"
)

// Challenge names the kind of anti-bot interstitial a response carries.
type Challenge string

const (
	ChallengeNone       Challenge = ""
	ChallengeCloudflare Challenge = "cloudflare"
	ChallengeCaptcha    Challenge = "captcha"
	ChallengeJSShell    Challenge = "js_shell"
)

var cloudflareMarkers = []string{
	"checking your browser",
	"cf-browser-verification",
	"just a moment...",
	"attention required! | cloudflare",
}

var captchaMarkers = []string{"captcha", "recaptcha", "hcaptcha"}

// DetectChallenge inspects a response for signs of a bot wall. header may
// be nil when only the body is known, as with reader output.
func DetectChallenge(status int, header http.Header, body string) Challenge {
	if (status == http.StatusForbidden || status == http.StatusServiceUnavailable) && header != nil {
		if header.Get("cf-ray") != "" || strings.EqualFold(header.Get("server"), "cloudflare") {
			return ChallengeCloudflare
		}
	}

	lower := strings.ToLower(body)
	for _, m := range cloudflareMarkers {
		if strings.Contains(lower, m) {
			return ChallengeCloudflare
		}
	}
	for _, m := range captchaMarkers {
		if strings.Contains(lower, m) {
			return ChallengeCaptcha
		}
	}

	if len(body) < 2000 && strings.Contains(lower, "<noscript") && strings.Contains(lower, "enable javascript") {
		return ChallengeJSShell
	}
	return ChallengeNone
}
