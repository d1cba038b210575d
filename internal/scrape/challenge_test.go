package scrape

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectChallenge(t *testing.T) {
	tests := []struct {
		name   string
		status int
		header http.Header
		body   string
		want   Challenge
	}{
		{"cf-ray on 403", 403, http.Header{"Cf-Ray": {"abc"}}, "", ChallengeCloudflare},
		{"cloudflare server on 503", 503, http.Header{"Server": {"Cloudflare"}}, "", ChallengeCloudflare},
		{"cf header on 200 ignored", 200, http.Header{"Cf-Ray": {"abc"}}, "<p>fine</p>", ChallengeNone},
		{"browser check body", 200, nil, "<title>Just a moment...</title>", ChallengeCloudflare},
		{"captcha", 200, nil, "Please complete the reCAPTCHA", ChallengeCaptcha},
		{"js shell", 200, nil, "<noscript>Please enable JavaScript to view</noscript>", ChallengeJSShell},
		{"normal page", 200, http.Header{}, "<html><body><h1>Pricing</h1></body></html>", ChallengeNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectChallenge(tt.status, tt.header, tt.body))
		})
	}
}
