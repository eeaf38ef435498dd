// Package protection classifies organiser-site responses that block or
// hide results: bot challenges, captchas and JavaScript-only tables.
package protection

import (
	"net/http"
	"regexp"
	"strings"
)

// Signal identifies why a page is not usable as scraped.
type Signal string

const (
	SignalNone        Signal = ""
	SignalChallenge   Signal = "challenge"
	SignalCaptcha     Signal = "captcha"
	SignalBlocked     Signal = "blocked"
	SignalRateLimited Signal = "rate_limited"
	SignalEmptyPage   Signal = "empty_page"
	SignalJSRequired  Signal = "js_required"
)

// Result is the outcome of classifying one response.
type Result struct {
	Blocked bool
	Signal  Signal
	// Reason is a short human-readable explanation, used in job errors and
	// endpoint history rows.
	Reason string
	// BrowserMayHelp reports whether headless rendering is worth a retry.
	BrowserMayHelp bool
}

var (
	challengePatterns = []string{
		"cf-browser-verification",
		"challenge-platform",
		"_cf_chl",
		"checking your browser",
		"just a moment...",
		"attention required! | cloudflare",
	}

	captchaPatterns = []string{
		"g-recaptcha",
		"h-captcha",
		"data-sitekey",
		"cf-turnstile",
		"please verify you are human",
	}

	blockedPatterns = []string{
		"access denied",
		"request blocked",
		"bot detected",
		"automated access",
		"you don't have permission",
	}

	jsRequiredPatterns = []string{
		"enable javascript",
		"javascript is required",
		"requires javascript",
	}

	// Empty SPA roots mean the result table only exists after scripts run.
	spaRootPatterns = []*regexp.Regexp{
		regexp.MustCompile(`<div\s+id=["'](?:root|app|__next|__nuxt)["'][^>]*>\s*</div>`),
		regexp.MustCompile(`<app-root[^>]*>\s*</app-root>`),
	}
)

// Classify inspects a status code and page body for blocking signals.
// A zero status code means the body came from an already-successful fetch.
func Classify(statusCode int, body []byte) Result {
	switch statusCode {
	case http.StatusTooManyRequests:
		return Result{Blocked: true, Signal: SignalRateLimited, Reason: "rate limited by organiser site"}
	case http.StatusForbidden:
		if r := classifyBody(body); r.Blocked {
			return r
		}
		return Result{Blocked: true, Signal: SignalBlocked, Reason: "organiser site denied the request", BrowserMayHelp: true}
	case http.StatusServiceUnavailable:
		if r := classifyBody(body); r.Blocked {
			return r
		}
		return Result{Blocked: true, Signal: SignalChallenge, Reason: "organiser site unavailable, possibly a bot challenge", BrowserMayHelp: true}
	}
	return classifyBody(body)
}

func classifyBody(body []byte) Result {
	if len(body) == 0 {
		return Result{Blocked: true, Signal: SignalEmptyPage, Reason: "empty page body", BrowserMayHelp: true}
	}

	content := string(body)
	lower := strings.ToLower(content)

	for _, p := range challengePatterns {
		if strings.Contains(lower, p) {
			return Result{Blocked: true, Signal: SignalChallenge, Reason: "bot challenge page", BrowserMayHelp: true}
		}
	}
	for _, p := range captchaPatterns {
		if strings.Contains(lower, p) {
			return Result{Blocked: true, Signal: SignalCaptcha, Reason: "captcha challenge page", BrowserMayHelp: false}
		}
	}
	for _, p := range blockedPatterns {
		if strings.Contains(lower, p) {
			return Result{Blocked: true, Signal: SignalBlocked, Reason: "request blocked by organiser site", BrowserMayHelp: true}
		}
	}
	for _, p := range jsRequiredPatterns {
		if strings.Contains(lower, p) {
			return Result{Blocked: true, Signal: SignalJSRequired, Reason: "page requires JavaScript to render results", BrowserMayHelp: true}
		}
	}
	for _, re := range spaRootPatterns {
		if re.MatchString(content) {
			return Result{Blocked: true, Signal: SignalJSRequired, Reason: "results are rendered client-side", BrowserMayHelp: true}
		}
	}

	return Result{}
}
