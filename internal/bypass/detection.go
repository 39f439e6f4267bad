// Package bypass recognizes bot-protection challenge pages, so a blocked
// sitemap or feed fetch is reported as blocked instead of as malformed XML.
package bypass

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
)

// Response is the part of an HTTP response the detectors look at.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Detector examines a response and names the protection that challenged it.
type Detector func(res Response) (detected bool, source string)

// BlockedError reports a fetch answered by a challenge page.
type BlockedError struct {
	URL        string
	Source     string
	StatusCode int
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("%s blocked by %s (status %d)", e.URL, e.Source, e.StatusCode)
}

// DefaultDetectors returns the standard list of bot protection detectors.
func DefaultDetectors() []Detector {
	return []Detector{
		detectCloudflare,
		detectAkamai,
		detectDataDome,
		detectPerimeterX,
	}
}

// Analyze runs res through detectors and returns the first match.
func Analyze(res Response, detectors []Detector) (string, bool) {
	for _, d := range detectors {
		if detected, source := d(res); detected {
			return source, true
		}
	}
	return "", false
}

// Check returns a *BlockedError when res is a challenge page.
func Check(url string, res Response) error {
	if source, ok := Analyze(res, DefaultDetectors()); ok {
		return &BlockedError{URL: url, Source: source, StatusCode: res.StatusCode}
	}
	return nil
}

func server(res Response) string {
	return strings.ToLower(res.Header.Get("Server"))
}

func detectCloudflare(res Response) (bool, string) {
	// 403 and 503 are the usual challenge statuses
	if res.StatusCode != http.StatusForbidden && res.StatusCode != http.StatusServiceUnavailable {
		return false, ""
	}
	if strings.Contains(server(res), "cloudflare") {
		return true, "Cloudflare"
	}
	if bytes.Contains(res.Body, []byte("cf-browser-verification")) ||
		bytes.Contains(res.Body, []byte("cf-turnstile")) ||
		bytes.Contains(res.Body, []byte("Attention Required! | Cloudflare")) {
		return true, "Cloudflare"
	}
	return false, ""
}

func detectAkamai(res Response) (bool, string) {
	if res.StatusCode != http.StatusForbidden {
		return false, ""
	}
	if strings.Contains(server(res), "akamai") {
		return true, "Akamai"
	}
	// Generic "Reference #" block page
	if bytes.Contains(res.Body, []byte("Reference #")) && bytes.Contains(res.Body, []byte("Access Denied")) {
		return true, "Akamai"
	}
	return false, ""
}

func detectDataDome(res Response) (bool, string) {
	if res.StatusCode != http.StatusForbidden {
		return false, ""
	}
	if strings.Contains(server(res), "datadome") || res.Header.Get("X-DataDome") != "" {
		return true, "DataDome"
	}
	if bytes.Contains(res.Body, []byte("geo.captcha-delivery.com")) {
		return true, "DataDome"
	}
	return false, ""
}

func detectPerimeterX(res Response) (bool, string) {
	if res.StatusCode != http.StatusForbidden {
		return false, ""
	}
	if res.Header.Get("X-Px-Captcha") != "" {
		return true, "PerimeterX"
	}
	if bytes.Contains(res.Body, []byte("client.perimeterx.net")) || bytes.Contains(res.Body, []byte("_pxBlock")) {
		return true, "PerimeterX"
	}
	return false, ""
}
