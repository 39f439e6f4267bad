package bypass

import (
	"errors"
	"net/http"
	"testing"
)

func TestAnalyze(t *testing.T) {
	tests := []struct {
		name   string
		res    Response
		source string
	}{
		{"plain sitemap", Response{StatusCode: 200, Header: http.Header{"Server": {"cloudflare"}}, Body: []byte("<urlset/>")}, ""},
		{"missing robots", Response{StatusCode: 404, Header: http.Header{"Server": {"nginx"}}}, ""},
		{"origin 403", Response{StatusCode: 403, Header: http.Header{"Server": {"nginx"}}, Body: []byte("Forbidden")}, ""},
		{"cloudflare header", Response{StatusCode: 403, Header: http.Header{"Server": {"cloudflare"}}}, "Cloudflare"},
		{"cloudflare turnstile", Response{StatusCode: 503, Header: http.Header{}, Body: []byte("<div class=\"cf-turnstile\"></div>")}, "Cloudflare"},
		{"cloudflare 503 without marker", Response{StatusCode: 503, Header: http.Header{}, Body: []byte("maintenance")}, ""},
		{"akamai header", Response{StatusCode: 403, Header: http.Header{"Server": {"AkamaiGHost"}}}, "Akamai"},
		{"akamai reference page", Response{StatusCode: 403, Header: http.Header{}, Body: []byte("Access Denied. Reference #18.2f3c")}, "Akamai"},
		{"datadome header", Response{StatusCode: 403, Header: http.Header{"X-Datadome": {"protected"}}}, "DataDome"},
		{"datadome captcha", Response{StatusCode: 403, Header: http.Header{}, Body: []byte(`<iframe src="https://geo.captcha-delivery.com/captcha">`)}, "DataDome"},
		{"perimeterx script", Response{StatusCode: 403, Header: http.Header{}, Body: []byte(`<script src="//client.perimeterx.net/x.js">`)}, "PerimeterX"},
		{"perimeterx header", Response{StatusCode: 403, Header: http.Header{"X-Px-Captcha": {"1"}}}, "PerimeterX"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source, ok := Analyze(tt.res, DefaultDetectors())
			if ok != (tt.source != "") || source != tt.source {
				t.Errorf("Analyze = (%q, %v), want %q", source, ok, tt.source)
			}
		})
	}
}

func TestAnalyze_CustomDetectors(t *testing.T) {
	teapot := func(res Response) (bool, string) {
		return res.StatusCode == http.StatusTeapot, "Teapot"
	}
	if source, ok := Analyze(Response{StatusCode: http.StatusTeapot}, []Detector{teapot}); !ok || source != "Teapot" {
		t.Errorf("expected custom detector match, got %q %v", source, ok)
	}
	if _, ok := Analyze(Response{StatusCode: 403, Header: http.Header{"Server": {"cloudflare"}}}, nil); ok {
		t.Errorf("expected no match without detectors")
	}
}

func TestCheck(t *testing.T) {
	if err := Check("https://example.com/sitemap.xml", Response{StatusCode: 200, Header: http.Header{}, Body: []byte("<urlset/>")}); err != nil {
		t.Fatalf("unexpected block: %v", err)
	}

	err := Check("https://example.com/sitemap.xml", Response{StatusCode: 403, Header: http.Header{"Server": {"cloudflare"}}})
	var blocked *BlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("expected *BlockedError, got %v", err)
	}
	if blocked.Source != "Cloudflare" || blocked.StatusCode != 403 || blocked.URL != "https://example.com/sitemap.xml" {
		t.Errorf("unexpected blocked error %+v", blocked)
	}
	if got := blocked.Error(); got != "https://example.com/sitemap.xml blocked by Cloudflare (status 403)" {
		t.Errorf("unexpected message %q", got)
	}
}
