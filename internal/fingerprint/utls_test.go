package fingerprint

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func TestTransport_Profiles(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	for _, p := range Profiles {
		t.Run(string(p), func(t *testing.T) {
			// httptest.NewTLSServer uses self-signed certs.
			rt, err := Transport(p, Options{InsecureSkipVerify: true})
			if err != nil {
				t.Fatalf("unexpected error creating transport for %s: %v", p, err)
			}

			tr, ok := rt.(*http.Transport)
			if !ok {
				t.Fatalf("expected *http.Transport, got %T", rt)
			}
			if p != ProfileGo && tr.DialTLSContext == nil {
				t.Fatalf("expected DialTLSContext to be set for %s", p)
			}

			client := &http.Client{Transport: tr}
			req, err := http.NewRequest("GET", ts.URL, nil)
			if err != nil {
				t.Fatalf("failed to create request: %v", err)
			}

			resp, err := client.Do(req)
			if err != nil {
				t.Fatalf("request failed for profile %s: %v", p, err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				t.Errorf("expected 200 OK, got %d for profile %s", resp.StatusCode, p)
			}
		})
	}
}

func TestTransport_VerifiesByDefault(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	rt, err := Transport(ProfileChrome, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client := &http.Client{Transport: rt}
	resp, err := client.Get(ts.URL)
	if err == nil {
		resp.Body.Close()
		t.Fatal("expected certificate error against self-signed server")
	}
}

func TestTransport_UnknownProfile(t *testing.T) {
	_, err := Transport(Profile("unknown_browser"), Options{})
	if err == nil {
		t.Fatal("expected error for unknown profile, got nil")
	}
	if err.Error() != `fingerprint: unknown profile "unknown_browser"` {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestParseProfile(t *testing.T) {
	tests := []struct {
		in      string
		want    Profile
		wantErr bool
	}{
		{"", ProfileGo, false},
		{"Chrome", ProfileChrome, false},
		{" firefox ", ProfileFirefox, false},
		{"random", ProfileRandom, false},
		{"netscape", "", true},
	}
	for _, tt := range tests {
		got, err := ParseProfile(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseProfile(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseProfile(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTransport_ProxyOption(t *testing.T) {
	want, _ := url.Parse("http://10.0.0.1:3128")
	pick := func(*http.Request) (*url.URL, error) { return want, nil }

	for _, p := range []Profile{ProfileGo, ProfileChrome} {
		rt, err := Transport(p, Options{Proxy: pick})
		if err != nil {
			t.Fatalf("unexpected error for %s: %v", p, err)
		}
		tr := rt.(*http.Transport)
		if tr.Proxy == nil {
			t.Fatalf("expected proxy func on %s transport", p)
		}
		req, _ := http.NewRequest(http.MethodGet, "https://example.com/sitemap.xml", nil)
		got, err := tr.Proxy(req)
		if err != nil || got.String() != want.String() {
			t.Errorf("%s: expected proxy %v, got %v (%v)", p, want, got, err)
		}
	}
}
