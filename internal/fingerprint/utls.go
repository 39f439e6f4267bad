package fingerprint

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	utls "github.com/refraction-networking/utls"
)

// Profile represents a recognized TLS fingerprint profile.
type Profile string

const (
	ProfileChrome  Profile = "chrome"
	ProfileFirefox Profile = "firefox"
	ProfileSafari  Profile = "safari"
	ProfileGo      Profile = "go"     // standard go TLS
	ProfileRandom  Profile = "random" // randomized uTLS profile
)

// Profiles lists every supported profile name.
var Profiles = []Profile{ProfileGo, ProfileChrome, ProfileFirefox, ProfileSafari, ProfileRandom}

// ParseProfile resolves a user-supplied profile name. Empty means ProfileGo.
func ParseProfile(name string) (Profile, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return ProfileGo, nil
	}
	for _, p := range Profiles {
		if string(p) == name {
			return p, nil
		}
	}
	return "", fmt.Errorf("fingerprint: unknown profile %q", name)
}

// Options tunes the transport built by Transport.
type Options struct {
	// InsecureSkipVerify disables certificate checks. Tests only.
	InsecureSkipVerify bool
	// Proxy overrides the environment proxy lookup when set.
	Proxy func(*http.Request) (*url.URL, error)
}

func (p Profile) clientHello() (utls.ClientHelloID, error) {
	switch p {
	case ProfileChrome:
		return utls.HelloChrome_Auto, nil
	case ProfileFirefox:
		return utls.HelloFirefox_Auto, nil
	case ProfileSafari:
		return utls.HelloIOS_Auto, nil
	case ProfileRandom:
		return utls.HelloRandomizedALPN, nil
	default:
		return utls.ClientHelloID{}, fmt.Errorf("fingerprint: unknown profile %q", p)
	}
}

// Transport returns an http.RoundTripper configured with the specified
// TLS fingerprint profile. If the profile is "go", it returns a standard
// http.Transport. Otherwise, it wraps http.Transport to use utls.UClient.
// Source discovery uses it to fetch sitemaps and pages from sites that
// reject the stock Go handshake.
func Transport(p Profile, opts Options) (http.RoundTripper, error) {
	if p == ProfileGo || p == "" {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if opts.Proxy != nil {
			transport.Proxy = opts.Proxy
		}
		if opts.InsecureSkipVerify {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for tests
		}
		return transport, nil
	}

	clientHelloID, err := p.clientHello()
	if err != nil {
		return nil, err
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.Proxy != nil {
		transport.Proxy = opts.Proxy
	}
	dial := transport.DialContext

	transport.DialTLSContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		tcpConn, err := dial(ctx, network, addr)
		if err != nil {
			return nil, err
		}

		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			host = addr // fallback if no port
		}

		uConn := utls.UClient(tcpConn, &utls.Config{
			ServerName:         host,
			InsecureSkipVerify: opts.InsecureSkipVerify, //nolint:gosec // opt-in for tests
		}, clientHelloID)
		if err := uConn.HandshakeContext(ctx); err != nil {
			_ = tcpConn.Close()
			return nil, fmt.Errorf("fingerprint: utls handshake failed: %w", err)
		}

		return uConn, nil
	}

	return transport, nil
}
