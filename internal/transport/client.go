package transport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/proxy"

	"github.com/nao1215/dropfetch/internal/host"
)

// maxRedirects bounds redirect chains.
const maxRedirects = 10

// ProfileSource resolves a host to its profile.
type ProfileSource interface {
	Match(hostname string) host.Profile
}

// Client creates HTTP clients sharing one proxy and per-host header setup.
type Client struct {
	proxyURL  *url.URL
	dialer    proxy.Dialer
	timeout   time.Duration
	userAgent string
	profiles  ProfileSource
}

// Option configures a Client.
type Option func(*Client) error

// WithProxy routes traffic through the proxy at raw.
// An empty string means direct connections.
func WithProxy(raw string) Option {
	return func(c *Client) error {
		if raw == "" {
			return nil
		}
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			return fmt.Errorf("%w: %q", ErrInvalidProxy, raw)
		}
		switch strings.ToLower(u.Scheme) {
		case "http", "https":
			c.proxyURL = u
		case "socks5", "socks5h":
			d, err := proxy.FromURL(u, proxy.Direct)
			if err != nil {
				return fmt.Errorf("%w: %w", ErrInvalidProxy, err)
			}
			c.dialer = d
		default:
			return fmt.Errorf("%w: %q", ErrInvalidProxy, raw)
		}
		return nil
	}
}

// WithTimeout bounds connection setup and waiting for response headers.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		c.timeout = d
		return nil
	}
}

// WithUserAgent sets the User-Agent sent when a request has none.
func WithUserAgent(ua string) Option {
	return func(c *Client) error {
		c.userAgent = ua
		return nil
	}
}

// WithProfiles injects per-host cookies and headers from profiles.
func WithProfiles(p ProfileSource) Option {
	return func(c *Client) error {
		c.profiles = p
		return nil
	}
}

// NewClient creates a Client.
func NewClient(opts ...Option) (*Client, error) {
	c := &Client{timeout: 60 * time.Second}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// HTTPClient returns a new *http.Client. The client has no overall timeout
// because downloads may stream for a long time; connection setup and the
// wait for response headers are bounded instead.
func (c *Client) HTTPClient() *http.Client {
	netDialer := &net.Dialer{Timeout: c.timeout, KeepAlive: 30 * time.Second}

	base := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           netDialer.DialContext,
		TLSHandshakeTimeout:   c.timeout,
		ResponseHeaderTimeout: c.timeout,
		ExpectContinueTimeout: time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
		// Compressed transfer would make Content-Length and byte ranges
		// refer to the encoded stream rather than the file.
		DisableCompression: true,
	}
	if c.proxyURL != nil {
		base.Proxy = http.ProxyURL(c.proxyURL)
	}
	if c.dialer != nil {
		base.Proxy = nil
		base.DialContext = dialContext(c.dialer)
	}

	jar, _ := cookiejar.New(nil) //nolint:errcheck // cookiejar.New only fails with invalid options

	return &http.Client{
		Transport: &headerInjectingTransport{
			base:      base,
			profiles:  c.profiles,
			userAgent: c.userAgent,
		},
		Jar: jar,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
}

func dialContext(d proxy.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	if cd, ok := d.(proxy.ContextDialer); ok {
		return cd.DialContext
	}
	return func(_ context.Context, network, addr string) (net.Conn, error) {
		return d.Dial(network, addr)
	}
}

// headerInjectingTransport adds the User-Agent and the host profile's
// cookie and headers to every request, redirects included.
type headerInjectingTransport struct {
	base      http.RoundTripper
	profiles  ProfileSource
	userAgent string
}

// RoundTrip implements http.RoundTripper.
func (t *headerInjectingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())

	if clone.Header.Get("User-Agent") == "" && t.userAgent != "" {
		clone.Header.Set("User-Agent", t.userAgent)
	}

	if t.profiles != nil {
		p := t.profiles.Match(clone.URL.Hostname())
		if p.Cookie != "" {
			if existing := clone.Header.Get("Cookie"); existing != "" {
				clone.Header.Set("Cookie", existing+"; "+p.Cookie)
			} else {
				clone.Header.Set("Cookie", p.Cookie)
			}
		}
		for k, v := range p.Headers {
			if clone.Header.Get(k) == "" {
				clone.Header.Set(k, v)
			}
		}
	}

	return t.base.RoundTrip(clone)
}
