package httpclient

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"
)

// browserUserAgent is sent on every request. Portals render different markup
// (or refuse the request) for unknown user agents.
const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// Options configures a client
type Options struct {
	// HeaderTimeout bounds connecting plus waiting for response headers.
	// The body is not covered so large downloads are not cut off.
	HeaderTimeout time.Duration

	// MaxRedirects caps followed redirects (default 10).
	MaxRedirects int
}

// HTTPClient wraps an http.Client with a cookie jar and header configuration.
// All requests made through one HTTPClient share the same session cookies.
type HTTPClient struct {
	client *http.Client
	jar    http.CookieJar
}

// NewClient creates a new HTTP client from opts. The zero Options are valid.
func NewClient(opts Options) *HTTPClient {
	maxRedirects := opts.MaxRedirects
	if maxRedirects <= 0 {
		maxRedirects = 10
	}

	base := http.DefaultTransport.(*http.Transport).Clone()
	if opts.HeaderTimeout > 0 {
		base.DialContext = (&net.Dialer{Timeout: opts.HeaderTimeout, KeepAlive: 30 * time.Second}).DialContext
		base.TLSHandshakeTimeout = opts.HeaderTimeout
		base.ResponseHeaderTimeout = opts.HeaderTimeout
	}

	// cookiejar.New only fails on a non-nil PublicSuffixList error path
	jar, _ := cookiejar.New(nil)

	client := &http.Client{
		Jar:       jar,
		Transport: &decodingTransport{base: base},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}

	return &HTTPClient{
		client: client,
		jar:    jar,
	}
}

// Do executes an HTTP request with the browser headers applied
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	c.setHeaders(req)
	return c.client.Do(req)
}

// Get is a convenience method for GET requests
func (c *HTTPClient) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// PostForm submits form values as application/x-www-form-urlencoded
func (c *HTTPClient) PostForm(ctx context.Context, target string, values url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(values.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.Do(req)
}

// Cookies returns the session cookies the jar would send to rawURL
func (c *HTTPClient) Cookies(rawURL string) ([]*http.Cookie, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid cookie URL: %w", err)
	}
	return c.jar.Cookies(u), nil
}

// SetCookies stores cookies for rawURL in the session jar.
// Used to hand a browser session over to plain HTTP downloads.
func (c *HTTPClient) SetCookies(rawURL string, cookies []*http.Cookie) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid cookie URL: %w", err)
	}
	c.jar.SetCookies(u, cookies)
	return nil
}

// CloseIdleConnections releases pooled connections
func (c *HTTPClient) CloseIdleConnections() {
	c.client.CloseIdleConnections()
}

// setHeaders sets browser-like headers, keeping an Accept the caller chose
func (c *HTTPClient) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", browserUserAgent)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	}
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
}
