// Package netclient wraps the HTTP transport the worker drives: probing,
// range fetching, retry/backoff, proxy/auth, and If-Range revalidation, per
// spec §4.3. Grounded on the teacher's internal/engine/probe.go (proxy
// dialing, redirect header preservation, 403/405 Range fallback) and the
// newer internal/engine/concurrent worker (range-request construction,
// retry loop shape).
package netclient

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/proxy"

	"github.com/muhammad1505/idm-open/internal/config"
)

const defaultUserAgent = "idm-open/1.0"

// RequestOptions carries the per-task attributes applied to every request
// the client issues for that task: headers, cookies, proxy, basic auth.
type RequestOptions struct {
	Headers  map[string]string
	Cookies  []Cookie
	ProxyURL string
	AuthUser string
	AuthPass string
}

// Cookie is a minimal cookie attached to outgoing requests.
type Cookie struct {
	Name, Value, Domain, Path string
}

// Client issues probes and range fetches against a single task's resource.
type Client struct {
	http *http.Client
	cfg  *config.RuntimeConfig
}

// New builds a Client honoring the given per-task proxy (if any) and the
// engine's connect/idle-read timeouts.
func New(cfg *config.RuntimeConfig, proxyURL string) (*Client, error) {
	transport := &http.Transport{
		MaxConnsPerHost:     cfg.GetMaxConnectionsPerHost(),
		MaxIdleConnsPerHost: cfg.GetMaxConnectionsPerHost(),
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout: cfg.ConnectTimeout,
		}).DialContext,
	}

	if proxyURL == "" {
		proxyURL = cfg.ProxyURL
	}
	if proxyURL != "" {
		parsed, err := url.Parse(proxyURL)
		if err != nil {
			return nil, err
		}
		if strings.HasPrefix(parsed.Scheme, "socks5") {
			dialer, err := proxy.SOCKS5("tcp", parsed.Host, nil, proxy.Direct)
			if err != nil {
				return nil, err
			}
			transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		} else {
			transport.Proxy = http.ProxyURL(parsed)
		}
	} else {
		transport.Proxy = http.ProxyFromEnvironment
	}

	return &Client{
		http: &http.Client{
			Transport: transport,
			Timeout:   0, // no whole-body deadline: the worker's read loop enforces the idle-read timeout per chunk via a canceled per-attempt context
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return errTooManyRedirects
				}
				if len(via) > 0 {
					for key, vals := range via[0].Header {
						if key == "Range" || key == "Authorization" && req.URL.Host != via[0].URL.Host {
							continue
						}
						req.Header[key] = vals
					}
				}
				return nil
			},
		},
		cfg: cfg,
	}, nil
}

// Get issues a plain GET request, applying the given per-task options. Used
// by resolver adapters that need to fetch and inspect a page body rather
// than probe/fetch a resource, so it does not apply a Range header.
func (c *Client) Get(ctx context.Context, rawURL string, opts RequestOptions) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	c.applyRequestOptions(req, opts)
	return c.http.Do(req)
}

var errTooManyRedirects = httpError("stopped after 10 redirects")

type httpError string

func (e httpError) Error() string { return string(e) }

func (c *Client) applyRequestOptions(req *http.Request, opts RequestOptions) {
	for k, v := range opts.Headers {
		if k == "Range" {
			continue
		}
		req.Header.Set(k, v)
	}
	for _, ck := range opts.Cookies {
		req.AddCookie(&http.Cookie{Name: ck.Name, Value: ck.Value, Domain: ck.Domain, Path: ck.Path})
	}
	if req.Header.Get("User-Agent") == "" {
		ua := c.cfg.GetUserAgent()
		if ua == "" {
			ua = defaultUserAgent
		}
		req.Header.Set("User-Agent", ua)
	}
	if opts.AuthUser != "" {
		req.SetBasicAuth(opts.AuthUser, opts.AuthPass)
	}
}
