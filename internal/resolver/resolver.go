// Package resolver maps hosting-page URLs to direct download URLs, per spec
// §4.8. Each adapter gets the URL, may perform lightweight HTTP calls, and
// returns a direct URL (or Passthrough, or Unsupported). Dynamic dispatch
// follows the teacher's approach of a small capability object per host with
// static registration (spec §9 "no runtime plugin loading in the core").
package resolver

import (
	"context"
	"net/url"
	"strings"

	"github.com/muhammad1505/idm-open/internal/netclient"
)

// Result is what an adapter resolves a page URL into.
type Result struct {
	// Passthrough is true when the adapter recognized the host but the
	// original URL is already direct — the caller should use it unchanged.
	Passthrough bool
	DirectURL   string
	Filename    string
	Headers     map[string]string
	Cookies     []netclient.Cookie
}

// Adapter resolves one hosting-page family into a direct URL.
type Adapter interface {
	// Matches reports whether this adapter should handle rawURL.
	Matches(rawURL string) bool
	// Resolve performs the (lightweight, idempotent, side-effect-free beyond
	// HTTP GETs) translation into a direct URL.
	Resolve(ctx context.Context, rawURL string, client *netclient.Client) (Result, error)
}

// Resolver runs a static, ordered pipeline of adapters.
type Resolver struct {
	adapters []Adapter
	client   *netclient.Client
}

// New builds the default adapter pipeline: Pixeldrain, Google Drive,
// Mediafire, Mega (explicitly unsupported), falling back to the generic
// HTML adapter for anything else.
func New(client *netclient.Client) *Resolver {
	return &Resolver{
		client: client,
		adapters: []Adapter{
			pixeldrainAdapter{},
			googleDriveAdapter{},
			mediafireAdapter{},
			megaAdapter{},
		},
	}
}

// Resolve finds the first adapter matching rawURL and runs it. Hosts with no
// matching adapter fall through to the generic HTML adapter, which either
// finds a direct link or reports Unsupported.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) (Result, error) {
	for _, a := range r.adapters {
		if a.Matches(rawURL) {
			return a.Resolve(ctx, rawURL, r.client)
		}
	}
	return genericHTMLAdapter{}.Resolve(ctx, rawURL, r.client)
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func hasSuffix(host, suffix string) bool {
	return host == suffix || strings.HasSuffix(host, "."+suffix)
}
