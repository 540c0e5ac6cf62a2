package resolver

import (
	"context"
	"io"
	"regexp"

	"github.com/muhammad1505/idm-open/internal/idmerrors"
	"github.com/muhammad1505/idm-open/internal/netclient"
)

var mediafireDirectLinkRe = regexp.MustCompile(`href="(https://download[0-9]*\.mediafire\.com/[^"]+)"`)

// mediafireAdapter scrapes a mediafire.com share page for its direct
// download link, per spec §4.8.
type mediafireAdapter struct{}

func (mediafireAdapter) Matches(rawURL string) bool {
	return hasSuffix(hostOf(rawURL), "mediafire.com")
}

func (mediafireAdapter) Resolve(ctx context.Context, rawURL string, client *netclient.Client) (Result, error) {
	resp, err := client.Get(ctx, rawURL, netclient.RequestOptions{})
	if err != nil {
		return Result{}, idmerrors.Network("fetching mediafire page", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return Result{}, idmerrors.Network("reading mediafire page", err)
	}

	m := mediafireDirectLinkRe.FindSubmatch(body)
	if m == nil {
		return Result{}, idmerrors.Unsupported("mediafire.com: no direct link found on page")
	}
	return Result{DirectURL: string(m[1])}, nil
}
