package resolver

import (
	"context"
	"fmt"
	"strings"

	"github.com/muhammad1505/idm-open/internal/netclient"
)

// pixeldrainAdapter resolves a pixeldrain.com file page to its direct
// download API endpoint, e.g. https://pixeldrain.com/u/<id> ->
// https://pixeldrain.com/api/file/<id>.
type pixeldrainAdapter struct{}

func (pixeldrainAdapter) Matches(rawURL string) bool {
	return hasSuffix(hostOf(rawURL), "pixeldrain.com")
}

func (pixeldrainAdapter) Resolve(ctx context.Context, rawURL string, client *netclient.Client) (Result, error) {
	if strings.Contains(rawURL, "/api/file/") {
		return Result{Passthrough: true}, nil
	}
	id := lastPathSegment(rawURL)
	if id == "" {
		return Result{}, fmt.Errorf("pixeldrain: could not extract file id from %s", rawURL)
	}
	return Result{DirectURL: fmt.Sprintf("https://pixeldrain.com/api/file/%s", id)}, nil
}

func lastPathSegment(rawURL string) string {
	s := strings.TrimRight(rawURL, "/")
	if idx := strings.LastIndex(s, "/"); idx != -1 {
		return s[idx+1:]
	}
	return ""
}
