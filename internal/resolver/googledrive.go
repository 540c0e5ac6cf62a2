package resolver

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/muhammad1505/idm-open/internal/idmerrors"
	"github.com/muhammad1505/idm-open/internal/netclient"
)

var (
	driveFileIDPathRe = regexp.MustCompile(`/file/d/([a-zA-Z0-9_-]+)`)
	driveConfirmRe    = regexp.MustCompile(`confirm=([0-9A-Za-z_-]+)`)
)

// googleDriveAdapter resolves a drive.google.com share link to the direct
// download endpoint, handling the "confirmation token" interstitial Google
// serves for files too large to virus-scan, per spec §4.8.
type googleDriveAdapter struct{}

func (googleDriveAdapter) Matches(rawURL string) bool {
	h := hostOf(rawURL)
	return hasSuffix(h, "drive.google.com") || hasSuffix(h, "docs.google.com")
}

func (googleDriveAdapter) Resolve(ctx context.Context, rawURL string, client *netclient.Client) (Result, error) {
	id := driveFileID(rawURL)
	if id == "" {
		return Result{}, idmerrors.Unsupported("drive.google.com")
	}

	directURL := fmt.Sprintf("https://drive.google.com/uc?export=download&id=%s", id)

	resp, err := client.Get(ctx, directURL, netclient.RequestOptions{})
	if err != nil {
		return Result{}, idmerrors.Network("probing google drive download link", err)
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "text/html") {
		// Small file: no interstitial, the direct URL serves the payload already.
		return Result{DirectURL: directURL}, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, idmerrors.Network("reading google drive interstitial", err)
	}

	m := driveConfirmRe.FindSubmatch(body)
	if m == nil {
		// No confirm token found; either a small-file redirect already happened
		// or the page format changed. Fall back to the plain direct URL.
		return Result{DirectURL: directURL}, nil
	}
	token := string(m[1])

	return Result{DirectURL: fmt.Sprintf("https://drive.google.com/uc?export=download&confirm=%s&id=%s", token, id)}, nil
}

func driveFileID(rawURL string) string {
	if m := driveFileIDPathRe.FindStringSubmatch(rawURL); m != nil {
		return m[1]
	}
	if idx := strings.Index(rawURL, "id="); idx != -1 {
		rest := rawURL[idx+3:]
		if amp := strings.IndexByte(rest, '&'); amp != -1 {
			rest = rest[:amp]
		}
		return rest
	}
	return ""
}
