package netclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/vfaronov/httpheader"

	"github.com/muhammad1505/idm-open/internal/idmerrors"
	"github.com/muhammad1505/idm-open/internal/logging"
)

// ProbeResult holds what the probe learned about a resource.
type ProbeResult struct {
	TotalBytes    int64
	SupportsRange bool
	Filename      string
	ContentType   string
	ETag          string
	LastModified  string
	FinalURL      string
}

// Probe issues a GET with Range: bytes=0-0 (falling back to a plain GET if
// the server rejects range requests outright with 403/405) to learn size,
// range support, filename and validators, per spec §4.3 "Probe".
func (c *Client) Probe(ctx context.Context, rawURL string, opts RequestOptions) (*ProbeResult, error) {
	resp, err := c.doProbeRequest(ctx, rawURL, opts, true)
	if err == nil && (resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusMethodNotAllowed) {
		logging.Debug("probe got %d, retrying without Range header", resp.StatusCode)
		_ = resp.Body.Close()
		resp, err = c.doProbeRequest(ctx, rawURL, opts, false)
	}
	if err != nil {
		return nil, idmerrors.Network("probe request failed", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	result := &ProbeResult{FinalURL: resp.Request.URL.String()}

	switch resp.StatusCode {
	case http.StatusPartialContent:
		result.SupportsRange = true
		if cr := resp.Header.Get("Content-Range"); cr != "" {
			if idx := strings.LastIndex(cr, "/"); idx != -1 {
				sizeStr := cr[idx+1:]
				if sizeStr != "*" {
					result.TotalBytes, _ = strconv.ParseInt(sizeStr, 10, 64)
				}
			}
		}
	case http.StatusOK:
		result.SupportsRange = false
		if cl := resp.Header.Get("Content-Length"); cl != "" {
			result.TotalBytes, _ = strconv.ParseInt(cl, 10, 64)
		}
	default:
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
			return nil, idmerrors.HTTPStatus(resp.StatusCode, fmt.Sprintf("probe of %s failed", rawURL))
		}
		return nil, idmerrors.Network(fmt.Sprintf("unexpected probe status %d", resp.StatusCode), nil)
	}

	if _, name, err := httpheader.ContentDisposition(resp.Header); err == nil && name != "" {
		result.Filename = name
	}
	result.ContentType = resp.Header.Get("Content-Type")
	result.ETag = resp.Header.Get("ETag")
	result.LastModified = resp.Header.Get("Last-Modified")

	return result, nil
}

func (c *Client) doProbeRequest(ctx context.Context, rawURL string, opts RequestOptions, withRange bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	c.applyRequestOptions(req, opts)
	if withRange {
		req.Header.Set("Range", "bytes=0-0")
	}
	return c.http.Do(req)
}
