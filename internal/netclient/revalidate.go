package netclient

import (
	"context"
	"net/http"

	"github.com/muhammad1505/idm-open/internal/idmerrors"
)

// Revalidate sends a conditional GET with If-Range set to the previously
// seen ETag (preferred) or Last-Modified validator, to check whether a
// partial file may be resumed, per spec §4.3 "Revalidation on resume". A 206
// response carrying no validator, or the same one, means the resource is
// unchanged; a 200 or a 206 carrying a different validator means the
// server's copy changed underneath the partial file, surfaced as
// ResourceChanged. Whether to restart instead is left to the caller.
func (c *Client) Revalidate(ctx context.Context, rawURL, etag, lastModified string, opts RequestOptions) error {
	if etag == "" && lastModified == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return idmerrors.Network("building revalidation request", err)
	}
	c.applyRequestOptions(req, opts)
	if etag != "" {
		req.Header.Set("If-Range", etag)
	} else {
		req.Header.Set("If-Range", lastModified)
	}
	req.Header.Set("Range", "bytes=0-0")

	resp, err := c.http.Do(req)
	if err != nil {
		return idmerrors.Network("revalidation request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusPartialContent {
		if etag != "" {
			if got := resp.Header.Get("ETag"); got != "" && got != etag {
				return idmerrors.ResourceChanged("server returned a different ETag on revalidation: resource changed")
			}
		} else if got := resp.Header.Get("Last-Modified"); got != "" && got != lastModified {
			return idmerrors.ResourceChanged("server returned a different Last-Modified on revalidation: resource changed")
		}
		return nil
	}
	if resp.StatusCode == http.StatusOK {
		return idmerrors.ResourceChanged("server returned full body on revalidation: resource changed")
	}
	return idmerrors.ResourceChanged("unexpected revalidation status")
}
