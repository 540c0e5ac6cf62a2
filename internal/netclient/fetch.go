package netclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vfaronov/httpheader"

	"github.com/muhammad1505/idm-open/internal/idmerrors"
)

// FetchResult wraps the live response body for a range fetch. The caller
// must close Body when done reading.
type FetchResult struct {
	Body          io.ReadCloser
	StatusCode    int
	ContentLength int64
	FullBody      bool // true if the server returned 200 instead of 206
}

// RangeFetch issues GET with Range: bytes=<start>-<end> for a segment.
// Accepts 206; a 200 is only legal when singleSegment is true (the whole
// body starts at 0), per spec §4.3 "Range fetch".
func (c *Client) RangeFetch(ctx context.Context, rawURL string, start, end int64, opts RequestOptions, singleSegment bool) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, idmerrors.Network("building range request", err)
	}
	c.applyRequestOptions(req, opts)
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, idmerrors.Network("range request failed", err)
	}

	switch resp.StatusCode {
	case http.StatusPartialContent:
		return &FetchResult{Body: resp.Body, StatusCode: resp.StatusCode, ContentLength: resp.ContentLength}, nil
	case http.StatusOK:
		if !singleSegment {
			_ = resp.Body.Close()
			return nil, idmerrors.RangeUnsupported("server returned 200 for a multi-segment range request")
		}
		return &FetchResult{Body: resp.Body, StatusCode: resp.StatusCode, ContentLength: resp.ContentLength, FullBody: true}, nil
	case http.StatusTooManyRequests:
		retryAfter := retryAfterDelay(resp.Header)
		_ = resp.Body.Close()
		return nil, &retryableStatusError{code: resp.StatusCode, retryAfter: retryAfter}
	case http.StatusRequestTimeout:
		_ = resp.Body.Close()
		return nil, &retryableStatusError{code: resp.StatusCode}
	default:
		_ = resp.Body.Close()
		if resp.StatusCode >= 500 {
			return nil, &retryableStatusError{code: resp.StatusCode}
		}
		return nil, idmerrors.HTTPStatus(resp.StatusCode, "range fetch failed")
	}
}

// retryableStatusError marks an HTTP response that the retry policy should
// retry internally (408, 429, 5xx) rather than surface as a terminal
// HttpStatus error.
type retryableStatusError struct {
	code       int
	retryAfter time.Duration
}

func (e *retryableStatusError) Error() string {
	return fmt.Sprintf("retryable http status %d", e.code)
}

// RetryAfter returns the server-requested delay before the next attempt, or
// zero if none was given.
func (e *retryableStatusError) RetryAfter() time.Duration { return e.retryAfter }

func retryAfterDelay(h http.Header) time.Duration {
	t, ok := httpheader.RetryAfter(h)
	if !ok {
		return 0
	}
	d := time.Until(t)
	if d < 0 {
		return 0
	}
	return d
}

// IsRetryableStatus reports whether err carries a retryable HTTP status
// (408/429/5xx) and, if so, any server-requested Retry-After delay.
func IsRetryableStatus(err error) (retryAfter time.Duration, ok bool) {
	rse, ok := err.(*retryableStatusError)
	if !ok {
		return 0, false
	}
	return rse.retryAfter, true
}
