package netclient

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/muhammad1505/idm-open/internal/config"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := New(config.DefaultSettings().ToRuntimeConfig(), "")
	require.NoError(t, err)
	return c
}

func TestProbeRangeSupported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Range", "bytes 0-0/1000")
		w.Header().Set("Accept-Ranges", "bytes")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte{0})
	}))
	defer srv.Close()

	c := newTestClient(t)
	res, err := c.Probe(t.Context(), srv.URL, RequestOptions{})
	require.NoError(t, err)
	require.True(t, res.SupportsRange)
	require.Equal(t, int64(1000), res.TotalBytes)
}

func TestProbeRangeUnsupported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "500")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(make([]byte, 500))
	}))
	defer srv.Close()

	c := newTestClient(t)
	res, err := c.Probe(t.Context(), srv.URL, RequestOptions{})
	require.NoError(t, err)
	require.False(t, res.SupportsRange)
	require.Equal(t, int64(500), res.TotalBytes)
}

func TestRangeFetch206(t *testing.T) {
	body := []byte("0123456789")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Range", "bytes 2-5/10")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(body[2:6])
	}))
	defer srv.Close()

	c := newTestClient(t)
	res, err := c.RangeFetch(t.Context(), srv.URL, 2, 5, RequestOptions{}, false)
	require.NoError(t, err)
	defer res.Body.Close()
	require.False(t, res.FullBody)
}

func TestRangeFetch429RetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(t)
	_, err := c.RangeFetch(t.Context(), srv.URL, 0, 9, RequestOptions{}, false)
	require.Error(t, err)
	delay, ok := IsRetryableStatus(err)
	require.True(t, ok)
	require.True(t, delay > 0)
}

func TestRevalidateChanged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("full body"))
	}))
	defer srv.Close()

	c := newTestClient(t)
	err := c.Revalidate(t.Context(), srv.URL, `"etag-1"`, "", RequestOptions{})
	require.Error(t, err)
}

func TestBackoffCapsAtMax(t *testing.T) {
	base := time.Second
	max := 60 * time.Second
	require.Equal(t, base, Backoff(0, base, max))
	require.Equal(t, max, Backoff(10, base, max))
}
