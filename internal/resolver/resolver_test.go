package resolver

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/muhammad1505/idm-open/internal/config"
	"github.com/muhammad1505/idm-open/internal/idmerrors"
	"github.com/muhammad1505/idm-open/internal/netclient"
)

func newTestClient(t *testing.T) *netclient.Client {
	t.Helper()
	c, err := netclient.New(config.DefaultSettings().ToRuntimeConfig(), "")
	require.NoError(t, err)
	return c
}

func TestPixeldrainResolvesAPIURL(t *testing.T) {
	r := New(newTestClient(t))
	res, err := r.Resolve(t.Context(), "https://pixeldrain.com/u/abcd1234")
	require.NoError(t, err)
	require.Equal(t, "https://pixeldrain.com/api/file/abcd1234", res.DirectURL)
}

func TestMegaIsUnsupported(t *testing.T) {
	r := New(newTestClient(t))
	_, err := r.Resolve(t.Context(), "https://mega.nz/file/abc123#key")
	require.Error(t, err)
	kind, ok := idmerrors.KindOf(err)
	require.True(t, ok)
	require.Equal(t, idmerrors.KindUnsupported, kind)
}

func TestGenericAdapterPassesThroughDirectBinary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		// PNG magic bytes so h2non/filetype confidently says "not HTML".
		_, _ = w.Write([]byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0, 0, 0, 0})
	}))
	defer srv.Close()

	r := New(newTestClient(t))
	res, err := r.Resolve(t.Context(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, srv.URL, res.DirectURL)
}

func TestGenericAdapterFollowsDownloadLink(t *testing.T) {
	directSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0, 0, 0, 0})
	}))
	defer directSrv.Close()
	directServerURL := directSrv.URL

	pageSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><a download href="` + directServerURL + `">get</a></body></html>`))
	}))
	defer pageSrv.Close()

	r := New(newTestClient(t))
	res, err := r.Resolve(t.Context(), pageSrv.URL)
	require.NoError(t, err)
	require.Equal(t, directServerURL, res.DirectURL)
}
