package resolver

import (
	"context"

	"github.com/muhammad1505/idm-open/internal/idmerrors"
	"github.com/muhammad1505/idm-open/internal/netclient"
)

// megaAdapter never resolves: mega.nz serves client-side encrypted chunks
// that require the decryption key from the URL fragment and a dedicated
// protocol client, explicitly out of scope per spec §4.8 "Mega is
// Unsupported".
type megaAdapter struct{}

func (megaAdapter) Matches(rawURL string) bool {
	return hasSuffix(hostOf(rawURL), "mega.nz") || hasSuffix(hostOf(rawURL), "mega.io")
}

func (megaAdapter) Resolve(ctx context.Context, rawURL string, client *netclient.Client) (Result, error) {
	return Result{}, idmerrors.Unsupported("mega")
}
