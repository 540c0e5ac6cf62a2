package mirror

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/muhammad1505/idm-open/internal/idmerrors"
	"github.com/muhammad1505/idm-open/internal/storage"
)

func TestNewChainOrdersByRank(t *testing.T) {
	c := NewChain("https://primary.example/f", []storage.Mirror{
		{URL: "https://rank2.example/f", Rank: 2},
		{URL: "https://rank1.example/f", Rank: 1},
	})
	require.Equal(t, "https://primary.example/f", c.Current())
	require.True(t, c.HasNext())

	require.Equal(t, "https://rank1.example/f", c.Advance())
	require.True(t, c.HasNext())

	require.Equal(t, "https://rank2.example/f", c.Advance())
	require.False(t, c.HasNext())

	// No more mirrors: Advance is a no-op.
	require.Equal(t, "https://rank2.example/f", c.Advance())
}

func TestChainWithNoMirrorsHasNoNext(t *testing.T) {
	c := NewChain("https://only.example/f", nil)
	require.False(t, c.HasNext())
	require.Equal(t, "https://only.example/f", c.Current())
}

func TestCheckSizeAgrees(t *testing.T) {
	c := NewChain("https://primary.example/f", []storage.Mirror{{URL: "https://mirror.example/f", Rank: 1}})
	require.NoError(t, c.CheckSize(1024))
	require.NoError(t, c.CheckSize(1024))
}

func TestCheckSizeMismatch(t *testing.T) {
	c := NewChain("https://primary.example/f", []storage.Mirror{{URL: "https://mirror.example/f", Rank: 1}})
	require.NoError(t, c.CheckSize(1024))

	err := c.CheckSize(2048)
	require.Error(t, err)
	kind, ok := idmerrors.KindOf(err)
	require.True(t, ok)
	require.Equal(t, idmerrors.KindMirrorMismatch, kind)
}
