package checksum

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "f.bin")
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func TestVerifySHA256Match(t *testing.T) {
	path := writeTemp(t, []byte("hello world"))
	const want = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde"
	require.NoError(t, Verify(path, SHA256, want))
}

func TestVerifyMD5MatchCaseInsensitive(t *testing.T) {
	path := writeTemp(t, []byte("hello"))
	require.NoError(t, Verify(path, MD5, "5D41402ABC4B2A76B9719D911017C592"))
}

func TestVerifyMismatch(t *testing.T) {
	path := writeTemp(t, []byte("hello"))
	err := Verify(path, MD5, "00000000000000000000000000000000")
	require.Error(t, err)
}

func TestVerifyUnknownAlgorithm(t *testing.T) {
	path := writeTemp(t, []byte("hello"))
	err := Verify(path, "crc32", "deadbeef")
	require.Error(t, err)
}

func TestIsSupported(t *testing.T) {
	require.True(t, IsSupported("SHA256"))
	require.False(t, IsSupported("crc32"))
}

func TestEmptyFileVerification(t *testing.T) {
	path := writeTemp(t, []byte{})
	const emptySHA256 = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	require.NoError(t, Verify(path, SHA256, emptySHA256))
}
