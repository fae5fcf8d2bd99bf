package audit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashFileKnownContent(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "known.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello audit\n"), 0o644))

	hash, err := HashFile(path)
	require.NoError(t, err)
	require.Equal(t, "sha256:bec643d1108ea13610b570e988b95dfb0fcbca41effc8e32d543505b330c8c87", hash)
}
