package mcphub

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// socketDir namespaces hub sockets under the OS temp directory so they
// never collide with another tool's sockets.
const socketDir = "csa-mcp-hub"

// HubKey derives the stable identity of a shared hub socket from a
// project root and a hash of the toolchain (tool name + version + model
// spec) using it, so two different toolchains working the same project
// never share a hub, but repeated runs of the same toolchain against the
// same project do.
func HubKey(projectRoot, toolchainHash string) string {
	sum := sha256.Sum256([]byte(projectRoot + "\x00" + toolchainHash))
	return hex.EncodeToString(sum[:])[:16]
}

// SocketPath returns the Unix domain socket path for a given hub key,
// rooted under the OS temp directory.
func SocketPath(key string) string {
	return filepath.Join(os.TempDir(), socketDir, fmt.Sprintf("%s.sock", key))
}
