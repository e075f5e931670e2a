// Package embedded carries the default base image definition used when a
// habitat does not provide its own Dockerfile.
package embedded

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jeanhaley32/claude-habitat/internal/constants"
)

//go:embed Dockerfile
var Dockerfile []byte

// BaseImageArg is the build argument selecting the FROM image of the
// embedded Dockerfile.
const BaseImageArg = "BASE_IMAGE"

// WriteBuildContext writes the embedded Dockerfile into a fresh temporary
// directory. The caller must call cleanup when the build is done.
func WriteBuildContext() (dir string, cleanup func(), err error) {
	// Create temp directory for build context
	tempDir, err := os.MkdirTemp("", "claude-habitat-build-*")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	cleanup = func() { _ = os.RemoveAll(tempDir) }

	// Write Dockerfile to temp directory
	dockerfilePath := filepath.Join(tempDir, "Dockerfile")
	if err := os.WriteFile(dockerfilePath, Dockerfile, constants.FilePermissions|0044); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to write Dockerfile: %w", err)
	}

	return tempDir, cleanup, nil
}
