package svcctl

import (
	"os"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestBuildsForEveryPlatform compiles the module for each supported OS so
// build-tagged files cannot drift apart
func TestBuildsForEveryPlatform(t *testing.T) {
	RequireNotShort(t)
	RequireTool(t, "go")

	for _, goos := range []string{"linux", "darwin", "windows"} {
		t.Run(goos, func(t *testing.T) {
			cmd := exec.Command("go", "build", "./...")
			cmd.Env = append(os.Environ(), "GOOS="+goos, "GOARCH=amd64", "CGO_ENABLED=0")
			out, err := cmd.CombinedOutput()
			require.NoError(t, err, "GOOS=%s go build failed:\n%s", goos, out)
		})
	}
}

func TestDefaultBackendKind(t *testing.T) {
	kind := DefaultBackendKind()
	require.NotEqual(t, BackendUnknown, kind)
	require.Equal(t, kind, GetVersion().Backend)
}
