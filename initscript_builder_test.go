package svcctl

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShellQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "''"},
		{"simple", "simple"},
		{"/usr/bin/api", "/usr/bin/api"},
		{"with space", "'with space'"},
		{"it's", `'it'\''s'`},
		{"$HOME", "'$HOME'"},
		{"a=b", "'a=b'"},
	}
	for _, tt := range tests {
		if got := shellQuote(tt.in); got != tt.want {
			t.Errorf("shellQuote(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestInitScriptContent(t *testing.T) {
	b := NewInitScriptBuilder("api", t.TempDir()).
		WithDescription("API\nserver").
		WithCmd([]string{"/usr/bin/api", "--listen", ":8080 tls"}).
		WithCwd("/srv/api").
		WithEnv("TOKEN", "s3cr3t value").
		WithEnv("A", "1").
		WithPIDFile("/run/svcctl/api.pid").
		WithLogFile("/var/log/svcctl/api.log").
		WithStopGrace(5 * time.Second)

	script, err := b.Script()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(script, "#!/bin/sh\n"))
	assert.Contains(t, script, "# Provides:          api\n")
	assert.Contains(t, script, "# Short-Description: API server\n")
	assert.Contains(t, script, "# Managed by go-svcctl")
	assert.Contains(t, script, "PIDFILE=/run/svcctl/api.pid\n")
	assert.Contains(t, script, "LOGFILE=/var/log/svcctl/api.log\n")
	assert.Contains(t, script, "GRACE=5\n")
	assert.Contains(t, script, "umask 0022\n")
	assert.Contains(t, script, "cd /srv/api || return 1")
	assert.Contains(t, script, "setsid /usr/bin/api --listen ':8080 tls' </dev/null")
	assert.Contains(t, script, `SVCCTL_SERVICE="$NAME"; export SVCCTL_SERVICE`)

	// Environment is emitted in sorted order
	a := strings.Index(script, "A=1; export A")
	tok := strings.Index(script, "TOKEN='s3cr3t value'; export TOKEN")
	require.True(t, a >= 0 && tok >= 0, "env exports missing")
	assert.Less(t, a, tok)

	for _, verb := range []string{"start)", "stop)", "restart|force-reload)", "status)"} {
		assert.Contains(t, script, verb)
	}
}

func TestInitScriptGraceFloor(t *testing.T) {
	script, err := NewInitScriptBuilder("api", t.TempDir()).
		WithCmd([]string{"/bin/true"}).
		WithStopGrace(100 * time.Millisecond).
		Script()
	require.NoError(t, err)
	assert.Contains(t, script, "GRACE=1\n")
}

func TestInitScriptRequiresCommand(t *testing.T) {
	_, err := NewInitScriptBuilder("api", t.TempDir()).Build()
	assert.Error(t, err)

	_, err = NewInitScriptBuilder("api", "").WithCmd([]string{"/bin/true"}).Build()
	assert.Error(t, err)
}

func TestInitScriptRejectsUnsafeEnvKey(t *testing.T) {
	dir := t.TempDir()
	_, err := NewInitScriptBuilder("api", dir).
		WithCmd([]string{"/bin/true"}).
		WithEnv("A;touch pwned", "x").
		Build()
	assert.Error(t, err)

	_, statErr := os.Stat(filepath.Join(dir, "api"))
	assert.True(t, os.IsNotExist(statErr), "no script is written for an unsafe key")
}

func TestInitScriptBuildWritesExecutable(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "init.d")
	path, err := NewInitScriptBuilder("api", dir).WithCmd([]string{"/bin/true"}).Build()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "api"), path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0o111, "script should be executable")
}

func TestRunlevelLinks(t *testing.T) {
	rc := t.TempDir()
	for _, lvl := range []string{"rc0.d", "rc2.d", "rc3.d"} {
		require.NoError(t, os.Mkdir(filepath.Join(rc, lvl), 0o755))
	}
	script := filepath.Join(rc, "api")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\n"), 0o755))

	created, err := linkRunlevels(rc, "api", script)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		filepath.Join(rc, "rc2.d", "S99api"),
		filepath.Join(rc, "rc3.d", "S99api"),
		filepath.Join(rc, "rc0.d", "K01api"),
	}, created)

	target, err := os.Readlink(filepath.Join(rc, "rc2.d", "S99api"))
	require.NoError(t, err)
	assert.Equal(t, script, target)

	// Relinking replaces existing links
	_, err = linkRunlevels(rc, "api", script)
	require.NoError(t, err)

	require.NoError(t, unlinkRunlevels(rc, "api"))
	for _, link := range created {
		_, err := os.Lstat(link)
		assert.True(t, errors.Is(err, os.ErrNotExist), "%s should be gone", link)
	}

	// Unlinking again is a no-op
	require.NoError(t, unlinkRunlevels(rc, "api"))
}

// TestInitScriptLifecycle drives a generated script with the shell the way
// init would at boot
func TestInitScriptLifecycle(t *testing.T) {
	RequirePOSIX(t)
	RequireNotShort(t)
	RequireTool(t, "sleep")

	dir := t.TempDir()
	pidFile := filepath.Join(dir, "run", "api.pid")
	path, err := NewInitScriptBuilder("api", dir).
		WithCmd([]string{"sleep", "30"}).
		WithPIDFile(pidFile).
		WithLogFile(filepath.Join(dir, "api.log")).
		WithStopGrace(time.Second).
		Build()
	require.NoError(t, err)

	run := func(verb string) (string, int) {
		out, err := exec.Command("/bin/sh", path, verb).CombinedOutput()
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return string(out), exitErr.ExitCode()
		}
		require.NoError(t, err)
		return string(out), 0
	}

	out, code := run("status")
	assert.Equal(t, 3, code, out)

	out, code = run("start")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "api started")

	data, err := os.ReadFile(pidFile)
	require.NoError(t, err)
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	require.NoError(t, err)
	t.Cleanup(func() {
		if p, err := os.FindProcess(pid); err == nil {
			_ = p.Kill()
		}
	})

	out, code = run("status")
	assert.Equal(t, 0, code, out)

	out, code = run("start")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "already running")

	out, code = run("stop")
	require.Equal(t, 0, code, out)
	require.NoError(t, WaitForProcessExit(t, pid, 3*time.Second))

	_, err = os.Stat(pidFile)
	assert.True(t, errors.Is(err, os.ErrNotExist), "pidfile should be removed")

	out, code = run("bogus")
	assert.Equal(t, 2, code, out)
}
