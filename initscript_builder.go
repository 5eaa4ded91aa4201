package svcctl

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/renameio/v2/maybe"
)

// Runlevels that start or stop an auto-started init script
var (
	startRunlevels = []int{2, 3, 4, 5}
	stopRunlevels  = []int{0, 1, 6}
)

// InitScriptBuilder provides a fluent interface for generating an LSB init
// script that daemonizes a command with a pidfile, the same way the
// init-script backend does.
type InitScriptBuilder struct {
	// Name is the service name
	Name string
	// Dir is the directory where the script is written
	Dir string
	// Description is placed in the LSB header
	Description string
	// Cmd is the command and arguments to execute
	Cmd []string
	// Cwd is the working directory for the service
	Cwd string
	// Umask sets the file mode creation mask
	Umask fs.FileMode
	// Env contains environment variables for the service
	Env map[string]string
	// PIDFile is where the daemon PID is recorded
	PIDFile string
	// LogFile receives stdout and stderr
	LogFile string
	// StopGrace is the wait between TERM and KILL
	StopGrace time.Duration
}

// NewInitScriptBuilder creates a new InitScriptBuilder with default settings
func NewInitScriptBuilder(name, dir string) *InitScriptBuilder {
	return &InitScriptBuilder{
		Name:      name,
		Dir:       dir,
		Env:       make(map[string]string),
		Umask:     DefaultUmask,
		PIDFile:   filepath.Join(DefaultRunDir, name+".pid"),
		LogFile:   "/dev/null",
		StopGrace: DefaultStopGrace,
	}
}

// WithDescription sets the LSB description
func (b *InitScriptBuilder) WithDescription(desc string) *InitScriptBuilder {
	b.Description = desc
	return b
}

// WithCmd sets the command to execute
func (b *InitScriptBuilder) WithCmd(cmd []string) *InitScriptBuilder {
	b.Cmd = cmd
	return b
}

// WithCwd sets the working directory
func (b *InitScriptBuilder) WithCwd(cwd string) *InitScriptBuilder {
	b.Cwd = cwd
	return b
}

// WithUmask sets the file mode creation mask
func (b *InitScriptBuilder) WithUmask(umask fs.FileMode) *InitScriptBuilder {
	b.Umask = umask
	return b
}

// WithEnv adds an environment variable
func (b *InitScriptBuilder) WithEnv(key, value string) *InitScriptBuilder {
	b.Env[key] = value
	return b
}

// WithPIDFile sets the pidfile path
func (b *InitScriptBuilder) WithPIDFile(path string) *InitScriptBuilder {
	b.PIDFile = path
	return b
}

// WithLogFile sets the file receiving the daemon's output
func (b *InitScriptBuilder) WithLogFile(path string) *InitScriptBuilder {
	b.LogFile = path
	return b
}

// WithStopGrace sets the wait between TERM and KILL
func (b *InitScriptBuilder) WithStopGrace(d time.Duration) *InitScriptBuilder {
	b.StopGrace = d
	return b
}

// Path returns where Build writes the script
func (b *InitScriptBuilder) Path() string {
	return filepath.Join(b.Dir, b.Name)
}

// Build writes the init script atomically and returns its path
func (b *InitScriptBuilder) Build() (string, error) {
	if b.Dir == "" {
		return "", fmt.Errorf("init directory not specified")
	}
	script, err := b.Script()
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(b.Dir, DirMode); err != nil {
		return "", fmt.Errorf("creating init directory: %w", err)
	}

	path := b.Path()
	if err := maybe.WriteFile(path, []byte(script), ExecMode); err != nil {
		return "", fmt.Errorf("writing init script: %w", err)
	}
	return path, nil
}

// Script generates the init script content
func (b *InitScriptBuilder) Script() (string, error) {
	if len(b.Cmd) == 0 {
		return "", fmt.Errorf("command not specified")
	}
	if err := validateEnv(b.Env); err != nil {
		return "", err
	}

	desc := b.Description
	if desc == "" {
		desc = b.Name + " service"
	}
	desc = strings.ReplaceAll(desc, "\n", " ")

	grace := int(b.StopGrace / time.Second)
	if grace < 1 {
		grace = 1
	}

	var s strings.Builder
	s.WriteString("#!/bin/sh\n")
	s.WriteString("### BEGIN INIT INFO\n")
	fmt.Fprintf(&s, "# Provides:          %s\n", b.Name)
	s.WriteString("# Required-Start:    $remote_fs $syslog\n")
	s.WriteString("# Required-Stop:     $remote_fs $syslog\n")
	s.WriteString("# Default-Start:     2 3 4 5\n")
	s.WriteString("# Default-Stop:      0 1 6\n")
	fmt.Fprintf(&s, "# Short-Description: %s\n", desc)
	fmt.Fprintf(&s, "# Description:       %s\n", desc)
	s.WriteString("### END INIT INFO\n")
	s.WriteString("# Managed by go-svcctl\n\n")

	fmt.Fprintf(&s, "NAME=%s\n", shellQuote(b.Name))
	fmt.Fprintf(&s, "PIDFILE=%s\n", shellQuote(b.PIDFile))
	fmt.Fprintf(&s, "LOGFILE=%s\n", shellQuote(b.LogFile))
	fmt.Fprintf(&s, "GRACE=%d\n\n", grace)

	if b.Umask != 0 {
		fmt.Fprintf(&s, "umask %04o\n", b.Umask)
	}

	keys := make([]string, 0, len(b.Env))
	for k := range b.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&s, "%s=%s; export %s\n", k, shellQuote(b.Env[k]), k)
	}
	fmt.Fprintf(&s, "%s=\"$NAME\"; export %s\n\n", EnvServiceName, EnvServiceName)

	cmdParts := make([]string, 0, len(b.Cmd))
	for _, part := range b.Cmd {
		cmdParts = append(cmdParts, shellQuote(part))
	}
	cmdLine := strings.Join(cmdParts, " ")

	s.WriteString("running() {\n")
	s.WriteString("\t[ -f \"$PIDFILE\" ] || return 1\n")
	s.WriteString("\tPID=$(cat \"$PIDFILE\" 2>/dev/null)\n")
	s.WriteString("\t[ -n \"$PID\" ] && kill -0 \"$PID\" 2>/dev/null\n")
	s.WriteString("}\n\n")

	s.WriteString("start() {\n")
	s.WriteString("\tif running; then\n\t\techo \"$NAME already running (pid $PID)\"\n\t\treturn 0\n\tfi\n")
	s.WriteString("\tmkdir -p \"$(dirname \"$PIDFILE\")\"\n")
	if b.Cwd != "" {
		fmt.Fprintf(&s, "\tcd %s || return 1\n", shellQuote(b.Cwd))
	}
	s.WriteString("\tif command -v setsid >/dev/null 2>&1; then\n")
	fmt.Fprintf(&s, "\t\tsetsid %s </dev/null >>\"$LOGFILE\" 2>&1 &\n", cmdLine)
	s.WriteString("\telse\n")
	fmt.Fprintf(&s, "\t\t%s </dev/null >>\"$LOGFILE\" 2>&1 &\n", cmdLine)
	s.WriteString("\tfi\n")
	s.WriteString("\techo $! >\"$PIDFILE\"\n")
	s.WriteString("\techo \"$NAME started (pid $!)\"\n")
	s.WriteString("}\n\n")

	s.WriteString("stop() {\n")
	s.WriteString("\tif ! running; then\n\t\trm -f \"$PIDFILE\"\n\t\techo \"$NAME not running\"\n\t\treturn 0\n\tfi\n")
	s.WriteString("\tkill -TERM -- \"-$PID\" 2>/dev/null || kill -TERM \"$PID\"\n")
	s.WriteString("\ti=0\n")
	s.WriteString("\twhile kill -0 \"$PID\" 2>/dev/null; do\n")
	s.WriteString("\t\tif [ \"$i\" -ge \"$GRACE\" ]; then\n")
	s.WriteString("\t\t\tkill -KILL -- \"-$PID\" 2>/dev/null || kill -KILL \"$PID\"\n")
	s.WriteString("\t\t\tbreak\n")
	s.WriteString("\t\tfi\n")
	s.WriteString("\t\tsleep 1\n")
	s.WriteString("\t\ti=$((i + 1))\n")
	s.WriteString("\tdone\n")
	s.WriteString("\trm -f \"$PIDFILE\"\n")
	s.WriteString("\techo \"$NAME stopped\"\n")
	s.WriteString("}\n\n")

	s.WriteString("case \"$1\" in\n")
	s.WriteString("\tstart)\n\t\tstart\n\t\t;;\n")
	s.WriteString("\tstop)\n\t\tstop\n\t\t;;\n")
	s.WriteString("\trestart|force-reload)\n\t\tstop\n\t\tstart\n\t\t;;\n")
	s.WriteString("\tstatus)\n")
	s.WriteString("\t\tif running; then\n\t\t\techo \"$NAME running (pid $PID)\"\n\t\t\texit 0\n\t\tfi\n")
	s.WriteString("\t\techo \"$NAME not running\"\n\t\texit 3\n\t\t;;\n")
	s.WriteString("\t*)\n\t\techo \"Usage: $0 {start|stop|restart|status}\" >&2\n\t\texit 2\n\t\t;;\n")
	s.WriteString("esac\n")

	return s.String(), nil
}

// runlevelLinks returns the rcN.d symlink paths for name under rcDir
func runlevelLinks(rcDir, name string) []string {
	links := make([]string, 0, len(startRunlevels)+len(stopRunlevels))
	for _, lvl := range startRunlevels {
		links = append(links, filepath.Join(rcDir, fmt.Sprintf("rc%d.d", lvl), "S99"+name))
	}
	for _, lvl := range stopRunlevels {
		links = append(links, filepath.Join(rcDir, fmt.Sprintf("rc%d.d", lvl), "K01"+name))
	}
	return links
}

// linkRunlevels registers the script for boot in every runlevel directory
// that exists. Missing runlevel directories are skipped.
func linkRunlevels(rcDir, name, script string) ([]string, error) {
	var created []string
	for _, link := range runlevelLinks(rcDir, name) {
		if _, err := os.Stat(filepath.Dir(link)); err != nil {
			continue
		}
		_ = os.Remove(link)
		if err := os.Symlink(script, link); err != nil {
			return created, fmt.Errorf("linking %s: %w", link, err)
		}
		created = append(created, link)
	}
	return created, nil
}

// unlinkRunlevels removes the boot registration created by linkRunlevels
func unlinkRunlevels(rcDir, name string) error {
	merr := &MultiError{}
	for _, link := range runlevelLinks(rcDir, name) {
		if err := os.Remove(link); err != nil && !errors.Is(err, fs.ErrNotExist) {
			merr.Add(err)
		}
	}
	return merr.Err()
}

// shellQuote escapes a string for safe use in shell scripts
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}

	if !needsShellQuoting(s) {
		return s
	}

	return "'" + strings.ReplaceAll(s, "'", "'\\''") + "'"
}

// needsShellQuoting checks if a string contains characters that require shell quoting
func needsShellQuoting(s string) bool {
	const specialChars = " \t\n'\"\\$`!*?[](){}<>|&;~#="

	for _, r := range s {
		if strings.ContainsRune(specialChars, r) {
			return true
		}
	}
	return false
}
