package executil

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
)

// Invocation describes a process started without a shell.
type Invocation struct {
	// Path is the executable path or a name resolved through PATH.
	Path string
	// Args are passed verbatim as argv[1:].
	Args []string
	// Dir is the working directory; empty inherits the current one.
	Dir string
	// Env is the complete process environment.
	Env []string
}

// BuildCommand builds an exec.Cmd from an invocation. Arguments are never
// joined into a shell string.
func BuildCommand(inv Invocation) *exec.Cmd {
	cmd := exec.Command(inv.Path, inv.Args...)
	cmd.Dir = inv.Dir
	if inv.Env != nil {
		cmd.Env = inv.Env
	}
	return cmd
}

// MergeEnv returns base with extra variables appended in key order.
// Later entries win when the process reads duplicates.
func MergeEnv(base []string, extra map[string]string) []string {
	out := make([]string, 0, len(base)+len(extra))
	out = append(out, base...)
	keys := make([]string, 0, len(extra))
	for key := range extra {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		out = append(out, fmt.Sprintf("%s=%s", key, extra[key]))
	}
	return out
}

// ExitCode returns the exit code carried by err, or -1.
func ExitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// ResolveExecutable checks that path names an executable file. Bare names are
// looked up in PATH.
func ResolveExecutable(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("executable path is empty")
	}
	if !strings.ContainsRune(path, filepath.Separator) && !strings.ContainsRune(path, '/') {
		return exec.LookPath(path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", path)
	}
	if info.Mode().Perm()&0o111 == 0 {
		return "", fmt.Errorf("%s: %w", path, os.ErrPermission)
	}
	return path, nil
}
