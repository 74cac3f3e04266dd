//go:build !unix

package engine

import (
	"os/exec"
)

func setProcessGroup(*exec.Cmd) {}

// No process groups here: both steps kill the engine process itself.
func interruptGroup(cmd *exec.Cmd) error {
	return killGroup(cmd)
}

func killGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
