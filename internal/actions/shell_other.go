//go:build !unix && !windows

package actions

import "os/exec"

func shellCommand(command string) *exec.Cmd {
	return exec.Command("sh", "-c", command)
}

func detach(*exec.Cmd) {}
