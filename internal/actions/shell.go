package actions

import (
	"fmt"
	"time"
)

// RunResult describes a callback command after it exited.
type RunResult struct {
	// ExitCode is -1 when the process was killed by a signal or could not
	// be waited on.
	ExitCode int
	Duration time.Duration
}

// ShellRunner hands the command string verbatim to cmd.exe or /bin/sh so
// pipes and operators behave as written. The process is started detached
// from toastd and never waited on by the caller: it may outlive the server.
type ShellRunner struct{}

func (ShellRunner) Spawn(command string, exited func(RunResult)) error {
	cmd := shellCommand(command)
	detach(cmd)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start callback command: %w", err)
	}
	go func() {
		cmd.Wait()
		res := RunResult{ExitCode: -1, Duration: time.Since(start)}
		if cmd.ProcessState != nil {
			res.ExitCode = cmd.ProcessState.ExitCode()
		}
		if exited != nil {
			exited(res)
		}
	}()
	return nil
}
