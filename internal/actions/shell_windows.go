//go:build windows

package actions

import (
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"
)

// shellCommand hands the string to cmd.exe untouched. Go's argument quoting
// would escape the quotes and carets cmd.exe relies on, so the command line
// is set raw.
func shellCommand(command string) *exec.Cmd {
	comspec := os.Getenv("ComSpec")
	if comspec == "" {
		comspec = `C:\Windows\System32\cmd.exe`
	}
	cmd := exec.Command(comspec)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CmdLine:    syscall.EscapeArg(comspec) + ` /D /S /C "` + command + `"`,
		HideWindow: true,
	}
	return cmd
}

// detach puts cmd.exe in its own process group so console control events
// aimed at toastd do not reach it.
func detach(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.CreationFlags |= windows.CREATE_NEW_PROCESS_GROUP
}
