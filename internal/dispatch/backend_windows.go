//go:build windows

package dispatch

import (
	"bufio"
	"context"
	_ "embed"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"
	"unicode/utf16"

	"golang.org/x/sys/windows"

	"github.com/toastd/toastd/internal/toast"
)

//go:embed bridge.ps1
var bridgeScript string

const bridgeStartTimeout = 30 * time.Second

// toastBridgeBackend drives WinRT toasts through a long-lived Windows
// PowerShell process, which can subscribe to ToastNotification events.
type toastBridgeBackend struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	br     *bridge
	exited chan struct{}
}

// NewBackend returns the notification backend for this platform.
func NewBackend() Backend {
	return &toastBridgeBackend{}
}

func (b *toastBridgeBackend) Start(ctx context.Context, src Source, emit func(Event)) error {
	if err := InstallSource(src); err != nil {
		return err
	}

	cmd := exec.Command(powershellPath(),
		"-NoLogo", "-NoProfile", "-NonInteractive",
		"-ExecutionPolicy", "Bypass",
		"-EncodedCommand", encodePowerShell(bridgeScript))
	cmd.Env = append(os.Environ(), "TOASTD_APP_ID="+src.AppID)
	cmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: true, CreationFlags: windows.CREATE_NO_WINDOW}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("bridge stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("bridge stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("bridge stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start toast bridge: %w", err)
	}

	b.cmd = cmd
	b.stdin = stdin
	b.br = newBridge(stdin, emit)
	b.exited = make(chan struct{})

	go b.br.readLoop(stdout)
	go logStderr(stderr)
	go func() {
		err := cmd.Wait()
		log.Info("toast bridge exited", "error", err)
		close(b.exited)
	}()

	readyCtx, cancel := context.WithTimeout(ctx, bridgeStartTimeout)
	defer cancel()
	if err := b.br.waitReady(readyCtx); err != nil {
		b.Close()
		return fmt.Errorf("toast bridge did not start: %w", err)
	}
	log.Info("toast bridge running", "pid", cmd.Process.Pid)
	return nil
}

func (b *toastBridgeBackend) Show(ctx context.Context, p toast.Payload) error {
	if b.br == nil {
		return errBackendClosed
	}
	return b.br.show(ctx, p.CorrelationID, p.XML)
}

func (b *toastBridgeBackend) Forget(tag string) {
	if b.br != nil {
		b.br.forget(tag)
	}
}

// Close ends the bridge by closing its stdin and kills it if it lingers.
func (b *toastBridgeBackend) Close() error {
	if b.cmd == nil {
		return nil
	}
	b.br.closing.Store(true)
	b.stdin.Close()

	select {
	case <-b.exited:
	case <-time.After(3 * time.Second):
		log.Warn("toast bridge did not exit, killing it")
		b.cmd.Process.Kill()
		<-b.exited
	}
	return nil
}

func powershellPath() string {
	if root := os.Getenv("SystemRoot"); root != "" {
		p := filepath.Join(root, "System32", "WindowsPowerShell", "v1.0", "powershell.exe")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return "powershell.exe"
}

// encodePowerShell produces the base64 UTF-16LE form -EncodedCommand expects.
func encodePowerShell(script string) string {
	units := utf16.Encode([]rune(script))
	buf := make([]byte, len(units)*2)
	for i, u := range units {
		binary.LittleEndian.PutUint16(buf[i*2:], u)
	}
	return base64.StdEncoding.EncodeToString(buf)
}

func logStderr(r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		log.Warn("toast bridge stderr", "line", truncate(sc.Text(), 500))
	}
}
