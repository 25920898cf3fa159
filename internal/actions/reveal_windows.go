//go:build windows

package actions

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"unsafe"

	ole "github.com/go-ole/go-ole"
	"golang.org/x/sys/windows"
)

var (
	shell32                        = windows.NewLazySystemDLL("shell32.dll")
	procILCreateFromPathW          = shell32.NewProc("ILCreateFromPathW")
	procILFree                     = shell32.NewProc("ILFree")
	procSHOpenFolderAndSelectItems = shell32.NewProc("SHOpenFolderAndSelectItems")
)

// explorerRevealer selects the file in an Explorer window.
type explorerRevealer struct{}

func NewSystemRevealer() Revealer {
	return explorerRevealer{}
}

func (explorerRevealer) Reveal(ctx context.Context, path string) error {
	err := withCOM(func() error { return openFolderAndSelect(path) })
	if err == nil {
		return nil
	}
	log.Debug("SHOpenFolderAndSelectItems failed, falling back to explorer.exe", "error", err)

	// explorer.exe exits non-zero even on success.
	cmd := exec.Command("explorer.exe", "/select,"+path)
	if startErr := cmd.Start(); startErr != nil {
		return fmt.Errorf("reveal %s: %w", path, startErr)
	}
	go cmd.Wait()
	return nil
}

func withCOM(fn func() error) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := ole.CoInitializeEx(0, ole.COINIT_APARTMENTTHREADED); err != nil {
		// S_FALSE: already initialized on this thread, still needs a
		// matching CoUninitialize.
		if oleErr, ok := err.(*ole.OleError); !ok || oleErr.Code() != 1 {
			return fmt.Errorf("failed to initialize COM: %w", err)
		}
	}
	defer ole.CoUninitialize()

	return fn()
}

func openFolderAndSelect(path string) error {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return err
	}
	pidl, _, _ := procILCreateFromPathW.Call(uintptr(unsafe.Pointer(p)))
	if pidl == 0 {
		return fmt.Errorf("ILCreateFromPath failed for %s", path)
	}
	defer procILFree.Call(pidl)

	hr, _, _ := procSHOpenFolderAndSelectItems.Call(pidl, 0, 0, 0)
	if hr != 0 {
		return fmt.Errorf("SHOpenFolderAndSelectItems: 0x%08X", uint32(hr))
	}
	return nil
}
