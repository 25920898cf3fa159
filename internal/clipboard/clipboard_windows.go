//go:build windows

package clipboard

import (
	"context"
	"fmt"
	"runtime"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

const (
	cfUnicodeText = 13
	gmemMoveable  = 0x0002
)

var (
	user32   = windows.NewLazySystemDLL("user32.dll")
	kernel32 = windows.NewLazySystemDLL("kernel32.dll")

	procOpenClipboard    = user32.NewProc("OpenClipboard")
	procCloseClipboard   = user32.NewProc("CloseClipboard")
	procEmptyClipboard   = user32.NewProc("EmptyClipboard")
	procSetClipboardData = user32.NewProc("SetClipboardData")
	procGlobalAlloc      = kernel32.NewProc("GlobalAlloc")
	procGlobalFree       = kernel32.NewProc("GlobalFree")
	procGlobalLock       = kernel32.NewProc("GlobalLock")
	procGlobalUnlock     = kernel32.NewProc("GlobalUnlock")
)

// win32Writer sets CF_UNICODETEXT through the Win32 clipboard API.
type win32Writer struct{}

func NewSystem() Writer {
	return win32Writer{}
}

func (win32Writer) WriteText(ctx context.Context, text string) error {
	// The clipboard is owned by the thread that opened it.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := openClipboard(ctx); err != nil {
		return err
	}
	defer procCloseClipboard.Call()

	if r, _, err := procEmptyClipboard.Call(); r == 0 {
		return fmt.Errorf("EmptyClipboard: %w", err)
	}
	if err := writeClipboardText(text); err != nil {
		return err
	}
	log.Debug("clipboard updated", "length", len(text))
	return nil
}

// openClipboard retries briefly because another process may hold the
// clipboard open.
func openClipboard(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt < 10; attempt++ {
		r, _, err := procOpenClipboard.Call(0)
		if r != 0 {
			return nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}
	return fmt.Errorf("%w: OpenClipboard: %v", ErrUnavailable, lastErr)
}

func writeClipboardText(text string) error {
	utf16Text, err := windows.UTF16FromString(text)
	if err != nil {
		return fmt.Errorf("encode clipboard text: %w", err)
	}
	size := uintptr(len(utf16Text) * 2)

	handle, _, err := procGlobalAlloc.Call(gmemMoveable, size)
	if handle == 0 {
		return fmt.Errorf("GlobalAlloc: %w", err)
	}
	ptr, _, err := procGlobalLock.Call(handle)
	if ptr == 0 {
		procGlobalFree.Call(handle)
		return fmt.Errorf("GlobalLock: %w", err)
	}
	dst := unsafe.Slice((*uint16)(unsafe.Pointer(ptr)), len(utf16Text))
	copy(dst, utf16Text)
	procGlobalUnlock.Call(handle)

	if r, _, err := procSetClipboardData.Call(cfUnicodeText, handle); r == 0 {
		procGlobalFree.Call(handle)
		return fmt.Errorf("SetClipboardData: %w", err)
	}
	// The system owns handle after a successful SetClipboardData.
	return nil
}
