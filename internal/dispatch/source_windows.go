//go:build windows

package dispatch

import (
	"errors"
	"fmt"

	"golang.org/x/sys/windows/registry"
)

const (
	aumidKeyPath    = `Software\Classes\AppUserModelId\`
	settingsKeyPath = `Software\Microsoft\Windows\CurrentVersion\Notifications\Settings\`
)

// InstallSource writes the per-user AppUserModelID registration that lets an
// unpackaged process raise toasts, and enables its notifications.
func InstallSource(src Source) error {
	k, _, err := registry.CreateKey(registry.CURRENT_USER, aumidKeyPath+src.AppID, registry.SET_VALUE)
	if err != nil {
		return fmt.Errorf("create AUMID key: %w", err)
	}
	defer k.Close()

	if err := k.SetStringValue("DisplayName", src.DisplayName); err != nil {
		return fmt.Errorf("set DisplayName: %w", err)
	}
	if err := k.SetDWordValue("ShowInSettings", 1); err != nil {
		return fmt.Errorf("set ShowInSettings: %w", err)
	}
	if src.ExePath != "" {
		if err := k.SetStringValue("", src.ExePath); err != nil {
			return fmt.Errorf("set default value: %w", err)
		}
	}

	s, _, err := registry.CreateKey(registry.CURRENT_USER, settingsKeyPath+src.AppID, registry.SET_VALUE)
	if err != nil {
		return fmt.Errorf("create notification settings key: %w", err)
	}
	defer s.Close()

	for _, name := range []string{"Enabled", "Sound", "ShowInActionCenter"} {
		if err := s.SetDWordValue(name, 1); err != nil {
			return fmt.Errorf("set %s: %w", name, err)
		}
	}

	log.Info("notification source installed", "appId", src.AppID)
	return nil
}

// UninstallSource removes the keys written by InstallSource.
func UninstallSource(appID string) error {
	var errs []error
	for _, path := range []string{aumidKeyPath + appID, settingsKeyPath + appID} {
		if err := registry.DeleteKey(registry.CURRENT_USER, path); err != nil && !errors.Is(err, registry.ErrNotExist) {
			errs = append(errs, fmt.Errorf("delete %s: %w", path, err))
		}
	}
	return errors.Join(errs...)
}
