//go:build !windows

package dispatch

// InstallSource is a no-op: only Windows needs a registered application id.
func InstallSource(Source) error { return nil }

func UninstallSource(string) error { return nil }
