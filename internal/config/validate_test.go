package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

func containsErr(errs []error, substr string) bool {
	for _, err := range errs {
		if strings.Contains(err.Error(), substr) {
			return true
		}
	}
	return false
}

func TestValidateDefaultsAreClean(t *testing.T) {
	cfg := Default()
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Fatalf("default config should validate cleanly, got %v", errs)
	}
}

func TestValidateClampsPort(t *testing.T) {
	cfg := Default()
	cfg.Port = 70000
	errs := cfg.Validate()
	if !containsErr(errs, "port 70000") {
		t.Fatalf("expected port error, got %v", errs)
	}
	if cfg.Port != 3000 {
		t.Fatalf("Port = %d, want 3000", cfg.Port)
	}
}

func TestValidateClampsWorkerSettings(t *testing.T) {
	cfg := Default()
	cfg.ActionWorkers = 0
	cfg.ActionQueueSize = 50000
	errs := cfg.Validate()

	if cfg.ActionWorkers != 1 {
		t.Fatalf("ActionWorkers = %d, want 1", cfg.ActionWorkers)
	}
	if cfg.ActionQueueSize != 10000 {
		t.Fatalf("ActionQueueSize = %d, want 10000", cfg.ActionQueueSize)
	}
	if len(errs) != 2 {
		t.Fatalf("expected 2 clamp errors, got %d: %v", len(errs), errs)
	}
}

func TestValidateWarnsOnRemoteBindWithoutCredentials(t *testing.T) {
	cfg := Default()
	cfg.Bind = "0.0.0.0"
	errs := cfg.Validate()
	if !containsErr(errs, "remote requests will be denied") {
		t.Fatalf("expected deny warning, got %v", errs)
	}

	cfg = Default()
	cfg.Bind = "0.0.0.0"
	cfg.AllowUnauthenticatedRemote = true
	errs = cfg.Validate()
	if !containsErr(errs, "allow_unauthenticated_remote") {
		t.Fatalf("expected open-access warning, got %v", errs)
	}
}

func TestValidateRemoteBindWithCredentialsIsClean(t *testing.T) {
	cfg := Default()
	cfg.Bind = "0.0.0.0"
	cfg.Username = "alice"
	cfg.Password = "secret"
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
}

func TestValidateRejectsMalformedPasswordHash(t *testing.T) {
	cfg := Default()
	cfg.Username = "alice"
	cfg.PasswordHash = "plaintext"
	if !containsErr(cfg.Validate(), "not a bcrypt hash") {
		t.Fatal("expected bcrypt hash error")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("GenerateFromPassword: %v", err)
	}
	cfg = Default()
	cfg.Username = "alice"
	cfg.PasswordHash = string(hash)
	if containsErr(cfg.Validate(), "bcrypt") {
		t.Fatal("valid bcrypt hash should not be reported")
	}
}

func TestValidateRejectsBadAppID(t *testing.T) {
	cfg := Default()
	cfg.AppID = "My App"
	if !containsErr(cfg.Validate(), "app_id") {
		t.Fatal("expected app_id error for value with spaces")
	}
}

func TestValidateLogSettings(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "verbose"
	cfg.LogFormat = "xml"
	errs := cfg.Validate()
	if !containsErr(errs, "log_level") || !containsErr(errs, "log_format") {
		t.Fatalf("expected log errors, got %v", errs)
	}
}

func TestLoadReadsFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "toastd.yaml")
	content := "port: 4000\nusername: bob\npassword: pw\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("TOASTD_BIND", "0.0.0.0")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 4000 {
		t.Fatalf("Port = %d, want 4000", cfg.Port)
	}
	if cfg.Bind != "0.0.0.0" {
		t.Fatalf("Bind = %q, want env override 0.0.0.0", cfg.Bind)
	}
	if !cfg.HasCredentials() {
		t.Fatal("expected credentials from file")
	}
	if cfg.AppID != Default().AppID {
		t.Fatalf("AppID = %q, want default", cfg.AppID)
	}
}

func TestBindsLoopbackOnly(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1": true,
		"::1":       true,
		"localhost": true,
		"0.0.0.0":   false,
		"10.0.0.5":  false,
	}
	for bind, want := range cases {
		cfg := Default()
		cfg.Bind = bind
		if got := cfg.BindsLoopbackOnly(); got != want {
			t.Errorf("BindsLoopbackOnly(%q) = %v, want %v", bind, got, want)
		}
	}
}

func TestYAMLDumpLoadsBack(t *testing.T) {
	want := Default()
	want.Port = 4100
	want.Username = "ops"
	want.RateLimitPerSecond = 2.5
	want.AllowUnauthenticatedRemote = true
	want.LogFormat = "json"

	data, err := yaml.Marshal(want)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(data), "max_connections: 64") {
		t.Fatalf("dump should use config file keys:\n%s", data)
	}
	path := filepath.Join(t.TempDir(), "toastd.yaml")
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("reloaded config differs:\n got %+v\nwant %+v", got, want)
	}
}
