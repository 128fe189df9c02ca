package internal

import (
	"strings"
	"testing"
	"time"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestDefaultConfigValidates(t *testing.T) {
	cfg := NewDefaultConfig()
	// Credentials come from the environment in real deployments.
	cfg.Remote.AccessKey = "minioadmin"
	cfg.Remote.SecretKey = "minioadmin"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestRemoteConfig_RequiresCredentials(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatal("missing credentials should fail validation")
	}
}

func TestSyncConfig_Durations(t *testing.T) {
	c := SyncConfig{Workers: 2, IntervalMinutes: 10, DebounceSeconds: 3, RunTimeoutMinutes: 2, FailureThreshold: 5}
	if err := c.Validate(); err != nil {
		t.Fatal(err)
	}
	if c.Interval() != 10*time.Minute || c.Debounce() != 3*time.Second || c.RunTimeout() != 2*time.Minute {
		t.Errorf("durations = %v/%v/%v", c.Interval(), c.Debounce(), c.RunTimeout())
	}
}

func TestSyncConfig_RejectsZeroWorkers(t *testing.T) {
	c := SyncConfig{Workers: 0, IntervalMinutes: 10, FailureThreshold: 3}
	if err := c.Validate(); err == nil {
		t.Fatal("zero workers should fail validation")
	}
}

func TestRateLimitConfig_Window(t *testing.T) {
	c := RateLimitConfig{ReadCalls: 100, WindowSeconds: 10}
	if err := c.Validate(); err != nil {
		t.Fatal(err)
	}
	if c.Window() != 10*time.Second {
		t.Errorf("window = %v", c.Window())
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Remote.AccessKey = "k"
	cfg.Remote.SecretKey = "s"
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}
