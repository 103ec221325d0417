package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/sensai/internal/config"
)

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	valid := []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError}
	for _, l := range valid {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	if config.LogLevel("bananas").IsValid() {
		t.Error("bananas should not be a valid log level")
	}
	if config.LogLevel("").IsValid() {
		t.Error("empty log level should not be valid")
	}
}

func TestDuration_UnmarshalString(t *testing.T) {
	t.Parallel()
	yaml := `
conversation:
  cleanup_age: 36h
  cleanup_interval: 90s
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Conversation.CleanupAge.Std() != 36*time.Hour {
		t.Errorf("cleanup_age = %v, want 36h", cfg.Conversation.CleanupAge.Std())
	}
	if cfg.Conversation.CleanupInterval.Std() != 90*time.Second {
		t.Errorf("cleanup_interval = %v, want 90s", cfg.Conversation.CleanupInterval.Std())
	}
}

func TestDuration_UnmarshalInteger(t *testing.T) {
	t.Parallel()
	yaml := `
conversation:
  cleanup_age: 1000000000
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Conversation.CleanupAge.Std() != time.Second {
		t.Errorf("cleanup_age = %v, want 1s from nanoseconds", cfg.Conversation.CleanupAge.Std())
	}
}

func TestDuration_UnmarshalBadString(t *testing.T) {
	t.Parallel()
	yaml := `
conversation:
  cleanup_age: "soonish"
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected error for unparseable duration, got nil")
	}
}

func TestDefault_IsValid(t *testing.T) {
	t.Parallel()
	if err := config.Validate(config.Default()); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestRegistry_CreateUnknownProvider(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	_, err := r.CreateLocalModel(config.Tier2Config{Provider: "frobnicator"})
	if err == nil {
		t.Fatal("expected error for unregistered provider, got nil")
	}
	if !strings.Contains(err.Error(), "not registered") {
		t.Errorf("error = %v", err)
	}
}

func TestDefaultRegistry_KnowsBuiltins(t *testing.T) {
	t.Parallel()
	r := config.DefaultRegistry()
	names := r.Names()
	for _, want := range []string{"ollama", "llamacpp", "openai"} {
		found := false
		for _, n := range names {
			if n == want {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("registry missing built-in provider %q (have %v)", want, names)
		}
	}
}
