package config_test

import (
	"testing"

	"github.com/MrWong99/sensai/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	old, new := config.Default(), config.Default()
	d := config.Diff(old, new)
	if !d.Empty() {
		t.Errorf("diff of identical configs should be empty, got %+v", d)
	}
}

func TestDiff_LogLevel(t *testing.T) {
	t.Parallel()
	old, new := config.Default(), config.Default()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Fatal("LogLevelChanged should be true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("NewLogLevel = %q, want debug", d.NewLogLevel)
	}
}

func TestDiff_QuotaLimits(t *testing.T) {
	t.Parallel()
	old, new := config.Default(), config.Default()
	new.Quota.DailyTokenLimit = 50000

	d := config.Diff(old, new)
	if !d.QuotaChanged {
		t.Error("QuotaChanged should be true")
	}
	if d.LogLevelChanged {
		t.Error("LogLevelChanged should be false")
	}
}

func TestDiff_QuotaRates(t *testing.T) {
	t.Parallel()
	old, new := config.Default(), config.Default()
	new.Quota.ModelRates = map[string]config.RateConfig{
		"anthropic.claude-3-haiku": {InputPer1K: 0.00025, OutputPer1K: 0.00125},
	}

	if d := config.Diff(old, new); !d.QuotaChanged {
		t.Error("QuotaChanged should be true for rate table changes")
	}
}

func TestDiff_TierEnablement(t *testing.T) {
	t.Parallel()
	old, new := config.Default(), config.Default()
	new.Tier2.Enabled = false
	new.Tier3.Enabled = true

	d := config.Diff(old, new)
	if len(d.TiersChanged) != 2 {
		t.Fatalf("TiersChanged = %v, want two entries", d.TiersChanged)
	}
	if enabled, ok := d.TiersChanged["tier2"]; !ok || enabled {
		t.Errorf("tier2 change = %v/%v, want disabled", enabled, ok)
	}
	if enabled, ok := d.TiersChanged["tier3"]; !ok || !enabled {
		t.Errorf("tier3 change = %v/%v, want enabled", enabled, ok)
	}
}

func TestDiff_TierModelChangeIsNotHotReloadable(t *testing.T) {
	t.Parallel()
	old, new := config.Default(), config.Default()
	new.Tier2.SmallModel = "qwen2.5:3b"

	if d := config.Diff(old, new); !d.Empty() {
		t.Errorf("model swaps need a restart and must not appear in the diff, got %+v", d)
	}
}

func TestDiff_PersonaAndRetry(t *testing.T) {
	t.Parallel()
	old, new := config.Default(), config.Default()
	new.Persona.MaxLength = 300
	new.Retry.MaxRetries = 5

	d := config.Diff(old, new)
	if !d.PersonaChanged {
		t.Error("PersonaChanged should be true")
	}
	if !d.RetryChanged {
		t.Error("RetryChanged should be true")
	}
}
