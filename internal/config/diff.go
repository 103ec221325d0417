package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// (endpoints, models, stores) requires a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// QuotaChanged reports a change to any ledger limit or price.
	QuotaChanged bool

	// TiersChanged reports enablement flips, keyed "tier1"/"tier2"/"tier3".
	TiersChanged map[string]bool

	// PersonaChanged reports a change to the styling settings.
	PersonaChanged bool

	// RetryChanged reports a change to the backoff knobs.
	RetryChanged bool
}

// Empty reports whether the diff carries no changes.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.QuotaChanged && !d.PersonaChanged &&
		!d.RetryChanged && len(d.TiersChanged) == 0
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !reflect.DeepEqual(old.Quota, new.Quota) {
		d.QuotaChanged = true
	}

	tiers := map[string][2]bool{
		"tier1": {old.Tier1.Enabled, new.Tier1.Enabled},
		"tier2": {old.Tier2.Enabled, new.Tier2.Enabled},
		"tier3": {old.Tier3.Enabled, new.Tier3.Enabled},
	}
	for name, pair := range tiers {
		if pair[0] != pair[1] {
			if d.TiersChanged == nil {
				d.TiersChanged = make(map[string]bool)
			}
			d.TiersChanged[name] = pair[1]
		}
	}

	if old.Persona != new.Persona {
		d.PersonaChanged = true
	}
	if old.Retry != new.Retry {
		d.RetryChanged = true
	}

	return d
}
