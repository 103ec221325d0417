package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. Keys absent from the file keep their default values;
// unknown keys are ignored so configs stay forward-compatible.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	if cfg.Tier2.Enabled {
		if cfg.Tier2.SmallModel == "" {
			errs = append(errs, errors.New("tier2.small_model is required when tier2 is enabled"))
		}
		if cfg.Tier2.Provider == "" {
			errs = append(errs, errors.New("tier2.provider is required when tier2 is enabled"))
		}
		if cfg.Tier2.Temperature < 0 || cfg.Tier2.Temperature > 2 {
			errs = append(errs, fmt.Errorf("tier2.temperature %.2f is out of range [0, 2]", cfg.Tier2.Temperature))
		}
		if cfg.Tier2.Cache.Dir != "" && cfg.Tier2.Cache.MaxEntries <= 0 {
			errs = append(errs, errors.New("tier2.cache.max_entries must be positive when the cache is enabled"))
		}
	}

	if cfg.Tier3.Enabled {
		if cfg.Tier3.Endpoint == "" {
			errs = append(errs, errors.New("tier3.endpoint is required when tier3 is enabled"))
		}
		if cfg.Tier3.Model == "" {
			errs = append(errs, errors.New("tier3.model is required when tier3 is enabled"))
		}
		if cfg.Tier3.Temperature < 0 || cfg.Tier3.Temperature > 2 {
			errs = append(errs, fmt.Errorf("tier3.temperature %.2f is out of range [0, 2]", cfg.Tier3.Temperature))
		}
		if cfg.Tier3.SigningSecret == "" {
			slog.Warn("tier3.signing_secret is empty; remote requests will be unsigned")
		}
	}

	if !cfg.Tier1.Enabled && !cfg.Tier2.Enabled && !cfg.Tier3.Enabled {
		errs = append(errs, errors.New("at least one tier must be enabled"))
	}
	if !cfg.Tier1.Enabled {
		slog.Warn("tier1 is disabled; the cascade loses its no-cost floor and may answer 'unavailable' more often")
	}

	// Quota limits: -1 is unlimited, 0 denies every remote call, positive
	// enforces. Other negatives are typos.
	if lim := cfg.Quota.DailyTokenLimit; lim < -1 {
		errs = append(errs, fmt.Errorf("quota.daily_token_limit %d must be -1 (unlimited), 0 (deny all), or positive", lim))
	}
	if lim := cfg.Quota.HourlyRequestLimit; lim < -1 {
		errs = append(errs, fmt.Errorf("quota.hourly_request_limit %d must be -1 (unlimited), 0 (deny all), or positive", lim))
	}
	if lim := cfg.Quota.MonthlyCostLimit; lim < 0 && lim != -1 {
		errs = append(errs, fmt.Errorf("quota.monthly_cost_limit %.2f must be -1 (unlimited), 0 (deny all), or positive", lim))
	}
	for model, rate := range cfg.Quota.ModelRates {
		if rate.InputPer1K < 0 || rate.OutputPer1K < 0 {
			errs = append(errs, fmt.Errorf("quota.model_rates[%q] has a negative price", model))
		}
	}

	if cfg.Knowledge.PostgresDSN != "" {
		if cfg.Knowledge.Embeddings.Model == "" {
			errs = append(errs, errors.New("knowledge.embeddings.model is required when knowledge.postgres_dsn is set"))
		}
		if cfg.Knowledge.TopK <= 0 {
			errs = append(errs, fmt.Errorf("knowledge.top_k %d must be positive", cfg.Knowledge.TopK))
		}
	}

	if cfg.Conversation.MaxHistory <= 0 {
		errs = append(errs, fmt.Errorf("conversation.max_history %d must be positive", cfg.Conversation.MaxHistory))
	}

	if cfg.Retry.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("retry.max_retries %d is negative", cfg.Retry.MaxRetries))
	}
	if cfg.Retry.BackoffFactor != 0 && cfg.Retry.BackoffFactor < 1 {
		errs = append(errs, fmt.Errorf("retry.backoff_factor %.2f must be at least 1", cfg.Retry.BackoffFactor))
	}

	return errors.Join(errs...)
}
