// Package usage tracks remote-model spend and enforces admission quotas.
//
// The [Ledger] is an append-only record of model calls with three sliding
// quota windows: tokens over the last 24 hours, requests over the last hour,
// and cost over the last 30 days. Admission checks and the subsequent record
// are not atomic with respect to each other; concurrent callers may drift
// slightly over budget, and the next check corrects.
package usage

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/sensai/pkg/types"
)

// ModelRate prices one model in dollars per thousand tokens.
type ModelRate struct {
	// InputPer1K is the cost of one thousand prompt tokens.
	InputPer1K float64 `yaml:"input_per_1k"`

	// OutputPer1K is the cost of one thousand completion tokens.
	OutputPer1K float64 `yaml:"output_per_1k"`
}

// Quota configures the ledger's admission limits. A negative limit disables
// that check; a zero limit denies every admission, acting as a spend kill
// switch an operator can flip without restarting.
type Quota struct {
	// DailyTokenLimit caps successful tokens over the last 24 hours.
	DailyTokenLimit int `yaml:"daily_token_limit"`

	// HourlyRequestLimit caps calls (successful or not) over the last hour.
	HourlyRequestLimit int `yaml:"hourly_request_limit"`

	// MonthlyCostLimit caps dollar spend over the last 30 days.
	MonthlyCostLimit float64 `yaml:"monthly_cost_limit"`

	// ModelRates prices known models. Models absent from the table are
	// priced at DefaultRate.
	ModelRates map[string]ModelRate `yaml:"model_rates"`

	// DefaultRate prices models missing from ModelRates.
	DefaultRate ModelRate `yaml:"default_rate"`
}

// rate returns the pricing for model.
func (q Quota) rate(model string) ModelRate {
	if r, ok := q.ModelRates[model]; ok {
		return r
	}
	return q.DefaultRate
}

// Cost computes the dollar cost of a token pair for model.
func (q Quota) Cost(model string, inputTokens, outputTokens int) float64 {
	r := q.rate(model)
	return float64(inputTokens)/1000*r.InputPer1K + float64(outputTokens)/1000*r.OutputPer1K
}

// Persister durably stores ledger records. Implementations must tolerate
// concurrent Append calls from a single Ledger (which serializes them).
type Persister interface {
	// Append durably stores one record.
	Append(rec types.UsageRecord) error

	// Load returns all previously stored records in append order.
	Load() ([]types.UsageRecord, error)
}

// Ledger is a thread-safe, append-only usage account with quota admission.
type Ledger struct {
	mu      sync.Mutex
	records []types.UsageRecord
	quota   Quota
	persist Persister
	now     func() time.Time
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithPersister stores every record through p and seeds the ledger with the
// records p has already accumulated.
func WithPersister(p Persister) Option {
	return func(l *Ledger) { l.persist = p }
}

// NewLedger creates a ledger enforcing quota. Without a persister all
// records are held in memory only.
func NewLedger(quota Quota, opts ...Option) (*Ledger, error) {
	l := &Ledger{quota: quota, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	if l.persist != nil {
		records, err := l.persist.Load()
		if err != nil {
			return nil, fmt.Errorf("usage: load persisted records: %w", err)
		}
		l.records = records
	}
	return l, nil
}

// Record appends rec to the ledger. Persistence failures are logged, not
// returned: an unwritable ledger file must not take down request handling.
func (l *Ledger) Record(rec types.UsageRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
	if l.persist != nil {
		if err := l.persist.Append(rec); err != nil {
			slog.Error("usage: persist record", "model", rec.ModelID, "error", err)
		}
	}
}

// SetQuota replaces the admission limits and pricing. Takes effect on the
// next CheckQuota call; existing records are re-priced against the new rates.
func (l *Ledger) SetQuota(q Quota) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.quota = q
}

// CheckQuota reports whether a call to model with estimatedTokens prompt
// tokens may be admitted. When rejected, reason names the exhausted limit.
// A limit of exactly zero rejects unconditionally; a negative limit is
// skipped.
func (l *Ledger) CheckQuota(model string, estimatedTokens int) (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	dayTokens, hourRequests, monthCost := l.windowTotals(now)

	switch lim := l.quota.DailyTokenLimit; {
	case lim == 0:
		return false, "daily token limit is 0: remote calls disabled"
	case lim > 0 && dayTokens+estimatedTokens > lim:
		return false, fmt.Sprintf("daily token limit: %d used + %d requested > %d", dayTokens, estimatedTokens, lim)
	}
	switch lim := l.quota.HourlyRequestLimit; {
	case lim == 0:
		return false, "hourly request limit is 0: remote calls disabled"
	case lim > 0 && hourRequests+1 > lim:
		return false, fmt.Sprintf("hourly request limit: %d used >= %d", hourRequests, lim)
	}
	switch lim := l.quota.MonthlyCostLimit; {
	case lim == 0:
		return false, "monthly cost limit is 0: remote calls disabled"
	case lim > 0:
		estCost := l.quota.Cost(model, estimatedTokens, 0)
		if monthCost+estCost > lim {
			return false, fmt.Sprintf("monthly cost limit: $%.4f spent + $%.4f estimated > $%.2f", monthCost, estCost, lim)
		}
	}
	return true, ""
}

// windowTotals aggregates the three quota windows at time now. Only
// successful records contribute tokens and cost; every record counts as a
// request. Callers must hold l.mu.
func (l *Ledger) windowTotals(now time.Time) (dayTokens, hourRequests int, monthCost float64) {
	dayCutoff := now.Add(-24 * time.Hour)
	hourCutoff := now.Add(-time.Hour)
	monthCutoff := now.Add(-30 * 24 * time.Hour)

	for _, rec := range l.records {
		if rec.Timestamp.After(hourCutoff) {
			hourRequests++
		}
		if !rec.Success {
			continue
		}
		if rec.Timestamp.After(dayCutoff) {
			dayTokens += rec.InputTokens + rec.OutputTokens
		}
		if rec.Timestamp.After(monthCutoff) {
			monthCost += l.quota.Cost(rec.ModelID, rec.InputTokens, rec.OutputTokens)
		}
	}
	return dayTokens, hourRequests, monthCost
}

// ModelSummary aggregates usage for a single model.
type ModelSummary struct {
	Requests     int     `json:"requests"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Cost         float64 `json:"cost"`
}

// QuotaStatus reports current window totals against their limits.
type QuotaStatus struct {
	DayTokens    int     `json:"day_tokens"`
	DayLimit     int     `json:"day_limit"`
	HourRequests int     `json:"hour_requests"`
	HourLimit    int     `json:"hour_limit"`
	MonthCost    float64 `json:"month_cost"`
	MonthLimit   float64 `json:"month_limit"`
}

// Summary is a point-in-time view of the ledger.
type Summary struct {
	TotalRequests int                     `json:"total_requests"`
	TotalTokens   int                     `json:"total_tokens"`
	TotalCost     float64                 `json:"total_cost"`
	PerModel      map[string]ModelSummary `json:"per_model"`
	Quota         QuotaStatus             `json:"quota"`
}

// Summary returns aggregate totals, per-model breakdowns and the current
// quota window status.
func (l *Ledger) Summary() Summary {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Summary{PerModel: map[string]ModelSummary{}}
	for _, rec := range l.records {
		s.TotalRequests++
		m := s.PerModel[rec.ModelID]
		m.Requests++
		if rec.Success {
			cost := l.quota.Cost(rec.ModelID, rec.InputTokens, rec.OutputTokens)
			m.InputTokens += rec.InputTokens
			m.OutputTokens += rec.OutputTokens
			m.Cost += cost
			s.TotalTokens += rec.InputTokens + rec.OutputTokens
			s.TotalCost += cost
		}
		s.PerModel[rec.ModelID] = m
	}

	dayTokens, hourRequests, monthCost := l.windowTotals(l.now())
	s.Quota = QuotaStatus{
		DayTokens:    dayTokens,
		DayLimit:     l.quota.DailyTokenLimit,
		HourRequests: hourRequests,
		HourLimit:    l.quota.HourlyRequestLimit,
		MonthCost:    monthCost,
		MonthLimit:   l.quota.MonthlyCostLimit,
	}
	return s
}
