package usage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/sensai/pkg/types"
)

var testQuota = Quota{
	DailyTokenLimit:    1000,
	HourlyRequestLimit: 3,
	MonthlyCostLimit:   1.0,
	ModelRates: map[string]ModelRate{
		"anthropic.claude-3-haiku": {InputPer1K: 0.25, OutputPer1K: 1.25},
	},
	DefaultRate: ModelRate{InputPer1K: 0.5, OutputPer1K: 1.5},
}

func newTestLedger(t *testing.T, quota Quota, opts ...Option) *Ledger {
	t.Helper()
	l, err := NewLedger(quota, opts...)
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}
	return l
}

func rec(model string, in, out int, success bool, age time.Duration) types.UsageRecord {
	return types.UsageRecord{
		Timestamp:    time.Now().Add(-age),
		ModelID:      model,
		InputTokens:  in,
		OutputTokens: out,
		Success:      success,
	}
}

func TestCheckQuota_AllowsWithinLimits(t *testing.T) {
	l := newTestLedger(t, testQuota)
	l.Record(rec("anthropic.claude-3-haiku", 100, 50, true, time.Minute))

	allowed, reason := l.CheckQuota("anthropic.claude-3-haiku", 200)
	if !allowed {
		t.Errorf("CheckQuota = false (%q), want allowed", reason)
	}
}

func TestCheckQuota_DailyTokenLimit(t *testing.T) {
	l := newTestLedger(t, testQuota)
	l.Record(rec("anthropic.claude-3-haiku", 800, 150, true, time.Hour*2))

	allowed, reason := l.CheckQuota("anthropic.claude-3-haiku", 100)
	if allowed {
		t.Fatal("CheckQuota = true, want rejection over daily token limit")
	}
	if reason == "" {
		t.Error("rejection reason is empty")
	}
}

func TestCheckQuota_DailyWindowSlides(t *testing.T) {
	l := newTestLedger(t, testQuota)
	// Heavy usage, but older than 24 hours.
	l.Record(rec("anthropic.claude-3-haiku", 5000, 1000, true, 25*time.Hour))

	if allowed, reason := l.CheckQuota("anthropic.claude-3-haiku", 100); !allowed {
		t.Errorf("CheckQuota = false (%q), want old usage outside window", reason)
	}
}

func TestCheckQuota_HourlyRequestLimit(t *testing.T) {
	l := newTestLedger(t, testQuota)
	for i := 0; i < 3; i++ {
		// Failed calls still count toward the request limit.
		l.Record(rec("anthropic.claude-3-haiku", 10, 0, false, time.Minute))
	}

	if allowed, _ := l.CheckQuota("anthropic.claude-3-haiku", 10); allowed {
		t.Error("CheckQuota = true, want rejection at hourly request limit")
	}
}

func TestCheckQuota_MonthlyCostLimit(t *testing.T) {
	q := testQuota
	q.MonthlyCostLimit = 0.30
	l := newTestLedger(t, q)
	// 200 in + 200 out on haiku = 0.2*0.25 + 0.2*1.25 = $0.30, the limit.
	l.Record(rec("anthropic.claude-3-haiku", 200, 200, true, 24*time.Hour*5))

	if allowed, _ := l.CheckQuota("anthropic.claude-3-haiku", 100); allowed {
		t.Error("CheckQuota = true, want rejection over monthly cost limit")
	}
}

func TestCheckQuota_FailedRecordsExcludedFromTokens(t *testing.T) {
	l := newTestLedger(t, testQuota)
	l.Record(rec("anthropic.claude-3-haiku", 900, 0, false, time.Minute))

	// 900 failed input tokens must not count against the 1000 daily limit.
	if allowed, reason := l.CheckQuota("anthropic.claude-3-haiku", 500); !allowed {
		t.Errorf("CheckQuota = false (%q), want failed tokens ignored", reason)
	}
}

func TestCheckQuota_ZeroLimitDeniesAll(t *testing.T) {
	q := testQuota
	q.DailyTokenLimit = 0
	l := newTestLedger(t, q)

	// A 0 limit is the kill switch: every admission is denied, even with an
	// empty ledger and a tiny estimate.
	allowed, reason := l.CheckQuota("anthropic.claude-3-haiku", 8)
	if allowed {
		t.Fatal("CheckQuota = true with a 0 daily token limit, want denial")
	}
	if reason == "" {
		t.Error("rejection reason is empty")
	}
}

func TestCheckQuota_NegativeLimitsDisableChecks(t *testing.T) {
	l := newTestLedger(t, Quota{
		DailyTokenLimit:    -1,
		HourlyRequestLimit: -1,
		MonthlyCostLimit:   -1,
	})
	l.Record(rec("m", 1_000_000, 1_000_000, true, time.Minute))

	if allowed, reason := l.CheckQuota("m", 1_000_000); !allowed {
		t.Errorf("CheckQuota = false (%q), want negative limits to disable quota", reason)
	}
}

func TestSetQuota_AppliesToNextCheck(t *testing.T) {
	l := newTestLedger(t, testQuota)
	l.Record(rec("anthropic.claude-3-haiku", 800, 150, true, time.Hour))

	if allowed, _ := l.CheckQuota("anthropic.claude-3-haiku", 100); allowed {
		t.Fatal("CheckQuota = true, want rejection before the limit is raised")
	}

	raised := testQuota
	raised.DailyTokenLimit = 10_000
	l.SetQuota(raised)

	if allowed, reason := l.CheckQuota("anthropic.claude-3-haiku", 100); !allowed {
		t.Errorf("CheckQuota = false (%q) after raising the daily limit, want allowed", reason)
	}

	// Lowering works the same way: existing usage counts against the new limit.
	lowered := testQuota
	lowered.DailyTokenLimit = 500
	l.SetQuota(lowered)

	if allowed, _ := l.CheckQuota("anthropic.claude-3-haiku", 10); allowed {
		t.Error("CheckQuota = true after lowering the daily limit, want rejection")
	}
}

func TestCost_UnknownModelUsesDefaultRate(t *testing.T) {
	got := testQuota.Cost("unknown-model", 1000, 1000)
	want := 0.5 + 1.5
	if got != want {
		t.Errorf("Cost = %v, want %v", got, want)
	}
}

func TestSummary(t *testing.T) {
	l := newTestLedger(t, testQuota)
	l.Record(rec("anthropic.claude-3-haiku", 1000, 1000, true, time.Minute))
	l.Record(rec("anthropic.claude-3-haiku", 50, 0, false, time.Minute))
	l.Record(rec("other", 2000, 0, true, time.Minute))

	s := l.Summary()
	if s.TotalRequests != 3 {
		t.Errorf("TotalRequests = %d, want 3", s.TotalRequests)
	}
	if s.TotalTokens != 4000 {
		t.Errorf("TotalTokens = %d, want 4000 (failed record excluded)", s.TotalTokens)
	}
	haiku := s.PerModel["anthropic.claude-3-haiku"]
	if haiku.Requests != 2 {
		t.Errorf("haiku requests = %d, want 2", haiku.Requests)
	}
	if haiku.Cost != 0.25+1.25 {
		t.Errorf("haiku cost = %v, want 1.50", haiku.Cost)
	}
	if s.Quota.DayLimit != testQuota.DailyTokenLimit {
		t.Errorf("quota day limit = %d, want %d", s.Quota.DayLimit, testQuota.DailyTokenLimit)
	}
}

func TestRecordOrderPreserved(t *testing.T) {
	l := newTestLedger(t, Quota{})
	l.Record(types.UsageRecord{RequestID: "a", ModelID: "m"})
	l.Record(types.UsageRecord{RequestID: "b", ModelID: "m"})
	l.Record(types.UsageRecord{RequestID: "c", ModelID: "m"})

	if len(l.records) != 3 {
		t.Fatalf("len(records) = %d, want 3", len(l.records))
	}
	for i, want := range []string{"a", "b", "c"} {
		if l.records[i].RequestID != want {
			t.Errorf("records[%d].RequestID = %q, want %q", i, l.records[i].RequestID, want)
		}
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger", "usage.jsonl")
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	l := newTestLedger(t, testQuota, WithPersister(store))
	l.Record(rec("anthropic.claude-3-haiku", 100, 40, true, time.Minute))
	l.Record(rec("anthropic.claude-3-haiku", 50, 0, false, time.Minute))

	// A fresh ledger over the same file sees the persisted history.
	reloaded := newTestLedger(t, testQuota, WithPersister(store))
	s := reloaded.Summary()
	if s.TotalRequests != 2 {
		t.Errorf("reloaded TotalRequests = %d, want 2", s.TotalRequests)
	}
	if s.TotalTokens != 140 {
		t.Errorf("reloaded TotalTokens = %d, want 140", s.TotalTokens)
	}
}

func TestFileStore_MissingFileLoadsEmpty(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "never-written.jsonl"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	records, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("len(records) = %d, want 0", len(records))
	}
}
