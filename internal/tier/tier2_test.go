package tier

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/sensai/internal/conversation"
	"github.com/MrWong99/sensai/internal/observe"
	"github.com/MrWong99/sensai/internal/prompt"
	"github.com/MrWong99/sensai/internal/resilience"
	"github.com/MrWong99/sensai/internal/template"
	"github.com/MrWong99/sensai/pkg/modelclient"
	"github.com/MrWong99/sensai/pkg/modelclient/mock"
	"github.com/MrWong99/sensai/pkg/types"
)

// fastRetry keeps test backoff sleeps negligible.
func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func localErr(kind modelclient.Kind) error {
	return &modelclient.Error{Client: "local", Kind: kind, Model: "phi-2", Err: errors.New("boom")}
}

func newTier2(t *testing.T, gen *mock.Generator, cfg Tier2Config) *Tier2 {
	t.Helper()
	if cfg.SmallModel == "" {
		cfg.SmallModel = "phi-2"
	}
	if cfg.Retry.BaseDelay == 0 {
		cfg.Retry = fastRetry()
	}
	return NewTier2(gen, prompt.NewBuilder(), cfg)
}

func TestTier2_SimpleUsesSmallModel(t *testing.T) {
	gen := &mock.Generator{GenerateResult: "A ticket is 'kippu'."}
	p := newTier2(t, gen, Tier2Config{SmallModel: "phi-2", LargeModel: "mistral-7b"})

	req := classified("What does kippu mean?", types.IntentVocabularyHelp)
	got, err := p.Process(context.Background(), req)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got != "A ticket is 'kippu'." {
		t.Errorf("Process = %q", got)
	}

	calls := gen.Calls()
	if len(calls) != 1 {
		t.Fatalf("generate calls = %d, want 1", len(calls))
	}
	if calls[0].Req.Model != "phi-2" {
		t.Errorf("model = %q, want phi-2", calls[0].Req.Model)
	}
	if !strings.Contains(calls[0].Req.Prompt, "What does kippu mean?") {
		t.Error("prompt does not contain the player input")
	}
}

func TestTier2_ComplexUsesLargeModel(t *testing.T) {
	gen := &mock.Generator{GenerateResult: "ok"}
	p := newTier2(t, gen, Tier2Config{SmallModel: "phi-2", LargeModel: "mistral-7b"})

	req := classified("Why does the particle change here?", types.IntentGrammarExplanation)
	req.Complexity = types.ComplexityComplex
	if _, err := p.Process(context.Background(), req); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got := gen.Calls()[0].Req.Model; got != "mistral-7b" {
		t.Errorf("model = %q, want mistral-7b", got)
	}
}

func TestTier2_RetriesConnectionThenSucceeds(t *testing.T) {
	var n int
	gen := &mock.Generator{}
	gen.GenerateFunc = func(ctx context.Context, req modelclient.GenerateRequest) (string, error) {
		n++
		if n <= 2 {
			return "", localErr(modelclient.KindConnection)
		}
		return "recovered", nil
	}
	stats := observe.NewStats()
	p := newTier2(t, gen, Tier2Config{Observer: Observer{Stats: stats}})

	got, err := p.Process(context.Background(), classified("hello", types.IntentGeneralHint))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got != "recovered" {
		t.Errorf("Process = %q, want recovered", got)
	}
	if len(gen.Calls()) != 3 {
		t.Errorf("generate calls = %d, want 3", len(gen.Calls()))
	}
	snap := stats.Snapshot()
	if snap.Retries["tier2"][1] != 1 || snap.Retries["tier2"][2] != 1 {
		t.Errorf("retries = %v, want attempts 1 and 2 counted", snap.Retries)
	}
}

func TestTier2_ModelErrorOnLargeFallsBackToSmall(t *testing.T) {
	gen := &mock.Generator{}
	gen.GenerateFunc = func(ctx context.Context, req modelclient.GenerateRequest) (string, error) {
		if req.Model == "mistral-7b" {
			return "", localErr(modelclient.KindModel)
		}
		return "small model answer", nil
	}
	p := newTier2(t, gen, Tier2Config{SmallModel: "phi-2", LargeModel: "mistral-7b"})

	req := classified("long grammar question", types.IntentGrammarExplanation)
	req.Complexity = types.ComplexityComplex
	got, err := p.Process(context.Background(), req)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got != "small model answer" {
		t.Errorf("Process = %q", got)
	}

	calls := gen.Calls()
	if len(calls) != 2 {
		t.Fatalf("generate calls = %d, want 2", len(calls))
	}
	if calls[0].Req.Model != "mistral-7b" || calls[1].Req.Model != "phi-2" {
		t.Errorf("models = %q, %q; want mistral-7b then phi-2", calls[0].Req.Model, calls[1].Req.Model)
	}
}

func TestTier2_PersistentConnectionDegradesToTier1(t *testing.T) {
	gen := &mock.Generator{GenerateErr: localErr(modelclient.KindConnection)}
	stats := observe.NewStats()
	templates, err := template.NewEngine(template.DefaultPatternSet())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	p := newTier2(t, gen, Tier2Config{
		Retry:    resilience.RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond},
		Fallback: NewTier1(templates, nil),
		Observer: Observer{Stats: stats},
	})

	got, err := p.Process(context.Background(), classified("What does eki mean?", types.IntentVocabularyHelp))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !strings.Contains(got, "station") {
		t.Errorf("Process = %q, want rule-tier template answer", got)
	}
	if len(gen.Calls()) != 3 {
		t.Errorf("generate calls = %d, want 1 initial + 2 retries", len(gen.Calls()))
	}
	if stats.Snapshot().Fallbacks["tier2_to_tier1"] != 1 {
		t.Errorf("fallbacks = %v, want tier2_to_tier1 = 1", stats.Snapshot().Fallbacks)
	}
}

func TestTier2_ContentErrorApologizesWithoutFallback(t *testing.T) {
	gen := &mock.Generator{GenerateErr: localErr(modelclient.KindContent)}
	stats := observe.NewStats()
	templates, err := template.NewEngine(template.DefaultPatternSet())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	p := newTier2(t, gen, Tier2Config{
		Fallback: NewTier1(templates, nil),
		Observer: Observer{Stats: stats},
	})

	got, err := p.Process(context.Background(), classified("something off limits", types.IntentGeneralHint))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got != MsgApology {
		t.Errorf("Process = %q, want apology", got)
	}
	if len(gen.Calls()) != 1 {
		t.Errorf("generate calls = %d, want 1 (content errors are not retried)", len(gen.Calls()))
	}
	if len(stats.Snapshot().Fallbacks) != 0 {
		t.Errorf("fallbacks = %v, want none", stats.Snapshot().Fallbacks)
	}
}

func TestTier2_NoFallbackApologizes(t *testing.T) {
	gen := &mock.Generator{GenerateErr: localErr(modelclient.KindMemory)}
	p := newTier2(t, gen, Tier2Config{})

	got, err := p.Process(context.Background(), classified("hello", types.IntentGeneralHint))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got != MsgApology {
		t.Errorf("Process = %q, want apology", got)
	}
}

func TestTier2_RecordsConversationOnSuccess(t *testing.T) {
	gen := &mock.Generator{GenerateResult: "sure!"}
	mgr := conversation.NewManager(conversation.NewMemoryStore(10))
	p := newTier2(t, gen, Tier2Config{Conversation: mgr})

	req := classified("What does eki mean?", types.IntentVocabularyHelp)
	req.ConversationID = "conv-1"
	if _, err := p.Process(context.Background(), req); err != nil {
		t.Fatalf("Process: %v", err)
	}

	hist, err := mgr.History(context.Background(), "conv-1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("history entries = %d, want user + assistant", len(hist))
	}
	if hist[1].Kind != types.EntryAssistant || hist[1].Text != "sure!" {
		t.Errorf("assistant entry = %+v", hist[1])
	}
}
