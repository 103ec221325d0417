package modelclient

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/sensai/pkg/provider/llm"
	llmmock "github.com/MrWong99/sensai/pkg/provider/llm/mock"
)

func newCachedClient(t *testing.T, backend llm.Provider, dir string) *LocalClient {
	t.Helper()
	c, err := NewLocalClient(backend, "qwen2.5:3b", WithCache(CacheConfig{
		Dir:        dir,
		TTL:        time.Hour,
		MaxEntries: 100,
	}))
	if err != nil {
		t.Fatalf("NewLocalClient: %v", err)
	}
	return c
}

func TestGenerate_CachesResponses(t *testing.T) {
	backend := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "Kippu means ticket."},
	}
	c := newCachedClient(t, backend, t.TempDir())

	req := GenerateRequest{Input: "what does kippu mean", RequestType: "vocabulary"}
	for i := 0; i < 3; i++ {
		got, err := c.Generate(context.Background(), req)
		if err != nil {
			t.Fatalf("Generate #%d: %v", i, err)
		}
		if got != "Kippu means ticket." {
			t.Fatalf("Generate #%d = %q", i, got)
		}
	}

	if calls := len(backend.Calls()); calls != 1 {
		t.Errorf("backend calls = %d, want 1 (two cache hits)", calls)
	}
	info := c.CacheInfo()
	if info.Hits != 2 || info.MemoryHits != 2 {
		t.Errorf("hits = %d memory = %d, want 2/2", info.Hits, info.MemoryHits)
	}
	if info.Misses != 1 || info.APICalls != 1 {
		t.Errorf("misses = %d api calls = %d, want 1/1", info.Misses, info.APICalls)
	}
}

func TestGenerate_DiskHitSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	backend := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "Eki means station."},
	}
	first := newCachedClient(t, backend, dir)
	req := GenerateRequest{Input: "eki", RequestType: "vocabulary"}
	if _, err := first.Generate(context.Background(), req); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	// A fresh client over the same directory starts with an empty memory
	// layer and must be served from disk.
	second := newCachedClient(t, backend, dir)
	got, err := second.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("Generate after restart: %v", err)
	}
	if got != "Eki means station." {
		t.Errorf("Generate = %q", got)
	}
	if calls := len(backend.Calls()); calls != 1 {
		t.Errorf("backend calls = %d, want 1", calls)
	}
	if info := second.CacheInfo(); info.DiskHits != 1 {
		t.Errorf("disk hits = %d, want 1", info.DiskHits)
	}
}

func TestGenerate_ExpiredEntryRegenerates(t *testing.T) {
	backend := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "answer"},
	}
	c := newCachedClient(t, backend, t.TempDir())
	req := GenerateRequest{Input: "sumimasen", RequestType: "vocabulary"}
	if _, err := c.Generate(context.Background(), req); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	// Move the cache clock past the TTL; the entry is treated as absent.
	c.cache.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := c.Generate(context.Background(), req); err != nil {
		t.Fatalf("Generate after expiry: %v", err)
	}
	if calls := len(backend.Calls()); calls != 2 {
		t.Errorf("backend calls = %d, want 2 after TTL expiry", calls)
	}
}

func TestGenerate_EvictsOldestThird(t *testing.T) {
	backend := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "x"},
	}
	c, err := NewLocalClient(backend, "qwen2.5:3b", WithCache(CacheConfig{
		Dir:        t.TempDir(),
		MaxEntries: 3,
	}))
	if err != nil {
		t.Fatalf("NewLocalClient: %v", err)
	}

	base := time.Now()
	for i, input := range []string{"a", "b", "c", "d"} {
		tick := base.Add(time.Duration(i) * time.Second)
		c.cache.now = func() time.Time { return tick }
		if _, err := c.Generate(context.Background(), GenerateRequest{Input: input}); err != nil {
			t.Fatalf("Generate %q: %v", input, err)
		}
	}

	// Inserting the 4th entry exceeds MaxEntries=3 and evicts the oldest
	// third (one entry, "a").
	if info := c.CacheInfo(); info.Entries != 3 {
		t.Errorf("entries = %d, want 3 after eviction", info.Entries)
	}
	if _, ok := c.cache.memory[cacheKey("a", "", "qwen2.5:3b")]; ok {
		t.Error("oldest entry still in memory, want evicted")
	}
}

func TestGenerate_TinyEntryCapStillEvicts(t *testing.T) {
	backend := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "x"},
	}
	c, err := NewLocalClient(backend, "qwen2.5:3b", WithCache(CacheConfig{
		Dir:        t.TempDir(),
		MaxEntries: 1,
	}))
	if err != nil {
		t.Fatalf("NewLocalClient: %v", err)
	}

	// With a cap below three, a third of the entries rounds to zero; the
	// eviction must still remove at least one so the cap holds.
	base := time.Now()
	for i, input := range []string{"a", "b", "c"} {
		tick := base.Add(time.Duration(i) * time.Second)
		c.cache.now = func() time.Time { return tick }
		if _, err := c.Generate(context.Background(), GenerateRequest{Input: input}); err != nil {
			t.Fatalf("Generate %q: %v", input, err)
		}
		if got := len(c.cache.memory); got > 1 {
			t.Fatalf("L1 count = %d after inserting %q, want <= 1", got, input)
		}
	}

	if _, ok := c.cache.memory[cacheKey("c", "", "qwen2.5:3b")]; !ok {
		t.Error("newest entry missing, want it to survive eviction")
	}
}

func TestPut_DiskStaysUnderMaxBytes(t *testing.T) {
	dir := t.TempDir()
	c, err := newResponseCache(CacheConfig{Dir: dir})
	if err != nil {
		t.Fatalf("newResponseCache: %v", err)
	}

	inputs := []string{"a", "b", "c", "d"}
	keys := make([]string, len(inputs))
	for i, in := range inputs {
		keys[i] = cacheKey(in, "", "m")
	}
	resp := strings.Repeat("kippu means ticket. ", 25)

	// Size one entry with pruning still off, then cap the directory at
	// three-and-a-half entries.
	c.put(keys[0], "m", resp)
	fi, err := os.Stat(c.entryPath(keys[0]))
	if err != nil {
		t.Fatalf("stat first entry: %v", err)
	}
	size := fi.Size()
	c.cfg.MaxBytes = 3*size + size/2

	// Age the first three files explicitly so the prune order is fixed.
	base := time.Now().Add(-time.Hour)
	age := func(key string, offset time.Duration) {
		t.Helper()
		mt := base.Add(offset)
		if err := os.Chtimes(c.entryPath(key), mt, mt); err != nil {
			t.Fatalf("age %q: %v", key, err)
		}
	}
	age(keys[0], 0)
	c.put(keys[1], "m", resp)
	age(keys[1], time.Second)
	c.put(keys[2], "m", resp)
	age(keys[2], 2*time.Second)

	// The fourth entry pushes the directory over MaxBytes; pruning removes
	// oldest-first until usage is at most 80% of the cap, which here takes
	// out the two oldest files.
	c.put(keys[3], "m", resp)

	if got := c.info().Bytes; got > c.cfg.MaxBytes {
		t.Errorf("disk bytes = %d after insert, want <= max_bytes (%d)", got, c.cfg.MaxBytes)
	}
	for _, key := range keys[:2] {
		if _, err := os.Stat(c.entryPath(key)); !os.IsNotExist(err) {
			t.Errorf("old entry %q still on disk, want pruned", key)
		}
		if _, ok := c.memory[key]; ok {
			t.Errorf("old entry %q still in memory, want pruned", key)
		}
	}
	if _, err := os.Stat(c.entryPath(keys[3])); err != nil {
		t.Errorf("newest entry missing from disk: %v", err)
	}
}

func TestGenerate_NoCacheAlwaysCallsBackend(t *testing.T) {
	backend := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "y"},
	}
	c, err := NewLocalClient(backend, "qwen2.5:3b")
	if err != nil {
		t.Fatalf("NewLocalClient: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := c.Generate(context.Background(), GenerateRequest{Input: "same"}); err != nil {
			t.Fatalf("Generate: %v", err)
		}
	}
	if calls := len(backend.Calls()); calls != 2 {
		t.Errorf("backend calls = %d, want 2 without cache", calls)
	}
}

func TestGenerate_ModelOverrideChangesCacheKey(t *testing.T) {
	backend := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "z"},
	}
	c := newCachedClient(t, backend, t.TempDir())

	if _, err := c.Generate(context.Background(), GenerateRequest{Input: "q"}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, err := c.Generate(context.Background(), GenerateRequest{Input: "q", Model: "qwen2.5:14b"}); err != nil {
		t.Fatalf("Generate with override: %v", err)
	}
	if calls := len(backend.Calls()); calls != 2 {
		t.Errorf("backend calls = %d, want 2 (distinct keys per model)", calls)
	}
	if got := backend.Calls()[1].Req.Model; got != "qwen2.5:14b" {
		t.Errorf("backend model = %q, want override", got)
	}
}

func TestClassifyLocalError(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{context.DeadlineExceeded, KindTimeout},
		{errors.New("dial tcp 127.0.0.1:11434: connection refused"), KindConnection},
		{errors.New("request timeout after 10s"), KindTimeout},
		{errors.New("model \"qwen9\" not found"), KindModel},
		{errors.New("ollama: out of memory loading model"), KindMemory},
		{errors.New("rejected by safety filter"), KindContent},
		{errors.New("something odd"), KindUnknown},
	}
	for _, tc := range cases {
		if got := classifyLocalError(tc.err); got != tc.want {
			t.Errorf("classifyLocalError(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestGenerate_BackendErrorWrapped(t *testing.T) {
	backend := &llmmock.Provider{CompleteErr: errors.New("connection refused")}
	c, err := NewLocalClient(backend, "qwen2.5:3b")
	if err != nil {
		t.Fatalf("NewLocalClient: %v", err)
	}
	_, err = c.Generate(context.Background(), GenerateRequest{Input: "q"})
	if err == nil {
		t.Fatal("Generate succeeded, want error")
	}
	if got := KindOf(err); got != KindConnection {
		t.Errorf("KindOf = %v, want %v", got, KindConnection)
	}
	var me *Error
	if !errors.As(err, &me) || me.Client != "local" {
		t.Errorf("error = %v, want *Error with client local", err)
	}
}
