package translate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/sublate/sublate/internal/batch"
	"github.com/sublate/sublate/internal/config"
	"github.com/sublate/sublate/internal/llm"
	"github.com/sublate/sublate/internal/subtitle"
	"github.com/sublate/sublate/pkg/logger"
)

// fakeCompleter records every prompt pair and answers via respond
type fakeCompleter struct {
	mu      sync.Mutex
	calls   []string
	systems []string
	respond func(userPrompt string) (*llm.Response, error)
}

func (f *fakeCompleter) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (*llm.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, userPrompt)
	f.systems = append(f.systems, systemPrompt)
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.respond(userPrompt)
}

func (f *fakeCompleter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testConfig() Config {
	return Config{
		TargetLanguage:  "zh-CN",
		BatchSize:       2,
		ThreadCount:     1,
		ContextBefore:   1,
		ContextAfter:    1,
		MaxBatchRetries: 2,
	}
}

func makeEntries(texts ...string) []*subtitle.Entry {
	entries := make([]*subtitle.Entry, len(texts))
	for i, text := range texts {
		entries[i] = &subtitle.Entry{
			ID:                i + 1,
			StartMs:           int64(i) * 2000,
			EndMs:             int64(i)*2000 + 1500,
			Text:              text,
			TranslationStatus: subtitle.StatusPending,
		}
	}
	return entries
}

// echoResponse answers any numbered-line prompt with "<line>-translated"
func echoResponse(userPrompt string) (*llm.Response, error) {
	lines := map[string]translationLine{}
	for _, raw := range strings.Split(userPrompt, "\n") {
		var num int
		var text string
		if _, err := fmt.Sscanf(raw, "%d. %s", &num, &text); err == nil {
			rest := strings.SplitN(raw, ". ", 2)[1]
			lines[fmt.Sprint(num)] = translationLine{Origin: rest, Direct: rest + "-translated"}
		}
	}
	data, _ := json.Marshal(lines)
	return &llm.Response{Content: string(data), TokensUsed: 10}, nil
}

func TestRunTranslatesAllPending(t *testing.T) {
	fake := &fakeCompleter{respond: echoResponse}
	orch := NewOrchestrator(testConfig(), fake, logger.NewNop())
	entries := makeEntries("one", "two", "three", "four", "five")

	var last batch.Progress
	if err := orch.Run(context.Background(), entries, func(p batch.Progress) { last = p }); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, entry := range entries {
		if entry.TranslationStatus != subtitle.StatusCompleted {
			t.Errorf("entry %d status = %s", entry.ID, entry.TranslationStatus)
		}
		if entry.TranslatedText != entry.Text+"-translated" {
			t.Errorf("entry %d translated = %q", entry.ID, entry.TranslatedText)
		}
	}
	// 5 entries in batches of 2 = 3 calls
	if fake.callCount() != 3 {
		t.Errorf("LLM called %d times, want 3", fake.callCount())
	}
	if last.Completed != 3 || last.Total != 3 || last.Tokens != 30 {
		t.Errorf("final progress = %+v", last)
	}
}

func TestRunSkipsCompletedEntries(t *testing.T) {
	fake := &fakeCompleter{respond: echoResponse}
	orch := NewOrchestrator(testConfig(), fake, logger.NewNop())

	entries := makeEntries("one", "two", "three", "four")
	entries[0].TranslationStatus = subtitle.StatusCompleted
	entries[0].TranslatedText = "kept"
	entries[2].TranslationStatus = subtitle.StatusCompleted
	entries[2].TranslatedText = ""

	if err := orch.Run(context.Background(), entries, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if entries[0].TranslatedText != "kept" {
		t.Errorf("completed entry was re-translated: %q", entries[0].TranslatedText)
	}
	// Completed-but-empty stays untouched: resume keys off status, not text
	if entries[2].TranslatedText != "" {
		t.Errorf("completed empty entry was re-translated: %q", entries[2].TranslatedText)
	}
	if entries[1].TranslatedText != "two-translated" || entries[3].TranslatedText != "four-translated" {
		t.Errorf("pending entries = %q, %q", entries[1].TranslatedText, entries[3].TranslatedText)
	}
	if fake.callCount() != 1 {
		t.Errorf("LLM called %d times, want 1 (two pending entries, batch size 2)", fake.callCount())
	}
}

func TestRunNothingPending(t *testing.T) {
	fake := &fakeCompleter{respond: echoResponse}
	orch := NewOrchestrator(testConfig(), fake, logger.NewNop())

	entries := makeEntries("one")
	entries[0].TranslationStatus = subtitle.StatusCompleted

	if err := orch.Run(context.Background(), entries, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if fake.callCount() != 0 {
		t.Errorf("LLM called %d times for a fully translated file", fake.callCount())
	}
}

func TestRunRetriesValidationFailures(t *testing.T) {
	var attempts int
	fake := &fakeCompleter{respond: func(userPrompt string) (*llm.Response, error) {
		attempts++
		if attempts < 3 {
			return &llm.Response{Content: `{"1": {"origin": "x", "direct": "y"}}`, TokensUsed: 5}, nil
		}
		return echoResponse(userPrompt)
	}}
	orch := NewOrchestrator(testConfig(), fake, logger.NewNop())
	entries := makeEntries("one", "two")

	var last batch.Progress
	if err := orch.Run(context.Background(), entries, func(p batch.Progress) { last = p }); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	// Tokens from rejected attempts still count: 5 + 5 + 10
	if last.Tokens != 20 {
		t.Errorf("tokens = %d, want 20", last.Tokens)
	}
	if entries[1].TranslatedText != "two-translated" {
		t.Errorf("entry 2 = %q", entries[1].TranslatedText)
	}
}

func TestRunFailsAfterRetriesExhausted(t *testing.T) {
	fake := &fakeCompleter{respond: func(string) (*llm.Response, error) {
		return &llm.Response{Content: `{"wrong": {"origin": "", "direct": ""}}`, TokensUsed: 1}, nil
	}}
	orch := NewOrchestrator(testConfig(), fake, logger.NewNop())
	entries := makeEntries("one", "two")

	err := orch.Run(context.Background(), entries, nil)
	if err == nil {
		t.Fatal("expected error after retries exhausted")
	}
	// Initial attempt plus MaxBatchRetries
	if fake.callCount() != 3 {
		t.Errorf("LLM called %d times, want 3", fake.callCount())
	}
	for _, entry := range entries {
		if entry.TranslationStatus != subtitle.StatusPending {
			t.Errorf("entry %d status = %s after failed run", entry.ID, entry.TranslationStatus)
		}
	}
}

func TestRunFailedBatchPreservesCompletedOnes(t *testing.T) {
	// Batch 1 succeeds, batch 2 always fails validation; the run errors but
	// batch 1's entries stay completed for the next resume
	var mu sync.Mutex
	fake := &fakeCompleter{}
	fake.respond = func(userPrompt string) (*llm.Response, error) {
		mu.Lock()
		defer mu.Unlock()
		if strings.Contains(userPrompt, "1. one") {
			return echoResponse(userPrompt)
		}
		return &llm.Response{Content: `{}`, TokensUsed: 1}, nil
	}
	orch := NewOrchestrator(testConfig(), fake, logger.NewNop())
	entries := makeEntries("one", "two", "three", "four")

	if err := orch.Run(context.Background(), entries, nil); err == nil {
		t.Fatal("expected run to fail")
	}
	if entries[0].TranslationStatus != subtitle.StatusCompleted ||
		entries[1].TranslationStatus != subtitle.StatusCompleted {
		t.Errorf("first batch should stay completed: %s, %s",
			entries[0].TranslationStatus, entries[1].TranslationStatus)
	}
	if entries[2].TranslationStatus != subtitle.StatusPending ||
		entries[3].TranslationStatus != subtitle.StatusPending {
		t.Errorf("failed batch must stay pending: %s, %s",
			entries[2].TranslationStatus, entries[3].TranslationStatus)
	}
}

func TestRunPropagatesClientError(t *testing.T) {
	wantErr := errors.New("provider down")
	fake := &fakeCompleter{respond: func(string) (*llm.Response, error) {
		return nil, wantErr
	}}
	orch := NewOrchestrator(testConfig(), fake, logger.NewNop())
	entries := makeEntries("one", "two")

	if err := orch.Run(context.Background(), entries, nil); !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped client error, got %v", err)
	}
	// Hard client errors are not retried at the batch level
	if fake.callCount() != 1 {
		t.Errorf("LLM called %d times, want 1", fake.callCount())
	}
}

func TestPromptContainsContextWindows(t *testing.T) {
	cfg := testConfig()
	cfg.ContextBefore = 2
	cfg.ContextAfter = 1
	fake := &fakeCompleter{respond: echoResponse}
	orch := NewOrchestrator(cfg, fake, logger.NewNop())

	// First two already translated: the middle batch should still see them
	// as preceding context
	entries := makeEntries("one", "two", "three", "four", "five", "six")
	entries[0].TranslationStatus = subtitle.StatusCompleted
	entries[1].TranslationStatus = subtitle.StatusCompleted

	if err := orch.Run(context.Background(), entries, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	first := fake.calls[0]
	if !strings.Contains(first, "Preceding context") ||
		!strings.Contains(first, "one\ntwo") {
		t.Errorf("first prompt missing completed-entry context:\n%s", first)
	}
	if !strings.Contains(first, "1. three\n2. four") {
		t.Errorf("first prompt missing numbered lines:\n%s", first)
	}
	if !strings.Contains(first, "Following context") ||
		!strings.Contains(first, "five") {
		t.Errorf("first prompt missing following context:\n%s", first)
	}

	last := fake.calls[len(fake.calls)-1]
	if strings.Contains(last, "Following context") {
		t.Errorf("final batch has no entries after it:\n%s", last)
	}
}

func TestTerminologyInjectedOnlyWhenUsed(t *testing.T) {
	cfg := testConfig()
	cfg.BatchSize = 1
	cfg.ContextBefore = 0
	cfg.ContextAfter = 0
	cfg.Terminology = []config.TermPair{
		{Original: "Redline", Translated: "红线"},
		{Original: "flywheel", Translated: "飞轮"},
	}
	fake := &fakeCompleter{respond: echoResponse}
	orch := NewOrchestrator(cfg, fake, logger.NewNop())

	entries := makeEntries("the redline was crossed", "nothing special here")
	if err := orch.Run(context.Background(), entries, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !strings.Contains(fake.systems[0], "Redline => 红线") {
		t.Errorf("first system prompt missing matched term:\n%s", fake.systems[0])
	}
	if strings.Contains(fake.systems[0], "flywheel") {
		t.Errorf("first system prompt includes unused term:\n%s", fake.systems[0])
	}
	if strings.Contains(fake.systems[1], "terminology") {
		t.Errorf("second system prompt should carry no terminology:\n%s", fake.systems[1])
	}
}

func TestParseBatchResponse(t *testing.T) {
	tests := []struct {
		name    string
		content string
		n       int
		want    []string
		wantErr bool
	}{
		{
			name:    "valid",
			content: `{"1": {"origin": "a", "direct": "x"}, "2": {"origin": "b", "direct": "y"}}`,
			n:       2,
			want:    []string{"x", "y"},
		},
		{
			name:    "empty translation allowed",
			content: `{"1": {"origin": "a", "direct": ""}, "2": {"origin": "a b", "direct": "xy"}}`,
			n:       2,
			want:    []string{"", "xy"},
		},
		{
			name:    "wrong count",
			content: `{"1": {"origin": "a", "direct": "x"}}`,
			n:       2,
			wantErr: true,
		},
		{
			name:    "wrong keys",
			content: `{"0": {"origin": "a", "direct": "x"}, "1": {"origin": "b", "direct": "y"}}`,
			n:       2,
			wantErr: true,
		},
		{
			name:    "not an object",
			content: `["x", "y"]`,
			n:       2,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines, err := parseBatchResponse(tt.content, tt.n)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseBatchResponse: %v", err)
			}
			if len(lines) != len(tt.want) {
				t.Fatalf("lines = %v, want %v", lines, tt.want)
			}
			for i := range lines {
				if lines[i] != tt.want[i] {
					t.Errorf("line %d = %q, want %q", i, lines[i], tt.want[i])
				}
			}
		})
	}
}
