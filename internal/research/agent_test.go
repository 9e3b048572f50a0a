package research

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

// scriptedLLM returns canned outputs in order, recording every prompt.
type scriptedLLM struct {
	outputs []string
	calls   int
	prompts []string
}

func (s *scriptedLLM) Complete(ctx context.Context, prompt string) (string, error) {
	return s.CompleteWithSystem(ctx, "", prompt)
}

func (s *scriptedLLM) CompleteWithSystem(ctx context.Context, system, prompt string) (string, error) {
	s.prompts = append(s.prompts, prompt)
	if s.calls >= len(s.outputs) {
		return "", fmt.Errorf("no scripted output for call %d", s.calls+1)
	}
	out := s.outputs[s.calls]
	s.calls++
	return out, nil
}

type stubSearcher struct {
	queries []string
	hits    []SearchHit
	err     error
}

func (s *stubSearcher) Search(ctx context.Context, query string) ([]SearchHit, error) {
	s.queries = append(s.queries, query)
	return s.hits, s.err
}

func TestResearchImmediateRecord(t *testing.T) {
	model := &scriptedLLM{outputs: []string{validRecordJSON}}
	agent := NewAgent(model, &stubSearcher{}, 4, nil)

	rec, raw, err := agent.Research(context.Background(), Request{Name: "Benchmarking Safety Evaluations", Status: "known"})
	if err != nil {
		t.Fatalf("Research failed: %v", err)
	}
	if rec.Items[0].Title != "Benchmarking Safety Evaluations" {
		t.Errorf("unexpected record: %+v", rec.Items[0])
	}
	if raw != validRecordJSON {
		t.Errorf("raw output not preserved")
	}
	if model.calls != 1 {
		t.Errorf("expected 1 model call, got %d", model.calls)
	}
}

func TestResearchSearchThenRecord(t *testing.T) {
	model := &scriptedLLM{outputs: []string{
		`SEARCH: "Benchmarking Safety Evaluations" 2023 proceedings`,
		validRecordJSON,
	}}
	searcher := &stubSearcher{hits: []SearchHit{
		{Title: "Paper page", URL: "https://example.org/paper", Content: "the abstract"},
	}}
	agent := NewAgent(model, searcher, 4, nil)

	rec, _, err := agent.Research(context.Background(), Request{Name: "Benchmarking Safety Evaluations", Status: "known"})
	if err != nil {
		t.Fatalf("Research failed: %v", err)
	}
	if rec == nil {
		t.Fatal("nil record")
	}
	if len(searcher.queries) != 1 || !strings.Contains(searcher.queries[0], "Benchmarking") {
		t.Errorf("unexpected search queries: %v", searcher.queries)
	}
	// The second prompt must carry the search results back to the model.
	if len(model.prompts) != 2 || !strings.Contains(model.prompts[1], "https://example.org/paper") {
		t.Errorf("search results not fed back into transcript")
	}
}

func TestResearchParseFailureGetsCorrection(t *testing.T) {
	model := &scriptedLLM{outputs: []string{
		"I found it, great paper!",
		validRecordJSON,
	}}
	agent := NewAgent(model, &stubSearcher{}, 4, nil)

	_, _, err := agent.Research(context.Background(), Request{Name: "X"})
	if err != nil {
		t.Fatalf("Research failed: %v", err)
	}
	if len(model.prompts) != 2 || !strings.Contains(model.prompts[1], "strict JSON") {
		t.Errorf("correction prompt missing: %v", model.prompts)
	}
}

func TestResearchBudgetExhausted(t *testing.T) {
	model := &scriptedLLM{outputs: []string{
		"SEARCH: one",
		"SEARCH: two",
		"SEARCH: three",
	}}
	agent := NewAgent(model, &stubSearcher{}, 3, nil)

	_, _, err := agent.Research(context.Background(), Request{Name: "Elusive Paper"})
	if err == nil {
		t.Fatal("expected budget exhaustion error")
	}
	if !strings.Contains(err.Error(), "Elusive Paper") {
		t.Errorf("error should name the item: %v", err)
	}
	if model.calls != 3 {
		t.Errorf("expected exactly 3 calls, got %d", model.calls)
	}
}

func TestResearchSearchFailureContinuesLoop(t *testing.T) {
	model := &scriptedLLM{outputs: []string{
		"SEARCH: broken query",
		validRecordJSON,
	}}
	searcher := &stubSearcher{err: fmt.Errorf("upstream 500")}
	agent := NewAgent(model, searcher, 4, nil)

	rec, _, err := agent.Research(context.Background(), Request{Name: "X"})
	if err != nil {
		t.Fatalf("search failure must not abort the run: %v", err)
	}
	if rec == nil {
		t.Fatal("nil record")
	}
	if !strings.Contains(model.prompts[1], "search failed") {
		t.Errorf("failure not reported to the model: %q", model.prompts[1])
	}
}

func TestResearchCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	model := &scriptedLLM{outputs: []string{validRecordJSON}}
	agent := NewAgent(model, &stubSearcher{}, 4, nil)
	if _, _, err := agent.Research(ctx, Request{Name: "X"}); err == nil {
		t.Fatal("expected context error")
	}
}

func TestExtractSearchQuery(t *testing.T) {
	cases := []struct {
		in    string
		query string
		ok    bool
	}{
		{"SEARCH: foo bar", "foo bar", true},
		{"search: lowercase works", "lowercase works", true},
		{"\n\nSEARCH: after blank lines", "after blank lines", true},
		{`SEARCH: "quoted query"`, "quoted query", true},
		{"SEARCH:", "", false},
		{"Here is my answer. SEARCH: ignored mid-sentence", "", false},
		{"{\"items\": []}", "", false},
	}
	for _, tc := range cases {
		query, ok := extractSearchQuery(tc.in)
		if query != tc.query || ok != tc.ok {
			t.Errorf("extractSearchQuery(%q) = (%q, %t), want (%q, %t)", tc.in, query, ok, tc.query, tc.ok)
		}
	}
}
