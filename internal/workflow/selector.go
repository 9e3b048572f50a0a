package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"refsmith/internal/issue"
	"refsmith/internal/llm"
)

var fencedJSONBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// Selector asks the policy LLM which unchecked items to process now. Any
// unusable response falls back to selecting every unchecked item: the
// design favours over-processing over silently dropping work.
type Selector struct {
	llm llm.Client
	log *zap.Logger
}

// NewSelector creates a selector backed by the given model client.
func NewSelector(client llm.Client, log *zap.Logger) *Selector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Selector{llm: client, log: log}
}

// selectorItem is the kind-agnostic view of an unchecked checklist entry.
type selectorItem struct {
	index   int
	label   string
	status  string
	details []string
}

// SelectArticles returns the article positions to research now.
func (s *Selector) SelectArticles(ctx context.Context, title, summary string, articles []issue.Article) []int {
	items := make([]selectorItem, 0, len(articles))
	for idx, a := range articles {
		if a.Checked {
			continue
		}
		items = append(items, selectorItem{index: idx, label: a.Name, status: a.Status, details: a.Details})
	}
	return s.selectItems(ctx, "articles", title, summary, items)
}

// SelectTopics returns the topic positions to research now.
func (s *Selector) SelectTopics(ctx context.Context, title, summary string, topics []issue.Topic) []int {
	items := make([]selectorItem, 0, len(topics))
	for idx, t := range topics {
		if t.Checked {
			continue
		}
		items = append(items, selectorItem{index: idx, label: t.Topic, details: t.Details})
	}
	return s.selectItems(ctx, "topics", title, summary, items)
}

func (s *Selector) selectItems(ctx context.Context, kind, title, summary string, unchecked []selectorItem) []int {
	if len(unchecked) == 0 {
		return []int{}
	}

	allIndices := make([]int, 0, len(unchecked))
	for _, item := range unchecked {
		allIndices = append(allIndices, item.index)
	}

	if s.llm == nil {
		return allIndices
	}

	prompt := s.buildPrompt(kind, title, summary, unchecked)
	response, err := s.llm.Complete(ctx, prompt)
	if err != nil {
		s.log.Warn("Selection LLM call failed, processing all unchecked items",
			zap.String("kind", kind), zap.Error(err))
		return allIndices
	}

	selected, ok := parseSelection(response)
	if !ok {
		s.log.Warn("Unusable selection response, processing all unchecked items",
			zap.String("kind", kind), zap.String("response", truncateForLog(response)))
		return allIndices
	}

	s.log.Info("Selection completed",
		zap.String("kind", kind),
		zap.Int("unchecked", len(unchecked)),
		zap.Ints("selected", selected))
	return selected
}

func (s *Selector) buildPrompt(kind, title, summary string, unchecked []selectorItem) string {
	if summary == "" {
		summary = "(none)"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You review issue checklists and decide which %s should be researched now.\n", kind)
	fmt.Fprintf(&b, "Issue title: %s\n", title)
	fmt.Fprintf(&b, "Issue summary:\n%s\n", summary)
	fmt.Fprintf(&b, "\nUnchecked %s:\n", kind)
	for _, item := range unchecked {
		detail := "(no extra details)"
		if len(item.details) > 0 {
			detail = strings.Join(item.details, "; ")
		}
		if item.status != "" {
			fmt.Fprintf(&b, "- index=%d: name='%s' status=%s details=%s\n", item.index, item.label, item.status, detail)
		} else {
			fmt.Fprintf(&b, "- index=%d: name='%s' details=%s\n", item.index, item.label, detail)
		}
	}
	fmt.Fprintf(&b, "\nRespond with JSON: {\"selected\": [indices you plan to research now]}.")
	return b.String()
}

// parseSelection decodes a {"selected": [int...]} response. A missing
// field, non-object payload, or any non-integer entry makes the whole
// response unusable.
func parseSelection(response string) ([]int, bool) {
	candidate := strings.TrimSpace(response)
	if m := fencedJSONBlock.FindStringSubmatch(candidate); m != nil {
		candidate = m[1]
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal([]byte(candidate), &payload); err != nil {
		return nil, false
	}
	raw, ok := payload["selected"]
	if !ok {
		return nil, false
	}
	var selected []int
	if err := json.Unmarshal(raw, &selected); err != nil {
		return nil, false
	}
	if selected == nil {
		selected = []int{}
	}
	return selected, true
}

func truncateForLog(s string) string {
	if len(s) <= 200 {
		return s
	}
	return s[:200] + "..."
}
