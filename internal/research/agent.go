package research

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"refsmith/internal/llm"
)

// Agent runs the bounded research loop for a single request. Each iteration
// is one model turn; a turn either asks for a web search (SEARCH: <query>)
// or produces the final JSON record. The loop never exceeds MaxIterations
// turns.
type Agent struct {
	llm           llm.Client
	searcher      Searcher
	maxIterations int
	log           *zap.Logger
}

// NewAgent creates a research agent.
func NewAgent(client llm.Client, searcher Searcher, maxIterations int, log *zap.Logger) *Agent {
	if maxIterations <= 0 {
		maxIterations = 8
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Agent{
		llm:           client,
		searcher:      searcher,
		maxIterations: maxIterations,
		log:           log,
	}
}

const searchDirective = "SEARCH:"

// Research runs the loop and returns the parsed record plus the raw final
// model output. Exhausting the iteration budget without a valid record is
// an error; the caller drops the item.
func (a *Agent) Research(ctx context.Context, req Request) (*Record, string, error) {
	if a.llm == nil {
		return nil, "", fmt.Errorf("no LLM client configured")
	}

	system := buildSystemPrompt(req)
	transcript := buildUserPrompt(req)

	a.log.Info("Research started",
		zap.String("name", req.Name),
		zap.String("status", req.Status),
		zap.Int("budget", a.maxIterations))

	var lastParseErr error
	for turn := 0; turn < a.maxIterations; turn++ {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}

		output, err := a.llm.CompleteWithSystem(ctx, system, transcript)
		if err != nil {
			return nil, "", fmt.Errorf("research turn %d for %q: %w", turn+1, req.Name, err)
		}

		if query, ok := extractSearchQuery(output); ok {
			results := a.runSearch(ctx, query)
			transcript += "\n\nAssistant requested: SEARCH: " + query + "\n" + results
			continue
		}

		rec, err := ParseRecord(output)
		if err != nil {
			lastParseErr = err
			a.log.Debug("Record parse failed, asking for correction",
				zap.Int("turn", turn+1), zap.Error(err))
			transcript += "\n\nYour previous reply was not valid: " + err.Error() +
				"\nReply with strict JSON matching the schema, and nothing else."
			continue
		}

		a.log.Info("Research finished",
			zap.String("name", req.Name),
			zap.Int("turns", turn+1),
			zap.Int("items", len(rec.Items)))
		return rec, output, nil
	}

	if lastParseErr != nil {
		return nil, "", fmt.Errorf("research for %q exhausted %d iterations: %w", req.Name, a.maxIterations, lastParseErr)
	}
	return nil, "", fmt.Errorf("research for %q exhausted %d iterations without a final record", req.Name, a.maxIterations)
}

// extractSearchQuery recognises a SEARCH: directive on the first non-empty
// line of the model output.
func extractSearchQuery(output string) (string, bool) {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(strings.ToUpper(line), searchDirective) {
			query := strings.TrimSpace(line[len(searchDirective):])
			query = strings.Trim(query, `"`)
			return query, query != ""
		}
		return "", false
	}
	return "", false
}

// runSearch formats search output for the transcript. Search failures are
// reported to the model rather than aborting the loop; it can try another
// query or finalise from what it already has.
func (a *Agent) runSearch(ctx context.Context, query string) string {
	if a.searcher == nil {
		return "Search results: the search tool is unavailable; finalise from existing knowledge."
	}

	hits, err := a.searcher.Search(ctx, query)
	if err != nil {
		a.log.Warn("Search failed", zap.String("query", query), zap.Error(err))
		return fmt.Sprintf("Search results: the search failed (%v); adjust the query or finalise from existing knowledge.", err)
	}
	if len(hits) == 0 {
		return "Search results: no hits."
	}

	var b strings.Builder
	b.WriteString("Search results:\n")
	for i, hit := range hits {
		fmt.Fprintf(&b, "%d. %s\n   URL: %s\n   Snippet: %s\n", i+1, hit.Title, hit.URL, truncate(hit.Content, 600))
		if hit.PageText != "" {
			fmt.Fprintf(&b, "   Page text: %s\n", truncate(hit.PageText, 1500))
		}
	}
	return b.String()
}
