package workflow

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"go.uber.org/goleak"

	"refsmith/internal/github"
	"refsmith/internal/research"
	"refsmith/internal/zotero"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}

const trackingBody = `Collecting references for the evaluation survey.

## Articles to Find

- [ ] Benchmarking Safety Evaluations (known)
  - try the 2023 workshop proceedings
- [x] Scaling Laws Revisited (unknown)
- [ ] Calibrated Uncertainty Estimates

## Topics to Review

- [ ] Dataset governance follow-up
- [x] Annotation quality metrics
`

// stubTracker records every mutation against the issue.
type stubTracker struct {
	issue       *github.Issue
	getErr      error
	commentErr  error
	patchErr    error
	comments    []string
	bodyPatches []string
}

func (s *stubTracker) GetIssue(ctx context.Context, number int) (*github.Issue, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.issue, nil
}

func (s *stubTracker) CreateComment(ctx context.Context, number int, body string) error {
	if s.commentErr != nil {
		return s.commentErr
	}
	s.comments = append(s.comments, body)
	return nil
}

func (s *stubTracker) UpdateIssueBody(ctx context.Context, number int, body string) error {
	if s.patchErr != nil {
		return s.patchErr
	}
	s.bodyPatches = append(s.bodyPatches, body)
	return nil
}

// stubResearcher returns one canned record per request, or errors for
// names listed in failFor.
type stubResearcher struct {
	failFor  map[string]bool
	requests []research.Request
}

func (s *stubResearcher) Research(ctx context.Context, req research.Request) (*research.Record, string, error) {
	s.requests = append(s.requests, req)
	if s.failFor[req.Name] {
		return nil, "", fmt.Errorf("research budget exhausted for %q", req.Name)
	}
	return &research.Record{
		Items: []research.Item{{ItemType: "journalArticle", Title: req.Name + " (record)"}},
	}, "{}", nil
}

type stubSyncer struct {
	err   error
	calls int
}

func (s *stubSyncer) Sync(ctx context.Context, rec *research.Record) (*zotero.Outcome, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	key := fmt.Sprintf("KEY%05d", s.calls)
	return &zotero.Outcome{Key: key, SelectURI: "zotero://select/items/" + key}, nil
}

func newTestEngine(tracker *stubTracker, model *fakeLLM, researcher *stubResearcher, syncer Syncer) *Engine {
	return NewEngine(tracker, NewSelector(model, nil), researcher, syncer, nil)
}

func TestRunFullHappyPath(t *testing.T) {
	tracker := &stubTracker{issue: &github.Issue{Number: 7, Title: "Reading list", Body: trackingBody}}
	researcher := &stubResearcher{}
	syncer := &stubSyncer{}
	engine := newTestEngine(tracker, &fakeLLM{response: `{"selected": [0]}`}, researcher, syncer)

	state, err := engine.Run(context.Background(), "octo/reading-list", 7)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// One selection call per kind; index 0 picked in both sections.
	if len(researcher.requests) != 2 {
		t.Fatalf("expected 2 research requests, got %d: %+v", len(researcher.requests), researcher.requests)
	}
	if researcher.requests[0].Name != "Benchmarking Safety Evaluations" || researcher.requests[0].Status != "known" {
		t.Errorf("unexpected article request: %+v", researcher.requests[0])
	}
	if researcher.requests[1].Name != "Dataset governance follow-up" || researcher.requests[1].Status != "unknown" {
		t.Errorf("unexpected topic request: %+v", researcher.requests[1])
	}

	if len(tracker.comments) != 1 {
		t.Fatalf("expected exactly one comment, got %d", len(tracker.comments))
	}
	comment := tracker.comments[0]
	if !strings.Contains(comment, "### Article Research Results") || !strings.Contains(comment, "### Topic Research Results") {
		t.Errorf("comment missing sections:\n%s", comment)
	}
	if !strings.Contains(comment, "zotero://select/items/") {
		t.Errorf("comment missing sync outcome:\n%s", comment)
	}

	if len(tracker.bodyPatches) != 1 {
		t.Fatalf("expected exactly one body patch, got %d", len(tracker.bodyPatches))
	}
	patched := tracker.bodyPatches[0]
	if !strings.Contains(patched, "- [x] Benchmarking Safety Evaluations (known)") {
		t.Errorf("article not checked:\n%s", patched)
	}
	if !strings.Contains(patched, "- [x] Dataset governance follow-up") {
		t.Errorf("topic not checked:\n%s", patched)
	}
	if !strings.Contains(patched, "- [ ] Calibrated Uncertainty Estimates") {
		t.Errorf("unselected article must stay unchecked:\n%s", patched)
	}

	if !state.CommentPosted || !state.BodyPatched {
		t.Errorf("state flags wrong: %+v", state)
	}
	if syncer.calls != 2 {
		t.Errorf("expected 2 sync calls, got %d", syncer.calls)
	}
}

func TestRunEmptySelectionSkipsCommit(t *testing.T) {
	tracker := &stubTracker{issue: &github.Issue{Number: 7, Title: "t", Body: trackingBody}}
	researcher := &stubResearcher{}
	engine := newTestEngine(tracker, &fakeLLM{response: `{"selected": []}`}, researcher, &stubSyncer{})

	state, err := engine.Run(context.Background(), "octo/reading-list", 7)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(tracker.comments) != 0 {
		t.Errorf("empty run must not comment: %v", tracker.comments)
	}
	if len(tracker.bodyPatches) != 0 {
		t.Errorf("empty run must not patch the body")
	}
	if len(researcher.requests) != 0 {
		t.Errorf("nothing should be researched: %+v", researcher.requests)
	}
	if state.CommentPosted || state.BodyPatched {
		t.Errorf("state flags wrong: %+v", state)
	}
}

func TestRunTopicOnlyCommentOmitsArticleSection(t *testing.T) {
	// Every article already checked, one topic left to research: the
	// comment must carry only the topic section, with no sentence
	// claiming the checklist went unchanged while the patch flips a box.
	body := `Summary line.

## Articles to Find

- [x] Benchmarking Safety Evaluations (known)

## Topics to Review

- [ ] Dataset governance follow-up
`
	tracker := &stubTracker{issue: &github.Issue{Number: 7, Title: "t", Body: body}}
	engine := newTestEngine(tracker, &fakeLLM{response: `{"selected": [0]}`}, &stubResearcher{}, &stubSyncer{})

	state, err := engine.Run(context.Background(), "octo/reading-list", 7)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(tracker.comments) != 1 {
		t.Fatalf("expected exactly one comment, got %d", len(tracker.comments))
	}
	comment := tracker.comments[0]
	if !strings.Contains(comment, "### Topic Research Results") {
		t.Errorf("topic section missing:\n%s", comment)
	}
	for _, banned := range []string{"Article Research Results", "No results for the selected articles", "remains unchanged"} {
		if strings.Contains(comment, banned) {
			t.Errorf("comment must not mention the skipped article kind (%q):\n%s", banned, comment)
		}
	}

	if len(tracker.bodyPatches) != 1 || !strings.Contains(tracker.bodyPatches[0], "- [x] Dataset governance follow-up") {
		t.Fatalf("topic checkbox not flipped: %v", tracker.bodyPatches)
	}
	if !state.CommentPosted || !state.BodyPatched {
		t.Errorf("state flags wrong: %+v", state)
	}
}

func TestRunAllSelectedArticlesFailStillReported(t *testing.T) {
	tracker := &stubTracker{issue: &github.Issue{Number: 7, Title: "t", Body: trackingBody}}
	researcher := &stubResearcher{failFor: map[string]bool{
		"Benchmarking Safety Evaluations":  true,
		"Calibrated Uncertainty Estimates": true,
		"Dataset governance follow-up":     true,
	}}
	engine := newTestEngine(tracker, &fakeLLM{response: `{"selected": [0, 2]}`}, researcher, &stubSyncer{})

	state, err := engine.Run(context.Background(), "octo/reading-list", 7)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	// Selected but nothing succeeded: the sections carry the fixed
	// no-results sentences and the body stays untouched.
	if len(tracker.comments) != 1 {
		t.Fatalf("expected one comment, got %d", len(tracker.comments))
	}
	if !strings.Contains(tracker.comments[0], "No results for the selected articles") {
		t.Errorf("all-failed section sentence missing:\n%s", tracker.comments[0])
	}
	if len(tracker.bodyPatches) != 0 || state.BodyPatched {
		t.Errorf("no successes, the body must not be patched")
	}
}

func TestRunDropsFailedResearch(t *testing.T) {
	tracker := &stubTracker{issue: &github.Issue{Number: 7, Title: "t", Body: trackingBody}}
	researcher := &stubResearcher{failFor: map[string]bool{"Benchmarking Safety Evaluations": true}}
	engine := newTestEngine(tracker, &fakeLLM{response: `{"selected": [0, 2]}`}, researcher, &stubSyncer{})

	state, err := engine.Run(context.Background(), "octo/reading-list", 7)
	if err != nil {
		t.Fatalf("a failed item must not fail the run: %v", err)
	}
	if len(state.ArticleResults) != 1 || state.ArticleResults[0].Article.Name != "Calibrated Uncertainty Estimates" {
		t.Errorf("unexpected results: %+v", state.ArticleResults)
	}

	patched := tracker.bodyPatches[0]
	if strings.Contains(patched, "- [x] Benchmarking Safety Evaluations (known)") {
		t.Errorf("failed item must stay unchecked:\n%s", patched)
	}
	if !strings.Contains(patched, "- [x] Calibrated Uncertainty Estimates") {
		t.Errorf("successful item must be checked:\n%s", patched)
	}
}

func TestRunSyncFailureReportedInline(t *testing.T) {
	tracker := &stubTracker{issue: &github.Issue{Number: 7, Title: "t", Body: trackingBody}}
	engine := newTestEngine(tracker, &fakeLLM{response: `{"selected": [0]}`}, &stubResearcher{},
		&stubSyncer{err: fmt.Errorf("library quota exceeded")})

	state, err := engine.Run(context.Background(), "octo/reading-list", 7)
	if err != nil {
		t.Fatalf("sync failures must not fail the run: %v", err)
	}
	if state.ArticleResults[0].SyncErr != "library quota exceeded" {
		t.Errorf("SyncErr = %q", state.ArticleResults[0].SyncErr)
	}
	if !strings.Contains(tracker.comments[0], "sync failed: library quota exceeded") {
		t.Errorf("sync failure missing from comment:\n%s", tracker.comments[0])
	}
	// The item was researched, so its checkbox still flips.
	if !strings.Contains(tracker.bodyPatches[0], "- [x] Benchmarking Safety Evaluations (known)") {
		t.Errorf("item must be checked despite sync failure")
	}
}

func TestRunNilSyncerOmitsZoteroBullets(t *testing.T) {
	tracker := &stubTracker{issue: &github.Issue{Number: 7, Title: "t", Body: trackingBody}}
	engine := newTestEngine(tracker, &fakeLLM{response: `{"selected": [0]}`}, &stubResearcher{}, nil)

	_, err := engine.Run(context.Background(), "octo/reading-list", 7)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if strings.Contains(tracker.comments[0], "Zotero:") {
		t.Errorf("no syncer configured, comment must omit Zotero bullets:\n%s", tracker.comments[0])
	}
}

func TestRunOutOfRangeSelectionIgnored(t *testing.T) {
	tracker := &stubTracker{issue: &github.Issue{Number: 7, Title: "t", Body: trackingBody}}
	researcher := &stubResearcher{}
	engine := newTestEngine(tracker, &fakeLLM{response: `{"selected": [0, 17, -3]}`}, researcher, &stubSyncer{})

	if _, err := engine.Run(context.Background(), "octo/reading-list", 7); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(researcher.requests) != 2 {
		t.Errorf("only in-range positions may be researched, got %+v", researcher.requests)
	}
}

func TestRunFetchFailureIsFatal(t *testing.T) {
	tracker := &stubTracker{getErr: fmt.Errorf("HTTP 404")}
	engine := newTestEngine(tracker, &fakeLLM{response: `{"selected": []}`}, &stubResearcher{}, nil)

	if _, err := engine.Run(context.Background(), "octo/reading-list", 7); err == nil {
		t.Fatal("expected fetch failure to fail the run")
	}
}

func TestRunCommentFailureIsFatal(t *testing.T) {
	tracker := &stubTracker{
		issue:      &github.Issue{Number: 7, Title: "t", Body: trackingBody},
		commentErr: fmt.Errorf("HTTP 403"),
	}
	engine := newTestEngine(tracker, &fakeLLM{response: `{"selected": [0]}`}, &stubResearcher{}, nil)

	state, err := engine.Run(context.Background(), "octo/reading-list", 7)
	if err == nil {
		t.Fatal("expected comment failure to fail the run")
	}
	if state.CommentPosted || len(tracker.bodyPatches) != 0 {
		t.Errorf("failed comment must stop the commit: %+v", state)
	}
}

func TestRunNoopMarkSkipsBodyPatch(t *testing.T) {
	// All checklist entries already checked: the selector never fires,
	// nothing is researched, and the body is never rewritten.
	body := strings.ReplaceAll(trackingBody, "- [ ]", "- [x]")
	tracker := &stubTracker{issue: &github.Issue{Number: 7, Title: "t", Body: body}}
	engine := newTestEngine(tracker, &fakeLLM{response: `{"selected": [0]}`}, &stubResearcher{}, nil)

	state, err := engine.Run(context.Background(), "octo/reading-list", 7)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(tracker.bodyPatches) != 0 || state.BodyPatched {
		t.Errorf("identical body must not be patched")
	}
	if len(tracker.comments) != 0 {
		t.Errorf("nothing selected, no comment expected: %v", tracker.comments)
	}
}
