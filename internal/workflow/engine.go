package workflow

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"refsmith/internal/github"
	"refsmith/internal/issue"
	"refsmith/internal/research"
	"refsmith/internal/zotero"
)

// Tracker is the issue-tracker surface the engine needs. The GitHub
// client satisfies it; tests substitute a recording stub.
type Tracker interface {
	GetIssue(ctx context.Context, number int) (*github.Issue, error)
	CreateComment(ctx context.Context, number int, body string) error
	UpdateIssueBody(ctx context.Context, number int, body string) error
}

// Researcher runs one bounded research task and returns the structured
// record plus the raw transcript tail.
type Researcher interface {
	Research(ctx context.Context, req research.Request) (*research.Record, string, error)
}

// Syncer pushes one record into the reference store. A nil Syncer
// disables syncing; results then carry no store outcome at all.
type Syncer interface {
	Sync(ctx context.Context, rec *research.Record) (*zotero.Outcome, error)
}

// Engine drives a run through the stages. Construct one per run target;
// Run may be called repeatedly, each call building a fresh RunState.
type Engine struct {
	tracker    Tracker
	selector   *Selector
	researcher Researcher
	syncer     Syncer
	log        *zap.Logger
}

// NewEngine wires the engine. tracker, selector, and researcher are
// required; syncer may be nil.
func NewEngine(tracker Tracker, selector *Selector, researcher Researcher, syncer Syncer, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		tracker:    tracker,
		selector:   selector,
		researcher: researcher,
		syncer:     syncer,
		log:        log,
	}
}

// Run processes one tracking issue end to end. Research and sync
// failures degrade the run (items drop out, sync errors surface in the
// comment); only fetch and the terminal commit can fail the run itself.
func (e *Engine) Run(ctx context.Context, repo string, issueNumber int) (*RunState, error) {
	state := &RunState{Repo: repo, IssueNumber: issueNumber}

	stage := StageFetchIssue
	for stage != StageDone {
		e.log.Debug("Entering stage", zap.String("stage", stage.String()))
		next, err := e.step(ctx, stage, state)
		if err != nil {
			return state, fmt.Errorf("stage %s: %w", stage, err)
		}
		stage = next
	}
	return state, nil
}

func (e *Engine) step(ctx context.Context, stage Stage, state *RunState) (Stage, error) {
	switch stage {
	case StageFetchIssue:
		return StageSelectArticles, e.fetchIssue(ctx, state)
	case StageSelectArticles:
		state.SelectedArticles = e.selector.SelectArticles(ctx, state.IssueTitle, state.Summary, state.Articles)
		return StageResearchArticles, nil
	case StageResearchArticles:
		e.researchArticles(ctx, state)
		return StageSelectTopics, nil
	case StageSelectTopics:
		state.SelectedTopics = e.selector.SelectTopics(ctx, state.IssueTitle, state.Summary, state.Topics)
		return StageResearchTopics, nil
	case StageResearchTopics:
		e.researchTopics(ctx, state)
		return StageUpdateIssue, nil
	case StageUpdateIssue:
		return StageDone, e.updateIssue(ctx, state)
	default:
		return StageDone, fmt.Errorf("unexpected stage %d", stage)
	}
}

func (e *Engine) fetchIssue(ctx context.Context, state *RunState) error {
	iss, err := e.tracker.GetIssue(ctx, state.IssueNumber)
	if err != nil {
		return err
	}

	state.IssueBody = iss.Body
	state.IssueTitle = iss.Title
	state.Summary = issue.ExtractSummary(iss.Body)
	state.Articles = issue.ParseArticles(iss.Body)
	state.Topics = issue.ParseTopics(iss.Body)

	e.log.Info("Fetched tracking issue",
		zap.String("repo", state.Repo),
		zap.Int("issue", state.IssueNumber),
		zap.Int("articles", len(state.Articles)),
		zap.Int("topics", len(state.Topics)))
	return nil
}

func (e *Engine) researchArticles(ctx context.Context, state *RunState) {
	// Empty selection skips the stage outright: no section comment, so a
	// run that only worked the other kind never claims this checklist
	// went untouched.
	if len(state.SelectedArticles) == 0 {
		return
	}

	completed := make([]int, 0, len(state.SelectedArticles))
	for _, idx := range state.SelectedArticles {
		if idx < 0 || idx >= len(state.Articles) {
			e.log.Warn("Selected article index out of range", zap.Int("index", idx))
			continue
		}
		article := state.Articles[idx]

		req := research.Request{
			Name:    article.Name,
			Details: strings.Join(article.Details, " "),
			Status:  article.Status,
			Summary: state.Summary,
		}
		rec, raw, err := e.researcher.Research(ctx, req)
		if err != nil {
			e.log.Warn("Article research failed, dropping item",
				zap.String("article", article.Name), zap.Error(err))
			continue
		}

		result := ArticleResult{Index: idx, Article: article, Record: rec, Raw: raw}
		result.Sync, result.SyncErr = e.syncRecord(ctx, rec)
		state.ArticleResults = append(state.ArticleResults, result)
		completed = append(completed, idx)
	}

	state.ArticleComment = FormatArticleComment(state.ArticleResults)
	if len(completed) > 0 {
		state.UpdatedBody = issue.MarkArticlesCompleted(state.IssueBody, completed)
	}
}

func (e *Engine) researchTopics(ctx context.Context, state *RunState) {
	if len(state.SelectedTopics) == 0 {
		return
	}

	completed := make([]int, 0, len(state.SelectedTopics))
	for _, idx := range state.SelectedTopics {
		if idx < 0 || idx >= len(state.Topics) {
			e.log.Warn("Selected topic index out of range", zap.Int("index", idx))
			continue
		}
		topic := state.Topics[idx]

		req := research.Request{
			Name:    topic.Topic,
			Details: strings.Join(topic.Details, " "),
			Status:  issue.StatusUnknown,
			Summary: state.Summary,
		}
		rec, raw, err := e.researcher.Research(ctx, req)
		if err != nil {
			e.log.Warn("Topic research failed, dropping item",
				zap.String("topic", topic.Topic), zap.Error(err))
			continue
		}

		result := TopicResult{Index: idx, Topic: topic, Record: rec, Raw: raw}
		result.Sync, result.SyncErr = e.syncRecord(ctx, rec)
		state.TopicResults = append(state.TopicResults, result)
		completed = append(completed, idx)
	}

	state.TopicComment = FormatTopicComment(state.TopicResults)
	if len(completed) > 0 {
		base := state.UpdatedBody
		if base == "" {
			base = state.IssueBody
		}
		state.UpdatedBody = issue.MarkTopicsCompleted(base, completed)
	}
}

func (e *Engine) syncRecord(ctx context.Context, rec *research.Record) (*zotero.Outcome, string) {
	if e.syncer == nil || rec == nil {
		return nil, ""
	}
	outcome, err := e.syncer.Sync(ctx, rec)
	if err != nil {
		e.log.Warn("Reference store sync failed", zap.Error(err))
		return nil, err.Error()
	}
	return outcome, ""
}

// updateIssue performs the single terminal commit: at most one comment
// and at most one body patch. A run that selected nothing in either
// section posts no comment at all, and the body is patched only when
// marking actually changed it.
func (e *Engine) updateIssue(ctx context.Context, state *RunState) error {
	sections := make([]string, 0, 2)
	if state.ArticleComment != "" {
		sections = append(sections, state.ArticleComment)
	}
	if state.TopicComment != "" {
		sections = append(sections, state.TopicComment)
	}
	state.CommentBody = strings.Join(sections, "\n\n")

	emptyRun := len(state.SelectedArticles) == 0 && len(state.SelectedTopics) == 0
	if emptyRun {
		e.log.Info("Nothing selected, skipping issue comment")
	} else if state.CommentBody != "" {
		if err := e.tracker.CreateComment(ctx, state.IssueNumber, state.CommentBody); err != nil {
			return fmt.Errorf("posting results comment: %w", err)
		}
		state.CommentPosted = true
	}

	if state.UpdatedBody != "" && state.UpdatedBody != state.IssueBody {
		if err := e.tracker.UpdateIssueBody(ctx, state.IssueNumber, state.UpdatedBody); err != nil {
			return fmt.Errorf("patching issue body: %w", err)
		}
		state.BodyPatched = true
	}

	e.log.Info("Run completed",
		zap.Int("article_results", len(state.ArticleResults)),
		zap.Int("topic_results", len(state.TopicResults)),
		zap.Bool("comment_posted", state.CommentPosted),
		zap.Bool("body_patched", state.BodyPatched))
	return nil
}
