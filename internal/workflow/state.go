// Package workflow sequences one research run over a tracking issue:
// fetch, select, research, sync, and a single terminal commit back to the
// tracker. The state machine is an explicit stage enum and a step function
// over one mutable RunState aggregate; there is no workflow-engine
// dependency to hide the control flow.
package workflow

import (
	"refsmith/internal/issue"
	"refsmith/internal/research"
	"refsmith/internal/zotero"
)

// Stage enumerates the workflow states.
type Stage int

const (
	StageFetchIssue Stage = iota
	StageSelectArticles
	StageResearchArticles
	StageSelectTopics
	StageResearchTopics
	StageUpdateIssue
	StageDone
)

// String returns the stage name.
func (s Stage) String() string {
	switch s {
	case StageFetchIssue:
		return "fetch_issue"
	case StageSelectArticles:
		return "select_articles"
	case StageResearchArticles:
		return "research_articles"
	case StageSelectTopics:
		return "select_topics"
	case StageResearchTopics:
		return "research_topics"
	case StageUpdateIssue:
		return "update_issue"
	case StageDone:
		return "done"
	default:
		return "unknown"
	}
}

// ArticleResult is one successfully researched article. Items that fail
// research are dropped rather than recorded, so the comment only reports
// real outcomes. A failed sync still leaves the research result intact,
// with the error carried as text.
type ArticleResult struct {
	Index   int
	Article issue.Article
	Record  *research.Record
	Raw     string
	Sync    *zotero.Outcome
	SyncErr string
}

// TopicResult is the topic counterpart of ArticleResult.
type TopicResult struct {
	Index   int
	Topic   issue.Topic
	Record  *research.Record
	Raw     string
	Sync    *zotero.Outcome
	SyncErr string
}

// RunState is the single mutable aggregate for one run. The engine owns
// it; each stage mutates only the fields it is responsible for. It is
// never persisted.
type RunState struct {
	Repo        string
	IssueNumber int

	// Populated by FetchIssue.
	IssueBody  string
	IssueTitle string
	Summary    string
	Articles   []issue.Article
	Topics     []issue.Topic

	// Populated by the selection stages.
	SelectedArticles []int
	SelectedTopics   []int

	// Populated by the research stages.
	ArticleResults []ArticleResult
	TopicResults   []TopicResult
	ArticleComment string
	TopicComment   string
	UpdatedBody    string

	// Populated by UpdateIssue.
	CommentBody   string
	CommentPosted bool
	BodyPatched   bool
}
