package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"refsmith/internal/config"
	"refsmith/internal/github"
	"refsmith/internal/llm"
	"refsmith/internal/research"
	"refsmith/internal/store"
	"refsmith/internal/workflow"
	"refsmith/internal/zotero"
)

const version = "0.3.0"

var (
	// Global flags
	verbose    bool
	configPath string

	// run flags
	repoFlag          string
	issueNumber       int
	selectionModel    string
	researchModel     string
	maxIterationsFlag int

	// history flags
	historyLimit int

	logger   *zap.Logger
	logLevel zap.AtomicLevel
)

var rootCmd = &cobra.Command{
	Use:   "refsmith",
	Short: "refsmith - research tracking issue agent",
	Long: `refsmith processes a GitHub tracking issue that carries two checklists,
"Articles to Find" and "Topics to Review". It selects unchecked items,
researches each with a bounded search loop, syncs references into Zotero,
and commits the results back to the issue as one comment and one body patch.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		logLevel = cfg.Level
		if verbose {
			logLevel.SetLevel(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process one tracking issue end to end",
	Long: `Fetches the issue, selects unchecked checklist items, researches each
selected item, syncs results into Zotero, then posts a single results
comment and patches the checklist checkboxes.

Example:
  refsmith run --repo owner/name --issue 42`,
	RunE: runIssue,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent runs from the local history database",
	RunE:  showHistory,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the refsmith version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("refsmith %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "path to config file")

	runCmd.Flags().StringVar(&repoFlag, "repo", "", "repository slug owner/name (default: derived from git remote)")
	runCmd.Flags().IntVar(&issueNumber, "issue", 0, "tracking issue number (required)")
	runCmd.Flags().StringVar(&selectionModel, "selection-model", "", "override the selection policy model")
	runCmd.Flags().StringVar(&researchModel, "research-model", "", "override the research agent model")
	runCmd.Flags().IntVar(&maxIterationsFlag, "max-iterations", 0, "override the research loop budget")
	_ = runCmd.MarkFlagRequired("issue")

	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of runs to show")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runIssue(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	applyFlagOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if level, err := zapcore.ParseLevel(cfg.Logging.Level); err == nil && !verbose {
		logLevel.SetLevel(level)
	}

	repo := repoFlag
	if repo == "" {
		repo, err = deriveRepoSlug()
		if err != nil {
			return fmt.Errorf("no --repo given and none derivable: %w", err)
		}
		logger.Info("Derived repository from git remote", zap.String("repo", repo))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	engine, err := buildEngine(ctx, cfg, repo)
	if err != nil {
		return err
	}

	startedAt := time.Now()
	state, runErr := engine.Run(ctx, repo, issueNumber)
	finishedAt := time.Now()

	if state != nil {
		recordHistory(cfg, state, startedAt, finishedAt)
	}
	if runErr != nil {
		return runErr
	}

	return printSummary(state)
}

func applyFlagOverrides(cfg *config.Config) {
	if selectionModel != "" {
		cfg.LLM.SelectionModel = selectionModel
	}
	if researchModel != "" {
		cfg.LLM.ResearchModel = researchModel
	}
	if maxIterationsFlag > 0 {
		cfg.Research.MaxIterations = maxIterationsFlag
	}
}

func buildEngine(ctx context.Context, cfg *config.Config, repo string) (*workflow.Engine, error) {
	tracker := github.NewClient(repo, cfg.GitHub.Token, logger.Named("github"))
	if cfg.GitHub.BaseURL != "" {
		tracker.SetBaseURL(cfg.GitHub.BaseURL)
	}

	selectionClient, err := llm.New(ctx, llm.Options{
		Provider: llm.Provider(cfg.LLM.Provider),
		APIKey:   cfg.LLM.APIKey,
		Model:    cfg.LLM.SelectionModel,
		Timeout:  cfg.GetLLMTimeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("building selection client: %w", err)
	}
	selector := workflow.NewSelector(selectionClient, logger.Named("selector"))

	researchClient, err := llm.New(ctx, llm.Options{
		Provider: llm.Provider(cfg.LLM.Provider),
		APIKey:   cfg.LLM.APIKey,
		Model:    cfg.LLM.ResearchModel,
		Timeout:  cfg.GetLLMTimeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("building research client: %w", err)
	}

	var searcher research.Searcher
	if cfg.Research.TavilyAPIKey != "" {
		tavily := research.DefaultTavilyConfig(cfg.Research.TavilyAPIKey)
		if cfg.Research.TavilyBaseURL != "" {
			tavily.BaseURL = cfg.Research.TavilyBaseURL
		}
		if cfg.Research.MaxResults > 0 {
			tavily.MaxResults = cfg.Research.MaxResults
		}
		tavily.FetchPages = cfg.Research.FetchPages
		searcher = research.NewTavilySearcher(tavily, logger.Named("search"))
	} else {
		logger.Warn("TAVILY_API_KEY not set, research runs without web search")
	}
	agent := research.NewAgent(researchClient, searcher, cfg.Research.MaxIterations, logger.Named("research"))

	var syncer workflow.Syncer
	if cfg.ZoteroEnabled() {
		zc, err := zotero.NewClient(zotero.Config{
			APIKey:      cfg.Zotero.APIKey,
			LibraryID:   cfg.Zotero.LibraryID,
			LibraryType: cfg.Zotero.LibraryType,
			Timeout:     cfg.GetZoteroTimeout(),
		}, logger.Named("zotero"))
		if err != nil {
			return nil, err
		}
		syncer = zc
	} else {
		logger.Warn("Zotero credentials not set, skipping reference sync")
	}

	return workflow.NewEngine(tracker, selector, agent, syncer, logger.Named("workflow")), nil
}

func recordHistory(cfg *config.Config, state *workflow.RunState, startedAt, finishedAt time.Time) {
	if !cfg.Store.Enabled {
		return
	}
	runStore, err := store.NewRunStore(cfg.Store.DatabasePath)
	if err != nil {
		logger.Warn("Run history unavailable", zap.Error(err))
		return
	}
	defer runStore.Close()

	rec := store.RunRecord{
		ID:               uuid.NewString(),
		Repo:             state.Repo,
		IssueNumber:      state.IssueNumber,
		IssueTitle:       state.IssueTitle,
		SelectedArticles: len(state.SelectedArticles),
		SelectedTopics:   len(state.SelectedTopics),
		ArticleResults:   len(state.ArticleResults),
		TopicResults:     len(state.TopicResults),
		CommentPosted:    state.CommentPosted,
		BodyPatched:      state.BodyPatched,
		StartedAt:        startedAt,
		FinishedAt:       finishedAt,
	}
	for _, r := range state.ArticleResults {
		countSync(&rec, r.Sync, r.SyncErr)
	}
	for _, r := range state.TopicResults {
		countSync(&rec, r.Sync, r.SyncErr)
	}
	if err := runStore.RecordRun(rec); err != nil {
		logger.Warn("Failed to record run history", zap.Error(err))
	}
}

func countSync(rec *store.RunRecord, outcome *zotero.Outcome, syncErr string) {
	switch {
	case syncErr != "":
		rec.SyncFailures++
	case outcome == nil:
	case outcome.Existed:
		rec.SyncedExisting++
	default:
		rec.SyncedNew++
	}
}

// runSummary is the machine-readable result printed on success.
type runSummary struct {
	Repo             string `json:"repo"`
	Issue            int    `json:"issue"`
	SelectedArticles []int  `json:"selected_articles"`
	SelectedTopics   []int  `json:"selected_topics"`
	ArticleResults   int    `json:"article_results"`
	TopicResults     int    `json:"topic_results"`
	CommentPosted    bool   `json:"comment_posted"`
	BodyPatched      bool   `json:"body_patched"`
}

func printSummary(state *workflow.RunState) error {
	summary := runSummary{
		Repo:             state.Repo,
		Issue:            state.IssueNumber,
		SelectedArticles: state.SelectedArticles,
		SelectedTopics:   state.SelectedTopics,
		ArticleResults:   len(state.ArticleResults),
		TopicResults:     len(state.TopicResults),
		CommentPosted:    state.CommentPosted,
		BodyPatched:      state.BodyPatched,
	}
	if summary.SelectedArticles == nil {
		summary.SelectedArticles = []int{}
	}
	if summary.SelectedTopics == nil {
		summary.SelectedTopics = []int{}
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func showHistory(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	runStore, err := store.NewRunStore(cfg.Store.DatabasePath)
	if err != nil {
		return err
	}
	defer runStore.Close()

	runs, err := runStore.ListRuns(historyLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded yet.")
		return nil
	}
	for _, r := range runs {
		fmt.Printf("%s  %s#%d  articles=%d topics=%d synced=%d/%d failures=%d comment=%t patched=%t\n",
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			r.Repo, r.IssueNumber,
			r.ArticleResults, r.TopicResults,
			r.SyncedNew, r.SyncedExisting, r.SyncFailures,
			r.CommentPosted, r.BodyPatched)
	}
	return nil
}

// deriveRepoSlug inspects the git origin remote in the working directory
// and extracts the owner/name slug.
func deriveRepoSlug() (string, error) {
	out, err := exec.Command("git", "remote", "get-url", "origin").Output()
	if err != nil {
		return "", fmt.Errorf("reading git remote: %w", err)
	}
	return parseRepoSlug(strings.TrimSpace(string(out)))
}

func parseRepoSlug(remote string) (string, error) {
	slug := remote
	switch {
	case strings.HasPrefix(slug, "git@github.com:"):
		slug = strings.TrimPrefix(slug, "git@github.com:")
	case strings.HasPrefix(slug, "https://github.com/"):
		slug = strings.TrimPrefix(slug, "https://github.com/")
	case strings.HasPrefix(slug, "ssh://git@github.com/"):
		slug = strings.TrimPrefix(slug, "ssh://git@github.com/")
	default:
		return "", fmt.Errorf("remote %q is not a recognized GitHub URL", remote)
	}
	slug = strings.TrimSuffix(slug, ".git")
	slug = strings.Trim(slug, "/")
	if strings.Count(slug, "/") != 1 {
		return "", fmt.Errorf("cannot extract owner/name from remote %q", remote)
	}
	return slug, nil
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".refsmith.yaml"
	}
	return home + "/.refsmith/config.yaml"
}
