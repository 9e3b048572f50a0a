package workflow

import (
	"fmt"
	"strings"

	"refsmith/internal/research"
	"refsmith/internal/zotero"
)

const (
	noArticlesComment = "No results for the selected articles this run; " +
		"their checkboxes were left unchanged."
	noTopicsComment = "No results for the selected topics this run; " +
		"their checkboxes were left unchanged."
)

// FormatArticleComment renders the article results as one markdown section.
// Missing optional fields are simply omitted. An empty result set yields a
// fixed sentence; the engine only renders a section for a kind that was
// actually selected, so empty here means every selected item failed.
func FormatArticleComment(results []ArticleResult) string {
	if len(results) == 0 {
		return noArticlesComment
	}

	parts := []string{"### Article Research Results"}
	for _, result := range results {
		parts = append(parts, fmt.Sprintf("- **%s** (_status: %s_):", result.Article.Name, result.Article.Status))
		parts = append(parts, formatRecordBullets(result.Record)...)
		if bullet := formatSyncBullet(result.Sync, result.SyncErr); bullet != "" {
			parts = append(parts, bullet)
		}
	}
	return strings.Join(parts, "\n")
}

// FormatTopicComment renders the topic results as one markdown section.
func FormatTopicComment(results []TopicResult) string {
	if len(results) == 0 {
		return noTopicsComment
	}

	parts := []string{"### Topic Research Results"}
	for _, result := range results {
		parts = append(parts, fmt.Sprintf("- **%s**:", result.Topic.Topic))
		parts = append(parts, formatRecordBullets(result.Record)...)
		if result.Record != nil && len(result.Record.Context.Notes) > 0 {
			parts = append(parts, "  - Notes: "+strings.Join(result.Record.Context.Notes, " "))
		}
		if bullet := formatSyncBullet(result.Sync, result.SyncErr); bullet != "" {
			parts = append(parts, bullet)
		}
	}
	return strings.Join(parts, "\n")
}

func formatRecordBullets(rec *research.Record) []string {
	if rec == nil || len(rec.Items) == 0 {
		return []string{"  - No structured entries were returned."}
	}

	top := rec.Items[0]
	title := top.Title
	if title == "" {
		title = "Untitled"
	}

	bullets := []string{"  - Title: " + title}

	venue := top.PublicationTitle
	if venue == "" {
		venue = top.ConferenceName
	}
	if venue == "" {
		venue = top.Publisher
	}
	if venue != "" {
		bullets = append(bullets, "  - Venue: "+venue)
	}

	link := top.URL
	if link == "" {
		link = top.DOI
	}
	if link != "" {
		bullets = append(bullets, "  - Link: "+link)
	}

	sources := make([]string, 0, len(rec.Context.Evidence))
	for _, ev := range rec.Context.Evidence {
		if ev.Source != "" {
			sources = append(sources, ev.Source)
		}
	}
	if len(sources) > 0 {
		bullets = append(bullets, "  - Evidence sources: "+strings.Join(sources, ", "))
	}

	return bullets
}

// formatSyncBullet renders the reference-store outcome. Sync failures are
// reported inline rather than omitted.
func formatSyncBullet(outcome *zotero.Outcome, syncErr string) string {
	if syncErr != "" {
		return "  - Zotero: sync failed: " + syncErr
	}
	if outcome == nil {
		return ""
	}

	verb := "Added"
	if outcome.Existed {
		verb = "Existing entry"
	}
	bullet := fmt.Sprintf("  - Zotero: %s - %s", verb, outcome.SelectURI)
	if outcome.WebURL != "" {
		bullet += fmt.Sprintf(" (web: %s)", outcome.WebURL)
	}
	return bullet
}
