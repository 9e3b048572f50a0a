// Package issue parses and rewrites research tracking issues.
//
// A tracking issue body carries a free-text summary followed by two
// checklist sections: "## Articles to Find" and "## Topics to Review".
// Parsing is deliberately permissive: malformed lines are skipped, absent
// sections yield empty slices, and nothing here ever returns an error.
package issue

import (
	"regexp"
	"strings"
)

// Article is one entry from the "Articles to Find" section.
type Article struct {
	Name      string
	Status    string // "known" or "unknown"
	Details   []string
	Checked   bool
	LineIndex int // index into the body's lines, used for targeted rewriting
}

// Topic is one entry from the "Topics to Review" section.
type Topic struct {
	Topic     string
	Details   []string
	Checked   bool
	LineIndex int
}

const (
	articlesHeading = "articles to find"
	topicsHeading   = "topics to review"

	// StatusKnown marks a reference whose canonical metadata just needs
	// confirming; StatusUnknown marks one that still needs discovery.
	StatusKnown   = "known"
	StatusUnknown = "unknown"
)

var (
	headingLine   = regexp.MustCompile(`^##\s+(.+)$`)
	checklistLine = regexp.MustCompile(`(?i)^- \[( |x)\] (.+)$`)
	statusTag     = regexp.MustCompile(`(?i)\((known|unknown)\)`)
)

// ParseArticles extracts article checklist entries from the issue body.
func ParseArticles(body string) []Article {
	articles := make([]Article, 0)
	for _, e := range parseSection(body, articlesHeading) {
		status := StatusUnknown
		name := e.label
		if m := statusTag.FindStringSubmatch(e.label); m != nil {
			status = strings.ToLower(m[1])
			name = strings.TrimSpace(statusTag.ReplaceAllString(e.label, ""))
		}
		articles = append(articles, Article{
			Name:      name,
			Status:    status,
			Details:   e.details,
			Checked:   e.checked,
			LineIndex: e.lineIndex,
		})
	}
	return articles
}

// ParseTopics extracts topic checklist entries from the issue body.
func ParseTopics(body string) []Topic {
	topics := make([]Topic, 0)
	for _, e := range parseSection(body, topicsHeading) {
		topics = append(topics, Topic{
			Topic:     e.label,
			Details:   e.details,
			Checked:   e.checked,
			LineIndex: e.lineIndex,
		})
	}
	return topics
}

// ExtractSummary returns the free text preceding the first second-level
// heading, trimmed of surrounding whitespace.
func ExtractSummary(body string) string {
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		if headingLine.MatchString(strings.TrimRight(line, " \t")) {
			return strings.TrimSpace(strings.Join(lines[:i], "\n"))
		}
	}
	return strings.TrimSpace(body)
}

// entry is the kind-agnostic form of a parsed checklist item.
type entry struct {
	label     string
	details   []string
	checked   bool
	lineIndex int
}

// parseSection scans the body for checklist entries under the section whose
// heading starts with headingPrefix (case-insensitive). Any other heading
// ends the section. Lines that are neither checklist lines, detail bullets,
// nor headings are ignored.
func parseSection(body, headingPrefix string) []entry {
	lines := strings.Split(body, "\n")

	var entries []entry
	var current *entry
	inSection := false

	finalize := func() {
		if current != nil {
			entries = append(entries, *current)
			current = nil
		}
	}

	for idx, raw := range lines {
		line := strings.TrimRight(raw, " \t")

		if m := headingLine.FindStringSubmatch(line); m != nil {
			finalize()
			heading := strings.ToLower(strings.TrimSpace(m[1]))
			inSection = strings.HasPrefix(heading, headingPrefix)
			continue
		}
		if !inSection {
			continue
		}

		if m := checklistLine.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			finalize()
			current = &entry{
				label:     strings.TrimSpace(m[2]),
				details:   []string{},
				checked:   strings.EqualFold(m[1], "x"),
				lineIndex: idx,
			}
			continue
		}

		if current != nil && strings.HasPrefix(strings.TrimLeft(line, " \t"), "-") {
			current.details = append(current.details, strings.TrimLeft(strings.TrimSpace(line), "- "))
		}
	}
	finalize()

	return entries
}
