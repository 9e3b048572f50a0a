// Package research runs the per-item research sub-agent: a bounded loop of
// model turns and web searches that must end in a strict-JSON bibliographic
// record suitable for reference-store import.
package research

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Creator is an author, editor, presenter, etc. Either FirstName/LastName
// or the single-field Name form may be populated.
type Creator struct {
	FirstName   string `json:"firstName,omitempty"`
	LastName    string `json:"lastName,omitempty"`
	Name        string `json:"name,omitempty"`
	CreatorType string `json:"creatorType,omitempty"`
}

// Item is one bibliographic entry in a research record. Field names mirror
// the reference-store import schema.
type Item struct {
	ItemType         string    `json:"itemType"`
	Title            string    `json:"title"`
	Creators         []Creator `json:"creators,omitempty"`
	Date             string    `json:"date,omitempty"`
	PublicationTitle string    `json:"publicationTitle,omitempty"`
	ConferenceName   string    `json:"conferenceName,omitempty"`
	ProceedingsTitle string    `json:"proceedingsTitle,omitempty"`
	Publisher        string    `json:"publisher,omitempty"`
	Institution      string    `json:"institution,omitempty"`
	Volume           string    `json:"volume,omitempty"`
	Issue            string    `json:"issue,omitempty"`
	Pages            string    `json:"pages,omitempty"`
	DOI              string    `json:"doi,omitempty"`
	URL              string    `json:"url,omitempty"`
	AbstractNote     string    `json:"abstractNote,omitempty"`
	Tags             []string  `json:"tags,omitempty"`
	Notes            []string  `json:"notes,omitempty"`
}

// Evidence is one supporting source the sub-agent consulted.
type Evidence struct {
	Source  string `json:"source"`
	Snippet string `json:"snippet,omitempty"`
}

// Context carries the sub-agent's provenance for a record.
type Context struct {
	ArticleName string     `json:"articleName,omitempty"`
	Status      string     `json:"status,omitempty"`
	Evidence    []Evidence `json:"evidence,omitempty"`
	Notes       []string   `json:"notes,omitempty"`
	Summary     string     `json:"summary,omitempty"`
}

// Record is the structured output of one research run.
type Record struct {
	Items   []Item  `json:"items"`
	Context Context `json:"context"`
}

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ParseRecord decodes sub-agent output into a Record. The output must be a
// JSON object, either bare or inside a single fenced code block. A record
// with no items is rejected.
func ParseRecord(text string) (*Record, error) {
	candidate := strings.TrimSpace(text)
	if m := fencedJSON.FindStringSubmatch(candidate); m != nil {
		candidate = m[1]
	}

	var rec Record
	if err := json.Unmarshal([]byte(candidate), &rec); err != nil {
		// Last resort: grab the outermost object directly.
		start := strings.Index(candidate, "{")
		end := strings.LastIndex(candidate, "}")
		if start < 0 || end <= start {
			return nil, fmt.Errorf("output is not a JSON object: %w", err)
		}
		if err2 := json.Unmarshal([]byte(candidate[start:end+1]), &rec); err2 != nil {
			return nil, fmt.Errorf("output is not a JSON object: %w", err)
		}
	}

	if len(rec.Items) == 0 {
		return nil, fmt.Errorf("record contains no item entries")
	}
	return &rec, nil
}
