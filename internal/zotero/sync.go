package zotero

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"refsmith/internal/research"
)

// Outcome describes a find-or-create result. Key and SelectURI are always
// set together; Existed is true only when the item was deduplicated against
// a pre-existing entry.
type Outcome struct {
	Key       string
	SelectURI string
	WebURL    string
	Existed   bool
}

// fieldAliases maps record field names to template field names where the
// two disagree.
var fieldAliases = map[string]string{
	"doi": "DOI",
}

// Sync finds or creates the library entry for the first item of a record.
// Dedup order is DOI (exact search) then title (title/creator/year search).
func (c *Client) Sync(ctx context.Context, rec *research.Record) (*Outcome, error) {
	if rec == nil || len(rec.Items) == 0 {
		return nil, fmt.Errorf("structured payload does not contain any item entries")
	}
	entry := rec.Items[0]

	itemType := entry.ItemType
	if itemType == "" {
		itemType = "journalArticle"
	}

	if existing := c.findExisting(ctx, entry.DOI, entry.Title); existing != "" {
		c.log.Info("Deduplicated against existing item",
			zap.String("key", existing), zap.String("title", entry.Title))
		return &Outcome{
			Key:       existing,
			SelectURI: "zotero://select/items/" + existing,
			WebURL:    c.WebURL(existing),
			Existed:   true,
		}, nil
	}

	template, err := c.itemTemplate(ctx, itemType)
	if err != nil {
		return nil, err
	}

	payload, err := buildPayload(template, entry, rec.Context.Summary)
	if err != nil {
		return nil, err
	}

	key, err := c.createItem(ctx, payload)
	if err != nil {
		return nil, err
	}

	return &Outcome{
		Key:       key,
		SelectURI: "zotero://select/items/" + key,
		WebURL:    c.WebURL(key),
		Existed:   false,
	}, nil
}

// findExisting returns the key of a matching library entry, or "" when
// there is no match. Search failures also return ""; a dedup miss is never
// fatal to the sync.
func (c *Client) findExisting(ctx context.Context, doi, title string) string {
	if doi != "" {
		if items, err := c.searchItems(ctx, doi, "everything"); err == nil && len(items) > 0 {
			if key := items[0].key(); key != "" {
				return key
			}
		}
	}
	if title != "" {
		if items, err := c.searchItems(ctx, title, "titleCreatorYear"); err == nil && len(items) > 0 {
			if key := items[0].key(); key != "" {
				return key
			}
		}
	}
	return ""
}

// buildPayload overlays the record entry onto a blank template: only fields
// present in both survive, creators and tags are normalized separately, and
// everything else keeps its template default.
func buildPayload(template map[string]any, entry research.Item, summary string) (map[string]any, error) {
	payload := make(map[string]any, len(template))
	for key, value := range template {
		if key == "creators" || key == "tags" {
			continue
		}
		payload[key] = value
	}

	// Round-trip the entry through JSON to iterate its populated fields.
	raw, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("marshal record entry: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("unmarshal record entry: %w", err)
	}

	for key, value := range fields {
		if key == "creators" || key == "tags" || key == "notes" {
			continue
		}
		target := key
		if alias, ok := fieldAliases[key]; ok {
			target = alias
		}
		if _, known := payload[target]; !known {
			continue
		}
		if s, ok := value.(string); ok && s == "" {
			continue
		}
		if value == nil {
			continue
		}
		payload[target] = value
	}

	if creators := normalizeCreators(entry.Creators); len(creators) > 0 {
		payload["creators"] = creators
	}
	if tags := normalizeTags(entry.Tags); len(tags) > 0 {
		payload["tags"] = tags
	}

	if summary != "" {
		if current, ok := payload["abstractNote"].(string); ok && current == "" {
			payload["abstractNote"] = summary
		}
	}

	return payload, nil
}

// normalizeCreators produces the {firstName,lastName,creatorType} or
// {name,creatorType} shapes the API accepts.
func normalizeCreators(creators []research.Creator) []map[string]string {
	cleaned := make([]map[string]string, 0, len(creators))
	for _, creator := range creators {
		creatorType := creator.CreatorType
		if creatorType == "" {
			creatorType = "author"
		}
		if creator.Name != "" && creator.FirstName == "" && creator.LastName == "" {
			cleaned = append(cleaned, map[string]string{
				"creatorType": creatorType,
				"name":        creator.Name,
			})
			continue
		}
		cleaned = append(cleaned, map[string]string{
			"creatorType": creatorType,
			"firstName":   creator.FirstName,
			"lastName":    creator.LastName,
		})
	}
	return cleaned
}

// normalizeTags wraps non-blank tag strings as {tag} objects.
func normalizeTags(tags []string) []map[string]string {
	normalized := make([]map[string]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		normalized = append(normalized, map[string]string{"tag": tag})
	}
	return normalized
}
