package research

import (
	"fmt"
	"strings"
)

// Request describes one research task handed to the sub-agent.
type Request struct {
	Name    string // item label from the checklist
	Details string // joined detail lines
	Status  string // "known" or "unknown"; topics use "unknown"
	Summary string // issue summary, for grounding context
}

// IsKnown reports whether the reference is labeled as already known.
func (r Request) IsKnown() bool {
	return strings.EqualFold(r.Status, "known")
}

const itemTypeCheatSheet = `Reference item quick reference:
- journalArticle: title, creators (authors), publicationTitle, date, doi or url; extras volume, issue, pages.
- conferencePaper: title, creators, conferenceName or proceedingsTitle, date; extras pages, doi, url.
- book: title, creators or editors, publisher, date; extras place.
- bookSection: title (chapter), creators, bookTitle, date, publisher; extras pages.
- report: title, creators or institution, institution, date, url; extras reportNumber.
- thesis: title, creators, university, date.
- webpage: title, creators if available, date, url; extras websiteTitle, accessDate.
- presentation: title, presenter, date, url if available.
- videoRecording: title, presenter, date, url.
- podcast: title, host/guest if known, date, url.
Return creator objects as {"firstName": "...", "lastName": "...", "creatorType": "author"|...}.`

const recordSchema = `Final JSON schema (strict):
{
  "items": [
    {
      "itemType": "journalArticle" | "conferencePaper" | "book" | "bookSection" | "report" | "thesis" | "webpage" | "presentation" | "videoRecording" | "podcast",
      "title": string,
      "creators": [ {"firstName": string, "lastName": string, "creatorType": string} ],
      "date": string | null,
      "publicationTitle": string | null,
      "conferenceName": string | null,
      "proceedingsTitle": string | null,
      "publisher": string | null,
      "institution": string | null,
      "volume": string | null,
      "issue": string | null,
      "pages": string | null,
      "doi": string | null,
      "url": string | null,
      "abstractNote": string | null,
      "tags": [string],
      "notes": [string]
    }
  ],
  "context": {
    "articleName": string,
    "status": "known" | "unknown",
    "evidence": [ {"source": string, "snippet": string} ],
    "notes": [string]
  }
}
Always include the "context" block with at least one evidence entry referencing the sources you used.`

// buildSystemPrompt crafts the system instructions based on task status.
func buildSystemPrompt(req Request) string {
	instructions := []string{
		"You are an expert research librarian who finds reliable bibliographic data.",
		"Always ground answers in verifiable sources and mention the evidence gathered.",
		"To gather supporting pages, reply with a single line of the form SEARCH: <query> and you will receive web search results on the next turn.",
		"Produce outputs that can be imported into a reference manager without further editing.",
		"When you have enough evidence, return your final response as strict JSON following the requested schema and nothing else.",
		"If information is uncertain, transparently mark fields as null and add a note describing the gap.",
	}

	if req.IsKnown() {
		instructions = append(instructions,
			"The reference is labeled as 'known', so prioritise confirming canonical metadata for the expected work.",
			"Confirm identifiers (DOI, URL) and publication venue from trusted sources like publisher pages or established indexes.",
			"Do not return unrelated works: ensure the title and metadata correspond to the requested reference name/details before finalising.",
		)
	} else {
		instructions = append(instructions,
			"The reference is labeled as 'unknown'. Identify the most relevant publications that satisfy the request.",
			"When multiple plausible sources exist, gather two or three strong candidates with clear reasoning.",
		)
	}

	instructions = append(instructions, itemTypeCheatSheet)
	return strings.Join(instructions, "\n")
}

// buildUserPrompt prepares the opening user turn describing the research need.
func buildUserPrompt(req Request) string {
	statusClause := "unknown reference that requires discovery"
	if req.IsKnown() {
		statusClause = "known reference"
	}

	suggested := strings.TrimSpace(req.Name + " " + req.Details)

	var b strings.Builder
	fmt.Fprintf(&b, "A %s needs metadata suitable for reference-manager import.\n", statusClause)
	fmt.Fprintf(&b, "Transcript summary (for context):\n%s\n\n", req.Summary)
	fmt.Fprintf(&b, "Requested entry:\n- Name: %s\n- Details: %s\n- Status: %s\n\n", req.Name, req.Details, req.Status)
	fmt.Fprintf(&b, "Begin by issuing a search using the query: %q.\n", suggested)
	if req.IsKnown() {
		b.WriteString("Validate that the title and metadata you return align with the provided name/details; " +
			"if you cannot confirm the match, keep researching rather than returning a mismatched work.\n")
	}
	b.WriteString("\n")
	b.WriteString(recordSchema)
	return b.String()
}
