package issue

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const sampleBody = `Tracking issue for references on evaluation methodology.

Collecting the key papers before the survey draft.

## Articles to Find

- [ ] Benchmarking Safety Evaluations (known)
  - try the 2023 workshop proceedings
- [x] Scaling Laws Revisited (unknown)
- [ ] Calibrated Uncertainty Estimates

## Topics to Review

- [ ] Dataset governance follow-up
  - check recent policy reports
- [x] Annotation quality metrics

Closing notes outside any section.
`

func TestParseArticles(t *testing.T) {
	articles := ParseArticles(sampleBody)

	want := []Article{
		{Name: "Benchmarking Safety Evaluations", Status: "known", Details: []string{"try the 2023 workshop proceedings"}, Checked: false, LineIndex: 6},
		{Name: "Scaling Laws Revisited", Status: "unknown", Details: []string{}, Checked: true, LineIndex: 8},
		{Name: "Calibrated Uncertainty Estimates", Status: "unknown", Details: []string{}, Checked: false, LineIndex: 9},
	}
	if diff := cmp.Diff(want, articles); diff != "" {
		t.Errorf("ParseArticles mismatch (-want +got):\n%s", diff)
	}
}

func TestParseTopics(t *testing.T) {
	topics := ParseTopics(sampleBody)

	want := []Topic{
		{Topic: "Dataset governance follow-up", Details: []string{"check recent policy reports"}, Checked: false, LineIndex: 13},
		{Topic: "Annotation quality metrics", Details: []string{}, Checked: true, LineIndex: 15},
	}
	if diff := cmp.Diff(want, topics); diff != "" {
		t.Errorf("ParseTopics mismatch (-want +got):\n%s", diff)
	}
}

func TestParseMissingSections(t *testing.T) {
	body := "Just a summary with no checklists at all."
	if got := ParseArticles(body); len(got) != 0 {
		t.Errorf("expected no articles, got %v", got)
	}
	if got := ParseTopics(body); len(got) != 0 {
		t.Errorf("expected no topics, got %v", got)
	}
}

func TestParseSkipsMalformedLines(t *testing.T) {
	body := strings.Join([]string{
		"## Articles to Find",
		"",
		"- [ ] Valid Entry (known)",
		"- [] missing space in checkbox",
		"* [ ] wrong bullet marker",
		"random prose line",
		"- [X] Uppercase Checked (unknown)",
	}, "\n")

	articles := ParseArticles(body)
	if len(articles) != 2 {
		t.Fatalf("expected 2 articles, got %d: %v", len(articles), articles)
	}
	if articles[0].Name != "Valid Entry" || articles[0].Status != "known" {
		t.Errorf("unexpected first article: %+v", articles[0])
	}
	if !articles[1].Checked {
		t.Errorf("uppercase X should parse as checked: %+v", articles[1])
	}
}

func TestParseSectionEndsAtNextHeading(t *testing.T) {
	body := strings.Join([]string{
		"## Articles to Find",
		"- [ ] Inside Section",
		"## Something Else",
		"- [ ] Outside Section",
	}, "\n")

	articles := ParseArticles(body)
	if len(articles) != 1 {
		t.Fatalf("expected 1 article, got %d", len(articles))
	}
	if articles[0].Name != "Inside Section" {
		t.Errorf("unexpected article: %+v", articles[0])
	}
}

func TestParseHeadingPrefixMatch(t *testing.T) {
	body := strings.Join([]string{
		"## Articles to Find (priority batch)",
		"- [ ] Prefixed Heading Entry",
	}, "\n")

	articles := ParseArticles(body)
	if len(articles) != 1 {
		t.Fatalf("expected heading prefix match to work, got %d articles", len(articles))
	}
}

func TestExtractSummary(t *testing.T) {
	got := ExtractSummary(sampleBody)
	want := "Tracking issue for references on evaluation methodology.\n\nCollecting the key papers before the survey draft."
	if got != want {
		t.Errorf("ExtractSummary = %q, want %q", got, want)
	}

	if got := ExtractSummary("no headings here"); got != "no headings here" {
		t.Errorf("body without headings should be its own summary, got %q", got)
	}
}

func TestParseIdempotentOverRewrite(t *testing.T) {
	marked := MarkArticlesCompleted(sampleBody, []int{0})
	first := ParseArticles(marked)
	second := ParseArticles(marked)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("parsing is not stable (-first +second):\n%s", diff)
	}
}
