package issue

import "strings"

// MarkArticlesCompleted returns the body with the checkboxes of the given
// article positions flipped to checked. Positions index into the list
// returned by ParseArticles, not line numbers. Every other byte of the body
// is preserved, and re-marking an already checked entry is a no-op.
func MarkArticlesCompleted(body string, indices []int) string {
	if len(indices) == 0 {
		return body
	}
	lineIndexes := make([]lineTarget, 0)
	for pos, a := range ParseArticles(body) {
		lineIndexes = append(lineIndexes, lineTarget{pos: pos, line: a.LineIndex, checked: a.Checked})
	}
	return flipCheckboxes(body, indices, lineIndexes)
}

// MarkTopicsCompleted is the topic counterpart of MarkArticlesCompleted.
func MarkTopicsCompleted(body string, indices []int) string {
	if len(indices) == 0 {
		return body
	}
	lineIndexes := make([]lineTarget, 0)
	for pos, t := range ParseTopics(body) {
		lineIndexes = append(lineIndexes, lineTarget{pos: pos, line: t.LineIndex, checked: t.Checked})
	}
	return flipCheckboxes(body, indices, lineIndexes)
}

type lineTarget struct {
	pos     int
	line    int
	checked bool
}

func flipCheckboxes(body string, indices []int, targets []lineTarget) string {
	want := make(map[int]bool, len(indices))
	for _, idx := range indices {
		want[idx] = true
	}

	lines := strings.Split(body, "\n")
	for _, t := range targets {
		if !want[t.pos] || t.checked {
			continue
		}
		if t.line >= 0 && t.line < len(lines) {
			lines[t.line] = strings.Replace(lines[t.line], "[ ]", "[x]", 1)
		}
	}
	return strings.Join(lines, "\n")
}
