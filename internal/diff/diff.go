// Package diff computes a semantic diff between two free-text card
// descriptions. Text is split into units at sentence and line boundaries,
// compared with a longest-common-subsequence pass, and post-processed so
// that checklist items read as add/remove/toggle events instead of raw
// text churn. Compute is a pure function of its two inputs.
package diff

import (
	"regexp"
	"strings"
	"unicode"
)

// Kind classifies a single diff entry.
type Kind int

const (
	KindAdded Kind = iota
	KindRemoved
	KindItemAdded
	KindItemRemoved
	KindItemToggled
)

// Entry is one itemized change in the description.
type Entry struct {
	Kind Kind
	// Text is the unit body; for checklist entries the marker is stripped.
	Text string
	// Checked is the resulting checkbox state for checklist entries.
	Checked bool
}

// Result holds the ordered diff entries between two descriptions.
type Result struct {
	Entries []Entry
}

// Empty reports whether the two descriptions were semantically identical.
func (r Result) Empty() bool {
	return len(r.Entries) == 0
}

// Render formats the diff as an itemized block suitable for direct
// inclusion in a notification.
func (r Result) Render() string {
	var b strings.Builder
	for i, e := range r.Entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		switch e.Kind {
		case KindItemToggled:
			if e.Checked {
				b.WriteString("± done: " + e.Text)
			} else {
				b.WriteString("± reopened: " + e.Text)
			}
		case KindItemAdded:
			b.WriteString("+ new item: " + e.Text)
		case KindItemRemoved:
			b.WriteString("- removed item: " + e.Text)
		case KindAdded:
			b.WriteString("+ " + e.Text)
		case KindRemoved:
			b.WriteString("- " + e.Text)
		}
	}
	return b.String()
}

// checklistRe matches a checklist-shaped unit: "- [ ] body" / "- [x] body".
var checklistRe = regexp.MustCompile(`^[-*] \[([ xX])\] ?(.*)$`)

// parseChecklist splits a unit into its checkbox state and body. ok is
// false for units that are not checklist-shaped.
func parseChecklist(unit string) (checked bool, body string, ok bool) {
	m := checklistRe.FindStringSubmatch(unit)
	if m == nil {
		return false, "", false
	}
	return m[1] != " ", m[2], true
}

// splitUnits breaks a description into semantic units. Boundaries are
// newlines, runs of 2+ whitespace, and sentence-ending punctuation followed
// by a capital letter or digit.
func splitUnits(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	runes := []rune(text)

	var units []string
	var cur strings.Builder
	flush := func() {
		if u := strings.TrimSpace(cur.String()); u != "" {
			units = append(units, u)
		}
		cur.Reset()
	}

	i := 0
	for i < len(runes) {
		r := runes[i]

		if unicode.IsSpace(r) {
			j := i
			newline := false
			for j < len(runes) && unicode.IsSpace(runes[j]) {
				if runes[j] == '\n' {
					newline = true
				}
				j++
			}
			if newline || j-i >= 2 {
				flush()
				i = j
			} else {
				cur.WriteRune(r)
				i++
			}
			continue
		}

		if r == '.' || r == '!' || r == '?' {
			cur.WriteRune(r)
			i++
			j := i
			for j < len(runes) && unicode.IsSpace(runes[j]) && runes[j] != '\n' {
				j++
			}
			if j > i && j < len(runes) && (unicode.IsUpper(runes[j]) || unicode.IsDigit(runes[j])) {
				flush()
				i = j
			}
			continue
		}

		cur.WriteRune(r)
		i++
	}
	flush()

	return units
}

// diffUnits runs an LCS diff over the two unit lists and returns the units
// present only in old (removed) and only in new (added), in order.
func diffUnits(oldUnits, newUnits []string) (removed, added []string) {
	n, m := len(oldUnits), len(newUnits)

	dp := make([][]int, n+1)
	for i := range dp {
		dp[i] = make([]int, m+1)
	}
	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			if oldUnits[i-1] == newUnits[j-1] {
				dp[i][j] = dp[i-1][j-1] + 1
			} else if dp[i-1][j] >= dp[i][j-1] {
				dp[i][j] = dp[i-1][j]
			} else {
				dp[i][j] = dp[i][j-1]
			}
		}
	}

	i, j := n, m
	for i > 0 || j > 0 {
		switch {
		case i > 0 && j > 0 && oldUnits[i-1] == newUnits[j-1]:
			i--
			j--
		case j > 0 && (i == 0 || dp[i][j-1] >= dp[i-1][j]):
			added = append(added, newUnits[j-1])
			j--
		default:
			removed = append(removed, oldUnits[i-1])
			i--
		}
	}

	reverse(removed)
	reverse(added)
	return removed, added
}

func reverse(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

// Compute diffs two descriptions into itemized entries. Checklist units
// whose body survived with only a toggled checkbox are reported as a single
// toggle rather than an add/remove pair.
func Compute(oldText, newText string) Result {
	removed, added := diffUnits(splitUnits(oldText), splitUnits(newText))

	// Index removed checklist bodies so toggles can be matched up.
	removedItems := make(map[string]int) // body -> index into removed
	for idx, unit := range removed {
		if _, body, ok := parseChecklist(unit); ok {
			removedItems[body] = idx
		}
	}
	consumed := make(map[int]bool)

	var entries []Entry
	addedItemBodies := make(map[string]bool)

	for _, unit := range added {
		checked, body, ok := parseChecklist(unit)
		if !ok {
			entries = append(entries, Entry{Kind: KindAdded, Text: unit})
			continue
		}
		addedItemBodies[body] = true
		if rIdx, found := removedItems[body]; found && !consumed[rIdx] {
			oldChecked, _, _ := parseChecklist(removed[rIdx])
			if oldChecked != checked {
				consumed[rIdx] = true
				entries = append(entries, Entry{Kind: KindItemToggled, Text: body, Checked: checked})
				continue
			}
		}
		entries = append(entries, Entry{Kind: KindItemAdded, Text: body, Checked: checked})
	}

	for idx, unit := range removed {
		if consumed[idx] {
			continue
		}
		checked, body, ok := parseChecklist(unit)
		if !ok {
			entries = append(entries, Entry{Kind: KindRemoved, Text: unit})
			continue
		}
		if addedItemBodies[body] {
			// The body still exists on the added side under a same-state
			// duplicate; treat the leftover as plain removal noise.
			continue
		}
		entries = append(entries, Entry{Kind: KindItemRemoved, Text: body, Checked: checked})
	}

	return Result{Entries: entries}
}
