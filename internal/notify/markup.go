package notify

import (
	"html"
	"regexp"
	"strings"
)

// inlineRe matches the spans that must survive HTML escaping:
// pre-rendered anchors, bracket links, *bold*, and `code`.
var inlineRe = regexp.MustCompile(
	`<a href="[^"\n]+">[^<\n]*</a>` +
		`|\[([^\]\n]+)\]\((https?://[^)\s]+)\)` +
		"|\\*([^*\n]+)\\*" +
		"|`([^`\n]+)`",
)

// RenderHTML converts the internal bracket/asterisk/backtick markup dialect
// into the delivery platform's HTML tags, escaping everything else. A
// well-formed inline anchor passes through untouched. Pure function.
func RenderHTML(text string) string {
	var b strings.Builder
	last := 0

	for _, m := range inlineRe.FindAllStringSubmatchIndex(text, -1) {
		b.WriteString(html.EscapeString(text[last:m[0]]))

		switch {
		case m[2] != -1: // [label](url)
			label := text[m[2]:m[3]]
			url := text[m[4]:m[5]]
			b.WriteString(`<a href="` + html.EscapeString(url) + `">` +
				html.EscapeString(label) + `</a>`)
		case m[6] != -1: // *bold*
			b.WriteString("<b>" + html.EscapeString(text[m[6]:m[7]]) + "</b>")
		case m[8] != -1: // `code`
			b.WriteString("<code>" + html.EscapeString(text[m[8]:m[9]]) + "</code>")
		default: // already-rendered anchor
			b.WriteString(text[m[0]:m[1]])
		}

		last = m[1]
	}

	b.WriteString(html.EscapeString(text[last:]))
	return b.String()
}
