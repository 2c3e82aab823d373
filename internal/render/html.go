package render

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"logbook/api/internal/doctree"
)

var policy = newPolicy()

func newPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowDataAttributes()
	p.AllowAttrs("class").Matching(regexp.MustCompile(`^` + doctree.MentionClass + `$`)).OnElements("span")
	return p
}

// HTML renders a display tree as sanitized HTML. Blocks become paragraphs and mentions become
// spans carrying the same data attributes the editor imports.
func HTML(d *Display) string {
	if d == nil {
		return ""
	}
	var b strings.Builder
	writeHTML(&b, d)
	return policy.Sanitize(b.String())
}

func writeHTML(b *strings.Builder, d *Display) {
	switch d.Kind {
	case KindFragment:
		for _, child := range d.Children {
			writeHTML(b, child)
		}
	case KindBlock:
		b.WriteString("<p>")
		for _, child := range d.Children {
			writeHTML(b, child)
		}
		b.WriteString("</p>\n")
	case KindText:
		b.WriteString(html.EscapeString(d.Text))
	case KindBreak:
		b.WriteString("<br>")
	case KindMention:
		fmt.Fprintf(b, `<span class="%s" %s="true" %s="%s" %s="%s">%s</span>`,
			doctree.MentionClass,
			doctree.AttrMentionMarker,
			doctree.AttrMentionID, html.EscapeString(d.MentionID),
			doctree.AttrMentionType, html.EscapeString(string(d.MentionType)),
			html.EscapeString(d.Text),
		)
	}
}

// Sanitize applies the rendering policy to HTML from elsewhere, such as a pasted fragment.
func Sanitize(fragment string) string {
	return policy.Sanitize(fragment)
}
