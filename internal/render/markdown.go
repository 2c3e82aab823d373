package render

import (
	"fmt"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
)

var mdConverter = converter.NewConverter(
	converter.WithPlugins(
		base.NewBasePlugin(),
		commonmark.NewCommonmarkPlugin(),
	),
)

// Markdown renders a display tree as Markdown. Mentions keep their display text.
func Markdown(d *Display) (string, error) {
	if d == nil {
		return "", nil
	}
	return HTMLToMarkdown(HTML(d))
}

// HTMLToMarkdown converts an HTML fragment, such as a rendered email body, to Markdown.
func HTMLToMarkdown(fragment string) (string, error) {
	md, err := mdConverter.ConvertString(fragment)
	if err != nil {
		return "", fmt.Errorf("convert markdown: %w", err)
	}
	return strings.TrimSpace(md), nil
}

// PlainText renders a display tree as text: blocks are separated by a blank line and breaks
// become newlines.
func PlainText(d *Display) string {
	if d == nil {
		return ""
	}
	var blocks []string
	var b strings.Builder
	var walk func(*Display)
	walk = func(d *Display) {
		switch d.Kind {
		case KindFragment:
			for _, child := range d.Children {
				walk(child)
			}
		case KindBlock:
			if b.Len() > 0 {
				blocks = append(blocks, b.String())
				b.Reset()
			}
			for _, child := range d.Children {
				walk(child)
			}
			blocks = append(blocks, b.String())
			b.Reset()
		case KindText, KindMention:
			b.WriteString(d.Text)
		case KindBreak:
			b.WriteString("\n")
		}
	}
	walk(d)
	if b.Len() > 0 {
		blocks = append(blocks, b.String())
	}
	return strings.Join(blocks, "\n\n")
}
