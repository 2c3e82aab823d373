package doctree

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// DOM attributes carried by an exported mention. The marker attribute is what import keys on;
// spans without it are ordinary text.
const (
	AttrMentionMarker = "data-mention"
	AttrMentionID     = "data-mention-id"
	AttrMentionType   = "data-mention-type"
	MentionClass      = "mention"
)

var mentionBehavior = &Behavior{
	Kind:      KindMention,
	Inline:    true,
	Atomic:    true,
	Valid:     validMention,
	ExportDOM: exportMention,
	ImportDOM: importMention,
}

// NewMention builds a mention node. All three fields are required.
func NewMention(referenceID string, entityType EntityType, displayText string) (*Node, error) {
	node := &Node{
		Kind:        KindMention,
		Text:        displayText,
		MentionName: referenceID,
		MentionType: entityType,
	}
	if !validMention(node) {
		return nil, fmt.Errorf("%w: id=%q type=%q text=%q", ErrInvalidMention, referenceID, entityType, displayText)
	}
	return node, nil
}

// MentionFrom builds a mention for a resolved candidate.
func MentionFrom(candidate Mentionable) (*Node, error) {
	return NewMention(candidate.ID, candidate.Type, candidate.Label)
}

// Reference returns the mentionable the node points at. ok is false unless the node is a
// well-formed mention.
func (n *Node) Reference() (Mentionable, bool) {
	if n == nil || n.Kind != KindMention || !validMention(n) {
		return Mentionable{}, false
	}
	return Mentionable{ID: n.MentionName, Label: n.Text, Type: n.MentionType}, true
}

func validMention(n *Node) bool {
	return n.Kind == KindMention &&
		strings.TrimSpace(n.MentionName) != "" &&
		n.MentionType.Valid() &&
		strings.TrimSpace(n.Text) != ""
}

func exportMention(n *Node) *html.Node {
	if !validMention(n) {
		return nil
	}
	el := element(atom.Span)
	el.Attr = []html.Attribute{
		{Key: "class", Val: MentionClass},
		{Key: AttrMentionMarker, Val: "true"},
		{Key: AttrMentionID, Val: n.MentionName},
		{Key: AttrMentionType, Val: string(n.MentionType)},
		{Key: "contenteditable", Val: "false"},
	}
	el.AppendChild(&html.Node{Type: html.TextNode, Data: n.Text})
	return el
}

func importMention(h *html.Node) *Node {
	if h.Type != html.ElementNode {
		return nil
	}
	if _, marked := attr(h, AttrMentionMarker); !marked {
		return nil
	}
	id, _ := attr(h, AttrMentionID)
	entityType, _ := attr(h, AttrMentionType)
	node, err := NewMention(id, EntityType(entityType), textContent(h))
	if err != nil {
		return nil
	}
	return node
}

func textContent(h *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(h)
	return b.String()
}
