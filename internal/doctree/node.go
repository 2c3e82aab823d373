// Package doctree holds the log entry document model: a tree of paragraph, text, line break and
// mention nodes, its JSON persistence format and its DOM import/export.
package doctree

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

// Kind tags a node. Kinds outside the known set are kept verbatim so documents written by newer
// editors survive a round trip.
type Kind string

const (
	KindRoot      Kind = "root"
	KindParagraph Kind = "paragraph"
	KindText      Kind = "text"
	KindLineBreak Kind = "linebreak"
	KindMention   Kind = "mention"
)

// EntityType is the kind of domain entity a mention points at.
type EntityType string

const (
	EntityUser     EntityType = "User"
	EntityLogEntry EntityType = "LogEntry"
	EntityFile     EntityType = "File"
	EntityTask     EntityType = "Task"
)

// EntityTypes lists the mentionable entity types in menu order.
var EntityTypes = []EntityType{EntityUser, EntityLogEntry, EntityFile, EntityTask}

var (
	ErrInvalidEntityType = errors.New("invalid entity type")
	ErrInvalidMention    = errors.New("invalid mention")
)

func (t EntityType) Valid() bool {
	switch t {
	case EntityUser, EntityLogEntry, EntityFile, EntityTask:
		return true
	}
	return false
}

func ParseEntityType(value string) (EntityType, error) {
	t := EntityType(value)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidEntityType, value)
	}
	return t, nil
}

// Mentionable is a candidate entity that can be referenced from a document. Identity is the
// (ID, Type) pair.
type Mentionable struct {
	ID    string     `json:"id"`
	Label string     `json:"label"`
	Type  EntityType `json:"type"`
}

// Node is one element of the document tree.
//
// Text carries the content of text nodes, the optional own content of paragraphs and the display
// text of mentions. Extra keeps every JSON field the model does not interpret (formatting flags,
// attributes of unknown kinds) so it can be written back unchanged.
type Node struct {
	Kind        Kind
	Text        string
	Children    []*Node
	MentionName string
	MentionType EntityType
	Extra       map[string]json.RawMessage
}

func NewText(text string) *Node {
	return &Node{Kind: KindText, Text: text}
}

func NewLineBreak() *Node {
	return &Node{Kind: KindLineBreak}
}

func NewParagraph(children ...*Node) *Node {
	return &Node{Kind: KindParagraph, Children: children}
}

// Len is the node's width in the editing surface, measured in runes.
func (n *Node) Len() int {
	switch n.Kind {
	case KindText, KindMention:
		return utf8.RuneCountInString(n.Text)
	case KindLineBreak:
		return 1
	}
	return 0
}

// Clone returns a deep copy of the subtree.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	out := *n
	if n.Children != nil {
		out.Children = make([]*Node, len(n.Children))
		for i, child := range n.Children {
			out.Children[i] = child.Clone()
		}
	}
	if n.Extra != nil {
		out.Extra = make(map[string]json.RawMessage, len(n.Extra))
		for k, v := range n.Extra {
			out.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return &out
}

// Walk visits the subtree in pre-order, parent before children and siblings in order. It stops
// descending into a node when fn returns false. The walk uses an explicit stack so arbitrarily
// deep trees are fine.
func (n *Node) Walk(fn func(*Node) bool) {
	if n == nil {
		return
	}
	stack := []*Node{n}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if current == nil || !fn(current) {
			continue
		}
		for i := len(current.Children) - 1; i >= 0; i-- {
			stack = append(stack, current.Children[i])
		}
	}
}

// Count returns the number of nodes in the subtree, including n.
func (n *Node) Count() int {
	total := 0
	n.Walk(func(*Node) bool {
		total++
		return true
	})
	return total
}

// MarshalJSON writes the model fields over the pass-through ones. A field that failed to decode
// into the model (say a numeric mentionName) is written back as it was read.
func (n *Node) MarshalJSON() ([]byte, error) {
	fields := make(map[string]any, len(n.Extra)+5)
	for key, value := range n.Extra {
		fields[key] = value
	}
	if _, ok := fields["type"]; n.Kind != "" || !ok {
		fields["type"] = n.Kind
	}
	if n.Text != "" {
		fields["text"] = n.Text
	} else if _, ok := fields["text"]; !ok && (n.Kind == KindText || n.Kind == KindMention) {
		fields["text"] = ""
	}
	if n.Children != nil {
		children := make([]*Node, 0, len(n.Children))
		for _, child := range n.Children {
			if child != nil {
				children = append(children, child)
			}
		}
		fields["children"] = children
	}
	if n.MentionName != "" {
		fields["mentionName"] = n.MentionName
	}
	if n.MentionType != "" {
		fields["mentionType"] = n.MentionType
	}
	return json.Marshal(fields)
}

// UnmarshalJSON accepts any JSON object. Known fields with an unexpected JSON type are not an
// error: they stay in Extra and the node simply lacks that field, which is how a mention missing
// its reference ends up ignored instead of failing the whole document.
func (n *Node) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode node: %w", err)
	}
	*n = Node{}
	keep := func(key string, value json.RawMessage) {
		if n.Extra == nil {
			n.Extra = make(map[string]json.RawMessage)
		}
		n.Extra[key] = value
	}
	for key, value := range raw {
		switch key {
		case "type":
			var kind string
			if err := json.Unmarshal(value, &kind); err != nil {
				keep(key, value)
				continue
			}
			n.Kind = Kind(kind)
		case "text":
			if err := json.Unmarshal(value, &n.Text); err != nil {
				keep(key, value)
			}
		case "mentionName":
			if err := json.Unmarshal(value, &n.MentionName); err != nil {
				keep(key, value)
			}
		case "mentionType":
			var entityType string
			if err := json.Unmarshal(value, &entityType); err != nil {
				keep(key, value)
				continue
			}
			n.MentionType = EntityType(entityType)
		case "children":
			var items []json.RawMessage
			if err := json.Unmarshal(value, &items); err != nil {
				keep(key, value)
				continue
			}
			n.Children = make([]*Node, 0, len(items))
			for _, item := range items {
				if string(item) == "null" {
					continue
				}
				child := &Node{}
				if err := json.Unmarshal(item, child); err != nil {
					continue
				}
				n.Children = append(n.Children, child)
			}
		default:
			keep(key, value)
		}
	}
	return nil
}

// Document is the persisted unit: a single root node, usually a container of paragraphs.
type Document struct {
	Root *Node `json:"root"`
}

// NewDocument builds a document whose root holds the given blocks.
func NewDocument(blocks ...*Node) *Document {
	return &Document{Root: &Node{Kind: KindRoot, Children: blocks}}
}

// Parse decodes the JSON persistence format.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return &doc, nil
}

func (d *Document) Serialize() ([]byte, error) {
	payload, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("serialize document: %w", err)
	}
	return payload, nil
}

func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	return &Document{Root: d.Root.Clone()}
}

// Empty reports whether the document has no root.
func (d *Document) Empty() bool {
	return d == nil || d.Root == nil
}
