package doctree

import (
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Behavior is the per-kind strategy set. Node kinds are plain tags; everything kind-specific
// (validity, editing atomicity, DOM conversion) is looked up here.
type Behavior struct {
	Kind Kind
	// Inline nodes live inside a paragraph.
	Inline bool
	// Atomic nodes are edited only as a whole: no edit point inside, deletion removes the node.
	Atomic bool
	// Container nodes carry children that are converted along with them.
	Container bool

	Valid     func(*Node) bool
	ExportDOM func(*Node) *html.Node
	// ImportDOM returns nil when the element does not belong to this kind.
	ImportDOM func(*html.Node) *Node
}

var behaviors = map[Kind]*Behavior{}

// importOrder is the priority in which DOM importers are tried. Mentions go first because a
// mention span would otherwise be unwrapped as plain text.
var importOrder []*Behavior

func register(b *Behavior) {
	behaviors[b.Kind] = b
	if b.ImportDOM != nil {
		importOrder = append(importOrder, b)
	}
}

func init() {
	register(mentionBehavior)
	register(&Behavior{
		Kind:      KindParagraph,
		Container: true,
		Valid:     func(*Node) bool { return true },
		ExportDOM: func(n *Node) *html.Node {
			el := element(atom.P)
			if n.Text != "" {
				el.AppendChild(&html.Node{Type: html.TextNode, Data: n.Text})
			}
			return el
		},
		ImportDOM: func(h *html.Node) *Node {
			if h.DataAtom != atom.P {
				return nil
			}
			return &Node{Kind: KindParagraph, Children: []*Node{}}
		},
	})
	register(&Behavior{
		Kind:   KindText,
		Inline: true,
		Valid:  func(*Node) bool { return true },
		ExportDOM: func(n *Node) *html.Node {
			return &html.Node{Type: html.TextNode, Data: n.Text}
		},
	})
	register(&Behavior{
		Kind:   KindLineBreak,
		Inline: true,
		Atomic: true,
		Valid:  func(*Node) bool { return true },
		ExportDOM: func(*Node) *html.Node {
			return element(atom.Br)
		},
		ImportDOM: func(h *html.Node) *Node {
			if h.DataAtom != atom.Br {
				return nil
			}
			return NewLineBreak()
		},
	})
	register(&Behavior{
		Kind:      KindRoot,
		Container: true,
		Valid:     func(*Node) bool { return true },
		ExportDOM: func(*Node) *html.Node {
			return element(atom.Div)
		},
	})
}

// BehaviorFor looks up the strategy set for a kind.
func BehaviorFor(kind Kind) (*Behavior, bool) {
	b, ok := behaviors[kind]
	return b, ok
}

// IsAtomic reports whether the node is edited only as a whole.
func IsAtomic(n *Node) bool {
	b, ok := BehaviorFor(n.Kind)
	return ok && b.Atomic
}

// IsInline reports whether the node belongs inside a paragraph.
func IsInline(n *Node) bool {
	b, ok := BehaviorFor(n.Kind)
	return ok && b.Inline
}

// IsValid reports whether the node is a recognized kind carrying everything the kind requires.
func IsValid(n *Node) bool {
	if n == nil {
		return false
	}
	b, ok := BehaviorFor(n.Kind)
	return ok && b.Valid(n)
}

func element(a atom.Atom) *html.Node {
	return &html.Node{Type: html.ElementNode, Data: a.String(), DataAtom: a}
}

func attr(h *html.Node, key string) (string, bool) {
	for _, a := range h.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}
