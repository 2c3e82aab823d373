package doctree

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ExportDOM converts a subtree to DOM nodes. Kinds without a DOM form export to nil.
func ExportDOM(n *Node) *html.Node {
	if n == nil {
		return nil
	}
	b, ok := BehaviorFor(n.Kind)
	if !ok || b.ExportDOM == nil {
		return nil
	}
	el := b.ExportDOM(n)
	if el == nil || !b.Container {
		return el
	}
	for _, child := range n.Children {
		if exported := ExportDOM(child); exported != nil {
			el.AppendChild(exported)
		}
	}
	return el
}

// ImportDOM converts a DOM node into document nodes. Elements no behavior recognizes are
// unwrapped: their children are imported in their place.
func ImportDOM(h *html.Node) []*Node {
	switch h.Type {
	case html.TextNode:
		if h.Data == "" {
			return nil
		}
		return []*Node{NewText(h.Data)}
	case html.ElementNode:
	default:
		return nil
	}
	switch h.DataAtom {
	case atom.Script, atom.Style, atom.Template:
		return nil
	}

	for _, b := range importOrder {
		node := b.ImportDOM(h)
		if node == nil {
			continue
		}
		if b.Container {
			for c := h.FirstChild; c != nil; c = c.NextSibling {
				node.Children = append(node.Children, ImportDOM(c)...)
			}
		}
		return []*Node{node}
	}

	var out []*Node
	for c := h.FirstChild; c != nil; c = c.NextSibling {
		out = append(out, ImportDOM(c)...)
	}
	return out
}

// MarshalHTML renders the document in the DOM form the editor imports from, e.g. for the
// clipboard.
func MarshalHTML(doc *Document) (string, error) {
	if doc.Empty() {
		return "", nil
	}
	var buf bytes.Buffer
	nodes := []*Node{doc.Root}
	if b, ok := BehaviorFor(doc.Root.Kind); !ok || b.Kind == KindRoot {
		nodes = doc.Root.Children
	}
	for _, n := range nodes {
		el := ExportDOM(n)
		if el == nil {
			continue
		}
		if err := html.Render(&buf, el); err != nil {
			return "", fmt.Errorf("render html: %w", err)
		}
	}
	return buf.String(), nil
}

// ParseHTMLFragment imports an HTML fragment such as pasted clipboard content. Inline nodes that
// end up directly under the root are grouped into paragraphs.
func ParseHTMLFragment(fragment string) (*Document, error) {
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	parsed, err := html.ParseFragment(strings.NewReader(fragment), body)
	if err != nil {
		return nil, fmt.Errorf("parse html fragment: %w", err)
	}
	var nodes []*Node
	for _, h := range parsed {
		nodes = append(nodes, ImportDOM(h)...)
	}
	return NewDocument(groupBlocks(nodes)...), nil
}

// groupBlocks wraps runs of inline nodes into paragraphs and keeps other nodes as blocks.
func groupBlocks(nodes []*Node) []*Node {
	blocks := make([]*Node, 0, len(nodes))
	var current *Node
	for _, n := range nodes {
		if IsInline(n) {
			if current == nil {
				current = NewParagraph()
				blocks = append(blocks, current)
			}
			current.Children = append(current.Children, n)
			continue
		}
		current = nil
		blocks = append(blocks, n)
	}
	return blocks
}
