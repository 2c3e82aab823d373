// Package render turns stored log entry documents into display trees and from there into HTML,
// Markdown or plain text. Rendering never fails: whatever cannot be shown is left out.
package render

import (
	"strconv"

	"github.com/kaptinlin/jsonrepair"
	"github.com/rs/zerolog/log"

	"logbook/api/internal/doctree"
)

// Kind tags a display element.
type Kind string

const (
	KindFragment Kind = "fragment"
	KindBlock    Kind = "block"
	KindText     Kind = "text"
	KindBreak    Kind = "break"
	KindMention  Kind = "mention"
)

// Display is one element of the display tree. Mentions carry their reference as data so the host
// can attach interaction to them.
type Display struct {
	Key         string             `json:"key"`
	Kind        Kind               `json:"kind"`
	Text        string             `json:"text,omitempty"`
	MentionID   string             `json:"mentionId,omitempty"`
	MentionType doctree.EntityType `json:"mentionType,omitempty"`
	Children    []*Display         `json:"children,omitempty"`
}

type options struct {
	keyer *doctree.Keyer
}

type Option func(*options)

// WithKeyer keys elements by node identity instead of by position, for editing sessions that
// re-render the same live tree.
func WithKeyer(k *doctree.Keyer) Option {
	return func(o *options) { o.keyer = k }
}

const rootKey = "root"

// Render maps a document to its display tree. A document without a root renders to nil.
//
// The root is a container by position: unless it is itself a paragraph, text, line break or
// mention, its children are rendered into a fragment whatever its kind is called. Below the root
// any kind without a renderer, and any mention missing part of its reference, renders to nothing.
func Render(doc *doctree.Document, opts ...Option) *Display {
	if doc.Empty() {
		return nil
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	r := renderer{options: o}

	root := doc.Root
	key := r.key(root, rootKey)
	switch root.Kind {
	case doctree.KindParagraph, doctree.KindText, doctree.KindLineBreak, doctree.KindMention:
		return r.node(root, key)
	}
	return &Display{Key: key, Kind: KindFragment, Children: r.children(root, key)}
}

// RenderJSON parses and renders a stored document. Malformed input is repaired where possible so
// a truncated document still shows what survived; otherwise the result is nil.
func RenderJSON(data []byte, opts ...Option) *Display {
	doc, err := doctree.Parse(data)
	if err == nil {
		return Render(doc, opts...)
	}
	repaired, repairErr := jsonrepair.JSONRepair(string(data))
	if repairErr != nil {
		log.Debug().Err(err).Msg("render: document unreadable")
		return nil
	}
	doc, repairErr = doctree.Parse([]byte(repaired))
	if repairErr != nil {
		log.Debug().Err(repairErr).Msg("render: repaired document unreadable")
		return nil
	}
	log.Debug().Err(err).Msg("render: document repaired before rendering")
	return Render(doc, opts...)
}

type renderer struct {
	options
}

func (r renderer) key(n *doctree.Node, positional string) string {
	if r.keyer != nil {
		return r.keyer.Key(n)
	}
	return positional
}

func (r renderer) node(n *doctree.Node, key string) *Display {
	switch n.Kind {
	case doctree.KindText:
		return &Display{Key: key, Kind: KindText, Text: n.Text}
	case doctree.KindLineBreak:
		return &Display{Key: key, Kind: KindBreak}
	case doctree.KindMention:
		ref, ok := n.Reference()
		if !ok {
			return nil
		}
		return &Display{Key: key, Kind: KindMention, Text: ref.Label, MentionID: ref.ID, MentionType: ref.Type}
	case doctree.KindParagraph:
		block := &Display{Key: key, Kind: KindBlock}
		if n.Text != "" {
			block.Children = append(block.Children, &Display{Key: key + ".content", Kind: KindText, Text: n.Text})
		}
		block.Children = append(block.Children, r.children(n, key)...)
		return block
	}
	return nil
}

// children renders n's children. Positional keys use the index in the stored array, so a child
// that renders to nothing does not shift its siblings' keys.
func (r renderer) children(n *doctree.Node, key string) []*Display {
	var out []*Display
	for i, child := range n.Children {
		if child == nil {
			continue
		}
		if d := r.node(child, r.key(child, key+"."+strconv.Itoa(i))); d != nil {
			out = append(out, d)
		}
	}
	return out
}
