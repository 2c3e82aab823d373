// Package mentions collects the references held by stored documents and feeds them to the
// integrity checks and notifications that act on them.
package mentions

import (
	"errors"
	"fmt"

	"logbook/api/internal/doctree"
)

// ErrMalformedDocument is returned when stored content is not a readable document. Unlike the
// renderer, extraction fails loudly: it feeds integrity checks that must not pass silently.
var ErrMalformedDocument = errors.New("malformed document")

// Extract returns every well-formed mention in a stored document, in document order. Mentions
// missing their id, type or display text are skipped.
func Extract(documentJSON []byte) ([]doctree.Mentionable, error) {
	doc, err := doctree.Parse(documentJSON)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedDocument, err)
	}
	return ExtractDocument(doc), nil
}

// ExtractDocument walks the tree in pre-order: parent before children, siblings in order.
func ExtractDocument(doc *doctree.Document) []doctree.Mentionable {
	if doc.Empty() {
		return []doctree.Mentionable{}
	}
	out := []doctree.Mentionable{}
	doc.Root.Walk(func(n *doctree.Node) bool {
		if ref, ok := n.Reference(); ok {
			out = append(out, ref)
		}
		return true
	})
	return out
}

// ByType keeps the references of one entity type.
func ByType(refs []doctree.Mentionable, entityType doctree.EntityType) []doctree.Mentionable {
	var out []doctree.Mentionable
	for _, ref := range refs {
		if ref.Type == entityType {
			out = append(out, ref)
		}
	}
	return out
}

type identity struct {
	id         string
	entityType doctree.EntityType
}

// Unique drops repeated references to the same (id, type), keeping the first occurrence.
func Unique(refs []doctree.Mentionable) []doctree.Mentionable {
	seen := make(map[identity]struct{}, len(refs))
	out := make([]doctree.Mentionable, 0, len(refs))
	for _, ref := range refs {
		key := identity{ref.ID, ref.Type}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, ref)
	}
	return out
}

// Added returns the references in current that previous did not hold, without repeats.
func Added(previous, current []doctree.Mentionable) []doctree.Mentionable {
	known := make(map[identity]struct{}, len(previous))
	for _, ref := range previous {
		known[identity{ref.ID, ref.Type}] = struct{}{}
	}
	var out []doctree.Mentionable
	for _, ref := range Unique(current) {
		if _, ok := known[identity{ref.ID, ref.Type}]; !ok {
			out = append(out, ref)
		}
	}
	return out
}
