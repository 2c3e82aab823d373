package doctree

import (
	"bytes"
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrSpanOutsideText is returned when a replacement span does not lie inside the text node
// before the cursor.
var ErrSpanOutsideText = errors.New("span is not inside the text before the cursor")

// Position addresses the cursor as child index and offset inside that child. At a boundary
// between two children the position refers to the end of the left one.
type Position struct {
	Block  int
	Inline int
	Offset int
}

// Editor is the live editing surface of one session. It owns its tree exclusively; Document
// hands out a copy for persistence.
//
// The cursor is kept as a paragraph index plus a rune offset into that paragraph. Offsets never
// fall strictly inside a segmented node (mentions, line breaks, unknown inline kinds): edits
// either land on its boundaries or remove it whole.
type Editor struct {
	root   *Node
	block  int
	offset int
}

// NewEditor starts a session on a copy of doc. Inline nodes found directly under the root are
// grouped into paragraphs and an empty paragraph is added when there is none. The cursor starts
// at the end of the last paragraph.
func NewEditor(doc *Document) *Editor {
	root := &Node{Kind: KindRoot}
	if !doc.Empty() {
		src := doc.Root.Clone()
		switch {
		case src.Kind == KindParagraph || IsInline(src):
			root.Children = groupBlocks([]*Node{src})
		default:
			root = src
			root.Children = groupBlocks(root.Children)
		}
	}
	last := -1
	for i, block := range root.Children {
		if block.Kind == KindParagraph {
			block.Children = normalize(block.Children)
			last = i
		}
	}
	if last < 0 {
		root.Children = append(root.Children, NewParagraph())
		last = len(root.Children) - 1
	}
	e := &Editor{root: root, block: last}
	e.offset = e.width()
	return e
}

// Document returns a deep copy of the current tree.
func (e *Editor) Document() *Document {
	return &Document{Root: e.root.Clone()}
}

// Live returns the tree without copying. Callers must treat it as read-only; it is meant for
// rendering with stable node keys.
func (e *Editor) Live() *Document {
	return &Document{Root: e.root}
}

// NodeCount counts every node in the tree, root included.
func (e *Editor) NodeCount() int {
	return e.root.Count()
}

// Mentions returns the references currently in the tree, in document order.
func (e *Editor) Mentions() []Mentionable {
	var out []Mentionable
	e.root.Walk(func(n *Node) bool {
		if ref, ok := n.Reference(); ok {
			out = append(out, ref)
		}
		return true
	})
	return out
}

// Cursor reports the cursor position in child/offset form.
func (e *Editor) Cursor() Position {
	kids := e.paragraph().Children
	if j, start, ok := backward(kids, e.offset); ok {
		return Position{Block: e.block, Inline: j, Offset: e.offset - start}
	}
	return Position{Block: e.block}
}

// SetCursor moves the cursor to a rune offset inside a paragraph. Offsets inside a segmented node
// snap to its nearest boundary.
func (e *Editor) SetCursor(block, offset int) error {
	if block < 0 || block >= len(e.root.Children) || e.root.Children[block].Kind != KindParagraph {
		return fmt.Errorf("set cursor: block %d is not a paragraph", block)
	}
	e.block = block
	e.offset = clamp(offset, 0, e.width())
	kids := e.paragraph().Children
	if j, start, ok := forward(kids, e.offset); ok && segmented(kids[j]) && e.offset > start {
		w := width(kids[j])
		if (e.offset-start)*2 < w {
			e.offset = start
		} else {
			e.offset = start + w
		}
	}
	return nil
}

// TextBeforeCursor returns the content of the text node the cursor sits in or right after, up to
// the cursor. It is empty when the cursor follows a segmented node or starts a paragraph.
func (e *Editor) TextBeforeCursor() string {
	kids := e.paragraph().Children
	j, start, ok := backward(kids, e.offset)
	if !ok || kids[j].Kind != KindText {
		return ""
	}
	runes := []rune(kids[j].Text)
	return string(runes[:e.offset-start])
}

// InsertText types s at the cursor. Text next to a segmented node goes into a neighbouring text
// node or a new one, never into the segmented node.
func (e *Editor) InsertText(s string) {
	if s == "" {
		return
	}
	p := e.paragraph()
	switch j, start, ok := backward(p.Children, e.offset); {
	case ok && p.Children[j].Kind == KindText:
		p.Children[j].Text = splice(p.Children[j].Text, e.offset-start, 0, s)
	default:
		if k, kstart, ok := forward(p.Children, e.offset); ok && p.Children[k].Kind == KindText && kstart == e.offset {
			p.Children[k].Text = s + p.Children[k].Text
			break
		}
		left, right := splitAt(p.Children, e.offset)
		p.Children = join(left, []*Node{NewText(s)}, right)
	}
	e.offset += utf8.RuneCountInString(s)
	p.Children = normalize(p.Children)
}

// InsertLineBreak inserts a soft line break at the cursor.
func (e *Editor) InsertLineBreak() {
	e.insertSegmented(NewLineBreak())
}

// SplitParagraph ends the current paragraph at the cursor and moves the cursor to the start of
// the new one.
func (e *Editor) SplitParagraph() {
	p := e.paragraph()
	left, right := splitAt(p.Children, e.offset)
	p.Children = normalize(left)
	next := NewParagraph(normalize(right)...)
	e.root.Children = join(e.root.Children[:e.block+1], []*Node{next}, e.root.Children[e.block+1:])
	e.block++
	e.offset = 0
}

// Backspace deletes the rune before the cursor, or the whole segmented node before it. At the
// start of a paragraph it joins the paragraph onto the previous block.
func (e *Editor) Backspace() {
	p := e.paragraph()
	if e.offset == 0 {
		e.joinPrevious()
		return
	}
	j, start, _ := backward(p.Children, e.offset)
	if segmented(p.Children[j]) {
		p.Children = remove(p.Children, j)
		e.offset = start
	} else {
		p.Children[j].Text = splice(p.Children[j].Text, e.offset-start-1, 1, "")
		e.offset--
	}
	p.Children = normalize(p.Children)
}

// DeleteForward deletes the rune after the cursor, or the whole segmented node after it. At the
// end of a paragraph it pulls the next paragraph in.
func (e *Editor) DeleteForward() {
	p := e.paragraph()
	if e.offset == e.width() {
		e.joinNext()
		return
	}
	j, start, _ := forward(p.Children, e.offset)
	if segmented(p.Children[j]) {
		p.Children = remove(p.Children, j)
	} else {
		p.Children[j].Text = splice(p.Children[j].Text, e.offset-start, 1, "")
	}
	p.Children = normalize(p.Children)
}

// MoveLeft steps one rune left; a segmented node is skipped as a whole.
func (e *Editor) MoveLeft() {
	if e.offset == 0 {
		if prev := e.previousParagraph(); prev >= 0 {
			e.block = prev
			e.offset = e.width()
		}
		return
	}
	kids := e.paragraph().Children
	j, start, _ := backward(kids, e.offset)
	if segmented(kids[j]) {
		e.offset = start
		return
	}
	e.offset--
}

// MoveRight steps one rune right; a segmented node is skipped as a whole.
func (e *Editor) MoveRight() {
	if e.offset == e.width() {
		if next := e.nextParagraph(); next >= 0 {
			e.block = next
			e.offset = 0
		}
		return
	}
	kids := e.paragraph().Children
	j, start, _ := forward(kids, e.offset)
	if segmented(kids[j]) {
		e.offset = start + width(kids[j])
		return
	}
	e.offset++
}

// ReplaceBeforeCursor swaps the last n runes of the text before the cursor for node and puts the
// cursor right after it. This is the only way a mention enters the tree.
func (e *Editor) ReplaceBeforeCursor(n int, node *Node) error {
	p := e.paragraph()
	if err := e.checkSpan(n); err != nil {
		return err
	}
	left, right := splitAt(p.Children, e.offset)
	last := left[len(left)-1]
	runes := []rune(last.Text)
	last.Text = string(runes[:len(runes)-n])
	p.Children = normalize(join(left, []*Node{node}, right))
	e.offset = e.offset - n + width(node)
	return nil
}

// ReplaceTextBeforeCursor swaps the last n runes of the text before the cursor for s.
func (e *Editor) ReplaceTextBeforeCursor(n int, s string) error {
	p := e.paragraph()
	if err := e.checkSpan(n); err != nil {
		return err
	}
	j, start, _ := backward(p.Children, e.offset)
	p.Children[j].Text = splice(p.Children[j].Text, e.offset-start-n, n, s)
	e.offset += utf8.RuneCountInString(s) - n
	p.Children = normalize(p.Children)
	return nil
}

func (e *Editor) checkSpan(n int) error {
	kids := e.paragraph().Children
	j, start, ok := backward(kids, e.offset)
	if n < 0 || !ok || kids[j].Kind != KindText || e.offset-start < n {
		return fmt.Errorf("%w: %d runes", ErrSpanOutsideText, n)
	}
	return nil
}

func (e *Editor) insertSegmented(node *Node) {
	p := e.paragraph()
	left, right := splitAt(p.Children, e.offset)
	p.Children = normalize(join(left, []*Node{node}, right))
	e.offset += width(node)
}

func (e *Editor) joinPrevious() {
	if e.block == 0 {
		return
	}
	prev := e.root.Children[e.block-1]
	if prev.Kind != KindParagraph {
		// A block the editor cannot enter is removed as a unit.
		e.root.Children = remove(e.root.Children, e.block-1)
		e.block--
		return
	}
	current := e.paragraph()
	offset := paragraphWidth(prev)
	prev.Children = normalize(join(prev.Children, current.Children, nil))
	e.root.Children = remove(e.root.Children, e.block)
	e.block--
	e.offset = offset
}

func (e *Editor) joinNext() {
	if e.block+1 >= len(e.root.Children) {
		return
	}
	next := e.root.Children[e.block+1]
	if next.Kind == KindParagraph {
		current := e.paragraph()
		current.Children = normalize(join(current.Children, next.Children, nil))
	}
	e.root.Children = remove(e.root.Children, e.block+1)
}

func (e *Editor) previousParagraph() int {
	for i := e.block - 1; i >= 0; i-- {
		if e.root.Children[i].Kind == KindParagraph {
			return i
		}
	}
	return -1
}

func (e *Editor) nextParagraph() int {
	for i := e.block + 1; i < len(e.root.Children); i++ {
		if e.root.Children[i].Kind == KindParagraph {
			return i
		}
	}
	return -1
}

func (e *Editor) paragraph() *Node {
	return e.root.Children[e.block]
}

func (e *Editor) width() int {
	return paragraphWidth(e.paragraph())
}

func paragraphWidth(p *Node) int {
	total := 0
	for _, k := range p.Children {
		total += width(k)
	}
	return total
}

// segmented nodes are edited as a unit. Unknown inline kinds are treated the same way since the
// editor cannot know their inner structure.
func segmented(n *Node) bool {
	return n.Kind != KindText || IsAtomic(n)
}

func width(n *Node) int {
	if n.Kind == KindText {
		return utf8.RuneCountInString(n.Text)
	}
	if w := n.Len(); w > 0 {
		return w
	}
	return 1
}

// backward finds the child covering the rune just before abs (start < abs <= start+width).
func backward(kids []*Node, abs int) (index, start int, ok bool) {
	acc := 0
	for i, k := range kids {
		w := width(k)
		if acc < abs && abs <= acc+w {
			return i, acc, true
		}
		acc += w
	}
	return 0, 0, false
}

// forward finds the child covering the rune just after abs (start <= abs < start+width).
func forward(kids []*Node, abs int) (index, start int, ok bool) {
	acc := 0
	for i, k := range kids {
		w := width(k)
		if acc <= abs && abs < acc+w {
			return i, acc, true
		}
		acc += w
	}
	return 0, 0, false
}

// splitAt cuts the children at abs. A text node straddling abs is split in two; the left half
// keeps the original node so its identity key survives.
func splitAt(kids []*Node, abs int) (left, right []*Node) {
	acc := 0
	for i, k := range kids {
		w := width(k)
		switch {
		case acc+w <= abs:
			left = append(left, k)
		case acc >= abs:
			right = append(right, kids[i:]...)
			return left, right
		case k.Kind != KindText:
			left = append(left, k)
		default:
			runes := []rune(k.Text)
			local := abs - acc
			tail := k.Clone()
			tail.Text = string(runes[local:])
			k.Text = string(runes[:local])
			left = append(left, k)
			right = append(right, tail)
			right = append(right, kids[i+1:]...)
			return left, right
		}
		acc += w
	}
	return left, right
}

// normalize drops empty text nodes and merges neighbouring text nodes that carry the same
// pass-through fields. Segmented nodes are never merged.
func normalize(kids []*Node) []*Node {
	out := make([]*Node, 0, len(kids))
	for _, k := range kids {
		if k == nil || (k.Kind == KindText && k.Text == "") {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Kind == KindText && k.Kind == KindText && sameExtra(out[n-1], k) {
			out[n-1].Text += k.Text
			continue
		}
		out = append(out, k)
	}
	return out
}

func sameExtra(a, b *Node) bool {
	if len(a.Extra) != len(b.Extra) {
		return false
	}
	for key, value := range a.Extra {
		other, ok := b.Extra[key]
		if !ok || !bytes.Equal(value, other) {
			return false
		}
	}
	return true
}

func join(parts ...[]*Node) []*Node {
	total := 0
	for _, part := range parts {
		total += len(part)
	}
	out := make([]*Node, 0, total)
	for _, part := range parts {
		out = append(out, part...)
	}
	return out
}

func remove(kids []*Node, i int) []*Node {
	return join(kids[:i], kids[i+1:])
}

// splice replaces del runes at rune offset at with insert.
func splice(s string, at, del int, insert string) string {
	runes := []rune(s)
	return string(runes[:at]) + insert + string(runes[at+del:])
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
