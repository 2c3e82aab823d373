package doctree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paragraphKinds(e *Editor, block int) []Kind {
	var kinds []Kind
	for _, n := range e.Live().Root.Children[block].Children {
		kinds = append(kinds, n.Kind)
	}
	return kinds
}

// typedWithMention returns an editor holding "Hi " + @John Doe + " ok".
func typedWithMention(t *testing.T) *Editor {
	t.Helper()
	e := NewEditor(nil)
	e.InsertText("Hi @jo")
	require.NoError(t, e.ReplaceBeforeCursor(3, mustMention(t, "u1", EntityUser, "John")))
	e.InsertText(" ok")
	return e
}

func TestNewEditorOnEmptyDocument(t *testing.T) {
	e := NewEditor(nil)
	assert.Equal(t, 2, e.NodeCount())
	assert.Equal(t, Position{}, e.Cursor())
	assert.Equal(t, "", e.TextBeforeCursor())
}

func TestNewEditorGroupsInlineRootChildren(t *testing.T) {
	doc, err := Parse([]byte(`{"root":{"type":"container","children":[{"type":"mention","mentionName":"john","mentionType":"User","text":"John Doe"},{"type":"text","text":" said hello"}]}}`))
	require.NoError(t, err)

	e := NewEditor(doc)
	root := e.Live().Root
	require.Len(t, root.Children, 1)
	assert.Equal(t, KindParagraph, root.Children[0].Kind)
	assert.Equal(t, []Kind{KindMention, KindText}, paragraphKinds(e, 0))
	assert.Equal(t, " said hello", e.TextBeforeCursor())
}

func TestReplaceBeforeCursorInsertsExactlyOneNode(t *testing.T) {
	e := NewEditor(nil)
	e.InsertText("Hi @jo")
	assert.Equal(t, "Hi @jo", e.TextBeforeCursor())
	before := e.NodeCount()

	require.NoError(t, e.ReplaceBeforeCursor(3, mustMention(t, "u1", EntityUser, "John")))

	assert.Equal(t, before+1, e.NodeCount())
	assert.Equal(t, []Kind{KindText, KindMention}, paragraphKinds(e, 0))
	assert.Equal(t, "Hi ", e.Live().Root.Children[0].Children[0].Text)
	assert.Equal(t, Position{Block: 0, Inline: 1, Offset: 4}, e.Cursor())
	assert.Equal(t, []Mentionable{{ID: "u1", Label: "John", Type: EntityUser}}, e.Mentions())
}

func TestReplaceBeforeCursorRejectsSpanOutsideText(t *testing.T) {
	e := typedWithMention(t)
	require.NoError(t, e.SetCursor(0, 7))

	err := e.ReplaceBeforeCursor(1, NewText("x"))
	assert.ErrorIs(t, err, ErrSpanOutsideText)

	e.InsertText("ab")
	assert.ErrorIs(t, e.ReplaceBeforeCursor(3, NewText("x")), ErrSpanOutsideText)
	assert.ErrorIs(t, e.ReplaceBeforeCursor(-1, NewText("x")), ErrSpanOutsideText)
}

func TestTextTypedNextToMentionNeverMergesIntoIt(t *testing.T) {
	e := typedWithMention(t)
	assert.Equal(t, []Kind{KindText, KindMention, KindText}, paragraphKinds(e, 0))

	require.NoError(t, e.SetCursor(0, 3))
	e.InsertText("x")

	kids := e.Live().Root.Children[0].Children
	assert.Equal(t, "Hi x", kids[0].Text)
	assert.Equal(t, "John", kids[1].Text)
	assert.Equal(t, " ok", kids[2].Text)
}

func TestTypingBeforeLeadingMentionCreatesTextNode(t *testing.T) {
	e := NewEditor(NewDocument(NewParagraph(mustMention(t, "u1", EntityUser, "John"))))
	require.NoError(t, e.SetCursor(0, 0))

	e.InsertText("cc ")

	assert.Equal(t, []Kind{KindText, KindMention}, paragraphKinds(e, 0))
	assert.Equal(t, 3, e.Cursor().Offset)
}

func TestBackspaceRemovesMentionWhole(t *testing.T) {
	e := typedWithMention(t)
	for range 3 {
		e.Backspace()
	}
	assert.Equal(t, []Kind{KindText, KindMention}, paragraphKinds(e, 0))

	e.Backspace()

	assert.Equal(t, []Kind{KindText}, paragraphKinds(e, 0))
	assert.Equal(t, "Hi ", e.TextBeforeCursor())
	assert.Empty(t, e.Mentions())
}

func TestDeleteForwardRemovesMentionWhole(t *testing.T) {
	e := typedWithMention(t)
	require.NoError(t, e.SetCursor(0, 3))

	e.DeleteForward()

	kids := e.Live().Root.Children[0].Children
	require.Len(t, kids, 1)
	assert.Equal(t, "Hi  ok", kids[0].Text)
}

func TestSetCursorSnapsOutOfMention(t *testing.T) {
	e := typedWithMention(t)

	require.NoError(t, e.SetCursor(0, 4))
	assert.Equal(t, Position{Block: 0, Inline: 0, Offset: 3}, e.Cursor())

	require.NoError(t, e.SetCursor(0, 6))
	assert.Equal(t, Position{Block: 0, Inline: 1, Offset: 4}, e.Cursor())

	require.NoError(t, e.SetCursor(0, 99))
	assert.Equal(t, Position{Block: 0, Inline: 2, Offset: 3}, e.Cursor())

	assert.Error(t, e.SetCursor(5, 0))
}

func TestArrowKeysSkipMention(t *testing.T) {
	e := typedWithMention(t)
	require.NoError(t, e.SetCursor(0, 7))

	e.MoveLeft()
	assert.Equal(t, Position{Block: 0, Inline: 0, Offset: 3}, e.Cursor())

	e.MoveRight()
	assert.Equal(t, Position{Block: 0, Inline: 1, Offset: 4}, e.Cursor())

	e.MoveRight()
	assert.Equal(t, Position{Block: 0, Inline: 2, Offset: 1}, e.Cursor())
}

func TestSplitAndJoinParagraphs(t *testing.T) {
	e := NewEditor(nil)
	e.InsertText("Hello world")
	require.NoError(t, e.SetCursor(0, 5))

	e.SplitParagraph()

	root := e.Live().Root
	require.Len(t, root.Children, 2)
	assert.Equal(t, "Hello", root.Children[0].Children[0].Text)
	assert.Equal(t, " world", root.Children[1].Children[0].Text)
	assert.Equal(t, Position{Block: 1}, e.Cursor())

	e.MoveLeft()
	assert.Equal(t, 0, e.Cursor().Block)
	e.MoveRight()
	assert.Equal(t, 1, e.Cursor().Block)

	e.Backspace()

	root = e.Live().Root
	require.Len(t, root.Children, 1)
	assert.Equal(t, "Hello world", root.Children[0].Children[0].Text)
	assert.Equal(t, Position{Block: 0, Inline: 0, Offset: 5}, e.Cursor())

	require.NoError(t, e.SetCursor(0, 11))
	e.DeleteForward()
	assert.Len(t, e.Live().Root.Children, 1)
}

func TestLineBreakIsAtomic(t *testing.T) {
	e := NewEditor(nil)
	e.InsertText("abcd")
	require.NoError(t, e.SetCursor(0, 2))

	e.InsertLineBreak()
	assert.Equal(t, []Kind{KindText, KindLineBreak, KindText}, paragraphKinds(e, 0))
	assert.Equal(t, Position{Block: 0, Inline: 1, Offset: 1}, e.Cursor())

	e.Backspace()
	kids := e.Live().Root.Children[0].Children
	require.Len(t, kids, 1)
	assert.Equal(t, "abcd", kids[0].Text)
}

func TestReplaceTextBeforeCursor(t *testing.T) {
	e := NewEditor(nil)
	e.InsertText("Hi @jo")

	require.NoError(t, e.ReplaceTextBeforeCursor(2, ""))

	assert.Equal(t, "Hi @", e.TextBeforeCursor())
	assert.Equal(t, 3, e.NodeCount())
}

func TestDocumentIsACopy(t *testing.T) {
	e := NewEditor(nil)
	e.InsertText("one")
	snapshot := e.Document()

	e.InsertText(" two")

	assert.Equal(t, "one", snapshot.Root.Children[0].Children[0].Text)
	assert.Equal(t, "one two", e.TextBeforeCursor())
}

func TestMultiByteTextUsesRuneOffsets(t *testing.T) {
	e := NewEditor(nil)
	e.InsertText("héllo @zoë")

	require.NoError(t, e.ReplaceBeforeCursor(4, mustMention(t, "u2", EntityUser, "Zoë")))
	assert.Equal(t, "héllo ", e.Live().Root.Children[0].Children[0].Text)
	assert.Equal(t, Position{Block: 0, Inline: 1, Offset: 3}, e.Cursor())
}
