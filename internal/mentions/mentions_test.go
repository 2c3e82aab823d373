package mentions

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logbook/api/internal/doctree"
)

func TestExtractExampleDocument(t *testing.T) {
	raw := `{"root":{"type":"container","children":[{"type":"mention","mentionName":"john","mentionType":"User","text":"John Doe"},{"type":"text","text":" said hello"}]}}`

	got, err := Extract([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, []doctree.Mentionable{{ID: "john", Label: "John Doe", Type: doctree.EntityUser}}, got)
}

func TestExtractSkipsIncompleteMentionsInDocumentOrder(t *testing.T) {
	raw := `{"root":{"type":"root","children":[
		{"type":"paragraph","children":[
			{"type":"mention","mentionName":"a","mentionType":"User","text":"A"},
			{"type":"mention","mentionType":"User","text":"no id"},
			{"type":"quote","children":[
				{"type":"paragraph","children":[
					{"type":"mention","mentionName":"b","mentionType":"File","text":"b.pdf"},
					{"type":"mention","mentionName":"c","text":"no type"}
				]}
			]},
			{"type":"mention","mentionName":"","mentionType":"Task","text":"empty id"},
			{"type":"mention","mentionName":"d","mentionType":"Task","text":""},
			{"type":"mention","mentionName":"x","mentionType":"Bogus","text":"X"},
			{"type":"mention","mentionName":"y","mentionType":"User","text":"   "}
		]},
		{"type":"mention","mentionName":"e","mentionType":"LogEntry","text":"Shift 2"}
	]}}`

	got, err := Extract([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, []doctree.Mentionable{
		{ID: "a", Label: "A", Type: doctree.EntityUser},
		{ID: "b", Label: "b.pdf", Type: doctree.EntityFile},
		{ID: "e", Label: "Shift 2", Type: doctree.EntityLogEntry},
	}, got)
}

func TestExtractToleratesDeepNesting(t *testing.T) {
	leaf, err := doctree.NewMention("deep", doctree.EntityTask, "Deep task")
	require.NoError(t, err)
	node := leaf
	for range 10000 {
		node = doctree.NewParagraph(node)
	}

	got := ExtractDocument(&doctree.Document{Root: node})
	assert.Equal(t, []doctree.Mentionable{{ID: "deep", Label: "Deep task", Type: doctree.EntityTask}}, got)
}

func TestExtractFailsOnMalformedJSON(t *testing.T) {
	for _, raw := range []string{`{"root":`, `nope`, `{"root":7}`} {
		_, err := Extract([]byte(raw))
		assert.ErrorIs(t, err, ErrMalformedDocument, raw)
	}
}

func TestExtractEmptyDocument(t *testing.T) {
	got, err := Extract([]byte(`{}`))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAddedAndUnique(t *testing.T) {
	u1 := doctree.Mentionable{ID: "1", Label: "One", Type: doctree.EntityUser}
	f1 := doctree.Mentionable{ID: "1", Label: "one.pdf", Type: doctree.EntityFile}
	u2 := doctree.Mentionable{ID: "2", Label: "Two", Type: doctree.EntityUser}

	assert.Equal(t, []doctree.Mentionable{u1, f1}, Unique([]doctree.Mentionable{u1, f1, u1}))
	assert.Equal(t, []doctree.Mentionable{f1, u2}, Added([]doctree.Mentionable{u1}, []doctree.Mentionable{u1, f1, u2, u2}))
	assert.Equal(t, []doctree.Mentionable{u1, u2}, ByType([]doctree.Mentionable{u1, f1, u2}, doctree.EntityUser))
}

type fakeFiles map[string]FileState

func (f fakeFiles) CheckFile(_ context.Context, fileID string) (FileState, error) {
	if fileID == "broken" {
		return FileState{}, errors.New("storage offline")
	}
	return f[fileID], nil
}

func fileRef(id string) doctree.Mentionable {
	return doctree.Mentionable{ID: id, Label: id + ".pdf", Type: doctree.EntityFile}
}

func TestValidateFiles(t *testing.T) {
	files := fakeFiles{
		"ok":      {EntryID: "entry-1", Present: true},
		"gone":    {EntryID: "entry-1", Present: false},
		"foreign": {EntryID: "entry-2", Present: false},
	}
	user := doctree.Mentionable{ID: "gone", Label: "Not a file", Type: doctree.EntityUser}

	require.NoError(t, ValidateFiles(context.Background(), files, "entry-1", []doctree.Mentionable{fileRef("ok"), fileRef("foreign"), user}))

	err := ValidateFiles(context.Background(), files, "entry-1", []doctree.Mentionable{fileRef("ok"), fileRef("gone"), fileRef("unknown"), fileRef("gone")})
	require.ErrorIs(t, err, ErrMissingFiles)

	var missing *MissingFilesError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"gone", "unknown"}, missing.FileIDs)
	assert.Equal(t, map[string]string{"content": "One or more mentioned files are missing"}, missing.FieldErrors())
}

func TestValidateFilesPropagatesCheckerErrors(t *testing.T) {
	err := ValidateFiles(context.Background(), fakeFiles{}, "entry-1", []doctree.Mentionable{fileRef("broken")})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMissingFiles)
}

type fakeRecipients map[string]Recipient

func (f fakeRecipients) Recipient(_ context.Context, userID string) (Recipient, error) {
	r, ok := f[userID]
	if !ok {
		return Recipient{}, ErrUnknownRecipient
	}
	return r, nil
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []string
	fail map[string]bool
}

func (m *recordingMailer) SendMentionEmail(to Recipient, _ Notice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail[to.UserID] {
		return errors.New("smtp rejected")
	}
	m.sent = append(m.sent, to.Email)
	return nil
}

func TestNotifyNewUserMentionsOnly(t *testing.T) {
	recipients := fakeRecipients{
		"u1": {UserID: "u1", Email: "one@example.com"},
		"u2": {UserID: "u2", Email: "two@example.com"},
		"u3": {UserID: "u3", Email: "three@example.com"},
	}
	mailer := &recordingMailer{fail: map[string]bool{"u3": true}}
	n := NewNotifier(recipients, mailer)

	previous := []doctree.Mentionable{{ID: "u1", Label: "One", Type: doctree.EntityUser}}
	current := []doctree.Mentionable{
		{ID: "u1", Label: "One", Type: doctree.EntityUser},
		{ID: "u2", Label: "Two", Type: doctree.EntityUser},
		{ID: "u2", Label: "Two", Type: doctree.EntityUser},
		{ID: "ghost", Label: "Ghost", Type: doctree.EntityUser},
		{ID: "u3", Label: "Three", Type: doctree.EntityUser},
		{ID: "f1", Label: "f.pdf", Type: doctree.EntityFile},
	}

	sent, err := n.Notify(context.Background(), Notice{EntryID: "e1", Title: "Night shift"}, previous, current)

	assert.Equal(t, 1, sent)
	assert.Equal(t, []string{"two@example.com"}, mailer.sent)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notify user u3")
}
