package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logbook/api/internal/doctree"
)

func migratedStore(t *testing.T) *PostgresStore {
	t.Helper()
	db := openTestDB(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	_, err := ApplyMigrations(ctx, db, migrationsDir)
	require.NoError(t, err)
	return NewPostgresStore(db)
}

func TestSaveEntryReplacesMentionsAndReturnsPrevious(t *testing.T) {
	s := migratedStore(t)
	ctx := context.Background()

	john := doctree.Mentionable{ID: "u1", Label: "John Doe", Type: doctree.EntityUser}
	scan := doctree.Mentionable{ID: "f1", Label: "scan.pdf", Type: doctree.EntityFile}

	entry := LogEntry{ID: "ent_1", LogID: "log_1", Title: "Night shift", Author: "Dana", ContentJSON: []byte(`{"root":{"type":"root"}}`), ContentDigest: "d1"}
	saved, previous, err := s.SaveEntry(ctx, entry, []doctree.Mentionable{john})
	require.NoError(t, err)
	assert.Empty(t, previous)
	assert.Equal(t, 1, saved.Revision)

	entry.ContentDigest = "d2"
	saved, previous, err = s.SaveEntry(ctx, entry, []doctree.Mentionable{scan, john})
	require.NoError(t, err)
	assert.Equal(t, []doctree.Mentionable{john}, previous)
	assert.Equal(t, 2, saved.Revision)

	mentions, err := s.ListEntryMentions(ctx, "ent_1")
	require.NoError(t, err)
	assert.Equal(t, []doctree.Mentionable{scan, john}, mentions)

	got, err := s.GetEntry(ctx, "ent_1")
	require.NoError(t, err)
	assert.Equal(t, "d2", got.ContentDigest)
	assert.JSONEq(t, `{"root":{"type":"root"}}`, string(got.ContentJSON))

	links, err := s.Backlinks(ctx, doctree.EntityUser, "u1")
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "Night shift", links[0].Title)

	_, err = s.GetEntry(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMentionablesVisibleFromLog(t *testing.T) {
	s := migratedStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertMentionable(ctx, MentionableRecord{ID: "u1", Type: doctree.EntityUser, Label: "John Doe"}))
	require.NoError(t, s.UpsertMentionable(ctx, MentionableRecord{ID: "t1", Type: doctree.EntityTask, Label: "Restock gauze", LogID: "log_1"}))
	require.NoError(t, s.UpsertMentionable(ctx, MentionableRecord{ID: "t2", Type: doctree.EntityTask, Label: "Other log task", LogID: "log_2"}))

	items, err := s.ListMentionables(ctx, "log_1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "John Doe", items[0].Label)
	assert.Equal(t, "Restock gauze", items[1].Label)

	all, err := s.ListMentionables(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	require.NoError(t, s.DeleteMentionable(ctx, doctree.EntityTask, "t2"))
	all, err = s.ListMentionables(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestAttachmentsAndUsers(t *testing.T) {
	s := migratedStore(t)
	ctx := context.Background()

	_, err := s.InsertAttachment(ctx, Attachment{ID: "f1", EntryID: "ent_1", Name: "scan.pdf", ContentType: "application/pdf", SizeBytes: 12, ObjectKey: "ent_1/f1/scan.pdf"})
	require.NoError(t, err)

	got, err := s.GetAttachment(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, "ent_1", got.EntryID)

	list, err := s.ListAttachments(ctx, "ent_1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = s.GetAttachment(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.UpsertUser(ctx, User{ID: "u1", DisplayName: "John Doe", Email: "john@example.com"})
	require.NoError(t, err)
	user, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "john@example.com", user.Email)
}
