package store

import (
	"encoding/json"
	"errors"
	"time"

	"logbook/api/internal/doctree"
)

var ErrNotFound = errors.New("not found")

type User struct {
	ID          string
	DisplayName string
	Email       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// LogEntry is one stored entry of a log. ContentJSON holds the document exactly as saved.
type LogEntry struct {
	ID            string
	LogID         string
	Title         string
	Author        string
	ContentJSON   json.RawMessage
	ContentDigest string
	Revision      int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Attachment struct {
	ID          string
	EntryID     string
	Name        string
	ContentType string
	SizeBytes   int64
	ObjectKey   string
	CreatedAt   time.Time
}

// MentionableRecord is a directory row: something a document can mention.
type MentionableRecord struct {
	ID        string
	Type      doctree.EntityType
	Label     string
	LogID     string
	UpdatedAt time.Time
}

func (r MentionableRecord) Mentionable() doctree.Mentionable {
	return doctree.Mentionable{ID: r.ID, Label: r.Label, Type: r.Type}
}

// Backlink is an entry holding a mention of some entity.
type Backlink struct {
	EntryID   string
	LogID     string
	Title     string
	Label     string
	UpdatedAt time.Time
}
