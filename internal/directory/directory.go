// Package directory supplies the mentionable entities a document can reference: the candidate
// lists fed to the typeahead, backed by Postgres, searchable through Meilisearch with a Postgres
// full-text fallback, and cached per editing session in Redis.
package directory

import (
	"context"
	"encoding/base64"

	"logbook/api/internal/doctree"
	"logbook/api/internal/store"
)

// Record is a mentionable as indexed for search.
type Record struct {
	Key   string             `json:"key"`
	ID    string             `json:"id"`
	Type  doctree.EntityType `json:"type"`
	Label string             `json:"label"`
	LogID string             `json:"logId"`
}

// RecordKey derives the index key of a mentionable. Ids are only unique within a type and may hold
// characters the index rejects, so the id is encoded.
func RecordKey(entityType doctree.EntityType, id string) string {
	return string(entityType) + "_" + base64.RawURLEncoding.EncodeToString([]byte(id))
}

func NewRecord(m store.MentionableRecord) Record {
	return Record{
		Key:   RecordKey(m.Type, m.ID),
		ID:    m.ID,
		Type:  m.Type,
		Label: m.Label,
		LogID: m.LogID,
	}
}

func (r Record) Mentionable() doctree.Mentionable {
	return doctree.Mentionable{ID: r.ID, Label: r.Label, Type: r.Type}
}

// Query describes a directory search. An empty Type searches every type; an empty LogID
// searches every log.
type Query struct {
	Text  string
	Type  doctree.EntityType
	LogID string
	Limit int
}

const defaultSearchLimit = 20

func (q Query) limit() int {
	if q.Limit <= 0 {
		return defaultSearchLimit
	}
	return q.Limit
}

// Searcher can execute a directory search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Record, error)
	Healthy() bool
}

// Index is a search index that can also be written to.
type Index interface {
	Searcher
	IndexRecords(records []Record) error
	DeleteRecord(key string) error
}

// Source is the system of record for mentionables.
type Source interface {
	ListMentionables(ctx context.Context, logID string) ([]store.MentionableRecord, error)
	UpsertMentionable(ctx context.Context, rec store.MentionableRecord) error
	DeleteMentionable(ctx context.Context, entityType doctree.EntityType, id string) error
}
