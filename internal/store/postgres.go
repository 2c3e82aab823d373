package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"logbook/api/internal/doctree"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// SaveEntry inserts or updates an entry and replaces its mention rows in one transaction. It
// returns the stored entry and the mentions the entry held before the save.
func (s *PostgresStore) SaveEntry(ctx context.Context, entry LogEntry, refs []doctree.Mentionable) (LogEntry, []doctree.Mentionable, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return LogEntry{}, nil, fmt.Errorf("begin save entry tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	previous, err := listEntryMentions(ctx, tx, entry.ID)
	if err != nil {
		return LogEntry{}, nil, err
	}

	saved := entry
	err = tx.QueryRowContext(ctx, `
		INSERT INTO log_entries (id, log_id, title, author, content_json, content_digest)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			title=EXCLUDED.title,
			author=EXCLUDED.author,
			content_json=EXCLUDED.content_json,
			content_digest=EXCLUDED.content_digest,
			revision=log_entries.revision + 1,
			updated_at=NOW()
		RETURNING log_id, revision, created_at, updated_at
	`, entry.ID, entry.LogID, entry.Title, entry.Author, string(entry.ContentJSON), entry.ContentDigest).
		Scan(&saved.LogID, &saved.Revision, &saved.CreatedAt, &saved.UpdatedAt)
	if err != nil {
		return LogEntry{}, nil, fmt.Errorf("upsert entry: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM entry_mentions WHERE entry_id=$1`, entry.ID); err != nil {
		return LogEntry{}, nil, fmt.Errorf("clear entry mentions: %w", err)
	}
	for i, ref := range refs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO entry_mentions (entry_id, position, mention_id, mention_type, label)
			VALUES ($1, $2, $3, $4, $5)
		`, entry.ID, i, ref.ID, string(ref.Type), ref.Label); err != nil {
			return LogEntry{}, nil, fmt.Errorf("insert entry mention: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return LogEntry{}, nil, fmt.Errorf("commit save entry: %w", err)
	}
	return saved, previous, nil
}

func (s *PostgresStore) GetEntry(ctx context.Context, entryID string) (LogEntry, error) {
	var item LogEntry
	var content []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, log_id, title, author, content_json, content_digest, revision, created_at, updated_at
		FROM log_entries
		WHERE id=$1
	`, entryID).Scan(&item.ID, &item.LogID, &item.Title, &item.Author, &content, &item.ContentDigest, &item.Revision, &item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return LogEntry{}, fmt.Errorf("entry %s: %w", entryID, ErrNotFound)
	}
	if err != nil {
		return LogEntry{}, fmt.Errorf("get entry: %w", err)
	}
	item.ContentJSON = content
	return item, nil
}

// ListEntries returns the entries of a log without their content, most recently updated first.
func (s *PostgresStore) ListEntries(ctx context.Context, logID string) ([]LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, log_id, title, author, content_digest, revision, created_at, updated_at
		FROM log_entries
		WHERE log_id=$1
		ORDER BY updated_at DESC
	`, logID)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	items := make([]LogEntry, 0)
	for rows.Next() {
		var item LogEntry
		if err := rows.Scan(&item.ID, &item.LogID, &item.Title, &item.Author, &item.ContentDigest, &item.Revision, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListEntryMentions(ctx context.Context, entryID string) ([]doctree.Mentionable, error) {
	return listEntryMentions(ctx, s.db, entryID)
}

func listEntryMentions(ctx context.Context, q queryer, entryID string) ([]doctree.Mentionable, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT mention_id, mention_type, label
		FROM entry_mentions
		WHERE entry_id=$1
		ORDER BY position ASC
	`, entryID)
	if err != nil {
		return nil, fmt.Errorf("list entry mentions: %w", err)
	}
	defer rows.Close()

	items := make([]doctree.Mentionable, 0)
	for rows.Next() {
		var item doctree.Mentionable
		var mentionType string
		if err := rows.Scan(&item.ID, &mentionType, &item.Label); err != nil {
			return nil, fmt.Errorf("scan entry mention: %w", err)
		}
		item.Type = doctree.EntityType(mentionType)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entry mentions: %w", err)
	}
	return items, nil
}

// Backlinks lists the entries that mention the given entity.
func (s *PostgresStore) Backlinks(ctx context.Context, entityType doctree.EntityType, id string) ([]Backlink, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.log_id, e.title, MIN(m.label), e.updated_at
		FROM entry_mentions m
		JOIN log_entries e ON e.id = m.entry_id
		WHERE m.mention_type=$1 AND m.mention_id=$2
		GROUP BY e.id, e.log_id, e.title, e.updated_at
		ORDER BY e.updated_at DESC
	`, string(entityType), id)
	if err != nil {
		return nil, fmt.Errorf("list backlinks: %w", err)
	}
	defer rows.Close()

	items := make([]Backlink, 0)
	for rows.Next() {
		var item Backlink
		if err := rows.Scan(&item.EntryID, &item.LogID, &item.Title, &item.Label, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan backlink: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate backlinks: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertAttachment(ctx context.Context, item Attachment) (Attachment, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO attachments (id, entry_id, name, content_type, size_bytes, object_key)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, item.ID, item.EntryID, item.Name, item.ContentType, item.SizeBytes, item.ObjectKey).Scan(&item.CreatedAt)
	if err != nil {
		return Attachment{}, fmt.Errorf("insert attachment: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) GetAttachment(ctx context.Context, attachmentID string) (Attachment, error) {
	var item Attachment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, entry_id, name, content_type, size_bytes, object_key, created_at
		FROM attachments
		WHERE id=$1
	`, attachmentID).Scan(&item.ID, &item.EntryID, &item.Name, &item.ContentType, &item.SizeBytes, &item.ObjectKey, &item.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Attachment{}, fmt.Errorf("attachment %s: %w", attachmentID, ErrNotFound)
	}
	if err != nil {
		return Attachment{}, fmt.Errorf("get attachment: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) ListAttachments(ctx context.Context, entryID string) ([]Attachment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entry_id, name, content_type, size_bytes, object_key, created_at
		FROM attachments
		WHERE entry_id=$1
		ORDER BY created_at ASC
	`, entryID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	items := make([]Attachment, 0)
	for rows.Next() {
		var item Attachment
		if err := rows.Scan(&item.ID, &item.EntryID, &item.Name, &item.ContentType, &item.SizeBytes, &item.ObjectKey, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attachments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpsertUser(ctx context.Context, user User) (User, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, display_name, email)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET display_name=EXCLUDED.display_name, email=EXCLUDED.email, updated_at=NOW()
		RETURNING created_at, updated_at
	`, user.ID, user.DisplayName, user.Email).Scan(&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, fmt.Errorf("upsert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, created_at, updated_at FROM users WHERE id=$1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) UpsertMentionable(ctx context.Context, rec MentionableRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mentionables (id, type, label, log_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (type, id) DO UPDATE SET label=EXCLUDED.label, log_id=EXCLUDED.log_id, updated_at=NOW()
	`, rec.ID, string(rec.Type), rec.Label, rec.LogID)
	if err != nil {
		return fmt.Errorf("upsert mentionable: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteMentionable(ctx context.Context, entityType doctree.EntityType, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM mentionables WHERE type=$1 AND id=$2`, string(entityType), id)
	if err != nil {
		return fmt.Errorf("delete mentionable: %w", err)
	}
	return nil
}

// ListMentionables returns the directory visible from a log: global records plus the log's own,
// ordered by label. An empty logID returns every record.
func (s *PostgresStore) ListMentionables(ctx context.Context, logID string) ([]MentionableRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, label, log_id, updated_at
		FROM mentionables
		WHERE $1 = '' OR log_id = '' OR log_id = $1
		ORDER BY label ASC, id ASC
	`, logID)
	if err != nil {
		return nil, fmt.Errorf("list mentionables: %w", err)
	}
	defer rows.Close()

	items := make([]MentionableRecord, 0)
	for rows.Next() {
		var item MentionableRecord
		var entityType string
		if err := rows.Scan(&item.ID, &entityType, &item.Label, &item.LogID, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan mentionable: %w", err)
		}
		item.Type = doctree.EntityType(entityType)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mentionables: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
