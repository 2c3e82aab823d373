package directory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"logbook/api/internal/doctree"
)

// PgFTS implements Searcher over the mentionables table as a fallback for Meilisearch.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true: without Postgres there is no directory at all.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search matches labels by full-text query or by substring, best ranked first. An empty text
// lists the matching records by label.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Record, error) {
	text := strings.TrimSpace(q.Text)
	args := []any{text, likePattern(text)}
	where := []string{"($1 = '' OR search_vector @@ plainto_tsquery('simple', $1) OR label ILIKE $2)"}
	if q.Type != "" {
		args = append(args, string(q.Type))
		where = append(where, fmt.Sprintf("type = $%d", len(args)))
	}
	if q.LogID != "" {
		args = append(args, q.LogID)
		where = append(where, fmt.Sprintf("(log_id = '' OR log_id = $%d)", len(args)))
	}

	query := fmt.Sprintf(`
		SELECT id, type, label, log_id
		FROM mentionables
		WHERE %s
		ORDER BY ts_rank(search_vector, plainto_tsquery('simple', $1)) DESC, label ASC
		LIMIT %d`, strings.Join(where, " AND "), q.limit())

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		var rec Record
		var entityType string
		if err := rows.Scan(&rec.ID, &entityType, &rec.Label, &rec.LogID); err != nil {
			return nil, fmt.Errorf("pgfts scan: %w", err)
		}
		rec.Type = doctree.EntityType(entityType)
		rec.Key = RecordKey(rec.Type, rec.ID)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgfts iterate: %w", err)
	}
	return records, nil
}

func likePattern(text string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(text)
	return "%" + escaped + "%"
}
