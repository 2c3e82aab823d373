package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/rs/zerolog/log"

	"logbook/api/internal/doctree"
)

const idxMentionables = "logbook_mentionables"

var ErrIndexUnavailable = errors.New("meilisearch unhealthy")

// Meili implements Index via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the index. An unreachable server is not an
// error: the health loop keeps probing and the directory falls back to Postgres meanwhile.
func NewMeili(url, apiKey string) *Meili {
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		done:   make(chan struct{}),
	}

	if _, err := m.client.Health(); err != nil {
		log.Warn().Err(err).Str("url", url).Msg("directory: meilisearch unavailable")
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: idxMentionables, PrimaryKey: "key"}); err != nil {
		log.Debug().Err(err).Msg("directory: create index (may already exist)")
	}

	index := m.client.Index(idxMentionables)
	filterable := []interface{}{"type", "logId"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Warn().Err(err).Msg("directory: update filterable attributes")
	}
	searchable := []string{"label"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Warn().Err(err).Msg("directory: update searchable attributes")
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Info().Msg("directory: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Search(ctx context.Context, q Query) ([]Record, error) {
	if !m.healthy.Load() {
		return nil, ErrIndexUnavailable
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	req := &meili.SearchRequest{
		IndexUID: idxMentionables,
		Query:    strings.TrimSpace(q.Text),
		Limit:    int64(q.limit()),
	}
	if filters := searchFilters(q); len(filters) > 0 {
		req.Filter = filters
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{Queries: []*meili.SearchRequest{req}})
	if err != nil {
		m.healthy.Store(false)
		return nil, fmt.Errorf("meilisearch search: %w", err)
	}

	records := make([]Record, 0)
	for _, result := range resp.Results {
		for _, hit := range result.Hits {
			if rec, ok := hitToRecord(hit); ok {
				records = append(records, rec)
			}
		}
	}
	return records, nil
}

func searchFilters(q Query) []string {
	var filters []string
	if q.Type != "" {
		filters = append(filters, fmt.Sprintf("type = %q", string(q.Type)))
	}
	if q.LogID != "" {
		filters = append(filters, fmt.Sprintf("logId = %q OR logId = \"\"", q.LogID))
	}
	return filters
}

func hitToRecord(hit meili.Hit) (Record, bool) {
	rec := Record{
		Key:   decodeString(hit, "key"),
		ID:    decodeString(hit, "id"),
		Type:  doctree.EntityType(decodeString(hit, "type")),
		Label: decodeString(hit, "label"),
		LogID: decodeString(hit, "logId"),
	}
	if rec.ID == "" || rec.Label == "" || !rec.Type.Valid() {
		return Record{}, false
	}
	return rec, true
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func (m *Meili) IndexRecords(records []Record) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxMentionables).AddDocuments(records, nil)
	return err
}

func (m *Meili) DeleteRecord(key string) error {
	_, err := m.client.Index(idxMentionables).DeleteDocument(key, nil)
	return err
}
