package directory

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"logbook/api/internal/doctree"
	"logbook/api/internal/store"
)

// Cache holds candidate lists per editing session.
type Cache interface {
	Get(ctx context.Context, session string) ([]doctree.Mentionable, bool, error)
	Put(ctx context.Context, session string, list []doctree.Mentionable) error
	InvalidateAll(ctx context.Context) error
}

// Service is the directory facade: Postgres as the source, Meilisearch for search when healthy
// with Postgres full-text search behind it, and an optional per-session cache.
type Service struct {
	source   Source
	index    Index
	fallback Searcher
	cache    Cache
	loads    singleflight.Group
}

// NewService creates a directory service. index and cache may be nil.
func NewService(source Source, index Index, fallback Searcher, cache Cache) *Service {
	return &Service{source: source, index: index, fallback: fallback, cache: cache}
}

func (s *Service) indexHealthy() bool {
	return s.index != nil && s.index.Healthy()
}

// Candidates returns the candidate list of an editing session over a log. The first call of a
// session loads the list and caches it; concurrent first calls share one load.
func (s *Service) Candidates(ctx context.Context, session, logID string) ([]doctree.Mentionable, error) {
	cacheKey := logID + ":" + session
	if s.cache != nil && session != "" {
		list, ok, err := s.cache.Get(ctx, cacheKey)
		if err != nil {
			log.Warn().Err(err).Str("session", session).Msg("directory: candidate cache read failed")
		} else if ok {
			return list, nil
		}
	}

	// The load is shared, so one caller cancelling must not fail the others.
	loadCtx := context.WithoutCancel(ctx)
	v, err, _ := s.loads.Do(cacheKey, func() (interface{}, error) {
		records, err := s.source.ListMentionables(loadCtx, logID)
		if err != nil {
			return nil, fmt.Errorf("load candidates: %w", err)
		}
		list := make([]doctree.Mentionable, 0, len(records))
		for _, rec := range records {
			list = append(list, rec.Mentionable())
		}
		if s.cache != nil && session != "" {
			if err := s.cache.Put(loadCtx, cacheKey, list); err != nil {
				log.Warn().Err(err).Str("session", session).Msg("directory: candidate cache write failed")
			}
		}
		return list, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]doctree.Mentionable), nil
}

// Search tries the index if healthy and falls back to Postgres. Failures degrade to no results.
func (s *Service) Search(ctx context.Context, q Query) []Record {
	if s.indexHealthy() {
		records, err := s.index.Search(ctx, q)
		if err == nil {
			return records
		}
		log.Warn().Err(err).Msg("directory: index search failed, falling back to pgfts")
	}
	if s.fallback == nil {
		return []Record{}
	}
	records, err := s.fallback.Search(ctx, q)
	if err != nil {
		log.Error().Err(err).Msg("directory: pgfts search failed")
		return []Record{}
	}
	return records
}

// Put records a mentionable and pushes it to the index in the background. Cached session lists
// are dropped so new sessions see the change.
func (s *Service) Put(ctx context.Context, rec store.MentionableRecord) error {
	if !rec.Type.Valid() || rec.ID == "" || rec.Label == "" {
		return fmt.Errorf("%w: %s %q", doctree.ErrInvalidMention, rec.Type, rec.ID)
	}
	if err := s.source.UpsertMentionable(ctx, rec); err != nil {
		return err
	}
	s.invalidate(ctx)
	if s.indexHealthy() {
		record := NewRecord(rec)
		go func() {
			if err := s.index.IndexRecords([]Record{record}); err != nil {
				log.Warn().Err(err).Str("key", record.Key).Msg("directory: index record failed")
			}
		}()
	}
	return nil
}

func (s *Service) Remove(ctx context.Context, entityType doctree.EntityType, id string) error {
	if err := s.source.DeleteMentionable(ctx, entityType, id); err != nil {
		return err
	}
	s.invalidate(ctx)
	if s.indexHealthy() {
		key := RecordKey(entityType, id)
		go func() {
			if err := s.index.DeleteRecord(key); err != nil {
				log.Warn().Err(err).Str("key", key).Msg("directory: delete record failed")
			}
		}()
	}
	return nil
}

// ReindexAll pushes every record from Postgres to the index and returns how many were sent.
func (s *Service) ReindexAll(ctx context.Context) (int, error) {
	if !s.indexHealthy() {
		return 0, ErrIndexUnavailable
	}
	rows, err := s.source.ListMentionables(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("reindex load: %w", err)
	}
	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, NewRecord(row))
	}
	if err := s.index.IndexRecords(records); err != nil {
		return 0, fmt.Errorf("reindex: %w", err)
	}
	return len(records), nil
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateAll(ctx); err != nil {
		log.Warn().Err(err).Msg("directory: candidate cache invalidation failed")
	}
}
