package typeahead

import (
	"context"
	"strings"
	"time"

	"logbook/api/internal/doctree"
)

const (
	// MaxResults caps every resolution.
	MaxResults = 5
	// DefaultLatency is the round trip a resolution takes before results are available.
	DefaultLatency = 100 * time.Millisecond
)

// Resolver searches a session's candidate list. The zero value answers without delay.
type Resolver struct {
	Latency time.Duration
	Limit   int
}

func NewResolver(latency time.Duration) *Resolver {
	return &Resolver{Latency: latency, Limit: MaxResults}
}

// Resolve filters candidates after the resolver latency has passed. It returns ctx.Err() when
// ctx ends first.
func (r *Resolver) Resolve(ctx context.Context, candidates []doctree.Mentionable, entityType doctree.EntityType, query string) ([]doctree.Mentionable, error) {
	latency := r.Latency
	if latency < 0 {
		latency = 0
	}
	timer := time.NewTimer(latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}
	return filter(candidates, entityType, query, r.limit()), nil
}

func (r *Resolver) limit() int {
	if r.Limit <= 0 || r.Limit > MaxResults {
		return MaxResults
	}
	return r.Limit
}

// Filter keeps candidates of the given type whose label contains the trimmed query, ignoring
// case. Input order is kept and at most MaxResults are returned.
func Filter(candidates []doctree.Mentionable, entityType doctree.EntityType, query string) []doctree.Mentionable {
	return filter(candidates, entityType, query, MaxResults)
}

func filter(candidates []doctree.Mentionable, entityType doctree.EntityType, query string, limit int) []doctree.Mentionable {
	needle := strings.ToLower(strings.TrimSpace(query))
	out := make([]doctree.Mentionable, 0, limit)
	for _, c := range candidates {
		if c.Type != entityType || !strings.Contains(strings.ToLower(c.Label), needle) {
			continue
		}
		out = append(out, c)
		if len(out) == limit {
			break
		}
	}
	return out
}

// Categories lists the entity types offered before a type is chosen: every type in menu order
// that has at least one candidate.
func Categories(candidates []doctree.Mentionable) []doctree.EntityType {
	present := make(map[doctree.EntityType]bool, len(doctree.EntityTypes))
	for _, c := range candidates {
		present[c.Type] = true
	}
	out := make([]doctree.EntityType, 0, len(doctree.EntityTypes))
	for _, t := range doctree.EntityTypes {
		if present[t] {
			out = append(out, t)
		}
	}
	return out
}

// CategoryLabel is the menu label of an entity type category.
func CategoryLabel(t doctree.EntityType) string {
	switch t {
	case doctree.EntityUser:
		return "Users"
	case doctree.EntityLogEntry:
		return "Log Entries"
	case doctree.EntityFile:
		return "Files"
	case doctree.EntityTask:
		return "Tasks"
	}
	return string(t)
}
