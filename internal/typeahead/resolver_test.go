package typeahead

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logbook/api/internal/doctree"
)

func sampleCandidates() []doctree.Mentionable {
	return []doctree.Mentionable{
		{ID: "u1", Label: "John Doe", Type: doctree.EntityUser},
		{ID: "u2", Label: "Joanna Park", Type: doctree.EntityUser},
		{ID: "u3", Label: "Dana Scully", Type: doctree.EntityUser},
		{ID: "f1", Label: "report.pdf", Type: doctree.EntityFile},
		{ID: "f2", Label: "Rear camera.jpg", Type: doctree.EntityFile},
		{ID: "t1", Label: "Restock gauze", Type: doctree.EntityTask},
	}
}

func TestFilter(t *testing.T) {
	candidates := sampleCandidates()

	tests := []struct {
		name       string
		entityType doctree.EntityType
		query      string
		want       []string
	}{
		{name: "case insensitive", entityType: doctree.EntityUser, query: "JO", want: []string{"u1", "u2"}},
		{name: "query trimmed", entityType: doctree.EntityUser, query: "  dana ", want: []string{"u3"}},
		{name: "empty query keeps type", entityType: doctree.EntityFile, query: "", want: []string{"f1", "f2"}},
		{name: "type must match", entityType: doctree.EntityTask, query: "re", want: []string{"t1"}},
		{name: "no type match", entityType: doctree.EntityLogEntry, query: "", want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Filter(candidates, tt.entityType, tt.query)
			ids := make([]string, 0, len(got))
			for _, c := range got {
				ids = append(ids, c.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestFilterBounds(t *testing.T) {
	var candidates []doctree.Mentionable
	for i := range 12 {
		entityType := doctree.EntityUser
		if i%3 == 0 {
			entityType = doctree.EntityTask
		}
		candidates = append(candidates, doctree.Mentionable{ID: fmt.Sprintf("c%d", i), Label: fmt.Sprintf("Name %d", i), Type: entityType})
	}

	for _, query := range []string{"", "name", "1", "zzz"} {
		got := Filter(candidates, doctree.EntityUser, query)
		assert.LessOrEqual(t, len(got), MaxResults)
		for _, c := range got {
			assert.Equal(t, doctree.EntityUser, c.Type)
			assert.Contains(t, strings.ToLower(c.Label), strings.ToLower(query))
		}
	}

	got := Filter(candidates, doctree.EntityUser, "")
	require.Len(t, got, MaxResults)
	assert.Equal(t, "c1", got[0].ID)
	assert.Equal(t, "c7", got[4].ID)
}

func TestResolveWaitsForLatency(t *testing.T) {
	r := NewResolver(30 * time.Millisecond)
	start := time.Now()

	got, err := r.Resolve(context.Background(), sampleCandidates(), doctree.EntityUser, "jo")

	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestResolveHonoursCancellation(t *testing.T) {
	r := NewResolver(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got, err := r.Resolve(ctx, sampleCandidates(), doctree.EntityUser, "jo")

	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, got)
}

func TestResolveLimitNeverExceedsMax(t *testing.T) {
	r := &Resolver{Limit: 50}
	var candidates []doctree.Mentionable
	for i := range 10 {
		candidates = append(candidates, doctree.Mentionable{ID: fmt.Sprint(i), Label: "x", Type: doctree.EntityFile})
	}

	got, err := r.Resolve(context.Background(), candidates, doctree.EntityFile, "x")
	require.NoError(t, err)
	assert.Len(t, got, MaxResults)

	r.Limit = 2
	got, err = r.Resolve(context.Background(), candidates, doctree.EntityFile, "x")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestCategories(t *testing.T) {
	assert.Equal(t,
		[]doctree.EntityType{doctree.EntityUser, doctree.EntityFile, doctree.EntityTask},
		Categories(sampleCandidates()),
	)
	assert.Empty(t, Categories(nil))
}
