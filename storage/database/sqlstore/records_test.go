package sqlstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/monquartier/monquartier/core"
	"github.com/monquartier/monquartier/core/collection"
	"github.com/monquartier/monquartier/storage/realtime"
)

func titles(recs []collection.Record) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Text("title"))
	}
	return out
}

func TestRowStore(t *testing.T) {
	ctx := context.Background()
	hub := realtime.NewHub()
	store := NewRowStore(newTestDB(t), hub)

	var events []collection.ChangeEvent
	_, err := hub.Subscribe(ctx, "jobs", func(ev collection.ChangeEvent) { events = append(events, ev) })
	require.NoError(t, err)

	j1, err := store.Insert(ctx, "jobs", collection.Record{
		"community_id": "c1", "title": "Jardinage", "pay": 5000, "urgent": true, "_status": "pending",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, j1.ID())
	assert.NotContains(t, j1, collection.FieldStatus)

	_, err = store.Insert(ctx, "jobs", collection.Record{"community_id": "c2", "title": "Peinture", "pay": 20000})
	require.NoError(t, err)
	_, err = store.Insert(ctx, "jobs", collection.Record{"community_id": "c1", "title": "Courses", "pay": 12000})
	require.NoError(t, err)

	tests := []struct {
		name string
		q    collection.Query
		want []string
	}{
		{name: "all by creation", q: collection.Query{Collection: "jobs"}, want: []string{"Jardinage", "Peinture", "Courses"}},
		{name: "scoped", q: collection.NewQuery("jobs", "c1", ""), want: []string{"Jardinage", "Courses"}},
		{name: "pay desc", q: collection.NewQuery("jobs", "", "pay"), want: []string{"Peinture", "Courses", "Jardinage"}},
		{name: "by number", q: collection.Query{Collection: "jobs"}.Where("pay", "12000"), want: []string{"Courses"}},
		{name: "by bool", q: collection.Query{Collection: "jobs"}.Where("urgent", "true"), want: []string{"Jardinage"}},
		{name: "by id", q: collection.Query{Collection: "jobs"}.Where("id", j1.ID()), want: []string{"Jardinage"}},
		{
			name: "title asc",
			q:    collection.Query{Collection: "jobs", Order: []core.DBOrdering{{Field: "title", Ascending: true}}},
			want: []string{"Courses", "Jardinage", "Peinture"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := store.Query(ctx, tt.q)
			require.NoError(t, err)
			assert.Equal(t, tt.want, titles(recs))
		})
	}

	updated, err := store.Update(ctx, "jobs", j1.ID(), collection.Record{"status": "IN_PROGRESS"})
	require.NoError(t, err)
	assert.Equal(t, "IN_PROGRESS", updated.Text("status"))
	assert.Equal(t, 5000, updated.Int("pay"))

	require.NoError(t, store.Delete(ctx, "jobs", j1.ID()))
	assert.Equal(t, collection.ErrNotFound, store.Delete(ctx, "jobs", j1.ID()))

	require.Len(t, events, 5)
	assert.Equal(t, collection.Updated, events[3].Type)
	assert.Equal(t, collection.Deleted, events[4].Type)
	assert.Equal(t, "c1", events[4].Scope)
}

func TestRowStore_invalid(t *testing.T) {
	ctx := context.Background()
	store := NewRowStore(newTestDB(t), nil)

	_, err := store.Query(ctx, collection.Query{Collection: "nope"})
	assert.Equal(t, collection.ErrCollectionNotFound, err)

	_, err = store.Query(ctx, collection.Query{Collection: "jobs"}.Where("title'; DROP TABLE records; --", "x"))
	assert.Error(t, err)
}

func TestRowStore_uniqueAndUpsert(t *testing.T) {
	ctx := context.Background()
	store := NewRowStore(newTestDB(t), nil)

	_, err := store.Insert(ctx, "job_applications", collection.Record{"job_id": "j1", "user_id": "u1"})
	require.NoError(t, err)
	_, err = store.Insert(ctx, "job_applications", collection.Record{"job_id": "j1", "user_id": "u1"})
	assert.Equal(t, collection.ErrConflict, err)

	v1, err := store.Upsert(ctx, "votes", collection.Record{"proposal_id": "p1", "user_id": "u1", "vote_type": "FOR"}, "proposal_id", "user_id")
	require.NoError(t, err)
	v2, err := store.Upsert(ctx, "votes", collection.Record{"proposal_id": "p1", "user_id": "u1", "vote_type": "ABSTAIN"}, "proposal_id", "user_id")
	require.NoError(t, err)
	assert.Equal(t, v1.ID(), v2.ID())

	recs, err := store.Query(ctx, collection.Query{Collection: "votes"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "ABSTAIN", recs[0].Text("vote_type"))
}
