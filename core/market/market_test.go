package market

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/monquartier/monquartier/core"
	"github.com/monquartier/monquartier/core/collection"
	"github.com/monquartier/monquartier/core/optimistic"
	inmemdb "github.com/monquartier/monquartier/storage/database/inmem"
	"github.com/monquartier/monquartier/storage/realtime"
)

type flakyRows struct {
	collection.RowStore

	mu   sync.Mutex
	fail bool
}

func (f *flakyRows) setFail(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fail
}

func (f *flakyRows) Insert(ctx context.Context, coll string, payload collection.Record) (collection.Record, error) {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return nil, errors.New("failed to fetch")
	}
	return f.RowStore.Insert(ctx, coll, payload)
}

var (
	fatou = Seller{ID: "u-fatou", Name: "Fatou", CommunityID: "c1"}
	admin = Seller{ID: "u-admin", Name: "Admin", CommunityID: "c1", Admin: true}
)

func openBoard(t *testing.T, seller Seller) (*Board, *flakyRows) {
	t.Helper()
	hub := realtime.NewHub()
	t.Cleanup(hub.Close)
	rows := &flakyRows{RowStore: inmemdb.NewRowStore(inmemdb.Open(), hub)}
	store := collection.NewStore(rows, collection.WithChangeStream(hub))

	_, err := rows.Insert(context.Background(), ClassifiedsCollection, collection.Record{
		"community_id": "c1", "user_id": "u-other", "type": TypeGive, "title": "Vêtements enfant", "description": "x",
		"created_at": "2024-01-01T10:00:00.000000Z",
	})
	require.NoError(t, err)

	b, err := OpenBoard(context.Background(), store, rows, core.NewValidator(), "session-"+seller.ID, seller)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	require.NoError(t, b.Wait(context.Background()))
	return b, rows
}

func TestLabels(t *testing.T) {
	tests := []struct {
		price int
		want  string
	}{
		{price: 0, want: "Gratuit"},
		{price: 500, want: "500 FCFA"},
	}
	for _, tt := range tests {
		if got := PriceLabel(tt.price); got != tt.want {
			t.Errorf("PriceLabel(%d) = %q, want %q", tt.price, got, tt.want)
		}
	}
	assert.Contains(t, PriceLabel(12500), "500 FCFA")
	assert.Equal(t, "Don", TypeLabel(TypeGive))
	assert.Equal(t, "OTHER", TypeLabel("OTHER"))
}

func TestBoard_Publish(t *testing.T) {
	ctx := context.Background()
	b, _ := openBoard(t, fatou)
	require.Len(t, b.Ads(""), 1)

	ad, err := b.Publish(ctx, NewClassified{Type: TypeSell, Title: " Vélo ", Description: "Bon état", Price: 25000})
	require.NoError(t, err)
	assert.False(t, optimistic.IsTempID(ad.ID))
	assert.Equal(t, "Vélo", ad.Title)
	assert.Equal(t, "c1", ad.CommunityID)
	assert.Equal(t, fatou.Name, ad.UserName)

	ads := b.Ads("")
	require.Len(t, ads, 2)
	assert.Equal(t, ad.ID, ads[0].ID)
	assert.Equal(t, string(optimistic.Confirmed), ads[0].Status)
	assert.Len(t, b.Ads(TypeSell), 1)

	tests := []struct {
		name string
		nc   NewClassified
	}{
		{name: "no title", nc: NewClassified{Type: TypeSell, Description: "x"}},
		{name: "no description", nc: NewClassified{Type: TypeSell, Title: "Vélo", Description: "  "}},
		{name: "unknown type", nc: NewClassified{Type: "RENT", Title: "Vélo", Description: "x"}},
		{name: "bad image", nc: NewClassified{Type: TypeSell, Title: "Vélo", Description: "x", Image: "not a url"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.Publish(ctx, tt.nc)
			var vErr *core.ValidationError
			assert.True(t, errors.As(err, &vErr), "want a validation error, got %v", err)
			assert.Len(t, b.Ads(""), 2)
		})
	}
}

func TestBoard_publishFailure(t *testing.T) {
	ctx := context.Background()
	b, rows := openBoard(t, fatou)

	rows.setFail(true)
	ad, err := b.Publish(ctx, NewClassified{Type: TypeService, Title: "Cours de maths", Description: "Niveau collège"})
	require.Error(t, err)
	assert.Equal(t, "Impossible de joindre le serveur. Vérifiez votre connexion.", core.UserMessage(err))
	ads := b.Ads("")
	require.Len(t, ads, 2)
	assert.Equal(t, ad.ID, ads[0].ID)
	assert.Equal(t, string(optimistic.Failed), ads[0].Status)

	rows.setFail(false)
	saved, err := b.Retry(ctx, ad.ID)
	require.NoError(t, err)
	ads = b.Ads("")
	require.Len(t, ads, 2)
	assert.Equal(t, saved.ID, ads[0].ID)
}

func TestBoard_Remove(t *testing.T) {
	ctx := context.Background()
	b, _ := openBoard(t, fatou)
	other := b.Ads("")[0]

	ad, err := b.Publish(ctx, NewClassified{Type: TypeBuy, Title: "Cherche frigo", Description: "Petit modèle"})
	require.NoError(t, err)

	assert.Equal(t, ErrNotOwner, b.Remove(ctx, other.ID))
	require.NoError(t, b.Remove(ctx, ad.ID))
	assert.Len(t, b.Ads(""), 1)
	assert.Equal(t, collection.ErrNotFound, b.Remove(ctx, ad.ID))

	t.Run("admin", func(t *testing.T) {
		ab, _ := openBoard(t, admin)
		require.NoError(t, ab.Remove(ctx, ab.Ads("")[0].ID))
		assert.Empty(t, ab.Ads(""))
	})
}
