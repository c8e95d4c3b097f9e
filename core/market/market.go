// Package market holds the classified ads residents publish for their neighbours.
package market

import (
	"context"

	"github.com/go-playground/locales/fr"
	"github.com/pkg/errors"

	"github.com/monquartier/monquartier/core"
	"github.com/monquartier/monquartier/core/collection"
	"github.com/monquartier/monquartier/core/optimistic"
	"github.com/monquartier/monquartier/core/visibility"
)

// Ad types
const (
	TypeSell    = "SELL"
	TypeBuy     = "BUY"
	TypeGive    = "GIVE"
	TypeService = "SERVICE"
)

const ClassifiedsCollection = "classifieds"

var (
	ErrNotOwner = core.NewValidationError(errors.New("Vous ne pouvez supprimer que vos annonces."))

	typeLabels = map[string]string{
		TypeSell:    "Vente",
		TypeBuy:     "Recherche",
		TypeGive:    "Don",
		TypeService: "Service",
	}
	numbers = fr.New()
)

type Classified struct {
	ID          string `json:"id,omitempty"`
	CommunityID string `json:"community_id"`
	UserID      string `json:"user_id"`
	UserName    string `json:"user_name"`
	Type        string `json:"type"`
	Title       string `json:"title"`
	Price       int    `json:"price"`
	Description string `json:"description"`
	Image       string `json:"image,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
	Status      string `json:"_status,omitempty"`
}

func ClassifiedFromRecord(rec collection.Record) (Classified, error) {
	var c Classified
	if err := collection.Decode(rec, &c); err != nil {
		return Classified{}, err
	}
	c.Status = string(optimistic.StatusOf(rec))
	return c, nil
}

// TypeLabel is the french name of an ad type.
func TypeLabel(typ string) string {
	if label, ok := typeLabels[typ]; ok {
		return label
	}
	return typ
}

// PriceLabel formats a price in FCFA, "Gratuit" when there is none.
func PriceLabel(price int) string {
	if price <= 0 {
		return "Gratuit"
	}
	return numbers.FmtNumber(float64(price), 0) + " FCFA"
}

type NewClassified struct {
	Type        string `json:"type" validate:"required,oneof=SELL BUY GIVE SERVICE"`
	Title       string `json:"title" validate:"required,max=120"`
	Description string `json:"description" validate:"required"`
	Price       int    `json:"price" validate:"gte=0"`
	Image       string `json:"image" validate:"omitempty,url"`
}

// Seller is the resident publishing ads.
type Seller struct {
	ID          string
	Name        string
	CommunityID string
	Admin       bool
}

// Board is the live list of the ads of a community, newest first.
type Board struct {
	rows   collection.RowStore
	seller Seller
	snap   *collection.Snapshot
	view   *visibility.View
	flow   *optimistic.Flow[NewClassified]
}

// OpenBoard opens the ads of the seller's community. origin identifies the local session.
func OpenBoard(ctx context.Context, store *collection.Store, rows collection.RowStore, v *core.Validator, origin string, seller Seller) (*Board, error) {
	snap, err := store.Open(ctx, collection.Options{
		Collection: ClassifiedsCollection,
		Scope:      seller.CommunityID,
		SortField:  collection.FieldCreatedAt,
	})
	if err != nil {
		return nil, errors.Wrap(err, "opening classifieds")
	}

	b := &Board{
		rows:   rows,
		seller: seller,
		snap:   snap,
		view:   visibility.NewView(snap, visibility.Actor{ID: seller.ID, CommunityID: seller.CommunityID}, visibility.SameCommunity),
	}
	b.flow = optimistic.New(snap, optimistic.Config[NewClassified]{
		Origin: origin,
		Encode: b.encode,
		Validate: func(nc NewClassified) error {
			nc.Title = core.CleanString(nc.Title)
			nc.Description = core.CleanString(nc.Description)
			return v.Struct(nc)
		},
		Write: func(ctx context.Context, payload collection.Record) (collection.Record, error) {
			return rows.Insert(ctx, ClassifiedsCollection, payload)
		},
		Placement: optimistic.Prepend,
	})
	return b, nil
}

func (b *Board) encode(nc NewClassified) collection.Record {
	rec := collection.Record{
		collection.FieldScope: b.seller.CommunityID,
		"user_id":             b.seller.ID,
		"user_name":           b.seller.Name,
		"type":                nc.Type,
		"title":               core.CleanString(nc.Title),
		"description":         core.CleanString(nc.Description),
		"price":               nc.Price,
	}
	if nc.Image != "" {
		rec["image"] = nc.Image
	}
	return rec
}

// Publish shows the ad at the top of the board and saves it.
func (b *Board) Publish(ctx context.Context, nc NewClassified) (Classified, error) {
	rec, err := b.flow.Insert(ctx, "", nc)
	if rec == nil {
		return Classified{}, err
	}
	c, decErr := ClassifiedFromRecord(rec)
	if decErr != nil {
		return Classified{}, decErr
	}
	return c, err
}

// Retry republishes an ad that failed to save.
func (b *Board) Retry(ctx context.Context, tempID string) (Classified, error) {
	rec, err := b.flow.Retry(ctx, tempID)
	if rec == nil {
		return Classified{}, err
	}
	c, decErr := ClassifiedFromRecord(rec)
	if decErr != nil {
		return Classified{}, decErr
	}
	return c, err
}

// Remove deletes an ad of the seller. Admins may remove any ad.
func (b *Board) Remove(ctx context.Context, id string) error {
	rec, ok := b.snap.Get(id)
	if !ok {
		return collection.ErrNotFound
	}
	if rec.Text("user_id") != b.seller.ID && !b.seller.Admin {
		return ErrNotOwner
	}
	if optimistic.IsTempID(id) {
		// never reached the row store
		b.snap.Update(func(recs []collection.Record) []collection.Record { return without(recs, id) })
		return nil
	}
	if err := b.rows.Delete(ctx, ClassifiedsCollection, id); err != nil {
		return errors.Wrap(err, "deleting classified")
	}
	b.snap.Update(func(recs []collection.Record) []collection.Record { return without(recs, id) })
	return nil
}

func without(recs []collection.Record, id string) []collection.Record {
	out := recs[:0]
	for _, r := range recs {
		if r.ID() != id {
			out = append(out, r)
		}
	}
	return out
}

// Ads returns the visible ads, optionally of a single type.
func (b *Board) Ads(typ string) []Classified {
	recs := b.view.Records()
	out := make([]Classified, 0, len(recs))
	for _, rec := range recs {
		c, err := ClassifiedFromRecord(rec)
		if err == nil && (typ == "" || c.Type == typ) {
			out = append(out, c)
		}
	}
	return out
}

func (b *Board) Changes() <-chan struct{}       { return b.snap.Changes() }
func (b *Board) Wait(ctx context.Context) error { return b.snap.Wait(ctx) }

func (b *Board) Close() error {
	b.flow.Stop()
	return b.snap.Close()
}
