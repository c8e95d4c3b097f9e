package remote

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"

	"github.com/monquartier/monquartier/core/collection"
)

type rowStore struct {
	c *Client
}

var _ collection.RowStore = (*rowStore)(nil)

func (c *Client) Rows() collection.RowStore { return &rowStore{c: c} }

func collectionPath(coll string, parts ...string) string {
	path := "/v1/collections/" + url.PathEscape(coll)
	for _, part := range parts {
		path += "/" + url.PathEscape(part)
	}
	return path
}

// orderParam renders orderings the way the API reads them: "-field" for descending.
func orderParam(q collection.Query) string {
	fields := make([]string, 0, len(q.Order))
	for _, ord := range q.Order {
		if ord.Ascending {
			fields = append(fields, ord.Field)
		} else {
			fields = append(fields, "-"+ord.Field)
		}
	}
	return strings.Join(fields, ",")
}

func (store *rowStore) Query(ctx context.Context, q collection.Query) ([]collection.Record, error) {
	params := url.Values{}
	for _, f := range q.Filters {
		params.Add(f.Field, f.Value)
	}
	if order := orderParam(q); order != "" {
		params.Set("order", order)
	}

	var recs []collection.Record
	if err := store.c.doJSON(ctx, "query "+q.Collection, http.MethodGet, collectionPath(q.Collection), params, nil, &recs); err != nil {
		if errors.Cause(err) == collection.ErrNotFound {
			return nil, collection.ErrCollectionNotFound
		}
		return nil, err
	}
	return recs, nil
}

func (store *rowStore) Insert(ctx context.Context, coll string, payload collection.Record) (collection.Record, error) {
	var rec collection.Record
	err := store.c.doJSON(ctx, "insert "+coll, http.MethodPost, collectionPath(coll), nil, payload.Payload(), &rec)
	return rec, err
}

func (store *rowStore) Update(ctx context.Context, coll, id string, patch collection.Record) (collection.Record, error) {
	var rec collection.Record
	err := store.c.doJSON(ctx, "update "+coll, http.MethodPut, collectionPath(coll, id), nil, patch.Payload(), &rec)
	return rec, err
}

func (store *rowStore) Delete(ctx context.Context, coll, id string) error {
	return store.c.doJSON(ctx, "delete "+coll, http.MethodDelete, collectionPath(coll, id), nil, nil, nil)
}

func (store *rowStore) Upsert(ctx context.Context, coll string, payload collection.Record, conflict ...string) (collection.Record, error) {
	params := url.Values{}
	if len(conflict) > 0 {
		params.Set("on", strings.Join(conflict, ","))
	}
	var rec collection.Record
	err := store.c.doJSON(ctx, "upsert "+coll, http.MethodPost, collectionPath(coll, "upsert"), params, payload.Payload(), &rec)
	return rec, err
}
