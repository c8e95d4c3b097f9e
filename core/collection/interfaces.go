package collection

import (
	"context"
	"errors"

	"github.com/monquartier/monquartier/core"
)

var (
	// errors
	ErrNotFound           = errors.New("record not found")
	ErrConflict           = errors.New("duplicate key value violates unique constraint")
	ErrCollectionNotFound = errors.New("collection does not exist")
)

type (
	// Filter is an equality filter on a record field.
	Filter struct {
		Field string
		Value string
	}

	Query struct {
		Collection string
		Filters    []Filter
		Order      []core.DBOrdering
	}

	// RowStore is the relational row store holding the collections.
	RowStore interface {
		Query(ctx context.Context, q Query) ([]Record, error)
		Insert(ctx context.Context, coll string, payload Record) (Record, error)
		Update(ctx context.Context, coll, id string, patch Record) (Record, error)
		Delete(ctx context.Context, coll, id string) error
		// Upsert inserts payload, or updates the record having the same values for the conflict fields.
		Upsert(ctx context.Context, coll string, payload Record, conflict ...string) (Record, error)
	}

	// Subscription is the handle returned by ChangeStream.Subscribe.
	Subscription interface {
		Unsubscribe() error
	}

	// ChangeStream pushes the row changes of a collection.
	// Delivery is at-least-once with no ordering guarantee across collections.
	ChangeStream interface {
		Subscribe(ctx context.Context, coll string, fn func(ChangeEvent)) (Subscription, error)
	}

	// Publisher receives the changes applied to a RowStore, e.g. to feed a ChangeStream.
	Publisher interface {
		Publish(ev ChangeEvent)
	}

	// Connectivity tells whether the client currently has network access.
	Connectivity interface {
		Online() bool
	}
)

// NewQuery returns a Query on coll, scoped when scope is not empty and sorted by sortField descending when given.
func NewQuery(coll, scope, sortField string) Query {
	q := Query{Collection: coll}
	if scope != "" {
		q.Filters = append(q.Filters, Filter{Field: FieldScope, Value: scope})
	}
	if sortField != "" {
		q.Order = append(q.Order, core.DBOrdering{Field: sortField})
	}
	return q
}

// Where returns a copy of q with an extra equality filter.
func (q Query) Where(field, value string) Query {
	filters := make([]Filter, len(q.Filters), len(q.Filters)+1)
	copy(filters, q.Filters)
	q.Filters = append(filters, Filter{Field: field, Value: value})
	return q
}

// OrderBy returns a copy of q with an extra ordering.
func (q Query) OrderBy(field string, ascending bool) Query {
	order := make([]core.DBOrdering, len(q.Order), len(q.Order)+1)
	copy(order, q.Order)
	q.Order = append(order, core.DBOrdering{Field: field, Ascending: ascending})
	return q
}

// Matches reports whether rec satisfies every filter of q.
func (q Query) Matches(rec Record) bool {
	for _, f := range q.Filters {
		if rec.Text(f.Field) != f.Value {
			return false
		}
	}
	return true
}

// AlwaysOnline is the Connectivity of clients without offline detection.
type AlwaysOnline struct{}

func (AlwaysOnline) Online() bool { return true }
