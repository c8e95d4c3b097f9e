package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/monquartier/monquartier/core/collection"
	"github.com/monquartier/monquartier/storage/database"
)

type rowStore struct {
	db  *recordTable
	pub collection.Publisher
}

// NewRowStore returns a RowStore on db. Changes are published to pub when not nil.
func NewRowStore(db *DB, pub collection.Publisher) collection.RowStore {
	return &rowStore{db: db.records, pub: pub}
}

func (store *rowStore) publish(typ collection.EventType, coll string, rec collection.Record) {
	if store.pub != nil {
		store.pub.Publish(collection.NewEvent(typ, coll, rec.Clone()))
	}
}

func checkCollection(coll string) (database.Schema, error) {
	schema, ok := database.LookupSchema(coll)
	if !ok {
		return database.Schema{}, collection.ErrCollectionNotFound
	}
	return schema, nil
}

func (store *rowStore) Query(ctx context.Context, q collection.Query) ([]collection.Record, error) {
	if _, err := checkCollection(q.Collection); err != nil {
		return nil, err
	}
	store.db.mutex.RLock()
	defer store.db.mutex.RUnlock()

	recs := make([]collection.Record, 0)
	for _, rec := range store.db.table[q.Collection] {
		if q.Matches(rec) {
			recs = append(recs, rec.Clone())
		}
	}
	if len(q.Order) > 0 {
		sort.SliceStable(recs, func(i, j int) bool {
			for _, ord := range q.Order {
				c := collection.CompareValues(recs[i][ord.Field], recs[j][ord.Field])
				if c == 0 {
					continue
				}
				if ord.Ascending {
					return c < 0
				}
				return c > 0
			}
			return false
		})
	}
	return recs, nil
}

// conflicts reports whether rec breaks a unique constraint of schema. The record with id self is ignored.
func (store *rowStore) conflicts(schema database.Schema, rec collection.Record, self string) bool {
	for _, fields := range schema.Unique {
		for _, other := range store.db.table[schema.Name] {
			if other.ID() != self && sameValues(other, rec, fields) {
				return true
			}
		}
	}
	return false
}

func sameValues(a, b collection.Record, fields []string) bool {
	for _, f := range fields {
		if a.Text(f) == "" || a.Text(f) != b.Text(f) {
			return false
		}
	}
	return true
}

func (store *rowStore) Insert(ctx context.Context, coll string, payload collection.Record) (collection.Record, error) {
	schema, err := checkCollection(coll)
	if err != nil {
		return nil, err
	}
	store.db.mutex.Lock()
	rec, err := store.insert(schema, payload)
	store.db.mutex.Unlock()
	if err != nil {
		return nil, err
	}
	store.publish(collection.Inserted, coll, rec)
	return rec.Clone(), nil
}

func (store *rowStore) insert(schema database.Schema, payload collection.Record) (collection.Record, error) {
	rec := payload.Payload()
	if rec.ID() == "" {
		rec[collection.FieldID] = uuid.New().String()
	}
	if rec.Text(collection.FieldCreatedAt) == "" {
		rec[collection.FieldCreatedAt] = collection.FormatTime(time.Now())
	}
	for _, other := range store.db.table[schema.Name] {
		if other.ID() == rec.ID() {
			return nil, collection.ErrConflict
		}
	}
	if store.conflicts(schema, rec, rec.ID()) {
		return nil, collection.ErrConflict
	}
	store.db.table[schema.Name] = append(store.db.table[schema.Name], rec)
	return rec, nil
}

func (store *rowStore) Update(ctx context.Context, coll, id string, patch collection.Record) (collection.Record, error) {
	schema, err := checkCollection(coll)
	if err != nil {
		return nil, err
	}
	store.db.mutex.Lock()
	rec, err := store.update(schema, id, patch)
	store.db.mutex.Unlock()
	if err != nil {
		return nil, err
	}
	store.publish(collection.Updated, coll, rec)
	return rec.Clone(), nil
}

func (store *rowStore) update(schema database.Schema, id string, patch collection.Record) (collection.Record, error) {
	recs := store.db.table[schema.Name]
	for i, rec := range recs {
		if rec.ID() != id {
			continue
		}
		updated := rec.Merge(patch.Payload())
		updated[collection.FieldID] = id
		if store.conflicts(schema, updated, id) {
			return nil, collection.ErrConflict
		}
		recs[i] = updated
		return updated, nil
	}
	return nil, collection.ErrNotFound
}

func (store *rowStore) Delete(ctx context.Context, coll, id string) error {
	if _, err := checkCollection(coll); err != nil {
		return err
	}
	store.db.mutex.Lock()
	var deleted collection.Record
	recs := store.db.table[coll]
	for i, rec := range recs {
		if rec.ID() == id {
			deleted = rec
			store.db.table[coll] = append(recs[:i:i], recs[i+1:]...)
			break
		}
	}
	store.db.mutex.Unlock()

	if deleted == nil {
		return collection.ErrNotFound
	}
	if store.pub != nil {
		store.pub.Publish(collection.ChangeEvent{
			Type:       collection.Deleted,
			Collection: coll,
			Scope:      deleted.Scope(),
			ID:         id,
		})
	}
	return nil
}

func (store *rowStore) Upsert(ctx context.Context, coll string, payload collection.Record, conflict ...string) (collection.Record, error) {
	schema, err := checkCollection(coll)
	if err != nil {
		return nil, err
	}

	store.db.mutex.Lock()
	var existing string
	if len(conflict) > 0 {
		for _, rec := range store.db.table[coll] {
			if sameValues(rec, payload, conflict) {
				existing = rec.ID()
				break
			}
		}
	}
	var (
		rec collection.Record
		typ = collection.Inserted
	)
	if existing != "" {
		patch := payload.Clone()
		delete(patch, collection.FieldID)
		rec, err = store.update(schema, existing, patch)
		typ = collection.Updated
	} else {
		rec, err = store.insert(schema, payload)
	}
	store.db.mutex.Unlock()
	if err != nil {
		return nil, err
	}
	store.publish(typ, coll, rec)
	return rec.Clone(), nil
}
