// Package sqlstore keeps the users and records in a SQL database (postgres or sqlite) through sqlx.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/monquartier/monquartier/core/collection"
	"github.com/monquartier/monquartier/storage/database"
)

// NotifyChannel is the postgres channel record changes are announced on.
const NotifyChannel = "record_changes"

var fieldRegex = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// NewDB wraps db for the given engine.
func NewDB(db *sql.DB, engine string) *sqlx.DB {
	if engine == database.SQLite {
		return sqlx.NewDb(db, "sqlite3") // sqlx binds "?" for this name
	}
	return sqlx.NewDb(db, engine)
}

func isPostgres(db *sqlx.DB) bool { return db.DriverName() == database.Postgres }

// isUniqueViolation reports whether err is a unique constraint violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

type (
	rowStore struct {
		db  *sqlx.DB
		pub collection.Publisher
	}

	recordRow struct {
		ID          string         `db:"id"`
		CommunityID string         `db:"community_id"`
		Data        types.JSONText `db:"data"`
	}

	// notification is the payload of a NOTIFY on NotifyChannel.
	notification struct {
		Type       collection.EventType `json:"type"`
		Collection string               `json:"collection"`
		Scope      string               `json:"scope,omitempty"`
		ID         string               `json:"id"`
	}
)

// NewRowStore returns a RowStore on db.
// On sqlite, changes are published to pub; on postgres they are announced with NOTIFY and published by a Listener.
func NewRowStore(db *sqlx.DB, pub collection.Publisher) collection.RowStore {
	return &rowStore{db: db, pub: pub}
}

func (row recordRow) record() (collection.Record, error) {
	rec := make(collection.Record)
	if err := json.Unmarshal(row.Data, &rec); err != nil {
		return nil, errors.Wrap(err, "decoding record")
	}
	rec[collection.FieldID] = row.ID
	return rec, nil
}

// fieldExpr returns the SQL expression of a record field, as text when asText.
func (store *rowStore) fieldExpr(field string, asText bool) (string, error) {
	switch field {
	case collection.FieldID, collection.FieldScope:
		if isPostgres(store.db) && field == collection.FieldID {
			return "id::text", nil
		}
		return field, nil
	}
	if !fieldRegex.MatchString(field) {
		return "", errors.Errorf("invalid field name %q", field)
	}
	if isPostgres(store.db) {
		if asText {
			return fmt.Sprintf("data->>'%s'", field), nil
		}
		return fmt.Sprintf("data->'%s'", field), nil
	}
	if asText {
		return fmt.Sprintf(
			"CASE json_type(data, '$.%[1]s') WHEN 'true' THEN 'true' WHEN 'false' THEN 'false' ELSE CAST(json_extract(data, '$.%[1]s') AS TEXT) END",
			field,
		), nil
	}
	return fmt.Sprintf("json_extract(data, '$.%s')", field), nil
}

func checkCollection(coll string) (database.Schema, error) {
	schema, ok := database.LookupSchema(coll)
	if !ok {
		return database.Schema{}, collection.ErrCollectionNotFound
	}
	return schema, nil
}

// where builds the conditions selecting the records of coll matching every filter.
func (store *rowStore) where(coll string, filters []collection.Filter) (string, []interface{}, error) {
	conds := []string{"collection = ?"}
	args := []interface{}{coll}
	for _, f := range filters {
		expr, err := store.fieldExpr(f.Field, true)
		if err != nil {
			return "", nil, err
		}
		conds = append(conds, expr+" = ?")
		args = append(args, f.Value)
	}
	return strings.Join(conds, " AND "), args, nil
}

func (store *rowStore) Query(ctx context.Context, q collection.Query) ([]collection.Record, error) {
	if _, err := checkCollection(q.Collection); err != nil {
		return nil, err
	}
	where, args, err := store.where(q.Collection, q.Filters)
	if err != nil {
		return nil, err
	}

	orders := make([]string, 0, len(q.Order)+1)
	for _, ord := range q.Order {
		expr, err := store.fieldExpr(ord.Field, false)
		if err != nil {
			return nil, err
		}
		dir := "DESC"
		if ord.Ascending {
			dir = "ASC"
		}
		orders = append(orders, expr+" "+dir)
	}
	orders = append(orders, "created_at ASC")

	query := store.db.Rebind(fmt.Sprintf(
		"SELECT id, community_id, data FROM records WHERE %s ORDER BY %s", where, strings.Join(orders, ", "),
	))
	var rows []recordRow
	if err = store.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "selecting records")
	}

	recs := make([]collection.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.record()
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func (store *rowStore) Insert(ctx context.Context, coll string, payload collection.Record) (collection.Record, error) {
	if _, err := checkCollection(coll); err != nil {
		return nil, err
	}
	var rec collection.Record
	err := store.inTx(ctx, func(tx *sqlx.Tx) (err error) {
		rec, err = store.insert(ctx, tx, coll, payload)
		return err
	})
	if err != nil {
		return nil, err
	}
	store.publish(collection.NewEvent(collection.Inserted, coll, rec))
	return rec, nil
}

func (store *rowStore) insert(ctx context.Context, tx *sqlx.Tx, coll string, payload collection.Record) (collection.Record, error) {
	rec := payload.Payload()
	if rec.ID() == "" {
		rec[collection.FieldID] = uuid.New().String()
	}
	now := time.Now().UTC()
	if rec.Text(collection.FieldCreatedAt) == "" {
		rec[collection.FieldCreatedAt] = collection.FormatTime(now)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, errors.Wrap(err, "encoding record")
	}

	q := tx.Rebind(`INSERT INTO records (id, collection, community_id, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if _, err = tx.ExecContext(ctx, q, rec.ID(), coll, rec.Scope(), string(data), now, now); err != nil {
		if isUniqueViolation(err) {
			return nil, collection.ErrConflict
		}
		return nil, errors.Wrap(err, "inserting record")
	}
	return rec, store.notify(ctx, tx, collection.NewEvent(collection.Inserted, coll, rec))
}

func (store *rowStore) Update(ctx context.Context, coll, id string, patch collection.Record) (collection.Record, error) {
	if _, err := checkCollection(coll); err != nil {
		return nil, err
	}
	var rec collection.Record
	err := store.inTx(ctx, func(tx *sqlx.Tx) (err error) {
		rec, err = store.update(ctx, tx, coll, id, patch)
		return err
	})
	if err != nil {
		return nil, err
	}
	store.publish(collection.NewEvent(collection.Updated, coll, rec))
	return rec, nil
}

func (store *rowStore) get(ctx context.Context, tx *sqlx.Tx, coll, id string) (collection.Record, error) {
	q := "SELECT id, community_id, data FROM records WHERE collection = ? AND id = ?"
	if isPostgres(store.db) {
		if _, err := uuid.Parse(id); err != nil {
			return nil, collection.ErrNotFound
		}
		q += " FOR UPDATE"
	}
	var row recordRow
	if err := tx.GetContext(ctx, &row, tx.Rebind(q), coll, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, collection.ErrNotFound
		}
		return nil, errors.Wrap(err, "selecting record")
	}
	return row.record()
}

func (store *rowStore) update(ctx context.Context, tx *sqlx.Tx, coll, id string, patch collection.Record) (collection.Record, error) {
	current, err := store.get(ctx, tx, coll, id)
	if err != nil {
		return nil, err
	}
	rec := current.Merge(patch.Payload())
	rec[collection.FieldID] = id
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, errors.Wrap(err, "encoding record")
	}

	q := tx.Rebind("UPDATE records SET community_id = ?, data = ?, updated_at = ? WHERE collection = ? AND id = ?")
	if _, err = tx.ExecContext(ctx, q, rec.Scope(), string(data), time.Now().UTC(), coll, id); err != nil {
		if isUniqueViolation(err) {
			return nil, collection.ErrConflict
		}
		return nil, errors.Wrap(err, "updating record")
	}
	return rec, store.notify(ctx, tx, collection.NewEvent(collection.Updated, coll, rec))
}

func (store *rowStore) Delete(ctx context.Context, coll, id string) error {
	if _, err := checkCollection(coll); err != nil {
		return err
	}
	var ev collection.ChangeEvent
	err := store.inTx(ctx, func(tx *sqlx.Tx) error {
		current, err := store.get(ctx, tx, coll, id)
		if err != nil {
			return err
		}
		q := tx.Rebind("DELETE FROM records WHERE collection = ? AND id = ?")
		if _, err = tx.ExecContext(ctx, q, coll, id); err != nil {
			return errors.Wrap(err, "deleting record")
		}
		ev = collection.ChangeEvent{Type: collection.Deleted, Collection: coll, Scope: current.Scope(), ID: id}
		return store.notify(ctx, tx, ev)
	})
	if err != nil {
		return err
	}
	store.publish(ev)
	return nil
}

func (store *rowStore) Upsert(ctx context.Context, coll string, payload collection.Record, conflict ...string) (collection.Record, error) {
	if _, err := checkCollection(coll); err != nil {
		return nil, err
	}

	var ev collection.ChangeEvent
	err := store.inTx(ctx, func(tx *sqlx.Tx) error {
		existing := ""
		if len(conflict) > 0 {
			filters := make([]collection.Filter, 0, len(conflict))
			for _, f := range conflict {
				filters = append(filters, collection.Filter{Field: f, Value: payload.Text(f)})
			}
			where, args, err := store.where(coll, filters)
			if err != nil {
				return err
			}
			var ids []string
			if err = tx.SelectContext(ctx, &ids, tx.Rebind("SELECT id FROM records WHERE "+where+" LIMIT 1"), args...); err != nil {
				return errors.Wrap(err, "selecting conflicting record")
			}
			if len(ids) > 0 {
				existing = ids[0]
			}
		}

		if existing != "" {
			patch := payload.Clone()
			delete(patch, collection.FieldID)
			rec, err := store.update(ctx, tx, coll, existing, patch)
			ev = collection.NewEvent(collection.Updated, coll, rec)
			return err
		}
		rec, err := store.insert(ctx, tx, coll, payload)
		ev = collection.NewEvent(collection.Inserted, coll, rec)
		return err
	})
	if err != nil {
		return nil, err
	}
	store.publish(ev)
	return ev.Record, nil
}

func (store *rowStore) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := store.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "committing transaction")
}

// notify announces ev to the other API nodes. The notification is sent on commit.
func (store *rowStore) notify(ctx context.Context, tx *sqlx.Tx, ev collection.ChangeEvent) error {
	if !isPostgres(store.db) {
		return nil
	}
	payload, err := json.Marshal(notification{Type: ev.Type, Collection: ev.Collection, Scope: ev.Scope, ID: ev.ID})
	if err != nil {
		return errors.Wrap(err, "encoding notification")
	}
	if _, err = tx.ExecContext(ctx, "SELECT pg_notify($1, $2)", NotifyChannel, string(payload)); err != nil {
		return errors.Wrap(err, "notifying change")
	}
	return nil
}

func (store *rowStore) publish(ev collection.ChangeEvent) {
	if store.pub != nil && !isPostgres(store.db) {
		store.pub.Publish(ev)
	}
}
