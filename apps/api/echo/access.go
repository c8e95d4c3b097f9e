package echoapi

import (
	"context"

	"github.com/pkg/errors"

	"github.com/monquartier/monquartier/core/chat"
	"github.com/monquartier/monquartier/core/collection"
	"github.com/monquartier/monquartier/core/visibility"
	"github.com/monquartier/monquartier/storage/database"
)

// recordAccess guards the collections whose records belong to a parent record
// (messages of a channel, votes of a proposal, applications to a job).
type recordAccess struct {
	rows collection.RowStore
}

func actorOf(claims Claims) visibility.Actor {
	return visibility.Actor{ID: claims.Subject, CommunityID: claims.CommunityID, Global: claims.IsGod()}
}

// parent returns the parent record parentID of schema when claims may reach it, nil otherwise.
// With write set, the caller must also be allowed to add records to it.
func (a recordAccess) parent(ctx context.Context, schema database.Schema, claims Claims, parentID string, write bool) (collection.Record, error) {
	if parentID == "" {
		return nil, nil
	}
	q := collection.Query{Collection: schema.Parent.Collection}.Where(collection.FieldID, parentID)
	recs, err := a.rows.Query(ctx, q)
	if err != nil {
		return nil, errors.Wrap(err, "getting parent record")
	}
	if len(recs) == 0 {
		return nil, nil
	}
	rec := recs[0]
	if claims.IsGod() {
		return rec, nil
	}
	if rec.Scope() != claims.CommunityID {
		return nil, nil
	}
	if schema.Parent.Collection != database.Channels {
		return rec, nil
	}

	if !visibility.ChannelVisible(actorOf(claims), rec) {
		return nil, nil
	}
	ch, err := chat.ChannelFromRecord(rec)
	if err != nil {
		return nil, err
	}
	if ch.NeedsPassword(claims.Subject) || (write && !ch.Writable(claims.Subject)) {
		return nil, nil
	}
	return rec, nil
}

// visible reports whether claims may see rec, a record of schema.
func (a recordAccess) visible(ctx context.Context, schema database.Schema, claims Claims, rec collection.Record) (bool, error) {
	if claims.IsGod() {
		return true, nil
	}
	if schema.Scoped && rec.Scope() != claims.CommunityID {
		return false, nil
	}
	if schema.Parent == nil {
		return true, nil
	}
	parent, err := a.parent(ctx, schema, claims, rec.Text(schema.Parent.Key), false)
	return parent != nil, err
}

// mayChange reports whether claims may update or delete rec, a record claims can see.
// Authored records are changed by their author, or moderated by the admins of the community.
func mayChange(schema database.Schema, claims Claims, rec collection.Record) bool {
	if schema.Owner == "" || claims.IsAdmin() {
		return true
	}
	return rec.Text(schema.Owner) == claims.Subject
}
