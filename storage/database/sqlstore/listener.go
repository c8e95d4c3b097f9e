package sqlstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/monquartier/monquartier/core"
	"github.com/monquartier/monquartier/core/collection"
)

const (
	listenerMinReconnect = 10 * time.Second
	listenerMaxReconnect = time.Minute
	listenerPingInterval = 90 * time.Second
)

// Listener turns the postgres notifications of the records table into change events.
type Listener struct {
	connStr string
	rows    collection.RowStore
	pub     collection.Publisher
	logger  core.Logger
}

func NewListener(connStr string, rows collection.RowStore, pub collection.Publisher, logger core.Logger) *Listener {
	return &Listener{connStr: connStr, rows: rows, pub: pub, logger: logger}
}

// Run listens until ctx is done.
func (l *Listener) Run(ctx context.Context) error {
	listener := pq.NewListener(l.connStr, listenerMinReconnect, listenerMaxReconnect, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			l.logger.Warn("record changes listener", errors.Wrap(err, "connection event"))
		}
	})
	defer func() { _ = listener.Close() }()

	if err := listener.Listen(NotifyChannel); err != nil {
		return errors.Wrap(err, "listening to "+NotifyChannel)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-listener.Notify:
			if n == nil { // reconnected, changes may have been missed
				continue
			}
			l.dispatch(ctx, n.Extra)
		case <-time.After(listenerPingInterval):
			if err := listener.Ping(); err != nil {
				l.logger.Warn("record changes listener", errors.Wrap(err, "ping"))
			}
		}
	}
}

func (l *Listener) dispatch(ctx context.Context, payload string) {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		l.logger.Error("record changes listener", errors.Wrap(err, "decoding notification"))
		return
	}

	ev := collection.ChangeEvent{Type: n.Type, Collection: n.Collection, Scope: n.Scope, ID: n.ID}
	if n.Type != collection.Deleted {
		recs, err := l.rows.Query(ctx, collection.Query{
			Collection: n.Collection,
			Filters:    []collection.Filter{{Field: collection.FieldID, Value: n.ID}},
		})
		if err != nil {
			l.logger.Error("record changes listener", errors.Wrap(err, "fetching changed record"))
			return
		}
		if len(recs) == 0 { // deleted since
			return
		}
		ev.Record = recs[0]
	}
	l.pub.Publish(ev)
}
