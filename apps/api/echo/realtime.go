package echoapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/monquartier/monquartier/core"
	"github.com/monquartier/monquartier/core/collection"
	"github.com/monquartier/monquartier/services/metrics"
	"github.com/monquartier/monquartier/storage/database"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsSendBuffer = 64

	// how long a connection trusts its last answer on a parent record
	parentCheckTTL = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	// residents connect from the mobile app and the web frontend
	CheckOrigin: func(r *http.Request) bool { return true },
}

type realtimeApi struct {
	changes collection.ChangeStream
	access  recordAccess
	metrics *metrics.Metrics
	logger  core.Logger
}

func registerRealtimeAPI(g *echo.Group, api *realtimeApi) {
	// browsers cannot set headers on the handshake, the token travels in the query
	g.GET("/realtime", api.subscribe)
}

// visibleTo reports whether the change of a scoped collection belongs to the community of claims.
func visibleTo(ev collection.ChangeEvent, schema database.Schema, claims *Claims) bool {
	if !schema.Scoped || claims.IsGod() {
		return true
	}
	scope := ev.Scope
	if scope == "" {
		scope = ev.Record.Scope()
	}
	return scope == "" || scope == claims.CommunityID
}

func (api *realtimeApi) subscribe(ctx echo.Context) error {
	claims, err := parseToken(ctx.QueryParam("token"))
	if err != nil {
		return err
	}
	schema, ok := database.LookupSchema(ctx.QueryParam("collection"))
	if !ok || schema.Hidden {
		return errHttpNotFound
	}

	ws, err := upgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		// the upgrader already replied
		api.logger.Warn("upgrading websocket", errors.Wrap(err, "upgrading websocket"))
		return nil
	}
	defer ws.Close()

	subCtx, cancel := context.WithCancel(ctx.Request().Context())
	defer cancel()

	events := make(chan collection.ChangeEvent, wsSendBuffer)
	sub, err := api.changes.Subscribe(subCtx, schema.Name, func(ev collection.ChangeEvent) {
		if !visibleTo(ev, schema, claims) {
			return
		}
		select {
		case events <- ev:
		case <-subCtx.Done():
		default:
			// slow consumer, it will refetch on reconnect
			cancel()
		}
	})
	if err != nil {
		api.logger.Error("subscribing to changes", errors.Wrap(err, "subscribing to changes"))
		_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, ""))
		return nil
	}
	defer sub.Unsubscribe()
	if api.metrics != nil {
		done := api.metrics.Subscribed(schema.Name)
		defer done()
	}

	filter := &parentFilter{access: api.access, schema: schema, claims: *claims, checked: make(map[string]parentCheck)}
	go api.write(subCtx, cancel, ws, events, filter)
	api.read(ws)
	return nil
}

// write pushes the events to the client and pings it until ctx is done.
func (api *realtimeApi) write(ctx context.Context, cancel context.CancelFunc, ws *websocket.Conn, events <-chan collection.ChangeEvent, filter *parentFilter) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	// unblocks read
	defer ws.Close()
	defer cancel()

	for {
		select {
		case ev := <-events:
			ok, err := filter.allows(ctx, ev)
			if err != nil {
				api.logger.Warn("checking change event access", err)
			}
			if !ok {
				continue
			}
			_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := ws.WriteJSON(ev); err != nil {
				api.logger.Debug("writing change event", err)
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

type parentCheck struct {
	ok bool
	at time.Time
}

// parentFilter drops the changes of records whose parent record the subscriber cannot reach.
// It is owned by the write goroutine of one connection.
type parentFilter struct {
	access  recordAccess
	schema  database.Schema
	claims  Claims
	checked map[string]parentCheck // by parent id
}

func (f *parentFilter) allows(ctx context.Context, ev collection.ChangeEvent) (bool, error) {
	// deletions only carry the id
	if f.schema.Parent == nil || f.claims.IsGod() || ev.Record == nil {
		return true, nil
	}
	parentID := ev.Record.Text(f.schema.Parent.Key)
	if c, ok := f.checked[parentID]; ok && time.Since(c.at) < parentCheckTTL {
		return c.ok, nil
	}
	parent, err := f.access.parent(ctx, f.schema, f.claims, parentID, false)
	if err != nil {
		return false, err
	}
	f.checked[parentID] = parentCheck{ok: parent != nil, at: time.Now()}
	return parent != nil, nil
}

// read discards client messages until the connection is closed.
func (api *realtimeApi) read(ws *websocket.Conn) {
	ws.SetReadLimit(512)
	_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}
