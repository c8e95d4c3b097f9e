package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/monquartier/monquartier/core"
	"github.com/monquartier/monquartier/core/backend"
	"github.com/monquartier/monquartier/core/collection"
)

const (
	// the API pings every 54s
	pongWait  = 60 * time.Second
	writeWait = 10 * time.Second
)

var (
	reconnectMinDelay = time.Second
	reconnectMaxDelay = 30 * time.Second
)

type changeStream struct {
	c *Client
}

var _ collection.ChangeStream = (*changeStream)(nil)

func (c *Client) Changes() collection.ChangeStream { return &changeStream{c: c} }

type subscription struct {
	stream *changeStream
	coll   string
	fn     func(collection.ChangeEvent)
	cancel context.CancelFunc

	mu     sync.Mutex
	ws     *websocket.Conn
	closed bool
}

// Subscribe opens the realtime websocket of coll. The first connection is made before returning,
// later ones are retried with a growing delay until ctx is done or the subscription is cancelled.
// Changes made while reconnecting are not replayed.
func (s *changeStream) Subscribe(ctx context.Context, coll string, fn func(collection.ChangeEvent)) (collection.Subscription, error) {
	ws, err := s.dial(ctx, coll)
	if err != nil {
		return nil, err
	}
	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{stream: s, coll: coll, fn: fn, cancel: cancel, ws: ws}
	go sub.run(subCtx)
	go func() {
		<-subCtx.Done()
		_ = sub.Unsubscribe()
	}()
	return sub, nil
}

func (s *changeStream) dial(ctx context.Context, coll string) (*websocket.Conn, error) {
	sess, ok := s.c.auth.Session()
	if !ok {
		return nil, backend.ErrNotSignedIn
	}
	scheme := "ws"
	if s.c.baseURL.Scheme == "https" {
		scheme = "wss"
	}
	endpoint := s.c.endpoint(scheme, "/v1/realtime", url.Values{"collection": {coll}, "token": {sess.Token}})

	ws, resp, err := s.c.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			switch resp.StatusCode {
			case http.StatusUnauthorized:
				return nil, backend.ErrNotSignedIn
			case http.StatusNotFound:
				return nil, collection.ErrCollectionNotFound
			}
			return nil, &StatusError{Code: resp.StatusCode, Message: fmt.Sprintf("subscribing to %s: %s", coll, resp.Status)}
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		s.c.setOnline(false)
		return nil, core.NewTransportError("subscribe "+coll, err)
	}
	s.c.setOnline(true)

	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPingHandler(func(data string) error {
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		err := ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})
	return ws, nil
}

func (sub *subscription) run(ctx context.Context) {
	delay := reconnectMinDelay
	for {
		ws := sub.conn()
		if ws == nil {
			return
		}
		if sub.read(ws) {
			delay = reconnectMinDelay
		}
		if sub.isClosed() {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			if delay *= 2; delay > reconnectMaxDelay {
				delay = reconnectMaxDelay
			}

			ws, err := sub.stream.dial(ctx, sub.coll)
			if err == nil {
				if !sub.setConn(ws) {
					_ = ws.Close()
					return
				}
				break
			}
			if cause := errors.Cause(err); cause == backend.ErrNotSignedIn || cause == collection.ErrCollectionNotFound {
				sub.stream.c.logger.Warn(fmt.Sprintf("realtime %s stopped: %v", sub.coll, err))
				_ = sub.Unsubscribe()
				return
			}
			sub.stream.c.logger.Debug(fmt.Sprintf("realtime %s: reconnecting: %v", sub.coll, err))
		}
	}
}

// read delivers the events of ws until it fails. It reports whether any event came through.
func (sub *subscription) read(ws *websocket.Conn) bool {
	received := false
	for {
		var ev collection.ChangeEvent
		if err := ws.ReadJSON(&ev); err != nil {
			if !sub.isClosed() {
				_ = ws.Close()
				sub.stream.c.logger.Debug(fmt.Sprintf("realtime %s: connection lost: %v", sub.coll, err))
			}
			return received
		}
		received = true
		if ev.Collection == "" {
			ev.Collection = sub.coll
		}
		if !sub.isClosed() {
			sub.fn(ev)
		}
	}
}

func (sub *subscription) conn() *websocket.Conn {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return nil
	}
	return sub.ws
}

func (sub *subscription) setConn(ws *websocket.Conn) bool {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return false
	}
	sub.ws = ws
	return true
}

func (sub *subscription) isClosed() bool {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.closed
}

func (sub *subscription) Unsubscribe() error {
	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return nil
	}
	sub.closed = true
	ws := sub.ws
	sub.mu.Unlock()

	sub.cancel()
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	// the read loop may have closed it first
	_ = ws.Close()
	return nil
}
