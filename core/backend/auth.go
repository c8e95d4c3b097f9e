package backend

import (
	"context"
	"sync"
)

// SessionHolder keeps the current session and notifies the listeners of its changes.
// Auth implementations embed it.
type SessionHolder struct {
	mu        sync.Mutex
	sess      Session
	signedIn  bool
	nextID    int
	listeners map[int]func(Session, bool)
}

func (h *SessionHolder) Session() (Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sess, h.signedIn
}

func (h *SessionHolder) OnSessionChange(fn func(sess Session, signedIn bool)) (cancel func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listeners == nil {
		h.listeners = make(map[int]func(Session, bool))
	}
	id := h.nextID
	h.nextID++
	h.listeners[id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.listeners, id)
	}
}

// SetSession records sess as the current session, or signs out when signedIn is false.
func (h *SessionHolder) SetSession(sess Session, signedIn bool) {
	h.mu.Lock()
	if !signedIn {
		sess = Session{}
	}
	h.sess, h.signedIn = sess, signedIn
	fns := make([]func(Session, bool), 0, len(h.listeners))
	for _, fn := range h.listeners {
		fns = append(fns, fn)
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(sess, signedIn)
	}
}

// StaticAuth signs in through a function, e.g. a direct call to the user service.
type StaticAuth struct {
	SessionHolder
	signIn func(ctx context.Context, email, password string) (Session, error)
}

func NewStaticAuth(signIn func(ctx context.Context, email, password string) (Session, error)) *StaticAuth {
	return &StaticAuth{signIn: signIn}
}

func (a *StaticAuth) SignIn(ctx context.Context, email, password string) (Session, error) {
	sess, err := a.signIn(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	a.SetSession(sess, true)
	return sess, nil
}

func (a *StaticAuth) SignOut(context.Context) error {
	a.SetSession(Session{}, false)
	return nil
}
