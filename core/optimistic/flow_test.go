package optimistic

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/monquartier/monquartier/core"
	"github.com/monquartier/monquartier/core/collection"
)

type emptyRows struct{}

func (emptyRows) Query(context.Context, collection.Query) ([]collection.Record, error) {
	return nil, nil
}
func (emptyRows) Insert(context.Context, string, collection.Record) (collection.Record, error) {
	return nil, nil
}
func (emptyRows) Update(context.Context, string, string, collection.Record) (collection.Record, error) {
	return nil, nil
}
func (emptyRows) Delete(context.Context, string, string) error { return nil }
func (emptyRows) Upsert(context.Context, string, collection.Record, ...string) (collection.Record, error) {
	return nil, nil
}

type stream struct {
	mu sync.Mutex
	fn func(collection.ChangeEvent)
}

func (s *stream) Subscribe(_ context.Context, _ string, fn func(collection.ChangeEvent)) (collection.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fn = fn
	return s, nil
}

func (s *stream) Unsubscribe() error { return nil }

func (s *stream) emit(ev collection.ChangeEvent) {
	s.mu.Lock()
	fn := s.fn
	s.mu.Unlock()
	fn(ev)
}

func newSnapshot(t *testing.T) (*collection.Snapshot, *stream) {
	t.Helper()
	st := &stream{}
	store := collection.NewStore(emptyRows{}, collection.WithChangeStream(st))
	snap, err := store.Open(context.Background(), collection.Options{Collection: "messages"})
	require.NoError(t, err)
	require.NoError(t, snap.Wait(context.Background()))
	t.Cleanup(func() { _ = snap.Close() })
	return snap, st
}

type message struct {
	Content string
}

func encodeMessage(m message) collection.Record {
	return collection.Record{"content": m.Content}
}

func validateMessage(m message) error {
	if m.Content == "" {
		return errors.New("message vide")
	}
	return nil
}

func TestFlow_Insert(t *testing.T) {
	snap, st := newSnapshot(t)

	var written collection.Record
	var duringWrite []collection.Record
	flow := New(snap, Config[message]{
		Origin:   "user-1",
		Encode:   encodeMessage,
		Validate: validateMessage,
		Write: func(_ context.Context, payload collection.Record) (collection.Record, error) {
			written = payload
			duringWrite = snap.Records()
			return payload.With("id", "srv-1"), nil
		},
	})

	saved, err := flow.Insert(context.Background(), "", message{Content: "salut"})
	require.NoError(t, err)

	require.Len(t, duringWrite, 1)
	assert.Equal(t, Pending, StatusOf(duringWrite[0]))
	assert.True(t, IsTempID(duringWrite[0].ID()))

	assert.NotContains(t, written, collection.FieldStatus)
	assert.NotContains(t, written, collection.FieldID)
	assert.Equal(t, "user-1", written.Origin())
	assert.Equal(t, duringWrite[0].ID(), written.ClientRef())

	assert.Equal(t, "srv-1", saved.ID())
	assert.Equal(t, Confirmed, StatusOf(saved))

	// the echo of our own insert is dropped
	st.emit(collection.NewEvent(collection.Inserted, "messages", written.With("id", "srv-1")))

	recs := snap.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, "srv-1", recs[0].ID())
	assert.Equal(t, "salut", recs[0].Text("content"))
	assert.Equal(t, Confirmed, StatusOf(recs[0]))
}

func TestFlow_Insert_echoBeforeConfirmation(t *testing.T) {
	snap, st := newSnapshot(t)

	flow := New(snap, Config[message]{
		Origin: "user-1",
		Encode: encodeMessage,
		Write: func(_ context.Context, payload collection.Record) (collection.Record, error) {
			saved := payload.With("id", "srv-1")
			st.emit(collection.NewEvent(collection.Inserted, "messages", saved))
			return saved, nil
		},
	})

	_, err := flow.Insert(context.Background(), "", message{Content: "salut"})
	require.NoError(t, err)

	recs := snap.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, "srv-1", recs[0].ID())
	assert.Equal(t, Confirmed, StatusOf(recs[0]))
}

func TestFlow_Insert_othersInsertsApplied(t *testing.T) {
	snap, st := newSnapshot(t)
	New(snap, Config[message]{Origin: "user-1", Encode: encodeMessage})

	st.emit(collection.NewEvent(collection.Inserted, "messages", collection.Record{"id": "srv-9", "origin": "user-2", "client_ref": "temp-x"}))
	assert.Len(t, snap.Records(), 1)
}

func TestFlow_Insert_validation(t *testing.T) {
	snap, _ := newSnapshot(t)

	var calls int
	flow := New(snap, Config[message]{
		Encode:   encodeMessage,
		Validate: validateMessage,
		Write: func(context.Context, collection.Record) (collection.Record, error) {
			calls++
			return nil, nil
		},
	})

	_, err := flow.Insert(context.Background(), "", message{})
	var vErr *core.ValidationError
	require.True(t, errors.As(err, &vErr), "Insert() error = %v, want a ValidationError", err)
	assert.Equal(t, 0, calls)
	assert.Empty(t, snap.Records())
}

func TestFlow_Insert_failureAndRetry(t *testing.T) {
	snap, _ := newSnapshot(t)

	writeErr := core.NewTransportError("insert", errors.New("connection refused"))
	fail := true
	flow := New(snap, Config[message]{
		Encode: encodeMessage,
		Write: func(_ context.Context, payload collection.Record) (collection.Record, error) {
			if fail {
				return nil, writeErr
			}
			return payload.With("id", "srv-1"), nil
		},
	})

	failed, err := flow.Insert(context.Background(), "", message{Content: "salut"})
	require.Equal(t, writeErr, err)
	assert.Equal(t, Failed, StatusOf(failed))

	recs := snap.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, Failed, StatusOf(recs[0]))
	tempID := recs[0].ID()

	_, err = flow.Retry(context.Background(), "temp-unknown")
	assert.Equal(t, ErrNotRetryable, err)

	fail = false
	saved, err := flow.Retry(context.Background(), tempID)
	require.NoError(t, err)
	assert.Equal(t, "srv-1", saved.ID())

	recs = snap.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, "srv-1", recs[0].ID())
	assert.Equal(t, Confirmed, StatusOf(recs[0]))

	_, err = flow.Retry(context.Background(), tempID)
	assert.Equal(t, ErrNotRetryable, err)
}

func TestFlow_Insert_answerLostAfterEcho(t *testing.T) {
	snap, st := newSnapshot(t)

	writes := 0
	flow := New(snap, Config[message]{
		Origin: "user-1",
		Encode: encodeMessage,
		Write: func(_ context.Context, payload collection.Record) (collection.Record, error) {
			writes++
			st.emit(collection.NewEvent(collection.Inserted, "messages", payload.With("id", "srv-1")))
			return nil, core.NewTransportError("insert", errors.New("connection reset"))
		},
	})

	saved, err := flow.Insert(context.Background(), "", message{Content: "salut"})
	require.NoError(t, err)
	assert.Equal(t, "srv-1", saved.ID())
	assert.Equal(t, Confirmed, StatusOf(saved))

	recs := snap.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, "srv-1", recs[0].ID())
	assert.Equal(t, Confirmed, StatusOf(recs[0]))

	_, err = flow.Retry(context.Background(), saved.ClientRef())
	assert.Equal(t, ErrNotRetryable, err)
	assert.Equal(t, 1, writes)
}

func TestFlow_Retry_echoAfterFailure(t *testing.T) {
	snap, st := newSnapshot(t)

	writes := 0
	flow := New(snap, Config[message]{
		Origin: "user-1",
		Encode: encodeMessage,
		Write: func(context.Context, collection.Record) (collection.Record, error) {
			writes++
			return nil, core.NewTransportError("insert", errors.New("timeout"))
		},
	})

	failed, err := flow.Insert(context.Background(), "", message{Content: "salut"})
	require.Error(t, err)
	tempID := failed.ID()

	// the write did land, its echo shows up late
	st.emit(collection.NewEvent(collection.Inserted, "messages", collection.Record{
		"id": "srv-1", "client_ref": tempID, "origin": "user-1", "content": "salut",
	}))
	recs := snap.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, "srv-1", recs[0].ID())
	assert.Equal(t, Failed, StatusOf(recs[0]))

	saved, err := flow.Retry(context.Background(), tempID)
	require.NoError(t, err)
	assert.Equal(t, "srv-1", saved.ID())
	assert.Equal(t, 1, writes)

	recs = snap.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, Confirmed, StatusOf(recs[0]))
}

func TestFlow_awaitedEchoesForgotten(t *testing.T) {
	snap, _ := newSnapshot(t)

	start := time.Now()
	now = func() time.Time { return start }
	defer func() { now = time.Now }()

	n := 0
	flow := New(snap, Config[message]{
		Origin: "user-1",
		Encode: encodeMessage,
		Write: func(_ context.Context, payload collection.Record) (collection.Record, error) {
			n++
			return payload.With("id", "srv-"+string(rune('0'+n))), nil
		},
	})
	awaited := func() int {
		flow.mu.Lock()
		defer flow.mu.Unlock()
		return len(flow.confirmed)
	}

	for i := 0; i < 3; i++ {
		_, err := flow.Insert(context.Background(), "", message{Content: "salut"})
		require.NoError(t, err)
	}
	assert.Equal(t, 3, awaited())

	now = func() time.Time { return start.Add(echoWindow + time.Second) }
	_, err := flow.Insert(context.Background(), "", message{Content: "encore"})
	require.NoError(t, err)
	assert.Equal(t, 1, awaited())

	flow.Stop()
	assert.Equal(t, 0, awaited())
}

func TestFlow_Insert_inFlight(t *testing.T) {
	snap, _ := newSnapshot(t)

	started := make(chan struct{})
	release := make(chan struct{})
	flow := New(snap, Config[message]{
		Encode: encodeMessage,
		Write: func(_ context.Context, payload collection.Record) (collection.Record, error) {
			close(started)
			<-release
			return payload.With("id", "srv-1"), nil
		},
	})

	done := make(chan error)
	go func() {
		_, err := flow.Insert(context.Background(), "job-1", message{Content: "postuler"})
		done <- err
	}()
	<-started

	assert.True(t, flow.InFlight("job-1"))
	_, err := flow.Insert(context.Background(), "job-1", message{Content: "postuler"})
	assert.Equal(t, ErrInFlight, err)

	close(release)
	require.NoError(t, <-done)
	assert.False(t, flow.InFlight("job-1"))
	assert.Len(t, snap.Records(), 1)
}

func TestFlow_Insert_placement(t *testing.T) {
	tests := []struct {
		name      string
		placement Placement
		want      []string
	}{
		{name: "prepend", placement: Prepend, want: []string{"srv-new", "old"}},
		{name: "append", placement: Append, want: []string{"old", "srv-new"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, _ := newSnapshot(t)
			snap.Replace([]collection.Record{{"id": "old"}})

			flow := New(snap, Config[message]{
				Encode:    encodeMessage,
				Placement: tt.placement,
				Write: func(_ context.Context, payload collection.Record) (collection.Record, error) {
					return payload.With("id", "srv-new"), nil
				},
			})
			_, err := flow.Insert(context.Background(), "", message{Content: "x"})
			require.NoError(t, err)

			var got []string
			for _, r := range snap.Records() {
				got = append(got, r.ID())
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFlow_readStatus(t *testing.T) {
	snap, _ := newSnapshot(t)

	flow := New(snap, Config[message]{
		Encode:    encodeMessage,
		ReadAfter: 5 * time.Millisecond,
		Write: func(_ context.Context, payload collection.Record) (collection.Record, error) {
			return payload.With("id", "srv-1"), nil
		},
	})
	defer flow.Stop()

	_, err := flow.Insert(context.Background(), "", message{Content: "lu ?"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		rec, ok := snap.Get("srv-1")
		return ok && StatusOf(rec) == Read
	}, time.Second, time.Millisecond)
}

func TestPatcher_Patch(t *testing.T) {
	writeErr := errors.New("network down")

	tests := []struct {
		name      string
		writeErr  error
		wantCount int
	}{
		{name: "success keeps the increment", wantCount: 4},
		{name: "failure reverts", writeErr: writeErr, wantCount: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, _ := newSnapshot(t)
			snap.Replace([]collection.Record{{"id": "p1", "votes_for": 3}})

			var duringWrite int
			patcher := NewPatcher(snap)
			err := patcher.Patch(context.Background(), PatchOp{
				Key:    "p1",
				ID:     "p1",
				Apply:  Increment("votes_for", 1),
				Revert: Increment("votes_for", -1),
				Write: func(context.Context) error {
					rec, _ := snap.Get("p1")
					duringWrite = rec.Int("votes_for")
					return tt.writeErr
				},
			})
			assert.Equal(t, tt.writeErr, err)
			assert.Equal(t, 4, duringWrite)

			rec, ok := snap.Get("p1")
			require.True(t, ok)
			assert.Equal(t, tt.wantCount, rec.Int("votes_for"))
		})
	}
}

func TestPatcher_Patch_invalid(t *testing.T) {
	snap, _ := newSnapshot(t)
	err := NewPatcher(snap).Patch(context.Background(), PatchOp{ID: "p1"})
	var vErr *core.ValidationError
	assert.True(t, errors.As(err, &vErr), "Patch() error = %v, want a ValidationError", err)
}

func TestGuard(t *testing.T) {
	g := NewGuard()
	assert.True(t, g.Acquire("a"))
	assert.False(t, g.Acquire("a"))
	assert.True(t, g.Acquire("b"))
	assert.True(t, g.Busy("a"))
	g.Release("a")
	assert.False(t, g.Busy("a"))
	assert.True(t, g.Acquire("a"))
}
