package collection

import (
	"context"
	"sync"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/monquartier/monquartier/core"
)

type (
	// Options describes the collection view to open.
	Options struct {
		Collection      string
		Scope           string   // community id, "" for unscoped collections
		SortField       string   // initial fetch is sorted by this field, descending unless Ascending
		Ascending       bool     // oldest first: new records are appended instead of prepended
		Filters         []Filter // extra equality filters, e.g. the channel of a message list
		Fallback        []Record // shown until the initial fetch succeeds
		DisableRealtime bool
	}

	// Store opens live snapshots of the collections of a RowStore.
	// It is shared by every surface of the process.
	Store struct {
		rows   RowStore
		stream ChangeStream
		conn   Connectivity
		logger core.Logger

		configOnce    sync.Once
		onConfigError func(error)
	}

	StoreOption func(*Store)
)

func WithChangeStream(stream ChangeStream) StoreOption {
	return func(s *Store) { s.stream = stream }
}

func WithConnectivity(conn Connectivity) StoreOption {
	return func(s *Store) { s.conn = conn }
}

func WithLogger(logger core.Logger) StoreOption {
	return func(s *Store) { s.logger = logger }
}

// OnConfigError sets the function called, once per Store, when the backing service is found misconfigured.
func OnConfigError(fn func(error)) StoreOption {
	return func(s *Store) { s.onConfigError = fn }
}

func NewStore(rows RowStore, opts ...StoreOption) *Store {
	s := &Store{
		rows:   rows,
		conn:   AlwaysOnline{},
		logger: nopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.onConfigError == nil {
		s.onConfigError = func(err error) { s.logger.Warn(err.Error()) }
	}
	return s
}

func (s *Store) reportConfigError(err error) {
	s.configOnce.Do(func() { s.onConfigError(errors.Cause(err)) })
}

// Open starts the initial fetch and the change stream subscription of a collection view.
// The returned Snapshot is loading until the fetch resolves; it must be closed by its owner.
func (s *Store) Open(ctx context.Context, opts Options) (*Snapshot, error) {
	err := vala.BeginValidation().Validate(
		vala.StringNotEmpty(opts.Collection, "collection"),
	).Check()
	if err != nil {
		return nil, core.NewValidationError(err)
	}

	ctx, cancel := context.WithCancel(ctx)
	snap := &Snapshot{
		store:   s,
		opts:    opts,
		loading: true,
		changes: make(chan struct{}, 1),
		ready:   make(chan struct{}),
		cancel:  cancel,
	}
	snap.records = snap.trim(CloneAll(opts.Fallback))

	// don't hang the UI when offline: keep the fallback.
	// No change stream either, the snapshot stays static until reopened.
	if !s.conn.Online() {
		snap.loading = false
		snap.readyOnce.Do(func() { close(snap.ready) })
		return snap, nil
	}

	go snap.start(ctx)
	return snap, nil
}

// Snapshot is a live, locally cached view of a collection.
// It is safe for concurrent use.
type Snapshot struct {
	store *Store
	opts  Options

	mu       sync.Mutex
	records  []Record
	loading  bool
	err      error
	closed   bool
	version  uint64
	replaced uint64 // bumped by Replace

	// mutations received while the initial fetch is in flight, replayed on its result
	journal      []journalEntry
	interceptors []func(ChangeEvent) bool

	sub       Subscription
	changes   chan struct{}
	ready     chan struct{}
	readyOnce sync.Once
	cancel    context.CancelFunc
}

type journalEntry struct {
	event  *ChangeEvent
	update func([]Record) []Record
}

func (snap *Snapshot) start(ctx context.Context) {
	if snap.store.stream != nil && !snap.opts.DisableRealtime {
		sub, err := snap.store.stream.Subscribe(ctx, snap.opts.Collection, snap.handle)
		if err != nil {
			snap.store.logger.Warn("subscribing to "+snap.opts.Collection+" changes", err)
		} else {
			snap.mu.Lock()
			closed := snap.closed
			if !closed {
				snap.sub = sub
			}
			snap.mu.Unlock()
			if closed {
				_ = sub.Unsubscribe()
				return
			}
		}
	}
	snap.fetch(ctx)
}

func (snap *Snapshot) fetch(ctx context.Context) {
	snap.mu.Lock()
	replaced := snap.replaced
	snap.mu.Unlock()

	recs, err := snap.store.rows.Query(ctx, snap.query())

	snap.mu.Lock()
	defer snap.mu.Unlock()
	if snap.closed {
		return
	}
	defer snap.readyOnce.Do(func() { close(snap.ready) })

	snap.loading = false
	journal := snap.journal
	snap.journal = nil

	switch {
	case err == nil:
		if snap.replaced != replaced {
			// a caller override happened after the fetch started
			break
		}
		snap.records = snap.trim(recs)
		for _, entry := range journal {
			if entry.event != nil {
				snap.apply(*entry.event)
			} else {
				snap.records = snap.trim(entry.update(snap.records))
			}
		}
	case errors.Cause(err) == ErrCollectionNotFound:
		snap.store.logger.Warn("collection "+snap.opts.Collection+" not found, using fallback data", err)
	case core.IsConfigError(err):
		snap.store.reportConfigError(err)
	default:
		snap.err = err
		snap.store.logger.Error("fetching "+snap.opts.Collection, err)
	}
	snap.bump()
}

func (snap *Snapshot) query() Query {
	q := NewQuery(snap.opts.Collection, snap.opts.Scope, snap.opts.SortField)
	for _, f := range snap.opts.Filters {
		q = q.Where(f.Field, f.Value)
	}
	if snap.opts.Ascending {
		for i := range q.Order {
			q.Order[i].Ascending = true
		}
	}
	return q
}

// handle is the change stream callback.
func (snap *Snapshot) handle(ev ChangeEvent) {
	snap.mu.Lock()
	defer snap.mu.Unlock()
	if snap.closed {
		return
	}
	for _, intercept := range snap.interceptors {
		if intercept(ev) {
			return
		}
	}
	if snap.loading {
		evCopy := ev
		snap.journal = append(snap.journal, journalEntry{event: &evCopy})
	}
	if snap.apply(ev) {
		snap.bump()
	}
}

// apply merges ev into the records, idempotently by identity. Returns whether anything changed.
func (snap *Snapshot) apply(ev ChangeEvent) bool {
	switch ev.Type {
	case Inserted:
		rec := ev.Record
		if rec == nil || rec.ID() == "" || !snap.accepts(ev.Scope, rec) {
			return false
		}
		if i := snap.indexOf(rec.ID()); i >= 0 {
			snap.records[i] = keepLocal(snap.records[i], rec)
			return true
		}
		if ref := rec.ClientRef(); ref != "" {
			if i := snap.indexOfRef(ref); i >= 0 {
				snap.records[i] = keepLocal(snap.records[i], rec)
				return true
			}
		}
		// not re-sorted
		if snap.opts.Ascending {
			snap.records = append(snap.records, rec.Clone())
		} else {
			snap.records = append([]Record{rec.Clone()}, snap.records...)
		}
		return true
	case Updated:
		id := ev.ID
		if id == "" {
			id = ev.Record.ID()
		}
		i := snap.indexOf(id)
		if i < 0 || ev.Record == nil {
			return false
		}
		// moved out of the scope or the filters
		if !snap.accepts(ev.Scope, ev.Record) {
			snap.records = append(snap.records[:i:i], snap.records[i+1:]...)
			return true
		}
		snap.records[i] = keepLocal(snap.records[i], ev.Record)
		return true
	case Deleted:
		if !snap.inScope(ev.eventScope()) {
			return false
		}
		id := ev.ID
		if id == "" {
			id = ev.Record.ID()
		}
		i := snap.indexOf(id)
		if i < 0 {
			return false
		}
		snap.records = append(snap.records[:i:i], snap.records[i+1:]...)
		return true
	}
	return false
}

// keepLocal returns incoming, carrying over the local-only fields of current.
func keepLocal(current, incoming Record) Record {
	rec := incoming.Clone()
	if _, ok := rec[FieldStatus]; !ok {
		if status, ok := current[FieldStatus]; ok {
			rec[FieldStatus] = status
		}
	}
	return rec
}

func (snap *Snapshot) inScope(scope string) bool {
	return snap.opts.Scope == "" || scope == "" || scope == snap.opts.Scope
}

// accepts reports whether rec, delivered with the scope tag of its event, belongs in the snapshot.
// Both the tag and the record's own scope must match.
func (snap *Snapshot) accepts(tag string, rec Record) bool {
	return snap.inScope(tag) && snap.inScope(rec.Scope()) && snap.matches(rec)
}

func (snap *Snapshot) matches(rec Record) bool {
	return Query{Filters: snap.opts.Filters}.Matches(rec)
}

// trim drops the records that belong to another scope or do not match the filters.
func (snap *Snapshot) trim(recs []Record) []Record {
	out := make([]Record, 0, len(recs))
	for _, rec := range recs {
		if rec != nil && snap.inScope(rec.Scope()) && snap.matches(rec) {
			out = append(out, rec)
		}
	}
	return out
}

func (snap *Snapshot) indexOf(id string) int {
	if id == "" {
		return -1
	}
	for i, rec := range snap.records {
		if rec.ID() == id {
			return i
		}
	}
	return -1
}

func (snap *Snapshot) indexOfRef(ref string) int {
	for i, rec := range snap.records {
		if rec.ID() == ref || rec.ClientRef() == ref {
			return i
		}
	}
	return -1
}

// bump must be called with the lock held.
func (snap *Snapshot) bump() {
	snap.version++
	select {
	case snap.changes <- struct{}{}:
	default:
	}
}

// Collection returns the name of the viewed collection.
func (snap *Snapshot) Collection() string { return snap.opts.Collection }

// Scope returns the scope the snapshot was opened with.
func (snap *Snapshot) Scope() string { return snap.opts.Scope }

// Records returns a copy of the current records.
func (snap *Snapshot) Records() []Record {
	snap.mu.Lock()
	defer snap.mu.Unlock()
	return CloneAll(snap.records)
}

// Get returns a copy of the record with the given identity.
func (snap *Snapshot) Get(id string) (Record, bool) {
	snap.mu.Lock()
	defer snap.mu.Unlock()
	if i := snap.indexOf(id); i >= 0 {
		return snap.records[i].Clone(), true
	}
	return nil, false
}

// Loading reports whether the initial fetch is still in flight.
func (snap *Snapshot) Loading() bool {
	snap.mu.Lock()
	defer snap.mu.Unlock()
	return snap.loading
}

// Err returns the initial fetch failure, if any. The change stream is not affected by it.
func (snap *Snapshot) Err() error {
	snap.mu.Lock()
	defer snap.mu.Unlock()
	return snap.err
}

// Version is incremented on every change of the records.
func (snap *Snapshot) Version() uint64 {
	snap.mu.Lock()
	defer snap.mu.Unlock()
	return snap.version
}

// Changes is signaled after the records change. It is closed by Close.
func (snap *Snapshot) Changes() <-chan struct{} { return snap.changes }

// Wait blocks until the initial fetch resolved or was skipped.
func (snap *Snapshot) Wait(ctx context.Context) error {
	select {
	case <-snap.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Replace overrides all the records. An initial fetch still in flight will not overwrite them.
func (snap *Snapshot) Replace(recs []Record) bool {
	snap.mu.Lock()
	defer snap.mu.Unlock()
	if snap.closed {
		return false
	}
	snap.records = snap.trim(CloneAll(recs))
	snap.replaced++
	snap.journal = nil
	snap.bump()
	return true
}

// Update applies fn to the current records. fn gets a copy it can modify freely.
// While loading, fn is also replayed on the initial fetch result.
// fn is called with the snapshot lock held: it must not call back into the snapshot.
func (snap *Snapshot) Update(fn func([]Record) []Record) bool {
	snap.mu.Lock()
	defer snap.mu.Unlock()
	if snap.closed {
		return false
	}
	if snap.loading {
		snap.journal = append(snap.journal, journalEntry{update: fn})
	}
	snap.records = snap.trim(fn(CloneAll(snap.records)))
	snap.bump()
	return true
}

// Intercept registers fn to be called on every incoming change event before it is applied.
// Events for which fn returns true are dropped.
// fn is called with the snapshot lock held: it must not call back into the snapshot.
func (snap *Snapshot) Intercept(fn func(ChangeEvent) bool) {
	snap.mu.Lock()
	defer snap.mu.Unlock()
	snap.interceptors = append(snap.interceptors, fn)
}

// Closed reports whether Close was called.
func (snap *Snapshot) Closed() bool {
	snap.mu.Lock()
	defer snap.mu.Unlock()
	return snap.closed
}

// Close unsubscribes from the change stream. Later callbacks are ignored.
// It is safe to call Close multiple times.
func (snap *Snapshot) Close() error {
	snap.mu.Lock()
	if snap.closed {
		snap.mu.Unlock()
		return nil
	}
	snap.closed = true
	sub := snap.sub
	snap.sub = nil
	snap.journal = nil
	close(snap.changes)
	snap.readyOnce.Do(func() { close(snap.ready) })
	snap.mu.Unlock()

	snap.cancel()
	if sub != nil {
		return errors.Wrap(sub.Unsubscribe(), "unsubscribing")
	}
	return nil
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}
