// Package optimistic applies user writes to a collection snapshot before the row store confirms them.
package optimistic

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/kat-co/vala"
	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"

	"github.com/monquartier/monquartier/core"
	"github.com/monquartier/monquartier/core/collection"
)

type Status string

const (
	Pending   Status = "pending"
	Confirmed Status = "confirmed"
	Failed    Status = "failed"
	Read      Status = "read" // cosmetic, set by a local timer only

	tempIDPrefix = "temp-"

	// how long a confirmed insert waits for its echo before it is forgotten
	echoWindow = 2 * time.Minute
)

var now = time.Now // mockable

var (
	// errors
	ErrInFlight     = errors.New("a mutation is already in flight for this record")
	ErrNotRetryable = errors.New("no failed mutation for this record")
)

type (
	// Target is the snapshot receiving the speculative records.
	Target interface {
		Update(fn func([]collection.Record) []collection.Record) bool
		Intercept(fn func(collection.ChangeEvent) bool)
	}

	Placement int

	// Config parameterizes a Flow for one payload type.
	Config[P any] struct {
		Origin    string // identity of the local session, stamped on every written payload
		Encode    func(P) collection.Record
		Validate  func(P) error // local preconditions, checked before anything else
		Write     func(ctx context.Context, payload collection.Record) (collection.Record, error)
		Placement Placement
		ReadAfter time.Duration // 0 disables the read status
	}

	// Flow runs optimistic inserts of payloads of type P into a Target.
	Flow[P any] struct {
		target Target
		cfg    Config[P]
		guard  *Guard

		mu        sync.Mutex
		failed    map[string]failedMutation[P] // by temp id
		confirmed map[string]awaitedEcho    // by temp id
		timers    map[*time.Timer]struct{}
		stopped   bool
	}

	failedMutation[P any] struct {
		key     string
		payload P
	}

	awaitedEcho struct {
		serverID    string
		confirmedAt time.Time
	}
)

const (
	Prepend Placement = iota
	Append
)

// NewTempID returns a temporary identity for a speculative record.
func NewTempID() string {
	return tempIDPrefix + ulid.Make().String()
}

// IsTempID reports whether id was generated by NewTempID.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, tempIDPrefix)
}

// StatusOf returns the status of a record, Confirmed for records that never were speculative.
func StatusOf(rec collection.Record) Status {
	if s := rec.Status(); s != "" {
		return Status(s)
	}
	return Confirmed
}

func New[P any](target Target, cfg Config[P]) *Flow[P] {
	f := &Flow[P]{
		target:    target,
		cfg:       cfg,
		guard:     NewGuard(),
		failed:    make(map[string]failedMutation[P]),
		confirmed: make(map[string]awaitedEcho),
		timers:    make(map[*time.Timer]struct{}),
	}
	target.Intercept(f.isEcho)
	return f
}

// isEcho recognises our own confirmed inserts coming back from the change stream.
func (f *Flow[P]) isEcho(ev collection.ChangeEvent) bool {
	if ev.Type != collection.Inserted || ev.Record == nil || f.cfg.Origin == "" {
		return false
	}
	if ev.Record.Origin() != f.cfg.Origin {
		return false
	}
	ref := ev.Record.ClientRef()

	f.mu.Lock()
	defer f.mu.Unlock()
	if echo, ok := f.confirmed[ref]; ok && echo.serverID == ev.Record.ID() {
		delete(f.confirmed, ref)
		return true
	}
	return false
}

// InFlight reports whether a mutation is outstanding for key.
func (f *Flow[P]) InFlight(key string) bool { return f.guard.Busy(key) }

// Insert validates payload, shows it as a pending speculative record and writes it.
// key identifies the control triggering the mutation, "" lets every insert proceed independently.
// On failure, the speculative record stays visible with the Failed status and can be retried.
func (f *Flow[P]) Insert(ctx context.Context, key string, payload P) (collection.Record, error) {
	if f.cfg.Validate != nil {
		if err := f.cfg.Validate(payload); err != nil {
			if _, ok := errors.Cause(err).(*core.ValidationError); !ok {
				err = core.NewValidationError(err)
			}
			return nil, err
		}
	}
	tempID := NewTempID()
	if key == "" {
		key = tempID
	}
	return f.submit(ctx, key, tempID, payload, true)
}

// Retry resubmits a failed speculative record.
func (f *Flow[P]) Retry(ctx context.Context, tempID string) (collection.Record, error) {
	f.mu.Lock()
	fm, ok := f.failed[tempID]
	f.mu.Unlock()
	if !ok {
		return nil, ErrNotRetryable
	}
	return f.submit(ctx, fm.key, tempID, fm.payload, false)
}

func (f *Flow[P]) submit(ctx context.Context, key, tempID string, payload P, fresh bool) (collection.Record, error) {
	if !f.guard.Acquire(key) {
		return nil, ErrInFlight
	}
	defer f.guard.Release(key)

	rec := f.cfg.Encode(payload).Payload()
	delete(rec, collection.FieldID)
	rec[collection.FieldClientRef] = tempID
	if f.cfg.Origin != "" {
		rec[collection.FieldOrigin] = f.cfg.Origin
	}

	speculative := rec.With(collection.FieldID, tempID).With(collection.FieldStatus, string(Pending))
	if !fresh {
		// the previous attempt may have reached the server after all
		if echoed := f.settleEchoed(tempID); echoed != nil {
			return echoed, nil
		}
	}
	f.target.Update(func(recs []collection.Record) []collection.Record {
		if fresh {
			return f.place(recs, speculative)
		}
		return setStatus(recs, tempID, Pending)
	})

	saved, err := f.cfg.Write(ctx, rec)
	if err != nil {
		// the server committed it, only the answer got lost
		if echoed := f.settleEchoed(tempID); echoed != nil {
			return echoed, nil
		}
		f.mu.Lock()
		f.failed[tempID] = failedMutation[P]{key: key, payload: payload}
		f.mu.Unlock()

		f.target.Update(func(recs []collection.Record) []collection.Record {
			return setStatus(recs, tempID, Failed)
		})
		return speculative.With(collection.FieldStatus, string(Failed)), err
	}

	confirmed := saved.Clone()
	if confirmed.ClientRef() == "" {
		confirmed[collection.FieldClientRef] = tempID
	}
	confirmed[collection.FieldStatus] = string(Confirmed)
	serverID := confirmed.ID()

	f.mu.Lock()
	delete(f.failed, tempID)
	f.forgetStaleEchoes()
	f.confirmed[tempID] = awaitedEcho{serverID: serverID, confirmedAt: now()}
	f.mu.Unlock()

	f.target.Update(func(recs []collection.Record) []collection.Record {
		return f.reconcile(recs, tempID, confirmed)
	})

	if f.cfg.ReadAfter > 0 {
		f.schedule(f.cfg.ReadAfter, func() {
			f.target.Update(func(recs []collection.Record) []collection.Record {
				for i, r := range recs {
					if r.ID() == serverID && StatusOf(r) == Confirmed {
						recs[i] = r.With(collection.FieldStatus, string(Read))
					}
				}
				return recs
			})
		})
	}
	return confirmed, nil
}

func (f *Flow[P]) place(recs []collection.Record, rec collection.Record) []collection.Record {
	if f.cfg.Placement == Append {
		return append(recs, rec)
	}
	return append([]collection.Record{rec}, recs...)
}

// reconcile swaps the speculative record for the confirmed one, keeping exactly one entry for it.
func (f *Flow[P]) reconcile(recs []collection.Record, tempID string, confirmed collection.Record) []collection.Record {
	serverID := confirmed.ID()
	out := make([]collection.Record, 0, len(recs))
	placed := false
	for _, r := range recs {
		if r.ID() == tempID || r.ID() == serverID || r.ClientRef() == tempID {
			if !placed {
				out = append(out, confirmed)
				placed = true
			}
			continue
		}
		out = append(out, r)
	}
	if !placed {
		out = f.place(out, confirmed)
	}
	return out
}

// settleEchoed confirms the record of tempID when the change stream already replaced it
// with the server's copy. Returns nil if it did not.
func (f *Flow[P]) settleEchoed(tempID string) collection.Record {
	var echoed collection.Record
	f.target.Update(func(recs []collection.Record) []collection.Record {
		for i, r := range recs {
			if r.ClientRef() == tempID && r.ID() != "" && r.ID() != tempID {
				echoed = r.With(collection.FieldStatus, string(Confirmed))
				recs[i] = echoed
				break
			}
		}
		return recs
	})
	if echoed == nil {
		return nil
	}
	f.mu.Lock()
	delete(f.failed, tempID)
	f.mu.Unlock()
	return echoed.Clone()
}

// forgetStaleEchoes drops the confirmed inserts whose echo never came. f.mu must be held.
func (f *Flow[P]) forgetStaleEchoes() {
	limit := now().Add(-echoWindow)
	for tempID, echo := range f.confirmed {
		if echo.confirmedAt.Before(limit) {
			delete(f.confirmed, tempID)
		}
	}
}

// setStatus sets the status of the record id, matched on its identity or its client reference.
func setStatus(recs []collection.Record, id string, status Status) []collection.Record {
	for i, r := range recs {
		if r.ID() == id || r.ClientRef() == id {
			recs[i] = r.With(collection.FieldStatus, string(status))
		}
	}
	return recs
}

func (f *Flow[P]) schedule(d time.Duration, fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		f.mu.Lock()
		delete(f.timers, t)
		f.mu.Unlock()
		fn()
	})
	f.timers[t] = struct{}{}
}

// Stop cancels the pending read timers and stops waiting for echoes.
func (f *Flow[P]) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	f.confirmed = make(map[string]awaitedEcho)
	for t := range f.timers {
		t.Stop()
	}
	f.timers = make(map[*time.Timer]struct{})
}

// PatchOp is a field-level optimistic update, e.g. a vote counter.
// The server answer is not used to reconcile the patch: on success Apply is kept as is, on failure Revert is applied.
type PatchOp struct {
	Key    string // guard key, e.g. the proposal id
	ID     string // record to patch
	Apply  func(collection.Record) collection.Record
	Revert func(collection.Record) collection.Record
	Write  func(ctx context.Context) error
}

// Patcher runs PatchOps on a Target.
type Patcher struct {
	target Target
	guard  *Guard
}

func NewPatcher(target Target) *Patcher {
	return &Patcher{target: target, guard: NewGuard()}
}

// InFlight reports whether a patch is outstanding for key.
func (p *Patcher) InFlight(key string) bool { return p.guard.Busy(key) }

func (p *Patcher) Patch(ctx context.Context, op PatchOp) error {
	err := vala.BeginValidation().Validate(
		vala.StringNotEmpty(op.Key, "key"),
		vala.StringNotEmpty(op.ID, "id"),
	).Check()
	if err != nil {
		return core.NewValidationError(err)
	}
	if op.Apply == nil || op.Revert == nil || op.Write == nil {
		return core.NewValidationError(errors.New("patch requires apply, revert and write"))
	}
	if !p.guard.Acquire(op.Key) {
		return ErrInFlight
	}
	defer p.guard.Release(op.Key)

	p.target.Update(patchRecord(op.ID, op.Apply))
	if err := op.Write(ctx); err != nil {
		p.target.Update(patchRecord(op.ID, op.Revert))
		return err
	}
	return nil
}

func patchRecord(id string, fn func(collection.Record) collection.Record) func([]collection.Record) []collection.Record {
	return func(recs []collection.Record) []collection.Record {
		for i, r := range recs {
			if r.ID() == id {
				recs[i] = fn(r)
			}
		}
		return recs
	}
}

// Increment returns a patch adding delta to a numeric field.
func Increment(field string, delta int) func(collection.Record) collection.Record {
	return func(r collection.Record) collection.Record {
		return r.With(field, r.Int(field)+delta)
	}
}

// Guard tracks the keys having a mutation in flight.
type Guard struct {
	mu   sync.Mutex
	busy map[string]struct{}
}

func NewGuard() *Guard {
	return &Guard{busy: make(map[string]struct{})}
}

// Acquire marks key busy. It returns false if key already is.
func (g *Guard) Acquire(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.busy[key]; ok {
		return false
	}
	g.busy[key] = struct{}{}
	return true
}

func (g *Guard) Release(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.busy, key)
}

func (g *Guard) Busy(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.busy[key]
	return ok
}
