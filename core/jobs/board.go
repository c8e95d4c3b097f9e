package jobs

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/monquartier/monquartier/core"
	"github.com/monquartier/monquartier/core/collection"
	"github.com/monquartier/monquartier/core/optimistic"
	"github.com/monquartier/monquartier/core/visibility"
)

// Board is the live job list of a community.
type Board struct {
	svc     *Service
	userID  string
	snap    *collection.Snapshot
	view    *visibility.View
	patcher *optimistic.Patcher

	mu      sync.Mutex
	applied map[string]bool
}

func OpenBoard(ctx context.Context, store *collection.Store, svc *Service, actor visibility.Actor) (*Board, error) {
	snap, err := store.Open(ctx, collection.Options{
		Collection: JobsCollection,
		Scope:      actor.CommunityID,
		SortField:  collection.FieldCreatedAt,
	})
	if err != nil {
		return nil, errors.Wrap(err, "opening jobs")
	}

	applied := make(map[string]bool)
	if ids, err := svc.Applications(ctx, actor.ID); err == nil {
		for _, id := range ids {
			applied[id] = true
		}
	}
	return &Board{
		svc:     svc,
		userID:  actor.ID,
		snap:    snap,
		view:    visibility.NewView(snap, actor, visibility.SameCommunity),
		patcher: optimistic.NewPatcher(snap),
		applied: applied,
	}, nil
}

func (b *Board) jobs(keep func(Job) bool) []Job {
	recs := b.view.Records()
	out := make([]Job, 0, len(recs))
	for _, rec := range recs {
		if j, err := JobFromRecord(rec); err == nil && keep(j) {
			out = append(out, j)
		}
	}
	return out
}

// Open returns the jobs accepting candidates.
func (b *Board) Open() []Job {
	return b.jobs(func(j Job) bool { return j.Status == StatusOpen })
}

// History returns the jobs in progress or done.
func (b *Board) History() []Job {
	return b.jobs(func(j Job) bool { return j.Status != StatusOpen })
}

func (b *Board) Applied(jobID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.applied[jobID]
}

// Applying reports whether an application to the job is in flight.
func (b *Board) Applying(jobID string) bool { return b.patcher.InFlight(jobID) }

// Apply fills a spot of the job right away, and frees it if the application fails.
// A second Apply on the same job while the first is in flight fails with optimistic.ErrInFlight.
func (b *Board) Apply(ctx context.Context, jobID string) error {
	rec, found := b.snap.Get(jobID)
	if !found {
		return collection.ErrNotFound
	}
	job, err := JobFromRecord(rec)
	if err != nil {
		return err
	}
	switch {
	case b.Applied(jobID):
		return ErrAlreadyApplied
	case job.Status != StatusOpen:
		return ErrJobNotOpen
	case job.SpotsLeft() == 0:
		return ErrJobFull
	}

	err = b.patcher.Patch(ctx, optimistic.PatchOp{
		Key:    jobID,
		ID:     jobID,
		Apply:  optimistic.Increment(spotsFilledField, 1),
		Revert: optimistic.Increment(spotsFilledField, -1),
		Write: func(ctx context.Context) error {
			return b.svc.Apply(ctx, jobID, b.userID)
		},
	})
	if err != nil && err != ErrAlreadyApplied {
		return err
	}

	b.mu.Lock()
	b.applied[jobID] = true
	b.mu.Unlock()
	return err
}

// Message returns the text shown to the resident after Apply.
func Message(err error) string {
	if err == nil {
		return "Candidature envoyée !"
	}
	return core.UserMessage(err)
}

func (b *Board) Changes() <-chan struct{}       { return b.snap.Changes() }
func (b *Board) Wait(ctx context.Context) error { return b.snap.Wait(ctx) }
func (b *Board) Close() error                   { return b.snap.Close() }
