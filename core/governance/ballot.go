package governance

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/monquartier/monquartier/core/collection"
	"github.com/monquartier/monquartier/core/optimistic"
	"github.com/monquartier/monquartier/core/visibility"
)

// Ballot is the live list of the proposals of a community, voted on optimistically.
type Ballot struct {
	svc     *Service
	userID  string
	snap    *collection.Snapshot
	view    *visibility.View
	patcher *optimistic.Patcher

	mu    sync.Mutex
	votes map[string]string // by proposal id
}

// OpenBallot opens the proposals visible to actor and loads their votes.
func OpenBallot(ctx context.Context, store *collection.Store, svc *Service, actor visibility.Actor) (*Ballot, error) {
	snap, err := store.Open(ctx, collection.Options{
		Collection: ProposalsCollection,
		Scope:      actor.CommunityID,
		SortField:  collection.FieldCreatedAt,
	})
	if err != nil {
		return nil, errors.Wrap(err, "opening proposals")
	}

	votes, err := svc.UserVotes(ctx, actor.ID)
	if err != nil {
		// the proposals stay usable, votes are shown as not cast
		votes = make(map[string]string)
	}
	return &Ballot{
		svc:     svc,
		userID:  actor.ID,
		snap:    snap,
		view:    visibility.NewView(snap, actor, visibility.SameCommunity),
		patcher: optimistic.NewPatcher(snap),
		votes:   votes,
	}, nil
}

func (b *Ballot) proposals(keep func(Proposal) bool) []Proposal {
	recs := b.view.Records()
	out := make([]Proposal, 0, len(recs))
	for _, rec := range recs {
		if p, err := ProposalFromRecord(rec); err == nil && keep(p) {
			out = append(out, p)
		}
	}
	return out
}

func (b *Ballot) Open() []Proposal {
	return b.proposals(func(p Proposal) bool { return p.IsOpen() })
}

func (b *Ballot) Closed() []Proposal {
	return b.proposals(func(p Proposal) bool { return !p.IsOpen() })
}

// MyVote returns the choice of the user on a proposal, "" when they did not vote.
func (b *Ballot) MyVote(proposalID string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.votes[proposalID]
}

// Voting reports whether a vote on the proposal is in flight.
func (b *Ballot) Voting(proposalID string) bool { return b.patcher.InFlight(proposalID) }

// Vote counts choice on the proposal right away, and takes it back if the vote cannot be saved.
func (b *Ballot) Vote(ctx context.Context, proposalID, choice string) error {
	field, ok := counterFields[choice]
	if !ok {
		return b.svc.validator.Struct(Vote{ProposalID: proposalID, UserID: b.userID, VoteType: choice})
	}
	rec, found := b.snap.Get(proposalID)
	if !found {
		return collection.ErrNotFound
	}
	p, err := ProposalFromRecord(rec)
	if err != nil {
		return err
	}
	if !p.IsOpen() {
		return ErrClosed
	}
	if b.MyVote(proposalID) != "" {
		return ErrAlreadyVoted
	}

	err = b.patcher.Patch(ctx, optimistic.PatchOp{
		Key:    proposalID,
		ID:     proposalID,
		Apply:  optimistic.Increment(field, 1),
		Revert: optimistic.Increment(field, -1),
		Write: func(ctx context.Context) error {
			return b.svc.Vote(ctx, proposalID, b.userID, choice)
		},
	})
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.votes[proposalID] = choice
	b.mu.Unlock()
	return nil
}

func (b *Ballot) Changes() <-chan struct{}       { return b.snap.Changes() }
func (b *Ballot) Wait(ctx context.Context) error { return b.snap.Wait(ctx) }
func (b *Ballot) Close() error                   { return b.snap.Close() }
