// Package governance holds the community proposals and the residents' votes on them.
package governance

import (
	"context"

	"github.com/pkg/errors"

	"github.com/monquartier/monquartier/core"
	"github.com/monquartier/monquartier/core/collection"
)

var (
	// errors
	ErrClosed       = core.NewValidationError(errors.New("Ce vote est clôturé."))
	ErrAlreadyVoted = core.NewValidationError(errors.New("Vous avez déjà voté."))
)

type Service struct {
	rows      collection.RowStore
	validator *core.Validator
}

func NewService(rows collection.RowStore, v *core.Validator) *Service {
	return &Service{rows: rows, validator: v}
}

func (svc *Service) GetProposal(ctx context.Context, id string) (Proposal, error) {
	recs, err := svc.rows.Query(ctx, collection.Query{Collection: ProposalsCollection}.Where(collection.FieldID, id))
	if err != nil {
		return Proposal{}, errors.Wrap(err, "getting proposal")
	}
	if len(recs) == 0 {
		return Proposal{}, collection.ErrNotFound
	}
	return ProposalFromRecord(recs[0])
}

func (svc *Service) CreateProposal(ctx context.Context, np NewProposal) (Proposal, error) {
	if err := np.Validate(svc.validator); err != nil {
		return Proposal{}, err
	}
	rec, err := Proposal{
		CommunityID: np.CommunityID,
		Title:       np.Title,
		Description: np.Description,
		Status:      StatusOpen,
	}.Record()
	if err != nil {
		return Proposal{}, err
	}
	saved, err := svc.rows.Insert(ctx, ProposalsCollection, rec)
	if err != nil {
		return Proposal{}, errors.Wrap(err, "inserting proposal")
	}
	return ProposalFromRecord(saved)
}

// CloseProposal ends the vote on a proposal.
func (svc *Service) CloseProposal(ctx context.Context, id string) (Proposal, error) {
	rec, err := svc.rows.Update(ctx, ProposalsCollection, id, collection.Record{"status": StatusClosed})
	if err != nil {
		return Proposal{}, errors.Wrap(err, "closing proposal")
	}
	return ProposalFromRecord(rec)
}

// Vote records the choice of userID on a proposal, replacing their previous vote, then recounts the proposal votes.
func (svc *Service) Vote(ctx context.Context, proposalID, userID, choice string) error {
	vote := Vote{ProposalID: proposalID, UserID: userID, VoteType: choice}
	if err := svc.validator.Struct(vote); err != nil {
		return err
	}
	p, err := svc.GetProposal(ctx, proposalID)
	if err != nil {
		return err
	}
	if !p.IsOpen() {
		return ErrClosed
	}

	rec, err := collection.Encode(vote)
	if err != nil {
		return err
	}
	if _, err = svc.rows.Upsert(ctx, VotesCollection, rec, "proposal_id", "user_id"); err != nil {
		return errors.Wrap(err, "saving vote")
	}
	return svc.recount(ctx, proposalID)
}

// recount stores the vote tallies on the proposal.
func (svc *Service) recount(ctx context.Context, proposalID string) error {
	votes, err := svc.rows.Query(ctx, collection.Query{Collection: VotesCollection}.Where("proposal_id", proposalID))
	if err != nil {
		return errors.Wrap(err, "counting votes")
	}
	patch := collection.Record{"votes_for": 0, "votes_against": 0, "votes_abstain": 0}
	for _, v := range votes {
		if field, ok := counterFields[v.Text("vote_type")]; ok {
			patch[field] = patch.Int(field) + 1
		}
	}
	_, err = svc.rows.Update(ctx, ProposalsCollection, proposalID, patch)
	return errors.Wrap(err, "updating vote tallies")
}

// UserVotes returns the choices of userID by proposal id.
func (svc *Service) UserVotes(ctx context.Context, userID string) (map[string]string, error) {
	recs, err := svc.rows.Query(ctx, collection.Query{Collection: VotesCollection}.Where("user_id", userID))
	if err != nil {
		return nil, errors.Wrap(err, "querying votes")
	}
	votes := make(map[string]string, len(recs))
	for _, rec := range recs {
		votes[rec.Text("proposal_id")] = rec.Text("vote_type")
	}
	return votes, nil
}
