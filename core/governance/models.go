package governance

import (
	"github.com/monquartier/monquartier/core"
	"github.com/monquartier/monquartier/core/collection"
)

// Vote choices
const (
	For     = "FOR"
	Against = "AGAINST"
	Abstain = "ABSTAIN"
)

// Proposal statuses
const (
	StatusOpen   = "OPEN"
	StatusClosed = "CLOSED"
)

const (
	ProposalsCollection = "proposals"
	VotesCollection     = "votes"
)

// counterFields maps a vote choice to the proposal field counting it.
var counterFields = map[string]string{
	For:     "votes_for",
	Against: "votes_against",
	Abstain: "votes_abstain",
}

type Proposal struct {
	ID           string `json:"id,omitempty"`
	CommunityID  string `json:"community_id"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	VotesFor     int    `json:"votes_for"`
	VotesAgainst int    `json:"votes_against"`
	VotesAbstain int    `json:"votes_abstain"`
	Status       string `json:"status"`
	CreatedAt    string `json:"created_at,omitempty"`
}

func ProposalFromRecord(rec collection.Record) (Proposal, error) {
	var p Proposal
	err := collection.Decode(rec, &p)
	return p, err
}

func (p Proposal) Record() (collection.Record, error) { return collection.Encode(p) }

func (p Proposal) IsOpen() bool { return p.Status != StatusClosed }

// Total is the number of votes cast.
func (p Proposal) Total() int { return p.VotesFor + p.VotesAgainst + p.VotesAbstain }

type Vote struct {
	ID         string `json:"id,omitempty"`
	ProposalID string `json:"proposal_id" validate:"required"`
	UserID     string `json:"user_id" validate:"required"`
	VoteType   string `json:"vote_type" validate:"required,oneof=FOR AGAINST ABSTAIN"`
}

type NewProposal struct {
	CommunityID string `json:"community_id" validate:"required"`
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description" validate:"required"`
}

func (np *NewProposal) Validate(v *core.Validator) error {
	np.Title = core.CleanString(np.Title)
	np.Description = core.CleanString(np.Description)
	np.CommunityID = core.CleanString(np.CommunityID)
	return v.Struct(np)
}
