// Package finance holds the community treasury: income and expense transactions, and fundraising campaigns.
package finance

import (
	"context"
	"time"

	"github.com/go-playground/locales/fr"
	"github.com/pkg/errors"

	"github.com/monquartier/monquartier/core"
	"github.com/monquartier/monquartier/core/collection"
	"github.com/monquartier/monquartier/core/visibility"
)

// Transaction types
const (
	Income  = "INCOME"
	Expense = "EXPENSE"
)

const (
	TransactionsCollection = "transactions"
	CampaignsCollection    = "campaigns"

	proofPending = "pending"
)

var (
	// mockable
	nowFunc = time.Now

	ErrAdminOnly = core.NewValidationError(errors.New("Réservé aux administrateurs."))

	numbers = fr.New()
)

type Transaction struct {
	ID          string `json:"id,omitempty"`
	CommunityID string `json:"community_id"`
	Date        string `json:"date"`
	Label       string `json:"label"`
	Amount      int    `json:"amount"`
	Type        string `json:"type"`
	ProofURL    string `json:"proof_url,omitempty"`
}

// Signed is the amount counted positively for income, negatively for expenses.
func (t Transaction) Signed() int {
	if t.Type == Expense {
		return -t.Amount
	}
	return t.Amount
}

type Campaign struct {
	ID              string `json:"id,omitempty"`
	CommunityID     string `json:"community_id"`
	Title           string `json:"title"`
	TargetAmount    int    `json:"target_amount"`
	CollectedAmount int    `json:"collected_amount"`
	Deadline        string `json:"deadline"`
	Description     string `json:"description"`
}

func (c Campaign) Completed() bool { return c.CollectedAmount >= c.TargetAmount }

// Progress is the collected share of the target, between 0 and 1.
func (c Campaign) Progress() float64 {
	if c.TargetAmount <= 0 {
		return 1
	}
	p := float64(c.CollectedAmount) / float64(c.TargetAmount)
	if p > 1 {
		return 1
	}
	return p
}

type NewTransaction struct {
	Label    string `json:"label" validate:"required,max=200"`
	Amount   int    `json:"amount" validate:"gt=0"`
	Type     string `json:"type" validate:"required,oneof=INCOME EXPENSE"`
	ProofURL string `json:"proof_url" validate:"omitempty,url"`
}

type NewCampaign struct {
	CommunityID  string `json:"community_id" validate:"required"`
	Title        string `json:"title" validate:"required"`
	TargetAmount int    `json:"target_amount" validate:"gt=0"`
	Deadline     string `json:"deadline" validate:"required,datetime=2006-01-02"`
	Description  string `json:"description"`
}

// FormatMoney formats an amount in CFA francs.
func FormatMoney(amount int) string {
	return numbers.FmtNumber(float64(amount), 0) + " F"
}

// Treasurer is the resident looking at the treasury.
type Treasurer struct {
	CommunityID string
	Admin       bool // may record transactions
}

// Ledger is the live treasury of a community.
type Ledger struct {
	rows         collection.RowStore
	validator    *core.Validator
	treasurer    Treasurer
	transactions *collection.Snapshot
	campaigns    *collection.Snapshot
	actor        visibility.Actor
}

// OpenLedger opens the transactions, most recent first, and the campaigns of the treasurer's community.
func OpenLedger(ctx context.Context, store *collection.Store, rows collection.RowStore, v *core.Validator, treasurer Treasurer) (*Ledger, error) {
	transactions, err := store.Open(ctx, collection.Options{
		Collection: TransactionsCollection,
		Scope:      treasurer.CommunityID,
		SortField:  "date",
	})
	if err != nil {
		return nil, errors.Wrap(err, "opening transactions")
	}
	campaigns, err := store.Open(ctx, collection.Options{
		Collection: CampaignsCollection,
		Scope:      treasurer.CommunityID,
	})
	if err != nil {
		_ = transactions.Close()
		return nil, errors.Wrap(err, "opening campaigns")
	}
	return &Ledger{
		rows:         rows,
		validator:    v,
		treasurer:    treasurer,
		transactions: transactions,
		campaigns:    campaigns,
		actor:        visibility.Actor{CommunityID: treasurer.CommunityID},
	}, nil
}

func (l *Ledger) Transactions() []Transaction {
	recs := visibility.Trim(l.actor, l.transactions.Records(), visibility.SameCommunity)
	out := make([]Transaction, 0, len(recs))
	for _, rec := range recs {
		var t Transaction
		if err := collection.Decode(rec, &t); err == nil {
			out = append(out, t)
		}
	}
	return out
}

// Balance is opening plus the income minus the expenses of the loaded transactions.
func (l *Ledger) Balance(opening int) int {
	balance := opening
	for _, t := range l.Transactions() {
		balance += t.Signed()
	}
	return balance
}

func (l *Ledger) campaignList(completed bool) []Campaign {
	recs := visibility.Trim(l.actor, l.campaigns.Records(), visibility.SameCommunity)
	out := make([]Campaign, 0, len(recs))
	for _, rec := range recs {
		var c Campaign
		if err := collection.Decode(rec, &c); err == nil && c.Completed() == completed {
			out = append(out, c)
		}
	}
	return out
}

// ActiveCampaigns returns the campaigns still short of their target.
func (l *Ledger) ActiveCampaigns() []Campaign { return l.campaignList(false) }

// CompletedCampaigns returns the campaigns having reached their target.
func (l *Ledger) CompletedCampaigns() []Campaign { return l.campaignList(true) }

// Record saves a transaction and shows it at the top of the ledger.
func (l *Ledger) Record(ctx context.Context, nt NewTransaction) (Transaction, error) {
	if !l.treasurer.Admin {
		return Transaction{}, ErrAdminOnly
	}
	nt.Label = core.CleanString(nt.Label)
	if err := l.validator.Struct(nt); err != nil {
		return Transaction{}, err
	}
	if nt.ProofURL == "" {
		nt.ProofURL = proofPending
	}

	rec, err := collection.Encode(Transaction{
		CommunityID: l.treasurer.CommunityID,
		Date:        collection.FormatTime(nowFunc()),
		Label:       nt.Label,
		Amount:      nt.Amount,
		Type:        nt.Type,
		ProofURL:    nt.ProofURL,
	})
	if err != nil {
		return Transaction{}, err
	}
	saved, err := l.rows.Insert(ctx, TransactionsCollection, rec)
	if err != nil {
		return Transaction{}, errors.Wrap(err, "inserting transaction")
	}
	l.transactions.Update(func(recs []collection.Record) []collection.Record {
		for _, r := range recs {
			if r.ID() == saved.ID() {
				return recs
			}
		}
		return append([]collection.Record{saved}, recs...)
	})

	var t Transaction
	err = collection.Decode(saved, &t)
	return t, err
}

// CreateCampaign starts a fundraising campaign.
func (l *Ledger) CreateCampaign(ctx context.Context, nc NewCampaign) (Campaign, error) {
	if !l.treasurer.Admin {
		return Campaign{}, ErrAdminOnly
	}
	nc.Title = core.CleanString(nc.Title)
	nc.CommunityID = l.treasurer.CommunityID
	if err := l.validator.Struct(nc); err != nil {
		return Campaign{}, err
	}
	rec, err := collection.Encode(Campaign{
		CommunityID:  nc.CommunityID,
		Title:        nc.Title,
		TargetAmount: nc.TargetAmount,
		Deadline:     nc.Deadline,
		Description:  nc.Description,
	})
	if err != nil {
		return Campaign{}, err
	}
	saved, err := l.rows.Insert(ctx, CampaignsCollection, rec)
	if err != nil {
		return Campaign{}, errors.Wrap(err, "inserting campaign")
	}
	var c Campaign
	err = collection.Decode(saved, &c)
	return c, err
}

func (l *Ledger) Wait(ctx context.Context) error {
	if err := l.transactions.Wait(ctx); err != nil {
		return err
	}
	return l.campaigns.Wait(ctx)
}

func (l *Ledger) Close() error {
	err := l.transactions.Close()
	if cErr := l.campaigns.Close(); err == nil {
		err = cErr
	}
	return err
}
