// Package news holds the community articles ("Flash Info"), edited by the administrators as a list of blocks.
package news

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/locales/fr"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/monquartier/monquartier/core"
	"github.com/monquartier/monquartier/core/collection"
	"github.com/monquartier/monquartier/core/visibility"
)

// Block types
const (
	Paragraph = "paragraph"
	Heading   = "heading"
)

const (
	ArticlesCollection = "articles"

	CategoryUrgent = "URGENT"
	justNow        = "À l'instant"
)

var (
	// mockable
	nowFunc = time.Now

	ErrEditorOnly = core.NewValidationError(errors.New("Réservé aux administrateurs."))

	calendar = fr.New()
)

type Block struct {
	ID      string `json:"id"`
	Type    string `json:"type" validate:"oneof=paragraph heading"`
	Content string `json:"content"`
}

type Article struct {
	ID          string  `json:"id,omitempty"`
	CommunityID string  `json:"community_id"`
	Title       string  `json:"title"`
	Category    string  `json:"category"`
	Image       string  `json:"image"`
	Date        string  `json:"date"`
	ScheduledAt string  `json:"scheduled_at,omitempty"`
	Author      string  `json:"author"`
	Blocks      []Block `json:"blocks"`
	Published   bool    `json:"published"`
}

// Scheduled reports whether the article is programmed for later than now.
func (a Article) Scheduled(now time.Time) bool {
	if a.ScheduledAt == "" {
		return false
	}
	at, err := time.Parse(time.RFC3339Nano, a.ScheduledAt)
	return err == nil && at.After(now)
}

// Visible reports whether residents may read the article at now.
func (a Article) Visible(now time.Time) bool {
	return a.Published && !a.Scheduled(now)
}

// Draft is the content of the editor.
type Draft struct {
	Title       string     `json:"title" validate:"required"`
	Category    string     `json:"category"`
	Image       string     `json:"image" validate:"required,url"`
	ScheduledAt *time.Time `json:"scheduled_at"`
	Blocks      []Block    `json:"blocks" validate:"dive"`
	Published   bool       `json:"published"`
}

// NewBlock returns an empty block of type typ.
func NewBlock(typ string) Block {
	return Block{ID: uuid.New().String(), Type: typ}
}

// DisplayDate is the date shown on a card, e.g. "2 mars à 21:07".
func DisplayDate(t time.Time) string {
	return fmt.Sprintf("%d %s à %02d:%02d", t.Day(), calendar.MonthWide(t.Month()), t.Hour(), t.Minute())
}

// Editor is the administrator writing the articles.
type Editor struct {
	Name        string
	CommunityID string
	Admin       bool
}

// Newsroom is the live list of the articles of a community, most recent first.
type Newsroom struct {
	rows      collection.RowStore
	validator *core.Validator
	editor    Editor
	snap      *collection.Snapshot
	actor     visibility.Actor
}

func OpenNewsroom(ctx context.Context, store *collection.Store, rows collection.RowStore, v *core.Validator, editor Editor) (*Newsroom, error) {
	snap, err := store.Open(ctx, collection.Options{
		Collection: ArticlesCollection,
		Scope:      editor.CommunityID,
		SortField:  collection.FieldCreatedAt,
	})
	if err != nil {
		return nil, errors.Wrap(err, "opening articles")
	}
	return &Newsroom{
		rows:      rows,
		validator: v,
		editor:    editor,
		snap:      snap,
		actor:     visibility.Actor{CommunityID: editor.CommunityID},
	}, nil
}

func (n *Newsroom) articles(keep func(Article) bool) []Article {
	recs := visibility.Trim(n.actor, n.snap.Records(), visibility.SameCommunity)
	out := make([]Article, 0, len(recs))
	for _, rec := range recs {
		var a Article
		if err := collection.Decode(rec, &a); err == nil && keep(a) {
			out = append(out, a)
		}
	}
	return out
}

// All returns every article, drafts and scheduled ones included.
func (n *Newsroom) All() []Article {
	return n.articles(func(Article) bool { return true })
}

// Feed returns the articles residents can read now.
func (n *Newsroom) Feed() []Article {
	now := nowFunc()
	return n.articles(func(a Article) bool { return a.Visible(now) })
}

// Latest returns the most recent readable article.
func (n *Newsroom) Latest() (Article, bool) {
	feed := n.Feed()
	if len(feed) == 0 {
		return Article{}, false
	}
	return feed[0], true
}

func (n *Newsroom) prepare(d Draft) (Draft, error) {
	if !n.editor.Admin {
		return d, ErrEditorOnly
	}
	d.Title = core.CleanString(d.Title)
	d.Category = strings.ToUpper(core.CleanString(d.Category))
	if err := n.validator.Struct(d); err != nil {
		return d, err
	}
	blocks := make([]Block, 0, len(d.Blocks))
	for _, b := range d.Blocks {
		if strings.TrimSpace(b.Content) == "" {
			continue
		}
		if b.ID == "" {
			b.ID = uuid.New().String()
		}
		blocks = append(blocks, b)
	}
	d.Blocks = blocks
	return d, nil
}

func fields(d Draft) collection.Record {
	rec := collection.Record{
		"title":     d.Title,
		"category":  d.Category,
		"image":     d.Image,
		"published": d.Published,
	}
	blocks := make([]interface{}, 0, len(d.Blocks))
	for _, b := range d.Blocks {
		blocks = append(blocks, map[string]interface{}{"id": b.ID, "type": b.Type, "content": b.Content})
	}
	rec["blocks"] = blocks
	if d.ScheduledAt != nil {
		rec["scheduled_at"] = collection.FormatTime(*d.ScheduledAt)
		rec["date"] = DisplayDate(d.ScheduledAt.In(time.Local))
	} else {
		rec["scheduled_at"] = nil
	}
	return rec
}

// Create publishes (or schedules) a new article at the top of the list.
func (n *Newsroom) Create(ctx context.Context, d Draft) (Article, error) {
	d, err := n.prepare(d)
	if err != nil {
		return Article{}, err
	}
	rec := fields(d)
	rec[collection.FieldScope] = n.editor.CommunityID
	rec["author"] = n.editor.Name
	if d.ScheduledAt == nil {
		rec["date"] = justNow
	}

	saved, err := n.rows.Insert(ctx, ArticlesCollection, rec)
	if err != nil {
		return Article{}, errors.Wrap(err, "inserting article")
	}
	n.snap.Update(func(recs []collection.Record) []collection.Record {
		for _, r := range recs {
			if r.ID() == saved.ID() {
				return recs
			}
		}
		return append([]collection.Record{saved}, recs...)
	})
	var a Article
	err = collection.Decode(saved, &a)
	return a, err
}

// Update rewrites an article. The author and the displayed date are kept unless it is rescheduled.
func (n *Newsroom) Update(ctx context.Context, id string, d Draft) (Article, error) {
	d, err := n.prepare(d)
	if err != nil {
		return Article{}, err
	}
	saved, err := n.rows.Update(ctx, ArticlesCollection, id, fields(d))
	if err != nil {
		return Article{}, errors.Wrap(err, "updating article")
	}
	n.snap.Update(func(recs []collection.Record) []collection.Record {
		out := make([]collection.Record, len(recs))
		for i, r := range recs {
			if r.ID() == id {
				r = saved
			}
			out[i] = r
		}
		return out
	})
	var a Article
	err = collection.Decode(saved, &a)
	return a, err
}

// Delete removes an article for good.
func (n *Newsroom) Delete(ctx context.Context, id string) error {
	if !n.editor.Admin {
		return ErrEditorOnly
	}
	if err := n.rows.Delete(ctx, ArticlesCollection, id); err != nil {
		return errors.Wrap(err, "deleting article")
	}
	n.snap.Update(func(recs []collection.Record) []collection.Record {
		out := recs[:0:0]
		for _, r := range recs {
			if r.ID() != id {
				out = append(out, r)
			}
		}
		return out
	})
	return nil
}

func (n *Newsroom) Changes() <-chan struct{}       { return n.snap.Changes() }
func (n *Newsroom) Wait(ctx context.Context) error { return n.snap.Wait(ctx) }
func (n *Newsroom) Close() error                   { return n.snap.Close() }
