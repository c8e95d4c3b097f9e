package chat

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/monquartier/monquartier/core"
	"github.com/monquartier/monquartier/core/collection"
	"github.com/monquartier/monquartier/core/optimistic"
	"github.com/monquartier/monquartier/core/visibility"
)

var (
	// mockable
	nowFunc   = time.Now
	readDelay = 1500 * time.Millisecond

	ErrEmptyMessage = core.NewValidationError(
		errors.New("Le message est vide."),
		core.FieldError{Field: "content", Error: "Le message est vide."},
	)
	ErrLocked = core.NewValidationError(errors.New("Ce salon est protégé par un mot de passe."))
)

// Room is the live message list of a channel. Messages are sent optimistically.
type Room struct {
	author Author
	snap   *collection.Snapshot
	flow   *optimistic.Flow[Draft]

	mu      sync.Mutex
	channel Channel
}

// OpenRoom opens the messages of ch, oldest first. origin identifies the local session.
func OpenRoom(ctx context.Context, store *collection.Store, rows collection.RowStore, origin string, ch Channel, author Author) (*Room, error) {
	if ch.NeedsPassword(author.ID) {
		return nil, ErrLocked
	}
	snap, err := store.Open(ctx, collection.Options{
		Collection: MessagesCollection,
		SortField:  collection.FieldCreatedAt,
		Ascending:  true,
		Filters:    []collection.Filter{{Field: "channel_id", Value: ch.ID}},
	})
	if err != nil {
		return nil, errors.Wrap(err, "opening messages")
	}

	r := &Room{author: author, snap: snap, channel: ch}
	r.flow = optimistic.New(snap, optimistic.Config[Draft]{
		Origin:   origin,
		Encode:   r.encode,
		Validate: r.validate,
		Write: func(ctx context.Context, payload collection.Record) (collection.Record, error) {
			return rows.Insert(ctx, MessagesCollection, payload)
		},
		Placement: optimistic.Append,
		ReadAfter: readDelay,
	})
	return r, nil
}

func (r *Room) Channel() Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.channel
}

// SetChannel refreshes the channel, e.g. after a DM request was answered.
func (r *Room) SetChannel(ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch.ID == r.channel.ID {
		r.channel = ch
	}
}

func (r *Room) validate(d Draft) error {
	if d.content() == "" {
		return ErrEmptyMessage
	}
	if !r.Channel().Writable(r.author.ID) {
		return ErrChannelClosed
	}
	return nil
}

func (r *Room) encode(d Draft) collection.Record {
	rec := collection.Record{
		"channel_id": r.Channel().ID,
		"user_id":    r.author.ID,
		"user_name":  r.author.Name,
		"user_role":  r.author.Role,
		"content":    d.content(),
	}
	rec[collection.FieldCreatedAt] = collection.FormatTime(nowFunc())
	if d.ReplyTo != nil {
		rec["reply_to_id"] = d.ReplyTo.ID
		rec["reply_to_name"] = d.ReplyTo.UserName
		rec["reply_to_content"] = d.ReplyTo.Content
	}
	return rec
}

// Send shows d at the end of the room and writes it.
// On failure the message stays in the room with the failed status.
func (r *Room) Send(ctx context.Context, d Draft) (Message, error) {
	rec, err := r.flow.Insert(ctx, "", d)
	if rec == nil {
		return Message{}, err
	}
	msg, decErr := MessageFromRecord(rec)
	if decErr != nil {
		return Message{}, decErr
	}
	return msg, err
}

// Retry resends a failed message.
func (r *Room) Retry(ctx context.Context, tempID string) (Message, error) {
	rec, err := r.flow.Retry(ctx, tempID)
	if rec == nil {
		return Message{}, err
	}
	msg, decErr := MessageFromRecord(rec)
	if decErr != nil {
		return Message{}, decErr
	}
	return msg, err
}

func (r *Room) Messages() []Message {
	recs := r.snap.Records()
	msgs := make([]Message, 0, len(recs))
	for _, rec := range recs {
		if msg, err := MessageFromRecord(rec); err == nil {
			msgs = append(msgs, msg)
		}
	}
	return msgs
}

func (r *Room) Loading() bool                  { return r.snap.Loading() }
func (r *Room) Err() error                     { return r.snap.Err() }
func (r *Room) Changes() <-chan struct{}       { return r.snap.Changes() }
func (r *Room) Wait(ctx context.Context) error { return r.snap.Wait(ctx) }

func (r *Room) Close() error {
	r.flow.Stop()
	return r.snap.Close()
}

// ChannelList is the live list of the channels an actor may see.
type ChannelList struct {
	snap *collection.Snapshot
	view *visibility.View
}

func OpenChannelList(ctx context.Context, store *collection.Store, actor visibility.Actor) (*ChannelList, error) {
	scope := actor.CommunityID
	if actor.Global {
		scope = ""
	}
	snap, err := store.Open(ctx, collection.Options{Collection: ChannelsCollection, Scope: scope})
	if err != nil {
		return nil, errors.Wrap(err, "opening channels")
	}
	return &ChannelList{
		snap: snap,
		view: visibility.NewView(snap, actor, visibility.All(visibility.SameCommunity, visibility.ChannelVisible)),
	}, nil
}

func (l *ChannelList) SetActor(actor visibility.Actor) { l.view.SetActor(actor) }

func (l *ChannelList) channels(keep func(Channel) bool) []Channel {
	recs := l.view.Records()
	out := make([]Channel, 0, len(recs))
	for _, rec := range recs {
		ch, err := ChannelFromRecord(rec)
		if err == nil && keep(ch) {
			out = append(out, ch)
		}
	}
	return out
}

// Salons returns the visible public and private salons.
func (l *ChannelList) Salons() []Channel {
	return l.channels(func(ch Channel) bool { return ch.Type != TypeDM })
}

// DMs returns the visible direct messages, rejected requests excluded.
func (l *ChannelList) DMs() []Channel {
	return l.channels(func(ch Channel) bool { return ch.Type == TypeDM && ch.Status != StatusRejected })
}

func (l *ChannelList) Get(id string) (Channel, bool) {
	found := l.channels(func(ch Channel) bool { return ch.ID == id })
	if len(found) == 0 {
		return Channel{}, false
	}
	return found[0], true
}

// Upsert shows ch right away, before the change stream delivers it.
func (l *ChannelList) Upsert(ch Channel) {
	rec, err := ch.Record()
	if err != nil {
		return
	}
	l.snap.Update(func(recs []collection.Record) []collection.Record {
		for i, r := range recs {
			if r.ID() == ch.ID {
				recs[i] = rec
				return recs
			}
		}
		return append(recs, rec)
	})
}

func (l *ChannelList) Changes() <-chan struct{}       { return l.snap.Changes() }
func (l *ChannelList) Wait(ctx context.Context) error { return l.snap.Wait(ctx) }
func (l *ChannelList) Close() error                   { return l.snap.Close() }
