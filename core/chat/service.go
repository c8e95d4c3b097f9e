// Package chat holds the community channels: public and private salons, direct messages
// and the live message rooms.
package chat

import (
	"context"
	"strings"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"

	"github.com/monquartier/monquartier/core"
	"github.com/monquartier/monquartier/core/collection"
)

var (
	// errors
	ErrWrongPassword  = core.NewValidationError(errors.New("Mot de passe incorrect."))
	ErrNotAwaiting    = core.NewValidationError(errors.New("Cette demande n'attend pas votre réponse."))
	ErrChannelClosed  = core.NewValidationError(errors.New("Cette conversation n'est pas ouverte."))
	ErrSelfDM         = core.NewValidationError(errors.New("Impossible de discuter avec soi-même."))
	ErrMissingSalonPw = core.NewValidationError(
		errors.New("Un salon privé requiert un mot de passe."),
		core.FieldError{Field: "password", Error: "Un salon privé requiert un mot de passe."},
	)
)

type (
	// Author is the resident writing in a channel.
	Author struct {
		ID   string
		Name string
		Role string
	}

	NewSalon struct {
		CommunityID string
		Name        string
		Private     bool
		Password    string // required for private salons
		CreatorID   string
	}

	// Locks guards the private salons. Channel passwords never leave it.
	Locks interface {
		SetPassword(ctx context.Context, channelID, password string) error
		// Join adds userID to the members of a locked channel when password is right.
		Join(ctx context.Context, channelID, userID, password string) (collection.Record, error)
	}

	Directory struct {
		rows  collection.RowStore
		locks Locks
	}
)

func NewDirectory(rows collection.RowStore, locks Locks) *Directory {
	return &Directory{rows: rows, locks: locks}
}

func (d *Directory) getChannel(ctx context.Context, id string) (Channel, error) {
	recs, err := d.rows.Query(ctx, collection.Query{Collection: ChannelsCollection}.Where(collection.FieldID, id))
	if err != nil {
		return Channel{}, errors.Wrap(err, "getting channel")
	}
	if len(recs) == 0 {
		return Channel{}, collection.ErrNotFound
	}
	return ChannelFromRecord(recs[0])
}

// Channels returns the channels of a community, visible or not.
func (d *Directory) Channels(ctx context.Context, communityID string) ([]Channel, error) {
	recs, err := d.rows.Query(ctx, collection.NewQuery(ChannelsCollection, communityID, ""))
	if err != nil {
		return nil, errors.Wrap(err, "querying channels")
	}
	channels := make([]Channel, 0, len(recs))
	for _, rec := range recs {
		ch, err := ChannelFromRecord(rec)
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, nil
}

func (d *Directory) insert(ctx context.Context, ch Channel) (Channel, error) {
	rec, err := ch.Record()
	if err != nil {
		return Channel{}, err
	}
	saved, err := d.rows.Insert(ctx, ChannelsCollection, rec)
	if err != nil {
		return Channel{}, errors.Wrap(err, "inserting channel")
	}
	return ChannelFromRecord(saved)
}

// OpenDM returns the direct message channel between me and other, creating it as a pending request if needed.
func (d *Directory) OpenDM(ctx context.Context, communityID string, me, other Author) (Channel, error) {
	err := vala.BeginValidation().Validate(
		vala.StringNotEmpty(communityID, "community_id"),
		vala.StringNotEmpty(me.ID, "me"),
		vala.StringNotEmpty(other.ID, "other"),
	).Check()
	if err != nil {
		return Channel{}, core.NewValidationError(err)
	}
	if me.ID == other.ID {
		return Channel{}, ErrSelfDM
	}

	channels, err := d.Channels(ctx, communityID)
	if err != nil {
		return Channel{}, err
	}
	for _, ch := range channels {
		if ch.Type == TypeDM && ch.IsMember(me.ID) && ch.IsMember(other.ID) {
			return ch, nil
		}
	}

	return d.insert(ctx, Channel{
		CommunityID: communityID,
		Name:        me.Name + " & " + other.Name,
		Type:        TypeDM,
		Members:     []string{me.ID, other.ID},
		CreatorID:   me.ID,
		Status:      StatusPending,
		InitiatorID: me.ID,
	})
}

// RespondDM accepts or rejects a pending DM request addressed to userID.
func (d *Directory) RespondDM(ctx context.Context, channelID, userID string, accept bool) (Channel, error) {
	ch, err := d.getChannel(ctx, channelID)
	if err != nil {
		return Channel{}, err
	}
	if !ch.AwaitsAnswerFrom(userID) {
		return Channel{}, ErrNotAwaiting
	}

	status := StatusRejected
	if accept {
		status = StatusActive
	}
	rec, err := d.rows.Update(ctx, ChannelsCollection, ch.ID, collection.Record{"status": status})
	if err != nil {
		return Channel{}, errors.Wrap(err, "updating channel status")
	}
	return ChannelFromRecord(rec)
}

// CreateSalon creates a public salon, or a private one locked by a password.
func (d *Directory) CreateSalon(ctx context.Context, salon NewSalon) (Channel, error) {
	salon.Name = strings.TrimSpace(salon.Name)
	err := vala.BeginValidation().Validate(
		vala.StringNotEmpty(salon.CommunityID, "community_id"),
		vala.StringNotEmpty(salon.Name, "name"),
		vala.StringNotEmpty(salon.CreatorID, "creator_id"),
	).Check()
	if err != nil {
		return Channel{}, core.NewValidationError(err)
	}
	if salon.Private && salon.Password == "" {
		return Channel{}, ErrMissingSalonPw
	}

	typ := TypePublic
	if salon.Private {
		typ = TypePrivate
	}
	ch, err := d.insert(ctx, Channel{
		CommunityID: salon.CommunityID,
		Name:        salon.Name,
		Type:        typ,
		Description: salonDescription,
		Members:     []string{salon.CreatorID},
		CreatorID:   salon.CreatorID,
		IsLocked:    salon.Private,
		Status:      StatusActive,
	})
	if err != nil || !salon.Private {
		return ch, err
	}

	if err = d.locks.SetPassword(ctx, ch.ID, salon.Password); err != nil {
		// an unlockable salon is useless
		if delErr := d.rows.Delete(ctx, ChannelsCollection, ch.ID); delErr != nil {
			return Channel{}, errors.Wrap(delErr, "deleting salon without password")
		}
		return Channel{}, err
	}
	return ch, nil
}

// JoinLocked adds userID to a locked salon.
func (d *Directory) JoinLocked(ctx context.Context, channelID, userID, password string) (Channel, error) {
	rec, err := d.locks.Join(ctx, channelID, userID, password)
	if err != nil {
		return Channel{}, err
	}
	return ChannelFromRecord(rec)
}

// ServerLocks keeps the bcrypt hash of the salon passwords in a hidden collection of the row store.
type ServerLocks struct {
	rows collection.RowStore
}

func NewServerLocks(rows collection.RowStore) *ServerLocks {
	return &ServerLocks{rows: rows}
}

func (l *ServerLocks) SetPassword(ctx context.Context, channelID, password string) error {
	if password == "" {
		return ErrMissingSalonPw
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return errors.Wrap(err, "hashing channel password")
	}
	_, err = l.rows.Upsert(ctx, SecretsCollection, collection.Record{
		"channel_id":    channelID,
		"password_hash": string(hash),
	}, "channel_id")
	return errors.Wrap(err, "saving channel password")
}

func (l *ServerLocks) Join(ctx context.Context, channelID, userID, password string) (collection.Record, error) {
	recs, err := l.rows.Query(ctx, collection.Query{Collection: ChannelsCollection}.Where(collection.FieldID, channelID))
	if err != nil {
		return nil, errors.Wrap(err, "getting channel")
	}
	if len(recs) == 0 {
		return nil, collection.ErrNotFound
	}
	ch, err := ChannelFromRecord(recs[0])
	if err != nil {
		return nil, err
	}
	if !ch.NeedsPassword(userID) {
		return recs[0], nil
	}

	secrets, err := l.rows.Query(ctx, collection.Query{Collection: SecretsCollection}.Where("channel_id", channelID))
	if err != nil {
		return nil, errors.Wrap(err, "getting channel password")
	}
	if len(secrets) == 0 {
		return nil, ErrWrongPassword
	}
	if err = bcrypt.CompareHashAndPassword([]byte(secrets[0].Text("password_hash")), []byte(password)); err != nil {
		return nil, ErrWrongPassword
	}

	members := append(ch.Members, userID)
	rec, err := l.rows.Update(ctx, ChannelsCollection, channelID, collection.Record{"members": members})
	return rec, errors.Wrap(err, "adding channel member")
}
