package chat

import (
	"strings"

	"github.com/monquartier/monquartier/core/collection"
	"github.com/monquartier/monquartier/core/optimistic"
	"github.com/monquartier/monquartier/core/visibility"
)

// Channel types
const (
	TypePublic  = visibility.Public
	TypePrivate = visibility.Private
	TypeDM      = visibility.DM
)

// Channel statuses
const (
	StatusActive   = "ACTIVE"
	StatusPending  = "PENDING" // DM waiting for the other member to accept
	StatusRejected = "REJECTED"
)

const salonDescription = "Salon créé par un habitant"

type Channel struct {
	ID          string   `json:"id,omitempty"`
	CommunityID string   `json:"community_id"`
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Members     []string `json:"members"`
	CreatorID   string   `json:"creator_id,omitempty"`
	IsLocked    bool     `json:"is_locked"`
	Status      string   `json:"status,omitempty"`
	InitiatorID string   `json:"initiator_id,omitempty"`
}

func ChannelFromRecord(rec collection.Record) (Channel, error) {
	var ch Channel
	err := collection.Decode(rec, &ch)
	return ch, err
}

func (ch Channel) Record() (collection.Record, error) {
	return collection.Encode(ch)
}

func (ch Channel) IsMember(userID string) bool {
	for _, m := range ch.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// NeedsPassword reports whether userID must give the channel password before reading it.
func (ch Channel) NeedsPassword(userID string) bool {
	return ch.Type == TypePrivate && ch.IsLocked && !ch.IsMember(userID)
}

// AwaitsAnswerFrom reports whether the channel is a DM request userID has to accept or reject.
func (ch Channel) AwaitsAnswerFrom(userID string) bool {
	return ch.Type == TypeDM && ch.Status == StatusPending && ch.InitiatorID != userID && ch.IsMember(userID)
}

// Writable reports whether userID may post in the channel.
func (ch Channel) Writable(userID string) bool {
	switch {
	case ch.Status == StatusRejected:
		return false
	case ch.NeedsPassword(userID):
		return false
	case ch.Type == TypeDM && ch.Status == StatusPending:
		return ch.InitiatorID == userID
	}
	return true
}

// DisplayName is the channel name, or the other member's name for DMs.
func (ch Channel) DisplayName(userID string, names map[string]string) string {
	if ch.Type != TypeDM {
		return ch.Name
	}
	for _, m := range ch.Members {
		if m != userID {
			if name, ok := names[m]; ok {
				return name
			}
		}
	}
	return "Utilisateur"
}

type Message struct {
	ID             string `json:"id,omitempty"`
	ChannelID      string `json:"channel_id"`
	UserID         string `json:"user_id"`
	UserName       string `json:"user_name"`
	UserRole       string `json:"user_role"`
	Content        string `json:"content"`
	ReplyToID      string `json:"reply_to_id,omitempty"`
	ReplyToName    string `json:"reply_to_name,omitempty"`
	ReplyToContent string `json:"reply_to_content,omitempty"`
	CreatedAt      string `json:"created_at,omitempty"`
	ClientRef      string `json:"client_ref,omitempty"`
	Status         string `json:"_status,omitempty"`
}

func MessageFromRecord(rec collection.Record) (Message, error) {
	var msg Message
	if err := collection.Decode(rec, &msg); err != nil {
		return Message{}, err
	}
	msg.Status = string(optimistic.StatusOf(rec))
	return msg, nil
}

// Draft is a message being written by the current user.
type Draft struct {
	Content string
	ReplyTo *Message
}

func (d Draft) content() string {
	return strings.TrimSpace(d.Content)
}

// Collections
const (
	ChannelsCollection = "channels"
	MessagesCollection = "messages"
	SecretsCollection  = "channel_secrets"
)
