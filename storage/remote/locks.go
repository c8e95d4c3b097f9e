package remote

import (
	"context"
	"net/http"
	"net/url"

	"github.com/monquartier/monquartier/core/chat"
	"github.com/monquartier/monquartier/core/collection"
)

// locks asks the API to guard the private salons, the passwords are checked server side.
type locks struct {
	c *Client
}

var _ chat.Locks = (*locks)(nil)

type channelPasswordRequest struct {
	Password string `json:"password"`
}

func channelPath(id, action string) string {
	return "/v1/channels/" + url.PathEscape(id) + "/" + action
}

func (l *locks) SetPassword(ctx context.Context, channelID, password string) error {
	return l.c.doJSON(ctx, "lock channel", http.MethodPost, channelPath(channelID, "password"), nil, channelPasswordRequest{password}, nil)
}

// Join adds the signed in resident to the channel members, userID is taken from the session.
func (l *locks) Join(ctx context.Context, channelID, userID, password string) (collection.Record, error) {
	var rec collection.Record
	err := l.c.doJSON(ctx, "join channel", http.MethodPost, channelPath(channelID, "join"), nil, channelPasswordRequest{password}, &rec)
	return rec, err
}
