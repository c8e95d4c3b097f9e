package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/monquartier/monquartier/core/backend"
	"github.com/monquartier/monquartier/core/user"
)

// Auth signs residents in against the API. The session survives restarts through a session file.
type Auth struct {
	backend.SessionHolder
	client *Client
	file   string
}

var _ backend.Auth = (*Auth)(nil)

type (
	loginRequest struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	loginResponse struct {
		Token string    `json:"token"`
		User  user.User `json:"user"`
	}
)

func sessionOf(resp loginResponse) backend.Session {
	return backend.Session{
		UserID:      resp.User.ID,
		CommunityID: resp.User.CommunityID,
		Role:        resp.User.Role,
		Name:        resp.User.Name,
		Token:       resp.Token,
	}
}

func (a *Auth) SignIn(ctx context.Context, email, password string) (backend.Session, error) {
	var resp loginResponse
	if err := a.client.doJSON(ctx, "sign in", http.MethodPost, "/v1/users/login", nil, loginRequest{email, password}, &resp); err != nil {
		return backend.Session{}, err
	}
	return a.start(resp)
}

// Register creates the resident account and signs it in.
func (a *Auth) Register(ctx context.Context, nu user.NewUser) (backend.Session, error) {
	var resp loginResponse
	if err := a.client.doJSON(ctx, "register", http.MethodPost, "/v1/users/register", nil, nu, &resp); err != nil {
		return backend.Session{}, err
	}
	return a.start(resp)
}

func (a *Auth) start(resp loginResponse) (backend.Session, error) {
	sess := sessionOf(resp)
	if err := a.save(sess); err != nil {
		return backend.Session{}, err
	}
	a.SetSession(sess, true)
	return sess, nil
}

func (a *Auth) SignOut(ctx context.Context) error {
	a.SetSession(backend.Session{}, false)
	if a.file == "" {
		return nil
	}
	if err := os.Remove(a.file); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "removing session file")
	}
	return nil
}

// Restore signs the saved session back in. It reports false when there is none.
func (a *Auth) Restore() (bool, error) {
	if a.file == "" {
		return false, nil
	}
	data, err := os.ReadFile(a.file)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.Wrap(err, "reading session file")
	}
	var sess backend.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return false, errors.Wrap(err, "decoding session file")
	}
	if sess.Token == "" {
		return false, nil
	}
	a.SetSession(sess, true)
	return true, nil
}

func (a *Auth) save(sess backend.Session) error {
	if a.file == "" {
		return nil
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return errors.Wrap(err, "encoding session")
	}
	if err := os.MkdirAll(filepath.Dir(a.file), 0o700); err != nil {
		return errors.Wrap(err, "creating session dir")
	}
	return errors.Wrap(os.WriteFile(a.file, data, 0o600), "writing session file")
}

// Me returns the signed in resident.
func (a *Auth) Me(ctx context.Context) (user.User, error) {
	var usr user.User
	err := a.client.doJSON(ctx, "get profile", http.MethodGet, "/v1/users/me", nil, nil, &usr)
	return usr, err
}

// VerifyFamilyCode returns the family a code lets a new resident join.
func (a *Auth) VerifyFamilyCode(ctx context.Context, code string) (user.FamilyInfo, error) {
	var info user.FamilyInfo
	body := map[string]string{"code": code}
	err := a.client.doJSON(ctx, "verify family code", http.MethodPost, "/v1/users/family-code", nil, body, &info)
	return info, err
}

func (a *Auth) RequestPasswordReset(ctx context.Context, email string) error {
	body := map[string]string{"email": email}
	return a.client.doJSON(ctx, "request password reset", http.MethodPost, "/v1/users/password-reset", nil, body, nil)
}
