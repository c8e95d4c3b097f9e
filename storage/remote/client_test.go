package remote_test

import (
	"bytes"
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/monquartier/monquartier/apps/api/echo"
	"github.com/monquartier/monquartier/core"
	"github.com/monquartier/monquartier/core/backend"
	"github.com/monquartier/monquartier/core/chat"
	"github.com/monquartier/monquartier/core/collection"
	"github.com/monquartier/monquartier/core/media"
	"github.com/monquartier/monquartier/core/user"
	emailsvc "github.com/monquartier/monquartier/services/email"
	logsvc "github.com/monquartier/monquartier/services/logger"
	"github.com/monquartier/monquartier/storage/blob/memory"
	inmemdb "github.com/monquartier/monquartier/storage/database/inmem"
	"github.com/monquartier/monquartier/storage/realtime"
	. "github.com/monquartier/monquartier/storage/remote"
	"github.com/monquartier/monquartier/tests"
)

const password = "Ndakaaru2024"

type testEnv struct {
	srv     *httptest.Server
	usrRepo user.Repository
	rows    collection.RowStore
	hub     *realtime.Hub
	logger  core.Logger
}

func setup(t *testing.T) testEnv {
	t.Helper()
	conf := core.NewTestConfig()
	logger := logsvc.NewTestLogger(log.New(io.Discard, "", 0))

	db := inmemdb.Open()
	hub := realtime.NewHub()
	usrRepo := inmemdb.NewUserRepository(db)
	rows := inmemdb.NewRowStore(db, hub)
	blobs := memory.New(conf.Blob.PublicBaseURL)
	usrSvc := user.NewServiceMock(usrRepo, emailsvc.NewConsoleServiceMock(conf, logger), conf, logger)

	srv := httptest.NewServer(echoapi.NewServer(&echoapi.Options{
		DisableReqLogs: true,
		Conf:           conf,
		Logger:         logger,
		UserSvc:        usrSvc,
		Rows:           rows,
		Changes:        hub,
		Locks:          chat.NewServerLocks(rows),
		Uploads:        media.NewUploader(blobs),
		Media:          blobs,
	}))
	t.Cleanup(func() {
		srv.Close()
		hub.Close()
	})
	return testEnv{srv: srv, usrRepo: usrRepo, rows: rows, hub: hub, logger: logger}
}

func (env testEnv) newClient(t *testing.T, sessionFile ...string) *Client {
	t.Helper()
	conf := core.ClientConfig{APIBaseURL: env.srv.URL}
	if len(sessionFile) > 0 {
		conf.SessionFile = sessionFile[0]
	}
	c, err := New(conf, env.logger)
	require.NoError(t, err)
	return c
}

// signIn creates a resident of communityID and signs them in with a new client.
func (env testEnv) signIn(t *testing.T, name, email, communityID string) (*Client, user.User) {
	t.Helper()
	usr := testutil.CreateUser(t, env.usrRepo, name, email, password, communityID, "", "")
	c := env.newClient(t)
	_, err := c.Auth().SignIn(context.Background(), email, password)
	require.NoError(t, err)
	return c, usr
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		conf    core.ClientConfig
		wantErr bool
	}{
		{name: "no base URL", conf: core.ClientConfig{}, wantErr: true},
		{name: "not http", conf: core.ClientConfig{APIBaseURL: "ftp://api.test"}, wantErr: true},
		{name: "ok", conf: core.ClientConfig{APIBaseURL: "https://api.monquartier.test/"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.conf, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !core.IsConfigError(err) {
				t.Errorf("New() error = %v, want a config error", err)
			}
		})
	}
}

func TestAuth(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	usr := testutil.CreateUser(t, env.usrRepo, "Awa", "awa@test.sn", password, "c1", user.RoleSecurity, "")
	sessionFile := filepath.Join(t.TempDir(), "session.json")

	t.Run("wrong password", func(t *testing.T) {
		c := env.newClient(t, sessionFile)
		_, err := c.Auth().SignIn(ctx, usr.Email, "lol")
		require.Error(t, err)
		assert.Equal(t, "Email ou mot de passe incorrect.", core.UserMessage(err))
		_, signedIn := c.Auth().Session()
		assert.False(t, signedIn)
	})

	t.Run("sign in", func(t *testing.T) {
		c := env.newClient(t, sessionFile)
		var notified []bool
		cancel := c.Auth().OnSessionChange(func(sess backend.Session, signedIn bool) { notified = append(notified, signedIn) })
		defer cancel()

		sess, err := c.Auth().SignIn(ctx, usr.Email, password)
		require.NoError(t, err)
		assert.Equal(t, usr.ID, sess.UserID)
		assert.Equal(t, "c1", sess.CommunityID)
		assert.Equal(t, user.RoleSecurity, sess.Role)
		assert.NotEmpty(t, sess.Token)
		assert.Equal(t, []bool{true}, notified)

		me, err := c.Auth().Me(ctx)
		require.NoError(t, err)
		assert.Equal(t, usr.ID, me.ID)
	})

	t.Run("restore", func(t *testing.T) {
		c := env.newClient(t, sessionFile)
		ok, err := c.Auth().Restore()
		require.NoError(t, err)
		require.True(t, ok)
		sess, err := c.Backend().CurrentSession()
		require.NoError(t, err)
		assert.Equal(t, usr.ID, sess.UserID)

		require.NoError(t, c.Auth().SignOut(ctx))
		_, err = c.Backend().CurrentSession()
		assert.Equal(t, backend.ErrNotSignedIn, err)

		ok, err = env.newClient(t, sessionFile).Auth().Restore()
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("not signed in", func(t *testing.T) {
		_, err := env.newClient(t).Auth().Me(ctx)
		assert.Equal(t, backend.ErrNotSignedIn, errors.Cause(err))
	})

	t.Run("register", func(t *testing.T) {
		c := env.newClient(t)
		_, err := c.Auth().Register(ctx, user.NewUser{Email: usr.Email, Password: password, Name: "Awa bis", CommunityID: "c1"})
		vErr, ok := errors.Cause(err).(*core.ValidationError)
		require.True(t, ok, "err = %v", err)
		assert.Equal(t, []core.FieldError{{Field: "email", Error: "Cet utilisateur existe déjà."}}, vErr.Fields)

		sess, err := c.Auth().Register(ctx, user.NewUser{Email: "fatou@test.sn", Password: password, Name: "Fatou", CommunityID: "c1"})
		require.NoError(t, err)
		assert.Equal(t, "Fatou", sess.Name)
		assert.Equal(t, user.RoleResident, sess.Role)
	})

	t.Run("password reset", func(t *testing.T) {
		c := env.newClient(t)
		require.NoError(t, c.Auth().RequestPasswordReset(ctx, usr.Email))
		err := c.Auth().RequestPasswordReset(ctx, usr.Email)
		assert.True(t, IsStatus(err, http.StatusTooManyRequests), "err = %v", err)
	})
}

func TestRowStore(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	c, awa := env.signIn(t, "Awa", "awa@test.sn", "c1")
	rows := c.Rows()

	_, err := env.rows.Insert(ctx, "alerts", collection.Record{"community_id": "c2", "type": "SOS", "message": "ailleurs"})
	require.NoError(t, err)

	first, err := rows.Insert(ctx, "alerts", collection.Record{"type": "SOS", "message": "au secours", collection.FieldStatus: "pending"})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID())
	assert.Equal(t, "c1", first.Scope())
	assert.Equal(t, awa.ID, first.Origin())
	assert.Empty(t, first.Status())

	second, err := rows.Insert(ctx, "alerts", collection.Record{"type": "THEFT", "message": "vol de moto"})
	require.NoError(t, err)

	t.Run("query", func(t *testing.T) {
		recs, err := rows.Query(ctx, collection.NewQuery("alerts", "c1", "").OrderBy("message", false))
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, second.ID(), recs[0].ID())
		assert.Equal(t, first.ID(), recs[1].ID())

		recs, err = rows.Query(ctx, collection.Query{Collection: "alerts"}.Where("type", "THEFT"))
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, second.ID(), recs[0].ID())
	})

	t.Run("unknown collection", func(t *testing.T) {
		_, err := rows.Query(ctx, collection.Query{Collection: "lol"})
		assert.Equal(t, collection.ErrCollectionNotFound, errors.Cause(err))
	})

	t.Run("update", func(t *testing.T) {
		rec, err := rows.Update(ctx, "alerts", first.ID(), collection.Record{"status": "RESOLVED"})
		require.NoError(t, err)
		assert.Equal(t, "RESOLVED", rec.Text("status"))
		assert.Equal(t, "au secours", rec.Text("message"))

		_, err = rows.Update(ctx, "alerts", "lol", collection.Record{"status": "RESOLVED"})
		assert.Equal(t, collection.ErrNotFound, errors.Cause(err))
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, rows.Delete(ctx, "alerts", second.ID()))
		err := rows.Delete(ctx, "alerts", second.ID())
		assert.Equal(t, collection.ErrNotFound, errors.Cause(err))
	})

	t.Run("upsert", func(t *testing.T) {
		proposal, err := env.rows.Insert(ctx, "proposals", collection.Record{"community_id": "c1", "title": "Éclairage public"})
		require.NoError(t, err)
		vote := collection.Record{"proposal_id": proposal.ID(), "user_id": awa.ID, "choice": "FOR"}
		_, err = rows.Insert(ctx, "votes", vote)
		require.NoError(t, err)
		_, err = rows.Insert(ctx, "votes", vote)
		assert.Equal(t, collection.ErrConflict, errors.Cause(err))
		assert.Equal(t, "Conflit de données (Email/Tél déjà utilisé).", core.UserMessage(err))

		rec, err := rows.Upsert(ctx, "votes", vote.With("choice", "AGAINST"), "proposal_id", "user_id")
		require.NoError(t, err)
		assert.Equal(t, "AGAINST", rec.Text("choice"))

		recs, err := rows.Query(ctx, collection.Query{Collection: "votes"}.Where("proposal_id", proposal.ID()))
		require.NoError(t, err)
		assert.Len(t, recs, 1)
	})
}

func TestChangeStream(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	c, _ := env.signIn(t, "Awa", "awa@test.sn", "c1")

	t.Run("not signed in", func(t *testing.T) {
		_, err := env.newClient(t).Changes().Subscribe(ctx, "alerts", func(collection.ChangeEvent) {})
		assert.Equal(t, backend.ErrNotSignedIn, err)
	})

	t.Run("hidden collection", func(t *testing.T) {
		_, err := c.Changes().Subscribe(ctx, chat.SecretsCollection, func(collection.ChangeEvent) {})
		assert.Equal(t, collection.ErrCollectionNotFound, err)
	})

	t.Run("events of the community", func(t *testing.T) {
		events := make(chan collection.ChangeEvent, 10)
		sub, err := c.Changes().Subscribe(ctx, "alerts", func(ev collection.ChangeEvent) { events <- ev })
		require.NoError(t, err)
		require.Eventually(t, func() bool { return env.hub.Subscribers("alerts") == 1 }, time.Second, 10*time.Millisecond)

		_, err = env.rows.Insert(ctx, "alerts", collection.Record{"community_id": "c2", "type": "SOS"})
		require.NoError(t, err)
		mine, err := env.rows.Insert(ctx, "alerts", collection.Record{"community_id": "c1", "type": "SOS"})
		require.NoError(t, err)

		select {
		case ev := <-events:
			assert.Equal(t, collection.Inserted, ev.Type)
			assert.Equal(t, mine.ID(), ev.ID)
			assert.Equal(t, "alerts", ev.Collection)
		case <-time.After(2 * time.Second):
			t.Fatal("no event received")
		}

		require.NoError(t, sub.Unsubscribe())
		require.NoError(t, sub.Unsubscribe())
		assert.Eventually(t, func() bool { return env.hub.Subscribers("alerts") == 0 }, time.Second, 10*time.Millisecond)
	})

	t.Run("cancelled context", func(t *testing.T) {
		subCtx, cancel := context.WithCancel(ctx)
		_, err := c.Changes().Subscribe(subCtx, "alerts", func(collection.ChangeEvent) {})
		require.NoError(t, err)
		require.Eventually(t, func() bool { return env.hub.Subscribers("alerts") == 1 }, time.Second, 10*time.Millisecond)

		cancel()
		assert.Eventually(t, func() bool { return env.hub.Subscribers("alerts") == 0 }, time.Second, 10*time.Millisecond)
	})
}

func TestBackend_store(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	c, _ := env.signIn(t, "Awa", "awa@test.sn", "c1")

	_, err := env.rows.Insert(ctx, "alerts", collection.Record{"community_id": "c1", "type": "SOS"})
	require.NoError(t, err)

	snap, err := c.Backend().Store().Open(ctx, collection.Options{Collection: "alerts", Scope: "c1", SortField: collection.FieldCreatedAt})
	require.NoError(t, err)
	defer snap.Close()
	require.NoError(t, snap.Wait(ctx))
	require.NoError(t, snap.Err())
	assert.Len(t, snap.Records(), 1)

	require.Eventually(t, func() bool { return env.hub.Subscribers("alerts") == 1 }, time.Second, 10*time.Millisecond)
	_, err = env.rows.Insert(ctx, "alerts", collection.Record{"community_id": "c1", "type": "THEFT"})
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return len(snap.Records()) == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestClient_upload(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	c, _ := env.signIn(t, "Awa", "awa@test.sn", "c1")

	png := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 32)...)
	url, err := c.Upload(ctx, png, "avatars", "moi.png")
	require.NoError(t, err)
	assert.Regexp(t, `^http://localhost:8000/media/avatars/[0-9a-z]+_\d+\.png$`, url)

	_, err = c.Upload(ctx, []byte("bonjour"), "avatars", "notes.txt")
	require.Error(t, err)
	assert.Equal(t, "file: format non supporté", core.UserMessage(err))
}

func TestClient_locks(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	awa, awaUsr := env.signIn(t, "Awa", "awa@test.sn", "c1")
	moussa, moussaUsr := env.signIn(t, "Moussa", "moussa@test.sn", "c1")

	salon, err := chat.NewDirectory(awa.Rows(), awa.Locks()).CreateSalon(ctx, chat.NewSalon{
		CommunityID: "c1",
		Name:        "Parents d'élèves",
		Private:     true,
		Password:    "secret",
		CreatorID:   awaUsr.ID,
	})
	require.NoError(t, err)
	assert.True(t, salon.IsLocked)

	dir := chat.NewDirectory(moussa.Rows(), moussa.Locks())
	_, err = dir.JoinLocked(ctx, salon.ID, moussaUsr.ID, "guess")
	require.Error(t, err)
	assert.Equal(t, "Mot de passe incorrect.", core.UserMessage(err))

	ch, err := dir.JoinLocked(ctx, salon.ID, moussaUsr.ID, "secret")
	require.NoError(t, err)
	assert.True(t, ch.IsMember(moussaUsr.ID))

	err = moussa.Locks().SetPassword(ctx, salon.ID, "mine")
	assert.True(t, IsStatus(err, http.StatusForbidden), "err = %v", err)
}

func TestClient_offline(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	c, _ := env.signIn(t, "Awa", "awa@test.sn", "c1")
	require.NoError(t, c.Ping(ctx))
	assert.True(t, c.Online())

	env.srv.Close()

	_, err := c.Rows().Query(ctx, collection.Query{Collection: "alerts"})
	require.Error(t, err)
	assert.True(t, core.IsTransportError(err))
	assert.Equal(t, "Impossible de joindre le serveur. Vérifiez votre connexion.", core.UserMessage(err))
	assert.False(t, c.Online())

	// the store keeps the fallback without fetching
	fallback := []collection.Record{{"id": "a1", "community_id": "c1"}}
	snap, err := c.Backend().Store().Open(ctx, collection.Options{Collection: "alerts", Scope: "c1", Fallback: fallback})
	require.NoError(t, err)
	defer snap.Close()
	assert.False(t, snap.Loading())
	assert.Equal(t, fallback, snap.Records())
}
