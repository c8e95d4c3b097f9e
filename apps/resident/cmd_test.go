package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/monquartier/monquartier/core"
	"github.com/monquartier/monquartier/core/backend"
	"github.com/monquartier/monquartier/core/chat"
	"github.com/monquartier/monquartier/core/collection"
	"github.com/monquartier/monquartier/core/finance"
	"github.com/monquartier/monquartier/core/governance"
	"github.com/monquartier/monquartier/core/jobs"
	"github.com/monquartier/monquartier/core/market"
	"github.com/monquartier/monquartier/core/media"
	"github.com/monquartier/monquartier/core/news"
	"github.com/monquartier/monquartier/core/security"
	"github.com/monquartier/monquartier/core/user"
	"github.com/monquartier/monquartier/storage/blob/memory"
	inmemdb "github.com/monquartier/monquartier/storage/database/inmem"
	"github.com/monquartier/monquartier/storage/realtime"
)

var (
	awa    = backend.Session{UserID: "u-awa", CommunityID: "c1", Role: user.RoleResident, Name: "Awa", Token: "t-awa"}
	moussa = backend.Session{UserID: "u-moussa", CommunityID: "c1", Role: user.RoleAdmin, Name: "Moussa", Token: "t-moussa"}
	kofi   = backend.Session{UserID: "u-kofi", CommunityID: "c2", Role: user.RoleResident, Name: "Kofi", Token: "t-kofi"}

	post = security.StaticLocator{Latitude: 14.7167, Longitude: -17.4677, Accuracy: 12}
)

// syncBuffer is written by a command running in another goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Reset()
}

type fakeAccounts struct {
	registered []user.NewUser
	resets     []string
	me         user.User
	families   map[string]user.FamilyInfo
}

func (f *fakeAccounts) Register(_ context.Context, nu user.NewUser) (backend.Session, error) {
	f.registered = append(f.registered, nu)
	return backend.Session{UserID: "u-new", Name: nu.Name, CommunityID: nu.CommunityID, Role: user.RoleResident}, nil
}

func (f *fakeAccounts) Me(context.Context) (user.User, error) { return f.me, nil }

func (f *fakeAccounts) VerifyFamilyCode(_ context.Context, code string) (user.FamilyInfo, error) {
	info, ok := f.families[code]
	if !ok {
		return user.FamilyInfo{}, collection.ErrNotFound
	}
	return info, nil
}

func (f *fakeAccounts) RequestPasswordReset(_ context.Context, email string) error {
	f.resets = append(f.resets, email)
	return nil
}

type testEnv struct {
	cli      *commandLine
	out      *syncBuffer
	rows     collection.RowStore
	auth     *backend.StaticAuth
	accounts *fakeAccounts
}

func setup(t *testing.T) testEnv {
	t.Helper()
	hub := realtime.NewHub()
	t.Cleanup(hub.Close)
	rows := inmemdb.NewRowStore(inmemdb.Open(), hub)

	auth := backend.NewStaticAuth(func(_ context.Context, email, password string) (backend.Session, error) {
		if email == "awa@example.com" && password == "secret" {
			return awa, nil
		}
		return backend.Session{}, backend.ErrNotSignedIn
	})
	uploads := media.NewUploader(memory.New("https://blobs.test"))
	accounts := &fakeAccounts{families: map[string]user.FamilyInfo{"DIOP-4F2A": {HeadName: "Awa", CommunityID: "c1"}}}
	out := new(syncBuffer)

	return testEnv{
		cli: &commandLine{
			be:        backend.NewClient(rows, hub, nil, auth, uploads),
			accounts:  accounts,
			locks:     chat.NewServerLocks(rows),
			locator:   post,
			validator: core.NewValidator(),
			out:       out,
		},
		out:      out,
		rows:     rows,
		auth:     auth,
		accounts: accounts,
	}
}

func (env testEnv) signIn(sess backend.Session) {
	env.auth.SetSession(sess, true)
}

// run executes args, without the program name, and returns what was printed.
func (env testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	env.out.Reset()
	err := env.cli.run(context.Background(), append([]string{"monquartier"}, args...))
	return env.out.String(), err
}

func (env testEnv) insert(t *testing.T, coll string, rec collection.Record) collection.Record {
	t.Helper()
	saved, err := env.rows.Insert(context.Background(), coll, rec)
	require.NoError(t, err)
	return saved
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	wantOut    []string
}

func (tt cliTest) check(t *testing.T, out string, err error) {
	t.Helper()
	switch {
	case err == nil && (tt.wantErr != nil || tt.wantErrStr != ""):
		t.Errorf("cli.run() error = nil, wantErr %v%s", tt.wantErr, tt.wantErrStr)
	case err != nil && tt.wantErr != nil:
		if errors.Cause(err) != tt.wantErr {
			t.Errorf("cli.run() error = %v, wantErr %v", err, tt.wantErr)
		}
	case err != nil && tt.wantErrStr != "":
		if !strings.Contains(err.Error(), tt.wantErrStr) {
			t.Errorf("cli.run() error.Error() = %s, wantErrStr %s", err.Error(), tt.wantErrStr)
		}
	case err != nil:
		t.Errorf("cli.run() unexpected error = %v", err)
	}
	for _, want := range tt.wantOut {
		if !strings.Contains(out, want) {
			t.Errorf("cli.run() output = %q, want it to contain %q", out, want)
		}
	}
}

func mockPassword(pwd string) {
	readPasswordFunc = func(fd int) ([]byte, error) {
		return []byte(pwd), nil
	}
}

func Test_commandLine_root(t *testing.T) {
	env := setup(t)

	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErrStr: `unknown command "lol"`},
		{name: "chat: no subcommand", args: []string{"chat"}, wantErr: errHelp},
		{name: "vote: no subcommand", args: []string{"vote"}, wantErr: errHelp},
		{name: "login: no email", args: []string{"login"}, wantErr: errHelp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := env.run(t, tt.args...)
			tt.check(t, out, err)
		})
	}
}

func Test_commandLine_signedOut(t *testing.T) {
	env := setup(t)

	for _, args := range [][]string{
		{"news"}, {"chat", "list"}, {"vote", "list"}, {"jobs", "list"}, {"market", "list"},
		{"sos"}, {"alerts"}, {"finance"}, {"whoami"},
	} {
		t.Run(strings.Join(args, " "), func(t *testing.T) {
			_, err := env.run(t, args...)
			assert.Equal(t, backend.ErrNotSignedIn, errors.Cause(err))
		})
	}
}

func Test_commandLine_account(t *testing.T) {
	env := setup(t)

	mockPassword("nope")
	_, err := env.run(t, "login", "--email", "awa@example.com")
	assert.Equal(t, backend.ErrNotSignedIn, errors.Cause(err))
	assert.Equal(t, "Email ou mot de passe incorrect.", core.UserMessage(err))

	mockPassword("secret")
	out, err := env.run(t, "login", "--email", " AWA@example.com ")
	require.NoError(t, err)
	assert.Contains(t, out, "Bienvenue, Awa !")
	sess, err := env.cli.be.CurrentSession()
	require.NoError(t, err)
	assert.Equal(t, awa, sess)

	env.accounts.me = user.User{Name: "Awa", Email: "awa@example.com", Role: user.RoleResident, IsHeadOfFamily: true, FamilyID: "DIOP-4F2A"}
	out, err = env.run(t, "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "Awa <awa@example.com>")
	assert.Contains(t, out, "Code famille: DIOP-4F2A")

	_, err = env.run(t, "logout")
	require.NoError(t, err)
	_, err = env.cli.be.CurrentSession()
	assert.Equal(t, backend.ErrNotSignedIn, err)

	t.Run("register", func(t *testing.T) {
		tests := []cliTest{
			{name: "no name", args: []string{"register", "--email", "fatou@example.com"}, wantErr: errHelp},
			{name: "bad family code", args: []string{"register", "--email", "fatou@example.com", "--name", "Fatou", "--family-code", "diop"}, wantErrStr: "Code famille invalide."},
			{name: "unknown family", args: []string{"register", "--email", "fatou@example.com", "--name", "Fatou", "--family-code", "NDIAYE-0000"}, wantErr: collection.ErrNotFound},
			{
				name:    "family",
				args:    []string{"register", "--email", "fatou@example.com", "--name", "Fatou", "--family-code", "diop-4f2a"},
				wantOut: []string{"Famille de Awa", "Compte créé. Bienvenue, Fatou !"},
			},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				out, err := env.run(t, tt.args...)
				tt.check(t, out, err)
			})
		}
		require.Len(t, env.accounts.registered, 1)
		assert.Equal(t, user.NewUser{Email: "fatou@example.com", Name: "Fatou", Password: "secret", FamilyCode: "DIOP-4F2A"}, env.accounts.registered[0])
	})

	t.Run("reset password", func(t *testing.T) {
		out, err := env.run(t, "reset-password", "--email", "Awa@Example.com")
		require.NoError(t, err)
		assert.Contains(t, out, "un email vient de lui être envoyé")
		assert.Equal(t, []string{"awa@example.com"}, env.accounts.resets)
	})
}

func Test_commandLine_news(t *testing.T) {
	env := setup(t)
	env.signIn(awa)

	water := env.insert(t, news.ArticlesCollection, collection.Record{
		"community_id": "c1", "title": "Coupure d'eau", "category": news.CategoryUrgent, "date": "2 mars à 21:07",
		"author": "Moussa", "published": true,
		"blocks": []interface{}{
			map[string]interface{}{"id": "b1", "type": news.Heading, "content": "Quand ?"},
			map[string]interface{}{"id": "b2", "type": news.Paragraph, "content": "Demain de 8h à 12h."},
		},
	})
	env.insert(t, news.ArticlesCollection, collection.Record{"community_id": "c1", "title": "Brouillon", "published": false})
	env.insert(t, news.ArticlesCollection, collection.Record{"community_id": "c2", "title": "Fête à Yoff", "published": true})

	out, err := env.run(t, "news")
	require.NoError(t, err)
	assert.Contains(t, out, "Coupure d'eau")
	assert.NotContains(t, out, "Brouillon")
	assert.NotContains(t, out, "Fête à Yoff")

	out, err = env.run(t, "news", water.ID())
	require.NoError(t, err)
	assert.Contains(t, out, "## Quand ?")
	assert.Contains(t, out, "Demain de 8h à 12h.")
	assert.Contains(t, out, "URGENT · 2 mars à 21:07 · Moussa")

	_, err = env.run(t, "news", "missing")
	assert.Equal(t, collection.ErrNotFound, errors.Cause(err))

	env.signIn(kofi)
	out, err = env.run(t, "news")
	require.NoError(t, err)
	assert.Contains(t, out, "Fête à Yoff")
	assert.NotContains(t, out, "Coupure d'eau")
}

func Test_commandLine_chat(t *testing.T) {
	env := setup(t)
	env.signIn(moussa)

	mockPassword("sésame")
	out, err := env.run(t, "chat", "salon", "--name", "Bureau", "--private")
	require.NoError(t, err)
	assert.Contains(t, out, "Salon Bureau créé")
	out, err = env.run(t, "chat", "salon", "--name", "Général")
	require.NoError(t, err)
	assert.Contains(t, out, "Salon Général créé")

	channels, err := chat.NewDirectory(env.rows, env.cli.locks).Channels(context.Background(), "c1")
	require.NoError(t, err)
	ids := map[string]string{}
	for _, ch := range channels {
		ids[ch.Name] = ch.ID
	}
	require.Len(t, ids, 2)

	env.signIn(awa)
	out, err = env.run(t, "chat", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Général")
	assert.NotContains(t, out, "Bureau")

	tests := []cliTest{
		{name: "send", args: []string{"chat", "send", ids["Général"], "Bonjour", "les", "voisins"}, wantOut: []string{"Awa: Bonjour les voisins"}},
		{name: "send: empty", args: []string{"chat", "send", ids["Général"], " "}, wantErr: chat.ErrEmptyMessage},
		{name: "send: locked", args: []string{"chat", "send", ids["Bureau"], "Salut"}, wantErr: collection.ErrNotFound},
		{name: "read", args: []string{"chat", "read", ids["Général"]}, wantOut: []string{"Awa: Bonjour les voisins"}},
		{name: "read: unknown", args: []string{"chat", "read", "nope"}, wantErr: collection.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := env.run(t, tt.args...)
			tt.check(t, out, err)
		})
	}

	t.Run("join", func(t *testing.T) {
		mockPassword("faux")
		_, err := env.run(t, "chat", "join", ids["Bureau"])
		assert.Equal(t, chat.ErrWrongPassword, errors.Cause(err))

		mockPassword("sésame")
		out, err := env.run(t, "chat", "join", ids["Bureau"])
		require.NoError(t, err)
		assert.Contains(t, out, "Vous avez rejoint Bureau.")

		out, err = env.run(t, "chat", "list")
		require.NoError(t, err)
		assert.Contains(t, out, "Bureau")
	})

	t.Run("reply", func(t *testing.T) {
		recs, err := env.rows.Query(context.Background(), collection.Query{Collection: chat.MessagesCollection}.Where("channel_id", ids["Général"]))
		require.NoError(t, err)
		require.Len(t, recs, 1)

		env.signIn(moussa)
		out, err := env.run(t, "chat", "send", ids["Général"], "Bienvenue", "--reply-to", recs[0].ID())
		require.NoError(t, err)
		assert.Contains(t, out, "Moussa: (↪ Awa: Bonjour les voisins) Bienvenue")
	})

	t.Run("direct messages", func(t *testing.T) {
		env.signIn(awa)
		out, err := env.run(t, "chat", "dm", moussa.UserID, "--name", "Moussa")
		require.NoError(t, err)
		assert.Contains(t, out, "Demande envoyée à Moussa")

		env.signIn(moussa)
		out, err = env.run(t, "chat", "list")
		require.NoError(t, err)
		assert.Contains(t, out, "demande reçue")

		channels, err := chat.NewDirectory(env.rows, env.cli.locks).Channels(context.Background(), "c1")
		require.NoError(t, err)
		var dm chat.Channel
		for _, ch := range channels {
			if ch.Type == chat.TypeDM {
				dm = ch
			}
		}
		require.NotEmpty(t, dm.ID)

		out, err = env.run(t, "chat", "accept", dm.ID)
		require.NoError(t, err)
		assert.Contains(t, out, chat.StatusActive)

		_, err = env.run(t, "chat", "send", dm.ID, "Salut Awa")
		require.NoError(t, err)
	})
}

func Test_commandLine_vote(t *testing.T) {
	env := setup(t)
	env.signIn(awa)

	svc := governance.NewService(env.rows, env.cli.validator)
	p, err := svc.CreateProposal(context.Background(), governance.NewProposal{CommunityID: "c1", Title: "Ralentisseurs", Description: "Rue 10"})
	require.NoError(t, err)

	tests := []cliTest{
		{name: "bad choice", args: []string{"vote", "cast", p.ID, "MAYBE"}, wantErrStr: "vote_type"},
		{name: "unknown proposal", args: []string{"vote", "cast", "nope", "FOR"}, wantErr: collection.ErrNotFound},
		{name: "cast", args: []string{"vote", "cast", p.ID, "for"}, wantOut: []string{"A voté !"}},
		{name: "twice", args: []string{"vote", "cast", p.ID, "AGAINST"}, wantErr: governance.ErrAlreadyVoted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := env.run(t, tt.args...)
			tt.check(t, out, err)
		})
	}

	out, err := env.run(t, "vote", "list")
	require.NoError(t, err)
	assert.Regexp(t, `Ralentisseurs\s+1\s+0\s+0\s+FOR`, out)

	_, err = svc.CloseProposal(context.Background(), p.ID)
	require.NoError(t, err)
	out, err = env.run(t, "vote", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Aucune proposition.")
	out, err = env.run(t, "vote", "list", "--closed")
	require.NoError(t, err)
	assert.Contains(t, out, "Ralentisseurs")
}

func Test_commandLine_jobs(t *testing.T) {
	env := setup(t)
	env.signIn(awa)

	svc := jobs.NewService(env.rows, env.cli.validator)
	j, err := svc.CreateJob(context.Background(), jobs.NewJob{CommunityID: "c1", Title: "Nettoyage caniveaux", Date: "2024-06-01", Pay: 5000, Spots: 2})
	require.NoError(t, err)

	tests := []cliTest{
		{name: "apply", args: []string{"jobs", "apply", j.ID}, wantOut: []string{"Candidature envoyée !"}},
		{name: "apply twice", args: []string{"jobs", "apply", j.ID}, wantErr: jobs.ErrAlreadyApplied},
		{name: "unknown job", args: []string{"jobs", "apply", "nope"}, wantErr: collection.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := env.run(t, tt.args...)
			tt.check(t, out, err)
		})
	}

	out, err := env.run(t, "jobs", "list")
	require.NoError(t, err)
	assert.Regexp(t, `Nettoyage caniveaux\s+.*\s+1/2\s+envoyée`, out)

	env.signIn(kofi)
	out, err = env.run(t, "jobs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Aucune mission.")
}

func Test_commandLine_market(t *testing.T) {
	env := setup(t)
	env.signIn(awa)

	img := filepath.Join(t.TempDir(), "velo.png")
	require.NoError(t, os.WriteFile(img, []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00"), 0600))

	tests := []cliTest{
		{name: "missing title", args: []string{"market", "publish", "--description", "Bon état"}, wantErrStr: "title"},
		{name: "bad type", args: []string{"market", "publish", "--type", "swap", "--title", "Vélo", "--description", "Bon état"}, wantErrStr: "type"},
		{name: "missing image", args: []string{"market", "publish", "--title", "Vélo", "--description", "Bon état", "--image", "nope.png"}, wantErrStr: "reading image"},
		{
			name:    "sell with image",
			args:    []string{"market", "publish", "--title", "Vélo", "--description", "Bon état", "--price", "25000", "--image", img},
			wantOut: []string{"Annonce publiée"},
		},
		{name: "give", args: []string{"market", "publish", "--type", "give", "--title", "Livres", "--description", "Romans"}, wantOut: []string{"Annonce publiée"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := env.run(t, tt.args...)
			tt.check(t, out, err)
		})
	}

	recs, err := env.rows.Query(context.Background(), collection.NewQuery(market.ClassifiedsCollection, "c1", "title"))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	bike, books := recs[0], recs[1]
	if bike.Text("title") != "Vélo" {
		bike, books = books, bike
	}
	assert.Regexp(t, `^https://blobs\.test/classifieds/.+\.png$`, bike.Text("image"))
	assert.Equal(t, "Awa", bike.Text("user_name"))
	assert.Equal(t, 25000, bike.Int("price"))

	out, err := env.run(t, "market", "list", "--type", "give")
	require.NoError(t, err)
	assert.Contains(t, out, "Livres")
	assert.Contains(t, out, "Gratuit")
	assert.NotContains(t, out, "Vélo")

	env.signIn(backend.Session{UserID: "u-fatou", CommunityID: "c1", Role: user.RoleResident, Name: "Fatou"})
	_, err = env.run(t, "market", "remove", books.ID())
	assert.Equal(t, market.ErrNotOwner, errors.Cause(err))

	env.signIn(moussa)
	out, err = env.run(t, "market", "remove", books.ID())
	require.NoError(t, err)
	assert.Contains(t, out, "Annonce retirée.")
	out, err = env.run(t, "market", "list")
	require.NoError(t, err)
	assert.NotContains(t, out, "Livres")
	assert.Contains(t, out, "Vélo")
}

func Test_commandLine_security(t *testing.T) {
	env := setup(t)
	env.signIn(awa)

	out, err := env.run(t, "sos")
	require.NoError(t, err)
	assert.Contains(t, out, "Position: 14.716700, -17.467700 (Précision: 12m)")

	_, err = env.run(t, "report", "Lampadaire", "cassé")
	var vErr *core.ValidationError
	assert.True(t, errors.As(err, &vErr), "want a validation error, got %v", err)

	out, err = env.run(t, "report", "Lampadaire", "cassé", "--location", "Rue 10")
	require.NoError(t, err)
	assert.Contains(t, out, "Signalement envoyé.")

	env.cli.locator = nil
	_, err = env.run(t, "sos")
	require.NoError(t, err)

	out, err = env.run(t, "alerts")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "SOS Awa, 14.716700")
	assert.Contains(t, lines[1], "REPORT Awa, Rue 10: Lampadaire cassé")
	assert.Contains(t, lines[2], security.UnknownPositionUnsupported)

	env.signIn(kofi)
	out, err = env.run(t, "alerts")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func Test_commandLine_alertsFollow(t *testing.T) {
	env := setup(t)
	env.signIn(moussa)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- env.cli.run(ctx, []string{"monquartier", "alerts", "--follow"})
	}()

	// the subscription starts with the command, insert until it sees an alert
	require.Eventually(t, func() bool {
		_, _ = env.rows.Insert(context.Background(), security.AlertsCollection, collection.Record{
			"community_id": "c1", "type": security.TypeSOS, "user": "Awa", "time": "21:07", "location": "Rue 10",
		})
		return strings.Contains(env.out.String(), "[21:07] SOS Awa, Rue 10")
	}, 2*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("alerts --follow did not stop with its context")
	}
}

func Test_commandLine_finance(t *testing.T) {
	env := setup(t)

	env.signIn(awa)
	_, err := env.run(t, "finance", "record", "--label", "Gardiennage", "--amount", "50000")
	assert.Equal(t, finance.ErrAdminOnly, errors.Cause(err))

	env.signIn(moussa)
	tests := []cliTest{
		{name: "no amount", args: []string{"finance", "record", "--label", "Gardiennage"}, wantErrStr: "amount"},
		{name: "expense", args: []string{"finance", "record", "--label", "Gardiennage", "--amount", "50000"}, wantOut: []string{"Transaction enregistrée"}},
		{name: "income", args: []string{"finance", "record", "--label", "Cotisations", "--amount", "80000", "--type", "income"}, wantOut: []string{"Transaction enregistrée"}},
		{name: "campaign: bad deadline", args: []string{"finance", "campaign", "--title", "Lampadaires", "--target", "100000", "--deadline", "bientôt"}, wantErrStr: "deadline"},
		{name: "campaign", args: []string{"finance", "campaign", "--title", "Lampadaires", "--target", "100000", "--deadline", "2030-12-31"}, wantOut: []string{"Cagnotte Lampadaires lancée"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := env.run(t, tt.args...)
			tt.check(t, out, err)
		})
	}

	env.signIn(awa)
	out, err := env.run(t, "finance", "--opening", "10000")
	require.NoError(t, err)
	assert.Contains(t, out, "Solde: "+finance.FormatMoney(40000))
	assert.Contains(t, out, "Gardiennage")
	assert.Contains(t, out, "-"+finance.FormatMoney(50000))
	assert.Contains(t, out, "Lampadaires")
}
