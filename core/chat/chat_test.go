package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/monquartier/monquartier/core/collection"
	"github.com/monquartier/monquartier/core/optimistic"
	"github.com/monquartier/monquartier/core/visibility"
	inmemdb "github.com/monquartier/monquartier/storage/database/inmem"
	"github.com/monquartier/monquartier/storage/realtime"
)

var (
	awa    = Author{ID: "u-awa", Name: "Awa", Role: "RESIDENT"}
	moussa = Author{ID: "u-moussa", Name: "Moussa", Role: "ADMIN"}
	kofi   = Author{ID: "u-kofi", Name: "Kofi", Role: "RESIDENT"}
)

// flakyRows fails the writes while fail is set.
type flakyRows struct {
	collection.RowStore

	mu   sync.Mutex
	fail bool
}

func (f *flakyRows) setFail(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fail
}

func (f *flakyRows) Insert(ctx context.Context, coll string, payload collection.Record) (collection.Record, error) {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return nil, errors.New("failed to fetch")
	}
	return f.RowStore.Insert(ctx, coll, payload)
}

type testEnv struct {
	rows  *flakyRows
	store *collection.Store
	dir   *Directory
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	hub := realtime.NewHub()
	t.Cleanup(hub.Close)
	rows := &flakyRows{RowStore: inmemdb.NewRowStore(inmemdb.Open(), hub)}
	return testEnv{
		rows:  rows,
		store: collection.NewStore(rows, collection.WithChangeStream(hub)),
		dir:   NewDirectory(rows, NewServerLocks(rows)),
	}
}

func TestDirectory_OpenDM(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	dm, err := env.dir.OpenDM(ctx, "c1", awa, moussa)
	require.NoError(t, err)
	assert.NotEmpty(t, dm.ID)
	assert.Equal(t, "Awa & Moussa", dm.Name)
	assert.Equal(t, TypeDM, dm.Type)
	assert.Equal(t, StatusPending, dm.Status)
	assert.Equal(t, awa.ID, dm.InitiatorID)
	assert.Equal(t, []string{awa.ID, moussa.ID}, dm.Members)

	again, err := env.dir.OpenDM(ctx, "c1", moussa, awa)
	require.NoError(t, err)
	assert.Equal(t, dm.ID, again.ID)

	_, err = env.dir.OpenDM(ctx, "c1", awa, awa)
	assert.Equal(t, ErrSelfDM, err)
	_, err = env.dir.OpenDM(ctx, "", awa, moussa)
	assert.Error(t, err)

	channels, err := env.dir.Channels(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, channels, 1)
}

func TestDirectory_RespondDM(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		responder  Author
		accept     bool
		wantErr    error
		wantStatus string
	}{
		{name: "accepted", responder: moussa, accept: true, wantStatus: StatusActive},
		{name: "rejected", responder: moussa, accept: false, wantStatus: StatusRejected},
		{name: "by initiator", responder: awa, accept: true, wantErr: ErrNotAwaiting},
		{name: "by outsider", responder: kofi, accept: true, wantErr: ErrNotAwaiting},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			dm, err := env.dir.OpenDM(ctx, "c1", awa, moussa)
			require.NoError(t, err)

			ch, err := env.dir.RespondDM(ctx, dm.ID, tt.responder.ID, tt.accept)
			if tt.wantErr != nil {
				assert.Equal(t, tt.wantErr, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, ch.Status)
		})
	}
}

func TestDirectory_CreateSalon(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	public, err := env.dir.CreateSalon(ctx, NewSalon{CommunityID: "c1", Name: "  Marché  ", CreatorID: awa.ID})
	require.NoError(t, err)
	assert.Equal(t, "Marché", public.Name)
	assert.Equal(t, TypePublic, public.Type)
	assert.Equal(t, salonDescription, public.Description)
	assert.Equal(t, StatusActive, public.Status)
	assert.False(t, public.IsLocked)

	_, err = env.dir.CreateSalon(ctx, NewSalon{CommunityID: "c1", Name: "Bureau", Private: true, CreatorID: awa.ID})
	assert.Equal(t, ErrMissingSalonPw, err)
	_, err = env.dir.CreateSalon(ctx, NewSalon{CommunityID: "c1", Name: " ", CreatorID: awa.ID})
	assert.Error(t, err)

	private, err := env.dir.CreateSalon(ctx, NewSalon{CommunityID: "c1", Name: "Bureau", Private: true, Password: "s3cret", CreatorID: awa.ID})
	require.NoError(t, err)
	assert.Equal(t, TypePrivate, private.Type)
	assert.True(t, private.IsLocked)
	assert.True(t, private.NeedsPassword(kofi.ID))
	assert.False(t, private.NeedsPassword(awa.ID))

	secrets, err := env.rows.Query(ctx, collection.Query{Collection: SecretsCollection})
	require.NoError(t, err)
	require.Len(t, secrets, 1)
	assert.NotEqual(t, "s3cret", secrets[0].Text("password_hash"))

	t.Run("wrong password", func(t *testing.T) {
		_, err := env.dir.JoinLocked(ctx, private.ID, kofi.ID, "admin123")
		assert.Equal(t, ErrWrongPassword, err)
	})
	t.Run("right password", func(t *testing.T) {
		ch, err := env.dir.JoinLocked(ctx, private.ID, kofi.ID, "s3cret")
		require.NoError(t, err)
		assert.True(t, ch.IsMember(kofi.ID))
		assert.False(t, ch.NeedsPassword(kofi.ID))
	})
	t.Run("unlocked channel", func(t *testing.T) {
		ch, err := env.dir.JoinLocked(ctx, public.ID, kofi.ID, "")
		require.NoError(t, err)
		assert.Equal(t, public.ID, ch.ID)
	})
	t.Run("unknown channel", func(t *testing.T) {
		_, err := env.dir.JoinLocked(ctx, "nope", kofi.ID, "s3cret")
		assert.Equal(t, collection.ErrNotFound, err)
	})
}

func TestChannel_Writable(t *testing.T) {
	dm := Channel{Type: TypeDM, Members: []string{awa.ID, moussa.ID}, InitiatorID: awa.ID, Status: StatusPending}
	locked := Channel{Type: TypePrivate, IsLocked: true, Members: []string{awa.ID}, Status: StatusActive}

	tests := []struct {
		name string
		ch   Channel
		user string
		want bool
	}{
		{name: "pending dm initiator", ch: dm, user: awa.ID, want: true},
		{name: "pending dm recipient", ch: dm, user: moussa.ID},
		{name: "rejected dm", ch: Channel{Type: TypeDM, Status: StatusRejected, InitiatorID: awa.ID}, user: awa.ID},
		{name: "locked member", ch: locked, user: awa.ID, want: true},
		{name: "locked outsider", ch: locked, user: kofi.ID},
		{name: "public", ch: Channel{Type: TypePublic, Status: StatusActive}, user: kofi.ID, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ch.Writable(tt.user); got != tt.want {
				t.Errorf("Writable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func openRoom(t *testing.T, env testEnv, ch Channel, author Author) *Room {
	t.Helper()
	room, err := OpenRoom(context.Background(), env.store, env.rows, "session-"+author.ID, ch, author)
	require.NoError(t, err)
	t.Cleanup(func() { _ = room.Close() })
	require.NoError(t, room.Wait(context.Background()))
	return room
}

func TestRoom_Send(t *testing.T) {
	ctx := context.Background()
	readDelay = 20 * time.Millisecond
	defer func() { readDelay = 1500 * time.Millisecond }()

	env := newTestEnv(t)
	salon, err := env.dir.CreateSalon(ctx, NewSalon{CommunityID: "c1", Name: "Général", CreatorID: awa.ID})
	require.NoError(t, err)
	_, err = env.rows.Insert(ctx, MessagesCollection, collection.Record{
		"channel_id": salon.ID, "user_id": moussa.ID, "content": "Bonjour",
		"created_at": collection.FormatTime(time.Now().Add(-time.Hour)),
	})
	require.NoError(t, err)
	_, err = env.rows.Insert(ctx, MessagesCollection, collection.Record{"channel_id": "other", "content": "ailleurs"})
	require.NoError(t, err)

	room := openRoom(t, env, salon, awa)
	require.Len(t, room.Messages(), 1)

	original := room.Messages()[0]
	msg, err := room.Send(ctx, Draft{Content: "  Salut !  ", ReplyTo: &original})
	require.NoError(t, err)
	assert.False(t, optimistic.IsTempID(msg.ID))
	assert.Equal(t, "Salut !", msg.Content)
	assert.Equal(t, original.ID, msg.ReplyToID)
	assert.Equal(t, "Bonjour", msg.ReplyToContent)

	msgs := room.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Bonjour", msgs[0].Content)
	assert.Equal(t, msg.ID, msgs[1].ID)

	assert.Eventually(t, func() bool {
		msgs := room.Messages()
		return len(msgs) == 2 && msgs[1].Status == string(optimistic.Read)
	}, time.Second, 5*time.Millisecond)

	t.Run("empty", func(t *testing.T) {
		before := room.Messages()
		_, err := room.Send(ctx, Draft{Content: "   "})
		assert.Equal(t, ErrEmptyMessage, err)
		assert.Equal(t, before, room.Messages())
	})
}

func TestRoom_sendFailure(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	salon, err := env.dir.CreateSalon(ctx, NewSalon{CommunityID: "c1", Name: "Général", CreatorID: awa.ID})
	require.NoError(t, err)
	room := openRoom(t, env, salon, awa)

	env.rows.setFail(true)
	msg, err := room.Send(ctx, Draft{Content: "Coupure"})
	require.Error(t, err)
	assert.True(t, optimistic.IsTempID(msg.ID))
	assert.Equal(t, string(optimistic.Failed), msg.Status)

	msgs := room.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, string(optimistic.Failed), msgs[0].Status)
	assert.Equal(t, "Coupure", msgs[0].Content)

	env.rows.setFail(false)
	retried, err := room.Retry(ctx, msg.ID)
	require.NoError(t, err)
	assert.False(t, optimistic.IsTempID(retried.ID))

	msgs = room.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, retried.ID, msgs[0].ID)
	assert.Equal(t, string(optimistic.Confirmed), msgs[0].Status)
}

func TestRoom_closedChannels(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	dm, err := env.dir.OpenDM(ctx, "c1", awa, moussa)
	require.NoError(t, err)
	room := openRoom(t, env, dm, moussa)
	_, err = room.Send(ctx, Draft{Content: "Coucou"})
	assert.Equal(t, ErrChannelClosed, err)
	assert.Empty(t, room.Messages())

	accepted, err := env.dir.RespondDM(ctx, dm.ID, moussa.ID, true)
	require.NoError(t, err)
	room.SetChannel(accepted)
	_, err = room.Send(ctx, Draft{Content: "Coucou"})
	require.NoError(t, err)
	assert.Len(t, room.Messages(), 1)

	private, err := env.dir.CreateSalon(ctx, NewSalon{CommunityID: "c1", Name: "Bureau", Private: true, Password: "s3cret", CreatorID: awa.ID})
	require.NoError(t, err)
	_, err = OpenRoom(ctx, env.store, env.rows, "session", private, kofi)
	assert.Equal(t, ErrLocked, err)
}

func TestChannelList(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.dir.CreateSalon(ctx, NewSalon{CommunityID: "c1", Name: "Général", CreatorID: awa.ID})
	require.NoError(t, err)
	_, err = env.dir.CreateSalon(ctx, NewSalon{CommunityID: "c1", Name: "Bureau", Private: true, Password: "pw", CreatorID: awa.ID})
	require.NoError(t, err)
	_, err = env.dir.CreateSalon(ctx, NewSalon{CommunityID: "c2", Name: "Voisins", CreatorID: kofi.ID})
	require.NoError(t, err)
	dm, err := env.dir.OpenDM(ctx, "c1", awa, moussa)
	require.NoError(t, err)

	list, err := OpenChannelList(ctx, env.store, visibility.Actor{ID: kofi.ID, CommunityID: "c1"})
	require.NoError(t, err)
	defer func() { _ = list.Close() }()
	require.NoError(t, list.Wait(ctx))

	names := func(chs []Channel) []string {
		out := make([]string, 0, len(chs))
		for _, ch := range chs {
			out = append(out, ch.Name)
		}
		return out
	}
	assert.ElementsMatch(t, []string{"Général"}, names(list.Salons()))
	assert.Empty(t, list.DMs())

	list.SetActor(visibility.Actor{ID: moussa.ID, CommunityID: "c1"})
	assert.Len(t, list.DMs(), 1)
	_, ok := list.Get(dm.ID)
	assert.True(t, ok)

	_, err = env.dir.RespondDM(ctx, dm.ID, moussa.ID, false)
	require.NoError(t, err)
	assert.Empty(t, list.DMs())

	list.SetActor(visibility.Actor{ID: awa.ID, CommunityID: "c1"})
	assert.ElementsMatch(t, []string{"Général", "Bureau"}, names(list.Salons()))

	joined, err := env.dir.CreateSalon(ctx, NewSalon{CommunityID: "c1", Name: "Fête", CreatorID: awa.ID})
	require.NoError(t, err)
	list.Upsert(joined)
	assert.Contains(t, names(list.Salons()), "Fête")
}
