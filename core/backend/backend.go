// Package backend holds the process-wide handle on the backing service:
// row store, change stream, authentication and uploads.
//
// The handle is initialized once by the application entry point and passed
// explicitly to the surfaces that need it. Tests inject their own with SetForTesting.
package backend

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/monquartier/monquartier/core"
	"github.com/monquartier/monquartier/core/collection"
	"github.com/monquartier/monquartier/core/visibility"
)

const roleGod = "GOD"

var (
	// errors
	ErrNotSignedIn = errors.New("invalid login credentials")

	mu      sync.Mutex
	current *Client
	initErr error
	inited  bool
)

type (
	// Session is the authenticated resident.
	Session struct {
		UserID      string `json:"user_id"`
		CommunityID string `json:"community_id"`
		Role        string `json:"role"`
		Name        string `json:"name"`
		Token       string `json:"token"`
	}

	// Auth is the authentication provider.
	Auth interface {
		SignIn(ctx context.Context, email, password string) (Session, error)
		// Session returns the current session, false when signed out.
		Session() (Session, bool)
		// OnSessionChange registers fn to be called on sign in and sign out. The returned func unregisters it.
		OnSessionChange(fn func(sess Session, signedIn bool)) (cancel func())
		SignOut(ctx context.Context) error
	}

	// Uploader is the blob store as seen by the client.
	Uploader interface {
		// Upload stores data under folder and returns its public URL.
		Upload(ctx context.Context, data []byte, folder, filename string) (string, error)
	}

	Client struct {
		Rows    collection.RowStore
		Changes collection.ChangeStream
		Conn    collection.Connectivity
		Auth    Auth
		Uploads Uploader

		storeOpts []collection.StoreOption
		storeOnce sync.Once
		store     *collection.Store
	}
)

// Actor returns the visibility attributes of the session.
func (sess Session) Actor() visibility.Actor {
	return visibility.Actor{
		ID:          sess.UserID,
		CommunityID: sess.CommunityID,
		Global:      sess.Role == roleGod,
	}
}

// NewClient assembles a Client. opts are applied to its collection Store.
func NewClient(rows collection.RowStore, changes collection.ChangeStream, conn collection.Connectivity, auth Auth, uploads Uploader, opts ...collection.StoreOption) *Client {
	if conn == nil {
		conn = collection.AlwaysOnline{}
	}
	return &Client{
		Rows:      rows,
		Changes:   changes,
		Conn:      conn,
		Auth:      auth,
		Uploads:   uploads,
		storeOpts: opts,
	}
}

// Store returns the collection store shared by every surface using this client.
func (c *Client) Store() *collection.Store {
	c.storeOnce.Do(func() {
		opts := []collection.StoreOption{collection.WithConnectivity(c.Conn)}
		if c.Changes != nil {
			opts = append(opts, collection.WithChangeStream(c.Changes))
		}
		c.store = collection.NewStore(c.Rows, append(opts, c.storeOpts...)...)
	})
	return c.store
}

// CurrentSession returns the signed in session, ErrNotSignedIn otherwise.
func (c *Client) CurrentSession() (Session, error) {
	if c.Auth == nil {
		return Session{}, core.ErrNotConfigured
	}
	sess, ok := c.Auth.Session()
	if !ok {
		return Session{}, ErrNotSignedIn
	}
	return sess, nil
}

// Init creates the process-wide client with factory. Only the first call runs factory,
// later calls return its result.
func Init(factory func() (*Client, error)) (*Client, error) {
	mu.Lock()
	defer mu.Unlock()
	if !inited {
		current, initErr = factory()
		inited = true
		if initErr == nil && current == nil {
			initErr = core.ErrNotConfigured
		}
	}
	return current, initErr
}

// Get returns the process-wide client. It fails with a core.ConfigError when Init did not succeed.
func Get() (*Client, error) {
	mu.Lock()
	defer mu.Unlock()
	if !inited {
		return nil, core.ErrNotConfigured
	}
	if initErr != nil {
		return nil, errors.Wrap(initErr, "initializing backend")
	}
	return current, nil
}

// SetForTesting replaces the process-wide client until the returned func is called.
func SetForTesting(c *Client) (restore func()) {
	mu.Lock()
	prev, prevErr, prevInited := current, initErr, inited
	current, initErr, inited = c, nil, true
	mu.Unlock()

	return func() {
		mu.Lock()
		current, initErr, inited = prev, prevErr, prevInited
		mu.Unlock()
	}
}
