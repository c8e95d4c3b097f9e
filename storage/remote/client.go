// Package remote is the client side of the Mon Quartier API: row store, change stream,
// authentication, uploads and channel locks over HTTP and websocket.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/monquartier/monquartier/core"
	"github.com/monquartier/monquartier/core/backend"
	"github.com/monquartier/monquartier/core/chat"
	"github.com/monquartier/monquartier/core/collection"
)

const (
	defaultHTTPTimeout        = 30 * time.Second
	defaultHTTPConnectTimeout = 5 * time.Second
	defaultTLSTimeout         = 5 * time.Second
)

// StatusError is an API answer that maps to none of the collection or validation errors.
type StatusError struct {
	Code    int
	Message string
}

func (err StatusError) Error() string { return err.Message }

// IsStatus reports whether err is a StatusError with code.
func IsStatus(err error, code int) bool {
	serr, ok := errors.Cause(err).(*StatusError)
	return ok && serr.Code == code
}

type Client struct {
	baseURL *url.URL
	http    *http.Client
	dialer  *websocket.Dialer
	logger  core.Logger
	auth    *Auth
	offline int32 // atomic, set by the last round-trip
}

func defaultHTTPClient() *http.Client {
	dialer := &net.Dialer{Timeout: defaultHTTPConnectTimeout}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultTLSTimeout,
	}
	return &http.Client{Transport: transport, Timeout: defaultHTTPTimeout}
}

// New returns a client of the API at conf.APIBaseURL. The session is kept in conf.SessionFile when set.
// It fails with core.ErrNotConfigured without an API base URL.
func New(conf core.ClientConfig, logger core.Logger) (*Client, error) {
	if strings.TrimSpace(conf.APIBaseURL) == "" {
		return nil, core.ErrNotConfigured
	}
	base, err := url.Parse(strings.TrimSuffix(conf.APIBaseURL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "parsing API base URL")
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, core.NewConfigError("Configuration invalide : l'adresse du Backend doit commencer par http(s)://")
	}

	c := &Client{
		baseURL: base,
		http:    defaultHTTPClient(),
		dialer:  &websocket.Dialer{HandshakeTimeout: defaultHTTPConnectTimeout},
		logger:  logger,
	}
	c.auth = &Auth{client: c, file: conf.SessionFile}
	return c, nil
}

// Backend assembles the backend.Client of this API. opts are applied to its collection Store.
func (c *Client) Backend(opts ...collection.StoreOption) *backend.Client {
	return backend.NewClient(c.Rows(), c.Changes(), c, c.auth, c, opts...)
}

func (c *Client) Auth() *Auth { return c.auth }

func (c *Client) Locks() chat.Locks { return &locks{c: c} }

// Online reports whether the last round-trip with the API went through.
func (c *Client) Online() bool { return atomic.LoadInt32(&c.offline) == 0 }

func (c *Client) setOnline(online bool) {
	if online {
		atomic.StoreInt32(&c.offline, 0)
	} else {
		atomic.StoreInt32(&c.offline, 1)
	}
}

// Ping checks the API health and updates Online.
func (c *Client) Ping(ctx context.Context) error {
	return c.doJSON(ctx, "ping", http.MethodGet, "/health", nil, nil, nil)
}

func (c *Client) endpoint(scheme, path string, query url.Values) string {
	u := *c.baseURL
	if scheme != "" {
		u.Scheme = scheme
	}
	u.Path = u.Path + path
	u.RawQuery = query.Encode()
	return u.String()
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint("", path, query), body)
	if err != nil {
		return nil, errors.Wrap(err, "building request")
	}
	req.Header.Set("Accept", "application/json")
	if sess, ok := c.auth.Session(); ok && sess.Token != "" {
		req.Header.Set("Authorization", "Bearer "+sess.Token)
	}
	return req, nil
}

// doJSON sends body as JSON and decodes the answer into out, when given.
func (c *Client) doJSON(ctx context.Context, op, method, path string, query url.Values, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrapf(err, "%s: encoding request", op)
		}
		reader = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, method, path, query, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(op, req, out)
}

func (c *Client) send(op string, req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return ctxErr
		}
		c.setOnline(false)
		return core.NewTransportError(op, err)
	}
	defer resp.Body.Close()
	c.setOnline(true)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return core.NewTransportError(op, err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return decodeError(resp.StatusCode, data)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return errors.Wrapf(json.Unmarshal(data, out), "%s: decoding response", op)
}

// decodeError turns an API error answer back into the error the API started from.
// The body is either {"error": message} or {field: message}.
func decodeError(code int, body []byte) error {
	var fields map[string]string
	_ = json.Unmarshal(body, &fields)
	message, hasMessage := fields["error"]
	if !hasMessage && len(fields) == 0 {
		message = strings.TrimSpace(string(body))
	}
	if message == "" {
		message = http.StatusText(code)
	}

	switch code {
	case http.StatusBadRequest:
		if hasMessage || len(fields) == 0 {
			return core.NewValidationError(errors.New(message))
		}
		names := make([]string, 0, len(fields))
		for name := range fields {
			names = append(names, name)
		}
		sort.Strings(names)
		flds := make([]core.FieldError, 0, len(names))
		for _, name := range names {
			flds = append(flds, core.FieldError{Field: name, Error: fields[name]})
		}
		return core.NewValidationError(nil, flds...)
	case http.StatusUnauthorized:
		return backend.ErrNotSignedIn
	case http.StatusNotFound:
		return collection.ErrNotFound
	case http.StatusConflict:
		return collection.ErrConflict
	}
	return &StatusError{Code: code, Message: message}
}
