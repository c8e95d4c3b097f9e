package echoapi_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"

	. "github.com/monquartier/monquartier/apps/api/echo"
	"github.com/monquartier/monquartier/assets"
	"github.com/monquartier/monquartier/core"
	"github.com/monquartier/monquartier/core/chat"
	"github.com/monquartier/monquartier/core/collection"
	"github.com/monquartier/monquartier/core/media"
	"github.com/monquartier/monquartier/core/user"
	"github.com/monquartier/monquartier/services/email"
	"github.com/monquartier/monquartier/services/logger"
	"github.com/monquartier/monquartier/services/metrics"
	"github.com/monquartier/monquartier/storage/blob/memory"
	"github.com/monquartier/monquartier/storage/database/inmem"
	"github.com/monquartier/monquartier/storage/realtime"
	"github.com/monquartier/monquartier/tests"
)

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

type testEnv struct {
	app     Server
	usrRepo user.Repository
	rows    collection.RowStore
	hub     *realtime.Hub
	media   *memory.Store
}

func setup(t *testing.T) testEnv {
	t.Helper()
	conf := core.NewTestConfig()
	logger := logsvc.NewTestLogger(log.New(io.Discard, "", 0))
	core.ParseEmailTemplates(assets.FS, assets.EmailTemplatesDir, conf, logger)
	user.LoadCommonPasswords(logger)

	// set up DB & repos
	db := inmemdb.Open()
	hub := realtime.NewHub()
	t.Cleanup(hub.Close)
	usrRepo := inmemdb.NewUserRepository(db)
	rows := inmemdb.NewRowStore(db, hub)
	blobs := memory.New(conf.Blob.PublicBaseURL)

	// set up services
	mailSvc := emailsvc.NewConsoleServiceMock(conf, logger)
	usrSvc := user.NewServiceMock(usrRepo, mailSvc, conf, logger)

	// set up server
	app := NewServer(&Options{
		DisableReqLogs: true,
		Conf:           conf,
		Logger:         logger,
		UserSvc:        usrSvc,
		Rows:           rows,
		Changes:        hub,
		Locks:          chat.NewServerLocks(rows),
		Uploads:        media.NewUploader(blobs),
		Media:          blobs,
		Metrics:        metrics.New(nil),
	})
	return testEnv{app: app, usrRepo: usrRepo, rows: rows, hub: hub, media: blobs}
}

func (env testEnv) createUser(t *testing.T, name, email, communityID, role string) user.User {
	t.Helper()
	return testutil.CreateUser(t, env.usrRepo, name, email, "Ndakaaru2024", communityID, role, "")
}

func (env testEnv) do(req *http.Request, rec *httptest.ResponseRecorder) {
	env.app.ServeHTTP(rec, req)
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func getToken(t *testing.T, usr user.User) string {
	claims := GetUserClaims(usr)
	token, err := GenerateToken(claims)
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

func marchallList(t *testing.T, objs ...interface{}) []byte {
	data, err := json.Marshal(objs)
	if err != nil {
		t.Fatalf("marchallList() failed: %v", err)
	}
	return data
}

func unmarshalRecord(t *testing.T, rec *httptest.ResponseRecorder) collection.Record {
	t.Helper()
	r := make(collection.Record)
	if err := json.Unmarshal(rec.Body.Bytes(), &r); err != nil {
		t.Fatalf("unmarshalRecord() failed: %v; body %s", err, rec.Body.String())
	}
	return r
}

func jsonBytesEqual(t *testing.T, b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	if reflect.DeepEqual(j1, j2) {
		return true, nil
	}
	if _, ok := j1.([]interface{}); !ok {
		return false, nil
	}
	if _, ok := j2.([]interface{}); !ok {
		return false, nil
	}
	return assert.ElementsMatch(t, j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(t, rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

func runHTTPTests(t *testing.T, env testEnv, tests []httpTest) {
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := tt.method
			if method == "" {
				method = http.MethodGet
			}
			req, rec := newAuthRequest(method, tt.path, tt.token, tt.body)
			env.do(req, rec)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func TestServer_home(t *testing.T) {
	env := setup(t)

	req, rec := newRequest(http.MethodGet, "/health")
	env.do(req, rec)
	checkCodeAndData(t, httpTest{wantCode: http.StatusOK, wantData: []byte(`{"status":"ok"}`)}, rec)

	req, rec = newRequest(http.MethodGet, "/metrics")
	env.do(req, rec)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "monquartier_http_requests_total")
}
