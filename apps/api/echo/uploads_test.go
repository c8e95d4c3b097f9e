package echoapi_test

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/monquartier/monquartier/apps/api/echo"
)

var pngData = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 64)...)

func newUploadRequest(t *testing.T, path, token, filename string, data []byte) (*http.Request, *httptest.ResponseRecorder) {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if data != nil {
		part, err := w.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return req, httptest.NewRecorder()
}

func Test_uploadApi(t *testing.T) {
	env := setup(t)
	token := getToken(t, env.createUser(t, "Awa", "awa@test.sn", "c1", ""))

	tests := []struct {
		name     string
		filename string
		data     []byte
		wantCode int
		wantData string
	}{
		{name: "no file", wantCode: http.StatusBadRequest, wantData: `{"file": "fichier vide"}`},
		{name: "not an image", filename: "notes.txt", data: []byte("bonjour"), wantCode: http.StatusBadRequest, wantData: `{"file": "format non supporté"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newUploadRequest(t, "/v1/uploads", token, tt.filename, tt.data)
			env.do(req, rec)
			checkCodeAndData(t, httpTest{wantCode: tt.wantCode, wantData: []byte(tt.wantData)}, rec)
		})
	}

	t.Run("image", func(t *testing.T) {
		req, rec := newUploadRequest(t, "/v1/uploads?path=avatars", token, "Moi.PNG", pngData)
		env.do(req, rec)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var resp UploadResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Regexp(t, `^http://localhost:8000/media/avatars/[0-9a-z]+_\d+\.png$`, resp.URL)

		// served back by the API
		req, rec = newRequest(http.MethodGet, strings.TrimPrefix(resp.URL, "http://localhost:8000"))
		env.do(req, rec)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
		assert.Equal(t, pngData, rec.Body.Bytes())
	})

	t.Run("unknown media", func(t *testing.T) {
		req, rec := newRequest(http.MethodGet, "/media/avatars/lol.png")
		env.do(req, rec)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
