package geo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/monquartier/monquartier/core/security"
)

func TestNewLocator(t *testing.T) {
	assert.Nil(t, NewLocator("", nil))
	assert.Equal(t, security.UnknownPositionUnsupported, security.DescribeLocation(context.Background(), NewLocator("", nil)))
}

func TestHTTPLocator_Locate(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    string
		wantErr bool
	}{
		{name: "position", status: 200, body: `{"latitude": 14.6937, "longitude": -17.44406, "accuracy": 25.4}`, want: "14.693700, -17.444060 (Précision: 25m)"},
		{name: "unsupported", status: 501, want: security.UnknownPositionUnsupported, wantErr: true},
		{name: "server error", status: 500, want: security.UnknownPositionError, wantErr: true},
		{name: "incomplete", status: 200, body: `{"accuracy": 10}`, want: security.UnknownPositionError, wantErr: true},
		{name: "garbage", status: 200, body: `<html>`, want: security.UnknownPositionError, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			loc := NewLocator(srv.URL, srv.Client())
			require.NotNil(t, loc)
			_, err := loc.Locate(context.Background())
			if (err != nil) != tt.wantErr {
				t.Errorf("Locate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got := security.DescribeLocation(context.Background(), loc); got != tt.want {
				t.Errorf("DescribeLocation() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHTTPLocator_unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	assert.Equal(t, security.UnknownPositionError, security.DescribeLocation(context.Background(), NewLocator(url, nil)))
}
