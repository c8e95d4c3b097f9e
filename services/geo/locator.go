// Package geo locates the device through an HTTP geolocation service.
package geo

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"

	"github.com/monquartier/monquartier/core"
	"github.com/monquartier/monquartier/core/security"
)

// HTTPLocator asks a geolocation service answering {"latitude": .., "longitude": .., "accuracy": ..}.
type HTTPLocator struct {
	url    string
	client *http.Client
}

// NewLocator returns a locator querying url, nil when url is empty (no positioning on this device).
func NewLocator(url string, client *http.Client) security.Locator {
	if url == "" {
		return nil
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPLocator{url: url, client: client}
}

func (l *HTTPLocator) Locate(ctx context.Context) (security.Position, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return security.Position{}, errors.Wrap(err, "building locate request")
	}
	req.Header.Set("Accept", "application/json")
	resp, err := l.client.Do(req)
	if err != nil {
		return security.Position{}, core.NewTransportError("locate", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusNotImplemented:
		return security.Position{}, security.ErrUnsupported
	case resp.StatusCode != http.StatusOK:
		return security.Position{}, errors.Errorf("locate: unexpected status %d", resp.StatusCode)
	}

	var pos struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
		Accuracy  float64  `json:"accuracy"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&pos); err != nil {
		return security.Position{}, errors.Wrap(err, "decoding position")
	}
	if pos.Latitude == nil || pos.Longitude == nil {
		return security.Position{}, errors.New("locate: incomplete position")
	}
	return security.Position{Latitude: *pos.Latitude, Longitude: *pos.Longitude, Accuracy: pos.Accuracy}, nil
}
