package security

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/pkg/errors"
)

const (
	UnknownPositionError       = "Position inconnue (Erreur GPS)"
	UnknownPositionUnsupported = "Position inconnue (GPS non supporté)"
)

var (
	// mockable
	locateTimeout = 5 * time.Second

	// ErrUnsupported is returned by locators without positioning.
	ErrUnsupported = errors.New("geolocation not supported")
)

type Position struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"` // meters
}

func (p Position) String() string {
	return fmt.Sprintf("%.6f, %.6f (Précision: %dm)", p.Latitude, p.Longitude, int(math.Round(p.Accuracy)))
}

// Locator gives the current position of the device.
type Locator interface {
	Locate(ctx context.Context) (Position, error)
}

type result struct {
	pos Position
	err error
}

// DescribeLocation returns the position given by loc, or a fallback text when it is unknown.
// It never waits for loc longer than the locate timeout, even if loc ignores ctx.
func DescribeLocation(ctx context.Context, loc Locator) string {
	if loc == nil {
		return UnknownPositionUnsupported
	}
	ctx, cancel := context.WithTimeout(ctx, locateTimeout)
	defer cancel()

	done := make(chan result, 1)
	go func() {
		pos, err := loc.Locate(ctx)
		done <- result{pos, err}
	}()

	select {
	case res := <-done:
		switch {
		case errors.Cause(res.err) == ErrUnsupported:
			return UnknownPositionUnsupported
		case res.err != nil:
			return UnknownPositionError
		}
		return res.pos.String()
	case <-ctx.Done():
		return UnknownPositionError
	}
}

// StaticLocator always gives the same position, e.g. a fixed post of the security team.
type StaticLocator Position

func (l StaticLocator) Locate(context.Context) (Position, error) { return Position(l), nil }
