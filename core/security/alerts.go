// Package security holds the emergency alerts: SOS with the position of the resident, and incident reports.
package security

import (
	"context"
	"time"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/monquartier/monquartier/core"
	"github.com/monquartier/monquartier/core/collection"
)

// Alert types
const (
	TypeSOS    = "SOS"
	TypeReport = "REPORT"
)

const (
	AlertsCollection = "alerts"

	SOSMessage   = "🚨 URGENCE VITALE - SOS DÉCLENCHÉ"
	MsgSOSFailed = "Echec envoi serveur. Activez une alarme sonore locale !"
	timeLayout   = "15:04"
)

// mockable
var nowFunc = time.Now

type Alert struct {
	ID          string `json:"id,omitempty"`
	CommunityID string `json:"community_id"`
	Type        string `json:"type"`
	User        string `json:"user"`
	Time        string `json:"time"`
	Location    string `json:"location"`
	Message     string `json:"message,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
}

func AlertFromRecord(rec collection.Record) (Alert, error) {
	var a Alert
	err := collection.Decode(rec, &a)
	return a, err
}

// Resident is the author of the alerts.
type Resident struct {
	Name        string
	CommunityID string
}

// Desk is the live alert feed of a community.
type Desk struct {
	rows     collection.RowStore
	locator  Locator
	resident Resident
	snap     *collection.Snapshot
}

func OpenDesk(ctx context.Context, store *collection.Store, rows collection.RowStore, locator Locator, resident Resident) (*Desk, error) {
	snap, err := store.Open(ctx, collection.Options{
		Collection: AlertsCollection,
		Scope:      resident.CommunityID,
		SortField:  collection.FieldCreatedAt,
	})
	if err != nil {
		return nil, errors.Wrap(err, "opening alerts")
	}
	return &Desk{rows: rows, locator: locator, resident: resident, snap: snap}, nil
}

func (d *Desk) save(ctx context.Context, a Alert) (Alert, error) {
	rec, err := collection.Encode(a)
	if err != nil {
		return Alert{}, err
	}
	saved, err := d.rows.Insert(ctx, AlertsCollection, rec)
	if err != nil {
		return Alert{}, errors.Wrap(err, "inserting alert")
	}

	// shown right away, the change stream may lag
	d.snap.Update(func(recs []collection.Record) []collection.Record {
		for _, r := range recs {
			if r.ID() == saved.ID() {
				return recs
			}
		}
		return append([]collection.Record{saved}, recs...)
	})
	return AlertFromRecord(saved)
}

// TriggerSOS sends an SOS with the current position. Locating never delays it more than a few seconds:
// the position falls back to an unknown position text.
func (d *Desk) TriggerSOS(ctx context.Context) (Alert, error) {
	return d.save(ctx, Alert{
		CommunityID: d.resident.CommunityID,
		Type:        TypeSOS,
		User:        d.resident.Name,
		Time:        nowFunc().Format(timeLayout),
		Location:    DescribeLocation(ctx, d.locator),
		Message:     SOSMessage,
	})
}

// Report sends an incident report. Both message and location are required.
func (d *Desk) Report(ctx context.Context, message, location string) (Alert, error) {
	message, location = core.CleanString(message), core.CleanString(location)
	err := vala.BeginValidation().Validate(
		vala.StringNotEmpty(message, "message"),
		vala.StringNotEmpty(location, "location"),
	).Check()
	if err != nil {
		return Alert{}, core.NewValidationError(err)
	}
	return d.save(ctx, Alert{
		CommunityID: d.resident.CommunityID,
		Type:        TypeReport,
		User:        d.resident.Name,
		Time:        nowFunc().Format(timeLayout),
		Location:    location,
		Message:     message,
	})
}

func (d *Desk) Alerts() []Alert {
	recs := d.snap.Records()
	out := make([]Alert, 0, len(recs))
	for _, rec := range recs {
		if a, err := AlertFromRecord(rec); err == nil {
			out = append(out, a)
		}
	}
	return out
}

func (d *Desk) Changes() <-chan struct{}       { return d.snap.Changes() }
func (d *Desk) Wait(ctx context.Context) error { return d.snap.Wait(ctx) }
func (d *Desk) Close() error                   { return d.snap.Close() }
