package collection

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// Reserved record fields.
const (
	FieldID        = "id"
	FieldScope     = "community_id"
	FieldClientRef = "client_ref"
	FieldOrigin    = "origin"
	FieldCreatedAt = "created_at"
	FieldStatus    = "_status" // local only, never written to the row store
)

// TimeLayout is the layout of the timestamps stored in records. Its values sort chronologically.
const TimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// FormatTime formats t in UTC with TimeLayout.
func FormatTime(t time.Time) string { return t.UTC().Format(TimeLayout) }

// Time parses the value of a timestamp field, the zero time when missing or invalid.
func (r Record) Time(field string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, r.str(field))
	if err != nil {
		return time.Time{}
	}
	return t
}

// Record is a schema-free row. Consumers project it into their own types.
type Record map[string]interface{}

func (r Record) str(field string) string {
	switch v := r[field].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func (r Record) ID() string        { return r.str(FieldID) }
func (r Record) Scope() string     { return r.str(FieldScope) }
func (r Record) ClientRef() string { return r.str(FieldClientRef) }
func (r Record) Origin() string    { return r.str(FieldOrigin) }
func (r Record) Status() string    { return r.str(FieldStatus) }

// Text returns the value of a field as a string, "" when missing.
func (r Record) Text(field string) string { return r.str(field) }

// Int returns the value of a numeric field, 0 when missing.
func (r Record) Int(field string) int {
	switch v := r[field].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case float32:
		return int(v)
	}
	return 0
}

// Bool returns the value of a boolean field, false when missing.
func (r Record) Bool(field string) bool {
	b, _ := r[field].(bool)
	return b
}

// Strings returns the value of a list field, e.g. channel members.
func (r Record) Strings(field string) []string {
	switch v := r[field].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	c := make(Record, len(r))
	for k, v := range r {
		c[k] = v
	}
	return c
}

// With returns a copy of r with field set to value.
func (r Record) With(field string, value interface{}) Record {
	c := r.Clone()
	if c == nil {
		c = make(Record, 1)
	}
	c[field] = value
	return c
}

// Payload returns a copy of r without the local-only fields.
func (r Record) Payload() Record {
	c := r.Clone()
	delete(c, FieldStatus)
	return c
}

// Merge returns a copy of r with all the fields of patch applied.
func (r Record) Merge(patch Record) Record {
	c := r.Clone()
	if c == nil {
		c = make(Record, len(patch))
	}
	for k, v := range patch {
		c[k] = v
	}
	return c
}

// CloneAll returns a copy of recs where each record is itself copied.
func CloneAll(recs []Record) []Record {
	if recs == nil {
		return nil
	}
	out := make([]Record, len(recs))
	for i, r := range recs {
		out[i] = r.Clone()
	}
	return out
}

type EventType string

const (
	Inserted EventType = "INSERT"
	Updated  EventType = "UPDATE"
	Deleted  EventType = "DELETE"
)

// ChangeEvent is a row change pushed by the change stream.
// Record is nil for Deleted events, ID is always set.
type ChangeEvent struct {
	Type       EventType `json:"type"`
	Collection string    `json:"collection"`
	Scope      string    `json:"scope,omitempty"`
	ID         string    `json:"id"`
	Record     Record    `json:"record,omitempty"`
}

// NewEvent builds the event for a change on rec.
func NewEvent(typ EventType, coll string, rec Record) ChangeEvent {
	return ChangeEvent{
		Type:       typ,
		Collection: coll,
		Scope:      rec.Scope(),
		ID:         rec.ID(),
		Record:     rec,
	}
}

// eventScope returns the scope of the affected record, when known.
func (ev ChangeEvent) eventScope() string {
	if ev.Scope != "" {
		return ev.Scope
	}
	return ev.Record.Scope()
}

// CompareValues orders two field values: numbers numerically, anything else by its text.
// Missing values come first.
func CompareValues(a, b interface{}) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	fa, aNum := toFloat(a)
	fb, bNum := toFloat(b)
	if aNum && bNum {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	sa, sb := fmt.Sprint(a), fmt.Sprint(b)
	switch {
	case sa < sb:
		return -1
	case sa > sb:
		return 1
	}
	return 0
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}

// Decode projects rec into dst, a pointer to a struct with json tags.
func Decode(rec Record, dst interface{}) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "encoding record")
	}
	return errors.Wrap(json.Unmarshal(b, dst), "decoding record")
}

// Encode turns v, a struct with json tags, into a Record.
func Encode(v interface{}) (Record, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "encoding record")
	}
	rec := make(Record)
	if err = json.Unmarshal(b, &rec); err != nil {
		return nil, errors.Wrap(err, "decoding record")
	}
	return rec, nil
}
