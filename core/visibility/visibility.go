// Package visibility trims collections down to the records an actor may see,
// independently of the access control done by the row store.
package visibility

import (
	"sync"

	"github.com/monquartier/monquartier/core/collection"
)

// Channel types
const (
	Public  = "PUBLIC"
	Private = "PRIVATE"
	DM      = "DM"
)

// Actor holds the scope-defining attributes of the current user.
type Actor struct {
	ID          string
	CommunityID string
	Global      bool // sees every community (GOD role)
}

// Predicate decides whether actor may see rec. It must be pure.
type Predicate func(actor Actor, rec collection.Record) bool

// SameCommunity lets the actor see the records of their community, and records without community.
func SameCommunity(actor Actor, rec collection.Record) bool {
	if actor.Global {
		return true
	}
	scope := rec.Scope()
	return scope == "" || scope == actor.CommunityID
}

// ChannelVisible is the predicate of chat channels: public channels are always visible,
// private channels and DMs only to their members, creator and initiator.
func ChannelVisible(actor Actor, rec collection.Record) bool {
	if rec.Text("type") == Public {
		return true
	}
	if actor.ID == "" {
		return false
	}
	if rec.Text("creator_id") == actor.ID || rec.Text("initiator_id") == actor.ID {
		return true
	}
	for _, member := range rec.Strings("members") {
		if member == actor.ID {
			return true
		}
	}
	return false
}

// All combines predicates with a logical AND.
func All(preds ...Predicate) Predicate {
	return func(actor Actor, rec collection.Record) bool {
		for _, pred := range preds {
			if !pred(actor, rec) {
				return false
			}
		}
		return true
	}
}

// Trim returns the records of recs visible to actor.
func Trim(actor Actor, recs []collection.Record, pred Predicate) []collection.Record {
	out := make([]collection.Record, 0, len(recs))
	for _, rec := range recs {
		if pred(actor, rec) {
			out = append(out, rec)
		}
	}
	return out
}

// Source is the raw collection a View is derived from.
type Source interface {
	Records() []collection.Record
	Version() uint64
}

// View is the visible subset of a Source. It is recomputed whenever the
// source version or the actor changes, and is the only way records are read.
type View struct {
	src  Source
	pred Predicate

	mu      sync.Mutex
	actor   Actor
	version uint64
	valid   bool
	visible []collection.Record
}

func NewView(src Source, actor Actor, pred Predicate) *View {
	return &View{src: src, actor: actor, pred: pred}
}

// SetActor changes the actor the records are trimmed for.
func (v *View) SetActor(actor Actor) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if actor != v.actor {
		v.actor = actor
		v.valid = false
	}
}

func (v *View) Actor() Actor {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.actor
}

// Records returns the visible records.
func (v *View) Records() []collection.Record {
	v.mu.Lock()
	defer v.mu.Unlock()

	version := v.src.Version()
	if !v.valid || version != v.version {
		v.visible = Trim(v.actor, v.src.Records(), v.pred)
		v.version = version
		v.valid = true
	}
	return collection.CloneAll(v.visible)
}
