// Package testutil builds deterministic room events for tests.
package testutil

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/roomdag/internal/event"
)

// Room builds a linear chain of events for one room. Each event cites the
// previous one in prev_events unless WithPrev overrides it, and is stamped
// from a DeterministicClock.
//
// A Room is not safe for concurrent use.
type Room struct {
	ID     string
	clock  *DeterministicClock
	last   string
	depth  int64
	create string
	power  string
}

// NewRoom creates a builder for roomID.
func NewRoom(roomID string) *Room {
	return &Room{ID: roomID, clock: NewDeterministicClock()}
}

// EventOption adjusts an event before its id is computed.
type EventOption func(*event.Event)

// WithID sets an explicit event id instead of the content hash.
func WithID(id string) EventOption {
	return func(e *event.Event) { e.ID = id }
}

// WithPrev replaces the prev_events of the event.
func WithPrev(ids ...string) EventOption {
	return func(e *event.Event) { e.PrevEvents = ids }
}

// WithAuth replaces the auth_events of the event.
func WithAuth(ids ...string) EventOption {
	return func(e *event.Event) { e.AuthEvents = ids }
}

// WithRedacts sets the top-level redaction target.
func WithRedacts(id string) EventOption {
	return func(e *event.Event) { e.Redacts = id }
}

// WithOrigin sets the origin server.
func WithOrigin(origin string) EventOption {
	return func(e *event.Event) { e.Origin = origin }
}

// Event builds the next event of the chain. content is raw JSON; "" means
// an empty object. Without WithID the id is the event's reference hash.
func (r *Room) Event(typ, sender, content string, opts ...EventOption) *event.Event {
	if content == "" {
		content = "{}"
	}
	r.depth++
	ev := &event.Event{
		Type:           typ,
		RoomID:         r.ID,
		Sender:         sender,
		Content:        json.RawMessage(content),
		Depth:          r.depth,
		OriginServerTS: r.clock.Next(),
		PrevEvents:     event.IDList{},
		AuthEvents:     r.authEvents(),
	}
	if r.last != "" {
		ev.PrevEvents = event.IDList{r.last}
	}
	for _, opt := range opts {
		opt(ev)
	}
	if ev.ID == "" {
		ev.ID = event.MustReferenceID(ev)
	}
	r.last = ev.ID
	switch {
	case typ == event.TypeCreate && ev.IsState():
		r.create = ev.ID
	case typ == event.TypePowerLevels && ev.IsState():
		r.power = ev.ID
	}
	return ev
}

// State builds a state event.
func (r *Room) State(typ, stateKey, sender, content string, opts ...EventOption) *event.Event {
	opts = append([]EventOption{func(e *event.Event) { e.StateKey = event.StringPtr(stateKey) }}, opts...)
	return r.Event(typ, sender, content, opts...)
}

// Create builds the room's create event.
func (r *Room) Create(creator string, opts ...EventOption) *event.Event {
	return r.State(event.TypeCreate, "", creator, fmt.Sprintf(`{"creator":%q}`, creator), opts...)
}

// PowerLevels builds a power-levels event with raw content.
func (r *Room) PowerLevels(sender, content string, opts ...EventOption) *event.Event {
	return r.State(event.TypePowerLevels, "", sender, content, opts...)
}

// Join builds a membership join for user.
func (r *Room) Join(user string, opts ...EventOption) *event.Event {
	return r.State(event.TypeMember, user, user, `{"membership":"join"}`, opts...)
}

// Message builds an m.room.message with body.
func (r *Room) Message(sender, body string, opts ...EventOption) *event.Event {
	return r.Event(event.TypeMessage, sender, fmt.Sprintf(`{"msgtype":"m.text","body":%q}`, body), opts...)
}

// Last returns the id of the most recently built event.
func (r *Room) Last() string {
	return r.last
}

func (r *Room) authEvents() event.IDList {
	out := event.IDList{}
	for _, id := range []string{r.create, r.power} {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}
