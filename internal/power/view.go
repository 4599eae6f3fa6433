package power

import (
	"bytes"

	"github.com/tidwall/gjson"

	"github.com/roach88/roomdag/internal/event"
)

// Fixed defaults.
const (
	DefaultCreatorLevel int64 = 100
	DefaultPowerLevel   int64 = 50
	DefaultEventLevel   int64 = 0
	DefaultUserLevel    int64 = 0
)

// Top-level property names.
const (
	PropBan           = "ban"
	PropEvents        = "events"
	PropEventsDefault = "events_default"
	PropInvite        = "invite"
	PropKick          = "kick"
	PropNotifications = "notifications"
	PropRedact        = "redact"
	PropStateDefault  = "state_default"
	PropUsers         = "users"
	PropUsersDefault  = "users_default"
)

// View is a read-only projection over power-levels content.
type View struct {
	content event.Content
	present bool
	creator string
}

// New binds a view to power-levels content and the room creator. Empty or
// null content means the room has no power-levels state.
func New(content []byte, creator string) *View {
	trimmed := bytes.TrimSpace(content)
	present := len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
	return &View{
		content: event.ParseContent(trimmed),
		present: present,
		creator: creator,
	}
}

// FromEvent binds a view to a power-levels event. A nil event means the room
// has no power-levels state.
func FromEvent(ev *event.Event, creator string) *View {
	if ev == nil {
		return New(nil, creator)
	}
	return New(ev.Content, creator)
}

// Present reports whether the view is backed by power-levels state.
func (v *View) Present() bool {
	return v.present
}

// Creator returns the room creator the view was bound with.
func (v *View) Creator() string {
	return v.creator
}

// Authorize reports whether user holds the level required for prop. When
// prop is empty or "events" the requirement is the level of the event type
// (and state key, for state events).
func (v *View) Authorize(user, prop, typ string, stateKey *string) bool {
	var required int64
	if prop == "" || prop == PropEvents {
		required = v.LevelEventState(typ, stateKey)
	} else {
		required = v.Level(prop)
	}
	return v.LevelUser(user) >= required
}

// LevelUser returns user's level: users[user], else users_default. With no
// power-levels state the creator has DefaultCreatorLevel and everyone else
// DefaultUserLevel.
func (v *View) LevelUser(user string) int64 {
	if !v.present {
		if v.creator != "" && user == v.creator {
			return DefaultCreatorLevel
		}
		return DefaultUserLevel
	}
	return v.lookup(PropUsers, user, PropUsersDefault, DefaultUserLevel)
}

// LevelEvent returns the level required to send a message event of typ:
// events[typ], else events_default.
func (v *View) LevelEvent(typ string) int64 {
	return v.lookup(PropEvents, typ, PropEventsDefault, DefaultEventLevel)
}

// LevelEventState returns the level required to send typ with stateKey.
// A nil stateKey defers to LevelEvent; otherwise events[typ], else
// state_default.
func (v *View) LevelEventState(typ string, stateKey *string) int64 {
	if stateKey == nil {
		return v.LevelEvent(typ)
	}
	return v.lookup(PropEvents, typ, PropStateDefault, DefaultPowerLevel)
}

// Level returns a top-level property such as "ban" or "redact", or
// DefaultPowerLevel when it is absent or not a level.
func (v *View) Level(prop string) int64 {
	n, st := intMember(v.content, prop)
	if st != memberOK {
		return DefaultPowerLevel
	}
	return n
}

// lookup reads collection[key], falling back to the top-level defaultProp,
// falling back to fallback. Any member of the wrong shape makes the whole
// lookup return fallback.
func (v *View) lookup(collection, key, defaultProp string, fallback int64) int64 {
	def, st := intMember(v.content, defaultProp)
	switch st {
	case memberBad:
		return fallback
	case memberAbsent:
		def = fallback
	}

	raw, ok := v.content.Member(collection)
	if !ok {
		return def
	}
	if !raw.IsObject() {
		return fallback
	}
	n, st := intMember(event.ParseContent([]byte(raw.Raw)), key)
	switch st {
	case memberOK:
		return n
	case memberAbsent:
		return def
	default:
		return fallback
	}
}

type memberState int

const (
	memberAbsent memberState = iota
	memberOK
	memberBad
)

func intMember(c event.Content, key string) (int64, memberState) {
	raw, ok := c.Member(key)
	if !ok {
		return 0, memberAbsent
	}
	n, ok := event.IntValue(raw)
	if !ok {
		return 0, memberBad
	}
	return n, memberOK
}

func isLevel(v gjson.Result) bool {
	_, ok := event.IntValue(v)
	return ok
}
