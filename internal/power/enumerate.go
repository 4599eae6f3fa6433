package power

import (
	"github.com/tidwall/gjson"

	"github.com/roach88/roomdag/internal/event"
)

// ForEach visits the levels of collection prop in document order, or the
// top-level levels when prop is empty. Members that are not levels are
// skipped. It stops when fn returns false and reports whether it ran to
// completion.
func (v *View) ForEach(prop string, fn func(key string, level int64) bool) bool {
	target := v.content
	if prop != "" {
		c, ok := v.content.Object(prop)
		if !ok {
			return true
		}
		target = c
	}
	return target.ForEach(func(key string, value gjson.Result) bool {
		n, ok := event.IntValue(value)
		if !ok {
			return true
		}
		return fn(key, n)
	})
}

// Count returns the number of levels in collection prop, or at the top
// level when prop is empty.
func (v *View) Count(prop string) int {
	n := 0
	v.ForEach(prop, func(string, int64) bool {
		n++
		return true
	})
	return n
}

// CountLevels returns the number of top-level levels.
func (v *View) CountLevels() int {
	return v.Count("")
}

// CountCollections returns the number of top-level object members.
func (v *View) CountCollections() int {
	n := 0
	v.content.ForEach(func(_ string, value gjson.Result) bool {
		if value.IsObject() {
			n++
		}
		return true
	})
	return n
}

// HasEvent reports whether events[typ] is a level.
func (v *View) HasEvent(typ string) bool {
	return v.hasMemberLevel(PropEvents, typ)
}

// HasUser reports whether users[user] is a level.
func (v *View) HasUser(user string) bool {
	return v.hasMemberLevel(PropUsers, user)
}

// HasCollection reports whether prop is an object.
func (v *View) HasCollection(prop string) bool {
	_, ok := v.content.Object(prop)
	return ok
}

// HasLevel reports whether the top-level prop is a level.
func (v *View) HasLevel(prop string) bool {
	raw, ok := v.content.Member(prop)
	return ok && isLevel(raw)
}

func (v *View) hasMemberLevel(collection, key string) bool {
	c, ok := v.content.Object(collection)
	if !ok {
		return false
	}
	raw, ok := c.Member(key)
	return ok && isLevel(raw)
}

// IsPowerEvent reports whether events of typ take part in room
// authorization: their auth_events are indexed as NEXT_AUTH edges.
func IsPowerEvent(typ string) bool {
	switch typ {
	case event.TypeCreate, event.TypeMember, event.TypePowerLevels,
		event.TypeJoinRules, event.TypeThirdPartyInvite:
		return true
	}
	return false
}
