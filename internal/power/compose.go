package power

import (
	"strconv"
	"strings"

	"github.com/tidwall/sjson"
)

// Collection receives the caller's members for one sub-object while
// composing content.
type Collection struct {
	raw []byte
	err error
}

// Set writes key with a numeric level. A later Set of the same key replaces
// the earlier value in place.
func (c *Collection) Set(key string, level int64) {
	c.SetRaw(key, []byte(strconv.FormatInt(level, 10)))
}

// SetRaw writes key with a raw JSON value, preserved verbatim.
func (c *Collection) SetRaw(key string, value []byte) {
	if c.err != nil {
		return
	}
	c.raw, c.err = sjson.SetRawBytes(c.raw, escapeKey(key), value)
}

// ComposeFunc fills the "events", "notifications" and "users" sub-objects.
// It is called once per collection with the collection's name.
type ComposeFunc func(collection string, c *Collection)

// ComposeContent builds power-levels content for a fresh room. Every scalar
// uses the fixed defaults; the three sub-objects are delegated to fn, which
// may be nil. Members appear in a fixed order.
func ComposeContent(fn ComposeFunc) ([]byte, error) {
	collection := func(name string, seed func(*Collection)) ([]byte, error) {
		c := &Collection{raw: []byte("{}")}
		if seed != nil {
			seed(c)
		}
		if fn != nil {
			fn(name, c)
		}
		return c.raw, c.err
	}

	events, err := collection(PropEvents, nil)
	if err != nil {
		return nil, err
	}
	notifications, err := collection(PropNotifications, func(c *Collection) {
		c.Set("room", DefaultPowerLevel)
	})
	if err != nil {
		return nil, err
	}
	users, err := collection(PropUsers, nil)
	if err != nil {
		return nil, err
	}

	members := []struct {
		key string
		raw []byte
	}{
		{PropBan, level(DefaultPowerLevel)},
		{PropEvents, events},
		{PropEventsDefault, level(DefaultEventLevel)},
		{PropInvite, level(DefaultPowerLevel)},
		{PropKick, level(DefaultPowerLevel)},
		{PropNotifications, notifications},
		{PropRedact, level(DefaultPowerLevel)},
		{PropStateDefault, level(DefaultPowerLevel)},
		{PropUsers, users},
		{PropUsersDefault, level(DefaultUserLevel)},
	}
	out := []byte("{}")
	for _, m := range members {
		out, err = sjson.SetRawBytes(out, m.key, m.raw)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// DefaultContent builds the power-levels content of a fresh room created by
// creator: the defaults plus the creator at DefaultCreatorLevel.
func DefaultContent(creator string) ([]byte, error) {
	return ComposeContent(func(collection string, c *Collection) {
		if collection == PropUsers {
			c.Set(creator, DefaultCreatorLevel)
		}
	})
}

func level(n int64) []byte {
	return []byte(strconv.FormatInt(n, 10))
}

// escapeKey turns a literal member name into a single-component path.
func escapeKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		if !isPlainPathRune(r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isPlainPathRune(r rune) bool {
	return r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r > 0x7f
}
