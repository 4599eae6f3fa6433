package event

import (
	"strconv"

	"github.com/tidwall/gjson"
)

// Content is a read-only view over a JSON object. Members are looked up by
// exact key, so keys containing dots or other path syntax ("m.relates_to",
// user ids) need no escaping. A Content over anything but an object has no
// members.
type Content struct {
	res gjson.Result
}

// ParseContent wraps raw JSON. Invalid JSON yields an empty view.
func ParseContent(raw []byte) Content {
	if len(raw) == 0 || !gjson.ValidBytes(raw) {
		return Content{}
	}
	return Content{res: gjson.ParseBytes(raw)}
}

// View returns the event's content view.
func (e *Event) View() Content {
	return ParseContent(e.Content)
}

// IsObject reports whether the view wraps a JSON object.
func (c Content) IsObject() bool {
	return c.res.IsObject()
}

// Empty reports whether the view has no members.
func (c Content) Empty() bool {
	if !c.res.IsObject() {
		return true
	}
	empty := true
	c.res.ForEach(func(_, _ gjson.Result) bool {
		empty = false
		return false
	})
	return empty
}

// Raw returns the wrapped JSON text.
func (c Content) Raw() string {
	return c.res.Raw
}

// Member returns the first member named key.
func (c Content) Member(key string) (gjson.Result, bool) {
	if !c.res.IsObject() {
		return gjson.Result{}, false
	}
	var out gjson.Result
	found := false
	c.res.ForEach(func(k, v gjson.Result) bool {
		if k.Str == key {
			out, found = v, true
			return false
		}
		return true
	})
	return out, found
}

// Has reports whether key is present with any type.
func (c Content) Has(key string) bool {
	_, ok := c.Member(key)
	return ok
}

// String returns key's value when it is a JSON string.
func (c Content) String(key string) (string, bool) {
	v, ok := c.Member(key)
	if !ok || v.Type != gjson.String {
		return "", false
	}
	return v.Str, true
}

// Object returns key's value when it is a JSON object.
func (c Content) Object(key string) (Content, bool) {
	v, ok := c.Member(key)
	if !ok || !v.IsObject() {
		return Content{}, false
	}
	return Content{res: v}, true
}

// Int returns key's value when it is an integer, or a string holding a
// base-10 integer.
func (c Content) Int(key string) (int64, bool) {
	v, ok := c.Member(key)
	if !ok {
		return 0, false
	}
	return IntValue(v)
}

// ForEach visits members in document order until fn returns false.
// It reports whether the traversal ran to completion.
func (c Content) ForEach(fn func(key string, value gjson.Result) bool) bool {
	if !c.res.IsObject() {
		return true
	}
	complete := true
	c.res.ForEach(func(k, v gjson.Result) bool {
		if !fn(k.Str, v) {
			complete = false
			return false
		}
		return true
	})
	return complete
}

// IntValue converts an integer JSON value, or a string holding a base-10
// integer, to int64.
func IntValue(v gjson.Result) (int64, bool) {
	switch v.Type {
	case gjson.Number:
		n, err := strconv.ParseInt(v.Raw, 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	case gjson.String:
		n, err := strconv.ParseInt(v.Str, 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}
