package power

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func topLevelKeys(t *testing.T, raw []byte) []string {
	t.Helper()
	require.True(t, gjson.ValidBytes(raw), "invalid JSON: %s", raw)
	var keys []string
	gjson.ParseBytes(raw).ForEach(func(k, _ gjson.Result) bool {
		keys = append(keys, k.Str)
		return true
	})
	return keys
}

func TestDefaultContent(t *testing.T) {
	raw, err := DefaultContent(creator)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"ban": 50,
		"events": {},
		"events_default": 0,
		"invite": 50,
		"kick": 50,
		"notifications": {"room": 50},
		"redact": 50,
		"state_default": 50,
		"users": {"@a:x": 100},
		"users_default": 0
	}`, string(raw))

	assert.Equal(t, []string{
		"ban", "events", "events_default", "invite", "kick",
		"notifications", "redact", "state_default", "users", "users_default",
	}, topLevelKeys(t, raw))

	v := New(raw, "")
	assert.Equal(t, DefaultCreatorLevel, v.LevelUser(creator))
	assert.Equal(t, DefaultUserLevel, v.LevelUser("@b:x"))
	assert.True(t, v.Authorize(creator, "ban", "", nil))
	assert.False(t, v.Authorize("@b:x", "kick", "", nil))
}

func TestComposeContentPreservesOverrides(t *testing.T) {
	raw, err := ComposeContent(func(collection string, c *Collection) {
		switch collection {
		case PropEvents:
			c.Set("m.room.name", 75)
			c.SetRaw("m.room.topic", []byte(`"25"`))
		case PropNotifications:
			c.Set("room", 20)
			c.Set("@mention", 10)
		case PropUsers:
			c.Set("@a:x", 100)
			c.Set("@b.c:y", 40)
		}
	})
	require.NoError(t, err)

	doc := gjson.ParseBytes(raw)
	assert.JSONEq(t, `{"m.room.name":75,"m.room.topic":"25"}`, doc.Get("events").Raw)
	assert.JSONEq(t, `{"room":20,"@mention":10}`, doc.Get("notifications").Raw)
	assert.JSONEq(t, `{"@a:x":100,"@b.c:y":40}`, doc.Get("users").Raw)

	v := New(raw, "")
	assert.Equal(t, int64(75), v.LevelEvent("m.room.name"))
	assert.Equal(t, int64(25), v.LevelEventState("m.room.topic", nil))
	assert.Equal(t, int64(40), v.LevelUser("@b.c:y"))
}

func TestComposeContentNilFunc(t *testing.T) {
	raw, err := ComposeContent(nil)
	require.NoError(t, err)

	v := New(raw, "")
	assert.True(t, v.HasCollection(PropUsers))
	assert.Zero(t, v.Count(PropUsers))
	assert.Equal(t, 1, v.Count(PropNotifications))
}

func TestEscapeKey(t *testing.T) {
	assert.Equal(t, "ban", escapeKey("ban"))
	assert.Equal(t, `m\.room\.name`, escapeKey("m.room.name"))
	assert.Equal(t, `\@a\:x`, escapeKey("@a:x"))
}
