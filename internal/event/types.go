package event

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Idx is the dense local handle assigned to an event at admission.
type Idx uint64

// NoIdx is the zero handle; no admitted event ever carries it.
const NoIdx Idx = 0

func (i Idx) String() string {
	return strconv.FormatUint(uint64(i), 10)
}

// Well-known event types.
const (
	TypeCreate           = "m.room.create"
	TypeMember           = "m.room.member"
	TypePowerLevels      = "m.room.power_levels"
	TypeJoinRules        = "m.room.join_rules"
	TypeThirdPartyInvite = "m.room.third_party_invite"
	TypeRedaction        = "m.room.redaction"
	TypeMessage          = "m.room.message"
)

// Event is an admitted, immutable room event.
type Event struct {
	ID             string          `json:"event_id"`
	Idx            Idx             `json:"-"`
	Type           string          `json:"type"`
	RoomID         string          `json:"room_id"`
	Sender         string          `json:"sender"`
	Origin         string          `json:"origin,omitempty"`
	StateKey       *string         `json:"state_key,omitempty"`
	Content        json.RawMessage `json:"content,omitempty"`
	Redacts        string          `json:"redacts,omitempty"`
	PrevEvents     IDList          `json:"prev_events"`
	AuthEvents     IDList          `json:"auth_events"`
	Depth          int64           `json:"depth"`
	OriginServerTS int64           `json:"origin_server_ts"`
}

// IsState reports whether the event carries a state key.
func (e *Event) IsState() bool {
	return e.StateKey != nil
}

// StateKeyValue returns the state key and whether one is present.
func (e *Event) StateKeyValue() (string, bool) {
	if e.StateKey == nil {
		return "", false
	}
	return *e.StateKey, true
}

// OriginServer returns the origin field, or the sender's server name when
// origin is absent.
func (e *Event) OriginServer() string {
	if e.Origin != "" {
		return e.Origin
	}
	return ServerName(e.Sender)
}

// IsLocal reports whether the event originated on serverName.
func (e *Event) IsLocal(serverName string) bool {
	return serverName != "" && e.OriginServer() == serverName
}

// Validate checks the fields admission depends on.
func (e *Event) Validate() error {
	if !ValidEventID(e.ID) {
		return fmt.Errorf("invalid event id %q", e.ID)
	}
	if e.Type == "" {
		return fmt.Errorf("event %s: missing type", e.ID)
	}
	if !ValidRoomID(e.RoomID) {
		return fmt.Errorf("event %s: invalid room id %q", e.ID, e.RoomID)
	}
	if !ValidUserID(e.Sender) {
		return fmt.Errorf("event %s: invalid sender %q", e.ID, e.Sender)
	}
	if len(e.Content) > 0 && !json.Valid(e.Content) {
		return fmt.Errorf("event %s: content is not valid JSON", e.ID)
	}
	return nil
}

// String returns a compact description for logs.
func (e *Event) String() string {
	if e.StateKey != nil {
		return fmt.Sprintf("%s %s[%q] in %s idx=%d", e.ID, e.Type, *e.StateKey, e.RoomID, e.Idx)
	}
	return fmt.Sprintf("%s %s in %s idx=%d", e.ID, e.Type, e.RoomID, e.Idx)
}

// IDList is a list of referenced event ids. It decodes both the bare-string
// form and the older [id, hashes] pair form of prev_events/auth_events.
type IDList []string

// UnmarshalJSON implements json.Unmarshaler.
func (l *IDList) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*l = nil
		return nil
	}
	out := make(IDList, 0, len(raw))
	for i, item := range raw {
		var id string
		if err := json.Unmarshal(item, &id); err == nil {
			out = append(out, id)
			continue
		}
		var pair []json.RawMessage
		if err := json.Unmarshal(item, &pair); err != nil || len(pair) == 0 {
			return fmt.Errorf("reference %d: expected string or [id, hashes] pair", i)
		}
		if err := json.Unmarshal(pair[0], &id); err != nil {
			return fmt.Errorf("reference %d: %w", i, err)
		}
		out = append(out, id)
	}
	*l = out
	return nil
}

// StringPtr returns a pointer to s, for building state keys.
func StringPtr(s string) *string {
	return &s
}
