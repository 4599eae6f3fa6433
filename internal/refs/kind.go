package refs

import (
	"fmt"
	"strings"
)

// Kind is the reason a source event refers to a target event.
// The numeric values are persisted in keys and must never be reordered.
type Kind uint8

const (
	// Next links a prev_events entry to the event that cites it.
	Next Kind = iota
	// NextAuth links an auth_events entry to the power event that cites it.
	NextAuth
	// NextState links a state event to its successor for the same (type, state_key).
	NextState
	// PrevState is the inverse of NextState: successor to predecessor.
	PrevState
	// ReceiptRead links an event to a local read receipt for it.
	ReceiptRead
	// Relates links an event to a message relating to or replying to it.
	Relates
	// RoomRedaction links an event to the redaction targeting it.
	RoomRedaction

	numKinds
)

var kindNames = [numKinds]string{
	Next:          "NEXT",
	NextAuth:      "NEXT_AUTH",
	NextState:     "NEXT_STATE",
	PrevState:     "PREV_STATE",
	ReceiptRead:   "RECEIPT_READ",
	Relates:       "RELATES",
	RoomRedaction: "ROOM_REDACTION",
}

// String returns the upper-case name of the kind.
func (k Kind) String() string {
	if k.Valid() {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k < numKinds
}

// AllKinds returns every known kind in key order.
func AllKinds() []Kind {
	out := make([]Kind, 0, numKinds)
	for k := Kind(0); k < numKinds; k++ {
		out = append(out, k)
	}
	return out
}

// ParseKind parses a kind name, case-insensitively.
func ParseKind(name string) (Kind, error) {
	n := strings.ToUpper(strings.TrimSpace(name))
	for k, s := range kindNames {
		if s == n {
			return Kind(k), nil
		}
	}
	return 0, fmt.Errorf("unknown reference kind %q", name)
}

// Kinds is a set of enabled edge kinds. The zero value enables nothing.
type Kinds uint16

// AllKindsSet enables every known kind.
const AllKindsSet Kinds = 1<<numKinds - 1

// KindsOf builds a set from individual kinds.
func KindsOf(kinds ...Kind) Kinds {
	var s Kinds
	for _, k := range kinds {
		s = s.With(k)
	}
	return s
}

// ParseKinds builds a set from kind names. An empty list yields the empty set.
func ParseKinds(names []string) (Kinds, error) {
	var s Kinds
	for _, name := range names {
		k, err := ParseKind(name)
		if err != nil {
			return 0, err
		}
		s = s.With(k)
	}
	return s, nil
}

// Has reports whether k is enabled.
func (s Kinds) Has(k Kind) bool {
	return k.Valid() && s&(1<<k) != 0
}

// With returns s with k enabled.
func (s Kinds) With(k Kind) Kinds {
	if !k.Valid() {
		return s
	}
	return s | 1<<k
}

// Without returns s with k disabled.
func (s Kinds) Without(k Kind) Kinds {
	return s &^ (1 << k)
}

// List returns the enabled kinds in key order.
func (s Kinds) List() []Kind {
	var out []Kind
	for k := Kind(0); k < numKinds; k++ {
		if s.Has(k) {
			out = append(out, k)
		}
	}
	return out
}

func (s Kinds) String() string {
	list := s.List()
	if len(list) == 0 {
		return "NONE"
	}
	names := make([]string, len(list))
	for i, k := range list {
		names[i] = k.String()
	}
	return strings.Join(names, "|")
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("marshal %s: unknown reference kind", k)
	}
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
