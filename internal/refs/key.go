package refs

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/roach88/roomdag/internal/event"
)

const (
	// WordSize is the width of one key word.
	WordSize = 8
	// PrefixSize is the length of a target-only seek key.
	PrefixSize = WordSize
	// KeySize is the length of a complete edge key.
	KeySize = 2 * WordSize

	kindShift = 56
	kindMask  = uint64(0xff) << kindShift
)

// MaxIdx is the largest idx that fits beside a kind in the second key word.
const MaxIdx = event.Idx(1<<kindShift - 1)

// ErrShortKey is returned when decoding a key that is not a full edge key.
var ErrShortKey = errors.New("refs: key shorter than a full edge key")

// Edge is one decoded reference: Source refers to Target for reason Kind.
type Edge struct {
	Target event.Idx `json:"target"`
	Kind   Kind      `json:"kind"`
	Source event.Idx `json:"source"`
}

func (e Edge) String() string {
	return fmt.Sprintf("%d <-%s- %d", e.Target, e.Kind, e.Source)
}

// Encode builds the key for one edge.
//
// source must not have bits in the kind byte; idx allocation stops at MaxIdx
// so this only fails on a programming error, and it panics.
func Encode(target event.Idx, kind Kind, source event.Idx) []byte {
	if uint64(source)&kindMask != 0 {
		panic(fmt.Sprintf("refs: source idx %d overlaps kind byte", source))
	}
	var buf [KeySize]byte
	binary.BigEndian.PutUint64(buf[:WordSize], uint64(target))
	binary.BigEndian.PutUint64(buf[WordSize:], uint64(kind)<<kindShift|uint64(source))
	return buf[:]
}

// EncodeEdge is Encode for a decoded edge.
func EncodeEdge(e Edge) []byte {
	return Encode(e.Target, e.Kind, e.Source)
}

// EncodePrefix builds the target-only key that sorts before every edge into target.
func EncodePrefix(target event.Idx) []byte {
	var buf [PrefixSize]byte
	binary.BigEndian.PutUint64(buf[:], uint64(target))
	return buf[:]
}

// KindBounds returns the [lower, upper) key range holding every edge of
// kind into target.
func KindBounds(target event.Idx, kind Kind) (lower, upper []byte) {
	lower = Encode(target, kind, 0)
	if kind+1 < numKinds {
		return lower, Encode(target, kind+1, 0)
	}
	return lower, TargetUpperBound(target)
}

// TargetUpperBound returns the first key past every edge into target.
func TargetUpperBound(target event.Idx) []byte {
	if target == event.Idx(^uint64(0)) {
		return nil
	}
	return EncodePrefix(target + 1)
}

// Decode extracts the kind and source from a full edge key. The target is
// implied by the range the caller iterated.
func Decode(key []byte) (Kind, event.Idx, error) {
	if len(key) < KeySize {
		return 0, 0, ErrShortKey
	}
	word := binary.BigEndian.Uint64(key[WordSize:KeySize])
	return Kind(word >> kindShift), event.Idx(word &^ kindMask), nil
}

// DecodeEdge extracts the full triple from a key.
func DecodeEdge(key []byte) (Edge, error) {
	kind, source, err := Decode(key)
	if err != nil {
		return Edge{}, err
	}
	return Edge{
		Target: event.Idx(binary.BigEndian.Uint64(key[:WordSize])),
		Kind:   kind,
		Source: source,
	}, nil
}

// DecodeTarget extracts the first word of a prefix or full key.
func DecodeTarget(key []byte) (event.Idx, error) {
	if len(key) < WordSize {
		return 0, ErrShortKey
	}
	return event.Idx(binary.BigEndian.Uint64(key[:WordSize])), nil
}

// Compare orders keys by target, then shorter key first, then by the second
// word. Keys shorter than one word, which are never written, fall back to
// byte order.
func Compare(a, b []byte) int {
	if len(a) < WordSize || len(b) < WordSize {
		return bytes.Compare(a, b)
	}
	ta := binary.BigEndian.Uint64(a[:WordSize])
	tb := binary.BigEndian.Uint64(b[:WordSize])
	switch {
	case ta < tb:
		return -1
	case ta > tb:
		return 1
	}
	switch {
	case len(a) < len(b):
		if len(a) == WordSize {
			return -1
		}
	case len(a) > len(b):
		if len(b) == WordSize {
			return 1
		}
	case len(a) == WordSize:
		return 0
	}
	if len(a) >= KeySize && len(b) >= KeySize {
		sa := binary.BigEndian.Uint64(a[WordSize:KeySize])
		sb := binary.BigEndian.Uint64(b[WordSize:KeySize])
		switch {
		case sa < sb:
			return -1
		case sa > sb:
			return 1
		}
		return bytes.Compare(a[KeySize:], b[KeySize:])
	}
	// Partial keys from pebble's separator shortening.
	return bytes.Compare(a[WordSize:], b[WordSize:])
}
