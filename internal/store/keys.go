package store

import (
	"encoding/binary"
	"errors"

	"github.com/roach88/roomdag/internal/event"
)

// ErrCorruptKey is returned when a stored key cannot be decoded.
var ErrCorruptKey = errors.New("store: corrupt key")

// AppendIdx appends idx as a big-endian word.
func AppendIdx(dst []byte, idx event.Idx) []byte {
	return binary.BigEndian.AppendUint64(dst, uint64(idx))
}

// AppendString appends s prefixed with its uvarint length.
func AppendString(dst []byte, s string) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(s)))
	return append(dst, s...)
}

// ReadIdx decodes a big-endian idx from the front of b.
func ReadIdx(b []byte) (event.Idx, []byte, error) {
	if len(b) < 8 {
		return 0, nil, ErrCorruptKey
	}
	return event.Idx(binary.BigEndian.Uint64(b)), b[8:], nil
}

// ReadString decodes a length-prefixed string from the front of b.
func ReadString(b []byte) (string, []byte, error) {
	n, w := binary.Uvarint(b)
	if w <= 0 || uint64(len(b)-w) < n {
		return "", nil, ErrCorruptKey
	}
	b = b[w:]
	return string(b[:n]), b[n:], nil
}

// EventKey is the events column key for idx.
func EventKey(idx event.Idx) []byte {
	return AppendIdx(make([]byte, 0, 8), idx)
}

// StatePrefix is the room_state prefix shared by every event of one
// (room, type, state_key).
func StatePrefix(roomID, typ, stateKey string) []byte {
	b := make([]byte, 0, len(roomID)+len(typ)+len(stateKey)+3)
	b = AppendString(b, roomID)
	b = AppendString(b, typ)
	return AppendString(b, stateKey)
}

// StateKey is the room_state key of one state event.
func StateKey(roomID, typ, stateKey string, idx event.Idx) []byte {
	return AppendIdx(StatePrefix(roomID, typ, stateKey), idx)
}

// DecodeStateKey is the inverse of StateKey.
func DecodeStateKey(key []byte) (roomID, typ, stateKey string, idx event.Idx, err error) {
	rest := key
	if roomID, rest, err = ReadString(rest); err != nil {
		return
	}
	if typ, rest, err = ReadString(rest); err != nil {
		return
	}
	if stateKey, rest, err = ReadString(rest); err != nil {
		return
	}
	if idx, rest, err = ReadIdx(rest); err != nil {
		return
	}
	if len(rest) != 0 {
		err = ErrCorruptKey
	}
	return
}
