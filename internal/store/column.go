package store

import (
	"fmt"
	"iter"
)

// Column tags the first byte of every key.
type Column byte

const (
	ColEvents    Column = 'e'
	ColEventIdx  Column = 'i'
	ColRefs      Column = 'r'
	ColRoomState Column = 's'
	ColHorizon   Column = 'h'
)

// Columns lists every column in key order.
var Columns = []Column{ColEvents, ColHorizon, ColEventIdx, ColRefs, ColRoomState}

func (c Column) String() string {
	switch c {
	case ColEvents:
		return "events"
	case ColEventIdx:
		return "event_idx"
	case ColRefs:
		return "refs"
	case ColRoomState:
		return "room_state"
	case ColHorizon:
		return "horizon"
	default:
		return fmt.Sprintf("Column(%q)", byte(c))
	}
}

// Op is a mutation appended to a transaction.
type Op uint8

const (
	OpPut Op = iota
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpPut:
		return "put"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("Op(%d)", uint8(o))
	}
}

// Sink buffers mutations for one atomic commit. Keys are column-relative.
type Sink interface {
	Append(col Column, op Op, key, value []byte) error
}

// KV is one column-relative key and its value. Both slices are owned by the
// caller.
type KV struct {
	Key   []byte
	Value []byte
}

// Reader is ordered point and prefix access to the columns.
type Reader interface {
	// Get returns the value at key, and false when it is absent.
	Get(col Column, key []byte) ([]byte, bool, error)
	// Iterate yields every key in col starting with prefix, ascending.
	// Each range over the sequence opens a fresh iterator.
	Iterate(col Column, prefix []byte) iter.Seq2[KV, error]
	// IterateFrom is Iterate starting at the first key not before from.
	IterateFrom(col Column, prefix, from []byte) iter.Seq2[KV, error]
}

// columnKey prepends the column tag to key.
func columnKey(col Column, key []byte) []byte {
	out := make([]byte, 0, 1+len(key))
	out = append(out, byte(col))
	return append(out, key...)
}

// prefixUpperBound returns the smallest key greater than every key with the
// given prefix, or nil when no such key exists.
func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
