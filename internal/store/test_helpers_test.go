package store

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/roomdag/internal/event"
)

// createTestStore opens an in-memory store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("test", Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestEvent builds an event with minimal required fields.
func createTestEvent(id string, idx event.Idx, typ string, stateKey *string) *event.Event {
	return &event.Event{
		ID:       id,
		Idx:      idx,
		Type:     typ,
		RoomID:   "!room:a.org",
		Sender:   "@alice:a.org",
		StateKey: stateKey,
		Content:  json.RawMessage(`{}`),
	}
}

// commit writes events and extra mutations in one transaction.
func commit(t *testing.T, s *Store, fn func(txn *Txn)) {
	t.Helper()
	txn := s.NewTxn()
	defer txn.Close()
	fn(txn)
	require.NoError(t, txn.Commit())
}
