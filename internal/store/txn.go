package store

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// ErrTxnDone is returned when a committed or closed transaction is used.
var ErrTxnDone = errors.New("store: transaction already committed or closed")

// Txn buffers mutations in a pebble batch until Commit. It implements Sink.
// A Txn is not safe for concurrent use.
type Txn struct {
	batch    *pebble.Batch
	sync     bool
	count    int
	onCommit []func()
}

// Append buffers one mutation.
func (t *Txn) Append(col Column, op Op, key, value []byte) error {
	if t.batch == nil {
		return ErrTxnDone
	}
	k := columnKey(col, key)
	var err error
	switch op {
	case OpPut:
		err = t.batch.Set(k, value, nil)
	case OpDelete:
		err = t.batch.Delete(k, nil)
	default:
		return fmt.Errorf("append %s: unknown op %s", col, op)
	}
	if err != nil {
		return fmt.Errorf("append %s: %w", col, err)
	}
	t.count++
	return nil
}

// OnCommit registers fn to run after a successful Commit. Hooks never run
// for a transaction that is closed without committing.
func (t *Txn) OnCommit(fn func()) {
	t.onCommit = append(t.onCommit, fn)
}

// Len returns the number of buffered mutations.
func (t *Txn) Len() int {
	return t.count
}

// Commit applies every buffered mutation atomically and releases the batch.
func (t *Txn) Commit() error {
	if t.batch == nil {
		return ErrTxnDone
	}
	opt := pebble.NoSync
	if t.sync {
		opt = pebble.Sync
	}
	err := t.batch.Commit(opt)
	closeErr := t.batch.Close()
	t.batch = nil
	if err != nil {
		t.onCommit = nil
		return fmt.Errorf("commit: %w", err)
	}
	hooks := t.onCommit
	t.onCommit = nil
	for _, fn := range hooks {
		fn()
	}
	return closeErr
}

// Close discards an uncommitted transaction. Safe after Commit.
func (t *Txn) Close() error {
	if t.batch == nil {
		return nil
	}
	err := t.batch.Close()
	t.batch = nil
	t.onCommit = nil
	return err
}
