package state

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrTxnNotFound is returned when a transaction ID is unknown.
	ErrTxnNotFound = errors.New("state: transaction not found")

	// ErrTxnOrder is returned when commit or rollback targets a
	// transaction that is not the innermost open one. Nested transactions
	// are strictly LIFO.
	ErrTxnOrder = errors.New("state: nested transactions must close innermost-first")
)

// txnFrame holds the snapshot taken at BeginTransaction.
type txnFrame struct {
	id   string
	snap *State
}

// BeginTransaction snapshots the current state and returns a transaction
// ID. Transactions nest LIFO: the innermost open transaction must be
// committed or rolled back before any outer one.
func (s *State) BeginTransaction() string {
	snap := s.Snapshot()
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.txns = append(s.txns, &txnFrame{id: id, snap: snap})
	return id
}

// Rollback restores the snapshot taken at BeginTransaction and closes the
// transaction. Only the innermost open transaction may be rolled back.
func (s *State) Rollback(txnID string) error {
	s.mu.Lock()
	frame, err := s.popLocked(txnID)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.Restore(frame.snap)
	return nil
}

// Commit drops the snapshot and closes the transaction, keeping all writes
// made since BeginTransaction. Only the innermost open transaction may be
// committed.
func (s *State) Commit(txnID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.popLocked(txnID)
	return err
}

// OpenTransactions reports how many transactions are currently open.
func (s *State) OpenTransactions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.txns)
}

func (s *State) popLocked(txnID string) (*txnFrame, error) {
	if len(s.txns) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrTxnNotFound, txnID)
	}
	top := s.txns[len(s.txns)-1]
	if top.id != txnID {
		for _, f := range s.txns {
			if f.id == txnID {
				return nil, fmt.Errorf("%w: %s is not innermost", ErrTxnOrder, txnID)
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrTxnNotFound, txnID)
	}
	s.txns = s.txns[:len(s.txns)-1]
	return top, nil
}
