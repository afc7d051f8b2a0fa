// Package store is the line-oriented persistent value set consensus commits
// into: Contains(v) and Add(v), with Add idempotent and durable before it
// returns.
package store

// Store is the value-set collaborator the paxos handler learns values into
// and searches against.
type Store interface {
	// Contains reports whether value has been learned.
	Contains(value string) bool

	// Add durably records value. It is idempotent: adding an
	// already-present value is a no-op.
	Add(value string) error
}
