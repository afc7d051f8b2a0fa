// Package identity holds the process-wide node identity: the replica's
// unique id and the shared secret used to authenticate a subset of wire
// messages (see internal/wire).
package identity

import (
	"math/big"
	"os"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// secretEnv is the environment variable holding the shared authentication
// secret. The process must exit fatally if it is unset.
const secretEnv = "SECRET"

// Node is this replica's identity: a unique id used on the wire (Server{uid},
// client uids) and the shared secret used to authenticate messages.
//
// A Node is constructed once at startup and injected into every component
// that needs it (mediator, paxos handler); it is never mutated afterward.
type Node struct {
	UID    uuid.UUID
	Secret string
}

// New creates a fresh node identity with a random uid and the secret read
// from the SECRET environment variable.
func New() (Node, error) {
	secret, ok := os.LookupEnv(secretEnv)
	if !ok || secret == "" {
		return Node{}, errors.Errorf("missing environment variable: %q", secretEnv)
	}

	return Node{
		UID:    uuid.New(),
		Secret: secret,
	}, nil
}

// IntFromUID returns the 128-bit unsigned integer representation of id, the
// form carried on the wire by Server{uid} messages (mirrors Python's
// uuid.UUID.int).
func IntFromUID(id uuid.UUID) *big.Int {
	n := new(big.Int)
	n.SetBytes(id[:])
	return n
}

// UIDFromInt is the inverse of IntFromUID.
func UIDFromInt(n *big.Int) (uuid.UUID, error) {
	raw := n.Bytes()
	if len(raw) > 16 {
		return uuid.Nil, errors.Errorf("uid out of range: %s", n)
	}

	var buf [16]byte
	copy(buf[16-len(raw):], raw)
	return uuid.UUID(buf), nil
}
