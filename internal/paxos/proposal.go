package paxos

import (
	"math/big"
	"time"

	"github.com/google/uuid"
)

// NewProposal returns a fresh 128-bit proposal number: the current
// millisecond epoch time (big-endian, 8 bytes) followed by the first 8
// bytes of this node's uid, interpreted as one big-endian unsigned integer.
// Time dominates the ordering so proposal numbers grow
// monotonically across restarts; the uid suffix breaks ties between
// replicas proposing in the same millisecond.
func NewProposal(self uuid.UUID) *big.Int {
	var buf [16]byte

	millis := uint64(time.Now().UnixMilli())
	for i := 0; i < 8; i++ {
		buf[7-i] = byte(millis >> (8 * i))
	}

	copy(buf[8:], self[:8])

	n := new(big.Int)
	n.SetBytes(buf[:])
	return n
}
