package paxos_test

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/senutpal/paxosvs/internal/simnet"
	"github.com/senutpal/paxosvs/internal/wire"
)

func bigFromInt(n int64) *big.Int { return big.NewInt(n) }

var fastDelays = [2]time.Duration{20 * time.Millisecond, 40 * time.Millisecond}

func drainUntil(t *testing.T, ch <-chan wire.Message, want wire.Kind, timeout time.Duration) wire.Message {
	t.Helper()

	deadline := time.After(timeout)
	for {
		select {
		case m := <-ch:
			if m.Kind() == want {
				return m
			}
		case <-deadline:
			t.Fatalf("timed out waiting for message kind %s", want)
			return nil
		}
	}
}

// A single-replica cluster still reaches consensus, by looping its
// broadcast back to itself as its own sole peer.
func TestSingleNodeWriteIsLearned(t *testing.T) {
	cluster := simnet.NewCluster(1, fastDelays)
	node := cluster.Nodes()[0]

	clientUID, fromClient := cluster.NewClient()

	require.NoError(t, node.Handler.Handle(clientUID, &wire.Write{Value: "hello"}))

	drainUntil(t, fromClient, wire.KindAcknowledge, 2*time.Second)
	drainUntil(t, fromClient, wire.KindWrote, 2*time.Second)

	assert.True(t, node.Store.Contains("hello"))
}

// A 3-replica cluster learns a client's write on every replica, not just
// the one it was submitted to.
func TestThreeReplicaWriteIsLearnedByAllReplicas(t *testing.T) {
	cluster := simnet.NewCluster(3, fastDelays)
	nodes := cluster.Nodes()

	clientUID, fromClient := cluster.NewClient()

	require.NoError(t, nodes[0].Handler.Handle(clientUID, &wire.Write{Value: "quorum"}))

	drainUntil(t, fromClient, wire.KindAcknowledge, 2*time.Second)
	drainUntil(t, fromClient, wire.KindWrote, 2*time.Second)

	require.Eventually(t, func() bool {
		for _, n := range nodes {
			if !n.Store.Contains("quorum") {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)
}

// Two competing writes submitted to different replicas of the same 3-node
// cluster both commit eventually, even though each replica ran its own
// proposer concurrently and only one value can win any single round.
func TestDuellingProposersCommitBothValues(t *testing.T) {
	cluster := simnet.NewCluster(3, fastDelays)
	nodes := cluster.Nodes()

	clientA, fromA := cluster.NewClient()
	clientB, fromB := cluster.NewClient()

	require.NoError(t, nodes[0].Handler.Handle(clientA, &wire.Write{Value: "first"}))
	require.NoError(t, nodes[1].Handler.Handle(clientB, &wire.Write{Value: "second"}))

	drainUntil(t, fromA, wire.KindAcknowledge, 2*time.Second)
	drainUntil(t, fromB, wire.KindAcknowledge, 2*time.Second)

	wroteA := drainUntil(t, fromA, wire.KindWrote, 3*time.Second).(*wire.Wrote)
	wroteB := drainUntil(t, fromB, wire.KindWrote, 3*time.Second).(*wire.Wrote)

	// Both writers are eventually told their value was durably learned
	// (the queued, not-yet-chosen write rides the next round after
	// reset), and every replica agrees on the same final set.
	require.Eventually(t, func() bool {
		for _, n := range nodes {
			if !n.Store.Contains(wroteA.Value) || !n.Store.Contains(wroteB.Value) {
				return false
			}
		}
		return true
	}, 3*time.Second, 10*time.Millisecond)
}

// Searching for a value that was already learned returns found=true.
func TestSearchHitOnLearnedValue(t *testing.T) {
	cluster := simnet.NewCluster(3, fastDelays)
	nodes := cluster.Nodes()

	writer, fromWriter := cluster.NewClient()
	require.NoError(t, nodes[0].Handler.Handle(writer, &wire.Write{Value: "present"}))
	drainUntil(t, fromWriter, wire.KindAcknowledge, 2*time.Second)
	drainUntil(t, fromWriter, wire.KindWrote, 2*time.Second)

	// Probes are answered from each replica's local store, so wait for the
	// learn to land everywhere before searching.
	require.Eventually(t, func() bool {
		for _, n := range nodes {
			if !n.Store.Contains("present") {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)

	searcher, fromSearcher := cluster.NewClient()
	require.NoError(t, nodes[2].Handler.Handle(searcher, &wire.Search{Value: "present", Recurse: true}))

	drainUntil(t, fromSearcher, wire.KindAcknowledge, 2*time.Second)
	found := drainUntil(t, fromSearcher, wire.KindFound, 2*time.Second).(*wire.Found)

	assert.True(t, found.Found)
	assert.Equal(t, "present", found.Value)
}

// Searching for a value no replica has learned returns found=false once a
// majority of probes report absence.
func TestSearchMissOnUnknownValue(t *testing.T) {
	cluster := simnet.NewCluster(3, fastDelays)
	nodes := cluster.Nodes()

	searcher, fromSearcher := cluster.NewClient()
	require.NoError(t, nodes[0].Handler.Handle(searcher, &wire.Search{Value: "absent", Recurse: true}))

	drainUntil(t, fromSearcher, wire.KindAcknowledge, 2*time.Second)
	found := drainUntil(t, fromSearcher, wire.KindFound, 2*time.Second).(*wire.Found)

	assert.False(t, found.Found)
	assert.Equal(t, "absent", found.Value)
}

// A stale Prepare is rejected once the replica has already promised to a
// higher proposal number.
func TestStalePrepareIsDenied(t *testing.T) {
	cluster := simnet.NewCluster(1, fastDelays)
	node := cluster.Nodes()[0]

	peer, fromPeer := cluster.NewClient()

	require.NoError(t, node.Handler.Handle(peer, &wire.Prepare{Proposal: bigFromInt(100)}))
	drainUntil(t, fromPeer, wire.KindPromise, 2*time.Second)

	require.NoError(t, node.Handler.Handle(peer, &wire.Prepare{Proposal: bigFromInt(50)}))
	denied := drainUntil(t, fromPeer, wire.KindDenied, 2*time.Second).(*wire.Denied)

	assert.NotEmpty(t, denied.Reason)
}
