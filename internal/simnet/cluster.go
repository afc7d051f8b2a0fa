// Package simnet is an in-memory Paxos cluster used by tests: every
// replica runs a real *paxos.Handler, but messages between replicas are
// delivered by a goroutine instead of a TCP socket, so end-to-end
// consensus scenarios run without binding any ports.
package simnet

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/senutpal/paxosvs/internal/logging"
	"github.com/senutpal/paxosvs/internal/paxos"
	"github.com/senutpal/paxosvs/internal/store"
	"github.com/senutpal/paxosvs/internal/wire"
)

// Cluster is a fixed set of in-memory replicas, each connected to every
// replica of the cluster (itself included), plus a registry of simulated
// clients.
type Cluster struct {
	nodes  map[uuid.UUID]*Node
	secret string

	mu      sync.Mutex
	clients map[uuid.UUID]chan wire.Message
}

// Node is one in-memory replica: a real paxos.Handler wired to a
// store.Memory and to this cluster as its Sender.
type Node struct {
	UID     uuid.UUID
	Handler *paxos.Handler
	Store   *store.Memory

	cluster  *Cluster
	peers    []uuid.UUID
	majority int
}

// NewCluster builds n in-memory replicas. Every replica's peer list holds
// all n replicas, itself included, mirroring a deployment whose hostfile
// lists every replica: Broadcast then reaches the sender too, so each
// replica handles its own Prepare/Accept/Accepted/Learn, and majority is
// n/2+1 over that list (1 for a single-node cluster).
func NewCluster(n int, delays [2]time.Duration) *Cluster {
	c := &Cluster{
		nodes:   make(map[uuid.UUID]*Node, n),
		secret:  "simnet-shared-secret",
		clients: make(map[uuid.UUID]chan wire.Message),
	}

	uids := make([]uuid.UUID, n)
	for i := range uids {
		uids[i] = uuid.New()
	}

	majority := n/2 + 1

	for _, uid := range uids {
		peers := append([]uuid.UUID(nil), uids...)

		node := &Node{
			UID:      uid,
			Store:    store.NewMemory(),
			cluster:  c,
			peers:    peers,
			majority: majority,
		}
		node.Handler = paxos.NewHandler(uid, node.Store, node, delays, logging.For("paxos", uid))

		c.nodes[uid] = node
	}

	return c
}

// Node returns the replica with the given uid.
func (c *Cluster) Node(uid uuid.UUID) *Node {
	return c.nodes[uid]
}

// Nodes returns every replica in the cluster.
func (c *Cluster) Nodes() []*Node {
	out := make([]*Node, 0, len(c.nodes))
	for _, n := range c.nodes {
		out = append(out, n)
	}
	return out
}

// NewClient registers a simulated client and returns its uid plus the
// channel any Found/Wrote/Acknowledge/Denied sent to it will arrive on.
func (c *Cluster) NewClient() (uuid.UUID, <-chan wire.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	uid := uuid.New()
	ch := make(chan wire.Message, 32)
	c.clients[uid] = ch

	return uid, ch
}

// Majority reports this node's configured majority size.
func (n *Node) Majority() int { return n.majority }

// Send delivers m to uid — a peer's handler, or a simulated client's
// channel — asynchronously, approximating an async network. Authenticated
// message kinds are signed here, mirroring the mediator's Send.
func (n *Node) Send(uid uuid.UUID, m wire.Message) error {
	if auth, ok := m.(wire.Authenticated); ok {
		if err := wire.Sign(n.cluster.secret, auth); err != nil {
			return err
		}
	}

	if target, ok := n.cluster.nodes[uid]; ok {
		go target.Handler.Handle(n.UID, m)
		return nil
	}

	n.cluster.mu.Lock()
	ch, ok := n.cluster.clients[uid]
	n.cluster.mu.Unlock()

	if !ok {
		return errors.Errorf("unknown uid: %s", uid)
	}

	go func() { ch <- m }()
	return nil
}

// Broadcast delivers m to every configured peer.
func (n *Node) Broadcast(m wire.Message) {
	if auth, ok := m.(wire.Authenticated); ok {
		if err := wire.Sign(n.cluster.secret, auth); err != nil {
			return
		}
	}

	for _, peer := range n.peers {
		target := n.cluster.nodes[peer]
		go target.Handler.Handle(n.UID, m)
	}
}
