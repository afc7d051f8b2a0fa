// Package mediator implements the per-replica connection mediator: it
// accepts inbound links, dials outbound peers with retry/backoff, performs
// the role handshake, enforces quorum liveness, and routes authenticated
// messages to the paxos handler via Send/Broadcast.
package mediator

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/senutpal/paxosvs/internal/conn"
	"github.com/senutpal/paxosvs/internal/hostaddr"
	"github.com/senutpal/paxosvs/internal/identity"
	"github.com/senutpal/paxosvs/internal/logging"
	"github.com/senutpal/paxosvs/internal/wire"
)

// DefaultDialDelays is the inter-attempt backoff schedule used when dialing
// a peer: the first attempt waits 100ms, then each retry backs off further.
var DefaultDialDelays = []time.Duration{
	100 * time.Millisecond,
	1 * time.Second,
	2 * time.Second,
	5 * time.Second,
}

// Handler is the callback the mediator invokes once for every received
// message that passes authentication (unauthenticated kinds pass
// unconditionally). Calls for one connection are serial; calls for different
// connections can run concurrently, so the handler serializes itself
// (satisfied by *paxos.Handler.Handle).
type Handler func(sender uuid.UUID, m wire.Message) error

// Mediator multiplexes framed, authenticated messages over every peer and
// client link for one replica.
type Mediator struct {
	self     identity.Node
	hosts    []hostaddr.Host
	majority int

	clients *conn.Map
	peers   *conn.Map

	listener net.Listener

	handler Handler
	log     *logrus.Entry

	done      chan struct{}
	closeOnce sync.Once
}

// New computes majority = floor(N/2)+1 over the configured hosts. Nothing is
// added for the local replica: it is counted (and receives its own
// broadcasts) only when the hostfile lists its own address.
func New(self identity.Node, hosts []hostaddr.Host) *Mediator {
	return &Mediator{
		self:     self,
		hosts:    hosts,
		majority: len(hosts)/2 + 1,
		clients:  conn.NewMap(),
		peers:    conn.NewMap(),
		log:      logging.For("mediator", self.UID),
		done:     make(chan struct{}),
	}
}

// Majority reports the cluster's majority size.
func (m *Mediator) Majority() int { return m.majority }

// Start registers the dispatch callback, opens the listener, dials every
// configured peer (with retry/backoff), and exits fatally if the listener
// fails to bind or fewer than a majority of peers connect.
func (m *Mediator) Start(port hostaddr.Port, delays []time.Duration, handler Handler) {
	m.handler = handler

	m.clients.OnReceive(m.dispatch)
	m.peers.OnReceive(m.dispatch)
	m.clients.OnFail(m.onClientFail)
	m.peers.OnFail(m.onPeerFail)

	listener, err := net.Listen("tcp", fmt.Sprintf(":%s", port))
	if err != nil {
		m.log.Fatalf("failed to open server on port %q: %v", port, err)
	}
	m.listener = listener

	go m.serve()

	m.connectAll(delays)

	if m.peers.Len() < m.majority {
		m.log.Fatal("failed to connect to the majority of servers")
	}

	m.log.Info("server started")
}

// Send routes m to the peer or client identified by uid. Peer and client
// uid spaces are disjoint, so peers take precedence safely. Authenticated
// message kinds are signed here, the one place every outbound message
// funnels through.
func (m *Mediator) Send(uid uuid.UUID, msg wire.Message) error {
	if err := signIfAuthenticated(m.self.Secret, msg); err != nil {
		return err
	}

	if m.peers.Contains(uid) {
		return m.peers.Send(uid, msg)
	}

	return m.clients.Send(uid, msg)
}

// Broadcast sends m to every connected peer. Clients never receive
// broadcasts.
func (m *Mediator) Broadcast(msg wire.Message) {
	if err := signIfAuthenticated(m.self.Secret, msg); err != nil {
		m.log.Warnf("failed to sign outgoing broadcast: %v", err)
		return
	}

	m.peers.Broadcast(msg)
}

func signIfAuthenticated(secret string, msg wire.Message) error {
	if auth, ok := msg.(wire.Authenticated); ok {
		return wire.Sign(secret, auth)
	}
	return nil
}

// Done is closed once Close has finished tearing the mediator down.
func (m *Mediator) Done() <-chan struct{} {
	return m.done
}

// Close tears down every connection and the listener. Idempotent.
func (m *Mediator) Close() {
	m.closeOnce.Do(func() {
		m.clients.Clear()
		m.peers.Clear()

		if m.listener != nil {
			m.listener.Close()
		}

		m.log.Info("server closed")
		close(m.done)
	})
}

func (m *Mediator) connectAll(delays []time.Duration) {
	var wg sync.WaitGroup

	for _, host := range m.hosts {
		wg.Add(1)

		go func(host hostaddr.Host) {
			defer wg.Done()
			m.dial(host, delays)
		}(host)
	}

	wg.Wait()
}

// dial repeatedly tries to connect to host, sleeping delay[i] before the
// i-th attempt, until one succeeds or the schedule is exhausted.
func (m *Mediator) dial(host hostaddr.Host, delays []time.Duration) {
	fails := 0

	for _, delay := range delays {
		time.Sleep(delay)

		c, err := net.Dial("tcp", host.DialAddr())
		if err != nil {
			fails++
			m.log.Warnf("failed to connect to host %s: %d time(s)", host, fails)
			continue
		}

		if err := m.handshake(c); err != nil {
			fails++
			c.Close()
			m.log.Warnf("failed to connect to host %s: %d time(s)", host, fails)
			continue
		}

		return
	}
}

// handshake is the outbound side of the peer handshake: send Server{self},
// read the peer's Server reply, verify it, and install this socket as the
// writer for that peer's uid.
func (m *Mediator) handshake(c net.Conn) error {
	hello := &wire.Server{UID: identity.IntFromUID(m.self.UID)}
	if err := wire.Sign(m.self.Secret, hello); err != nil {
		return err
	}

	if err := wire.WriteMessage(c, hello); err != nil {
		return err
	}

	received, err := wire.ReadMessage(c)
	if err != nil {
		return err
	}

	reply, ok := received.(*wire.Server)
	if !ok {
		return errors.Errorf("unexpected response type: %T", received)
	}

	valid, err := wire.Verify(m.self.Secret, reply)
	if err != nil {
		return err
	}
	if !valid {
		return errors.New("authentication failed")
	}

	uid, err := identity.UIDFromInt(reply.UID)
	if err != nil {
		return err
	}

	m.peers.EnsureWriter(uid, c)
	return nil
}

// serve accepts inbound sockets until the listener is closed.
func (m *Mediator) serve() {
	for {
		c, err := m.listener.Accept()
		if err != nil {
			return
		}

		go m.greet(c)
	}
}

// greet is the inbound side of the greeting protocol: a Server greeting
// installs a peer link, a Client greeting registers a fresh client uid,
// anything else is denied.
func (m *Mediator) greet(c net.Conn) {
	received, err := wire.ReadMessage(c)
	if err != nil {
		m.failGreeting(c, err.Error())
		return
	}

	if auth, ok := received.(wire.Authenticated); ok {
		valid, err := wire.Verify(m.self.Secret, auth)
		if err != nil || !valid {
			_ = wire.WriteMessage(c, &wire.Denied{Reason: "Authentication failed"})
			m.failGreeting(c, "authentication failed")
			return
		}
	}

	switch msg := received.(type) {
	case *wire.Server:
		reply := &wire.Server{UID: identity.IntFromUID(m.self.UID)}
		if err := wire.Sign(m.self.Secret, reply); err != nil {
			m.failGreeting(c, err.Error())
			return
		}

		if err := wire.WriteMessage(c, reply); err != nil {
			m.failGreeting(c, err.Error())
			return
		}

		uid, err := identity.UIDFromInt(msg.UID)
		if err != nil {
			m.failGreeting(c, err.Error())
			return
		}

		m.peers.EnsureReader(uid, c, c)
		m.log.Debugf("successful server greeting: %s", uid)

	case *wire.Client:
		if err := wire.WriteMessage(c, &wire.Acknowledge{}); err != nil {
			m.failGreeting(c, err.Error())
			return
		}

		uid := uuid.New()
		m.clients.EnsureWriter(uid, c)
		m.clients.EnsureReader(uid, c, c)
		m.log.Debugf("successful client greeting: %s", uid)

	default:
		reason := fmt.Sprintf("unexpected greeting message: %T", received)
		_ = wire.WriteMessage(c, &wire.Denied{Reason: reason})
		m.failGreeting(c, reason)
	}
}

func (m *Mediator) failGreeting(c net.Conn, reason string) {
	c.Close()
	m.log.Warnf("failed greeting: %s", reason)
}

// dispatch is the shared on-receive callback for both connection maps: it
// authenticates, then forwards to the paxos handler. A panicking handler
// loses that one message, not the whole replica.
func (m *Mediator) dispatch(uid uuid.UUID, msg wire.Message) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Errorf("panic handling message from %s: %v", uid, r)
		}
	}()

	m.log.Debugf("message from %s: %T", uid, msg)

	if auth, ok := msg.(wire.Authenticated); ok {
		valid, err := wire.Verify(m.self.Secret, auth)
		if err != nil || !valid {
			_ = m.Send(uid, &wire.Denied{Reason: "Authentication failed"})
			m.log.Warnf("message authentication failed from %s", uid)
			return
		}
	}

	if err := m.handler(uid, msg); err != nil {
		m.log.Warnf("failed to handle message from %s: %v", uid, err)
	}
}

func (m *Mediator) onClientFail(uid uuid.UUID) {
	m.log.Warnf("lost connection to client: %s", uid)
}

func (m *Mediator) onPeerFail(uid uuid.UUID) {
	m.log.Warnf("lost connection to peer: %s", uid)

	if m.peers.Len() < m.majority {
		m.log.Fatal("lost connection to the majority of servers")
	}
}
