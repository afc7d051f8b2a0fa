// Package paxos implements the single-decree Paxos round state machine:
// proposer, acceptor and learner roles co-located in one Handler per
// replica, the pending-write queue, and the recursive cluster-wide search
// protocol. All of it lives behind one dispatch point because what must be
// serialized is message handling, not any single role.
package paxos

import (
	"context"
	"math/big"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/senutpal/paxosvs/internal/store"
	"github.com/senutpal/paxosvs/internal/wire"
)

// Sender is the subset of the mediator the handler needs: send to one
// party, broadcast to every peer, and the cluster's majority size.
type Sender interface {
	Send(uid uuid.UUID, m wire.Message) error
	Broadcast(m wire.Message)
	Majority() int
}

type acceptedState struct {
	value    string
	proposal *big.Int
}

type acceptingState struct {
	value string
	count int
}

type proposingState struct {
	value    string
	proposal *big.Int
	promises int
	maximum  *big.Int
}

type searchingState struct {
	fails   int
	waiters []uuid.UUID
}

type writingEntry struct {
	value  string
	writer uuid.UUID
}

// Handler owns all Paxos round state for one replica and runs every
// message handler and the proposer task under a single mutex, so exactly
// one message is processed to completion at a time.
type Handler struct {
	mu sync.Mutex

	self   uuid.UUID
	store  store.Store
	sender Sender
	delays [2]time.Duration
	log    *logrus.Entry

	promised  *big.Int
	accepted  *acceptedState
	proposing *proposingState
	accepting map[string]*acceptingState
	searching map[string]*searchingState
	writing   []writingEntry

	proposerCancel context.CancelFunc
}

// NewHandler constructs a Handler with empty round state. delays is the
// (low, high) uniform backoff range between proposer retries.
func NewHandler(self uuid.UUID, st store.Store, sender Sender, delays [2]time.Duration, log *logrus.Entry) *Handler {
	return &Handler{
		self:      self,
		store:     st,
		sender:    sender,
		delays:    delays,
		log:       log,
		accepting: make(map[string]*acceptingState),
		searching: make(map[string]*searchingState),
	}
}

// Handle dispatches one received message to its handler. Callers (the
// mediator's dispatch callback) must already have authenticated m; Handle
// trusts every message it is given.
func (h *Handler) Handle(sender uuid.UUID, m wire.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch msg := m.(type) {
	case *wire.Accept:
		h.onAccept(sender, msg.Value, msg.Proposal)
	case *wire.Accepted:
		h.onAccepted(msg.Value, msg.Proposal)
	case *wire.Found:
		h.onFound(msg.Value, msg.Found)
	case *wire.Learn:
		h.onLearn(msg.Value)
	case *wire.Prepare:
		h.onPrepare(sender, msg.Proposal)
	case *wire.Promise:
		h.onPromise(msg.Proposal, msg.Accepted, msg.Previous)
	case *wire.Search:
		h.onSearch(sender, msg.Value, msg.Recurse)
	case *wire.Write:
		h.onWrite(sender, msg.Value)
	case *wire.Acknowledge, *wire.Denied:
		// no-op at the handler level
	default:
		return errors.Errorf("unexpected message type: %T", m)
	}

	return nil
}

// onAccept handles Phase 2a. Accept admits >= against promised, unlike
// Prepare's strict >.
func (h *Handler) onAccept(sender uuid.UUID, value string, proposal *big.Int) {
	if h.promised == nil || proposal.Cmp(h.promised) >= 0 {
		h.promised = proposal
		h.accepted = &acceptedState{value: value, proposal: proposal}

		h.sender.Broadcast(&wire.Accepted{Value: value, Proposal: proposal})
		return
	}

	_ = h.sender.Send(sender, &wire.Denied{Reason: "Already promised to a higher proposal"})
}

// onAccepted handles Phase 2b: counts Accepted replies per proposal number
// and broadcasts Learn once a majority has accepted the same value.
func (h *Handler) onAccepted(value string, proposal *big.Int) {
	key := proposal.String()

	entry, ok := h.accepting[key]
	if !ok {
		entry = &acceptingState{value: value}
		h.accepting[key] = entry
	}

	if entry.value != value {
		delete(h.accepting, key)
		h.log.Warnf("duplicate proposal number with mismatched value: %s", proposal)
		return
	}

	entry.count++

	if entry.count >= h.sender.Majority() {
		delete(h.accepting, key)
		h.sender.Broadcast(&wire.Learn{Value: value})
	}
}

// onFound resolves a recursive Search once a majority of probes agree, or
// as soon as one replica reports the value found.
func (h *Handler) onFound(value string, found bool) {
	entry, ok := h.searching[value]
	if !ok {
		return
	}

	if found {
		delete(h.searching, value)
		h.notifySearchers(value, entry.waiters, true)
		return
	}

	entry.fails++

	if entry.fails >= h.sender.Majority() {
		delete(h.searching, value)
		h.notifySearchers(value, entry.waiters, false)
	}
}

func (h *Handler) notifySearchers(value string, waiters []uuid.UUID, found bool) {
	response := &wire.Found{Value: value, Found: found}
	for _, waiter := range waiters {
		_ = h.sender.Send(waiter, response)
	}
}

// onLearn applies a chosen value to storage, acknowledges any queued
// writers whose value is now durable, and resets round state for the next
// value in the Writing queue, if any.
func (h *Handler) onLearn(value string) {
	if err := h.store.Add(value); err != nil {
		h.log.Warnf("failed to persist learned value: %v", err)
	}

	for len(h.writing) > 0 && h.store.Contains(h.writing[0].value) {
		head := h.writing[0]
		h.writing = h.writing[1:]

		_ = h.sender.Send(head.writer, &wire.Wrote{Value: head.value})
	}

	h.reset()
}

// onPrepare handles Phase 1a: strict > against promised, unlike Accept's >=.
func (h *Handler) onPrepare(sender uuid.UUID, proposal *big.Int) {
	if h.promised == nil || proposal.Cmp(h.promised) > 0 {
		h.promised = proposal

		accepted := ""
		var previous *big.Int
		if h.accepted != nil {
			accepted = h.accepted.value
			previous = h.accepted.proposal
		}

		_ = h.sender.Send(sender, &wire.Promise{
			Proposal: h.promised,
			Accepted: accepted,
			Previous: previous,
		})
		return
	}

	_ = h.sender.Send(sender, &wire.Denied{Reason: "Already promised to a higher proposal"})
}

// onPromise handles Phase 1b: merges in the highest previously-accepted
// value seen so far, and moves to Phase 2 once a majority of promises have
// arrived for the round currently being proposed.
func (h *Handler) onPromise(proposal *big.Int, accepted string, previous *big.Int) {
	if h.proposing == nil || proposal.Cmp(h.proposing.proposal) != 0 {
		return
	}

	if previous != nil && (h.proposing.maximum == nil || previous.Cmp(h.proposing.maximum) > 0) {
		h.proposing.value = accepted
		h.proposing.maximum = previous
	}

	h.proposing.promises++

	if h.proposing.promises >= h.sender.Majority() {
		value := h.proposing.value
		h.proposing = nil

		if h.proposerCancel != nil {
			h.proposerCancel()
			h.proposerCancel = nil
		}

		h.sender.Broadcast(&wire.Accept{Value: value, Proposal: proposal})
	}
}

// onSearch handles both halves of the recursive search protocol: a client
// request with recurse=true registers a waiter and (on the first waiter)
// fans out a non-recursive probe; recurse=false is that probe, answered
// directly from local storage.
func (h *Handler) onSearch(sender uuid.UUID, value string, recurse bool) {
	if !recurse {
		_ = h.sender.Send(sender, &wire.Found{Value: value, Found: h.store.Contains(value)})
		return
	}

	entry, ok := h.searching[value]
	if !ok {
		entry = &searchingState{}
		h.searching[value] = entry
	}

	entry.waiters = append(entry.waiters, sender)
	first := len(entry.waiters) == 1

	_ = h.sender.Send(sender, &wire.Acknowledge{})

	if first {
		h.sender.Broadcast(&wire.Search{Value: value, Recurse: false})
	}
}

// onWrite queues a value for consensus and starts the proposer if none is
// currently running; at most one proposer exists at any moment.
func (h *Handler) onWrite(sender uuid.UUID, value string) {
	_ = h.sender.Send(sender, &wire.Acknowledge{})
	h.writing = append(h.writing, writingEntry{value: value, writer: sender})

	if h.proposerCancel == nil {
		h.startProposer(h.writing[0].value)
	}
}

// startProposer launches the background proposer loop for value. The
// caller must hold h.mu.
func (h *Handler) startProposer(value string) {
	ctx, cancel := context.WithCancel(context.Background())
	h.proposerCancel = cancel

	go h.proposerLoop(ctx, value)
}

// proposerLoop repeatedly sends Prepare for a fresh proposal number until
// canceled (by a quorum of promises arriving, or by a round reset).
func (h *Handler) proposerLoop(ctx context.Context, value string) {
	for {
		h.mu.Lock()
		select {
		case <-ctx.Done():
			// Canceled while waiting for the lock; don't clobber the
			// state of whatever round superseded this one.
			h.mu.Unlock()
			return
		default:
		}
		proposal := NewProposal(h.self)
		h.proposing = &proposingState{value: value, proposal: proposal}
		h.mu.Unlock()

		h.sender.Broadcast(&wire.Prepare{Proposal: proposal})

		delay := randomDuration(h.delays[0], h.delays[1])

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// reset clears round state for the next round and, if writes remain
// queued, starts a fresh proposer for the new head of the queue. The
// caller must hold h.mu.
func (h *Handler) reset() {
	h.promised = nil
	h.accepted = nil
	h.proposing = nil
	h.accepting = make(map[string]*acceptingState)

	if h.proposerCancel != nil {
		h.proposerCancel()
		h.proposerCancel = nil
	}

	if len(h.writing) > 0 {
		h.startProposer(h.writing[0].value)
	}
}

func randomDuration(low, high time.Duration) time.Duration {
	if high <= low {
		return low
	}

	span := high - low
	return low + time.Duration(rand.Int63n(int64(span)))
}
