// Package wire implements the cluster's framed, authenticated message
// protocol: a 5-byte header (big-endian u32 payload length, u8 kind)
// followed by a JSON payload.
//
// Every message kind is a plain struct; authenticated kinds additionally
// carry a Hash field computed over their declared fields in order (see
// auth.go). Field order matters for hashing, so each AuthFields method must
// list fields in the same order they are declared in the struct.
package wire

import (
	"math/big"

	"github.com/pkg/errors"
)

// Kind numbers the message kinds. The 1-based numbering is fixed: it is
// part of the wire format.
type Kind uint8

const (
	KindAccept Kind = iota + 1
	KindAccepted
	KindAcknowledge
	KindClient
	KindDenied
	KindFound
	KindLearn
	KindPrepare
	KindPromise
	KindSearch
	KindServer
	KindWrite
	KindWrote
)

func (k Kind) String() string {
	switch k {
	case KindAccept:
		return "Accept"
	case KindAccepted:
		return "Accepted"
	case KindAcknowledge:
		return "Acknowledge"
	case KindClient:
		return "Client"
	case KindDenied:
		return "Denied"
	case KindFound:
		return "Found"
	case KindLearn:
		return "Learn"
	case KindPrepare:
		return "Prepare"
	case KindPromise:
		return "Promise"
	case KindSearch:
		return "Search"
	case KindServer:
		return "Server"
	case KindWrite:
		return "Write"
	case KindWrote:
		return "Wrote"
	default:
		return "Unknown"
	}
}

// Message is any of the 13 wire message kinds.
type Message interface {
	Kind() Kind
}

// Authenticated is implemented by the 6 message kinds that carry a keyed
// hash (Accept, Accepted, Found, Prepare, Promise, Server).
type Authenticated interface {
	Message

	// AuthFields returns the message's declared fields, in declared order,
	// excluding Hash. This is the exact sequence hashed by Sign/Verify.
	AuthFields() []any

	GetHash() string
	SetHash(string)
}

// Accept is Phase 2a of Paxos: a proposer asking acceptors to accept a
// value for a proposal number. Authenticated, sent peer-to-peer.
type Accept struct {
	Value    string   `json:"value"`
	Proposal *big.Int `json:"proposal"`
	Hash     string   `json:"hash"`
}

func (m *Accept) Kind() Kind          { return KindAccept }
func (m *Accept) AuthFields() []any   { return []any{m.Value, m.Proposal} }
func (m *Accept) GetHash() string     { return m.Hash }
func (m *Accept) SetHash(hash string) { m.Hash = hash }

func (m *Accept) validate() error {
	if m.Proposal == nil {
		return errors.New("missing field: proposal")
	}
	return nil
}

// Accepted is Phase 2b: an acceptor announcing it accepted a value for a
// proposal number. Authenticated, broadcast peer-to-peer.
type Accepted struct {
	Value    string   `json:"value"`
	Proposal *big.Int `json:"proposal"`
	Hash     string   `json:"hash"`
}

func (m *Accepted) Kind() Kind          { return KindAccepted }
func (m *Accepted) AuthFields() []any   { return []any{m.Value, m.Proposal} }
func (m *Accepted) GetHash() string     { return m.Hash }
func (m *Accepted) SetHash(hash string) { m.Hash = hash }

func (m *Accepted) validate() error {
	if m.Proposal == nil {
		return errors.New("missing field: proposal")
	}
	return nil
}

// Acknowledge confirms receipt of a Write, Search or Client greeting.
// Unauthenticated.
type Acknowledge struct{}

func (m *Acknowledge) Kind() Kind { return KindAcknowledge }

// Client is the client-side greeting sent on a fresh connection. Unauthenticated.
type Client struct{}

func (m *Client) Kind() Kind { return KindClient }

// Denied refuses a request at the protocol level (stale proposal,
// authentication failure, unexpected greeting). Unauthenticated.
type Denied struct {
	Reason string `json:"reason"`
}

func (m *Denied) Kind() Kind { return KindDenied }

// Found answers a non-recursive Search probe with whether the value is known
// locally, or a resolved recursive Search with the cluster-wide result.
// Authenticated, sent both
// peer-to-peer (probe replies) and to clients (final answer).
type Found struct {
	Value string `json:"value"`
	Found bool   `json:"found"`
	Hash  string `json:"hash"`
}

func (m *Found) Kind() Kind          { return KindFound }
func (m *Found) AuthFields() []any   { return []any{m.Value, m.Found} }
func (m *Found) GetHash() string     { return m.Hash }
func (m *Found) SetHash(hash string) { m.Hash = hash }

// Learn announces that a value has been chosen by consensus. Unauthenticated
// (every replica that observed majority Accepted broadcasts its own).
type Learn struct {
	Value string `json:"value"`
}

func (m *Learn) Kind() Kind { return KindLearn }

// Prepare is Phase 1a: a proposer asking acceptors to promise not to accept
// anything below this proposal number. Authenticated, broadcast peer-to-peer.
type Prepare struct {
	Proposal *big.Int `json:"proposal"`
	Hash     string   `json:"hash"`
}

func (m *Prepare) Kind() Kind          { return KindPrepare }
func (m *Prepare) AuthFields() []any   { return []any{m.Proposal} }
func (m *Prepare) GetHash() string     { return m.Hash }
func (m *Prepare) SetHash(hash string) { m.Hash = hash }

func (m *Prepare) validate() error {
	if m.Proposal == nil {
		return errors.New("missing field: proposal")
	}
	return nil
}

// Promise is Phase 1b: an acceptor's reply to Prepare, carrying the highest
// value/proposal it had already accepted, if any. Authenticated, sent
// peer-to-peer.
type Promise struct {
	Proposal *big.Int `json:"proposal"`
	Accepted string   `json:"accepted"`
	Previous *big.Int `json:"previous"`
	Hash     string   `json:"hash"`
}

func (m *Promise) Kind() Kind          { return KindPromise }
func (m *Promise) AuthFields() []any   { return []any{m.Proposal, m.Accepted, m.Previous} }
func (m *Promise) GetHash() string     { return m.Hash }
func (m *Promise) SetHash(hash string) { m.Hash = hash }

// validate: previous stays optional — null means the acceptor had accepted
// nothing yet.
func (m *Promise) validate() error {
	if m.Proposal == nil {
		return errors.New("missing field: proposal")
	}
	return nil
}

// Search asks whether a value has been learned. recurse=true is a client
// request that fans out cluster-wide; recurse=false is the peer-to-peer
// probe that fan-out produces. Unauthenticated.
type Search struct {
	Value   string `json:"value"`
	Recurse bool   `json:"recurse"`
}

func (m *Search) Kind() Kind { return KindSearch }

// Server is the peer-to-peer greeting exchanged during the handshake,
// carrying the sender's 128-bit node uid. Authenticated.
type Server struct {
	UID  *big.Int `json:"uid"`
	Hash string   `json:"hash"`
}

func (m *Server) Kind() Kind          { return KindServer }
func (m *Server) AuthFields() []any   { return []any{m.UID} }
func (m *Server) GetHash() string     { return m.Hash }
func (m *Server) SetHash(hash string) { m.Hash = hash }

func (m *Server) validate() error {
	if m.UID == nil {
		return errors.New("missing field: uid")
	}
	return nil
}

// Write asks for a value to be durably committed by consensus.
// Unauthenticated (client traffic is not peer traffic).
type Write struct {
	Value string `json:"value"`
}

func (m *Write) Kind() Kind { return KindWrite }

// Wrote acknowledges that a previously queued Write has been learned.
// Unauthenticated.
type Wrote struct {
	Value string `json:"value"`
}

func (m *Wrote) Kind() Kind { return KindWrote }

// New allocates a zero-valued message for kind, for use by Decode.
func New(kind Kind) (Message, error) {
	switch kind {
	case KindAccept:
		return &Accept{}, nil
	case KindAccepted:
		return &Accepted{}, nil
	case KindAcknowledge:
		return &Acknowledge{}, nil
	case KindClient:
		return &Client{}, nil
	case KindDenied:
		return &Denied{}, nil
	case KindFound:
		return &Found{}, nil
	case KindLearn:
		return &Learn{}, nil
	case KindPrepare:
		return &Prepare{}, nil
	case KindPromise:
		return &Promise{}, nil
	case KindSearch:
		return &Search{}, nil
	case KindServer:
		return &Server{}, nil
	case KindWrite:
		return &Write{}, nil
	case KindWrote:
		return &Wrote{}, nil
	default:
		return nil, errors.Errorf("unknown message kind: %d", kind)
	}
}
