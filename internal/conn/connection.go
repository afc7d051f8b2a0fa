// Package conn implements the per-link Connection: a dual reader/writer
// slot with queued send/receive, background sender/receiver/notifier/aborter
// goroutines, and at-most-one in-flight receive-callback invocation.
package conn

import (
	"context"
	"net"
	"sync"

	"github.com/senutpal/paxosvs/internal/logging"
	"github.com/senutpal/paxosvs/internal/wire"
)

var log = logging.Log.WithField("component", "conn")

// queueDepth bounds the send/receive queues. Generous enough that Paxos
// round traffic never fills it in practice.
const queueDepth = 256

// ReceiveHandler is invoked once per received message, serially.
type ReceiveHandler func(wire.Message)

// FailHandler is invoked once when the connection fails.
type FailHandler func()

// Connection is one bidirectional link. Its reader and writer slots are
// independent because during the peer handshake the two directions can come
// from different sockets: an accepted inbound reader paired with a dialed
// outbound writer.
type Connection struct {
	mu sync.Mutex

	reader     net.Conn
	writer     net.Conn
	associated net.Conn // writer whose lifetime is tied to reader

	sendCh chan wire.Message
	recvCh chan wire.Message

	senderCancel   context.CancelFunc
	receiverCancel context.CancelFunc
	notifierCancel context.CancelFunc

	onReceive ReceiveHandler
	onFail    FailHandler

	failed     chan struct{}
	failedOnce sync.Once

	abortCtx    context.Context
	abortCancel context.CancelFunc
	closeOnce   sync.Once
}

// New creates a Connection with no reader/writer installed; the aborter
// goroutine starts immediately and runs until Close.
func New() *Connection {
	abortCtx, abortCancel := context.WithCancel(context.Background())

	c := &Connection{
		sendCh:      make(chan wire.Message, queueDepth),
		recvCh:      make(chan wire.Message, queueDepth),
		failed:      make(chan struct{}),
		abortCtx:    abortCtx,
		abortCancel: abortCancel,
	}

	go c.abort()
	return c
}

// SetWriter installs a new writer stream, stopping the previous sender
// goroutine and closing the previous writer unless it is the associated
// writer of the current reader.
func (c *Connection) SetWriter(w net.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writer == w {
		return
	}

	if c.senderCancel != nil {
		c.senderCancel()
		c.senderCancel = nil
	}

	if c.writer != nil && c.writer != c.associated {
		c.writer.Close()
	}

	c.writer = w

	if w != nil {
		ctx, cancel := context.WithCancel(context.Background())
		c.senderCancel = cancel
		go c.send(ctx, w)
	}
}

// SetReader installs a new reader stream (and the writer whose lifetime is
// bound to it, if any), stopping the previous receiver goroutine and
// closing the previous associated writer unless it is also the active
// writer.
func (c *Connection) SetReader(r net.Conn, associated net.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.reader == r {
		return
	}

	if c.receiverCancel != nil {
		c.receiverCancel()
		c.receiverCancel = nil
	}

	if c.associated != nil && c.associated != c.writer {
		c.associated.Close()
	}

	c.reader = r
	c.associated = associated

	if r != nil {
		ctx, cancel := context.WithCancel(context.Background())
		c.receiverCancel = cancel
		go c.receive(ctx, r)
	}
}

// Send enqueues m to be written by the sender goroutine. It blocks if the
// send queue is full.
func (c *Connection) Send(m wire.Message) {
	c.sendCh <- m
}

// OnReceive installs the callback invoked for every received message,
// starting (or stopping) the notifier goroutine as needed.
func (c *Connection) OnReceive(handler ReceiveHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.notifierCancel != nil {
		c.notifierCancel()
		c.notifierCancel = nil
	}

	c.onReceive = handler

	if handler != nil {
		ctx, cancel := context.WithCancel(context.Background())
		c.notifierCancel = cancel
		go c.notify(ctx)
	}
}

// OnFail installs the callback invoked once when the connection fails.
func (c *Connection) OnFail(handler FailHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFail = handler
}

// Close clears the reader, writer and on-receive handler, then stops the
// aborter. Idempotent.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.SetReader(nil, nil)
		c.SetWriter(nil)
		c.OnReceive(nil)
		c.abortCancel()
	})
}

// send keeps draining the queue even after a write error so that callers
// blocked in Send (and Broadcast waiting on them) are never wedged by one
// dead link; the loop exits only on cancel.
func (c *Connection) send(ctx context.Context, w net.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-c.sendCh:
			if err := wire.WriteMessage(w, m); err != nil {
				select {
				case <-ctx.Done():
					return
				default:
				}

				c.triggerFailed()
				log.Warnf("failed to send message: %v", err)
			}
		}
	}
}

func (c *Connection) receive(ctx context.Context, r net.Conn) {
	for {
		m, err := wire.ReadMessage(r)
		if err != nil {
			select {
			case <-ctx.Done():
				return // intentional replacement/close, not a failure
			default:
				c.triggerFailed()
				return
			}
		}

		select {
		case c.recvCh <- m:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Connection) notify(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-c.recvCh:
			c.mu.Lock()
			handler := c.onReceive
			c.mu.Unlock()

			if handler != nil {
				handler(m)
			}
		}
	}
}

func (c *Connection) triggerFailed() {
	c.failedOnce.Do(func() { close(c.failed) })
}

func (c *Connection) abort() {
	select {
	case <-c.failed:
	case <-c.abortCtx.Done():
		return
	}

	c.mu.Lock()
	handler := c.onFail
	c.mu.Unlock()

	if handler != nil {
		handler()
	}

	c.Close()
}
