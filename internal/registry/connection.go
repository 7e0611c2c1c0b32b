package registry

import (
	"sync/atomic"
	"time"
)

// connState is the connection lifecycle: open -> draining -> closed.
// draining is entered as the first step of shutdown, before the connection
// leaves the registry's indexes; closed is terminal.
type connState int32

const (
	stateOpen connState = iota
	stateDraining
	stateClosed
)

// Connection is one live subscriber: a fixed identity, a fixed channel set,
// and a bounded send queue with exactly one consumer (its writer).
type Connection struct {
	ID          string
	Principal   Principal
	Channels    []string
	ConnectedAt time.Time

	queue        chan Envelope
	state        atomic.Int32
	messagesSent atomic.Int64
}

func newConnection(id string, principal Principal, channels []string, capacity int) *Connection {
	return &Connection{
		ID:          id,
		Principal:   principal,
		Channels:    channels,
		ConnectedAt: time.Now(),
		queue:       make(chan Envelope, capacity),
	}
}

// TryEnqueue is the connection handle's one mutator. It never blocks: it
// succeeds, reports the queue is full, or reports the connection is no
// longer open.
func (c *Connection) TryEnqueue(env Envelope) Outcome {
	if connState(c.state.Load()) != stateOpen {
		return DroppedClosed
	}
	select {
	case c.queue <- env:
		return Delivered
	default:
		return DroppedFull
	}
}

// Dequeue exposes the receive side of the send queue to the connection's
// writer. There is exactly one reader for the lifetime of the connection.
func (c *Connection) Dequeue() <-chan Envelope {
	return c.queue
}

// BeginDraining transitions open -> draining. It is the first step a writer
// takes on disconnect, write error, or server shutdown. Returns false if
// the connection was already draining or closed.
func (c *Connection) BeginDraining() bool {
	return c.state.CompareAndSwap(int32(stateOpen), int32(stateDraining))
}

// close transitions the connection to closed. Called by the registry once
// the connection has been removed from both indexes.
func (c *Connection) close() {
	c.state.Store(int32(stateClosed))
}

// State returns the connection's current lifecycle state as a string, for
// diagnostics.
func (c *Connection) State() string {
	switch connState(c.state.Load()) {
	case stateOpen:
		return "open"
	case stateDraining:
		return "draining"
	default:
		return "closed"
	}
}

// MarkDelivered increments the per-connection messages-sent counter. Called
// by the writer, which is the sole owner of this counter, once per envelope
// actually written to the wire.
func (c *Connection) MarkDelivered() {
	c.messagesSent.Add(1)
}

// MessagesSent returns the number of envelopes this connection's writer has
// put on the wire so far.
func (c *Connection) MessagesSent() int64 {
	return c.messagesSent.Load()
}
