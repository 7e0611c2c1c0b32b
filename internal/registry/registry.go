// Package registry holds the broker's process-wide connection state: the
// primary index of live subscribers, the reverse channel-to-subscriber
// index, and the global delivery counters. It is the only component
// permitted to mutate that state; every other package reaches it through
// Register, Unregister, Subscribers, and Stats.
package registry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Principal is the authenticated identity of a subscriber, resolved once at
// connect time and held for the connection's lifetime.
type Principal struct {
	UserID      string
	Workspaces  map[string]struct{}
	Permissions map[string]struct{}
}

// HasWorkspace reports whether the principal belongs to the given workspace.
func (p Principal) HasWorkspace(workspace string) bool {
	if p.Workspaces == nil {
		return false
	}
	_, ok := p.Workspaces[workspace]
	return ok
}

// Envelope is the immutable unit fanned out to subscribers. Payload is kept
// as opaque JSON: the broker never reshapes what a publisher sent.
type Envelope struct {
	ID          string
	Channel     string
	Payload     []byte
	PublishedAt time.Time
}

// Outcome is the result of a single try-enqueue call.
type Outcome int

const (
	Delivered Outcome = iota
	DroppedFull
	DroppedClosed
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case DroppedFull:
		return "dropped_full"
	case DroppedClosed:
		return "dropped_closed"
	default:
		return "unknown"
	}
}

// Registry is the process-wide connection registry: the primary index by
// connection id and the reverse index by channel. A single RWMutex guards
// both indexes; reads for fan-out copy the subscriber set under the lock
// and iterate the copy outside it, so a publish never blocks on a slow
// writer and a register or unregister never blocks on a fan-out in
// progress.
type Registry struct {
	mu          sync.RWMutex
	byID        map[string]*Connection
	byChannel   map[string]map[string]*Connection
	capacity    int
	connections atomic.Int64
	publishes   atomic.Int64
	delivered   atomic.Int64
	dropped     atomic.Int64
	startedAt   time.Time
}

// New constructs a Registry whose connections get a send queue of the given
// capacity. Callers should pass a positive bound; New falls back to 256
// when capacity is non-positive.
func New(capacity int) *Registry {
	if capacity <= 0 {
		capacity = 256
	}
	return &Registry{
		byID:      make(map[string]*Connection),
		byChannel: make(map[string]map[string]*Connection),
		capacity:  capacity,
		startedAt: time.Now(),
	}
}

// Register inserts a new open connection, indexes it under each of its
// channels, and returns it. channels is deduplicated by the caller before
// reaching here (see internal/channel).
func (r *Registry) Register(principal Principal, channels []string) *Connection {
	conn := newConnection(uuid.NewString(), principal, channels, r.capacity)

	r.mu.Lock()
	r.byID[conn.ID] = conn
	for _, ch := range channels {
		set, ok := r.byChannel[ch]
		if !ok {
			set = make(map[string]*Connection)
			r.byChannel[ch] = set
		}
		set[conn.ID] = conn
	}
	r.mu.Unlock()

	r.connections.Add(1)
	return conn
}

// Unregister transitions the connection to closed, removes it from both
// indexes, and releases its send queue. Idempotent: unregistering an id
// that is absent, or already closed, is a no-op.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	conn, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.byID, id)
	for _, ch := range conn.Channels {
		set, ok := r.byChannel[ch]
		if !ok {
			continue
		}
		delete(set, id)
		if len(set) == 0 {
			delete(r.byChannel, ch)
		}
	}
	r.mu.Unlock()

	conn.close()
}

// Subscribers returns a snapshot of the connections currently subscribed to
// channel. The snapshot is a plain slice copy made under the read lock, so
// it stays stable for the duration of a single fan-out call even if other
// connections register or unregister concurrently.
func (r *Registry) Subscribers(channel string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.byChannel[channel]
	if !ok {
		return nil
	}
	out := make([]*Connection, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

// RecordPublish updates the global publish/delivery/drop counters. Called
// once per publish, after fan-out has completed.
func (r *Registry) RecordPublish(delivered, dropped int) {
	r.publishes.Add(1)
	r.delivered.Add(int64(delivered))
	r.dropped.Add(int64(dropped))
}

// Stats is a consistent snapshot of the global counters plus derived
// connection/channel counts.
type Stats struct {
	ConnectionsAccepted int64
	ConnectionsActive   int
	ChannelsActive      int
	PublishesAccepted   int64
	Delivered           int64
	Dropped             int64
	StartedAt           time.Time
	Uptime              time.Duration
}

// Stats returns a point-in-time snapshot. It never blocks a publisher or
// writer longer than a bounded read of the indexes.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	active := len(r.byID)
	channels := len(r.byChannel)
	r.mu.RUnlock()

	return Stats{
		ConnectionsAccepted: r.connections.Load(),
		ConnectionsActive:   active,
		ChannelsActive:      channels,
		PublishesAccepted:   r.publishes.Load(),
		Delivered:           r.delivered.Load(),
		Dropped:             r.dropped.Load(),
		StartedAt:           r.startedAt,
		Uptime:              time.Since(r.startedAt),
	}
}

// ChannelStat describes one channel's current subscriber set, for the
// detailed per-channel admin statistics document.
type ChannelStat struct {
	Channel         string
	SubscriberCount int
	Subscribers     []SubscriberInfo
}

// SubscriberInfo is the per-connection row of the detailed stats document.
type SubscriberInfo struct {
	ConnectionID string
	UserID       string
	ConnectedAt  time.Time
	LogsSent     int64
}

// ChannelStats returns, for every channel with at least one subscriber, the
// subscriber count and per-connection detail.
func (r *Registry) ChannelStats() []ChannelStat {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ChannelStat, 0, len(r.byChannel))
	for ch, set := range r.byChannel {
		stat := ChannelStat{Channel: ch, SubscriberCount: len(set), Subscribers: make([]SubscriberInfo, 0, len(set))}
		for _, c := range set {
			stat.Subscribers = append(stat.Subscribers, SubscriberInfo{
				ConnectionID: c.ID,
				UserID:       c.Principal.UserID,
				ConnectedAt:  c.ConnectedAt,
				LogsSent:     c.MessagesSent(),
			})
		}
		out = append(out, stat)
	}
	return out
}

// Len reports the number of currently registered connections. Convenience
// used by tests and by Broker.Shutdown while it waits for writers to drain.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
