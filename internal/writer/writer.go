// Package writer implements the per-connection writer loop: the sole
// consumer of a connection's send queue, responsible for serializing
// envelopes and heartbeats onto the SSE response stream in order.
package writer

import (
	"context"
	"io"
	"time"

	"github.com/real-staging-ai/logbroker/internal/logging"
	"github.com/real-staging-ai/logbroker/internal/registry"
	"github.com/real-staging-ai/logbroker/internal/sse"
)

// Run drains conn's send queue onto w in SSE wire format until ctx is
// cancelled (client disconnect or server shutdown) or a write fails. It
// selects on three events: a new envelope, the heartbeat timer, or the
// disconnect signal.
//
// Run always ends by putting conn into draining and asking unregister to
// remove it from the registry; it blocks until the connection is fully
// retired, matching the contract that the HTTP handler blocks on the
// writer for the life of the stream.
func Run(ctx context.Context, w io.Writer, conn *registry.Connection, heartbeatInterval time.Duration, unregister func(connectionID string)) {
	log := logging.Default()
	defer func() {
		conn.BeginDraining()
		unregister(conn.ID)
	}()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sse.WriteHeartbeat(w); err != nil {
				log.Warn(ctx, "sse heartbeat write failed", "connection_id", conn.ID, "error", err)
				return
			}
			sse.Flush(w)
			ticker.Reset(heartbeatInterval)
		case env, ok := <-conn.Dequeue():
			if !ok {
				return
			}
			rec := sse.DataRecord{
				Channel:   env.Channel,
				Data:      rawPayload(env.Payload),
				Timestamp: env.PublishedAt.UnixMilli(),
				ID:        env.ID,
			}
			if err := sse.WriteData(w, env.ID, rec); err != nil {
				log.Warn(ctx, "sse data write failed", "connection_id", conn.ID, "error", err)
				return
			}
			sse.Flush(w)
			conn.MarkDelivered()
			ticker.Reset(heartbeatInterval)
		}
	}
}

// rawPayload wraps a JSON-encoded payload so it marshals back out verbatim
// instead of being re-escaped as a string, preserving the publisher's
// original structure byte-for-byte after the round trip.
func rawPayload(payload []byte) any {
	if len(payload) == 0 {
		return nil
	}
	return rawJSON(payload)
}

type rawJSON []byte

func (r rawJSON) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return r, nil
}
