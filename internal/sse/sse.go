// Package sse renders the three Server-Sent Events record shapes the broker
// emits on the subscribe stream: data records, the initial connection
// handshake, and heartbeats.
package sse

import (
	"encoding/json"
	"fmt"
	"io"
)

// Flusher is the minimal interface extracted from http.Flusher so this
// package does not need to import net/http.
type Flusher interface {
	Flush()
}

// DataRecord is the JSON body of a data record, written on the `data:` line
// alongside an `id:` line carrying the same envelope id. Both prefixes are
// always emitted together, never just one.
type DataRecord struct {
	Channel   string `json:"channel"`
	Data      any    `json:"data"`
	Timestamp int64  `json:"timestamp"`
	ID        string `json:"id"`
}

// ConnectedRecord is the JSON body of the handshake record emitted once,
// immediately after headers, on every accepted subscribe connection.
type ConnectedRecord struct {
	Type         string   `json:"type"`
	Status       string   `json:"status"`
	Channels     []string `json:"channels"`
	UserID       string   `json:"userId"`
	ConnectionID string   `json:"connectionId"`
	Timestamp    int64    `json:"timestamp"`
}

// WriteData writes a data record: an `id:` line followed by a `data:` line
// and the record terminator.
func WriteData(w io.Writer, id string, rec DataRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "id: %s\ndata: %s\n\n", id, b); err != nil {
		return err
	}
	return nil
}

// WriteConnected writes the initial handshake record.
func WriteConnected(w io.Writer, rec ConnectedRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
		return err
	}
	return nil
}

// WriteHeartbeat writes a single SSE comment line used as a heartbeat.
// Comment lines carry no payload and are ignored by SSE clients, but keep
// intermediaries from closing an idle connection.
func WriteHeartbeat(w io.Writer) error {
	_, err := fmt.Fprint(w, ":ping\n\n")
	return err
}

// Flush flushes w if it implements Flusher; otherwise it is a no-op.
func Flush(w io.Writer) {
	if f, ok := w.(Flusher); ok && f != nil {
		f.Flush()
	}
}
