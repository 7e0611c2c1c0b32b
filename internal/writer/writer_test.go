package writer

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/real-staging-ai/logbroker/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newConn(t *testing.T, r *registry.Registry, channels ...string) *registry.Connection {
	t.Helper()
	return r.Register(registry.Principal{UserID: "user123"}, channels)
}

func TestRun_WritesEnvelopesInOrderAndUnregistersOnDisconnect(t *testing.T) {
	r := registry.New(4)
	conn := newConn(t, r, "logs:etl:workspace123")

	var buf bytes.Buffer
	ctx, cancel := context.WithCancel(context.Background())

	conn.TryEnqueue(registry.Envelope{ID: "1", Channel: "logs:etl:workspace123", Payload: []byte(`{"n":1}`), PublishedAt: time.Now()})
	conn.TryEnqueue(registry.Envelope{ID: "2", Channel: "logs:etl:workspace123", Payload: []byte(`{"n":2}`), PublishedAt: time.Now()})

	done := make(chan struct{})
	go func() {
		Run(ctx, &buf, conn, time.Hour, r.Unregister)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return strings.Count(buf.String(), "id: ") == 2
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done

	out := buf.String()
	assert.True(t, strings.Index(out, `"id":"1"`) < strings.Index(out, `"id":"2"`), "envelopes must be written in FIFO order")
	assert.Equal(t, 0, r.Len(), "writer exit must unregister the connection")
	assert.Equal(t, "closed", conn.State())
	assert.Equal(t, int64(2), conn.MessagesSent())
}

func TestRun_EmitsHeartbeatOnIdleTimer(t *testing.T) {
	r := registry.New(4)
	conn := newConn(t, r, "logs:etl:workspace123")

	var mu sync.Mutex
	var buf bytes.Buffer
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		Run(ctx, syncWriter{&mu, &buf}, conn, 10*time.Millisecond, r.Unregister)
		close(done)
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return strings.Contains(buf.String(), ":ping")
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestRun_StopsOnWriteError(t *testing.T) {
	r := registry.New(4)
	conn := newConn(t, r, "logs:etl:workspace123")
	conn.TryEnqueue(registry.Envelope{ID: "1", Channel: "logs:etl:workspace123", Payload: []byte(`{}`), PublishedAt: time.Now()})

	done := make(chan struct{})
	go func() {
		Run(context.Background(), failingWriter{}, conn, time.Hour, r.Unregister)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("writer did not exit after a write error")
	}
	assert.Equal(t, 0, r.Len())
}

type syncWriter struct {
	mu  *sync.Mutex
	buf *bytes.Buffer
}

func (s syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, assert.AnError
}
