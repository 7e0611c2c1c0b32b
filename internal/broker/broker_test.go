package broker

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/real-staging-ai/logbroker/internal/auth"
	"github.com/real-staging-ai/logbroker/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBroker(capacity int, tokens map[string]string) *Broker {
	reg := registry.New(capacity)
	return New(reg, auth.NewHeaderPrincipalResolver(), auth.NewStaticServiceAuthenticator(tokens), nil, nil, time.Hour)
}

func principal(userID string, workspaces ...string) registry.Principal {
	set := make(map[string]struct{}, len(workspaces))
	for _, w := range workspaces {
		set[w] = struct{}{}
	}
	return registry.Principal{UserID: userID, Workspaces: set}
}

type syncBuf struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuf) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuf) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func TestHandleSubscribe_HandshakeListsAuthorizedChannelsOnly(t *testing.T) {
	b := newBroker(4, nil)
	var out syncBuf
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		b.HandleSubscribe(ctx, &out, principal("user123", "workspace123"), []string{
			"logs:etl:workspace123:workflow456",
			"logs:etl:workspaceZ",
		})
		close(done)
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), `"type":"connection"`)
	}, time.Second, 10*time.Millisecond)

	assert.Contains(t, out.String(), `"channels":["logs:etl:workspace123:workflow456"]`)
	assert.Contains(t, out.String(), `"userId":"user123"`)

	cancel()
	<-done
}

func TestHandleSubscribe_EmptyAuthorizedSetStillAccepted(t *testing.T) {
	b := newBroker(4, nil)
	var out syncBuf
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		b.HandleSubscribe(ctx, &out, principal("user123", "workspaceZ"), []string{"logs:etl:workspace123"})
		close(done)
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), `"channels":[]`)
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestHandlePublish_DeliversToSubscriberAndReturnsCount(t *testing.T) {
	b := newBroker(4, map[string]string{"l5-etl-token": "etl"})
	var out syncBuf
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	subDone := make(chan struct{})
	go func() {
		b.HandleSubscribe(ctx, &out, principal("user123", "workspace123"), []string{"logs:etl:workspace123:workflow456"})
		close(subDone)
	}()
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), `"type":"connection"`)
	}, time.Second, 10*time.Millisecond)

	result, err := b.HandlePublish(context.Background(), PublishRequest{
		ServiceToken: "l5-etl-token", Service: "etl", WorkspaceID: "workspace123", WorkflowID: "workflow456",
		LogData: []byte(`{"level":"INFO","message":"hello"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "logs:etl:workspace123:workflow456", result.Channel)
	assert.Equal(t, 1, result.Delivered)

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), `"message":"hello"`)
	}, time.Second, 10*time.Millisecond)
}

func TestHandlePublish_UnauthorizedServiceToken(t *testing.T) {
	b := newBroker(4, map[string]string{"l5-etl-token": "etl"})
	_, err := b.HandlePublish(context.Background(), PublishRequest{
		ServiceToken: "wrong", Service: "etl", WorkspaceID: "workspace123", LogData: []byte(`{}`),
	})
	assert.ErrorIs(t, err, ErrUnauthorizedSvc)
}

func TestHandlePublish_ServiceChannelMismatch(t *testing.T) {
	b := newBroker(4, map[string]string{"l5-faas-token": "faas"})
	_, err := b.HandlePublish(context.Background(), PublishRequest{
		ServiceToken: "l5-faas-token", Service: "faas", WorkspaceID: "workspace123",
		FunctionID: "function789", LogData: []byte(`{}`),
	})
	// function_id channels are addressed under the literal "function" service;
	// a declared service of "faas" does not match it.
	assert.ErrorIs(t, err, ErrUnauthorizedSvc)
}

func TestHandlePublish_EmptySubscriberSetYieldsZeroDeliveredNoError(t *testing.T) {
	b := newBroker(4, map[string]string{"l5-etl-token": "etl"})
	result, err := b.HandlePublish(context.Background(), PublishRequest{
		ServiceToken: "l5-etl-token", Service: "etl", WorkspaceID: "workspace123", LogData: []byte(`{}`),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Delivered)
}

func TestHandlePublish_TwoSubscribersBothReceiveSameEnvelope(t *testing.T) {
	b := newBroker(4, map[string]string{"l5-etl-token": "etl"})
	var out1, out2 syncBuf
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, out := range []*syncBuf{&out1, &out2} {
		out := out
		go b.HandleSubscribe(ctx, out, principal("user123", "workspace123"), []string{"logs:etl:workspace123:workflow456"})
	}
	require.Eventually(t, func() bool {
		return strings.Contains(out1.String(), "connection") && strings.Contains(out2.String(), "connection")
	}, time.Second, 10*time.Millisecond)

	result, err := b.HandlePublish(context.Background(), PublishRequest{
		ServiceToken: "l5-etl-token", Service: "etl", WorkspaceID: "workspace123", WorkflowID: "workflow456",
		LogData: []byte(`{"n":1}`),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Delivered)

	require.Eventually(t, func() bool {
		return strings.Contains(out1.String(), `"n":1`) && strings.Contains(out2.String(), `"n":1`)
	}, time.Second, 10*time.Millisecond)
	s1 := out1.String()
	idLine := s1[strings.Index(s1, "id: "):]
	idLine = idLine[:strings.Index(idLine, "\n")]
	assert.Contains(t, out2.String(), idLine, "both subscribers must receive the same envelope id")
}

func TestHandlePublish_BadRequestOnMissingFields(t *testing.T) {
	b := newBroker(4, nil)
	_, err := b.HandlePublish(context.Background(), PublishRequest{ServiceToken: "x"})
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestShutdown_DrainsActiveConnections(t *testing.T) {
	b := newBroker(4, nil)
	var out syncBuf
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		b.HandleSubscribe(ctx, &out, principal("user123", "workspace123"), []string{"logs:etl:workspace123"})
		close(done)
	}()
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "connection")
	}, time.Second, 10*time.Millisecond)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, b.Shutdown(shutdownCtx))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("writer did not exit after shutdown was signalled")
	}
}
