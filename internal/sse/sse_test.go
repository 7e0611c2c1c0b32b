package sse

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeFlusher struct {
	bytes.Buffer
	flushed int
}

func (f *fakeFlusher) Flush() { f.flushed++ }

func TestWriteData(t *testing.T) {
	var buf bytes.Buffer
	err := WriteData(&buf, "env-1", DataRecord{
		Channel:   "logs:etl:workspace123:workflow456",
		Data:      map[string]string{"level": "INFO"},
		Timestamp: 1000,
		ID:        "env-1",
	})

	assert.NoError(t, err)
	assert.Equal(t, "id: env-1\ndata: {\"channel\":\"logs:etl:workspace123:workflow456\",\"data\":{\"level\":\"INFO\"},\"timestamp\":1000,\"id\":\"env-1\"}\n\n", buf.String())
}

func TestWriteConnected(t *testing.T) {
	var buf bytes.Buffer
	err := WriteConnected(&buf, ConnectedRecord{
		Type:         "connection",
		Status:       "connected",
		Channels:     []string{"logs:etl:workspace123"},
		UserID:       "user123",
		ConnectionID: "conn-1",
		Timestamp:    1000,
	})

	assert.NoError(t, err)
	assert.Equal(t, "data: {\"type\":\"connection\",\"status\":\"connected\",\"channels\":[\"logs:etl:workspace123\"],\"userId\":\"user123\",\"connectionId\":\"conn-1\",\"timestamp\":1000}\n\n", buf.String())
}

func TestWriteConnected_EmptyChannelsMarshalsAsEmptyArray(t *testing.T) {
	var buf bytes.Buffer
	err := WriteConnected(&buf, ConnectedRecord{Type: "connection", Status: "connected", Channels: []string{}})
	assert.NoError(t, err)
	assert.Contains(t, buf.String(), `"channels":[]`)
}

func TestWriteHeartbeat(t *testing.T) {
	var buf bytes.Buffer
	err := WriteHeartbeat(&buf)
	assert.NoError(t, err)
	assert.Equal(t, ":ping\n\n", buf.String())
}

func TestFlush_CallsFlusherWhenImplemented(t *testing.T) {
	f := &fakeFlusher{}
	Flush(f)
	assert.Equal(t, 1, f.flushed)
}

func TestFlush_NoOpWhenNotAFlusher(t *testing.T) {
	var buf bytes.Buffer
	assert.NotPanics(t, func() { Flush(&buf) })
}
