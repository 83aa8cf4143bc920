package eventlog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mergepilot/pkg/bus"
)

func TestWriteAndReadEvents(t *testing.T) {
	writer, err := NewWriter(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = writer.Close() }()

	events := []bus.Event{
		{Name: bus.EventMergeEvaluated, Payload: map[string]any{"pr": 42.0}, Timestamp: time.Now().UTC()},
		{Name: bus.EventMergeCompleted, Payload: map[string]any{"pr": 42.0, "strategy": "squash"}, Timestamp: time.Now().UTC()},
	}
	for _, event := range events {
		require.NoError(t, writer.WriteEvent(event))
	}

	path := writer.CurrentLogFile()
	require.NotEmpty(t, path)

	read, err := ReadEvents(path)
	require.NoError(t, err)
	require.Len(t, read, 2)
	assert.Equal(t, bus.EventMergeEvaluated, read[0].Name)
	assert.Equal(t, bus.EventMergeCompleted, read[1].Name)

	payload, ok := read[1].Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "squash", payload["strategy"])
}

func TestAttachJournalsBusTraffic(t *testing.T) {
	writer, err := NewWriter(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = writer.Close() }()

	b := bus.New()
	detach := writer.Attach(b)

	b.Emit(bus.EventMergeBlocked, map[string]any{"pr": 7.0})
	b.Emit(bus.EventError, map[string]any{"message": "boom"})

	detach()
	b.Emit(bus.EventMergeBlocked, map[string]any{"pr": 8.0})

	read, err := ReadEvents(writer.CurrentLogFile())
	require.NoError(t, err)
	require.Len(t, read, 2)
	assert.Equal(t, bus.EventMergeBlocked, read[0].Name)
	assert.Equal(t, bus.EventError, read[1].Name)
	assert.False(t, read[0].Timestamp.IsZero())
}

func TestReadEventsMissingFile(t *testing.T) {
	_, err := ReadEvents("/nonexistent/events.jsonl")
	require.Error(t, err)
}
