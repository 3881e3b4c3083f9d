package diag

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_BufferCapped(t *testing.T) {
	b := NewBus(3)
	for i := 0; i < 5; i++ {
		b.Emit(EventCriticSweep, map[string]interface{}{"i": i})
	}

	events := b.Snapshot()
	require.Len(t, events, 3)
	assert.Equal(t, 2, events[0].Fields["i"], "oldest events evicted first")
	assert.Equal(t, 4, events[2].Fields["i"])
}

func TestBus_Subscribe(t *testing.T) {
	b := NewBus(10)
	var got []Event
	cancel := b.Subscribe(func(e Event) { got = append(got, e) })

	b.Emit(EventLLMRequest, nil)
	b.Emit(EventLLMResponse, nil)
	require.Len(t, got, 2)
	assert.Equal(t, EventLLMRequest, got[0].Kind)

	cancel()
	b.Emit(EventCriticDone, nil)
	assert.Len(t, got, 2, "cancelled subscriber gets nothing")
}

func TestFileSink_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	sink, err := NewFileSink(path)
	require.NoError(t, err)

	b := NewBus(10)
	cancel := b.Subscribe(sink.Write)
	for i := 0; i < 4; i++ {
		b.Emit(EventMergeDone, map[string]interface{}{"n": fmt.Sprint(i)})
	}
	cancel()
	require.NoError(t, sink.Close())

	events, err := ReadEvents(path, 0)
	require.NoError(t, err)
	require.Len(t, events, 4)
	assert.Equal(t, EventMergeDone, events[0].Kind)

	tail, err := ReadEvents(path, 2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, "3", tail[1].Fields["n"])
}

func TestReadEvents_MissingFile(t *testing.T) {
	events, err := ReadEvents(filepath.Join(t.TempDir(), "absent.jsonl"), 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestReadEvents_SkipsGarbageLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	sink, err := NewFileSink(path)
	require.NoError(t, err)
	sink.Write(Event{Timestamp: 1, Kind: EventCriticDone})
	require.NoError(t, sink.Close())

	// Append a torn line the way a crashed run would leave one.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("{torn")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	events, err := ReadEvents(path, 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
