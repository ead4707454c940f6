package orcevent_test

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcraft/orcd/internal/orcevent"
)

func TestNDJSONEmitter_EmitsOneJSONObjectPerLine(t *testing.T) {
	var jsonBuf bytes.Buffer
	e := orcevent.NewWithWriters(&jsonBuf, nil, false)

	e.Emit(orcevent.Event{Timestamp: time.Now(), FlowID: "f1", State: orcevent.StateEntering, NodePath: "intro"})
	e.Emit(orcevent.Event{Timestamp: time.Now(), FlowID: "f1", State: orcevent.StateActive, NodePath: "intro"})

	lines := bytes.Split(bytes.TrimSpace(jsonBuf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &decoded))
	assert.Equal(t, "entering", decoded["state"])
	assert.Equal(t, "intro", decoded["node_path"])
}

func TestNDJSONEmitter_HumanReadableRendersToSeparateStream(t *testing.T) {
	var jsonBuf, humanBuf bytes.Buffer
	e := orcevent.NewWithWriters(&jsonBuf, &humanBuf, true)

	e.Emit(orcevent.Event{Timestamp: time.Now(), FlowID: "f1", NodePath: "checkout", State: orcevent.StateActionRetry, Attempt: 2})

	assert.Contains(t, humanBuf.String(), "checkout")
	assert.Contains(t, humanBuf.String(), "attempt=2")
	assert.Contains(t, jsonBuf.String(), `"action_retry"`)
}

func TestNDJSONEmitter_SuppressedDropsJSONKeepsHuman(t *testing.T) {
	var humanBuf bytes.Buffer
	e := orcevent.NewWithWritersSuppressed(&humanBuf)

	e.Emit(orcevent.Event{Timestamp: time.Now(), FlowID: "f1", NodePath: "checkout", State: orcevent.StateFinal})

	assert.Contains(t, humanBuf.String(), "checkout")
}

func TestEvent_OmitsEmptyOptionalFields(t *testing.T) {
	evt := orcevent.Event{Timestamp: time.Now(), FlowID: "f1", State: orcevent.StateActive}
	raw, err := json.Marshal(evt)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "node_path")
	assert.NotContains(t, string(raw), "action_type")
}
