// Package orcevent is the orchestrator's sole logging layer: an NDJSON
// + human-readable dual-mode emitter, adapted from the teacher's
// internal/event.NDJSONEmitter and repurposed from pipeline/step
// lifecycle states to flow/node lifecycle states.
package orcevent

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Event is one lifecycle or runtime occurrence emitted by the
// orchestrator (spec §4.H, §6).
type Event struct {
	Timestamp  time.Time `json:"timestamp"`
	FlowID     string    `json:"flow_id"`
	NodePath   string    `json:"node_path,omitempty"`
	State      string    `json:"state"`
	DurationMs int64     `json:"duration_ms,omitempty"`
	Message    string    `json:"message,omitempty"`
	ActionType string    `json:"action_type,omitempty"`
	ActionID   string    `json:"action_id,omitempty"`
	Attempt    int       `json:"attempt,omitempty"`
	Severity   string    `json:"severity,omitempty"`
}

// Lifecycle and runtime states an Event can carry. cmd/orcd emits the
// node states (entering through final) from actor snapshots; nothing in
// this module emits the action_* or queue_overflow states.
const (
	StateEntering       = "entering"
	StateActive         = "active"
	StateNavigating      = "navigating"
	StateError          = "error"
	StateFinal          = "final"
	StateActionRetry    = "action_retry"
	StateActionCacheHit = "action_cache_hit"
	StateActionFailed   = "action_failed"
	StateQueueOverflow  = "queue_overflow"
)

// Emitter is anything that can record an Event.
type Emitter interface {
	Emit(event Event)
}

// NDJSONEmitter writes one JSON object per line to an underlying
// writer, optionally also rendering a dim human-readable line —
// mirrors the teacher's dual humanReadable/NDJSON toggle.
type NDJSONEmitter struct {
	encoder       *json.Encoder
	human         io.Writer
	humanReadable bool
	suppressJSON  bool
	mu            sync.Mutex
}

// New returns an emitter that writes NDJSON to stdout.
func New() *NDJSONEmitter {
	return &NDJSONEmitter{encoder: json.NewEncoder(os.Stdout)}
}

// NewWithWriters gives full control over both streams — used by tests
// to capture NDJSON/human output in buffers.
func NewWithWriters(jsonOut, humanOut io.Writer, humanReadable bool) *NDJSONEmitter {
	return &NDJSONEmitter{encoder: json.NewEncoder(jsonOut), human: humanOut, humanReadable: humanReadable}
}

// NewWithWritersSuppressed is NewWithWriters with NDJSON output
// dropped entirely, for testing the no-logs mode.
func NewWithWritersSuppressed(humanOut io.Writer) *NDJSONEmitter {
	return &NDJSONEmitter{encoder: json.NewEncoder(io.Discard), human: humanOut, humanReadable: true, suppressJSON: true}
}

// NewHumanReadable returns an emitter that writes NDJSON to stdout and
// a colorized one-line summary to stderr.
func NewHumanReadable() *NDJSONEmitter {
	return &NDJSONEmitter{encoder: json.NewEncoder(os.Stdout), human: os.Stderr, humanReadable: true}
}

// NewSuppressed returns an emitter that only renders the human summary
// (to stderr) and drops NDJSON entirely — for the host config's
// cli noLogs toggle.
func NewSuppressed() *NDJSONEmitter {
	return &NDJSONEmitter{encoder: json.NewEncoder(io.Discard), human: os.Stderr, humanReadable: true, suppressJSON: true}
}

var stateColors = map[string]string{
	StateEntering:     "\033[36m",
	StateActive:       "\033[32m",
	StateNavigating:   "\033[33m",
	StateError:        "\033[31m",
	StateFinal:        "\033[32m",
	StateActionRetry:  "\033[33m",
	StateActionFailed: "\033[31m",
}

func (e *NDJSONEmitter) Emit(event Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.humanReadable {
		e.renderHuman(event)
	}
	if e.suppressJSON {
		return
	}
	if err := e.encoder.Encode(event); err != nil {
		fmt.Fprintf(os.Stderr, "orcevent: encode failed: %v\n", err)
	}
}

func (e *NDJSONEmitter) renderHuman(event Event) {
	dim := "\033[90m"
	reset := "\033[0m"
	color := stateColors[event.State]
	if color == "" {
		color = reset
	}
	ts := event.Timestamp.Format("15:04:05")

	if event.NodePath == "" {
		fmt.Fprintf(e.human, "%s[%s]%s %s%-16s%s %s %s\n", dim, ts, reset, color, event.State, reset, event.FlowID, event.Message)
		return
	}

	fmt.Fprintf(e.human, "%s[%s]%s %s%-16s%s %-24s", dim, ts, reset, color, event.State, reset, event.NodePath)
	if event.ActionType != "" {
		fmt.Fprintf(e.human, " (%s)", event.ActionType)
	}
	if event.Attempt > 0 {
		fmt.Fprintf(e.human, " attempt=%d", event.Attempt)
	}
	if event.DurationMs > 0 {
		fmt.Fprintf(e.human, " %5.1fs", float64(event.DurationMs)/1000.0)
	}
	if event.Message != "" {
		fmt.Fprintf(e.human, " %s", event.Message)
	}
	fmt.Fprintln(e.human)
}
