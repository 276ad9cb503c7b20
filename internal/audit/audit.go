// Package audit emits the ordered event stream consumed by external
// logger/CSV/DB writers. The pipeline makes no assumption about sink durability.
package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventType enumerates the pipeline happenings worth persisting.
type EventType string

const (
	EventSignalProduced  EventType = "SIGNAL_PRODUCED"
	EventRiskDecision    EventType = "RISK_DECISION"
	EventExecutionResult EventType = "EXECUTION_RESULT"
	EventLedgerMutation  EventType = "LEDGER_MUTATION"
	EventRiskAlert       EventType = "RISK_ALERT"
)

// Event is one entry in the append-only stream.
type Event struct {
	Type       EventType      `json:"type"`
	Instrument string         `json:"instrument,omitempty"`
	Ts         time.Time      `json:"ts"`
	Detail     map[string]any `json:"detail,omitempty"`
}

// Sink receives pipeline events in order. Implementations must be safe for
// concurrent use.
type Sink interface {
	Record(Event)
}

// NopSink discards everything; handy default for tests and dry runs.
type NopSink struct{}

func (NopSink) Record(Event) {}

// Memory keeps events in order for inspection, used in tests and the status API.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

// NewMemory creates an empty in-memory sink.
func NewMemory() *Memory { return &Memory{} }

// Record appends an event, stamping the time if the caller left it zero.
func (m *Memory) Record(ev Event) {
	if ev.Ts.IsZero() {
		ev.Ts = time.Now()
	}
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
}

// Snapshot returns a copy of the recorded events.
func (m *Memory) Snapshot() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// ByType filters the recorded events.
func (m *Memory) ByType(t EventType) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, ev := range m.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// JSONLRecorder appends events as JSON lines for later analysis.
type JSONLRecorder struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewJSONLRecorder creates/opens the target file and returns a recorder.
func NewJSONLRecorder(path string) (*JSONLRecorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &JSONLRecorder{file: file, enc: json.NewEncoder(file)}, nil
}

// Record writes a single event to the underlying JSONL file.
func (r *JSONLRecorder) Record(ev Event) {
	if ev.Ts.IsZero() {
		ev.Ts = time.Now()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_ = r.enc.Encode(ev)
}

// Close flushes and closes the file handle.
func (r *JSONLRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
