package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestMemorySinkPreservesOrder(t *testing.T) {
	sink := NewMemory()
	sink.Record(Event{Type: EventSignalProduced, Instrument: "BTCUSDT"})
	sink.Record(Event{Type: EventRiskDecision, Instrument: "BTCUSDT"})
	sink.Record(Event{Type: EventExecutionResult, Instrument: "BTCUSDT"})

	events := sink.Snapshot()
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Type != EventSignalProduced || events[2].Type != EventExecutionResult {
		t.Fatalf("event order not preserved: %+v", events)
	}
	if events[0].Ts.IsZero() {
		t.Fatalf("expected timestamp stamped on record")
	}
	if got := sink.ByType(EventRiskDecision); len(got) != 1 {
		t.Fatalf("ByType filter broken, got %d", len(got))
	}
}

func TestJSONLRecorderRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream", "audit.jsonl")
	rec, err := NewJSONLRecorder(path)
	if err != nil {
		t.Fatalf("NewJSONLRecorder: %v", err)
	}
	rec.Record(Event{Type: EventLedgerMutation, Instrument: "XRPUSDT", Detail: map[string]any{"op": "open"}})
	rec.Record(Event{Type: EventRiskAlert, Detail: map[string]any{"severity": "critical"}})
	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("double close should be a no-op: %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open recorded file: %v", err)
	}
	defer file.Close()

	var lines int
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("line %d not valid JSON: %v", lines, err)
		}
		lines++
	}
	if lines != 2 {
		t.Fatalf("expected 2 JSONL lines, got %d", lines)
	}
}
