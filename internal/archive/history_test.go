package archive

import (
	"os"
	"testing"
)

func TestHistory_AppendAndRecent(t *testing.T) {
	dir := t.TempDir()
	h := NewHistory(dir)

	for i, status := range []string{"ok", "failed", "ok"} {
		r := &Report{RunID: string(rune('a' + i)), Channel: "@src", Status: status, StartID: 1, EndID: 10}
		if err := h.Append(r); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	all, err := h.Recent(0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d records, want 3", len(all))
	}

	last, err := h.Recent(2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(last) != 2 {
		t.Fatalf("got %d records, want 2", len(last))
	}
	// Chronological order, oldest of the kept pair first.
	if last[0].Status != "failed" || last[1].Status != "ok" {
		t.Errorf("records = %q then %q", last[0].Status, last[1].Status)
	}
}

func TestHistory_MissingFileIsEmpty(t *testing.T) {
	h := NewHistory(t.TempDir())
	reports, err := h.Recent(10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reports != nil {
		t.Errorf("got %d records from a missing journal", len(reports))
	}
}

func TestHistory_SkipsUnknownRecords(t *testing.T) {
	dir := t.TempDir()
	h := NewHistory(dir)
	if err := os.WriteFile(h.Path(), []byte(`{"type":"note","text":"manual entry"}`+"\n"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := h.Append(&Report{RunID: "r1", Status: "ok"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reports, err := h.Recent(0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reports) != 1 || reports[0].RunID != "r1" {
		t.Errorf("reports = %+v, want just the run record", reports)
	}
}
