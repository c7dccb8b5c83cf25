package archive

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
)

// HistoryFileName is the run journal kept at the download root.
const HistoryFileName = "runs.jsonl"

type historyRecord struct {
	Type   string  `json:"type"`
	Report *Report `json:"report,omitempty"`
}

// History is an append-only journal of finished runs, one JSON record per
// line. It exists for the history command and for operators grepping after
// the fact; nothing in the pipeline reads it back.
type History struct {
	mu   sync.Mutex
	path string
}

func NewHistory(downloadDir string) *History {
	return &History{path: filepath.Join(downloadDir, HistoryFileName)}
}

func (h *History) Path() string { return h.path }

// Append writes one run record. The download root must already exist.
func (h *History) Append(r *Report) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	line, err := sonic.MarshalString(historyRecord{Type: "run", Report: r})
	if err != nil {
		return fmt.Errorf("marshal history record: %w", err)
	}

	f, err := os.OpenFile(h.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// Recent returns up to limit run records in chronological order, oldest
// first. A missing journal is an empty history, not an error.
func (h *History) Recent(limit int) ([]*Report, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	f, err := os.Open(h.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open history: %w", err)
	}
	defer f.Close()

	var reports []*Report
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec historyRecord
		if err := sonic.UnmarshalString(line, &rec); err != nil {
			return nil, fmt.Errorf("parse history record: %w", err)
		}
		switch rec.Type {
		case "run":
			if rec.Report != nil {
				reports = append(reports, rec.Report)
			}
		default:
			// Unknown record types are skipped, not errors.
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan history: %w", err)
	}

	if limit > 0 && len(reports) > limit {
		reports = reports[len(reports)-limit:]
	}
	return reports, nil
}
