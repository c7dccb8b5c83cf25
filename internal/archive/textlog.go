package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// TextLogName is the per-channel text message log file.
const TextLogName = "messages.txt"

var textLogSeparator = strings.Repeat("-", 50)

// TextLog appends text-only message blocks to messages.txt inside the
// channel directory. The file is created on first append, so an all-media
// run leaves none behind. Safe for concurrent use by the per-session
// fetchers.
type TextLog struct {
	path string

	mu sync.Mutex
	f  *os.File
}

func NewTextLog(dir string) *TextLog {
	return &TextLog{path: filepath.Join(dir, TextLogName)}
}

func (l *TextLog) Path() string {
	return l.path
}

// Append writes one block. The labels are a fixed part of the file format.
func (l *TextLog) Append(id int, albumID string, date time.Time, text string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open text log: %w", err)
		}
		l.f = f
	}

	var b strings.Builder
	if albumID != "" {
		fmt.Fprintf(&b, "消息ID: %d (媒体组: %s)\n", id, albumID)
	} else {
		fmt.Fprintf(&b, "消息ID: %d\n", id)
	}
	fmt.Fprintf(&b, "时间: %s\n", date.Format(time.RFC3339))
	if text == "" {
		text = "无文本内容"
	}
	fmt.Fprintf(&b, "内容: %s\n%s\n", text, textLogSeparator)

	if _, err := l.f.WriteString(b.String()); err != nil {
		return fmt.Errorf("append text log: %w", err)
	}
	return nil
}

// Close releases the file if any block was ever written.
func (l *TextLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}
