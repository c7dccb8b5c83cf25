package archive

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestTextLog_AppendFormat(t *testing.T) {
	dir := t.TempDir()
	l := NewTextLog(dir)
	defer l.Close()

	date := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	if err := l.Append(42, "", date, "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := l.Append(43, "777", date.Add(time.Minute), ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, TextLogName))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}

	sep := strings.Repeat("-", 50)
	want := "消息ID: 42\n" +
		"时间: 2026-03-01T12:30:00Z\n" +
		"内容: hello\n" + sep + "\n" +
		"消息ID: 43 (媒体组: 777)\n" +
		"时间: 2026-03-01T12:31:00Z\n" +
		"内容: 无文本内容\n" + sep + "\n"
	if string(data) != want {
		t.Errorf("log content mismatch:\ngot:\n%s\nwant:\n%s", data, want)
	}
}

func TestTextLog_LazyCreation(t *testing.T) {
	dir := t.TempDir()
	l := NewTextLog(dir)
	if err := l.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(l.Path()); !os.IsNotExist(err) {
		t.Errorf("expected no file before first append, stat err = %v", err)
	}
}
