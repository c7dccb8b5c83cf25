package archive

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"
	"testing"

	kgzip "github.com/klauspost/compress/gzip"
)

func TestBundle(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "@src-Test Channel")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	files := map[string]string{
		"msg-1.jpg":    "payload-1",
		"messages.txt": "消息ID: 7\n",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	out, err := Bundle(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != dir+".tar.gz" {
		t.Errorf("bundle path = %q, want %q", out, dir+".tar.gz")
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatalf("open bundle: %v", err)
	}
	defer f.Close()
	gz, err := kgzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	tr := tar.NewReader(gz)

	got := make(map[string]string)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("tar read: %v", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			t.Fatalf("tar entry read: %v", err)
		}
		got[hdr.Name] = string(data)
	}

	for name, content := range files {
		key := "@src-Test Channel/" + name
		if got[key] != content {
			t.Errorf("entry %q = %q, want %q", key, got[key], content)
		}
	}
	if len(got) != len(files) {
		t.Errorf("bundle has %d regular files, want %d", len(got), len(files))
	}
}

func TestBundle_RejectsFiles(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "plain.txt")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := Bundle(path); err == nil {
		t.Fatal("expected error for a non-directory")
	}
}
