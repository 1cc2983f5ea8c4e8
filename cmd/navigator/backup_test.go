package main

import (
	"archive/tar"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// readArchive decompresses and lists the tar entries as name → content.
func readArchive(t *testing.T, data []byte) map[string]string {
	t.Helper()
	zr, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("zstd reader: %v", err)
	}
	defer zr.Close()

	out := make(map[string]string)
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("tar next: %v", err)
		}
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, tr); err != nil {
			t.Fatalf("read entry %s: %v", hdr.Name, err)
		}
		out[hdr.Name] = buf.String()
	}
	return out
}

func TestArchiveDirRoundTrip(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "navigator.db"), "sqlite-bytes")
	writeFile(t, filepath.Join(dir, "sub", "notes.txt"), "hello")

	var buf bytes.Buffer
	files, size, err := archiveDir(&buf, dir, "")
	if err != nil {
		t.Fatalf("archiveDir failed: %v", err)
	}
	if files != 2 {
		t.Errorf("expected 2 files, got %d", files)
	}
	if size != int64(len("sqlite-bytes")+len("hello")) {
		t.Errorf("unexpected total size %d", size)
	}

	entries := readArchive(t, buf.Bytes())
	if entries["navigator.db"] != "sqlite-bytes" {
		t.Errorf("navigator.db content = %q", entries["navigator.db"])
	}
	if entries["sub/notes.txt"] != "hello" {
		t.Errorf("sub/notes.txt content = %q", entries["sub/notes.txt"])
	}
	if _, ok := entries["sub/"]; !ok {
		t.Error("expected directory entry sub/")
	}
}

func TestArchiveDirExcludesSubtree(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "navigator.db"), "db")
	writeFile(t, filepath.Join(dir, "nats", "jetstream", "stream.dat"), "nats-internal")

	var buf bytes.Buffer
	files, _, err := archiveDir(&buf, dir, "nats")
	if err != nil {
		t.Fatalf("archiveDir failed: %v", err)
	}
	if files != 1 {
		t.Errorf("expected 1 file, got %d", files)
	}

	entries := readArchive(t, buf.Bytes())
	for name := range entries {
		if name == "nats/" || strings.HasPrefix(name, "nats/") {
			t.Errorf("excluded entry %q present in archive", name)
		}
	}
}

func TestArchiveDirEmpty(t *testing.T) {
	var buf bytes.Buffer
	files, size, err := archiveDir(&buf, t.TempDir(), "")
	if err != nil {
		t.Fatalf("archiveDir failed: %v", err)
	}
	if files != 0 || size != 0 {
		t.Errorf("expected empty archive, got %d files %d bytes", files, size)
	}
	if entries := readArchive(t, buf.Bytes()); len(entries) != 0 {
		t.Errorf("expected no entries, got %v", entries)
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 bytes"},
		{512, "512 bytes"},
		{1023, "1023 bytes"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1048576, "1.0 MB"},
		{1073741824, "1.0 GB"},
		{1610612736, "1.5 GB"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := formatSize(tt.bytes)
			if got != tt.want {
				t.Errorf("formatSize(%d) = %q, want %q", tt.bytes, got, tt.want)
			}
		})
	}
}
