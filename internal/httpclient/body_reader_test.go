package httpclient

import (
	"io"
	"os"
	"path/filepath"
	"testing"
)

func readAll(t *testing.T, source BodySource) string {
	t.Helper()
	rc, err := source.NewReader()
	if err != nil {
		t.Fatalf("NewReader() error = %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	return string(got)
}

func TestNewBodySource(t *testing.T) {
	t.Run("both body and body file", func(t *testing.T) {
		if _, err := NewBodySource("inline", "file.txt"); err == nil {
			t.Error("NewBodySource(both) error = nil, want error")
		}
	})

	t.Run("inline body", func(t *testing.T) {
		content := "<methodCall/>"
		source, err := NewBodySource(content, "")
		if err != nil {
			t.Fatalf("NewBodySource(inline) error = %v", err)
		}
		if length, ok := source.ContentLength(); !ok || length != int64(len(content)) {
			t.Errorf("ContentLength() = %d, %v; want %d, true", length, ok, len(content))
		}
		if got := readAll(t, source); got != content {
			t.Errorf("ReadAll() = %q, want %q", got, content)
		}
		// Bodies are replayable across redirects and loop replays.
		if got := readAll(t, source); got != content {
			t.Errorf("second ReadAll() = %q, want %q", got, content)
		}
	})

	t.Run("file body", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "body.txt")
		content := "file content"
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}

		source, err := NewBodySource("", path)
		if err != nil {
			t.Fatalf("NewBodySource(file) error = %v", err)
		}
		if length, ok := source.ContentLength(); !ok || length != int64(len(content)) {
			t.Errorf("ContentLength() = %d, %v; want %d, true", length, ok, len(content))
		}
		if got := readAll(t, source); got != content {
			t.Errorf("ReadAll() = %q, want %q", got, content)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := NewBodySource("", "/nonexistent/file"); err == nil {
			t.Error("NewBodySource(missing file) error = nil, want error")
		}
	})

	t.Run("directory as file", func(t *testing.T) {
		if _, err := NewBodySource("", t.TempDir()); err == nil {
			t.Error("NewBodySource(directory) error = nil, want error")
		}
	})

	t.Run("no body", func(t *testing.T) {
		source, err := NewBodySource("", "  ")
		if err != nil {
			t.Fatalf("NewBodySource(empty) error = %v", err)
		}
		if source != nil {
			t.Errorf("expected no body source, got %T", source)
		}
	})
}
