package feeder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestOpenCSV(t *testing.T) {
	path := writeFile(t, "users.csv", "user,password\nalice, a1\nbob,b2\n")
	ds, err := Open(path, false)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if ds.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", ds.Len())
	}
	ctx := context.Background()
	first, _ := ds.Next(ctx)
	second, _ := ds.Next(ctx)
	if first["user"] != "alice" || first["password"] != "a1" || second["user"] != "bob" {
		t.Errorf("records = %v, %v", first, second)
	}
	if _, err := ds.Next(ctx); !errors.Is(err, ErrExhausted) {
		t.Errorf("expected ErrExhausted, got %v", err)
	}
}

func TestOpenJSONRewinds(t *testing.T) {
	path := writeFile(t, "items.json", `[{"sku": "a-1", "qty": 2}, {"sku": "b-2", "qty": 1, "gift": true}]`)
	ds, err := Open(path, true)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	ctx := context.Background()
	var skus []string
	for i := 0; i < 3; i++ {
		rec, err := ds.Next(ctx)
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		skus = append(skus, rec["sku"])
	}
	if skus[0] != "a-1" || skus[1] != "b-2" || skus[2] != "a-1" {
		t.Errorf("skus = %v", skus)
	}
	rec, _ := ds.Next(ctx)
	if rec["qty"] != "1" || rec["gift"] != "true" {
		t.Errorf("values should keep their JSON text, got %v", rec)
	}
}

func TestOpenRejectsBadFiles(t *testing.T) {
	tests := []struct {
		name, file, content string
	}{
		{"header only", "a.csv", "user,password\n"},
		{"ragged row", "b.csv", "user,password\nalice\n"},
		{"invalid json", "c.json", `[{"a": `},
		{"not an array", "d.json", `{"a": 1}`},
		{"empty array", "e.json", `[]`},
		{"scalar item", "f.json", `[1]`},
		{"unknown extension", "g.txt", "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Open(writeFile(t, tt.file, tt.content), false); err == nil {
				t.Fatal("expected error")
			}
		})
	}
	if _, err := Open(filepath.Join(t.TempDir(), "missing.csv"), false); err == nil {
		t.Fatal("expected error for a missing file")
	}
}

func TestDatasetConcurrentAccess(t *testing.T) {
	records := make([]Record, 100)
	for i := range records {
		records[i] = Record{"n": "x"}
	}
	ds := NewDataset(records, false)

	var wg sync.WaitGroup
	var mu sync.Mutex
	got := 0
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if _, err := ds.Next(context.Background()); err != nil {
					return
				}
				mu.Lock()
				got++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if got != len(records) {
		t.Errorf("handed out %d records, want %d", got, len(records))
	}
}

func TestDatasetHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ds := NewDataset([]Record{{"a": "1"}}, true)
	if _, err := ds.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
