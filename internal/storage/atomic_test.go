package storage

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// TestWriteFileAtomic_RoundTrip verifies a write lands with the requested
// permissions and no temp files left behind.
func TestWriteFileAtomic_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "state.json")

	if err := WriteFileAtomic(path, []byte(`{"ok":true}`), 0o600); err != nil {
		t.Fatalf("WriteFileAtomic: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != `{"ok":true}` {
		t.Errorf("content = %q", data)
	}

	info, _ := os.Stat(path)
	if info.Mode().Perm() != 0o600 {
		t.Errorf("perm = %o, want 600", info.Mode().Perm())
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("expected only the target file, found %d entries", len(entries))
	}
}

// TestWriteFileAtomic_Overwrite verifies an existing file is replaced whole.
func TestWriteFileAtomic_Overwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	if err := WriteFileAtomic(path, []byte("first version, longer"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := WriteFileAtomic(path, []byte("second"), 0o644); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "second" {
		t.Errorf("content = %q, want %q", data, "second")
	}
}

func TestSaveLoadJSON(t *testing.T) {
	type rec struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	path := filepath.Join(t.TempDir(), "rec.json")

	if err := SaveJSON(path, rec{Name: "a", Count: 3}); err != nil {
		t.Fatalf("SaveJSON: %v", err)
	}
	var got rec
	if err := LoadJSON(path, &got); err != nil {
		t.Fatalf("LoadJSON: %v", err)
	}
	if got.Name != "a" || got.Count != 3 {
		t.Errorf("got %+v", got)
	}
}

// TestLoadJSON_Missing verifies absence surfaces as os.ErrNotExist so callers
// can treat it as empty state.
func TestLoadJSON_Missing(t *testing.T) {
	var v map[string]any
	err := LoadJSON(filepath.Join(t.TempDir(), "nope.json"), &v)
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want os.ErrNotExist", err)
	}
}

// TestJSONL_AppendRead verifies appended records stream back in order and
// corrupt lines are skipped rather than aborting the scan.
func TestJSONL_AppendRead(t *testing.T) {
	type event struct {
		Seq int `json:"seq"`
	}
	path := filepath.Join(t.TempDir(), "log.jsonl")

	for i := 1; i <= 3; i++ {
		if err := AppendJSONL(path, event{Seq: i}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	// Inject a corrupt line between valid records.
	f, _ := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	f.WriteString("{not json\n")
	f.Close()
	if err := AppendJSONL(path, event{Seq: 4}); err != nil {
		t.Fatal(err)
	}

	var seqs []int
	err := ReadJSONL(path, func(line []byte) error {
		var e event
		if jsonErr := json.Unmarshal(line, &e); jsonErr != nil {
			return nil
		}
		seqs = append(seqs, e.Seq)
		return nil
	})
	if err != nil {
		t.Fatalf("ReadJSONL: %v", err)
	}
	want := []int{1, 2, 3, 4}
	if len(seqs) != len(want) {
		t.Fatalf("seqs = %v, want %v", seqs, want)
	}
	for i := range want {
		if seqs[i] != want[i] {
			t.Errorf("seqs[%d] = %d, want %d", i, seqs[i], want[i])
		}
	}
}

// TestReadJSONL_Missing verifies a missing file reads as empty.
func TestReadJSONL_Missing(t *testing.T) {
	called := false
	err := ReadJSONL(filepath.Join(t.TempDir(), "none.jsonl"), func([]byte) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("ReadJSONL: %v", err)
	}
	if called {
		t.Error("callback ran for a missing file")
	}
}
