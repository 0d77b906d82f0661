package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func fileToolsFixture(t *testing.T) (*FileTools, string) {
	t.Helper()
	ws := t.TempDir()
	ft := NewFileTools(ws, true)
	return ft, ws
}

// TestFileTools_WriteReadRoundTrip verifies relative paths resolve against
// the workspace root.
func TestFileTools_WriteReadRoundTrip(t *testing.T) {
	ft, ws := fileToolsFixture(t)
	ctx := context.Background()

	res := ft.writeFile(ctx, map[string]any{"path": "notes/today.md", "content": "buy milk"})
	if !res.Success {
		t.Fatalf("write: %+v", res)
	}
	if _, err := os.Stat(filepath.Join(ws, "notes", "today.md")); err != nil {
		t.Fatalf("file not under workspace: %v", err)
	}

	res = ft.readFile(ctx, map[string]any{"path": "notes/today.md"})
	if !res.Success || res.Output != "buy milk" {
		t.Errorf("read: %+v", res)
	}
}

// TestFileTools_EscapeDenied verifies traversal and absolute paths outside
// the workspace are rejected when restricted.
func TestFileTools_EscapeDenied(t *testing.T) {
	ft, _ := fileToolsFixture(t)
	ctx := context.Background()

	for _, path := range []string{"../outside.txt", "/etc/passwd", "a/../../escape"} {
		if res := ft.readFile(ctx, map[string]any{"path": path}); res.Success {
			t.Errorf("read of %q succeeded outside workspace", path)
		}
		if res := ft.writeFile(ctx, map[string]any{"path": path, "content": "x"}); res.Success {
			t.Errorf("write to %q succeeded outside workspace", path)
		}
	}
}

// TestFileTools_SymlinkEscapeDenied verifies a symlink inside the workspace
// pointing outside it does not bypass the boundary.
func TestFileTools_SymlinkEscapeDenied(t *testing.T) {
	ft, ws := fileToolsFixture(t)
	outside := t.TempDir()
	secret := filepath.Join(outside, "secret.txt")
	if err := os.WriteFile(secret, []byte("hidden"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(secret, filepath.Join(ws, "link.txt")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	if res := ft.readFile(context.Background(), map[string]any{"path": "link.txt"}); res.Success {
		t.Errorf("symlink escape read succeeded: %+v", res)
	}
}

// TestFileTools_AllowedPrefixReadOnly verifies extra prefixes are readable
// but never writable.
func TestFileTools_AllowedPrefixReadOnly(t *testing.T) {
	ft, _ := fileToolsFixture(t)
	skills := t.TempDir()
	if err := os.WriteFile(filepath.Join(skills, "research.md"), []byte("skill body"), 0o644); err != nil {
		t.Fatal(err)
	}
	ft.AllowPaths(skills)
	ctx := context.Background()

	res := ft.readFile(ctx, map[string]any{"path": filepath.Join(skills, "research.md")})
	if !res.Success || res.Output != "skill body" {
		t.Errorf("allowed read: %+v", res)
	}
	if res := ft.writeFile(ctx, map[string]any{"path": filepath.Join(skills, "evil.md"), "content": "x"}); res.Success {
		t.Error("write into read-only allowed prefix succeeded")
	}
}

// TestFileTools_EditRequiresUniqueMatch verifies edit fails on zero and
// multiple occurrences and replaces exactly one otherwise.
func TestFileTools_EditRequiresUniqueMatch(t *testing.T) {
	ft, _ := fileToolsFixture(t)
	ctx := context.Background()
	ft.writeFile(ctx, map[string]any{"path": "cfg.txt", "content": "port=80\nhost=local\nport=80\n"})

	res := ft.editFile(ctx, map[string]any{"path": "cfg.txt", "find": "port=80", "replace": "port=9090"})
	if res.Success {
		t.Error("ambiguous edit succeeded")
	}
	if !strings.Contains(res.Error, "2 times") {
		t.Errorf("error = %q", res.Error)
	}

	res = ft.editFile(ctx, map[string]any{"path": "cfg.txt", "find": "gone", "replace": "x"})
	if res.Success || !strings.Contains(res.Error, "not present") {
		t.Errorf("missing-text edit: %+v", res)
	}

	res = ft.editFile(ctx, map[string]any{"path": "cfg.txt", "find": "host=local", "replace": "host=remote"})
	if !res.Success {
		t.Fatalf("unique edit: %+v", res)
	}
	read := ft.readFile(ctx, map[string]any{"path": "cfg.txt"})
	if !strings.Contains(read.Output, "host=remote") || strings.Contains(read.Output, "host=local") {
		t.Errorf("content after edit: %q", read.Output)
	}
}

// TestFileTools_ListDir verifies sorted listing with directory markers.
func TestFileTools_ListDir(t *testing.T) {
	ft, ws := fileToolsFixture(t)
	ctx := context.Background()
	os.MkdirAll(filepath.Join(ws, "sub"), 0o755)
	os.WriteFile(filepath.Join(ws, "b.txt"), []byte("b"), 0o644)
	os.WriteFile(filepath.Join(ws, "a.txt"), []byte("a"), 0o644)

	res := ft.listDir(ctx, map[string]any{})
	if !res.Success {
		t.Fatalf("list: %+v", res)
	}
	if res.Output != "a.txt\nb.txt\nsub/" {
		t.Errorf("listing = %q", res.Output)
	}
}

// TestFileTools_ReadTruncation verifies large files come back clipped with a
// marker instead of flooding the context.
func TestFileTools_ReadTruncation(t *testing.T) {
	ft, ws := fileToolsFixture(t)
	big := make([]byte, maxReadBytes+100)
	for i := range big {
		big[i] = 'a'
	}
	if err := os.WriteFile(filepath.Join(ws, "big.bin"), big, 0o644); err != nil {
		t.Fatal(err)
	}

	res := ft.readFile(context.Background(), map[string]any{"path": "big.bin"})
	if !res.Success {
		t.Fatalf("read: %+v", res)
	}
	if !strings.Contains(res.Output, "[truncated at") {
		t.Error("truncation marker missing")
	}
	if len(res.Output) > maxReadBytes+100 {
		t.Errorf("output length = %d", len(res.Output))
	}
}

// TestFileTools_Unrestricted verifies restrict=false permits absolute paths
// outside the workspace.
func TestFileTools_Unrestricted(t *testing.T) {
	ws := t.TempDir()
	ft := NewFileTools(ws, false)
	outside := filepath.Join(t.TempDir(), "free.txt")
	if err := os.WriteFile(outside, []byte("open"), 0o644); err != nil {
		t.Fatal(err)
	}
	res := ft.readFile(context.Background(), map[string]any{"path": outside})
	if !res.Success || res.Output != "open" {
		t.Errorf("unrestricted read: %+v", res)
	}
}
