package datafeed

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileRepository_RoundTrip(t *testing.T) {
	repo := NewFileRepository(filepath.Join(t.TempDir(), "state", "feed.id"))

	if _, ok := repo.Read(); ok {
		t.Fatal("expected no id before the first write")
	}
	if err := repo.Write("df-1", "https://agent:443"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if id, ok := repo.Read(); !ok || id != "df-1" {
		t.Errorf("expected df-1, got %q (%v)", id, ok)
	}

	if err := repo.Write("df-2", "https://agent:443"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if id, _ := repo.Read(); id != "df-2" {
		t.Errorf("expected df-2 after overwrite, got %q", id)
	}

	data, err := os.ReadFile(repo.Path())
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "df-2@https://agent:443" {
		t.Errorf("unexpected file content %q", data)
	}

	entries, _ := os.ReadDir(filepath.Dir(repo.Path()))
	if len(entries) != 1 {
		t.Errorf("expected temp files cleaned up, found %d entries", len(entries))
	}
}

func TestFileRepository_Directory(t *testing.T) {
	dir := t.TempDir()
	repo := NewFileRepository(dir)
	if repo.Path() != filepath.Join(dir, DefaultIDFileName) {
		t.Errorf("expected %s inside the directory, got %s", DefaultIDFileName, repo.Path())
	}

	if err := os.Mkdir(repo.Path(), 0750); err != nil {
		t.Fatal(err)
	}
	if _, ok := repo.Read(); ok {
		t.Error("a directory at the id path must read as no persisted id")
	}
}

func TestFileRepository_MalformedContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty", ""},
		{"no separator", "df-1"},
		{"missing id", "@https://agent"},
		{"whitespace", "  \n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "datafeed.id")
			if err := os.WriteFile(path, []byte(tt.content), 0600); err != nil {
				t.Fatal(err)
			}
			if id, ok := NewFileRepository(path).Read(); ok {
				t.Errorf("expected no persisted id, got %q", id)
			}
		})
	}
}

func TestFileRepository_RejectsBadID(t *testing.T) {
	repo := NewFileRepository(filepath.Join(t.TempDir(), "datafeed.id"))
	if err := repo.Write("", "url"); err == nil {
		t.Error("expected error for empty id")
	}
	if err := repo.Write("a@b", "url"); err == nil {
		t.Error("expected error for id containing the separator")
	}
}

func TestMemoryRepository(t *testing.T) {
	repo := &MemoryRepository{}
	if _, ok := repo.Read(); ok {
		t.Fatal("expected empty repository")
	}
	_ = repo.Write("df-1", "https://agent")
	if id, ok := repo.Read(); !ok || id != "df-1" || repo.AgentURL() != "https://agent" {
		t.Errorf("unexpected state %q %v %q", id, ok, repo.AgentURL())
	}
}
