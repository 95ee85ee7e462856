package datafeed

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// DefaultIDFileName is used when the configured path is a directory.
const DefaultIDFileName = "datafeed.id"

// Repository persists the v1 datafeed id across restarts.
type Repository interface {
	// Read returns the persisted id, or false when there is none.
	Read() (string, bool)
	Write(id, agentURL string) error
}

// FileRepository stores "<id>@<agentURL>" in a single file.
type FileRepository struct {
	path string
}

// NewFileRepository stores the id at path, or at path/datafeed.id when
// path is an existing directory or ends in a separator.
func NewFileRepository(path string) *FileRepository {
	if strings.HasSuffix(path, string(os.PathSeparator)) {
		return &FileRepository{path: filepath.Join(path, DefaultIDFileName)}
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return &FileRepository{path: filepath.Join(path, DefaultIDFileName)}
	}
	return &FileRepository{path: path}
}

func (r *FileRepository) Path() string {
	return r.path
}

// Read treats a missing, empty or malformed file, or a directory, as no
// persisted id.
func (r *FileRepository) Read() (string, bool) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return "", false
	}
	content := strings.TrimSpace(string(data))
	idx := strings.Index(content, "@")
	if idx <= 0 {
		return "", false
	}
	return content[:idx], true
}

// Write replaces the file atomically.
func (r *FileRepository) Write(id, agentURL string) error {
	if id == "" || strings.Contains(id, "@") {
		return fmt.Errorf("invalid datafeed id %q", id)
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("creating directories: %w", err)
	}

	f, err := os.CreateTemp(dir, ".datafeed-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := f.Name()

	_, err = f.WriteString(id + "@" + agentURL)
	if closeErr := f.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := os.Rename(tmpPath, r.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// MemoryRepository keeps the id for the life of the process only.
type MemoryRepository struct {
	mu       sync.Mutex
	id       string
	agentURL string
}

func (r *MemoryRepository) Read() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.id, r.id != ""
}

func (r *MemoryRepository) Write(id, agentURL string) error {
	if id == "" {
		return errors.New("invalid datafeed id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.id = id
	r.agentURL = agentURL
	return nil
}

// AgentURL returns the agent the stored id belongs to.
func (r *MemoryRepository) AgentURL() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.agentURL
}
