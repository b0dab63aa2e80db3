package ingestion_engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// IndexFileName is the hash index stored in the vector persistence dir.
const IndexFileName = "file_index.json"

// FileIndex maps a source path (relative to the SOP folder) to the SHA-256
// of the content that is currently embedded.
type FileIndex struct {
	mu      sync.RWMutex
	path    string
	entries map[string]string
}

// LoadFileIndex reads path; a missing file yields an empty index. An empty
// path keeps the index in memory.
func LoadFileIndex(path string) (*FileIndex, error) {
	idx := &FileIndex{path: path, entries: make(map[string]string)}
	if path == "" {
		return idx, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return idx, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read file index: %w", err)
	}
	if len(data) == 0 {
		return idx, nil
	}
	if err := json.Unmarshal(data, &idx.entries); err != nil {
		return nil, fmt.Errorf("parse file index: %w", err)
	}
	return idx, nil
}

func (x *FileIndex) Get(source string) (string, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	h, ok := x.entries[source]
	return h, ok
}

// Snapshot returns a copy of all entries.
func (x *FileIndex) Snapshot() map[string]string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make(map[string]string, len(x.entries))
	for k, v := range x.entries {
		out[k] = v
	}
	return out
}

// Set records hash for source and saves.
func (x *FileIndex) Set(source, hash string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.entries[source] = hash
	return x.saveLocked()
}

// Delete drops source and saves.
func (x *FileIndex) Delete(source string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.entries, source)
	return x.saveLocked()
}

// Replace swaps in a whole new index and saves.
func (x *FileIndex) Replace(entries map[string]string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.entries = make(map[string]string, len(entries))
	for k, v := range entries {
		x.entries[k] = v
	}
	return x.saveLocked()
}

func (x *FileIndex) saveLocked() error {
	if x.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(x.entries, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(x.path), 0o755); err != nil {
		return fmt.Errorf("save file index: %w", err)
	}
	tmp := x.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("save file index: %w", err)
	}
	return os.Rename(tmp, x.path)
}

// HashContent returns the hex SHA-256 of r.
func HashContent(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
