// Package index persists which calendar entry mirrors which task, for task
// stores that cannot hold the entry id themselves.
package index

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// EntryIndex maps task ids to calendar entry ids. The file holds a single
// JSON object of task id to entry id. A task with no entry has no key.
//
// EntryIndex is safe for concurrent use. Changes stay in memory until Save.
type EntryIndex struct {
	path string

	mu      sync.RWMutex
	entries map[string]string
	dirty   bool
}

// Open loads the index at path, starting empty if the file does not exist.
func Open(path string) (*EntryIndex, error) {
	idx := &EntryIndex{
		path:    path,
		entries: make(map[string]string),
	}

	if _, err := os.Stat(path); err == nil {
		if err := idx.Load(); err != nil {
			return nil, err
		}
	}

	return idx, nil
}

// Load replaces the in-memory links with the file's content, discarding
// unsaved changes.
func (idx *EntryIndex) Load() error {
	f, err := os.Open(idx.path)
	if err != nil {
		return err
	}
	defer f.Close()

	entries := make(map[string]string)
	if err := json.NewDecoder(f).Decode(&entries); err != nil {
		return fmt.Errorf("decoding entry index %s: %w", idx.path, err)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries = entries
	idx.dirty = false
	return nil
}

// Save writes the index if it changed since the last save. The file is
// replaced atomically.
func (idx *EntryIndex) Save() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if !idx.dirty {
		return nil
	}

	dir := filepath.Dir(idx.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	tmp := idx.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(idx.entries); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, idx.path); err != nil {
		os.Remove(tmp)
		return err
	}
	idx.dirty = false
	return nil
}

// Get returns the entry linked to taskID, or "" if there is none.
func (idx *EntryIndex) Get(taskID string) string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.entries[taskID]
}

// Set links taskID to entryID. An empty entryID removes the link.
func (idx *EntryIndex) Set(taskID, entryID string) {
	if entryID == "" {
		idx.Remove(taskID)
		return
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.entries[taskID] != entryID {
		idx.entries[taskID] = entryID
		idx.dirty = true
	}
}

// Remove drops the link for taskID, if any.
func (idx *EntryIndex) Remove(taskID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, exists := idx.entries[taskID]; exists {
		delete(idx.entries, taskID)
		idx.dirty = true
	}
}
