package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/vfrnav/vfrnav/pkg/logger"
	"github.com/vfrnav/vfrnav/pkg/protocol"
)

// JSONStore keeps documents of type T as one JSON file per key under a
// directory, with an in-memory cache. Every Put and Remove hits the disk.
type JSONStore[T any] struct {
	baseDir string
	items   map[string]*T
	mu      sync.RWMutex
}

// NewJSONStore creates a store rooted at baseDir.
func NewJSONStore[T any](baseDir string) (*JSONStore[T], error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create store dir %s: %w", baseDir, err)
	}
	return &JSONStore[T]{
		baseDir: baseDir,
		items:   make(map[string]*T),
	}, nil
}

// Load reads every *.json file under the base directory into memory.
// Unreadable files are skipped and logged.
func (s *JSONStore[T]) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read dir %s: %w", s.baseDir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(s.baseDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			logger.WarnCF("store", "Skipping unreadable document", map[string]interface{}{
				"path":  path,
				"error": err.Error(),
			})
			continue
		}
		var item T
		if err := json.Unmarshal(data, &item); err != nil {
			logger.WarnCF("store", "Skipping malformed document", map[string]interface{}{
				"path":  path,
				"error": err.Error(),
			})
			continue
		}
		s.items[strings.TrimSuffix(entry.Name(), ".json")] = &item
	}
	return nil
}

// Get returns a copy of the document stored under key.
func (s *JSONStore[T]) Get(key string) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[key]
	if !ok {
		var zero T
		return zero, false
	}
	return *item, true
}

// Put stores item under key, in memory and on disk.
func (s *JSONStore[T]) Put(key string, item T) error {
	if err := validKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(item, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	path := filepath.Join(s.baseDir, key+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	s.items[key] = &item
	return nil
}

// Remove deletes key. It reports whether key existed.
func (s *JSONStore[T]) Remove(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[key]; !ok {
		return false
	}
	delete(s.items, key)
	os.Remove(filepath.Join(s.baseDir, key+".json"))
	return true
}

// Keys returns the stored keys, sorted.
func (s *JSONStore[T]) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.items))
	for k := range s.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *JSONStore[T]) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func validKey(key string) error {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return fmt.Errorf("invalid document key %q", key)
	}
	return nil
}

// SettingsKey is the document key shared settings are stored under.
const SettingsKey = "settings"

// SettingsStore persists the SharedSettings document.
type SettingsStore struct {
	docs *JSONStore[protocol.SharedSettings]
}

// OpenSettings loads settings from dir.
func OpenSettings(dir string) (*SettingsStore, error) {
	docs, err := NewJSONStore[protocol.SharedSettings](dir)
	if err != nil {
		return nil, err
	}
	if err := docs.Load(); err != nil {
		return nil, err
	}
	return &SettingsStore{docs: docs}, nil
}

// Get returns the stored settings, or the defaults when none were saved.
func (s *SettingsStore) Get() protocol.SharedSettings {
	if v, ok := s.docs.Get(SettingsKey); ok {
		if v.MapLayers == nil {
			v.MapLayers = []string{}
		}
		return v
	}
	return protocol.DefaultSettings()
}

// Save replaces the stored settings.
func (s *SettingsStore) Save(v protocol.SharedSettings) error {
	return s.docs.Put(SettingsKey, v)
}
