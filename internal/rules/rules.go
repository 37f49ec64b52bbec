// Package rules holds the blocklist and feature flags, persisted as
// human-editable JSON files.
package rules

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// ErrUnknownFeature is returned when toggling a feature that has no
// registered key.
type ErrUnknownFeature struct {
	Name string
}

func (e *ErrUnknownFeature) Error() string {
	return fmt.Sprintf("unknown feature: %s", e.Name)
}

// DefaultFeatures are the recognized feature flag keys and their initial
// values. Toggling any other name is rejected.
var DefaultFeatures = map[string]bool{
	"autoreply":     false,
	"notifications": true,
	"commands":      true,
}

// Store is the in-memory authority for the blocklist and feature flags.
// Every mutation rewrites the backing file; a write failure is logged and
// the in-memory state stays authoritative for the process lifetime, so the
// next successful write repairs the file.
type Store struct {
	log           *slog.Logger
	blocklistPath string
	featuresPath  string

	mu       sync.RWMutex
	blocked  map[string]struct{}
	features map[string]bool
}

type blocklistFile struct {
	Blocked []string `json:"blocked"`
}

// Load reads the blocklist and feature-flags files from dir, creating
// defaults for anything missing or unreadable.
func Load(dir string, log *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create rules directory: %w", err)
	}

	s := &Store{
		log:           log,
		blocklistPath: filepath.Join(dir, "blocklist.json"),
		featuresPath:  filepath.Join(dir, "features.json"),
		blocked:       make(map[string]struct{}),
		features:      make(map[string]bool),
	}
	for k, v := range DefaultFeatures {
		s.features[k] = v
	}

	var bl blocklistFile
	if err := readJSON(s.blocklistPath, &bl); err != nil {
		log.Warn("could not read blocklist, starting empty", "path", s.blocklistPath, "error", err)
	}
	for _, id := range bl.Blocked {
		s.blocked[id] = struct{}{}
	}

	saved := make(map[string]bool)
	if err := readJSON(s.featuresPath, &saved); err != nil {
		log.Warn("could not read feature flags, using defaults", "path", s.featuresPath, "error", err)
	}
	for k, v := range saved {
		// Unknown keys in the file are preserved-as-read but not togglable.
		if _, ok := s.features[k]; ok {
			s.features[k] = v
		}
	}

	return s, nil
}

// IsBlocked reports whether a sender is on the blocklist.
func (s *Store) IsBlocked(senderID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blocked[senderID]
	return ok
}

// Block adds a sender to the blocklist and rewrites the file. The write
// happens inside the same critical section as the mutation, so concurrent
// mutations cannot persist out of order.
func (s *Store) Block(senderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocked[senderID] = struct{}{}
	s.saveBlocklistLocked()
}

// Unblock removes a sender from the blocklist and rewrites the file.
func (s *Store) Unblock(senderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blocked, senderID)
	s.saveBlocklistLocked()
}

// Blocked returns the blocklist in sorted order.
func (s *Store) Blocked() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.blockedLocked()
}

func (s *Store) blockedLocked() []string {
	out := make([]string, 0, len(s.blocked))
	for id := range s.blocked {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Toggle flips a named feature flag and returns its new value. A name with
// no registered key returns ErrUnknownFeature and changes nothing.
func (s *Store) Toggle(name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.features[name]
	if !ok {
		return false, &ErrUnknownFeature{Name: name}
	}
	s.features[name] = !cur
	s.saveFeaturesLocked()
	return !cur, nil
}

// Feature returns the current value of a named flag.
func (s *Store) Feature(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.features[name]
}

// Features returns a copy of all feature flags.
func (s *Store) Features() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.featuresLocked()
}

func (s *Store) featuresLocked() map[string]bool {
	out := make(map[string]bool, len(s.features))
	for k, v := range s.features {
		out[k] = v
	}
	return out
}

func (s *Store) saveBlocklistLocked() {
	if err := writeJSON(s.blocklistPath, blocklistFile{Blocked: s.blockedLocked()}); err != nil {
		s.log.Error("failed to persist blocklist", "path", s.blocklistPath, "error", err)
	}
}

func (s *Store) saveFeaturesLocked() {
	if err := writeJSON(s.featuresPath, s.featuresLocked()); err != nil {
		s.log.Error("failed to persist feature flags", "path", s.featuresPath, "error", err)
	}
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, v)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
