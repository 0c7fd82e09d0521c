package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"paper-scout/models"
)

const (
	filterPrefix = "filter_"
	filterSuffix = ".json"
	matchDBFile  = "matches.db"
)

// FilterStore reads and writes the per-user filter documents. The layout on
// disk is shared with the web frontend, which edits the same files:
//
//	<root>/users/user_<id>/filter_<name>.json
//	<root>/users/user_<id>/matches.db
type FilterStore struct {
	root string
}

// NewFilterStore roots the store at the service data directory.
func NewFilterStore(root string) *FilterStore {
	return &FilterStore{root: root}
}

// UserDir returns a user's data directory.
func (s *FilterStore) UserDir(userID uint) string {
	return filepath.Join(s.root, "users", fmt.Sprintf("user_%d", userID))
}

// MatchDBPath returns the path of the user's personal match database.
func (s *FilterStore) MatchDBPath(userID uint) string {
	return filepath.Join(s.UserDir(userID), matchDBFile)
}

// Names lists the user's filter names, sorted. A user without a directory
// simply has no filters.
func (s *FilterStore) Names(userID uint) ([]string, error) {
	entries, err := os.ReadDir(s.UserDir(userID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, filterPrefix) || !strings.HasSuffix(name, filterSuffix) {
			continue
		}
		names = append(names, strings.TrimSuffix(strings.TrimPrefix(name, filterPrefix), filterSuffix))
	}
	sort.Strings(names)
	return names, nil
}

// Load reads one filter document.
func (s *FilterStore) Load(userID uint, name string) (models.Filter, error) {
	path := s.filterPath(userID, name)
	data, err := os.ReadFile(path)
	if err != nil {
		return models.Filter{}, fmt.Errorf("read filter %s: %w", path, err)
	}

	var f models.Filter
	if err := json.Unmarshal(data, &f); err != nil {
		return models.Filter{}, fmt.Errorf("parse filter %s: %w", path, err)
	}
	f.Name = name
	return f, nil
}

// Save writes the filter document back, creating the user directory on first
// use. The write goes through a temp file and rename so the frontend never
// reads a half-written document.
func (s *FilterStore) Save(userID uint, f models.Filter) error {
	if f.Name == "" {
		return fmt.Errorf("filter has no name")
	}
	if err := os.MkdirAll(s.UserDir(userID), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}

	path := s.filterPath(userID, f.Name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *FilterStore) filterPath(userID uint, name string) string {
	return filepath.Join(s.UserDir(userID), filterPrefix+name+filterSuffix)
}
