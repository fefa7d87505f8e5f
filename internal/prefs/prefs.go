// Package prefs remembers the last settings used for each workflow kind.
package prefs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/thywilljoshua/slidegen/internal/invoker"
	"github.com/thywilljoshua/slidegen/internal/workflow"
)

const schemaVersion = 1

type File struct {
	SchemaVersion int                         `json:"schema_version"`
	Kinds         map[string]invoker.Settings `json:"kinds"`
}

// Store keeps a File on disk. The file holds credentials and is written 0600.
type Store struct {
	path string
	mu   sync.Mutex
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) load() (*File, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &File{SchemaVersion: schemaVersion, Kinds: map[string]invoker.Settings{}}, nil
		}
		return nil, fmt.Errorf("read preferences: %w", err)
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse preferences %s: %w", s.path, err)
	}
	if f.SchemaVersion == 0 {
		f.SchemaVersion = schemaVersion
	}
	if f.Kinds == nil {
		f.Kinds = map[string]invoker.Settings{}
	}
	return &f, nil
}

func (s *Store) save(f *File) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create preferences dir: %w", err)
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write preferences: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// Get returns the last settings saved for kind.
func (s *Store) Get(kind workflow.Kind) (invoker.Settings, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.load()
	if err != nil {
		return invoker.Settings{}, false, err
	}
	v, ok := f.Kinds[string(kind)]
	return v, ok, nil
}

// Put records settings as the last used for kind.
func (s *Store) Put(kind workflow.Kind, settings invoker.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.load()
	if err != nil {
		return err
	}
	f.Kinds[string(kind)] = settings
	return s.save(f)
}

// Fill copies every field that is empty in dst from last.
func Fill(dst, last invoker.Settings) invoker.Settings {
	pick := func(a, b string) string {
		if a != "" {
			return a
		}
		return b
	}
	dst.Endpoint = pick(dst.Endpoint, last.Endpoint)
	dst.ChatAPIURL = pick(dst.ChatAPIURL, last.ChatAPIURL)
	dst.APIKey = pick(dst.APIKey, last.APIKey)
	dst.Model = pick(dst.Model, last.Model)
	dst.ImageModel = pick(dst.ImageModel, last.ImageModel)
	dst.Language = pick(dst.Language, last.Language)
	dst.Style = pick(dst.Style, last.Style)
	dst.AspectRatio = pick(dst.AspectRatio, last.AspectRatio)
	dst.InviteCode = pick(dst.InviteCode, last.InviteCode)
	if dst.PageCount == 0 {
		dst.PageCount = last.PageCount
	}
	return dst
}
