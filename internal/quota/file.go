package quota

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const fileSchemaVersion = 1

// FileStore keeps counters in a JSON file so a device's usage survives
// between runs. Writes go through a temp file and a rename, and an exclusive
// lock on a sibling .lock file serializes processes sharing the file.
type FileStore struct {
	path string
	mu   sync.Mutex
}

type fileWindow struct {
	Count int            `json:"count"`
	Kinds map[string]int `json:"kinds,omitempty"`
}

type fileData struct {
	SchemaVersion int                    `json:"schema_version"`
	Windows       map[string]*fileWindow `json:"windows"`
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Count(ctx context.Context, key, day string) (int, error) {
	var n int
	err := s.with(ctx, false, func(d *fileData) bool {
		if w := d.Windows[windowKey(key, day)]; w != nil {
			n = w.Count
		}
		return false
	})
	return n, err
}

func (s *FileStore) Increment(ctx context.Context, key, day, kind string) (int, error) {
	var n int
	err := s.with(ctx, true, func(d *fileData) bool {
		prune(d, day)
		wk := windowKey(key, day)
		w := d.Windows[wk]
		if w == nil {
			w = &fileWindow{Kinds: map[string]int{}}
			d.Windows[wk] = w
		}
		if w.Kinds == nil {
			w.Kinds = map[string]int{}
		}
		w.Count++
		w.Kinds[kind]++
		n = w.Count
		return true
	})
	return n, err
}

// Kinds returns the per-workflow breakdown for one window.
func (s *FileStore) Kinds(ctx context.Context, key, day string) (map[string]int, error) {
	out := map[string]int{}
	err := s.with(ctx, false, func(d *fileData) bool {
		if w := d.Windows[windowKey(key, day)]; w != nil {
			for k, v := range w.Kinds {
				out[k] = v
			}
		}
		return false
	})
	return out, err
}

// prune drops windows older than day. Day strings sort chronologically.
func prune(d *fileData, day string) {
	for wk := range d.Windows {
		if i := strings.IndexByte(wk, '|'); i >= 0 && wk[:i] < day {
			delete(d.Windows, wk)
		}
	}
}

// with runs fn on the current file contents under the lock and saves them
// when fn reports a change.
func (s *FileStore) with(ctx context.Context, write bool, fn func(*fileData) bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if write {
		if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
			return fmt.Errorf("create quota dir: %w", err)
		}
	}
	unlock, err := lockFile(s.path+".lock", write)
	if err != nil {
		return fmt.Errorf("lock quota file: %w", err)
	}
	defer unlock()

	d, err := s.load()
	if err != nil {
		return err
	}
	if !fn(d) {
		return nil
	}
	return s.save(d)
}

func (s *FileStore) load() (*fileData, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &fileData{SchemaVersion: fileSchemaVersion, Windows: map[string]*fileWindow{}}, nil
		}
		return nil, fmt.Errorf("read quota file: %w", err)
	}
	var d fileData
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parse quota file %s: %w", s.path, err)
	}
	if d.Windows == nil {
		d.Windows = map[string]*fileWindow{}
	}
	d.SchemaVersion = fileSchemaVersion
	return &d, nil
}

func (s *FileStore) save(d *fileData) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write quota file: %w", err)
	}
	return os.Rename(tmp, s.path)
}
