// Package identity resolves the key used for quota accounting.
package identity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

type Identity struct {
	Key           string
	Authenticated bool
}

type Provider interface {
	Identity(ctx context.Context) (Identity, error)
}

// Account is a signed-in user.
type Account string

func (a Account) Identity(context.Context) (Identity, error) {
	id := strings.TrimSpace(string(a))
	if id == "" {
		return Identity{}, errors.New("empty account id")
	}
	return Identity{Key: "user:" + id, Authenticated: true}, nil
}

// Anonymous keeps a device fingerprint in a local file so the same machine
// maps to the same identity across sessions.
type Anonymous struct {
	path string

	mu  sync.Mutex
	key string
}

func NewAnonymous(path string) *Anonymous {
	return &Anonymous{path: path}
}

func (a *Anonymous) Identity(context.Context) (Identity, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.key != "" {
		return Identity{Key: a.key}, nil
	}
	fp, err := a.load()
	if err != nil {
		return Identity{}, err
	}
	a.key = "anon:" + fp
	return Identity{Key: a.key}, nil
}

func (a *Anonymous) load() (string, error) {
	data, err := os.ReadFile(a.path)
	if err == nil {
		if fp := strings.TrimSpace(string(data)); fp != "" {
			return fp, nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("read fingerprint: %w", err)
	}
	fp := uuid.NewString()
	if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
		return "", fmt.Errorf("create fingerprint dir: %w", err)
	}
	if err := os.WriteFile(a.path, []byte(fp+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("write fingerprint: %w", err)
	}
	return fp, nil
}

// Resolve picks the account when one is signed in, else the anonymous
// fingerprint.
func Resolve(accountID string, anon *Anonymous) Provider {
	if strings.TrimSpace(accountID) != "" {
		return Account(accountID)
	}
	return anon
}
