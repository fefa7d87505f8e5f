// Package artifact copies generated slide images and decks into a local
// output directory.
package artifact

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"
)

// FileStore writes artifacts under dir. Remote refs are downloaded with
// client, file:// refs are copied.
type FileStore struct {
	dir    string
	client *http.Client
	logger *slog.Logger

	// base resolves bare paths that do not exist locally, such as the
	// output paths a generation service returns.
	base *url.URL
}

func NewFileStore(dir string, client *http.Client, logger *slog.Logger) *FileStore {
	if client == nil {
		client = http.DefaultClient
	}
	return &FileStore{dir: dir, client: client, logger: logger}
}

func (s *FileStore) Dir() string { return s.dir }

// WithBase sets the URL bare paths are resolved against.
func (s *FileStore) WithBase(base string) *FileStore {
	if u, err := url.Parse(base); err == nil && u.Scheme != "" {
		s.base = u
	}
	return s
}

// Save writes r to dir/name and returns the written path.
func (s *FileStore) Save(ctx context.Context, name string, r io.Reader) (string, error) {
	name = filepath.Base(filepath.Clean("/" + name))
	if name == "/" || name == "." {
		return "", fmt.Errorf("invalid artifact name")
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	dst := filepath.Join(s.dir, name)
	f, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", dst, err)
	}
	_, err = io.Copy(f, ctxReader{ctx: ctx, r: r})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dst)
		return "", fmt.Errorf("write %s: %w", dst, err)
	}
	return dst, nil
}

// Fetch copies the artifact at ref into the store under its own file name.
func (s *FileStore) Fetch(ctx context.Context, ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse artifact ref %q: %w", ref, err)
	}
	name := path.Base(u.Path)
	if u.Scheme == "" && s.base != nil {
		if _, err := os.Stat(filepath.FromSlash(u.Path)); err != nil {
			u = s.base.ResolveReference(&url.URL{Path: "/" + strings.TrimLeft(u.Path, "/")})
			ref = u.String()
		}
	}
	switch u.Scheme {
	case "file", "":
		f, err := os.Open(filepath.FromSlash(u.Path))
		if err != nil {
			return "", fmt.Errorf("open %s: %w", ref, err)
		}
		defer f.Close()
		return s.Save(ctx, name, f)
	case "http", "https":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
		if err != nil {
			return "", err
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return "", fmt.Errorf("download %s: %w", ref, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("download %s: status %d", ref, resp.StatusCode)
		}
		return s.Save(ctx, name, resp.Body)
	default:
		return "", fmt.Errorf("unsupported artifact scheme %q", u.Scheme)
	}
}

// FetchAll fetches refs with at most parallel downloads in flight. Failed refs
// are logged and left out of the result.
func (s *FileStore) FetchAll(ctx context.Context, refs []string, parallel int) map[string]string {
	if parallel <= 0 {
		parallel = 4
	}
	out := make([]string, len(refs))
	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(parallel)
	for i, ref := range refs {
		if strings.TrimSpace(ref) == "" {
			continue
		}
		eg.Go(func() error {
			p, err := s.Fetch(ectx, ref)
			if err != nil {
				s.logger.Warn("artifact fetch failed", "ref", ref, "error", err)
				return nil
			}
			out[i] = p
			return nil
		})
	}
	_ = eg.Wait()
	got := make(map[string]string, len(refs))
	for i, p := range out {
		if p != "" {
			got[refs[i]] = p
		}
	}
	return got
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
