// Package watermark persists the last successful sync instant across process
// restarts. A missing watermark is not an error; the engine falls back to a
// default lookback window.
package watermark

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Backend stores a single timestamp. Load's second return is false when no
// watermark has ever been saved.
type Backend interface {
	Load(ctx context.Context) (time.Time, bool, error)
	Save(ctx context.Context, at time.Time) error
	Close() error
}

// Open builds a backend from a DSN. Supported schemes are file (or a bare
// path), memory, and postgres. An empty DSN yields an in-memory backend, so
// the engine always has somewhere to write.
func Open(dsn string) (Backend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return NewInMemoryBackend(), nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	switch scheme {
	case "", "file":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewJSONFileBackend(path), nil
	case "memory", "mem", "inmem":
		return NewInMemoryBackend(), nil
	case "postgres", "postgresql":
		return NewPostgresBackend(dsn)
	default:
		return nil, fmt.Errorf("unsupported watermark backend scheme: %s", scheme)
	}
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	if parsed.Scheme == "" {
		return raw, nil
	}
	path := parsed.Path
	if parsed.Host != "" {
		path = filepath.Join(parsed.Host, path)
	}
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("file watermark DSN has no path: %s", raw)
	}
	return path, nil
}

// InMemoryBackend keeps the watermark in process memory. Useful for tests
// and for deployments that accept a full resync after restart.
type InMemoryBackend struct {
	mu  sync.Mutex
	at  time.Time
	set bool
}

func NewInMemoryBackend() *InMemoryBackend {
	return &InMemoryBackend{}
}

func (b *InMemoryBackend) Load(ctx context.Context) (time.Time, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.at, b.set, nil
}

func (b *InMemoryBackend) Save(ctx context.Context, at time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.at = at.UTC()
	b.set = true
	return nil
}

func (b *InMemoryBackend) Close() error { return nil }

type fileSnapshot struct {
	LastSync time.Time `json:"last_sync"`
}

// JSONFileBackend stores the watermark as a small JSON file, written
// atomically via rename.
type JSONFileBackend struct {
	Path string
}

func NewJSONFileBackend(path string) *JSONFileBackend {
	return &JSONFileBackend{Path: strings.TrimSpace(path)}
}

func (b *JSONFileBackend) Load(ctx context.Context) (time.Time, bool, error) {
	if b == nil || b.Path == "" {
		return time.Time{}, false, nil
	}
	data, err := os.ReadFile(b.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	var snapshot fileSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return time.Time{}, false, err
	}
	if snapshot.LastSync.IsZero() {
		return time.Time{}, false, nil
	}
	return snapshot.LastSync.UTC(), true, nil
}

func (b *JSONFileBackend) Save(ctx context.Context, at time.Time) error {
	if b == nil || b.Path == "" {
		return nil
	}
	data, err := json.Marshal(fileSnapshot{LastSync: at.UTC()})
	if err != nil {
		return err
	}
	dir := filepath.Dir(b.Path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := b.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, b.Path)
}

func (b *JSONFileBackend) Close() error { return nil }
