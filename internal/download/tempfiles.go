package download

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// tempRegistry tracks every temporary file the engine creates so that both
// the normal and the error exit paths can sweep orphans.
type tempRegistry struct {
	mu    sync.Mutex
	paths map[string]struct{}
}

func newTempRegistry() *tempRegistry {
	return &tempRegistry{paths: make(map[string]struct{})}
}

// create opens a uniquely-named temporary file in dir and tracks it.
func (r *tempRegistry) create(dir string) (*os.File, error) {
	for range 3 {
		name := filepath.Join(dir, "download_"+randomHex(16)+".part")
		f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil {
			if os.IsExist(err) {
				continue
			}
			return nil, fmt.Errorf("create temp file: %w", err)
		}
		r.mu.Lock()
		r.paths[name] = struct{}{}
		r.mu.Unlock()
		return f, nil
	}
	return nil, fmt.Errorf("create temp file in %s: name collisions", dir)
}

// release untracks a path that was successfully renamed into place.
func (r *tempRegistry) release(path string) {
	r.mu.Lock()
	delete(r.paths, path)
	r.mu.Unlock()
}

// discard removes the file and untracks it.
func (r *tempRegistry) discard(path string) {
	_ = os.Remove(path)
	r.release(path)
}

// sweep deletes any temporaries still tracked. Called at batch exit.
func (r *tempRegistry) sweep(log *slog.Logger) {
	r.mu.Lock()
	leftover := make([]string, 0, len(r.paths))
	for p := range r.paths {
		leftover = append(leftover, p)
	}
	r.paths = make(map[string]struct{})
	r.mu.Unlock()

	for _, p := range leftover {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			if log != nil {
				log.Warn("failed to clean up temp file", "path", p, "err", err)
			}
		}
	}
}

func randomHex(n int) string {
	b := make([]byte, (n+1)/2)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)[:n]
}
