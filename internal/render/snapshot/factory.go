package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"adscraper/internal/render"
)

// Factory opens a fresh Session over the same pages on every Open.
type Factory struct {
	pages []string

	// Prepare, when set, is called with the 1-based open count before the
	// session is returned. Returning an error fails the Open.
	Prepare func(attempt int, s *Session) error

	mu       sync.Mutex
	sessions []*Session
}

func NewFactory(pages ...string) *Factory {
	return &Factory{pages: pages}
}

// LoadDir reads every *.html file in dir, in name order, as one listing.
func LoadDir(dir string) (*Factory, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.html"))
	if err != nil {
		return nil, fmt.Errorf("glob snapshots: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no html snapshots in %s", dir)
	}
	sort.Strings(paths)

	pages := make([]string, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read snapshot: %w", err)
		}
		pages = append(pages, string(data))
	}
	return NewFactory(pages...), nil
}

func (f *Factory) Open(ctx context.Context) (render.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s, err := New(f.pages...)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.sessions = append(f.sessions, s)
	attempt := len(f.sessions)
	f.mu.Unlock()

	if f.Prepare != nil {
		if err := f.Prepare(attempt, s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Sessions returns every session opened so far.
func (f *Factory) Sessions() []*Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Session(nil), f.sessions...)
}
