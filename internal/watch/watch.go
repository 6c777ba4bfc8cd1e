package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce collapses the burst of events an editor save produces.
const DefaultDebounce = 300 * time.Millisecond

// Watcher calls a function whenever one file changes.
type Watcher struct {
	logger   zerolog.Logger
	path     string
	debounce time.Duration
	onChange func(ctx context.Context)
}

// New creates a watcher for path. onChange never runs concurrently with itself.
func New(logger zerolog.Logger, path string, debounce time.Duration, onChange func(ctx context.Context)) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	return &Watcher{
		logger:   logger.With().Str("component", "watch").Str("path", abs).Logger(),
		path:     abs,
		debounce: debounce,
		onChange: onChange,
	}, nil
}

// Run watches until ctx is cancelled. The file's directory is watched so
// editors that replace the file on save are still seen.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}

	w.logger.Info().Msg("watching for changes")

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		pending *time.Timer
	)
	defer wg.Wait()

	// cancel stops a pending timer and releases its WaitGroup slot.
	cancel := func() {
		if pending != nil && pending.Stop() {
			wg.Done()
		}
	}
	fire := func() {
		defer wg.Done()

		mu.Lock()
		defer mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		w.onChange(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			cancel()
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug().Str("op", event.Op.String()).Msg("change detected")

			cancel()
			wg.Add(1)
			pending = time.AfterFunc(w.debounce, fire)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("watch error")
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return false
	}
	name, err := filepath.Abs(event.Name)
	if err != nil {
		return false
	}
	return name == w.path
}
