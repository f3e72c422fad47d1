package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reports changes to document and policy files. Bursts of events
// are coalesced: the callback runs once the files have been quiet for the
// debounce delay.
type Watcher struct {
	logger zerolog.Logger
	delay  time.Duration
	filter func(path string) bool
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets the quiet period. The default is 500ms.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.delay = d
		}
	}
}

// WithFilter selects the files whose changes are reported. The default
// accepts document files.
func WithFilter(filter func(path string) bool) WatcherOption {
	return func(w *Watcher) {
		w.filter = filter
	}
}

// NewWatcher creates a file watcher.
func NewWatcher(logger zerolog.Logger, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		logger: logger.With().Str("component", "watcher").Logger(),
		delay:  500 * time.Millisecond,
		filter: IsDocumentFile,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Watch watches the given files and directories until ctx is done, calling
// onChange with the sorted list of changed files after each quiet period.
// Directories are watched recursively, including ones created later.
// onChange runs on the watching goroutine, so events arriving while it runs
// are reported in the next batch.
func (w *Watcher) Watch(ctx context.Context, paths []string, onChange func(ctx context.Context, changed []string)) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	// Files are watched through their directory so renames are seen.
	files := make(map[string]bool)
	dirs := make(map[string]bool)
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", path, err)
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}

		if info.IsDir() {
			dirs[abs] = true
			if err := w.watchDirectory(fw, abs); err != nil {
				return err
			}
			continue
		}

		files[abs] = true
		if err := fw.Add(filepath.Dir(abs)); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
	}

	w.logger.Info().
		Int("paths", len(paths)).
		Dur("debounce", w.delay).
		Msg("Started watching")

	pending := make(map[string]bool)
	timer := time.NewTimer(w.delay)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}

			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.watchDirectory(fw, event.Name); err != nil {
						w.logger.Warn().Err(err).Str("path", event.Name).Msg("Failed to watch new directory")
					}
					continue
				}
			}

			name, ok := w.relevant(event, files, dirs)
			if !ok {
				continue
			}

			w.logger.Debug().
				Str("file", name).
				Str("op", event.Op.String()).
				Msg("File changed")

			pending[name] = true
			timer.Reset(w.delay)

		case <-timer.C:
			changed := make([]string, 0, len(pending))
			for name := range pending {
				changed = append(changed, name)
			}
			sort.Strings(changed)
			clear(pending)

			onChange(ctx, changed)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event, files, dirs map[string]bool) (string, bool) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return "", false
	}

	abs, err := filepath.Abs(event.Name)
	if err != nil {
		return "", false
	}
	if files[abs] {
		return abs, true
	}
	for dir := range dirs {
		if strings.HasPrefix(abs, dir+string(filepath.Separator)) {
			return abs, w.filter(abs)
		}
	}
	return "", false
}

// watchDirectory adds dir and its subdirectories.
func (w *Watcher) watchDirectory(fw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := fw.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}
