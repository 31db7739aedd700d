package config

import (
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/sessionlog-ai/sessionlog/internal/event"
	"github.com/sessionlog-ai/sessionlog/pkg/types"
)

// Watcher reloads configuration when a config file changes on disk.
type Watcher struct {
	watcher   *fsnotify.Watcher
	directory string
	current   *types.Config
	stopCh    chan struct{}
	doneCh    chan struct{}
	started   bool
	mu        sync.RWMutex
}

// NewWatcher creates a config watcher for the global and project config
// directories. Directories that do not exist are skipped.
func NewWatcher(directory string, initial *types.Config) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dirs := []string{GetPaths().Config}
	if directory != "" {
		dirs = append(dirs, directory, ProjectConfigDir(directory))
	}

	watched := 0
	for _, dir := range dirs {
		if err := w.Add(dir); err == nil {
			watched++
		}
	}
	if watched == 0 {
		w.Close()
		return nil, nil
	}

	log.Info().Int("dirs", watched).Msg("config watcher initialized")

	return &Watcher{
		watcher:   w,
		directory: directory,
		current:   initial,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}, nil
}

// Start begins watching for config changes.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()
	go w.run()
}

func (w *Watcher) run() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 && isConfigFile(ev.Name) {
				w.reload(ev.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("config watcher error")
		}
	}
}

func (w *Watcher) reload(path string) {
	cfg, err := Load(w.directory)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("config reload failed")
		return
	}

	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()

	log.Info().Str("path", path).Msg("config reloaded")

	event.Publish(event.Event{
		Type: event.ConfigReloaded,
		Data: event.ConfigData{Path: path},
	})
}

// Current returns the most recently loaded configuration.
func (w *Watcher) Current() *types.Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()

	select {
	case <-w.stopCh:
		// Already stopped
	default:
		close(w.stopCh)
	}

	if started {
		<-w.doneCh
	}

	return w.watcher.Close()
}

func isConfigFile(name string) bool {
	base := name[strings.LastIndexByte(name, '/')+1:]
	switch base {
	case "sessionlog.json", "sessionlog.jsonc", "sessionlog.yaml", "sessionlog.yml":
		return true
	}
	return false
}
