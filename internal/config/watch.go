package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

type Logger interface {
	Printf(format string, args ...any)
}

// Watcher reloads the config file when it changes on disk. Invalid edits are
// logged and ignored so the last good config stays active.
type Watcher struct {
	path     string
	onChange func(*RunConfig)
	logger   Logger
	debounce time.Duration

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

func NewWatcher(path string, onChange func(*RunConfig), logger Logger) (*Watcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("onChange is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return &Watcher{
		path:     abs,
		onChange: onChange,
		logger:   logger,
		debounce: 200 * time.Millisecond,
		watcher:  w,
		done:     make(chan struct{}),
	}, nil
}

// Start watches the directory holding the file; editors that save by rename
// would otherwise drop a watch placed on the file itself.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("watcher already running")
	}
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
	}
	w.running = true
	w.wg.Add(1)
	go w.loop()
	return nil
}

func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return w.watcher.Close()
	}
	w.running = false
	w.mu.Unlock()
	close(w.done)
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logf("config watch error: %v", err)
		case <-fire:
			fire = nil
			cfg, err := Load(w.path)
			if err != nil {
				w.logf("config reload rejected, keeping previous config: %v", err)
				continue
			}
			w.logf("config reloaded from %s (%d mappings)", w.path, len(cfg.Mappings))
			w.onChange(cfg)
		}
	}
}

func (w *Watcher) logf(format string, args ...any) {
	if w.logger == nil {
		return
	}
	w.logger.Printf(format, args...)
}
