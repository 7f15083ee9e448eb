package config

import (
	"time"

	"github.com/fsnotify/fsnotify"
)

// Logger matches the logging contract used across the service.
type Logger interface {
	Printf(format string, args ...any)
}

// Watcher reloads the config file when it changes on disk and hands the
// validated result to a callback. Invalid edits are logged and skipped; the
// previous configuration stays in effect.
type Watcher struct {
	path     string
	onChange func(*Config)
	logger   Logger
	fs       *fsnotify.Watcher
	done     chan struct{}
}

func NewWatcher(path string, onChange func(*Config), logger Logger) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fs.Add(path); err != nil {
		fs.Close()
		return nil, err
	}
	w := &Watcher{
		path:     path,
		onChange: onChange,
		logger:   logger,
		fs:       fs,
		done:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	// Editors replace files with write+rename bursts; coalesce them.
	var pending *time.Timer
	defer func() {
		if pending != nil {
			pending.Stop()
		}
	}()
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(250*time.Millisecond, w.reload)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Printf("config watch: %v", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Printf("config reload rejected: %v", err)
		return
	}
	w.logger.Printf("config reloaded from %s", w.path)
	w.onChange(cfg)
}

func (w *Watcher) Close() error {
	close(w.done)
	return w.fs.Close()
}
