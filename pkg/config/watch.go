package config

import (
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the config file when it changes on disk and invokes
// the registered callback with the freshly parsed config.
type Watcher struct {
	path     string
	fw       *fsnotify.Watcher
	onChange func(*Config)
	stop     chan struct{}
}

// NewWatcher creates a watcher for the given config file. The callback
// runs on the watcher goroutine; reload failures are logged and the
// previous config stays in effect.
func NewWatcher(path string, onChange func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the directory rather than the file itself so editors that
	// replace the file (rename + create) don't break the watch.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		path:     path,
		fw:       fw,
		onChange: onChange,
		stop:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			cfg, err := LoadFromFile(w.path)
			if err != nil {
				log.Printf("[Config] Reload of %s failed: %v", w.path, err)
				continue
			}
			log.Printf("[Config] Reloaded %s", w.path)
			w.onChange(cfg)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			log.Printf("[Config] Watcher error: %v", err)
		case <-w.stop:
			return
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.stop)
	return w.fw.Close()
}
