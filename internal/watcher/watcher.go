// Package watcher reloads the configuration file when it changes on disk.
// Only fields that are safe to change at runtime are applied by the
// callback; everything else requires a restart.
package watcher

import (
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/guildvault/guildvault/internal/config"
	log "github.com/sirupsen/logrus"
)

// Watch observes configPath and invokes onReload with the freshly parsed
// configuration after each write. It returns a stop function releasing the
// underlying watcher.
func Watch(configPath string, onReload func(*config.Config)) (func(), error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the directory: editors replace files on save, which drops a
	// watch registered on the file itself.
	dir := filepath.Dir(configPath)
	if err = w.Add(dir); err != nil {
		_ = w.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if !strings.EqualFold(filepath.Clean(event.Name), filepath.Clean(configPath)) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, errLoad := config.LoadConfig(configPath)
				if errLoad != nil {
					log.Warnf("config reload skipped: %v", errLoad)
					continue
				}
				onReload(cfg)
			case errWatch, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warnf("config watcher error: %v", errWatch)
			}
		}
	}()

	return func() { _ = w.Close() }, nil
}
