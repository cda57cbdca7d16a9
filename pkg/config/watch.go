package config

import (
	"github.com/fsnotify/fsnotify"

	"github.com/wtsi-hgi/irobot/internal/logger"
)

// WatchLogging watches configPath for changes and invokes onChange with the
// reloaded LoggingConfig whenever the file is rewritten. Per SPEC_FULL.md
// §10.2, only the logging section is live-reloadable; other sections
// require a restart. The returned stop function closes the watcher.
func WatchLogging(configPath string, onChange func(LoggingConfig)) (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(configPath); err != nil {
		watcher.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, loadErr := Load(configPath)
				if loadErr != nil {
					logger.Warn("config reload failed, keeping previous logging configuration", logger.Err(loadErr))
					continue
				}
				onChange(cfg.Logging)
			case watchErr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config watcher error", logger.Err(watchErr))
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		watcher.Close()
	}, nil
}
