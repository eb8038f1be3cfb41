package config

import (
	"errors"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watch re-reads the config file at path whenever it is written and passes
// each valid result to onChange. Invalid edits are logged and ignored. The
// watch lasts for the life of the process.
func Watch(path string, logger *slog.Logger, onChange func(*Config)) error {
	if path == "" {
		return errors.New("config watch needs an explicit file path")
	}

	v, err := newViper(path)
	if err != nil {
		return err
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}

		cfg, err := decode(v)
		if err != nil {
			logger.Warn("ignoring invalid config change", "file", e.Name, "error", err)
			return
		}

		logger.Info("config file changed", "file", e.Name)
		onChange(cfg)
	})
	v.WatchConfig()

	return nil
}
