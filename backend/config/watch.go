package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watch calls load for the file at path each time new content lands there and
// passes a successful result to onChange. A failed load is logged and the
// previous config stays in effect. Watch blocks until ctx is done.
//
// The parent directory is watched rather than the file itself: a save that
// renames a temp file over path replaces the inode, and a watch held on the
// old inode would never fire again.
func Watch(
	ctx context.Context,
	path string,
	logger *zerolog.Logger,
	load func(path string) (*Config, error),
	onChange func(*Config),
) error {
	path = filepath.Clean(path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: new watcher: %w", err)
	}
	defer func() {
		_ = w.Close()
	}()
	if err = w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("config: watch %q: %w", path, err)
	}

	log := logger.With().Str("component", "config-watcher").Str("path", path).Logger()
	log.Debug().Msg("watch started")

	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("watch stopped")
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !replaces(path, ev) {
				continue
			}
			cfg, errL := load(path)
			if errL != nil {
				log.Warn().Err(errL).Str("op", ev.Op.String()).Msg("config change rejected")
				continue
			}
			log.Info().Str("op", ev.Op.String()).Msg("config changed")
			onChange(cfg)

		case errW, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(errW).Msg("watch error")
		}
	}
}

// replaces reports whether ev leaves new content at path.
// A rename onto path is delivered as Create for the target name.
func replaces(path string, ev fsnotify.Event) bool {
	if filepath.Clean(ev.Name) != path {
		return false
	}
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)
}
