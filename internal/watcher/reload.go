package watcher

import (
	"cohort/internal/config"
	"cohort/internal/event"
	"cohort/internal/logging"
)

// ReloadOptions wires the settings file into the running process. Only
// runtime tunables are applied live; structural settings (port, backend
// kind, roles file) need a restart and only produce a warning.
type ReloadOptions struct {
	SettingsPath string
	RolesPath    string
	Logger       *logging.Logger
	Bus          *event.Bus[event.Event]
	// ApplySettings receives every successfully reloaded settings value.
	ApplySettings func(config.Settings)
}

// WatchConfig registers reload handling for the settings and roles files on
// an existing watcher. A reload that fails to parse or validate keeps the
// previous configuration.
func WatchConfig(w *Watcher, options ReloadOptions) error {
	if options.SettingsPath != "" {
		if err := w.Watch(options.SettingsPath, func(changed Event) {
			reloadSettings(changed, options)
		}); err != nil {
			return err
		}
	}
	if options.RolesPath != "" {
		if err := w.Watch(options.RolesPath, func(changed Event) {
			if options.Logger != nil {
				options.Logger.Warn("roles file changed, restart required to apply", map[string]string{
					"path": changed.Path,
				})
			}
		}); err != nil {
			return err
		}
	}
	return nil
}

func reloadSettings(changed Event, options ReloadOptions) {
	settings, err := config.Load(changed.Path)
	if err != nil {
		if options.Logger != nil {
			options.Logger.Warn("settings reload rejected, keeping previous values", map[string]string{
				"path":  changed.Path,
				"error": err.Error(),
			})
		}
		return
	}
	if options.ApplySettings != nil {
		options.ApplySettings(settings)
	}
	if options.Bus != nil {
		options.Bus.Publish(event.NewConfigEvent(changed.Path))
	}
	if options.Logger != nil {
		options.Logger.Info("settings reloaded", map[string]string{
			"path": changed.Path,
		})
	}
}
