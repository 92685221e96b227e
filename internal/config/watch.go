package config

import (
	"github.com/fsnotify/fsnotify"
)

// Watch calls fn whenever the loaded config file is written. It does
// nothing when no file was loaded.
func Watch(fn func(fsnotify.Event)) {
	cur := instance()
	if cur.ConfigFileUsed() == "" {
		return
	}
	cur.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		fn(e)
	})
	cur.WatchConfig()
}
