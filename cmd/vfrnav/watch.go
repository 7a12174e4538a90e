package main

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vfrnav/vfrnav/pkg/logger"
)

const schemaDebounce = 250 * time.Millisecond

// isSchemaFile reports whether a change to name should trigger a reload.
func isSchemaFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// watchSchemas calls reload after schema files in dir change. Bursts of
// events within schemaDebounce collapse into one reload. It returns when
// ctx ends.
func watchSchemas(ctx context.Context, dir string, reload func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		logger.WarnCF("schema", "Schema directory not watched", map[string]interface{}{
			"dir":   dir,
			"error": err.Error(),
		})
		<-ctx.Done()
		return nil
	}
	logger.InfoCF("schema", "Watching schema directory", map[string]interface{}{
		"dir": dir,
	})

	timer := time.NewTimer(schemaDebounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !isSchemaFile(ev.Name) {
				continue
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) &&
				!ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			logger.DebugCF("schema", "Schema file changed", map[string]interface{}{
				"file": ev.Name,
				"op":   ev.Op.String(),
			})
			timer.Reset(schemaDebounce)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.ErrorCF("schema", "Schema watcher error", map[string]interface{}{
				"error": err.Error(),
			})

		case <-timer.C:
			reload()
		}
	}
}
