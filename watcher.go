package modhost

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/GoCodeAlone/modhost/packages"
	"github.com/fsnotify/fsnotify"
)

// Reload re-reads the installed packages and rebuilds every collector.
func (a *Application) Reload(ctx context.Context) bool {
	if _, err := a.directory.Packages(ctx, true); err != nil {
		a.logger.Error("Failed to reload packages", "error", err)
		return false
	}
	return a.Recollect(ctx, true)
}

// Watcher reloads an Application when its package metadata changes.
type Watcher struct {
	app      *Application
	debounce time.Duration
	files    map[string]bool
	roots    []string
	fw       *fsnotify.Watcher

	// OnReload, when set, receives the result of every reload.
	OnReload func(ok bool)
}

// NewWatcher watches the installed file and the manifest directory named in
// the application configuration.
func NewWatcher(app *Application) (*Watcher, error) {
	cfg := app.config.Packages
	if cfg.Installed == "" && cfg.Manifests == "" {
		return nil, fmt.Errorf("watch: no package metadata configured")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	w := &Watcher{
		app:      app,
		debounce: app.config.Watch.Debounce,
		files:    make(map[string]bool),
		fw:       fw,
	}
	if w.debounce <= 0 {
		w.debounce = 250 * time.Millisecond
	}

	if cfg.Installed != "" {
		abs, err := filepath.Abs(cfg.Installed)
		if err != nil {
			fw.Close()
			return nil, fmt.Errorf("watch: %w", err)
		}
		w.files[abs] = true
		if err := fw.Add(filepath.Dir(abs)); err != nil {
			fw.Close()
			return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
		}
	}
	if cfg.Manifests != "" {
		root, err := filepath.Abs(cfg.Manifests)
		if err != nil {
			fw.Close()
			return nil, fmt.Errorf("watch: %w", err)
		}
		w.roots = append(w.roots, root)
		if err := w.addTree(root); err != nil {
			fw.Close()
			return nil, err
		}
	}
	return w, nil
}

// addTree watches root and its immediate subdirectories.
func (w *Watcher) addTree(root string) error {
	if err := w.fw.Add(root); err != nil {
		return fmt.Errorf("watch %s: %w", root, err)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("watch %s: %w", root, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			if err := w.fw.Add(filepath.Join(root, e.Name())); err != nil {
				return fmt.Errorf("watch %s: %w", e.Name(), err)
			}
		}
	}
	return nil
}

// relevant reports whether a change to name may alter the package list.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	name := filepath.Clean(event.Name)
	if w.files[name] {
		return true
	}
	for _, root := range w.roots {
		dir := filepath.Dir(name)
		if dir == root {
			// A module directory appeared or vanished.
			if event.Has(fsnotify.Create) {
				if fi, err := os.Stat(name); err == nil && fi.IsDir() {
					_ = w.fw.Add(name)
					return true
				}
			}
			return event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)
		}
		if filepath.Dir(dir) == root && slices.Contains(packages.ManifestNames, filepath.Base(name)) {
			return true
		}
	}
	return false
}

// Run reloads the application after changes settle, until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fw.Close()

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	pending := false

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if !w.relevant(event) {
				continue
			}
			w.app.logger.Debug("Package metadata changed", "file", event.Name, "op", event.Op.String())
			pending = true
			timer.Reset(w.debounce)

		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			w.app.logger.Warn("Watch error", "error", err)

		case <-timer.C:
			if !pending {
				continue
			}
			pending = false
			ok := w.app.Reload(ctx)
			if ok {
				w.app.logger.Info("Reloaded after package metadata change")
			}
			if w.OnReload != nil {
				w.OnReload(ok)
			}
		}
	}
}
