package configsys

import (
	"os"
	"reflect"

	"github.com/fsnotify/fsnotify"

	"github.com/substratehq/substrate/internal/eventbus"
	"github.com/substratehq/substrate/internal/logging"
)

// Watcher reloads the layered config whenever the global or project
// config file changes on disk and publishes eventbus.ConfigReloaded
// so subscribers such as the budget wiring in `substrate run` can pick up
// new budget limits without a restart. The worker pool does not
// subscribe; its concurrency limits stay as they were at startup.
type Watcher struct {
	loader *Loader
	bus    *eventbus.Bus
	fsw    *fsnotify.Watcher
	done   chan struct{}
	last   *Config
}

// NewWatcher creates a Watcher over the Loader's GlobalPath and
// ProjectPath. Paths left empty or not present on disk are not
// watched; an absent config file contributes nothing to the merge, so
// there is nothing to reload on either.
func NewWatcher(loader *Loader, bus *eventbus.Bus) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	for _, path := range []string{loader.sources.GlobalPath, loader.sources.ProjectPath} {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := fsw.Add(path); err != nil {
			fsw.Close()
			return nil, err
		}
	}

	w := &Watcher{loader: loader, bus: bus, fsw: fsw, done: make(chan struct{})}
	if cfg, err := loader.Load(); err == nil {
		w.last = cfg
	}
	return w, nil
}

// Start runs the watch loop in the background until Stop is called.
func (w *Watcher) Start() {
	go w.run()
}

// Stop ends the watch loop and releases the underlying fsnotify watcher.
func (w *Watcher) Stop() {
	close(w.done)
	w.fsw.Close()
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload(ev.Name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logging.Log.WithError(err).Warn("configsys: watch error")
		}
	}
}

func (w *Watcher) reload(changedPath string) {
	defer w.recoverNonFatal()

	cfg, err := w.loader.Load()
	if err != nil {
		logging.Log.WithError(err).WithField("path", changedPath).Warn("configsys: reload failed, keeping previous config")
		return
	}

	changedKeys := changedTopLevelKeys(w.last, cfg)
	w.last = cfg

	if w.bus != nil {
		w.bus.Publish(eventbus.Event{
			Type: eventbus.ConfigReloaded,
			Data: map[string]any{
				"changedKeys":  changedKeys,
				"changed_path": changedPath,
				"config":       cfg,
			},
		})
	}
}

// changedTopLevelKeys names the top-level sections that differ between
// the previous and the freshly merged config, so subscribers can react
// only to the sections they care about ("budget", "providers", ...).
func changedTopLevelKeys(prev, next *Config) []string {
	if prev == nil {
		return []string{"global", "providers", "routing_policy", "budget"}
	}
	var keys []string
	if !reflect.DeepEqual(prev.Global, next.Global) {
		keys = append(keys, "global")
	}
	if !reflect.DeepEqual(prev.Providers, next.Providers) {
		keys = append(keys, "providers")
	}
	if !reflect.DeepEqual(prev.RoutingPolicy, next.RoutingPolicy) {
		keys = append(keys, "routing_policy")
	}
	if !reflect.DeepEqual(prev.Budget, next.Budget) {
		keys = append(keys, "budget")
	}
	return keys
}

func (w *Watcher) recoverNonFatal() {
	if r := recover(); r != nil {
		logging.Log.WithField("panic", r).Error("configsys: recovered panic in reload handler")
	}
}
