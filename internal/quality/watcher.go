package quality

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/msageha/orchestra/internal/logging"
)

const defaultReloadDebounce = 200 * time.Millisecond

// Watcher reloads an engine's rules when files in the rules directory
// change. A failed reload keeps the previous rules.
type Watcher struct {
	dir      string
	engine   *Engine
	logger   *logging.Logger
	debounce time.Duration
	// onReload, if set, is called after every reload attempt.
	onReload func(count int, err error)

	watcher *fsnotify.Watcher
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	once    sync.Once
}

func NewWatcher(dir string, engine *Engine, logger *logging.Logger) *Watcher {
	return &Watcher{
		dir:      dir,
		engine:   engine,
		logger:   logger.With("quality-watcher"),
		debounce: defaultReloadDebounce,
	}
}

// Start begins watching. The directory is created if missing.
func (w *Watcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return fmt.Errorf("ensure rules dir %s: %w", w.dir, err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fw.Add(w.dir); err != nil {
		fw.Close()
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.watcher = fw

	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.loop(ctx)
	w.logger.Infof("watching rules dir=%s", w.dir)
	return nil
}

// Stop ends the watch and waits for the loop to exit. Safe to call twice.
func (w *Watcher) Stop() {
	w.once.Do(func() {
		if w.cancel != nil {
			w.cancel()
		}
		if w.watcher != nil {
			w.watcher.Close()
		}
		w.wg.Wait()
	})
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !hasExtension(event.Name, ".yaml", ".yml") {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.logger.Debugf("fsnotify event=%s file=%s", event.Op, event.Name)
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Errorf("fsnotify error=%v", err)
		}
	}
}

func (w *Watcher) reload() {
	count, err := w.engine.LoadRules(w.dir)
	if err != nil {
		w.logger.Errorf("reload rules dir=%s: %v (keeping previous rules)", w.dir, err)
	} else {
		w.logger.Infof("reloaded rules dir=%s count=%d", w.dir, count)
	}
	if w.onReload != nil {
		w.onReload(count, err)
	}
}
