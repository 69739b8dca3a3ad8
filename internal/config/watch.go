package config

import (
	"context"
	"errors"
	"math/rand/v2"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "proxywatch/pkg/logx"
)

const (
	reloadDebounce  = 250 * time.Millisecond
	watchRetryFirst = 250 * time.Millisecond
	watchRetryMax   = 5 * time.Second
)

// Watch re-reads the config file whenever it changes, until ctx ends.
// The parent directory is watched so editors that replace the file are
// handled. A failed watcher is recreated with backoff. With no file Watch
// only waits for ctx.
func (m *ConfigManager) Watch(ctx context.Context) error {
	if m.path == "" {
		<-ctx.Done()
		return nil
	}
	dir, name := filepath.Dir(m.path), filepath.Base(m.path)
	deb := &debouncer{fire: func() { m.reload(ctx) }}
	defer deb.stop()

	retry := watchRetryFirst
	for ctx.Err() == nil {
		w, err := newDirWatcher(dir)
		if err != nil {
			m.log.Warn("config watcher failed", logx.String("dir", dir), logx.Err(err))
		} else {
			retry = watchRetryFirst
			m.consume(ctx, w, name, deb)
			_ = w.Close()
			if ctx.Err() != nil {
				break
			}
			m.log.Warn("config watcher closed, recreating", logx.String("dir", dir))
		}
		wait := retry + rand.N(retry/2+1)
		retry = min(retry*2, watchRetryMax)
		select {
		case <-ctx.Done():
		case <-time.After(wait):
		}
	}
	return nil
}

func newDirWatcher(dir string) (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, err
	}
	return w, nil
}

func (m *ConfigManager) consume(ctx context.Context, w *fsnotify.Watcher, name string, deb *debouncer) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) == name && !ev.Has(fsnotify.Chmod) {
				deb.poke()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				// events were lost; the file may have changed
				deb.poke()
				continue
			}
			m.log.Warn("config watcher error", logx.Err(err))
		}
	}
}

// debouncer collapses a burst of pokes into one call of fire.
type debouncer struct {
	fire func()

	mu sync.Mutex
	t  *time.Timer
}

func (d *debouncer) poke() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.t != nil {
		d.t.Stop()
	}
	d.t = time.AfterFunc(reloadDebounce, d.fire)
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.t != nil {
		d.t.Stop()
	}
}
