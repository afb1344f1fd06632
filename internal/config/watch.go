package config

import (
	"context"
	"errors"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "medtrack/pkg/logx"
)

const (
	reloadDebounce = 250 * time.Millisecond
	watchRetryMin  = 250 * time.Millisecond
	watchRetryMax  = 5 * time.Second
)

const watchedOps = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove | fsnotify.Chmod

// Watch reloads the config whenever its file changes, until ctx is done.
// It watches the parent directory so atomic renames by editors are caught,
// and recreates a failed watcher after a jittered, growing delay.
func (m *ConfigManager) Watch(ctx context.Context) error {
	dir, name := filepath.Dir(m.path), filepath.Base(m.path)

	trigger, stop := debouncer(reloadDebounce, func() { m.reload(ctx) })
	defer stop()

	retry := watchRetryMin
	wait := func(msg string, err error) bool {
		d := retry + rand.N(retry/2+1)
		retry = min(retry*2, watchRetryMax)
		m.log.Warn(msg, logx.String("dir", dir), logx.Duration("retry_in", d), logx.Err(err))
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
			return true
		}
	}

	for ctx.Err() == nil {
		w, err := fsnotify.NewWatcher()
		if err == nil {
			if err = w.Add(dir); err != nil {
				_ = w.Close()
			}
		}
		if err != nil {
			if !wait("config watch setup failed", err) {
				break
			}
			continue
		}

		retry = watchRetryMin
		m.log.Debug("watching config", logx.String("dir", dir), logx.String("file", name))
		err = m.consume(ctx, w, name, trigger)
		_ = w.Close()
		if ctx.Err() != nil || !wait("config watcher died", err) {
			break
		}
	}
	return nil
}

// consume forwards relevant events to trigger until the watcher fails or ctx
// ends.
func (m *ConfigManager) consume(ctx context.Context, w *fsnotify.Watcher, name string, trigger func()) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("fsnotify events closed")
			}
			if ev.Op&watchedOps != 0 && strings.EqualFold(filepath.Base(ev.Name), name) {
				trigger()
			}
		case err, ok := <-w.Errors:
			switch {
			case !ok:
				return errors.New("fsnotify errors closed")
			case err == nil:
			case errors.Is(err, fsnotify.ErrEventOverflow):
				m.log.Warn("config watch overflow; reloading", logx.Err(err))
				trigger()
			default:
				m.log.Warn("config watch error", logx.Err(err))
			}
		}
	}
}

// debouncer returns a trigger that runs fn once a quiet period of d has
// passed since the last call, and a stop func that cancels any pending run.
func debouncer(d time.Duration, fn func()) (trigger, stop func()) {
	var (
		mu sync.Mutex
		t  *time.Timer
	)
	trigger = func() {
		mu.Lock()
		defer mu.Unlock()
		if t != nil {
			t.Stop()
		}
		t = time.AfterFunc(d, fn)
	}
	stop = func() {
		mu.Lock()
		defer mu.Unlock()
		if t != nil {
			t.Stop()
		}
	}
	return trigger, stop
}
