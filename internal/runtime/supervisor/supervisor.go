// Package supervisor runs the process's long-lived goroutines with panic
// recovery, optional restart and per-name stats for health output.
package supervisor

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	logx "medtrack/pkg/logx"
)

// Supervisor owns a context shared by every goroutine it starts.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log         logx.Logger
	cancelOnErr bool

	wg      sync.WaitGroup
	running atomic.Int64
	first   atomic.Pointer[error]
	waited  sync.Once
	done    chan struct{}

	mu    sync.Mutex
	stats map[string]*RoutineStats
}

// RoutineStats is aggregated by goroutine name.
type RoutineStats struct {
	Name      string    `json:"name"`
	Active    int       `json:"active"`
	Starts    uint64    `json:"starts"`
	Restarts  uint64    `json:"restarts"`
	Panics    uint64    `json:"panics"`
	LastStart time.Time `json:"last_start"`
	LastStop  time.Time `json:"last_stop,omitempty"`
	LastErr   string    `json:"last_err,omitempty"`
	LastErrAt time.Time `json:"last_err_at,omitempty"`
	LastPanic string    `json:"last_panic,omitempty"`
}

// Snapshot is a point-in-time view, routines sorted by name.
type Snapshot struct {
	Active     int64          `json:"active"`
	FirstError string         `json:"first_error,omitempty"`
	Routines   []RoutineStats `json:"routines"`
}

func NewSupervisor(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		stats:  make(map[string]*RoutineStats),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the shared context and returns immediately.
func (s *Supervisor) Cancel() { s.cancel() }

// Err is the first error recorded, if any.
func (s *Supervisor) Err() error {
	if p := s.first.Load(); p != nil {
		return *p
	}
	return nil
}

func (s *Supervisor) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	out := Snapshot{Active: s.running.Load()}
	if err := s.Err(); err != nil {
		out.FirstError = err.Error()
	}
	s.mu.Lock()
	out.Routines = make([]RoutineStats, 0, len(s.stats))
	for _, st := range s.stats {
		out.Routines = append(out.Routines, *st)
	}
	s.mu.Unlock()
	slices.SortFunc(out.Routines, func(a, b RoutineStats) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

func (s *Supervisor) update(name string, fn func(*RoutineStats)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stats[name]
	if !ok {
		st = &RoutineStats{Name: name}
		s.stats[name] = st
	}
	fn(st)
}

// record keeps err if it is the first one and cancels when configured to.
func (s *Supervisor) record(err error) {
	if err == nil {
		return
	}
	s.first.CompareAndSwap(nil, &err)
	if s.cancelOnErr {
		s.cancel()
	}
}

// call runs fn once on the shared context, converting a panic into an error.
func (s *Supervisor) call(name string, restart bool, fn func(ctx context.Context) error) (err error) {
	s.update(name, func(st *RoutineStats) {
		st.Active++
		st.Starts++
		if restart {
			st.Restarts++
		}
		st.LastStart = time.Now()
	})
	defer func() {
		r := recover()
		if r != nil {
			err = fmt.Errorf("panic in %s: %v", name, r)
			s.log.Error("goroutine panicked", logx.String("name", name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
		s.update(name, func(st *RoutineStats) {
			st.Active--
			st.LastStop = time.Now()
			if r != nil {
				st.Panics++
				st.LastPanic = fmt.Sprint(r)
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				st.LastErr, st.LastErrAt = err.Error(), st.LastStop
			}
		})
	}()
	return fn(s.ctx)
}

// Go runs fn once. An error other than context.Canceled, or a panic, is
// recorded as the supervisor error.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.wg.Add(1)
	s.running.Add(1)
	go func() {
		defer func() {
			s.running.Add(-1)
			s.wg.Done()
		}()
		s.log.Debug("goroutine started", logx.String("name", name))
		if err := s.call(name, false, fn); err != nil && !errors.Is(err, context.Canceled) {
			s.record(fmt.Errorf("%s: %w", name, err))
		}
		s.log.Debug("goroutine stopped", logx.String("name", name))
	}()
}

// Stop cancels the context and waits for every goroutine.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until every goroutine has returned or ctx ends.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.waited.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.done)
		}()
	})
	select {
	case <-s.done:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
