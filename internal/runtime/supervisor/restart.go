package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	logx "medtrack/pkg/logx"
)

// GoRestart runs fn until it returns nil or the context ends. Errors and
// panics trigger a restart after a jittered exponential backoff.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	p := defaultRestartPolicy()
	for _, opt := range opts {
		opt(&p)
	}
	p.max = max(p.max, p.min)

	s.Go(name+".restart", func(ctx context.Context) error {
		delay := p.min
		for n := 0; ; n++ {
			began := time.Now()
			err := s.call(name, n > 0, fn)
			if err == nil || errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			err = fmt.Errorf("%s: %w", name, err)
			if p.publish {
				s.first.CompareAndSwap(nil, &err)
			}
			if p.maxRestarts > 0 && n >= p.maxRestarts {
				s.log.Error("goroutine gave up", logx.String("name", name), logx.Int("restarts", n), logx.Err(err))
				return err
			}

			if time.Since(began) >= p.healthyRun {
				delay = p.min
			}
			wait := delay + rand.N(delay/5+1)
			s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("backoff", wait), logx.Err(err))
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil
			case <-t.C:
			}
			delay = min(delay*2, p.max)
		}
	})
}
