package supervisor

import (
	"time"

	logx "medtrack/pkg/logx"
)

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError cancels the shared context on the first recorded error.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

// RestartOption configures GoRestart.
type RestartOption func(*restartPolicy)

type restartPolicy struct {
	min, max    time.Duration
	maxRestarts int
	publish     bool
	// healthyRun resets the backoff when a run lasted at least this long.
	healthyRun time.Duration
}

func defaultRestartPolicy() restartPolicy {
	return restartPolicy{min: 250 * time.Millisecond, max: 30 * time.Second, healthyRun: 30 * time.Second}
}

// WithRestartBackoff bounds the exponential delay between runs.
func WithRestartBackoff(min, max time.Duration) RestartOption {
	return func(p *restartPolicy) {
		if min > 0 {
			p.min = min
		}
		if max > 0 {
			p.max = max
		}
	}
}

// WithMaxRestarts gives up after n restarts. Zero restarts forever.
func WithMaxRestarts(n int) RestartOption {
	return func(p *restartPolicy) { p.maxRestarts = n }
}

// WithPublishFirstError records the first failed run as the supervisor
// error even though the loop keeps going.
func WithPublishFirstError(enabled bool) RestartOption {
	return func(p *restartPolicy) { p.publish = enabled }
}
