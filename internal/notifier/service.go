package notifier

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"medtrack/internal/eventbus"
	logx "medtrack/pkg/logx"
)

const (
	channelEmail    = "email"
	channelTelegram = "telegram"
	channelLog      = "log"
)

// Router is the Sender used by the dispatcher. It chooses a channel from the
// target, throttles through a shared token bucket and reports every attempt
// on the bus.
//
// It is safe for concurrent use; Apply may swap channels at runtime.
type Router struct {
	mu sync.RWMutex

	log logx.Logger
	bus eventbus.Bus
	loc *time.Location

	cfg      Config
	limiter  *rate.Limiter
	channels map[string]Sender
}

// NewRouter builds channels from cfg. Channel construction errors are
// returned; a router with no enabled channel rejects every send with
// ErrDisabled unless DryRun is set.
func NewRouter(cfg Config, loc *time.Location, log logx.Logger, bus eventbus.Bus) (*Router, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{log: log, bus: bus, loc: loc}
	if err := r.Apply(cfg); err != nil {
		return nil, err
	}
	return r, nil
}

// Apply rebuilds channels and the rate limiter. On error the previous
// channels stay in place.
func (r *Router) Apply(cfg Config) error {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	if cfg.LowStockThreshold <= 0 {
		cfg.LowStockThreshold = DefaultLowStockThreshold
	}

	channels := map[string]Sender{}
	if cfg.DryRun {
		channels[channelLog] = &LogSender{log: r.log.With(logx.String("channel", channelLog)), loc: r.loc, lowStock: cfg.LowStockThreshold}
	} else {
		if cfg.Email.Enabled {
			es, err := NewEmailSender(cfg.Email, r.loc, cfg.LowStockThreshold)
			if err != nil {
				return fmt.Errorf("email channel: %w", err)
			}
			channels[channelEmail] = es
		}
		if cfg.Telegram.Enabled {
			ts, err := NewTelegramSender(cfg.Telegram, r.loc, cfg.LowStockThreshold)
			if err != nil {
				return fmt.Errorf("telegram channel: %w", err)
			}
			channels[channelTelegram] = ts
		}
	}

	r.mu.Lock()
	r.cfg = cfg
	// Burst = rate per sec, so a handful of simultaneous doses go out at once.
	r.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	r.channels = channels
	r.mu.Unlock()

	names := make([]string, 0, len(channels))
	for k := range channels {
		names = append(names, k)
	}
	r.log.Debug("channels applied", logx.Any("channels", names), logx.Int("rate_per_sec", cfg.RatePerSec))
	return nil
}

// Use registers a channel by name. Tests and embedders use it to plug in
// their own transports.
func (r *Router) Use(channel string, s Sender) {
	r.mu.Lock()
	if r.channels == nil {
		r.channels = map[string]Sender{}
	}
	r.channels[channel] = s
	r.mu.Unlock()
}

// Channels reports the names of the enabled channels.
func (r *Router) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.channels))
	for k := range r.channels {
		out = append(out, k)
	}
	return out
}

func (r *Router) Send(ctx context.Context, target string, rem Reminder) error {
	r.mu.RLock()
	lim := r.limiter
	channel, s := r.pickLocked(target)
	r.mu.RUnlock()

	if s == nil {
		if channel == "" {
			return fmt.Errorf("%w: %q", ErrUnsupportedTarget, target)
		}
		return fmt.Errorf("%w: channel %s not enabled", ErrDisabled, channel)
	}

	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
	}

	err := s.Send(ctx, target, rem)
	ev := DeliveryEvent{
		Channel:      channel,
		MedicationID: rem.Medication.ID,
		Target:       target,
		At:           time.Now(),
		Test:         rem.Test,
	}
	kind := EventSent
	if err != nil {
		ev.Error = err.Error()
		kind = EventFailed
	}
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: kind, Data: ev})
	}
	return err
}

// pickLocked resolves the channel for target. A dry-run router sends
// everything to the log channel.
func (r *Router) pickLocked(target string) (string, Sender) {
	if s, ok := r.channels[channelLog]; ok {
		return channelLog, s
	}
	channel := channelFor(target)
	return channel, r.channels[channel]
}

func channelFor(target string) string {
	t := strings.ToLower(strings.TrimSpace(target))
	switch {
	case strings.HasPrefix(t, telegramPrefix):
		return channelTelegram
	case strings.Contains(t, "@"):
		return channelEmail
	default:
		return ""
	}
}

// LogSender writes reminders to the log instead of delivering them.
type LogSender struct {
	log      logx.Logger
	loc      *time.Location
	lowStock int
}

func NewLogSender(log logx.Logger) *LogSender {
	return &LogSender{log: log, lowStock: DefaultLowStockThreshold}
}

func (s *LogSender) Send(ctx context.Context, target string, r Reminder) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := Render(r, s.loc, s.lowStock)
	if err != nil {
		return err
	}
	s.log.Info("reminder (dry run)",
		logx.String("target", target),
		logx.String("subject", msg.Subject),
		logx.MedicationID(r.Medication.ID),
		logx.Int("quantity_left", r.Medication.QuantityLeft),
		logx.Bool("test", r.Test),
	)
	return nil
}
