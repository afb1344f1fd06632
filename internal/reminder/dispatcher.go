package reminder

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"medtrack/internal/eventbus"
	"medtrack/internal/medication"
	"medtrack/internal/notifier"
	logx "medtrack/pkg/logx"
)

// Dispatcher runs the reminder loop: on every tick it evaluates each
// schedulable medication, sends due reminders and commits the dose only
// after the sender confirmed delivery.
//
// The dispatcher owns its cron handle; nothing is registered globally.
type Dispatcher struct {
	mu sync.Mutex // guards the lifecycle fields below

	parent context.Context
	cancel context.CancelFunc
	c      *cron.Cron
	entry  cron.EntryID
	loc    *time.Location

	cfg atomic.Pointer[Config]

	log    logx.Logger
	bus    eventbus.Bus
	store  Store
	sender notifier.Sender
	clock  atomic.Pointer[func() time.Time]

	running  atomic.Bool
	ticks    atomic.Uint64
	overlaps atomic.Uint64

	smu      sync.Mutex
	last     TickReport
	lastErr  string
	lastFail time.Time
}

func New(cfg Config, store Store, sender notifier.Sender, log logx.Logger, bus eventbus.Bus) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{
		log:    log,
		bus:    bus,
		store:  store,
		sender: sender,
	}
	d.cfg.Store(&cfg)
	d.SetClock(time.Now)
	return d
}

// SetClock replaces the wall clock used by scheduled ticks and RunOnce.
// It is safe to call while the dispatcher runs.
func (d *Dispatcher) SetClock(now func() time.Time) {
	if now != nil {
		d.clock.Store(&now)
	}
}

func (d *Dispatcher) now() time.Time { return (*d.clock.Load())() }

func (d *Dispatcher) config() Config {
	return d.cfg.Load().withDefaults()
}

// Enabled reports the current config flag.
func (d *Dispatcher) Enabled() bool { return d.cfg.Load().Enabled }

// Active reports whether the cron trigger is running.
func (d *Dispatcher) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.c != nil
}

// Start begins triggering ticks. It is idempotent. A disabled dispatcher
// remembers ctx so a later Apply can enable it.
func (d *Dispatcher) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.parent = ctx
	if d.c != nil {
		return nil
	}
	cur := d.cfg.Load()
	if !cur.Enabled {
		d.log.Info("dispatcher disabled")
		return nil
	}
	return d.startLocked(*cur)
}

// trigger is a registered but not yet started cron schedule.
type trigger struct {
	c      *cron.Cron
	entry  cron.EntryID
	loc    *time.Location
	cancel context.CancelFunc
	spec   string
}

// newTriggerLocked does every fallible step of starting a schedule for cfg
// without touching the running one.
func (d *Dispatcher) newTriggerLocked(cfg Config) (trigger, error) {
	if d.store == nil || d.sender == nil {
		return trigger{}, ErrNotConfigured
	}
	spec, err := ParseTick(cfg.Tick)
	if err != nil {
		return trigger{}, err
	}

	loc := d.loadLocation(cfg.Timezone)
	c := cron.New(
		cron.WithParser(tickParser),
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLogger{d.log}), cron.SkipIfStillRunning(cronLogger{d.log})),
	)

	runCtx, cancel := context.WithCancel(d.parent)
	entry, err := c.AddFunc(spec, func() { d.runScheduled(runCtx) })
	if err != nil {
		cancel()
		return trigger{}, fmt.Errorf("register tick %q: %w", spec, err)
	}
	return trigger{c: c, entry: entry, loc: loc, cancel: cancel, spec: spec}, nil
}

func (d *Dispatcher) installLocked(t trigger, cfg Config) {
	t.c.Start()
	d.c, d.entry, d.loc, d.cancel = t.c, t.entry, t.loc, t.cancel
	d.log.Info("dispatcher started",
		logx.String("tick", t.spec),
		logx.String("tz", t.loc.String()),
		logx.Duration("due_window", cfg.withDefaults().DueWindow),
		logx.Int("workers", cfg.withDefaults().Workers),
	)
}

func (d *Dispatcher) startLocked(cfg Config) error {
	t, err := d.newTriggerLocked(cfg)
	if err != nil {
		return err
	}
	d.installLocked(t, cfg)
	return nil
}

// Stop halts triggering, cancels in-flight sends and waits for a running
// tick to finish or ctx to expire.
func (d *Dispatcher) Stop(ctx context.Context) {
	start := time.Now()
	d.mu.Lock()
	c, cancel := d.c, d.cancel
	d.c, d.cancel = nil, nil
	d.mu.Unlock()

	if c == nil {
		return
	}
	if cancel != nil {
		cancel()
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	d.log.Info("dispatcher stopped", logx.Duration("took", time.Since(start)))
}

// Apply swaps the config. Tick, timezone and enable changes restart the
// trigger; window and timeout changes take effect on the next tick. On
// error the previous config and trigger stay in place.
func (d *Dispatcher) Apply(cfg Config) error {
	old := d.cfg.Swap(&cfg)

	d.mu.Lock()
	running := d.c != nil
	hasParent := d.parent != nil
	d.mu.Unlock()

	switch {
	case !cfg.Enabled && running:
		d.Stop(context.Background())
		return nil
	case cfg.Enabled && !running && hasParent:
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.c != nil {
			return nil
		}
		if err := d.startLocked(cfg); err != nil {
			d.cfg.Store(old)
			return err
		}
		return nil
	case running && (strings.TrimSpace(old.Tick) != strings.TrimSpace(cfg.Tick) ||
		strings.TrimSpace(old.Timezone) != strings.TrimSpace(cfg.Timezone)):
		return d.restart(cfg, old)
	}
	return nil
}

// restart registers the new trigger before retiring the old one, so a
// failure leaves the running schedule untouched.
func (d *Dispatcher) restart(cfg Config, old *Config) error {
	d.mu.Lock()
	t, err := d.newTriggerLocked(cfg)
	if err != nil {
		d.mu.Unlock()
		d.cfg.Store(old)
		return err
	}
	prev, prevCancel := d.c, d.cancel
	d.installLocked(t, cfg)
	d.mu.Unlock()

	if prevCancel != nil {
		prevCancel()
	}
	if prev != nil {
		<-prev.Stop().Done()
	}
	return nil
}

func (d *Dispatcher) loadLocation(tz string) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		d.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func (d *Dispatcher) runScheduled(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	rep, err := d.Tick(ctx, d.now())
	if err != nil {
		return
	}
	if rep.Due > 0 || rep.Errors > 0 {
		d.log.Info("tick done",
			logx.Int("evaluated", rep.Evaluated),
			logx.Int("due", rep.Due),
			logx.Int("committed", rep.Committed),
			logx.Int("send_failed", rep.SendFailed),
			logx.Int("conflicts", rep.Conflicts),
			logx.Duration("took", rep.Took),
		)
	} else {
		d.log.Debug("tick done", logx.Int("evaluated", rep.Evaluated), logx.Duration("took", rep.Took))
	}
}

// RunOnce evaluates all medications now, outside the cron schedule.
func (d *Dispatcher) RunOnce(ctx context.Context) (TickReport, error) {
	return d.Tick(ctx, d.now())
}

// Tick performs one evaluation pass at instant now. Concurrent calls are
// rejected with ErrTickInProgress. A failed list aborts the pass; per
// medication failures are counted and never abort it.
func (d *Dispatcher) Tick(ctx context.Context, now time.Time) (TickReport, error) {
	if d.store == nil || d.sender == nil {
		return TickReport{}, ErrNotConfigured
	}
	if !d.running.CompareAndSwap(false, true) {
		d.overlaps.Add(1)
		d.log.Warn("tick skipped; previous tick still running", logx.Time("now", now))
		d.publish(EventTickSkipped, now)
		return TickReport{}, ErrTickInProgress
	}
	defer d.running.Store(false)

	started := time.Now()
	cfg := d.config()
	rep := TickReport{At: now}

	meds, err := d.store.ListSchedulable(ctx)
	if err != nil {
		err = fmt.Errorf("list medications: %w", err)
		d.log.Error("tick aborted", logx.Err(err))
		d.noteFailure(err, now)
		d.publish(EventTickFailed, err.Error())
		return rep, err
	}

	gate := Gate{DueWindow: cfg.DueWindow, DedupGap: cfg.DedupGap, OnePerOccurrence: cfg.OnePerOccurrence}
	var mu sync.Mutex
	record := func(o outcome) {
		mu.Lock()
		rep.add(o)
		mu.Unlock()
	}

	if cfg.Workers <= 1 || len(meds) <= 1 {
		for _, m := range meds {
			record(d.process(ctx, cfg, gate, m, now))
		}
	} else {
		sem := make(chan struct{}, cfg.Workers)
		var wg sync.WaitGroup
		for _, m := range meds {
			sem <- struct{}{}
			wg.Add(1)
			go func(m medication.Medication) {
				defer wg.Done()
				defer func() { <-sem }()
				record(d.process(ctx, cfg, gate, m, now))
			}(m)
		}
		wg.Wait()
	}

	rep.Took = time.Since(started)
	d.ticks.Add(1)
	d.smu.Lock()
	d.last = rep
	d.smu.Unlock()
	return rep, nil
}

type outcome int

const (
	outSkipped outcome = iota
	outNotDue
	outDuplicate
	outNeedsRefill
	outCommitted
	outSendFailed
	outConflict
	outError
)

func (r *TickReport) add(o outcome) {
	r.Evaluated++
	switch o {
	case outSkipped:
		r.Skipped++
	case outNotDue:
		r.NotDue++
	case outDuplicate:
		r.Duplicates++
	case outNeedsRefill:
		r.NeedsRefill++
	case outCommitted:
		r.Due++
		r.Committed++
	case outSendFailed:
		r.Due++
		r.SendFailed++
	case outConflict:
		r.Due++
		r.Conflicts++
	case outError:
		r.Errors++
	}
}

// process evaluates one medication. Panics are contained here so one bad
// record cannot take down the tick.
func (d *Dispatcher) process(ctx context.Context, cfg Config, gate Gate, m medication.Medication, now time.Time) (out outcome) {
	log := d.log.With(logx.MedicationID(m.ID))
	defer func() {
		if r := recover(); r != nil {
			log.Error("medication evaluation panicked", logx.Any("panic", r), logx.Stack(logx.StackTrace(3, 16)))
			out = outError
		}
	}()

	if !m.Schedulable() {
		log.Debug("medication not schedulable")
		return outSkipped
	}

	v := gate.Evaluate(InputFor(m, now))
	switch v.Decision {
	case NotDue:
		return outNotDue
	case SuppressedDuplicate:
		log.Debug("reminder suppressed", logx.String("reason", v.Reason), logx.Duration("since_last", v.SinceLast))
		return outDuplicate
	case SuppressedNoSupply:
		log.Info("medication needs refill", logx.String("name", m.Name))
		d.publishDose(EventDoseNeedsRefill, m, now, v, m.QuantityLeft, nil)
		return outNeedsRefill
	}

	// Due: send with the prospective quantity, commit only on success.
	next := m.QuantityLeft - 1
	snap := m.Clone()
	snap.QuantityLeft = next
	rem := notifier.Reminder{Medication: snap, DueAt: now.Add(-v.Phase), SentAt: now}

	sendCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	err := d.sender.Send(sendCtx, m.Email, rem)
	cancel()
	if err != nil {
		log.Warn("reminder send failed", logx.Err(err), logx.Duration("phase", v.Phase))
		d.publishDose(EventDoseSendFailed, m, now, v, m.QuantityLeft, err)
		return outSendFailed
	}

	// The reminder is out; finish the commit even if shutdown was requested.
	commitCtx, cancelCommit := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	ok, err := d.store.CommitDose(commitCtx, m.ID, m.QuantityLeft, next, now)
	cancelCommit()
	if err != nil {
		log.Error("dose commit failed", logx.Err(err))
		d.publishDose(EventDoseCommitFailed, m, now, v, m.QuantityLeft, err)
		return outError
	}
	if !ok {
		log.Info("dose commit conflict; record changed during send", logx.Int("expected_quantity", m.QuantityLeft))
		d.publishDose(EventDoseConflict, m, now, v, m.QuantityLeft, nil)
		return outConflict
	}

	log.Info("reminder sent", logx.String("name", m.Name), logx.Int("quantity_left", next), logx.Duration("phase", v.Phase))
	d.publishDose(EventDoseCommitted, m, now, v, next, nil)
	return outCommitted
}

func (d *Dispatcher) publishDose(typ string, m medication.Medication, now time.Time, v Verdict, qty int, err error) {
	ev := DoseEvent{
		MedicationID: m.ID,
		Name:         m.Name,
		Outcome:      strings.TrimPrefix(typ, "dose."),
		DueAt:        now.Add(-v.Phase),
		At:           now,
		QuantityLeft: qty,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	d.publish(typ, ev)
}

func (d *Dispatcher) publish(typ string, data any) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(eventbus.Event{Type: typ, Data: data})
}

func (d *Dispatcher) noteFailure(err error, at time.Time) {
	d.smu.Lock()
	d.lastErr = err.Error()
	d.lastFail = at
	d.smu.Unlock()
}

// Snapshot returns a diagnostic view.
func (d *Dispatcher) Snapshot() Snapshot {
	cfg := d.cfg.Load()
	snap := Snapshot{
		Enabled:  cfg.Enabled,
		Tick:     cfg.Tick,
		Timezone: cfg.Timezone,
		Ticks:    d.ticks.Load(),
		Overlaps: d.overlaps.Load(),
	}
	if snap.Tick == "" {
		snap.Tick = DefaultTick
	}

	d.mu.Lock()
	if d.c != nil {
		snap.Active = true
		snap.Next = d.c.Entry(d.entry).Next
	}
	d.mu.Unlock()

	d.smu.Lock()
	snap.LastTick = d.last
	snap.LastError = d.lastErr
	snap.LastFailAt = d.lastFail
	d.smu.Unlock()
	return snap
}

// cronLogger routes robfig/cron's own logging into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
