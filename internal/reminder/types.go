package reminder

import (
	"context"
	"errors"
	"time"

	"medtrack/internal/medication"
)

var (
	ErrTickInProgress = errors.New("tick already in progress")
	ErrNotConfigured  = errors.New("dispatcher missing store or sender")
)

// Store is the slice of persistence the dispatcher needs.
type Store interface {
	// ListSchedulable returns medications with a start, a frequency and a
	// delivery target. Each id appears at most once.
	ListSchedulable(ctx context.Context) ([]medication.Medication, error)
	// CommitDose atomically sets quantity_left to next and records sentAt,
	// only if quantity_left still equals expected. False means nothing changed.
	CommitDose(ctx context.Context, id string, expected, next int, sentAt time.Time) (bool, error)
}

// Config controls the dispatch loop.
type Config struct {
	Enabled bool

	// Tick is a cron spec or duration; see ParseTick.
	Tick        string
	Timezone    string
	DueWindow   time.Duration
	DedupGap    time.Duration
	SendTimeout time.Duration

	// Workers bounds parallel sends within a tick. <= 1 means sequential.
	Workers int

	// OnePerOccurrence enables Gate.OnePerOccurrence.
	OnePerOccurrence bool
}

const (
	DefaultSendTimeout = 10 * time.Second
	commitTimeout      = 5 * time.Second
)

func (c Config) withDefaults() Config {
	if c.DueWindow <= 0 {
		c.DueWindow = DefaultDueWindow
	}
	if c.DedupGap <= 0 {
		c.DedupGap = DefaultDedupGap
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	return c
}

// TickReport summarizes one evaluation pass.
type TickReport struct {
	At          time.Time     `json:"at"`
	Took        time.Duration `json:"took"`
	Evaluated   int           `json:"evaluated"`
	Skipped     int           `json:"skipped"`
	NotDue      int           `json:"not_due"`
	Duplicates  int           `json:"duplicates"`
	NeedsRefill int           `json:"needs_refill"`
	Due         int           `json:"due"`
	Committed   int           `json:"committed"`
	SendFailed  int           `json:"send_failed"`
	Conflicts   int           `json:"conflicts"`
	Errors      int           `json:"errors"`
}

// Snapshot is a diagnostic view of the dispatcher.
type Snapshot struct {
	Enabled    bool       `json:"enabled"`
	Active     bool       `json:"active"`
	Tick       string     `json:"tick"`
	Timezone   string     `json:"timezone"`
	Ticks      uint64     `json:"ticks"`
	Overlaps   uint64     `json:"overlaps"`
	Next       time.Time  `json:"next,omitempty"`
	LastTick   TickReport `json:"last_tick"`
	LastError  string     `json:"last_error,omitempty"`
	LastFailAt time.Time  `json:"last_fail_at,omitempty"`
}

// Event types published by the dispatcher.
const (
	EventDoseCommitted    = "dose.committed"
	EventDoseSendFailed   = "dose.send_failed"
	EventDoseConflict     = "dose.commit_conflict"
	EventDoseCommitFailed = "dose.commit_failed"
	EventDoseNeedsRefill  = "dose.needs_refill"
	EventTickFailed       = "tick.failed"
	EventTickSkipped      = "tick.skipped"
)

// DoseEvent is the payload of dose.* events.
type DoseEvent struct {
	MedicationID string    `json:"medication_id"`
	Name         string    `json:"name"`
	Outcome      string    `json:"outcome"`
	DueAt        time.Time `json:"due_at"`
	At           time.Time `json:"at"`
	QuantityLeft int       `json:"quantity_left"`
	Error        string    `json:"error,omitempty"`
}
