package storage

import (
	"context"
	"errors"
	"time"

	"medtrack/internal/medication"
)

var (
	ErrDisabled      = errors.New("storage disabled")
	ErrNotFound      = errors.New("medication not found")
	ErrInvalidCommit = errors.New("invalid dose commit")
	ErrInvalid       = errors.New("invalid medication")
)

// Config configures storage.
//
// Driver values:
//   - "memory": in-process map, nothing survives a restart
//   - "file": memory plus a JSON snapshot and a JSONL dose journal
//   - "sqlite": SQLite database file (modernc, no cgo)
//   - "postgres": PostgreSQL through pgx
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API shared by the dispatcher, the HTTP surface
// and the CLI.
type Store interface {
	List(ctx context.Context) ([]medication.Medication, error)
	// ListSchedulable returns medications with a start, a frequency and an
	// email, ordered by id.
	ListSchedulable(ctx context.Context) ([]medication.Medication, error)
	Get(ctx context.Context, id string) (medication.Medication, error)
	// Create stores m. An empty ID gets a fresh one. QuantityLeft is stored
	// as given; see medication.InitialQuantityLeft for the create default.
	Create(ctx context.Context, m medication.Medication) (medication.Medication, error)
	// Update replaces the editable fields of id in one write. Scheduler
	// state and intake flags are kept.
	Update(ctx context.Context, id string, e Edit) (medication.Medication, error)
	// SetQuantityLeft overwrites quantity_left (a refill) in one write. A
	// CommitDose still keyed on the previous value loses.
	SetQuantityLeft(ctx context.Context, id string, n int) (medication.Medication, error)
	Delete(ctx context.Context, id string) error

	// CommitDose sets quantity_left to next and last_notification_sent to
	// sentAt in one step, only while quantity_left still equals expected.
	// It returns false when the row changed or vanished.
	CommitDose(ctx context.Context, id string, expected, next int, sentAt time.Time) (bool, error)

	// MarkTaken records a manual intake. Taking a dose decrements
	// quantity_left, floored at zero. It never touches
	// last_notification_sent.
	MarkTaken(ctx context.Context, id string, taken bool, at time.Time) (medication.Medication, error)

	AppendDoseLog(ctx context.Context, e DoseLogEntry) error
	// RecentDoseLog returns up to limit entries for id, newest first.
	RecentDoseLog(ctx context.Context, id string, limit int) ([]DoseLogEntry, error)

	Ping(ctx context.Context) error
	Close() error
}

// Edit is the user-editable part of a medication. A nil QuantityLeft keeps
// the stored supply so an edit cannot undo a concurrent dose commit.
type Edit struct {
	Name         string
	Dosage       string
	Frequency    string
	StartAt      *time.Time
	Email        string
	Quantity     *int
	QuantityLeft *int
	Notes        string
}

func (e Edit) validate() error {
	if e.Name == "" {
		return errors.Join(ErrInvalid, errors.New("name is required"))
	}
	if (e.QuantityLeft != nil && *e.QuantityLeft < 0) || (e.Quantity != nil && *e.Quantity < 0) {
		return errors.Join(ErrInvalid, errors.New("quantity must not be negative"))
	}
	return nil
}

func (e Edit) apply(m medication.Medication) medication.Medication {
	m.Name, m.Dosage, m.Frequency, m.Email, m.Notes = e.Name, e.Dosage, e.Frequency, e.Email, e.Notes
	m.StartAt = nil
	if e.StartAt != nil {
		m.StartAt = medication.TimePtr(*e.StartAt)
	}
	m.Quantity = nil
	if e.Quantity != nil {
		m.Quantity = medication.IntPtr(*e.Quantity)
	}
	if e.QuantityLeft != nil {
		m.QuantityLeft = *e.QuantityLeft
	}
	return m
}

func validateQuantityLeft(n int) error {
	if n < 0 {
		return errors.Join(ErrInvalid, errors.New("quantity_left must not be negative"))
	}
	return nil
}

// DoseLogEntry is one journal line about a reminder attempt.
type DoseLogEntry struct {
	MedicationID string    `json:"medication_id"`
	At           time.Time `json:"at"`
	Outcome      string    `json:"outcome"`
	QuantityLeft int       `json:"quantity_left"`
	Error        string    `json:"error,omitempty"`
}

func validateCommit(expected, next int) error {
	if next < 0 || next > expected {
		return ErrInvalidCommit
	}
	return nil
}

func validateNew(m medication.Medication) error {
	if m.Name == "" {
		return errors.Join(ErrInvalid, errors.New("name is required"))
	}
	if m.QuantityLeft < 0 || (m.Quantity != nil && *m.Quantity < 0) {
		return errors.Join(ErrInvalid, errors.New("quantity must not be negative"))
	}
	return nil
}

// prepareNew fills defaults shared by every backend.
func prepareNew(m medication.Medication, now time.Time, newID func() string) (medication.Medication, error) {
	if err := validateNew(m); err != nil {
		return medication.Medication{}, err
	}
	if m.ID == "" {
		m.ID = newID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	return m, nil
}
