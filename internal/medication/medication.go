package medication

import "time"

// Medication is one tracked prescription and its reminder state.
type Medication struct {
	ID        string
	Name      string
	Dosage    string
	Notes     string
	Frequency string

	// StartAt anchors the dose grid. Nil means the medication is never scheduled.
	StartAt *time.Time

	// Email is the delivery target. Empty means excluded from dispatch.
	Email string

	Quantity     *int
	QuantityLeft int

	// LastNotificationSentAt is written only by the reminder dispatcher.
	LastNotificationSentAt *time.Time

	TakenToday  bool
	LastTakenAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Schedulable reports whether the medication carries everything the
// dispatcher needs: a start instant, a frequency and a delivery target.
func (m Medication) Schedulable() bool {
	return m.StartAt != nil && m.Frequency != "" && m.Email != ""
}

// Interval resolves the medication's frequency text.
func (m Medication) Interval() time.Duration {
	return ResolveInterval(m.Frequency)
}

// NeedsRefill reports an exhausted supply.
func (m Medication) NeedsRefill() bool { return m.QuantityLeft <= 0 }

// InitialQuantityLeft is the supply a new record starts with: left when the
// caller gave one (zero included), otherwise the prescribed quantity.
func InitialQuantityLeft(left, quantity *int) int {
	switch {
	case left != nil:
		return *left
	case quantity != nil:
		return *quantity
	}
	return 0
}

// Clone returns a deep copy so callers can hand out snapshots freely.
func (m Medication) Clone() Medication {
	cp := m
	cp.StartAt = cloneTime(m.StartAt)
	cp.LastNotificationSentAt = cloneTime(m.LastNotificationSentAt)
	cp.LastTakenAt = cloneTime(m.LastTakenAt)
	if m.Quantity != nil {
		q := *m.Quantity
		cp.Quantity = &q
	}
	return cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// TimePtr is a small helper for building medications in code and tests.
func TimePtr(t time.Time) *time.Time { return &t }

// IntPtr is the int counterpart of TimePtr.
func IntPtr(v int) *int { return &v }
