package reminder

import (
	"time"

	"medtrack/internal/medication"
)

// Decision is the outcome of one gate evaluation.
type Decision int

const (
	NotDue Decision = iota
	SuppressedDuplicate
	SuppressedNoSupply
	Due
)

func (d Decision) String() string {
	switch d {
	case NotDue:
		return "not_due"
	case SuppressedDuplicate:
		return "suppressed_duplicate"
	case SuppressedNoSupply:
		return "suppressed_no_supply"
	case Due:
		return "due"
	default:
		return "unknown"
	}
}

const (
	DefaultDueWindow = 5 * time.Minute
	DefaultDedupGap  = 3 * time.Minute
)

// Gate decides whether a reminder is due right now.
// The zero value uses DefaultDueWindow and DefaultDedupGap.
type Gate struct {
	DueWindow time.Duration
	DedupGap  time.Duration

	// OnePerOccurrence also suppresses a send when the last one already
	// falls inside the current occurrence's window. Without it a send at
	// phase 0 can repeat at phase 4 because the gap rule alone allows it.
	OnePerOccurrence bool
}

// Input is everything the gate looks at. A zero LastSentAt means never sent.
type Input struct {
	Start        time.Time
	Interval     time.Duration
	Now          time.Time
	LastSentAt   time.Time
	QuantityLeft int
}

// Verdict carries the decision plus the numbers it was based on.
type Verdict struct {
	Decision Decision
	Reason   string
	Phase    time.Duration
	MinGap   time.Duration
	// SinceLast is negative when nothing was sent before.
	SinceLast time.Duration
}

// InputFor builds a gate input from a stored medication. The caller must
// have checked Schedulable.
func InputFor(m medication.Medication, now time.Time) Input {
	in := Input{
		Interval:     m.Interval(),
		Now:          now,
		QuantityLeft: m.QuantityLeft,
	}
	if m.StartAt != nil {
		in.Start = *m.StartAt
	}
	if m.LastNotificationSentAt != nil {
		in.LastSentAt = *m.LastNotificationSentAt
	}
	return in
}

// Evaluate applies the rules in order: not started, outside the due window,
// duplicate within the minimum gap, no supply, due.
func (g Gate) Evaluate(in Input) Verdict {
	window := g.DueWindow
	if window <= 0 {
		window = DefaultDueWindow
	}
	gap := g.DedupGap
	if gap <= 0 {
		gap = DefaultDedupGap
	}

	v := Verdict{SinceLast: -1}
	if !in.Now.After(in.Start) {
		v.Decision, v.Reason = NotDue, "not started"
		return v
	}

	phase, _ := medication.PhaseOffset(in.Start, in.Interval, in.Now)
	v.Phase = phase
	if phase >= window {
		v.Decision, v.Reason = NotDue, "outside window"
		return v
	}

	minGap := in.Interval / 2
	if minGap > gap {
		minGap = gap
	}
	v.MinGap = minGap
	if !in.LastSentAt.IsZero() {
		v.SinceLast = in.Now.Sub(in.LastSentAt)
		if v.SinceLast <= minGap {
			v.Decision, v.Reason = SuppressedDuplicate, "sent recently"
			return v
		}
		if g.OnePerOccurrence && !in.LastSentAt.Before(in.Now.Add(-phase)) {
			v.Decision, v.Reason = SuppressedDuplicate, "occurrence already notified"
			return v
		}
	}

	if in.QuantityLeft <= 0 {
		v.Decision, v.Reason = SuppressedNoSupply, "needs refill"
		return v
	}

	v.Decision, v.Reason = Due, "due"
	return v
}
