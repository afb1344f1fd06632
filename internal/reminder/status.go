package reminder

import (
	"time"

	"medtrack/internal/medication"
)

// PreviewNextDoses lists upcoming dose instants. A medication without a
// start or frequency has no schedule and yields an empty list.
func PreviewNextDoses(m medication.Medication, now time.Time, count int) []time.Time {
	if m.StartAt == nil || m.Frequency == "" {
		return []time.Time{}
	}
	return medication.NextDoses(*m.StartAt, m.Interval(), now, count)
}

// Status is the read-only reminder view of one medication.
type Status struct {
	MedicationID   string      `json:"medication_id"`
	Frequency      string      `json:"frequency"`
	FrequencyKind  string      `json:"frequency_kind"`
	IntervalHours  float64     `json:"interval_hours"`
	NextDoses      []time.Time `json:"next_doses"`
	LastNotifiedAt *time.Time  `json:"last_notification_sent"`
	// MinutesSinceLastNotification is nil when nothing was ever sent.
	MinutesSinceLastNotification *int64 `json:"minutes_since_last_notification"`
	QuantityLeft                 int    `json:"quantity_left"`
	NeedsRefill                  bool   `json:"needs_refill"`
	Schedulable                  bool   `json:"schedulable"`
}

// NotificationStatus computes the status at now. It never mutates anything.
func NotificationStatus(m medication.Medication, now time.Time) Status {
	kind := medication.ParseFrequency(m.Frequency)
	st := Status{
		MedicationID:   m.ID,
		Frequency:      m.Frequency,
		FrequencyKind:  kind.String(),
		IntervalHours:  kind.Interval().Hours(),
		NextDoses:      PreviewNextDoses(m, now, medication.DefaultPreviewCount),
		LastNotifiedAt: m.LastNotificationSentAt,
		QuantityLeft:   m.QuantityLeft,
		NeedsRefill:    m.NeedsRefill(),
		Schedulable:    m.Schedulable(),
	}
	if m.LastNotificationSentAt != nil {
		mins := int64(now.Sub(*m.LastNotificationSentAt) / time.Minute)
		st.MinutesSinceLastNotification = &mins
	}
	return st
}
