package notifier

import (
	"context"
	"errors"
	"time"

	"medtrack/internal/medication"
)

var (
	ErrDisabled          = errors.New("notifier disabled")
	ErrUnsupportedTarget = errors.New("unsupported delivery target")
)

// Reminder is the payload handed to a Sender. Medication.QuantityLeft is
// already the prospective value after this dose.
type Reminder struct {
	Medication medication.Medication
	DueAt      time.Time
	SentAt     time.Time
	// Test marks reminders sent on demand; they never touch inventory.
	Test bool
}

// Sender delivers one reminder. A nil error means the message was accepted
// by the transport. Implementations must honor ctx and must not retry.
type Sender interface {
	Send(ctx context.Context, target string, r Reminder) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, target string, r Reminder) error

func (f SenderFunc) Send(ctx context.Context, target string, r Reminder) error {
	return f(ctx, target, r)
}

// Config controls delivery channels and throttling.
type Config struct {
	// DryRun logs reminders instead of delivering them.
	DryRun     bool
	RatePerSec int

	// LowStockThreshold marks reminders whose remaining supply is at or below it.
	LowStockThreshold int

	Email    EmailConfig
	Telegram TelegramConfig
}

type EmailConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

type TelegramConfig struct {
	Enabled bool
	Token   string
	Timeout time.Duration
}

// DeliveryEvent is published on the event bus for every delivery attempt.
type DeliveryEvent struct {
	Channel      string    `json:"channel"`
	MedicationID string    `json:"medication_id"`
	Target       string    `json:"target"`
	At           time.Time `json:"at"`
	Test         bool      `json:"test,omitempty"`
	Error        string    `json:"error,omitempty"`
}

const (
	EventSent   = "notifier.sent"
	EventFailed = "notifier.failed"
)
