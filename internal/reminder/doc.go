// Package reminder decides when medication reminders go out.
//
// The Gate is a pure function over (start, interval, now, last sent,
// supply). The Dispatcher drives it from an owned cron trigger:
//
//   - one tick at a time; an overlapping tick is skipped
//   - a reminder is sent with the post-dose quantity, and the dose is
//     committed with a compare-and-set on quantity_left only after the
//     sender confirmed delivery
//   - a failed send leaves the record untouched, so the next tick inside
//     the due window retries it
package reminder
