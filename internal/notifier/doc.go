// Package notifier delivers medication reminders.
//
// A Router picks a channel from the target string: "telegram:<chat_id>"
// goes to Telegram, anything that looks like an address goes to email.
// All channels share one token bucket so a burst of due medications cannot
// flood the SMTP relay or the Bot API.
//
// Senders never retry. The reminder dispatcher retries naturally on the next
// tick while the dose is still inside its due window.
package notifier
