// Package dispatch drains the delivery queue and sends notifications to
// Telegram. Deliveries are processed one at a time; transient send failures
// are rescheduled with exponential backoff, permanent Bot API errors (bot
// blocked, unknown chat) fail the delivery immediately.
package dispatch
