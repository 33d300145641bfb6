// Package notifier is the asynchronous delivery pipeline in front of the
// Discord client.
//
// Notify validates the destination, applies the per-key cooldown and enqueues
// the message. It never performs network I/O, so chat-line processing and
// scheduler ticks are never held up by Discord.
//
// Workers drain the queue under a shared token-bucket limiter and make exactly
// one delivery attempt per notification. Outcomes are logged, kept in a small
// in-memory history, and published on the event bus. Cooldown state is memory
// only and resets on restart.
package notifier
