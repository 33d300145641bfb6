// Package scheduler is the trigger service behind the recurring jobs.
//
// It wraps robfig/cron in the configured time zone and exposes cron, interval,
// daily and one-shot triggers keyed by name. Registration is an upsert, so
// hot reloads can re-register without duplicating entries. Cron and interval
// jobs are chained with Recover and SkipIfStillRunning: a slow run swallows
// the ticks that land while it is still going rather than stacking up.
package scheduler
