// Package schedule holds the two tick-driven state machines behind the
// recurring jobs.
//
// Probe issues a status command on a fixed cadence, then waits a bounded
// settle delay for the reply. Predictor watches a fixed set of daily
// time-of-day slots and reports each concrete occurrence once, lead time
// before it starts.
//
// Neither type owns a timer. Callers feed them the current time, which keeps
// them deterministic under test and lets one trigger service drive both.
package schedule
