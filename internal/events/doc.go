// Package events extracts structured events from plain-text chat lines.
//
// A Pattern is a compiled regular expression with named capture groups that
// belongs to one event kind. Matching is pure: a line either yields a
// DetectedEvent or nothing, and never an error.
//
// Numeric fields are captured as strings. ParseAmount normalizes them by
// dropping grouping separators before parsing.
package events
