// Package logx configures manabot's structured logging.
//
// It is a small wrapper (logx.Logger) on top of zerolog that keeps:
//   - Console output readable (short timestamp + short caller) on stderr;
//     stdout belongs to the stdio chat bridge
//   - File output JSON-structured
//   - An optional remote sink (Discord webhook) gated by min-level and a rate limit
package logx
