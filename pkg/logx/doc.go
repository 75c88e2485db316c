// Package logx configures efpwatch's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - console output readable (short timestamp + short caller)
//   - file output JSON-structured
//   - an optional operator sink that forwards warnings to a chat
//     (min level + rate limiting, never blocks the caller)
package logx
