// Package logx configures remindbot's structured logging.
//
// It is a thin wrapper (logx.Logger) on top of zerolog that keeps:
//   - Console output readable (short timestamps, key=value fields)
//   - File output JSON-structured
//   - An optional Telegram sink (min-level + rate limited) so operators can
//     receive warnings in the log chat
package logx
