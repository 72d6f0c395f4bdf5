// Package logx configures igmonitor's structured logging.
//
// Logger is a small value-type wrapper over zerolog:
//   - console output stays readable (short timestamp + file:line caller)
//   - file output is JSON lines
//   - an optional Telegram sink forwards high-severity lines to the operator chat
//     (min level + token bucket, never blocks the caller)
//
// The zero Logger is a safe no-op.
package logx
