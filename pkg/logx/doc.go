// Package logx configures jobhost's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - An optional alert file for warn+ lines (min-level + rate limiting)
package logx
