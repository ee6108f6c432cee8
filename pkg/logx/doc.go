// Package logx configures spudbot's structured logging.
//
// A small wrapper (logx.Logger) sits on top of zerolog. Console output stays
// readable (short timestamp, short caller), file output is JSON, and warnings
// can optionally be mirrored to a Telegram chat with a minimum level and a
// rate limit.
package logx
