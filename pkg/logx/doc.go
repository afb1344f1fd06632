// Package logx is medtrack's structured logging layer over zerolog.
//
// Loggers carry typed Fields and a short file:line caller. A Service owns
// the console and file sinks; Apply swaps level and sinks at runtime and
// every Logger derived from the Service follows without being rebuilt.
package logx
