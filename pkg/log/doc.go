// Package log provides structured protocol capture for MIDI-CI and UMP
// endpoint traffic.
//
// This package defines the Logger interface and Event types for capturing
// protocol events at the SysEx, MIDI-CI and UMP layers. It is separate from
// operational logging (slog): protocol capture provides a complete
// machine-readable trace for debugging and analysis.
//
// # Basic Usage
//
// Applications configure capture by providing a Logger implementation:
//
//	// For development: log to console via slog
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// For analysis: write to binary file
//	cfg.ProtocolLogger, _ = log.NewFileLogger("session.mlog")
//
//	// Both: use MultiLogger
//	cfg.ProtocolLogger = log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # Event Types
//
//   - SysEx / UMP: raw bytes or words (FrameEvent)
//   - CI: decoded MIDI-CI messages (MessageEvent)
//   - UMP: decoded stream messages (StreamEvent)
//   - State: connection, MUID and endpoint transitions (StateChangeEvent)
//
// Errors at any layer have a dedicated event type.
//
// # File Format
//
// Capture files are a stream of CBOR-encoded events with the .mlog
// extension. The midici-log tool views, filters and summarizes them.
package log
