// Package log records protocol captures of echolink connections.
//
// A capture is a machine-readable trace of what happened on the wire:
// frames in both directions, connection state changes and I/O errors.
// It is separate from operational logging (zerolog).
//
// # Usage
//
//	// Echo events through the operational logger
//	cfg.ProtocolLogger = log.NewZerologAdapter(logger)
//
//	// Write a capture file for later analysis
//	file, _ := log.NewFileLogger("client.elog")
//	cfg.ProtocolLogger = log.Tee(file, log.NewZerologAdapter(logger))
//
// # File Format
//
// A capture file is a stream of CBOR items: one FileHeader followed by
// Events encoded as maps with integer keys. Appending to an existing file
// adds events without a second header. The echolink log command views and
// summarizes captures.
package log
