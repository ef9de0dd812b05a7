// Package transport implements the echolink wire format.
//
// Every message travels as one frame:
//
//	+----------------------+------------------+
//	| length (4 bytes, BE) | payload (length) |
//	+----------------------+------------------+
//
// Frames repeat back to back on a plain TCP stream. The length counts only
// the payload, so an empty message is a bare zero header. Lengths above the
// configured maximum (64 KiB by default) are rejected when encoding
// (ErrMessageTooLarge) and treated as stream corruption when decoding
// (ErrCorruptFrame).
//
// A Decoder owns the read buffer of exactly one stream. Bytes buffered but
// not yet returned belong to that stream and are discarded with it; a new
// connection always starts with a new Decoder.
//
// The package also defines Endpoint, the validated host/port pair the
// connection layer dials.
package transport
