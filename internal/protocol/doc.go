// Package protocol owns the wire contract shared by the IPC engine.
//
// Ownership boundary:
// - error taxonomy (this package)
// - pdu type system and byte-swap primitives (pdu)
// - struct schema catalogue (structs)
// - message sections and limits (frame)
// - connection contract (conn)
// - outbound streams and inbound messages (stream, message)
// - event subscription filters (eventmask)
package protocol
