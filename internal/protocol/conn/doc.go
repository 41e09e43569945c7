// Package conn is the byte-stream collaborator the stream and message packages speak through.
//
// Every blocking call takes a context. Deadline expiry maps to protocol.ErrTimeout and
// cancellation to protocol.ErrCanceled so callers can tell both apart from I/O failures.
package conn
