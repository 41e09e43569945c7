// Package structs owns the struct schema catalogue: the binary schema file format, the lazy
// thread-safe loader, per-struct layout and field metadata, and typed access to struct bytes.
//
// A schema file lists structs in dependency order. A struct may only reference structs that
// appear earlier in the same file, so every loaded catalogue is acyclic by construction.
//
// File layout (all integers in the byte order named by the header):
//
//	header   32 bytes  magic, version, order, reserved, counts and section offsets
//	structs  88 bytes each, immediately after the header
//	fields   16 bytes each, immediately after the struct section
//	strings  NUL terminated names, offset 0 reserved, runs to end of file
package structs
