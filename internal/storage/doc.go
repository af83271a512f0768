// Package storage persists job execution history.
//
// Two drivers exist: "file" (append-only JSON lines) and "sqlite"
// (modernc.org/sqlite, no cgo). Both hide soft-deleted rows from reads.
package storage
