// Package wal implements the per-chain sign log: an append-only record of
// every signature the safety guard authorized.
//
// The log is a secondary safety record. The primary record is the JSON
// state file the privval package rewrites atomically on every sign; the log
// exists so that losing that file between process runs does not silently
// reset the chain's coordinate to zero. On startup the log is replayed and
// the highest recorded coordinate is recovered.
//
// Each record is framed as an 8-byte header (record length in the first
// four bytes, CRC32-Castagnoli of the record bytes in the next four)
// followed by the record. Replay stops at the first corrupt frame, so a crash
// mid-append costs at most the torn tail record, never an earlier one.
//
// The log rotates once past a size cap: the current file is renamed to a
// .old sibling and a fresh file is started. Replay falls back to the .old
// sibling when the current file holds no records yet, so recovery never
// needs more than two files.
package wal
