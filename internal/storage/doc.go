// Package storage persists the fingerprint of the last notified item.
//
// A store holds exactly one record. Load never reports a missing or
// malformed record as an error: both mean "nothing notified yet", and the
// watcher will notify again. Only transient I/O failures (lock contention,
// an unreachable Redis, a read error) are returned so the caller can retry.
//
// Save replaces the record atomically. A crash mid-save leaves either the
// previous record or one that fails to decode, never a record naming a
// fingerprint that was not confirmed delivered.
package storage
