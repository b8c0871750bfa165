// Package store persists contracts and verification runs.
//
// Three layers are provided:
//   - Files: one JSON document per contract, named
//     <consumer>-<provider>.case.json, in a single directory.
//   - SQLite: contracts keyed by content hash plus a log of verification
//     runs against them.
//   - Cached: an LRU in front of any Source, kept fresh by Watch, which
//     invalidates entries when their files change on disk.
//
// Contracts are stored as RFC 8785 canonical JSON so the stored document
// hashes to the value recorded in its metadata.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
