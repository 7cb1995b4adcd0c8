// ABOUTME: Package documentation for the store package
// ABOUTME: Describes the persistence layer and its interfaces

// Package store provides persistence for warden's credential and audit
// records: companion devices, API keys, session key validity, and the
// audit log.
//
// The package defines narrow interfaces (DeviceStore, APIKeyStore,
// SessionKeyStore, AuditStore) and a single SQLite implementation.
// Consumers accept the interface they need so tests can substitute an
// in-memory or fake store, and the backing database can be swapped
// without touching call sites. The SQLiteStore is constructed once at
// startup and injected; there is no package-level singleton.
//
// Security invariants enforced at this layer:
//
//   - Raw device tokens and API keys are never persisted. Only keyed
//     hashes are stored, and list operations never return them.
//   - Active API key lookup excludes revoked and expired keys, so a
//     stale key is indistinguishable from an unknown one.
//   - Token rotation replaces the stored hash in a single UPDATE, so
//     there is no window where both the old and new token validate.
//
// Timestamps are stored as RFC3339 TEXT in UTC.
package store
