// Package registry holds the process-wide connected-user store and the
// publish/subscribe substrate that bridges domain-layer writes to live
// gateway sessions.
//
// The Registry maps user identities to their active sessions and inbox
// handles, and keeps a role→users reverse index for scoped fan-out. All
// state is in-memory and rebuilt from storage at process start; nothing
// here survives a restart.
//
// Reads (fan-out lookups) run fully concurrently under a reader/writer
// lock; writes (register, unregister, membership updates) are mutually
// exclusive with each other but never block unrelated reads for long,
// keeping fan-out latency independent of connection churn.
package registry
