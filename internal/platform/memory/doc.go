// Package memory implements store.TaskStore in process memory.
//
// It honours the same row locking contract as the PostgreSQL backend:
// GetTaskForUpdate and writes wait for rows held by another transaction,
// while ClaimNext and ReleaseExpiredClaims skip them. Writes made inside
// WithinTx are undone when the transaction function fails. Uncommitted
// writes are visible to other readers, so callers should not rely on
// isolation beyond row locks.
package memory
