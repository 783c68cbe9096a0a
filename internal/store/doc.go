// Package store defines the persistence contract for inbox tasks.
//
// TaskStore is implemented by the PostgreSQL backend in internal/platform/postgres
// and by the in-memory backend in internal/platform/memory. Both honour the same
// locking contract: ClaimNext returns at most one eligible task per caller and skips
// rows that another in-flight transaction holds, so concurrent claimers never block
// on each other and never receive the same task.
package store
