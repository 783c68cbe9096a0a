// Package testdb provides helpers for PostgreSQL integration tests.
//
// Tests that need a real database call GetTestDBWithT, which skips the test
// unless DATABASE_URL is set and applies the embedded migrations first.
// Each test should work inside its own inbox (see UniqueInboxID) because
// claim tests need committed transactions and cannot rely on rollback isolation.
package testdb
