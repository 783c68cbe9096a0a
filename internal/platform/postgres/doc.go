// Package postgres implements store.TaskStore on PostgreSQL through the pgx
// database/sql driver.
//
// Claims use SELECT ... FOR UPDATE SKIP LOCKED so concurrent workers skip rows
// another transaction is claiming instead of waiting on them. Schema changes
// live in the embedded goose migrations (see Migrate).
package postgres
