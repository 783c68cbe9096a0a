// Package inbox implements the task inbox: idempotent ingestion, the claim
// scheduler, the task lifecycle and per-inbox statistics.
//
// Every operation is individually atomic. Operations that change a task load it
// with a row lock inside a store transaction, apply a domain transition and write
// it back, so concurrent callers serialize on the task rather than on the
// service. Claiming relies on the store's skip-locked ClaimNext, which lets any
// number of workers and processes claim from one inbox without blocking each
// other or receiving the same task.
package inbox
