// Package lending implements the core lending lifecycle engine: inventory
// accounting with a strict no-oversell guarantee, the loan state machine, and
// overdue fine computation.
//
// The package is storage-agnostic. All durable state lives behind the
// InventoryLedger and LoanStore contracts; see the postgresengine package for
// the production implementation and the memoryengine package for a
// reference/test implementation with the same compare-and-swap semantics.
//
// Time-deferred follow-up work (due-date reminders, overdue sweeps, fine
// recomputation, availability reconciliation) is delegated to the scheduler
// package through the JobEnqueuer interface; the handlers live in jobs/...
package lending
