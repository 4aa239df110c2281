// Package memoryengine provides in-memory implementations of the lending
// store contracts (lending.InventoryLedger, lending.LoanStore) and the
// scheduler queue (scheduler.JobStore).
//
// The implementations are safe for concurrent use and preserve the exact
// compare-and-swap semantics the contracts demand - TryReserve is an atomic
// compare-and-decrement, loan transitions only apply from legal states, and
// job claims are exclusive - so tests exercising race behavior against this
// engine exercise the same guarantees the Postgres engine gives.
package memoryengine
