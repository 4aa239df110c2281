// Package scheduler implements a durable job queue with at-least-once
// execution semantics: one-shot jobs that run no earlier than their scheduled
// instant, recurring jobs driven by cron expressions, lease-based claiming so
// no two workers ever execute the same job concurrently, and retry with
// exponential backoff up to a configurable attempt ceiling.
//
// Durability lives behind the JobStore contract; see postgresengine for the
// production implementation and memoryengine for the in-memory reference.
// Handlers must be idempotent: a job that survives a crash before completion
// is re-attempted by another worker once its lease expires.
package scheduler
