// Package queue persists pipeline work envelopes in SQLite and delivers them
// at-least-once with per-report leases.
//
// One envelope represents one report's worth of pipeline work. Dequeue leases
// the oldest deliverable envelope for a visibility window; a second consumer
// contending for the same report observes ErrAlreadyLeased. Envelopes whose
// delivery count exhausts max_deliveries are moved to the dead-letter table
// for operator review.
package queue
