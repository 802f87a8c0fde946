// Package ledger records every billable operation and enforces monthly
// budgets.
//
// Cost events are append-only rows in SQLite; the matching (scope, period)
// rollup counter is updated in the same transaction, so a successful read
// after Record always reflects the event. Periods are UTC calendar months
// and counters are keyed by period, which makes the monthly reset lazy:
// the first event of a new month simply creates a fresh counter row.
package ledger
