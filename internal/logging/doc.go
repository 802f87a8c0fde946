// Package logging builds slog loggers for the daemon and CLI.
//
// Output format is json or console, configured via [logging] in the config
// file. Attr helpers and field-name constants keep log keys consistent across
// the queue, ledger, and pipeline components.
package logging
