// Package daemon coordinates the long-running Quill process.
//
// It wires configuration, object storage, the job queue, the cost ledger, and
// the pipeline workers into a single lifecycle with flock-based locking to
// prevent multiple instances, and serves the HTTP API the CLI and handler
// layer talk to.
//
// Keep orchestration logic here: stage execution lives in the analyzer and
// pipeline packages while the daemon focuses on startup, shutdown, and high
// level coordination.
package daemon
