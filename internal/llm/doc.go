// Package llm wraps an OpenRouter-compatible chat completion endpoint.
//
// The client issues single JSON-mode completion calls and classifies failures
// into errkind markers (auth, transient, cancelled, invariant). It carries no
// retry logic of its own: the pipeline orchestrator decides what to retry and
// with what backoff. Billed token counts are surfaced for the cost ledger.
package llm
