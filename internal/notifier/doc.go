// Package notifier delivers change notifications to one fixed chat.
//
// Send is synchronous and single-shot: it returns nil only once the
// transport has accepted the message. Retrying is the caller's job, which
// keeps "delivered" and "persisted" in one place (the watcher).
//
// Each call waits on a token-bucket limiter and is bounded by its own
// timeout. A small in-memory history of delivered messages is kept for the
// /health endpoint and for debugging.
package notifier
