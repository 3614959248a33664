// Package watcher runs the polling cycle: fetch the latest item,
// fingerprint it, compare with the persisted fingerprint, notify on change
// and persist only after the notification was delivered.
//
// A cycle moves through Fetching, Comparing, then either NotNew or
// Notifying followed by Persisting. Fetch and notify are retried with a
// constant delay (unbounded unless configured). The persisted state is read
// lazily on the first cycle and cached; every successful save refreshes the
// cache. A failed save leaves the cache untouched, so the next cycle
// notifies again: delivery is at-least-once.
//
// Cycles never overlap. RunCycle holds a mutex for the whole cycle.
package watcher
