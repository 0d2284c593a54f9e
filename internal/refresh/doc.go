// Package refresh keeps the queue board current. A Scheduler counts down to
// the next automatic refresh and guarantees at most one fetch in flight; a
// Session owns the registry, applies each refresh, toggles acknowledgements
// and records both in the journal.
package refresh
