// Package engine runs composition jobs asynchronously. Submitted jobs are
// persisted, queued in FIFO order and executed one at a time by a single
// worker; their status, progress and engine log lines are written to the
// store and fanned out to live subscribers as they happen.
package engine
