// Package lifecycle owns the process-wide encoding engine. It loads the
// engine lazily on first use, collapses concurrent load requests into a
// single initialization and remembers the outcome until the next attempt.
package lifecycle
