// Package backend defines the interface every encoding engine implements: a
// private staging namespace of named byte buffers, a load/verify lifecycle,
// and a command-execution call that reports fractional progress.
package backend
