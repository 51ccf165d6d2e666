// Package staging manages named buffers inside an engine's working
// namespace. Writes and reads report typed errors; deletes are best-effort
// and only logged, so cleanup never masks the outcome of a job.
package staging
