// Package dispatch fans fragment solves out to solver backends. A worker
// pool runs up to MaxParallel solves concurrently, retries transient backend
// failures with exponential backoff, and returns results index-aligned with
// the submitted jobs so callers can zip them back to their fragments.
package dispatch
