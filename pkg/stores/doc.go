// Package stores provides the persistence layer for embedding runs.
// It includes SQLite-based storage with WAL mode, connection pooling,
// embedded migrations, and CRUD operations for run records and their
// per-iteration convergence traces.
package stores
