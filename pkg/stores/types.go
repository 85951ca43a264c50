package stores

import (
	"context"

	"github.com/openqembed/openqembed/pkg/embedding"
)

// Store is the persistence layer for runs and their iteration traces. The
// write half matches embedding.RunRecorder, so a Store plugs directly into
// the workflow.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Run operations
	SaveRun(ctx context.Context, run *embedding.RunRecord) error
	GetRun(ctx context.Context, id string) (*embedding.RunRecord, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*embedding.RunRecord, error)
	DeleteRun(ctx context.Context, id string) error

	// Iteration trace operations
	SaveIteration(ctx context.Context, runID string, rec embedding.IterationRecord) error
	ListIterations(ctx context.Context, runID string) ([]embedding.IterationRecord, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
