package stores

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/openqembed/openqembed/pkg/dispatch"
	"github.com/openqembed/openqembed/pkg/embedding"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	return store
}

func testRun(id string) *embedding.RunRecord {
	return &embedding.RunRecord{
		ID:        id,
		Formula:   "H2",
		Method:    "atom-partition",
		Backend:   "classical/pyscf/ccsd",
		Rule:      "additive",
		Status:    "running",
		StartedAt: time.Now().UTC().Truncate(time.Second),
	}
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	tables := []string{"runs", "run_iterations"}
	for _, table := range tables {
		query := "SELECT COUNT(*) FROM " + table
		var count int
		err := store.db.QueryRowContext(ctx, query).Scan(&count)
		if err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}
}

func TestSaveRunUpsert(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	run := testRun("run-1")
	if err := store.SaveRun(ctx, run); err != nil {
		t.Fatalf("first save failed: %v", err)
	}

	completed := time.Now().UTC().Truncate(time.Second)
	run.Status = "converged"
	run.Energy = -2.5
	run.Iterations = 3
	run.FinalDelta = 4.2e-7
	run.CompletedAt = &completed
	if err := store.SaveRun(ctx, run); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	got, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != "converged" || got.Iterations != 3 {
		t.Errorf("got %+v", got)
	}
	if math.Abs(got.Energy-(-2.5)) > 1e-12 {
		t.Errorf("energy = %v", got.Energy)
	}
	if got.CompletedAt == nil {
		t.Error("completed_at not persisted")
	}
	if got.Error != "" {
		t.Errorf("error = %q, want empty", got.Error)
	}
}

func TestSaveRunWithError(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	run := testRun("run-err")
	run.Status = "failed"
	run.Error = "embedding loop did not converge after 50 iterations"
	if err := store.SaveRun(ctx, run); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetRun(ctx, "run-err")
	if err != nil {
		t.Fatal(err)
	}
	if got.Error != run.Error {
		t.Errorf("error = %q", got.Error)
	}
}

func TestGetRunNotFound(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	if _, err := store.GetRun(context.Background(), "missing"); err == nil {
		t.Error("expected an error for a missing run")
	}
}

func TestSaveRunValidation(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	if err := store.SaveRun(ctx, nil); err == nil {
		t.Error("nil record must be rejected")
	}
	if err := store.SaveRun(ctx, &embedding.RunRecord{}); err == nil {
		t.Error("record without ID must be rejected")
	}
}

func TestListRunsPagination(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 5; i++ {
		run := testRun("run-" + string(rune('a'+i)))
		run.StartedAt = base.Add(time.Duration(i) * time.Minute)
		if err := store.SaveRun(ctx, run); err != nil {
			t.Fatal(err)
		}
	}

	page, err := store.ListRuns(ctx, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 {
		t.Fatalf("page size = %d, want 2", len(page))
	}
	// Most recent first
	if page[0].ID != "run-e" || page[1].ID != "run-d" {
		t.Errorf("page order = %s, %s", page[0].ID, page[1].ID)
	}

	rest, err := store.ListRuns(ctx, 10, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 3 {
		t.Errorf("remainder = %d runs, want 3", len(rest))
	}
}

func TestIterationTrace(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	if err := store.SaveRun(ctx, testRun("run-1")); err != nil {
		t.Fatal(err)
	}

	deltas := []float64{0.5, 0.12, 3.0e-7}
	for i, d := range deltas {
		rec := embedding.IterationRecord{
			Iteration: i + 1,
			Delta:     d,
			Summary:   dispatch.Summary{Total: 2, Succeeded: 2, Attempts: 2},
			WallTime:  150 * time.Millisecond,
		}
		if err := store.SaveIteration(ctx, "run-1", rec); err != nil {
			t.Fatal(err)
		}
	}

	trace, err := store.ListIterations(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(trace) != 3 {
		t.Fatalf("trace length = %d, want 3", len(trace))
	}
	for i, rec := range trace {
		if rec.Iteration != i+1 {
			t.Errorf("record %d has iteration %d", i, rec.Iteration)
		}
		if rec.Delta != deltas[i] {
			t.Errorf("iteration %d delta = %v, want %v", rec.Iteration, rec.Delta, deltas[i])
		}
		if rec.Summary.Succeeded != 2 {
			t.Errorf("iteration %d summary = %+v", rec.Iteration, rec.Summary)
		}
		if rec.WallTime != 150*time.Millisecond {
			t.Errorf("iteration %d wall time = %v", rec.Iteration, rec.WallTime)
		}
	}
}

func TestDeleteRunCascadesTrace(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	if err := store.SaveRun(ctx, testRun("run-1")); err != nil {
		t.Fatal(err)
	}
	rec := embedding.IterationRecord{Iteration: 1, Delta: 0.1}
	if err := store.SaveIteration(ctx, "run-1", rec); err != nil {
		t.Fatal(err)
	}

	if err := store.DeleteRun(ctx, "run-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetRun(ctx, "run-1"); err == nil {
		t.Error("deleted run still retrievable")
	}
	trace, err := store.ListIterations(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(trace) != 0 {
		t.Errorf("trace survived run deletion: %d records", len(trace))
	}

	if err := store.DeleteRun(ctx, "run-1"); err == nil {
		t.Error("deleting a missing run must fail")
	}
}
