// Package store persists crosswalk runs and their result rows. Postgres is
// the production backend; SQLite backs single-machine and offline use.
package store

import (
	"context"
	"time"

	"github.com/sells-group/sab-crosswalk/internal/model"
)

// RunStatus is the lifecycle state of a crosswalk run.
type RunStatus string

const (
	// RunStatusRunning marks an in-flight run.
	RunStatusRunning RunStatus = "running"
	// RunStatusComplete marks a run whose results are saved.
	RunStatusComplete RunStatus = "complete"
	// RunStatusFailed marks a run that aborted before producing results.
	RunStatusFailed RunStatus = "failed"
)

// Run is one execution of the crosswalk pipeline.
type Run struct {
	ID            string    `json:"id"`
	Status        RunStatus `json:"status"`
	Year          int       `json:"year"`
	Boundaries    int       `json:"boundaries,omitempty"`
	Capped        int       `json:"capped,omitempty"`
	FailedRegions []string  `json:"failed_regions,omitempty"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// RunSummary is what a completed run records about itself.
type RunSummary struct {
	Boundaries    int
	Capped        int
	FailedRegions []string
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status RunStatus `json:"status,omitempty"`
	Limit  int       `json:"limit,omitempty"`
	Offset int       `json:"offset,omitempty"`
}

// Store defines the persistence interface for crosswalk runs.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, year int) (*Run, error)
	CompleteRun(ctx context.Context, runID string, summary RunSummary) error
	FailRun(ctx context.Context, runID string, cause error) error
	GetRun(ctx context.Context, runID string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)

	// Results
	SaveResults(ctx context.Context, runID string, rows []model.ResultRecord) error
	Results(ctx context.Context, runID string) ([]model.ResultRecord, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
