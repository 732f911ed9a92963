package store

import (
	"context"
	"time"

	"github.com/me/framesched/pkg/model"
)

// Store defines the persistence layer for scheduler telemetry.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run *model.Run) error
	FinishRun(ctx context.Context, id string, stoppedAt time.Time, cycles uint64) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, opts model.ListOptions) ([]*model.Run, int, error)

	// Cycle samples
	RecordSamples(ctx context.Context, runID string, samples []model.CycleSample) error
	ListSamples(ctx context.Context, runID string, opts model.ListOptions) ([]model.CycleSample, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}
