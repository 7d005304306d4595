package store

import (
	"context"
	"errors"
	"time"

	"github.com/expoforge/scout-cli/internal/model"
)

// ErrRunNotFound is returned when a run lookup matches nothing.
var ErrRunNotFound = errors.New("run not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Label  string          `json:"label,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// ContentStats summarizes the cached content table.
type ContentStats struct {
	Entries    int       `json:"entries"`
	TotalChars int64     `json:"total_chars"`
	OldestAt   time.Time `json:"oldest_at"`
	NewestAt   time.Time `json:"newest_at"`
}

// Store defines the persistence interface for batch runs and cached content.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, label string) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	SaveReport(ctx context.Context, runID string, status model.RunStatus, report *model.BatchReport) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Content cache
	GetContent(ctx context.Context, key string) (*model.CacheEntry, error)
	PutContent(ctx context.Context, entry model.CacheEntry) error
	DeleteContent(ctx context.Context, key string) error
	PurgeContentBefore(ctx context.Context, cutoff time.Time) (int, error)
	ContentStats(ctx context.Context) (*ContentStats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
