// Package catalog persists the indicator catalog: the two-level
// category hierarchy, indicator metadata keyed by FRED code, observation
// series, and the sync-run log.
package catalog

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fomcboard/indicator-cli/internal/model"
)

// Store defines the persistence interface for the catalog.
type Store interface {
	// Categories
	GetCategoryByName(ctx context.Context, name string) (*model.Category, error)
	// GetOrCreateCategory looks a category up by its unique name. Absent
	// categories are created with the given level/parent and appended at
	// the end of display order. A present category whose (level, parent)
	// disagrees is corrected in place. Idempotent.
	GetOrCreateCategory(ctx context.Context, name string, level int, parentID *int64) (*model.Category, error)
	ListCategories(ctx context.Context) ([]model.Category, error)

	// Indicators
	GetIndicatorByCode(ctx context.Context, code string) (*model.Indicator, error)
	CreateIndicator(ctx context.Context, ind *model.Indicator) error
	UpdateIndicator(ctx context.Context, ind *model.Indicator) error
	ListIndicators(ctx context.Context) ([]model.Indicator, error)
	// BackfillReferenceURLs fills the reference URL of indicators that
	// predate the column, derived from their code. Returns rows updated.
	BackfillReferenceURLs(ctx context.Context, urlForCode func(code string) string) (int64, error)

	// Observations
	LatestObservationDate(ctx context.Context, indicatorID int64) (*time.Time, error)
	// SyncObservations persists observations for an indicator inside one
	// transaction. Existing dates are left untouched; with fullRefresh
	// the indicator's prior observations are deleted first. Returns the
	// number of newly inserted observations.
	SyncObservations(ctx context.Context, indicatorID int64, obs []model.Observation, fullRefresh bool) (int64, error)

	// ApplyIndicatorOrdering renumbers persisted indicator display order
	// to follow category ordering. Invoked once per pipeline run, after
	// the full table has been consumed.
	ApplyIndicatorOrdering(ctx context.Context) error

	// Run log
	StartRun(ctx context.Context, source string) (string, error)
	CompleteRun(ctx context.Context, runID string, sum model.RunSummary) error
	FailRun(ctx context.Context, runID string, errMsg string) error
	ListRuns(ctx context.Context, limit int) ([]model.SyncRun, error)

	// Status
	Stats(ctx context.Context) (*model.CatalogStats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Pool is the subset of pgxpool.Pool used by PostgresStore, satisfied
// by pgxmock for unit tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}
