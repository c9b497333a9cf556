// Package pipeline reconciles the Excel indicator definition against the
// persistent catalog and incrementally syncs observation data. Rows are
// processed strictly in source order, single-threaded: category markers
// seen at row N steer category resolution for the rows that follow, and
// duplicate detection compares against the immediately preceding row.
// Each row commits independently; a row's failure is logged and contained
// so a partial run still leaves every successful row durably reconciled.
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fomcboard/indicator-cli/internal/catalog"
	"github.com/fomcboard/indicator-cli/internal/model"
	"github.com/fomcboard/indicator-cli/internal/sheet"
	"github.com/fomcboard/indicator-cli/pkg/fred"
)

// Options configures one pipeline run.
type Options struct {
	ExcelPath    string
	SheetName    string
	StartDate    *time.Time // explicit fetch window lower bound
	EndDate      *time.Time // explicit fetch window upper bound
	FullRefresh  bool       // delete stored observations before fetching
	DefaultStart time.Time  // window lower bound for indicators with no data
}

// Summary is the aggregate outcome of a run.
type Summary = model.RunSummary

// Pipeline drives the row-by-row sync loop.
type Pipeline struct {
	store catalog.Store
	fred  fred.Client
	opts  Options
}

// New creates a Pipeline over the given catalog store and FRED client.
func New(store catalog.Store, client fred.Client, opts Options) *Pipeline {
	return &Pipeline{store: store, fred: client, opts: opts}
}

// Run executes one full sync: load the definition table, walk its rows,
// and normalize indicator ordering. Only a whole-table load failure (or
// run-log bookkeeping failure) is returned; per-row errors are logged,
// counted, and contained. The run is recorded in the catalog's run log.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	log := zap.L().With(zap.String("component", "pipeline"))

	rows, err := sheet.ReadDefinition(p.opts.ExcelPath, p.opts.SheetName)
	if err != nil {
		return nil, err
	}
	log.Info("definition loaded", zap.String("path", p.opts.ExcelPath), zap.Int("rows", len(rows)))

	runID, err := p.store.StartRun(ctx, p.opts.ExcelPath)
	if err != nil {
		return nil, err
	}

	sum, runErr := p.processRows(ctx, rows)
	if runErr != nil {
		if failErr := p.store.FailRun(ctx, runID, runErr.Error()); failErr != nil {
			log.Error("failed to record run failure", zap.Error(failErr))
		}
		return sum, runErr
	}

	if err := p.store.CompleteRun(ctx, runID, *sum); err != nil {
		log.Error("failed to record run completion", zap.Error(err))
	}

	log.Info("run complete",
		zap.Int("rows", sum.Rows),
		zap.Int("created", sum.IndicatorsCreated),
		zap.Int("updated", sum.IndicatorsUpdated),
		zap.Int("skipped", sum.RowsSkipped),
		zap.Int("failed", sum.RowsFailed),
		zap.Int64("observations", sum.ObservationsInserted),
	)
	return sum, nil
}

func (p *Pipeline) processRows(ctx context.Context, rows []sheet.Row) (*Summary, error) {
	log := zap.L().With(zap.String("component", "pipeline"))

	sum := &Summary{}
	pending := pendingSubcategories{}
	var prevCode string

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		cls := sheet.Classify(row, prevCode)
		prevCode = cls.Code
		sum.Rows++

		rowLog := log.With(
			zap.Int("row", row.Index+1),
			zap.String("board", row.Board),
			zap.String("indicator", row.Name),
			zap.String("code", cls.Code),
		)

		switch cls.Kind {
		case sheet.KindCategoryMarker:
			if err := p.recordSubcategoryMarker(ctx, row.Board, row.Name, pending); err != nil {
				rowLog.Error("category marker failed", zap.Error(err))
				sum.RowsFailed++
				continue
			}

		case sheet.KindDuplicate:
			rowLog.Info("skipping duplicate row")
			sum.RowsSkipped++

		case sheet.KindIndicator:
			p.processIndicatorRow(ctx, rowLog, row, cls.Code, pending, sum)
		}
	}

	// Ordering normalization runs exactly once, after the full table.
	if err := p.store.ApplyIndicatorOrdering(ctx); err != nil {
		return sum, err
	}
	return sum, nil
}

// recordSubcategoryMarker handles a category-only row. Known sub-grouping
// markers ensure the board (level 1) and the subcategory (level 2) exist
// and become the board's pending subcategory for the rows that follow.
// Unrecognized markers have no effect.
func (p *Pipeline) recordSubcategoryMarker(ctx context.Context, boardName, indicatorName string, pending pendingSubcategories) error {
	if !isSubgroupMarker(indicatorName) {
		return nil
	}

	board, err := p.store.GetOrCreateCategory(ctx, boardName, model.LevelBoard, nil)
	if err != nil {
		return err
	}
	sub, err := p.store.GetOrCreateCategory(ctx, indicatorName, model.LevelSubcategory, &board.ID)
	if err != nil {
		return err
	}
	pending[boardName] = *sub
	return nil
}

// processIndicatorRow runs the resolve → reconcile → sync sequence for
// one indicator row. Failures are contained at row scope.
func (p *Pipeline) processIndicatorRow(ctx context.Context, rowLog *zap.Logger, row sheet.Row, code string, pending pendingSubcategories, sum *Summary) {
	board, err := p.store.GetOrCreateCategory(ctx, row.Board, model.LevelBoard, nil)
	if err != nil {
		rowLog.Error("board category failed", zap.Error(err))
		sum.RowsFailed++
		return
	}

	categoryID := resolveCategory(row.Board, row.Name, board.ID, pending)

	ind, outcome, err := p.reconcileIndicator(ctx, row.Name, row.EnglishName, code, categoryID)
	if err != nil {
		rowLog.Error("reconcile failed", zap.Error(err))
		sum.RowsFailed++
		return
	}
	switch outcome {
	case outcomeCreated:
		rowLog.Info("created indicator")
		sum.IndicatorsCreated++
	case outcomeUpdated:
		rowLog.Info("updated indicator")
		sum.IndicatorsUpdated++
	}

	inserted, err := p.syncData(ctx, ind)
	if err != nil {
		// Row-scoped: the observation transaction has rolled back; the
		// indicator's reconciliation above stays committed.
		rowLog.Error("data sync failed", zap.Error(err))
		sum.RowsFailed++
		return
	}
	sum.ObservationsInserted += inserted
	rowLog.Info("stored observations", zap.Int64("inserted", inserted))
}
