package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fomcboard/indicator-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func mustCategory(t *testing.T, st *SQLiteStore, name string, level int, parentID *int64) *model.Category {
	t.Helper()
	cat, err := st.GetOrCreateCategory(context.Background(), name, level, parentID)
	require.NoError(t, err)
	return cat
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// --- Categories ---

func TestSQLite_GetOrCreateCategory_Idempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	first, err := st.GetOrCreateCategory(ctx, "劳动力市场", model.LevelBoard, nil)
	require.NoError(t, err)
	second, err := st.GetOrCreateCategory(ctx, "劳动力市场", model.LevelBoard, nil)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)

	cats, err := st.ListCategories(ctx)
	require.NoError(t, err)
	assert.Len(t, cats, 1)
}

func TestSQLite_GetOrCreateCategory_CorrectsInPlace(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	board := mustCategory(t, st, "劳动力市场", model.LevelBoard, nil)

	// First derivation got the hierarchy wrong: level 1, no parent.
	orphan := mustCategory(t, st, "分部门新增就业", model.LevelBoard, nil)

	// Re-derivation corrects it in place rather than duplicating.
	fixed, err := st.GetOrCreateCategory(ctx, "分部门新增就业", model.LevelSubcategory, &board.ID)
	require.NoError(t, err)

	assert.Equal(t, orphan.ID, fixed.ID)
	assert.Equal(t, model.LevelSubcategory, fixed.Level)
	require.NotNil(t, fixed.ParentID)
	assert.Equal(t, board.ID, *fixed.ParentID)

	// And the correction is persisted.
	got, err := st.GetCategoryByName(ctx, "分部门新增就业")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.LevelSubcategory, got.Level)
	require.NotNil(t, got.ParentID)
	assert.Equal(t, board.ID, *got.ParentID)
}

func TestSQLite_GetOrCreateCategory_AppendsDisplayOrder(t *testing.T) {
	st := newTestSQLiteStore(t)

	a := mustCategory(t, st, "劳动力市场", model.LevelBoard, nil)
	b := mustCategory(t, st, "通胀", model.LevelBoard, nil)
	c := mustCategory(t, st, "利率", model.LevelBoard, nil)

	assert.Less(t, a.DisplayOrder, b.DisplayOrder)
	assert.Less(t, b.DisplayOrder, c.DisplayOrder)
}

func TestSQLite_GetCategoryByName_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)

	cat, err := st.GetCategoryByName(context.Background(), "不存在")
	require.NoError(t, err)
	assert.Nil(t, cat)
}

// --- Indicators ---

func TestSQLite_IndicatorRoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	board := mustCategory(t, st, "劳动力市场", model.LevelBoard, nil)
	updated := date(2025, time.June, 6)

	ind := &model.Indicator{
		Name:               "非农就业人数",
		Code:               "PAYEMS",
		EnglishName:        "Nonfarm Payrolls",
		Description:        "Total Nonfarm Payrolls",
		Frequency:          "Monthly",
		Units:              "Thousands of Persons",
		SeasonalAdjustment: "Seasonally Adjusted",
		LastUpdated:        &updated,
		CategoryID:         board.ID,
		ReferenceURL:       "https://fred.stlouisfed.org/series/PAYEMS",
	}
	require.NoError(t, st.CreateIndicator(ctx, ind))
	assert.NotZero(t, ind.ID)

	got, err := st.GetIndicatorByCode(ctx, "PAYEMS")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, ind.Name, got.Name)
	assert.Equal(t, ind.Units, got.Units)
	require.NotNil(t, got.LastUpdated)
	assert.Equal(t, updated.Format("2006-01-02"), got.LastUpdated.UTC().Format("2006-01-02"))

	got.Name = "非农就业"
	got.CategoryID = board.ID
	require.NoError(t, st.UpdateIndicator(ctx, got))

	again, err := st.GetIndicatorByCode(ctx, "PAYEMS")
	require.NoError(t, err)
	assert.Equal(t, "非农就业", again.Name)
}

func TestSQLite_GetIndicatorByCode_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)

	ind, err := st.GetIndicatorByCode(context.Background(), "NOPE")
	require.NoError(t, err)
	assert.Nil(t, ind)
}

func TestSQLite_BackfillReferenceURLs(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	board := mustCategory(t, st, "利率", model.LevelBoard, nil)

	withURL := &model.Indicator{Name: "十年期国债", Code: "GS10", CategoryID: board.ID,
		ReferenceURL: "https://fred.stlouisfed.org/series/GS10"}
	withoutURL := &model.Indicator{Name: "联邦基金利率", Code: "FEDFUNDS", CategoryID: board.ID}
	require.NoError(t, st.CreateIndicator(ctx, withURL))
	require.NoError(t, st.CreateIndicator(ctx, withoutURL))

	n, err := st.BackfillReferenceURLs(ctx, func(code string) string {
		return "https://fred.stlouisfed.org/series/" + code
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := st.GetIndicatorByCode(ctx, "FEDFUNDS")
	require.NoError(t, err)
	assert.Equal(t, "https://fred.stlouisfed.org/series/FEDFUNDS", got.ReferenceURL)
}

// --- Observations ---

func seedIndicator(t *testing.T, st *SQLiteStore, code string) *model.Indicator {
	t.Helper()
	board := mustCategory(t, st, "板块-"+code, model.LevelBoard, nil)
	ind := &model.Indicator{Name: code, Code: code, CategoryID: board.ID}
	require.NoError(t, st.CreateIndicator(context.Background(), ind))
	return ind
}

func TestSQLite_SyncObservations_InsertsOnlyNewDates(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	ind := seedIndicator(t, st, "UNRATE")

	n, err := st.SyncObservations(ctx, ind.ID, []model.Observation{
		{Date: date(2024, time.January, 1), Value: 3.7},
		{Date: date(2024, time.February, 1), Value: 3.9},
	}, false)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// Re-run with one overlapping and one new date.
	n, err = st.SyncObservations(ctx, ind.ID, []model.Observation{
		{Date: date(2024, time.February, 1), Value: 3.9},
		{Date: date(2024, time.March, 1), Value: 3.8},
	}, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	latest, err := st.LatestObservationDate(ctx, ind.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, date(2024, time.March, 1), *latest)
}

func TestSQLite_SyncObservations_FullRefreshReplaces(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	ind := seedIndicator(t, st, "GDP")

	_, err := st.SyncObservations(ctx, ind.ID, []model.Observation{
		{Date: date(2023, time.January, 1), Value: 100},
		{Date: date(2023, time.April, 1), Value: 101},
	}, false)
	require.NoError(t, err)

	// Full refresh deletes prior observations, so the same dates count
	// as newly inserted again.
	n, err := st.SyncObservations(ctx, ind.ID, []model.Observation{
		{Date: date(2023, time.January, 1), Value: 100.5},
		{Date: date(2023, time.April, 1), Value: 101.5},
	}, true)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Observations)
}

func TestSQLite_LatestObservationDate_Empty(t *testing.T) {
	st := newTestSQLiteStore(t)
	ind := seedIndicator(t, st, "SP500")

	latest, err := st.LatestObservationDate(context.Background(), ind.ID)
	require.NoError(t, err)
	assert.Nil(t, latest)
}

// --- Ordering ---

func TestSQLite_ApplyIndicatorOrdering(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	first := mustCategory(t, st, "劳动力市场", model.LevelBoard, nil)
	second := mustCategory(t, st, "通胀", model.LevelBoard, nil)

	// Insert in reverse category order.
	cpi := &model.Indicator{Name: "CPI", Code: "CPIAUCSL", CategoryID: second.ID}
	payems := &model.Indicator{Name: "非农就业人数", Code: "PAYEMS", CategoryID: first.ID}
	require.NoError(t, st.CreateIndicator(ctx, cpi))
	require.NoError(t, st.CreateIndicator(ctx, payems))

	require.NoError(t, st.ApplyIndicatorOrdering(ctx))

	inds, err := st.ListIndicators(ctx)
	require.NoError(t, err)
	require.Len(t, inds, 2)
	assert.Equal(t, "PAYEMS", inds[0].Code)
	assert.Equal(t, "CPIAUCSL", inds[1].Code)
	assert.Equal(t, 1, inds[0].DisplayOrder)
	assert.Equal(t, 2, inds[1].DisplayOrder)
}

// --- Run log ---

func TestSQLite_RunLog(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	id, err := st.StartRun(ctx, "docs/indicators.xlsx")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	sum := model.RunSummary{
		Rows: 10, IndicatorsCreated: 3, IndicatorsUpdated: 2,
		RowsSkipped: 1, RowsFailed: 1, ObservationsInserted: 500,
	}
	require.NoError(t, st.CompleteRun(ctx, id, sum))

	failed, err := st.StartRun(ctx, "docs/indicators.xlsx")
	require.NoError(t, err)
	require.NoError(t, st.FailRun(ctx, failed, "definition file missing"))

	runs, err := st.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	byID := map[string]model.SyncRun{runs[0].ID: runs[0], runs[1].ID: runs[1]}
	done := byID[id]
	assert.Equal(t, model.RunStatusComplete, done.Status)
	assert.Equal(t, sum, done.Summary)
	assert.NotNil(t, done.CompletedAt)

	bad := byID[failed]
	assert.Equal(t, model.RunStatusFailed, bad.Status)
	assert.Equal(t, "definition file missing", bad.Error)
}

func TestSQLite_CompleteRun_Unknown(t *testing.T) {
	st := newTestSQLiteStore(t)

	err := st.CompleteRun(context.Background(), "no-such-run", model.RunSummary{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSQLite_Stats_Empty(t *testing.T) {
	st := newTestSQLiteStore(t)

	stats, err := st.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Categories)
	assert.Equal(t, int64(0), stats.Indicators)
	assert.Equal(t, int64(0), stats.Observations)
}
