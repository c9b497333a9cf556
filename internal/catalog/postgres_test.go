package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fomcboard/indicator-cli/internal/model"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return &PostgresStore{pool: mock}, mock
}

var categoryCols = []string{"id", "name", "level", "parent_id", "display_order"}

func TestPostgres_GetOrCreateCategory_Existing(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery(`FROM indicator_categories WHERE name`).
		WithArgs("劳动力市场").
		WillReturnRows(mock.NewRows(categoryCols).
			AddRow(int64(1), "劳动力市场", 1, nil, 1))

	cat, err := st.GetOrCreateCategory(context.Background(), "劳动力市场", model.LevelBoard, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cat.ID)
	assert.Nil(t, cat.ParentID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetOrCreateCategory_Creates(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery(`FROM indicator_categories WHERE name`).
		WithArgs("通胀").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`INSERT INTO indicator_categories`).
		WithArgs("通胀", model.LevelBoard, (*int64)(nil)).
		WillReturnRows(mock.NewRows(categoryCols).
			AddRow(int64(2), "通胀", 1, nil, 2))

	cat, err := st.GetOrCreateCategory(context.Background(), "通胀", model.LevelBoard, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), cat.ID)
	assert.Equal(t, 2, cat.DisplayOrder)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetOrCreateCategory_CorrectsInPlace(t *testing.T) {
	st, mock := newMockStore(t)
	parent := int64(1)

	// Stored as a level-1 orphan, re-derived as a subcategory of board 1.
	mock.ExpectQuery(`FROM indicator_categories WHERE name`).
		WithArgs("分部门新增就业").
		WillReturnRows(mock.NewRows(categoryCols).
			AddRow(int64(5), "分部门新增就业", 1, nil, 3))
	mock.ExpectExec(`UPDATE indicator_categories SET level`).
		WithArgs(model.LevelSubcategory, &parent, int64(5)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	cat, err := st.GetOrCreateCategory(context.Background(), "分部门新增就业", model.LevelSubcategory, &parent)
	require.NoError(t, err)
	assert.Equal(t, model.LevelSubcategory, cat.Level)
	require.NotNil(t, cat.ParentID)
	assert.Equal(t, parent, *cat.ParentID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetIndicatorByCode_Missing(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery(`FROM economic_indicators WHERE code`).
		WithArgs("NOPE").
		WillReturnError(pgx.ErrNoRows)

	ind, err := st.GetIndicatorByCode(context.Background(), "NOPE")
	require.NoError(t, err)
	assert.Nil(t, ind)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CreateIndicator_SetsID(t *testing.T) {
	st, mock := newMockStore(t)

	ind := &model.Indicator{Name: "非农就业人数", Code: "PAYEMS", CategoryID: 1}
	mock.ExpectQuery(`INSERT INTO economic_indicators`).
		WithArgs(ind.Name, ind.Code, "", "", "", "", "", (*time.Time)(nil), int64(1), "").
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow(int64(7)))

	require.NoError(t, st.CreateIndicator(context.Background(), ind))
	assert.Equal(t, int64(7), ind.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpdateIndicator_NotFound(t *testing.T) {
	st, mock := newMockStore(t)

	ind := &model.Indicator{ID: 99, Code: "GS10", CategoryID: 1}
	mock.ExpectExec(`UPDATE economic_indicators`).
		WithArgs(ind.Name, ind.EnglishName, ind.Description, ind.Frequency, ind.Units,
			ind.SeasonalAdjustment, (*time.Time)(nil), int64(1), "", int64(99)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := st.UpdateIndicator(context.Background(), ind)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SyncObservations_FullRefresh(t *testing.T) {
	st, mock := newMockStore(t)

	obs := []model.Observation{
		{Date: time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC), Value: 3.7},
		{Date: time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC), Value: 3.9},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM indicator_data`).
		WithArgs(int64(7)).
		WillReturnResult(pgxmock.NewResult("DELETE", 5))
	mock.ExpectExec(`INSERT INTO indicator_data`).
		WithArgs(int64(7), obs[0].Date, obs[0].Value).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO indicator_data`).
		WithArgs(int64(7), obs[1].Date, obs[1].Value).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := st.SyncObservations(context.Background(), 7, obs, true)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SyncObservations_ConflictIgnored(t *testing.T) {
	st, mock := newMockStore(t)

	obs := []model.Observation{
		{Date: time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC), Value: 3.8},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO indicator_data`).
		WithArgs(int64(7), obs[0].Date, obs[0].Value).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectCommit()

	n, err := st.SyncObservations(context.Background(), 7, obs, false)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CompleteRun(t *testing.T) {
	st, mock := newMockStore(t)

	sum := model.RunSummary{Rows: 10, IndicatorsCreated: 2, ObservationsInserted: 300}
	mock.ExpectExec(`UPDATE sync_runs`).
		WithArgs(string(model.RunStatusComplete), sum.Rows, sum.IndicatorsCreated,
			sum.IndicatorsUpdated, sum.RowsSkipped, sum.RowsFailed,
			sum.ObservationsInserted, "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, st.CompleteRun(context.Background(), "run-1", sum))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Stats(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT \(SELECT COUNT`).
		WillReturnRows(mock.NewRows([]string{"categories", "indicators", "observations"}).
			AddRow(int64(4), int64(40), int64(12000)))

	stats, err := st.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.Categories)
	assert.Equal(t, int64(40), stats.Indicators)
	assert.Equal(t, int64(12000), stats.Observations)
	require.NoError(t, mock.ExpectationsWereMet())
}
