package catalog

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/fomcboard/indicator-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS indicator_categories (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	name          TEXT NOT NULL UNIQUE,
	level         INTEGER NOT NULL DEFAULT 1,
	parent_id     INTEGER REFERENCES indicator_categories(id),
	display_order INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS economic_indicators (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	name                TEXT NOT NULL,
	code                TEXT NOT NULL UNIQUE,
	english_name        TEXT NOT NULL DEFAULT '',
	description         TEXT NOT NULL DEFAULT '',
	frequency           TEXT NOT NULL DEFAULT '',
	units               TEXT NOT NULL DEFAULT '',
	seasonal_adjustment TEXT NOT NULL DEFAULT '',
	last_updated        DATETIME,
	category_id         INTEGER NOT NULL REFERENCES indicator_categories(id),
	fred_url            TEXT NOT NULL DEFAULT '',
	display_order       INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS indicator_data (
	indicator_id INTEGER NOT NULL REFERENCES economic_indicators(id),
	date         TEXT NOT NULL,
	value        REAL NOT NULL,
	PRIMARY KEY (indicator_id, date)
);

CREATE TABLE IF NOT EXISTS sync_runs (
	id                    TEXT PRIMARY KEY,
	source                TEXT NOT NULL,
	status                TEXT NOT NULL DEFAULT 'running',
	started_at            DATETIME NOT NULL,
	completed_at          DATETIME,
	rows_processed        INTEGER NOT NULL DEFAULT 0,
	indicators_created    INTEGER NOT NULL DEFAULT 0,
	indicators_updated    INTEGER NOT NULL DEFAULT 0,
	rows_skipped          INTEGER NOT NULL DEFAULT 0,
	rows_failed           INTEGER NOT NULL DEFAULT 0,
	observations_inserted INTEGER NOT NULL DEFAULT 0,
	error                 TEXT
);

CREATE INDEX IF NOT EXISTS idx_indicators_category ON economic_indicators(category_id);
CREATE INDEX IF NOT EXISTS idx_categories_parent ON indicator_categories(parent_id);
CREATE INDEX IF NOT EXISTS idx_sync_runs_started ON sync_runs(started_at);
`

const obsDateLayout = "2006-01-02"

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Categories ---

func (s *SQLiteStore) GetCategoryByName(ctx context.Context, name string) (*model.Category, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, level, parent_id, display_order FROM indicator_categories WHERE name = ?`,
		name,
	)
	return scanCategory(row)
}

func (s *SQLiteStore) GetOrCreateCategory(ctx context.Context, name string, level int, parentID *int64) (*model.Category, error) {
	cat, err := s.GetCategoryByName(ctx, name)
	if err != nil {
		return nil, err
	}

	if cat != nil {
		// Re-derivation consistency: correct level/parent in place when
		// the source definition disagrees with the stored hierarchy.
		if cat.Level != level || !int64PtrEqual(cat.ParentID, parentID) {
			_, err := s.db.ExecContext(ctx,
				`UPDATE indicator_categories SET level = ?, parent_id = ? WHERE id = ?`,
				level, nullableInt64(parentID), cat.ID,
			)
			if err != nil {
				return nil, eris.Wrapf(err, "sqlite: correct category %s", name)
			}
			cat.Level = level
			cat.ParentID = parentID
		}
		return cat, nil
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO indicator_categories (name, level, parent_id, display_order)
		 VALUES (?, ?, ?, (SELECT COALESCE(MAX(display_order), 0) + 1 FROM indicator_categories))`,
		name, level, nullableInt64(parentID),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: create category %s", name)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: category insert id")
	}

	return s.getCategoryByID(ctx, id)
}

func (s *SQLiteStore) getCategoryByID(ctx context.Context, id int64) (*model.Category, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, level, parent_id, display_order FROM indicator_categories WHERE id = ?`,
		id,
	)
	cat, err := scanCategory(row)
	if err != nil {
		return nil, err
	}
	if cat == nil {
		return nil, eris.Errorf("sqlite: category %d not found", id)
	}
	return cat, nil
}

func (s *SQLiteStore) ListCategories(ctx context.Context) ([]model.Category, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, level, parent_id, display_order FROM indicator_categories
		 ORDER BY display_order, id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list categories")
	}
	defer rows.Close()

	var cats []model.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		cats = append(cats, *c)
	}
	return cats, eris.Wrap(rows.Err(), "sqlite: list categories iterate")
}

// --- Indicators ---

const indicatorColumns = `id, name, code, english_name, description, frequency, units,
	seasonal_adjustment, last_updated, category_id, fred_url, display_order`

func (s *SQLiteStore) GetIndicatorByCode(ctx context.Context, code string) (*model.Indicator, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+indicatorColumns+` FROM economic_indicators WHERE code = ?`,
		code,
	)
	return scanIndicator(row)
}

func (s *SQLiteStore) CreateIndicator(ctx context.Context, ind *model.Indicator) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO economic_indicators
		 (name, code, english_name, description, frequency, units, seasonal_adjustment,
		  last_updated, category_id, fred_url, display_order)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
		         (SELECT COALESCE(MAX(display_order), 0) + 1 FROM economic_indicators))`,
		ind.Name, ind.Code, ind.EnglishName, ind.Description, ind.Frequency, ind.Units,
		ind.SeasonalAdjustment, nullableTime(ind.LastUpdated), ind.CategoryID, ind.ReferenceURL,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: create indicator %s", ind.Code)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return eris.Wrap(err, "sqlite: indicator insert id")
	}
	ind.ID = id
	return nil
}

func (s *SQLiteStore) UpdateIndicator(ctx context.Context, ind *model.Indicator) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE economic_indicators
		 SET name = ?, english_name = ?, description = ?, frequency = ?, units = ?,
		     seasonal_adjustment = ?, last_updated = ?, category_id = ?, fred_url = ?
		 WHERE id = ?`,
		ind.Name, ind.EnglishName, ind.Description, ind.Frequency, ind.Units,
		ind.SeasonalAdjustment, nullableTime(ind.LastUpdated), ind.CategoryID,
		ind.ReferenceURL, ind.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update indicator %s", ind.Code)
	}
	return checkRowsAffected(res, "indicator", ind.Code)
}

func (s *SQLiteStore) ListIndicators(ctx context.Context) ([]model.Indicator, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+indicatorColumns+` FROM economic_indicators ORDER BY display_order, id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list indicators")
	}
	defer rows.Close()

	var inds []model.Indicator
	for rows.Next() {
		ind, err := scanIndicator(rows)
		if err != nil {
			return nil, err
		}
		inds = append(inds, *ind)
	}
	return inds, eris.Wrap(rows.Err(), "sqlite: list indicators iterate")
}

func (s *SQLiteStore) BackfillReferenceURLs(ctx context.Context, urlForCode func(code string) string) (int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, code FROM economic_indicators WHERE fred_url = ''`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: list indicators without url")
	}
	defer rows.Close()

	type pending struct {
		id   int64
		code string
	}
	var todo []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.code); err != nil {
			return 0, eris.Wrap(err, "sqlite: scan indicator id/code")
		}
		todo = append(todo, p)
	}
	if err := rows.Err(); err != nil {
		return 0, eris.Wrap(err, "sqlite: iterate indicators without url")
	}

	var n int64
	for _, p := range todo {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE economic_indicators SET fred_url = ? WHERE id = ?`,
			urlForCode(p.code), p.id,
		); err != nil {
			return n, eris.Wrapf(err, "sqlite: backfill url for %s", p.code)
		}
		n++
	}
	return n, nil
}

// --- Observations ---

func (s *SQLiteStore) LatestObservationDate(ctx context.Context, indicatorID int64) (*time.Time, error) {
	var d sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(date) FROM indicator_data WHERE indicator_id = ?`,
		indicatorID,
	).Scan(&d)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: latest observation for %d", indicatorID)
	}
	if !d.Valid || d.String == "" {
		return nil, nil
	}
	t, err := time.Parse(obsDateLayout, d.String)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: parse observation date %q", d.String)
	}
	return &t, nil
}

func (s *SQLiteStore) SyncObservations(ctx context.Context, indicatorID int64, obs []model.Observation, fullRefresh bool) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin observations tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if fullRefresh {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM indicator_data WHERE indicator_id = ?`, indicatorID,
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: full refresh delete for %d", indicatorID)
		}
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO indicator_data (indicator_id, date, value) VALUES (?, ?, ?)
		 ON CONFLICT (indicator_id, date) DO NOTHING`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare observation insert")
	}
	defer stmt.Close()

	var inserted int64
	for _, o := range obs {
		res, err := stmt.ExecContext(ctx, indicatorID, o.Date.Format(obsDateLayout), o.Value)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert observation %s", o.Date.Format(obsDateLayout))
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: observation rows affected")
		}
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit observations tx")
	}
	return inserted, nil
}

// --- Ordering ---

func (s *SQLiteStore) ApplyIndicatorOrdering(ctx context.Context) error {
	// Rank indicators by their category's display order, then by their
	// own prior order, and renumber densely.
	_, err := s.db.ExecContext(ctx, `
		WITH ranked AS (
			SELECT i.id AS iid,
			       ROW_NUMBER() OVER (
			           ORDER BY c.display_order, c.id, i.display_order, i.id
			       ) AS rn
			FROM economic_indicators i
			JOIN indicator_categories c ON c.id = i.category_id
		)
		UPDATE economic_indicators
		SET display_order = (SELECT rn FROM ranked WHERE ranked.iid = economic_indicators.id)`,
	)
	return eris.Wrap(err, "sqlite: apply indicator ordering")
}

// --- Run log ---

func (s *SQLiteStore) StartRun(ctx context.Context, source string) (string, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_runs (id, source, status, started_at) VALUES (?, ?, ?, ?)`,
		id, source, string(model.RunStatusRunning), time.Now().UTC(),
	)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: start run")
	}
	return id, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, sum model.RunSummary) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_runs
		 SET status = ?, completed_at = ?, rows_processed = ?, indicators_created = ?,
		     indicators_updated = ?, rows_skipped = ?, rows_failed = ?, observations_inserted = ?
		 WHERE id = ?`,
		string(model.RunStatusComplete), time.Now().UTC(), sum.Rows, sum.IndicatorsCreated,
		sum.IndicatorsUpdated, sum.RowsSkipped, sum.RowsFailed, sum.ObservationsInserted, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_runs SET status = ?, completed_at = ?, error = ? WHERE id = ?`,
		string(model.RunStatusFailed), time.Now().UTC(), errMsg, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]model.SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, status, started_at, completed_at, rows_processed,
		        indicators_created, indicators_updated, rows_skipped, rows_failed,
		        observations_inserted, error
		 FROM sync_runs ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.SyncRun
	for rows.Next() {
		var r model.SyncRun
		var completedAt sql.NullTime
		var errMsg sql.NullString
		if err := rows.Scan(&r.ID, &r.Source, &r.Status, &r.StartedAt, &completedAt,
			&r.Summary.Rows, &r.Summary.IndicatorsCreated, &r.Summary.IndicatorsUpdated,
			&r.Summary.RowsSkipped, &r.Summary.RowsFailed, &r.Summary.ObservationsInserted,
			&errMsg); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		if completedAt.Valid {
			t := completedAt.Time
			r.CompletedAt = &t
		}
		if errMsg.Valid {
			r.Error = errMsg.String
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// --- Stats ---

func (s *SQLiteStore) Stats(ctx context.Context) (*model.CatalogStats, error) {
	var st model.CatalogStats
	err := s.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM indicator_categories),
		        (SELECT COUNT(*) FROM economic_indicators),
		        (SELECT COUNT(*) FROM indicator_data)`,
	).Scan(&st.Categories, &st.Indicators, &st.Observations)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: stats")
	}
	return &st, nil
}

// --- helpers ---

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanCategory(row scannable) (*model.Category, error) {
	var c model.Category
	var parent sql.NullInt64
	err := row.Scan(&c.ID, &c.Name, &c.Level, &parent, &c.DisplayOrder)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan category")
	}
	if parent.Valid {
		p := parent.Int64
		c.ParentID = &p
	}
	return &c, nil
}

func scanIndicator(row scannable) (*model.Indicator, error) {
	var ind model.Indicator
	var lastUpdated sql.NullTime
	err := row.Scan(&ind.ID, &ind.Name, &ind.Code, &ind.EnglishName, &ind.Description,
		&ind.Frequency, &ind.Units, &ind.SeasonalAdjustment, &lastUpdated,
		&ind.CategoryID, &ind.ReferenceURL, &ind.DisplayOrder)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan indicator")
	}
	if lastUpdated.Valid {
		t := lastUpdated.Time
		ind.LastUpdated = &t
	}
	return &ind, nil
}

func nullableInt64(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullableTime(p *time.Time) any {
	if p == nil {
		return nil
	}
	return *p
}

func int64PtrEqual(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
