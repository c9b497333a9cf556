package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/fomcboard/indicator-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS indicator_categories (
	id            BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	name          TEXT NOT NULL UNIQUE,
	level         INT NOT NULL DEFAULT 1,
	parent_id     BIGINT REFERENCES indicator_categories(id),
	display_order INT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS economic_indicators (
	id                  BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	name                TEXT NOT NULL,
	code                TEXT NOT NULL UNIQUE,
	english_name        TEXT NOT NULL DEFAULT '',
	description         TEXT NOT NULL DEFAULT '',
	frequency           TEXT NOT NULL DEFAULT '',
	units               TEXT NOT NULL DEFAULT '',
	seasonal_adjustment TEXT NOT NULL DEFAULT '',
	last_updated        TIMESTAMPTZ,
	category_id         BIGINT NOT NULL REFERENCES indicator_categories(id),
	fred_url            TEXT NOT NULL DEFAULT '',
	display_order       INT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS indicator_data (
	indicator_id BIGINT NOT NULL REFERENCES economic_indicators(id),
	date         DATE NOT NULL,
	value        DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (indicator_id, date)
);

CREATE TABLE IF NOT EXISTS sync_runs (
	id                    TEXT PRIMARY KEY,
	source                TEXT NOT NULL,
	status                TEXT NOT NULL DEFAULT 'running',
	started_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at          TIMESTAMPTZ,
	rows_processed        INT NOT NULL DEFAULT 0,
	indicators_created    INT NOT NULL DEFAULT 0,
	indicators_updated    INT NOT NULL DEFAULT 0,
	rows_skipped          INT NOT NULL DEFAULT 0,
	rows_failed           INT NOT NULL DEFAULT 0,
	observations_inserted BIGINT NOT NULL DEFAULT 0,
	error                 TEXT
);

CREATE INDEX IF NOT EXISTS idx_indicators_category ON economic_indicators(category_id);
CREATE INDEX IF NOT EXISTS idx_categories_parent ON indicator_categories(parent_id);
CREATE INDEX IF NOT EXISTS idx_sync_runs_started ON sync_runs(started_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// --- Categories ---

func (s *PostgresStore) GetCategoryByName(ctx context.Context, name string) (*model.Category, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, level, parent_id, display_order FROM indicator_categories WHERE name = $1`,
		name,
	)
	return scanPgCategory(row)
}

func (s *PostgresStore) GetOrCreateCategory(ctx context.Context, name string, level int, parentID *int64) (*model.Category, error) {
	cat, err := s.GetCategoryByName(ctx, name)
	if err != nil {
		return nil, err
	}

	if cat != nil {
		if cat.Level != level || !int64PtrEqual(cat.ParentID, parentID) {
			if _, err := s.pool.Exec(ctx,
				`UPDATE indicator_categories SET level = $1, parent_id = $2 WHERE id = $3`,
				level, parentID, cat.ID,
			); err != nil {
				return nil, eris.Wrapf(err, "postgres: correct category %s", name)
			}
			cat.Level = level
			cat.ParentID = parentID
		}
		return cat, nil
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO indicator_categories (name, level, parent_id, display_order)
		 VALUES ($1, $2, $3, (SELECT COALESCE(MAX(display_order), 0) + 1 FROM indicator_categories))
		 RETURNING id, name, level, parent_id, display_order`,
		name, level, parentID,
	)
	created, err := scanPgCategory(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: create category %s", name)
	}
	return created, nil
}

func (s *PostgresStore) ListCategories(ctx context.Context) ([]model.Category, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, level, parent_id, display_order FROM indicator_categories
		 ORDER BY display_order, id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list categories")
	}
	defer rows.Close()

	var cats []model.Category
	for rows.Next() {
		var c model.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Level, &c.ParentID, &c.DisplayOrder); err != nil {
			return nil, eris.Wrap(err, "postgres: scan category")
		}
		cats = append(cats, c)
	}
	return cats, eris.Wrap(rows.Err(), "postgres: list categories iterate")
}

// --- Indicators ---

func (s *PostgresStore) GetIndicatorByCode(ctx context.Context, code string) (*model.Indicator, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, code, english_name, description, frequency, units,
		        seasonal_adjustment, last_updated, category_id, fred_url, display_order
		 FROM economic_indicators WHERE code = $1`,
		code,
	)
	ind, err := scanPgIndicator(row)
	if err != nil {
		return nil, err
	}
	return ind, nil
}

func (s *PostgresStore) CreateIndicator(ctx context.Context, ind *model.Indicator) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO economic_indicators
		 (name, code, english_name, description, frequency, units, seasonal_adjustment,
		  last_updated, category_id, fred_url, display_order)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		         (SELECT COALESCE(MAX(display_order), 0) + 1 FROM economic_indicators))
		 RETURNING id`,
		ind.Name, ind.Code, ind.EnglishName, ind.Description, ind.Frequency, ind.Units,
		ind.SeasonalAdjustment, ind.LastUpdated, ind.CategoryID, ind.ReferenceURL,
	).Scan(&ind.ID)
	return eris.Wrapf(err, "postgres: create indicator %s", ind.Code)
}

func (s *PostgresStore) UpdateIndicator(ctx context.Context, ind *model.Indicator) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE economic_indicators
		 SET name = $1, english_name = $2, description = $3, frequency = $4, units = $5,
		     seasonal_adjustment = $6, last_updated = $7, category_id = $8, fred_url = $9
		 WHERE id = $10`,
		ind.Name, ind.EnglishName, ind.Description, ind.Frequency, ind.Units,
		ind.SeasonalAdjustment, ind.LastUpdated, ind.CategoryID, ind.ReferenceURL, ind.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update indicator %s", ind.Code)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("indicator not found: %s", ind.Code)
	}
	return nil
}

func (s *PostgresStore) ListIndicators(ctx context.Context) ([]model.Indicator, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, code, english_name, description, frequency, units,
		        seasonal_adjustment, last_updated, category_id, fred_url, display_order
		 FROM economic_indicators ORDER BY display_order, id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list indicators")
	}
	defer rows.Close()

	var inds []model.Indicator
	for rows.Next() {
		var ind model.Indicator
		if err := rows.Scan(&ind.ID, &ind.Name, &ind.Code, &ind.EnglishName, &ind.Description,
			&ind.Frequency, &ind.Units, &ind.SeasonalAdjustment, &ind.LastUpdated,
			&ind.CategoryID, &ind.ReferenceURL, &ind.DisplayOrder); err != nil {
			return nil, eris.Wrap(err, "postgres: scan indicator")
		}
		inds = append(inds, ind)
	}
	return inds, eris.Wrap(rows.Err(), "postgres: list indicators iterate")
}

func (s *PostgresStore) BackfillReferenceURLs(ctx context.Context, urlForCode func(code string) string) (int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, code FROM economic_indicators WHERE fred_url = ''`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: list indicators without url")
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
			return 0, eris.Wrap(err, "postgres: scan indicator id/code")
		}
		todo = append(todo, p)
	}
	if err := rows.Err(); err != nil {
		return 0, eris.Wrap(err, "postgres: iterate indicators without url")
	}

	var n int64
	for _, p := range todo {
		if _, err := s.pool.Exec(ctx,
			`UPDATE economic_indicators SET fred_url = $1 WHERE id = $2`,
			urlForCode(p.code), p.id,
		); err != nil {
			return n, eris.Wrapf(err, "postgres: backfill url for %s", p.code)
		}
		n++
	}
	return n, nil
}

// --- Observations ---

func (s *PostgresStore) LatestObservationDate(ctx context.Context, indicatorID int64) (*time.Time, error) {
	var d *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT MAX(date) FROM indicator_data WHERE indicator_id = $1`,
		indicatorID,
	).Scan(&d)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: latest observation for %d", indicatorID)
	}
	return d, nil
}

func (s *PostgresStore) SyncObservations(ctx context.Context, indicatorID int64, obs []model.Observation, fullRefresh bool) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin observations tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if fullRefresh {
		if _, err := tx.Exec(ctx,
			`DELETE FROM indicator_data WHERE indicator_id = $1`, indicatorID,
		); err != nil {
			return 0, eris.Wrapf(err, "postgres: full refresh delete for %d", indicatorID)
		}
	}

	var inserted int64
	for _, o := range obs {
		tag, err := tx.Exec(ctx,
			`INSERT INTO indicator_data (indicator_id, date, value) VALUES ($1, $2, $3)
			 ON CONFLICT (indicator_id, date) DO NOTHING`,
			indicatorID, o.Date, o.Value,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: insert observation %s", o.Date.Format(obsDateLayout))
		}
		inserted += tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: commit observations tx")
	}
	return inserted, nil
}

// --- Ordering ---

func (s *PostgresStore) ApplyIndicatorOrdering(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		WITH ranked AS (
			SELECT i.id AS iid,
			       ROW_NUMBER() OVER (
			           ORDER BY c.display_order, c.id, i.display_order, i.id
			       ) AS rn
			FROM economic_indicators i
			JOIN indicator_categories c ON c.id = i.category_id
		)
		UPDATE economic_indicators
		SET display_order = ranked.rn
		FROM ranked WHERE economic_indicators.id = ranked.iid`,
	)
	return eris.Wrap(err, "postgres: apply indicator ordering")
}

// --- Run log ---

func (s *PostgresStore) StartRun(ctx context.Context, source string) (string, error) {
	id := uuid.New().String()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sync_runs (id, source, status, started_at) VALUES ($1, $2, $3, now())`,
		id, source, string(model.RunStatusRunning),
	)
	if err != nil {
		return "", eris.Wrap(err, "postgres: start run")
	}
	return id, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, sum model.RunSummary) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sync_runs
		 SET status = $1, completed_at = now(), rows_processed = $2, indicators_created = $3,
		     indicators_updated = $4, rows_skipped = $5, rows_failed = $6, observations_inserted = $7
		 WHERE id = $8`,
		string(model.RunStatusComplete), sum.Rows, sum.IndicatorsCreated, sum.IndicatorsUpdated,
		sum.RowsSkipped, sum.RowsFailed, sum.ObservationsInserted, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sync_runs SET status = $1, completed_at = now(), error = $2 WHERE id = $3`,
		string(model.RunStatusFailed), errMsg, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]model.SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, source, status, started_at, completed_at, rows_processed,
		        indicators_created, indicators_updated, rows_skipped, rows_failed,
		        observations_inserted, error
		 FROM sync_runs ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.SyncRun
	for rows.Next() {
		var r model.SyncRun
		var status string
		var errMsg *string
		if err := rows.Scan(&r.ID, &r.Source, &status, &r.StartedAt, &r.CompletedAt,
			&r.Summary.Rows, &r.Summary.IndicatorsCreated, &r.Summary.IndicatorsUpdated,
			&r.Summary.RowsSkipped, &r.Summary.RowsFailed, &r.Summary.ObservationsInserted,
			&errMsg); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		r.Status = model.RunStatus(status)
		if errMsg != nil {
			r.Error = *errMsg
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// --- Stats ---

func (s *PostgresStore) Stats(ctx context.Context) (*model.CatalogStats, error) {
	var st model.CatalogStats
	err := s.pool.QueryRow(ctx,
		`SELECT (SELECT COUNT(*) FROM indicator_categories),
		        (SELECT COUNT(*) FROM economic_indicators),
		        (SELECT COUNT(*) FROM indicator_data)`,
	).Scan(&st.Categories, &st.Indicators, &st.Observations)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: stats")
	}
	return &st, nil
}

// --- helpers ---

func scanPgCategory(row pgx.Row) (*model.Category, error) {
	var c model.Category
	err := row.Scan(&c.ID, &c.Name, &c.Level, &c.ParentID, &c.DisplayOrder)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan category")
	}
	return &c, nil
}

func scanPgIndicator(row pgx.Row) (*model.Indicator, error) {
	var ind model.Indicator
	err := row.Scan(&ind.ID, &ind.Name, &ind.Code, &ind.EnglishName, &ind.Description,
		&ind.Frequency, &ind.Units, &ind.SeasonalAdjustment, &ind.LastUpdated,
		&ind.CategoryID, &ind.ReferenceURL, &ind.DisplayOrder)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan indicator")
	}
	return &ind, nil
}
