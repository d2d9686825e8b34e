package server

import (
	"context"
	"database/sql"

	"github.com/usagebeacon/beacon/pkg/api"
	"github.com/usagebeacon/beacon/pkg/sqliteutil"
)

// RollupStore persists collected counters, further aggregated by approximate
// city. Ingest is additive, so duplicate or split deliveries of the same
// counters only ever over-count, never fail.
type RollupStore struct {
	db *sql.DB
}

// NewRollupStore opens (or creates) the rollup database at path.
func NewRollupStore(path string) (*RollupStore, error) {
	db, err := sqliteutil.OpenDB(path)
	if err != nil {
		return nil, err
	}

	_, err = db.ExecContext(context.Background(), `
		CREATE TABLE IF NOT EXISTS usage_rollup (
			component TEXT NOT NULL,
			event TEXT NOT NULL,
			day TEXT NOT NULL,
			city TEXT NOT NULL,
			times INTEGER NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		db.Close()
		if sqliteutil.IsCantOpenError(err) {
			return nil, sqliteutil.DiagnoseDBOpenError(path, err)
		}
		return nil, err
	}

	_, err = db.ExecContext(context.Background(), `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_usage_rollup_key
			ON usage_rollup(component, event, day, city)
	`)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &RollupStore{db: db}, nil
}

// Ingest adds the records to the rollup under the given city label.
func (s *RollupStore) Ingest(ctx context.Context, records []api.UsageRecord, city string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, r := range records {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO usage_rollup (component, event, day, city, times)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(component, event, day, city) DO UPDATE SET times = times + excluded.times`,
			r.Component, r.Event, r.Day, city, r.Times)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Stats computes the aggregate report over everything collected so far.
func (s *RollupStore) Stats(ctx context.Context) (*api.StatsReport, error) {
	report := &api.StatsReport{}

	row := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(times), 0), COUNT(DISTINCT component) FROM usage_rollup")
	if err := row.Scan(&report.TotalEvents, &report.UniqueComponents); err != nil {
		return nil, err
	}

	byDay, err := s.groupBy(ctx, "day", "day")
	if err != nil {
		return nil, err
	}
	for _, g := range byDay {
		report.ByDay = append(report.ByDay, api.DailyCount{Day: g.Name, Times: g.Times})
	}

	if report.ByComponent, err = s.groupBy(ctx, "component", "total"); err != nil {
		return nil, err
	}
	if report.ByEvent, err = s.groupBy(ctx, "event", "total"); err != nil {
		return nil, err
	}
	if report.ByCity, err = s.groupBy(ctx, "city", "total"); err != nil {
		return nil, err
	}

	return report, nil
}

// groupBy sums times per distinct value of column. Ordering is chronological
// for days, by descending total otherwise.
func (s *RollupStore) groupBy(ctx context.Context, column, order string) ([]api.NamedCount, error) {
	query := "SELECT " + column + ", SUM(times) AS total FROM usage_rollup GROUP BY " + column
	switch order {
	case "day":
		query += " ORDER BY day"
	default:
		query += " ORDER BY total DESC, " + column
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []api.NamedCount
	for rows.Next() {
		var g api.NamedCount
		if err := rows.Scan(&g.Name, &g.Times); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// Components lists the distinct components seen by the collector.
func (s *RollupStore) Components(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT component FROM usage_rollup ORDER BY component")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var components []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		components = append(components, c)
	}
	return components, rows.Err()
}

// Close closes the database connection.
func (s *RollupStore) Close() error {
	return s.db.Close()
}
