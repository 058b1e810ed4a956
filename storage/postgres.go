package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"dealer_scraper/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string, migrate bool) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if migrate {
		if err := store.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return store, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS vehicles (
			id BIGSERIAL PRIMARY KEY,
			vin VARCHAR(17) NOT NULL UNIQUE,
			dealer TEXT NOT NULL,
			title TEXT NOT NULL,
			year INTEGER CHECK (year IS NULL OR year BETWEEN 1980 AND 2030),
			make TEXT NOT NULL DEFAULT 'BMW',
			model TEXT NOT NULL DEFAULT 'X3',
			"trim" TEXT,
			msrp DOUBLE PRECISION,
			price DOUBLE PRECISION,
			odometer INTEGER,
			ext_color TEXT,
			int_color TEXT,
			options TEXT,
			dealer_platform TEXT NOT NULL,
			source_url TEXT NOT NULL,
			scraped_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_vehicles_dealer ON vehicles(dealer);
		CREATE INDEX IF NOT EXISTS idx_vehicles_model ON vehicles(model);
		CREATE INDEX IF NOT EXISTS idx_vehicles_price ON vehicles(price);

		CREATE TABLE IF NOT EXISTS scrape_jobs (
			id BIGSERIAL PRIMARY KEY,
			platform TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'running',
			vehicles_scraped INTEGER NOT NULL DEFAULT 0,
			dealers_scraped INTEGER NOT NULL DEFAULT 0,
			error_message TEXT,
			started_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ,
			pid INTEGER
		);

		CREATE TABLE IF NOT EXISTS scrape_logs (
			id BIGSERIAL PRIMARY KEY,
			job_id BIGINT,
			timestamp TIMESTAMPTZ NOT NULL,
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			dealer TEXT
		);
	`)
	return err
}

// =============================================================================
// Vehicles
// =============================================================================

// UpsertVehicle relies on ON CONFLICT (vin) so the insert-or-merge is one atomic
// statement; title/make/model take raw parameters on conflict because the
// inserted values already carry defaults.
func (s *PostgresStore) UpsertVehicle(ctx context.Context, v *models.Vehicle) (*UpsertResult, error) {
	if v.VIN == "" {
		return nil, fmt.Errorf("upsert vehicle: empty vin")
	}
	title, brand, model := insertDefaults(v)

	query := `
		INSERT INTO vehicles (
			vin, dealer, title, year, make, model, "trim", msrp, price, odometer,
			ext_color, int_color, options, dealer_platform, source_url,
			scraped_at, updated_at, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW(), NOW(), NOW()
		)
		ON CONFLICT (vin) DO UPDATE SET
			dealer = COALESCE(NULLIF(EXCLUDED.dealer, ''), vehicles.dealer),
			title = COALESCE($16::text, vehicles.title),
			year = COALESCE(EXCLUDED.year, vehicles.year),
			make = COALESCE($17::text, vehicles.make),
			model = COALESCE($18::text, vehicles.model),
			"trim" = COALESCE(EXCLUDED."trim", vehicles."trim"),
			msrp = COALESCE(EXCLUDED.msrp, vehicles.msrp),
			price = COALESCE(EXCLUDED.price, vehicles.price),
			odometer = COALESCE(EXCLUDED.odometer, vehicles.odometer),
			ext_color = COALESCE(EXCLUDED.ext_color, vehicles.ext_color),
			int_color = COALESCE(EXCLUDED.int_color, vehicles.int_color),
			options = COALESCE(EXCLUDED.options, vehicles.options),
			dealer_platform = COALESCE(NULLIF(EXCLUDED.dealer_platform, ''), vehicles.dealer_platform),
			source_url = COALESCE(NULLIF(EXCLUDED.source_url, ''), vehicles.source_url),
			scraped_at = NOW(),
			updated_at = GREATEST(NOW(), vehicles.updated_at + INTERVAL '1 microsecond')
		RETURNING id, (xmax = 0) AS inserted, updated_at`

	res := &UpsertResult{}
	err := s.pool.QueryRow(ctx, query,
		v.VIN, v.Dealer, title, v.Year, brand, model, v.Trim, v.MSRP, v.Price, v.Odometer,
		v.ExtColor, v.IntColor, v.Options, v.DealerPlatform, v.SourceURL,
		v.Title, v.Make, v.Model,
	).Scan(&res.ID, &res.Inserted, &res.UpdatedAt)
	if err != nil {
		return nil, classifyPgError(fmt.Errorf("upsert vin %s: %w", v.VIN, err))
	}
	return res, nil
}

func classifyPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "23") {
		return fmt.Errorf("%w: %v", ErrPersistenceConflict, err)
	}
	return err
}

const pgVehicleColumns = `id, vin, dealer, title, year, make, model, "trim", msrp, price, odometer,
	ext_color, int_color, options, dealer_platform, source_url, scraped_at, updated_at, created_at`

func (s *PostgresStore) GetVehicle(ctx context.Context, vin string) (*models.Vehicle, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgVehicleColumns+` FROM vehicles WHERE vin = $1`, vin)
	v, err := scanPgVehicle(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (s *PostgresStore) ListVehicles(ctx context.Context, f models.VehicleFilter) ([]models.Vehicle, error) {
	where, args := vehicleFilterClause(f, func(n int) string { return fmt.Sprintf("$%d", n) })
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	query := fmt.Sprintf(`SELECT %s FROM vehicles%s ORDER BY price DESC NULLS LAST LIMIT $%d`,
		pgVehicleColumns, where, len(args))
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var vehicles []models.Vehicle
	for rows.Next() {
		v, err := scanPgVehicle(rows)
		if err != nil {
			return nil, err
		}
		vehicles = append(vehicles, *v)
	}
	return vehicles, rows.Err()
}

func (s *PostgresStore) Stats(ctx context.Context) (*models.InventoryStats, error) {
	stats := &models.InventoryStats{}
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT dealer), MAX(updated_at) FROM vehicles`).
		Scan(&stats.TotalVehicles, &stats.TotalDealers, &stats.LastUpdated)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *PostgresStore) ListDealers(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT dealer FROM vehicles WHERE dealer <> '' ORDER BY dealer`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *PostgresStore) ListModels(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT model FROM vehicles WHERE model IS NOT NULL AND model <> '' ORDER BY model`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func scanPgVehicle(row pgx.Row) (*models.Vehicle, error) {
	var v models.Vehicle
	err := row.Scan(&v.ID, &v.VIN, &v.Dealer, &v.Title, &v.Year, &v.Make, &v.Model, &v.Trim,
		&v.MSRP, &v.Price, &v.Odometer, &v.ExtColor, &v.IntColor, &v.Options,
		&v.DealerPlatform, &v.SourceURL, &v.ScrapedAt, &v.UpdatedAt, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// =============================================================================
// Jobs
// =============================================================================

const pgJobColumns = `id, platform, status, vehicles_scraped, dealers_scraped, error_message,
	started_at, completed_at, pid`

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.ScrapeJob) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO scrape_jobs (platform, status, vehicles_scraped, dealers_scraped, started_at, pid)
		VALUES ($1, $2, 0, 0, $3, $4)
		RETURNING id`,
		job.Platform, string(job.Status), job.StartedAt, job.PID).Scan(&id)
	return id, err
}

func (s *PostgresStore) GetJob(ctx context.Context, id int64) (*models.ScrapeJob, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgJobColumns+` FROM scrape_jobs WHERE id = $1`, id)
	job, err := scanPgJob(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return job, err
}

func (s *PostgresStore) LatestJob(ctx context.Context) (*models.ScrapeJob, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgJobColumns+` FROM scrape_jobs ORDER BY started_at DESC, id DESC LIMIT 1`)
	job, err := scanPgJob(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return job, err
}

func (s *PostgresStore) AttachProcess(ctx context.Context, id int64, pid int) (bool, error) {
	return s.execRunning(ctx, `UPDATE scrape_jobs SET pid = $1 WHERE id = $2 AND status = 'running'`, pid, id)
}

func (s *PostgresStore) UpdateJobProgress(ctx context.Context, id int64, vehicles, dealers int) (bool, error) {
	return s.execRunning(ctx, `
		UPDATE scrape_jobs SET vehicles_scraped = $1, dealers_scraped = $2
		WHERE id = $3 AND status = 'running'`,
		vehicles, dealers, id)
}

func (s *PostgresStore) FinishJob(ctx context.Context, id int64, fin models.JobFinish) (bool, error) {
	return s.execRunning(ctx, `
		UPDATE scrape_jobs SET
			status = $1,
			error_message = $2,
			completed_at = $3,
			vehicles_scraped = COALESCE($4, vehicles_scraped),
			dealers_scraped = COALESCE($5, dealers_scraped)
		WHERE id = $6 AND status = 'running'`,
		string(fin.Status), fin.ErrorMessage, fin.CompletedAt, fin.VehiclesScraped, fin.DealersScraped, id)
}

func (s *PostgresStore) execRunning(ctx context.Context, query string, args ...any) (bool, error) {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func scanPgJob(row pgx.Row) (*models.ScrapeJob, error) {
	var job models.ScrapeJob
	var status string
	err := row.Scan(&job.ID, &job.Platform, &status, &job.VehiclesScraped, &job.DealersScraped,
		&job.ErrorMessage, &job.StartedAt, &job.CompletedAt, &job.PID)
	if err != nil {
		return nil, err
	}
	job.Status = models.JobStatus(status)
	return &job, nil
}

// =============================================================================
// Logs
// =============================================================================

func (s *PostgresStore) AddLog(ctx context.Context, jobID *int64, level models.LogLevel, message, dealer string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scrape_logs (job_id, timestamp, level, message, dealer)
		VALUES ($1, NOW(), $2, $3, $4)`,
		jobID, string(level), message, dealer)
	return err
}

func (s *PostgresStore) ListLogs(ctx context.Context, jobID int64, limit int) ([]models.ScrapeLog, error) {
	if limit <= 0 {
		limit = defaultLogLimit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, job_id, timestamp, level, message, dealer FROM (
			SELECT id, job_id, timestamp, level, message, dealer FROM scrape_logs
			WHERE job_id = $1 ORDER BY id DESC LIMIT $2
		) recent ORDER BY id`, jobID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.ScrapeLog
	for rows.Next() {
		var entry models.ScrapeLog
		var level string
		var dealer *string
		if err := rows.Scan(&entry.ID, &entry.JobID, &entry.Timestamp, &level, &entry.Message, &dealer); err != nil {
			return nil, err
		}
		entry.Level = models.LogLevel(level)
		if dealer != nil {
			entry.Dealer = *dealer
		}
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}
