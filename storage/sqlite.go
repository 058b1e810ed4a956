package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"dealer_scraper/models"
)

const vehicleColumns = `id, vin, dealer, title, year, make, model, trim, msrp, price, odometer,
	ext_color, int_color, options, dealer_platform, source_url, scraped_at, updated_at, created_at`

const jobColumns = `id, platform, status, vehicles_scraped, dealers_scraped, error_message,
	started_at, completed_at, pid`

type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens dbPath with WAL and immediate write transactions, so
// concurrent writers to the same VIN serialize instead of deadlocking.
func NewSQLiteStore(dbPath string, migrate bool) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, err
	}

	store := newSQLiteStore(db)
	if migrate {
		if err := store.migrate(); err != nil {
			db.Close()
			return nil, err
		}
	}
	return store, nil
}

func newSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS vehicles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		vin TEXT NOT NULL UNIQUE,
		dealer TEXT NOT NULL,
		title TEXT NOT NULL,
		year INTEGER CHECK (year IS NULL OR year BETWEEN 1980 AND 2030),
		make TEXT NOT NULL DEFAULT 'BMW',
		model TEXT NOT NULL DEFAULT 'X3',
		trim TEXT,
		msrp REAL,
		price REAL,
		odometer INTEGER,
		ext_color TEXT,
		int_color TEXT,
		options TEXT,
		dealer_platform TEXT NOT NULL,
		source_url TEXT NOT NULL,
		scraped_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_vehicles_dealer ON vehicles(dealer);
	CREATE INDEX IF NOT EXISTS idx_vehicles_model ON vehicles(model);
	CREATE INDEX IF NOT EXISTS idx_vehicles_year ON vehicles(year);
	CREATE INDEX IF NOT EXISTS idx_vehicles_price ON vehicles(price);
	CREATE INDEX IF NOT EXISTS idx_vehicles_platform ON vehicles(dealer_platform);

	CREATE TABLE IF NOT EXISTS scrape_jobs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		platform TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'running',
		vehicles_scraped INTEGER NOT NULL DEFAULT 0,
		dealers_scraped INTEGER NOT NULL DEFAULT 0,
		error_message TEXT,
		started_at DATETIME NOT NULL,
		completed_at DATETIME,
		pid INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_scrape_jobs_started ON scrape_jobs(started_at);

	CREATE TABLE IF NOT EXISTS scrape_logs (
		id INTEGER PRIMARY KEY,
		job_id INTEGER,
		timestamp DATETIME NOT NULL,
		level TEXT NOT NULL,
		message TEXT NOT NULL,
		dealer TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_scrape_logs_job ON scrape_logs(job_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// Vehicles
// =============================================================================

// UpsertVehicle inserts a first sighting or merges non-null fields into the
// stored row, all inside one transaction per record.
func (s *SQLiteStore) UpsertVehicle(ctx context.Context, v *models.Vehicle) (*UpsertResult, error) {
	if v.VIN == "" {
		return nil, fmt.Errorf("upsert vehicle: empty vin")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}

	res, err := s.upsertTx(ctx, tx, v)
	if err != nil {
		tx.Rollback()
		return nil, classifySQLiteError(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, classifySQLiteError(fmt.Errorf("commit: %w", err))
	}
	return res, nil
}

func (s *SQLiteStore) upsertTx(ctx context.Context, tx *sql.Tx, v *models.Vehicle) (*UpsertResult, error) {
	var id int64
	var prevUpdated time.Time
	err := tx.QueryRowContext(ctx, `SELECT id, updated_at FROM vehicles WHERE vin = ?`, v.VIN).Scan(&id, &prevUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return s.insertVehicle(ctx, tx, v)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup vin %s: %w", v.VIN, err)
	}

	now := nextTimestamp(s.now(), prevUpdated)
	_, err = tx.ExecContext(ctx, `
		UPDATE vehicles SET
			dealer = COALESCE(?, dealer),
			title = COALESCE(?, title),
			year = COALESCE(?, year),
			make = COALESCE(?, make),
			model = COALESCE(?, model),
			trim = COALESCE(?, trim),
			msrp = COALESCE(?, msrp),
			price = COALESCE(?, price),
			odometer = COALESCE(?, odometer),
			ext_color = COALESCE(?, ext_color),
			int_color = COALESCE(?, int_color),
			options = COALESCE(?, options),
			dealer_platform = COALESCE(?, dealer_platform),
			source_url = COALESCE(?, source_url),
			scraped_at = ?,
			updated_at = ?
		WHERE id = ?`,
		nullIfEmpty(v.Dealer), v.Title, v.Year, v.Make, v.Model, v.Trim,
		v.MSRP, v.Price, v.Odometer, v.ExtColor, v.IntColor, v.Options,
		nullIfEmpty(v.DealerPlatform), nullIfEmpty(v.SourceURL),
		now, now, id)
	if err != nil {
		return nil, fmt.Errorf("merge vin %s: %w", v.VIN, err)
	}
	return &UpsertResult{ID: id, UpdatedAt: now}, nil
}

func (s *SQLiteStore) insertVehicle(ctx context.Context, tx *sql.Tx, v *models.Vehicle) (*UpsertResult, error) {
	now := s.now()
	title, brand, model := insertDefaults(v)

	result, err := tx.ExecContext(ctx, `
		INSERT INTO vehicles (vin, dealer, title, year, make, model, trim, msrp, price, odometer,
			ext_color, int_color, options, dealer_platform, source_url, scraped_at, updated_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.VIN, v.Dealer, title, v.Year, brand, model, v.Trim, v.MSRP, v.Price, v.Odometer,
		v.ExtColor, v.IntColor, v.Options, v.DealerPlatform, v.SourceURL, now, now, now)
	if err != nil {
		return nil, fmt.Errorf("insert vin %s: %w", v.VIN, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &UpsertResult{ID: id, Inserted: true, UpdatedAt: now}, nil
}

func classifySQLiteError(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%w: %v", ErrPersistenceConflict, err)
	}
	return err
}

func (s *SQLiteStore) GetVehicle(ctx context.Context, vin string) (*models.Vehicle, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+vehicleColumns+` FROM vehicles WHERE vin = ?`, vin)
	v, err := scanVehicle(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (s *SQLiteStore) ListVehicles(ctx context.Context, f models.VehicleFilter) ([]models.Vehicle, error) {
	where, args := vehicleFilterClause(f, func(int) string { return "?" })
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + vehicleColumns + ` FROM vehicles` + where + ` ORDER BY price DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, append(args, limit)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var vehicles []models.Vehicle
	for rows.Next() {
		v, err := scanVehicle(rows)
		if err != nil {
			return nil, err
		}
		vehicles = append(vehicles, *v)
	}
	return vehicles, rows.Err()
}

func (s *SQLiteStore) Stats(ctx context.Context) (*models.InventoryStats, error) {
	stats := &models.InventoryStats{}
	var last sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT dealer), MAX(updated_at) FROM vehicles`).
		Scan(&stats.TotalVehicles, &stats.TotalDealers, &last)
	if err != nil {
		return nil, err
	}
	if last.Valid {
		if t, ok := parseSQLiteTime(last.String); ok {
			stats.LastUpdated = &t
		}
	}
	return stats, nil
}

func (s *SQLiteStore) ListDealers(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, `SELECT DISTINCT dealer FROM vehicles WHERE dealer != '' ORDER BY dealer`)
}

func (s *SQLiteStore) ListModels(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, `SELECT DISTINCT model FROM vehicles WHERE model IS NOT NULL AND model != '' ORDER BY model`)
}

func (s *SQLiteStore) distinct(ctx context.Context, query string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// parseSQLiteTime reads timestamps returned from aggregate expressions, which
// the driver hands back as text.
func parseSQLiteTime(s string) (time.Time, bool) {
	for _, layout := range sqlite3.SQLiteTimestampFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// =============================================================================
// Jobs
// =============================================================================

func (s *SQLiteStore) CreateJob(ctx context.Context, job *models.ScrapeJob) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO scrape_jobs (platform, status, vehicles_scraped, dealers_scraped, started_at, pid)
		VALUES (?, ?, 0, 0, ?, ?)`,
		job.Platform, job.Status, job.StartedAt, job.PID)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *SQLiteStore) GetJob(ctx context.Context, id int64) (*models.ScrapeJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM scrape_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return job, err
}

func (s *SQLiteStore) LatestJob(ctx context.Context) (*models.ScrapeJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM scrape_jobs ORDER BY started_at DESC, id DESC LIMIT 1`)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return job, err
}

func (s *SQLiteStore) AttachProcess(ctx context.Context, id int64, pid int) (bool, error) {
	return s.execRunning(ctx, `UPDATE scrape_jobs SET pid = ? WHERE id = ? AND status = 'running'`, pid, id)
}

func (s *SQLiteStore) UpdateJobProgress(ctx context.Context, id int64, vehicles, dealers int) (bool, error) {
	return s.execRunning(ctx, `
		UPDATE scrape_jobs SET vehicles_scraped = ?, dealers_scraped = ?
		WHERE id = ? AND status = 'running'`,
		vehicles, dealers, id)
}

func (s *SQLiteStore) FinishJob(ctx context.Context, id int64, fin models.JobFinish) (bool, error) {
	return s.execRunning(ctx, `
		UPDATE scrape_jobs SET
			status = ?,
			error_message = ?,
			completed_at = ?,
			vehicles_scraped = COALESCE(?, vehicles_scraped),
			dealers_scraped = COALESCE(?, dealers_scraped)
		WHERE id = ? AND status = 'running'`,
		fin.Status, fin.ErrorMessage, fin.CompletedAt, fin.VehiclesScraped, fin.DealersScraped, id)
}

func (s *SQLiteStore) execRunning(ctx context.Context, query string, args ...any) (bool, error) {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// =============================================================================
// Logs
// =============================================================================

func (s *SQLiteStore) AddLog(ctx context.Context, jobID *int64, level models.LogLevel, message, dealer string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scrape_logs (job_id, timestamp, level, message, dealer)
		VALUES (?, ?, ?, ?, ?)`,
		jobID, s.now(), level, message, dealer)
	return err
}

func (s *SQLiteStore) ListLogs(ctx context.Context, jobID int64, limit int) ([]models.ScrapeLog, error) {
	if limit <= 0 {
		limit = defaultLogLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, timestamp, level, message, dealer FROM scrape_logs
		WHERE job_id = ? ORDER BY id DESC LIMIT ?`, jobID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.ScrapeLog
	for rows.Next() {
		entry, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(logs)
	return logs, nil
}

// =============================================================================
// Scanning
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVehicle(row rowScanner) (*models.Vehicle, error) {
	var v models.Vehicle
	var (
		title, trim, extColor, intColor, options sql.NullString
		brand, model                              sql.NullString
		year, odometer                            sql.NullInt64
		msrp, price                               sql.NullFloat64
	)
	err := row.Scan(&v.ID, &v.VIN, &v.Dealer, &title, &year, &brand, &model, &trim,
		&msrp, &price, &odometer, &extColor, &intColor, &options,
		&v.DealerPlatform, &v.SourceURL, &v.ScrapedAt, &v.UpdatedAt, &v.CreatedAt)
	if err != nil {
		return nil, err
	}

	v.Title = nullString(title)
	v.Make = nullString(brand)
	v.Model = nullString(model)
	v.Trim = nullString(trim)
	v.ExtColor = nullString(extColor)
	v.IntColor = nullString(intColor)
	v.Options = nullString(options)
	v.Year = nullInt(year)
	v.Odometer = nullInt(odometer)
	if msrp.Valid {
		v.MSRP = &msrp.Float64
	}
	if price.Valid {
		v.Price = &price.Float64
	}
	return &v, nil
}

func scanJob(row rowScanner) (*models.ScrapeJob, error) {
	var job models.ScrapeJob
	var errMsg sql.NullString
	var completed sql.NullTime
	var pid sql.NullInt64
	err := row.Scan(&job.ID, &job.Platform, &job.Status, &job.VehiclesScraped, &job.DealersScraped,
		&errMsg, &job.StartedAt, &completed, &pid)
	if err != nil {
		return nil, err
	}
	job.ErrorMessage = nullString(errMsg)
	if completed.Valid {
		job.CompletedAt = &completed.Time
	}
	job.PID = nullInt(pid)
	return &job, nil
}

func scanLog(row rowScanner) (*models.ScrapeLog, error) {
	var entry models.ScrapeLog
	var jobID sql.NullInt64
	var level string
	var dealer sql.NullString
	if err := row.Scan(&entry.ID, &jobID, &entry.Timestamp, &level, &entry.Message, &dealer); err != nil {
		return nil, err
	}
	if jobID.Valid {
		entry.JobID = &jobID.Int64
	}
	entry.Level = models.LogLevel(level)
	entry.Dealer = dealer.String
	return &entry, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func nullInt(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	i := int(ni.Int64)
	return &i
}

// vehicleFilterClause builds a WHERE clause; placeholder renders the nth bind
// parameter for the target dialect.
func vehicleFilterClause(f models.VehicleFilter, placeholder func(n int) string) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, strings.ReplaceAll(cond, "$", placeholder(len(args))))
	}

	if f.Dealer != "" {
		add("dealer = $", f.Dealer)
	}
	if f.Model != "" {
		add("LOWER(model) LIKE LOWER($)", "%"+f.Model+"%")
	}
	if f.MinPrice != nil {
		add("price >= $", *f.MinPrice)
	}
	if f.MaxPrice != nil {
		add("price <= $", *f.MaxPrice)
	}
	if f.Search != "" {
		pattern := "%" + f.Search + "%"
		args = append(args, pattern)
		first := placeholder(len(args))
		args = append(args, pattern)
		second := placeholder(len(args))
		conds = append(conds, fmt.Sprintf("(LOWER(title) LIKE LOWER(%s) OR vin LIKE %s)", first, second))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
