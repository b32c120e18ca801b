package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nao1215/driftscan/internal/model"
)

// CrawlDB provides SQLite-based storage for crawl history.
// It manages connection pooling and provides methods for CRUD operations.
//
// Design decision: We use a single database file for all endpoints rather
// than one file per endpoint. This simplifies cross-run queries and
// backup/restore operations.
type CrawlDB struct {
	// db is the underlying SQL database connection.
	db *sql.DB

	// dbPath is the path to the SQLite database file.
	dbPath string
}

// Options configures CrawlDB behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging for better concurrent performance.
	// This is recommended for most use cases.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates a CrawlDB at the specified path.
// If CreateIfNotExists is true, the directory and database file are created.
// If CreateIfNotExists is false and the database doesn't exist, an error is returned.
func Open(dbDir string, opts Options) (*CrawlDB, error) {
	dbPath := filepath.Join(dbDir, "driftscan.db")

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("database not found at %s (use CreateIfNotExists option to create)", dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else {
		if err := os.MkdirAll(dbDir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// modernc.org/sqlite uses its own connection string format:
	// mode=rw prevents creating new files, mode=rwc allows creation.
	var dsn string
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	} else {
		dsn = dbPath + "?mode=rw"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer; multiple connections buy nothing
	// for this workload.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cdb := &CrawlDB{
		db:     db,
		dbPath: dbPath,
	}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := cdb.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return cdb, nil
}

// Close closes the database connection.
func (cdb *CrawlDB) Close() error {
	return cdb.db.Close()
}

// createTables creates the database schema if it doesn't exist.
func (cdb *CrawlDB) createTables() error {
	schema := `
	-- Run reports store complete crawl results as JSON
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		endpoint TEXT NOT NULL,
		epoch INTEGER NOT NULL DEFAULT 1,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
		report_json TEXT NOT NULL,
		class_summary TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_endpoint ON runs(endpoint);
	CREATE INDEX IF NOT EXISTS idx_runs_timestamp ON runs(timestamp);

	-- Observations store individual page fetches
	CREATE TABLE IF NOT EXISTS observations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		endpoint TEXT NOT NULL,
		epoch INTEGER NOT NULL,
		page TEXT NOT NULL,
		fingerprint TEXT,
		class TEXT NOT NULL,
		id_count INTEGER DEFAULT 0,
		new_count INTEGER DEFAULT 0,
		failure TEXT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(endpoint, epoch, page)
	);

	CREATE INDEX IF NOT EXISTS idx_obs_endpoint ON observations(endpoint);
	CREATE INDEX IF NOT EXISTS idx_obs_class ON observations(class);
	CREATE INDEX IF NOT EXISTS idx_obs_timestamp ON observations(timestamp);

	-- Drift checks store per-page verification verdicts
	CREATE TABLE IF NOT EXISTS drift_checks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		endpoint TEXT NOT NULL,
		epoch INTEGER NOT NULL,
		page TEXT NOT NULL,
		checkpoint_fingerprint TEXT,
		live_fingerprint TEXT,
		verdict TEXT NOT NULL,
		note TEXT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_drift_endpoint ON drift_checks(endpoint);
	CREATE INDEX IF NOT EXISTS idx_drift_verdict ON drift_checks(verdict);
	`

	_, err := cdb.db.ExecContext(context.Background(), schema)
	return err
}

// ObservationRecord represents a stored page observation.
type ObservationRecord struct {
	ID          int64
	Endpoint    string
	Epoch       int
	Page        model.PageNumber
	Fingerprint string
	Class       model.Class
	Count       int
	New         int
	Failure     string
	Timestamp   time.Time
}

// InsertObservation inserts or updates a page observation.
// Uses UPSERT to handle re-crawls of the same page within an epoch: the
// latest fetch wins, which is what resuming and retry sweeps want.
func (cdb *CrawlDB) InsertObservation(ctx context.Context, record *ObservationRecord) (int64, error) {
	query := `
	INSERT INTO observations (endpoint, epoch, page, fingerprint, class, id_count, new_count, failure)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(endpoint, epoch, page) DO UPDATE SET
		fingerprint = excluded.fingerprint,
		class = excluded.class,
		id_count = excluded.id_count,
		new_count = excluded.new_count,
		failure = excluded.failure,
		timestamp = CURRENT_TIMESTAMP
	`

	result, err := cdb.db.ExecContext(ctx, query,
		record.Endpoint,
		record.Epoch,
		string(record.Page),
		record.Fingerprint,
		string(record.Class),
		record.Count,
		record.New,
		record.Failure,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert observation: %w", err)
	}

	return result.LastInsertId()
}

// GetObservation retrieves one page's observation within an epoch.
func (cdb *CrawlDB) GetObservation(ctx context.Context, endpoint string, epoch int, page model.PageNumber) (*ObservationRecord, error) {
	query := `
	SELECT id, endpoint, epoch, page, fingerprint, class, id_count, new_count, failure, timestamp
	FROM observations
	WHERE endpoint = ? AND epoch = ? AND page = ?
	`

	var record ObservationRecord
	var pageStr, classStr, timestamp string
	var fingerprint, failure sql.NullString

	err := cdb.db.QueryRowContext(ctx, query, endpoint, epoch, string(page)).Scan(
		&record.ID,
		&record.Endpoint,
		&record.Epoch,
		&pageStr,
		&fingerprint,
		&classStr,
		&record.Count,
		&record.New,
		&failure,
		&timestamp,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get observation: %w", err)
	}

	record.Page = model.PageNumber(pageStr)
	record.Class = model.Class(classStr)
	record.Fingerprint = fingerprint.String
	record.Failure = failure.String
	record.Timestamp = parseTimestamp(timestamp)

	return &record, nil
}

// QueryObservations queries observations with optional class filter,
// newest first.
func (cdb *CrawlDB) QueryObservations(ctx context.Context, endpoint string, class model.Class) ([]ObservationRecord, error) {
	query := `
	SELECT id, endpoint, epoch, page, fingerprint, class, id_count, new_count, failure, timestamp
	FROM observations
	WHERE endpoint = ?
	`
	args := []interface{}{endpoint}

	if class != "" {
		query += " AND class = ?"
		args = append(args, string(class))
	}

	query += " ORDER BY timestamp DESC"

	rows, err := cdb.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query observations: %w", err)
	}
	defer rows.Close()

	var results []ObservationRecord
	for rows.Next() {
		var record ObservationRecord
		var pageStr, classStr, timestamp string
		var fingerprint, failure sql.NullString

		err := rows.Scan(
			&record.ID,
			&record.Endpoint,
			&record.Epoch,
			&pageStr,
			&fingerprint,
			&classStr,
			&record.Count,
			&record.New,
			&failure,
			&timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan observation: %w", err)
		}

		record.Page = model.PageNumber(pageStr)
		record.Class = model.Class(classStr)
		record.Fingerprint = fingerprint.String
		record.Failure = failure.String
		record.Timestamp = parseTimestamp(timestamp)
		results = append(results, record)
	}

	return results, rows.Err()
}

// SaveCrawlReport saves a complete crawl report as JSON.
func (cdb *CrawlDB) SaveCrawlReport(ctx context.Context, report *model.CrawlReport) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to serialize report: %w", err)
	}

	summary := map[string]int{}
	for class, n := range report.Counts {
		summary[string(class)] = n
	}
	summaryJSON, _ := json.Marshal(summary) //nolint:errcheck,errchkjson // summary is a simple map; Marshal won't fail

	query := `
	INSERT INTO runs (endpoint, epoch, report_json, class_summary)
	VALUES (?, ?, ?, ?)
	`

	_, err = cdb.db.ExecContext(ctx, query,
		report.Endpoint,
		report.Epoch,
		string(reportJSON),
		string(summaryJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to save crawl report: %w", err)
	}

	return nil
}

// GetLatestCrawlReport retrieves the most recent crawl report for an endpoint.
func (cdb *CrawlDB) GetLatestCrawlReport(ctx context.Context, endpoint string) (*model.CrawlReport, error) {
	query := `
	SELECT report_json FROM runs
	WHERE endpoint = ?
	ORDER BY timestamp DESC, id DESC
	LIMIT 1
	`

	var reportJSON string
	err := cdb.db.QueryRowContext(ctx, query, endpoint).Scan(&reportJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get crawl report: %w", err)
	}

	var report model.CrawlReport
	if err := json.Unmarshal([]byte(reportJSON), &report); err != nil {
		return nil, fmt.Errorf("failed to parse report: %w", err)
	}

	return &report, nil
}

// GetCrawlReportByID retrieves a crawl report by its database ID.
func (cdb *CrawlDB) GetCrawlReportByID(ctx context.Context, id int64) (*model.CrawlReport, error) {
	query := `
	SELECT report_json FROM runs
	WHERE id = ?
	`

	var reportJSON string
	err := cdb.db.QueryRowContext(ctx, query, id).Scan(&reportJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get crawl report: %w", err)
	}

	var report model.CrawlReport
	if err := json.Unmarshal([]byte(reportJSON), &report); err != nil {
		return nil, fmt.Errorf("failed to parse report: %w", err)
	}

	return &report, nil
}

// ListEndpoints returns all endpoints that have run records.
func (cdb *CrawlDB) ListEndpoints(ctx context.Context) ([]string, error) {
	query := `
	SELECT DISTINCT endpoint FROM runs
	ORDER BY endpoint
	`

	rows, err := cdb.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list endpoints: %w", err)
	}
	defer rows.Close()

	var endpoints []string
	for rows.Next() {
		var endpoint string
		if err := rows.Scan(&endpoint); err != nil {
			return nil, fmt.Errorf("failed to scan endpoint: %w", err)
		}
		endpoints = append(endpoints, endpoint)
	}

	return endpoints, rows.Err()
}

// GetRunHistory retrieves all crawl reports for an endpoint, newest first.
func (cdb *CrawlDB) GetRunHistory(ctx context.Context, endpoint string) ([]*model.CrawlReport, error) {
	query := `
	SELECT report_json FROM runs
	WHERE endpoint = ?
	ORDER BY timestamp DESC, id DESC
	`

	rows, err := cdb.db.QueryContext(ctx, query, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to get run history: %w", err)
	}
	defer rows.Close()

	var reports []*model.CrawlReport
	for rows.Next() {
		var reportJSON string
		if err := rows.Scan(&reportJSON); err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}

		var report model.CrawlReport
		if err := json.Unmarshal([]byte(reportJSON), &report); err != nil {
			continue // Skip malformed reports
		}
		reports = append(reports, &report)
	}

	return reports, rows.Err()
}

// RunMetadata contains summary information about a stored crawl run.
// This is used for displaying run history without loading the full report.
type RunMetadata struct {
	// ID is the unique identifier of the run in the database.
	ID int64

	// Endpoint is the crawled listing endpoint.
	Endpoint string

	// Epoch is the epoch the run crawled under.
	Epoch int

	// Timestamp is when the run was recorded.
	Timestamp time.Time

	// ClassSummary contains counts of pages by classification.
	ClassSummary map[string]int
}

// GetRunHistoryWithMetadata retrieves run metadata for an endpoint.
// This is more efficient than GetRunHistory when only metadata is needed.
func (cdb *CrawlDB) GetRunHistoryWithMetadata(ctx context.Context, endpoint string) ([]RunMetadata, error) {
	query := `
	SELECT id, endpoint, epoch, timestamp, class_summary
	FROM runs
	WHERE endpoint = ?
	ORDER BY timestamp DESC, id DESC
	`

	rows, err := cdb.db.QueryContext(ctx, query, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to get run history: %w", err)
	}
	defer rows.Close()

	var results []RunMetadata
	for rows.Next() {
		var meta RunMetadata
		var timestamp string
		var summaryJSON sql.NullString

		if err := rows.Scan(&meta.ID, &meta.Endpoint, &meta.Epoch, &timestamp, &summaryJSON); err != nil {
			return nil, fmt.Errorf("failed to scan metadata: %w", err)
		}

		meta.Timestamp = parseTimestamp(timestamp)

		if summaryJSON.Valid && summaryJSON.String != "" {
			if err := json.Unmarshal([]byte(summaryJSON.String), &meta.ClassSummary); err != nil {
				meta.ClassSummary = make(map[string]int)
			}
		} else {
			meta.ClassSummary = make(map[string]int)
		}

		results = append(results, meta)
	}

	return results, rows.Err()
}

// SaveDriftSummary stores every per-page verdict of a verification pass.
func (cdb *CrawlDB) SaveDriftSummary(ctx context.Context, endpoint string, sum *model.DriftSummary) error {
	query := `
	INSERT INTO drift_checks (endpoint, epoch, page, checkpoint_fingerprint, live_fingerprint, verdict, note)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	for _, report := range sum.Reports {
		_, err := cdb.db.ExecContext(ctx, query,
			endpoint,
			sum.Epoch,
			string(report.Page),
			report.CheckpointFingerprint,
			report.LiveFingerprint,
			string(report.Verdict),
			report.Note,
		)
		if err != nil {
			return fmt.Errorf("failed to save drift check for page %s: %w", report.Page, err)
		}
	}

	return nil
}

// DriftCheckRecord represents a stored drift verdict.
type DriftCheckRecord struct {
	ID                    int64
	Endpoint              string
	Epoch                 int
	Page                  model.PageNumber
	CheckpointFingerprint string
	LiveFingerprint       string
	Verdict               model.Verdict
	Note                  string
	Timestamp             time.Time
}

// GetDriftHistory retrieves drift verdicts for an endpoint, newest first.
func (cdb *CrawlDB) GetDriftHistory(ctx context.Context, endpoint string) ([]DriftCheckRecord, error) {
	query := `
	SELECT id, endpoint, epoch, page, checkpoint_fingerprint, live_fingerprint, verdict, note, timestamp
	FROM drift_checks
	WHERE endpoint = ?
	ORDER BY timestamp DESC
	`

	rows, err := cdb.db.QueryContext(ctx, query, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to get drift history: %w", err)
	}
	defer rows.Close()

	var results []DriftCheckRecord
	for rows.Next() {
		var record DriftCheckRecord
		var pageStr, verdictStr, timestamp string
		var cpFP, liveFP, note sql.NullString

		err := rows.Scan(
			&record.ID,
			&record.Endpoint,
			&record.Epoch,
			&pageStr,
			&cpFP,
			&liveFP,
			&verdictStr,
			&note,
			&timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan drift check: %w", err)
		}

		record.Page = model.PageNumber(pageStr)
		record.Verdict = model.Verdict(verdictStr)
		record.CheckpointFingerprint = cpFP.String
		record.LiveFingerprint = liveFP.String
		record.Note = note.String
		record.Timestamp = parseTimestamp(timestamp)
		results = append(results, record)
	}

	return results, rows.Err()
}

// timestampFormats contains the timestamp formats that SQLite may return.
// The order matters: more specific formats should come first.
var timestampFormats = []string{
	"2006-01-02 15:04:05",     // SQLite default datetime format
	"2006-01-02T15:04:05Z",    // ISO 8601 with Z suffix
	"2006-01-02T15:04:05",     // ISO 8601 without timezone
	time.RFC3339,              // Full RFC3339 format
	time.RFC3339Nano,          // RFC3339 with nanoseconds
	"2006-01-02 15:04:05.999", // SQLite with milliseconds
}

// parseTimestamp attempts to parse a timestamp string using multiple formats.
// SQLite may return timestamps in different formats depending on configuration.
// If parsing fails with all formats, returns zero time.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
