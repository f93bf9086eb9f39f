package dedup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nao1215/dropfetch/internal/model"
)

// DBFileName is the name of the history database inside the data directory.
const DBFileName = "dropfetch.db"

// ErrDatabaseNotFound is returned by Open when the database does not exist
// and CreateIfNotExists is false.
var ErrDatabaseNotFound = errors.New("history database not found")

// SQLite is an Index persisted in a SQLite database file, so completed
// downloads are remembered across runs.
type SQLite struct {
	db     *sql.DB
	dbPath string
}

// Options configures Open.
type Options struct {
	// CreateIfNotExists creates the directory and database file when missing.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates the history database in dbDir.
func Open(dbDir string, opts Options) (*SQLite, error) {
	dbPath := filepath.Join(dbDir, DBFileName)

	dsn := dbPath + "?mode=rw"
	if opts.CreateIfNotExists {
		if err := os.MkdirAll(dbDir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = dbPath + "?mode=rwc"
	} else if _, err := os.Stat(dbPath); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w at %s", ErrDatabaseNotFound, dbPath)
		}
		return nil, fmt.Errorf("failed to check database path: %w", err)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serializes writers; the driver is not safe for
	// concurrent writes on separate connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &SQLite{db: db, dbPath: dbPath}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}
	if err := s.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Path returns the database file path.
func (s *SQLite) Path() string {
	return s.dbPath
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS downloads (
		key TEXT PRIMARY KEY,
		path TEXT NOT NULL,
		size INTEGER NOT NULL,
		completed_at TEXT NOT NULL,
		content_hash TEXT,
		source_url TEXT,
		host TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_downloads_completed ON downloads(completed_at);
	CREATE INDEX IF NOT EXISTS idx_downloads_host ON downloads(host);
	`
	_, err := s.db.ExecContext(context.Background(), schema)
	return err
}

// Exists implements Index.
func (s *SQLite) Exists(ctx context.Context, key model.DedupKey) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM downloads WHERE key = ?`, string(key)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check download record: %w", err)
	}
	return n > 0, nil
}

// Record implements Index. The first record of a key wins.
func (s *SQLite) Record(ctx context.Context, key model.DedupKey, rec model.DownloadRecord) error {
	if key == "" {
		return ErrEmptyKey
	}
	completed := rec.CompletedAt
	if completed.IsZero() {
		completed = time.Now()
	}

	query := `
	INSERT INTO downloads (key, path, size, completed_at, content_hash, source_url, host)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(key) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query,
		string(key),
		rec.Path,
		rec.Size,
		completed.UTC().Format(storedTimeFormat),
		rec.ContentHash,
		rec.SourceURL,
		rec.Host,
	)
	if err != nil {
		return fmt.Errorf("failed to insert download record: %w", err)
	}
	return nil
}

// Lookup implements Index.
func (s *SQLite) Lookup(ctx context.Context, key model.DedupKey) (*model.DownloadRecord, error) {
	row := s.db.QueryRowContext(ctx, `
	SELECT key, path, size, completed_at, content_hash, source_url, host
	FROM downloads
	WHERE key = ?
	`, string(key))

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get download record: %w", err)
	}
	return rec, nil
}

// History returns the most recent records, newest first. limit <= 0
// returns every record.
func (s *SQLite) History(ctx context.Context, limit int) ([]model.DownloadRecord, error) {
	query := `
	SELECT key, path, size, completed_at, content_hash, source_url, host
	FROM downloads
	ORDER BY completed_at DESC, key
	`
	args := make([]any, 0, 1)
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var records []model.DownloadRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan download record: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// Count returns the number of recorded downloads.
func (s *SQLite) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM downloads`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count download records: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*model.DownloadRecord, error) {
	var (
		rec       model.DownloadRecord
		key       string
		completed string
		hash      sql.NullString
		source    sql.NullString
		hostname  sql.NullString
	)
	if err := row.Scan(&key, &rec.Path, &rec.Size, &completed, &hash, &source, &hostname); err != nil {
		return nil, err
	}
	rec.Key = model.DedupKey(key)
	rec.CompletedAt = parseTimestamp(completed)
	rec.ContentHash = hash.String
	rec.SourceURL = source.String
	rec.Host = hostname.String
	return &rec, nil
}

// storedTimeFormat has a fixed width so completed_at sorts as text.
const storedTimeFormat = "2006-01-02T15:04:05.000000000Z"

// timestampFormats are tried in order when reading completed_at.
var timestampFormats = []string{
	storedTimeFormat,
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// parseTimestamp returns the zero time when no format matches.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
