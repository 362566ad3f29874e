package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const (
	busyTimeoutMS   = 5000
	maxOpenConns    = 1
	maxIdleConns    = 1
	connMaxLifetime = 5 * time.Minute
)

// Store is a single-node ledger persisted in SQLite. It executes the
// allowlist and subscription contracts for one package id.
type Store struct {
	db        *sql.DB
	packageID string

	mu  sync.RWMutex
	now func() time.Time
}

var _ Ledger = (*Store)(nil)

// Open opens the SQLite database and bootstraps the schema.
func Open(path, packageID string) (*Store, error) {
	if packageID == "" {
		return nil, fmt.Errorf("package id is required")
	}
	dsn, err := sqliteDSN(path)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	if err := configureDB(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, packageID: packageID, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// PackageID is the contract package this ledger executes.
func (s *Store) PackageID() string {
	return s.packageID
}

// SetClock replaces the ledger clock used to stamp subscriptions.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now == nil {
		now = time.Now
	}
	s.now = now
}

// Now returns the ledger clock reading.
func (s *Store) Now() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.now()
}

// Info reports object and transaction counts.
type Info struct {
	SchemaVersion int            `json:"schema_version"`
	ObjectCounts  map[string]int `json:"object_counts"`
	Transactions  int            `json:"transactions"`
}

// Info summarizes the ledger contents.
func (s *Store) Info(ctx context.Context) (Info, error) {
	info := Info{ObjectCounts: map[string]int{}}
	version, err := currentVersion(s.db)
	if err != nil {
		return info, err
	}
	info.SchemaVersion = version

	rows, err := s.db.QueryContext(ctx, "SELECT type, COUNT(*) FROM objects GROUP BY type")
	if err != nil {
		return info, err
	}
	defer rows.Close()
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return info, err
		}
		info.ObjectCounts[typ] = n
	}
	if err := rows.Err(); err != nil {
		return info, err
	}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM transactions").Scan(&info.Transactions); err != nil {
		return info, err
	}
	return info, nil
}

func configureDB(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA foreign_keys = ON;",
		fmt.Sprintf("PRAGMA busy_timeout = %d;", busyTimeoutMS),
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}

	// One writer keeps transaction execution serial.
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	return nil
}

func sqliteDSN(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("db path is required")
	}
	u := url.URL{Scheme: "file", Path: path}
	return u.String(), nil
}
