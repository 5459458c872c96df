// Package ledger records every ingestion run in a PostgreSQL table.
// It handles the connection to the database and the insertion of run rows.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Table is the name of the table storing runs.
const Table = "ingest_runs"

// Run statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Config holds the configuration for connecting to the PostgreSQL database.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// Enabled reports whether a ledger database is configured.
func (c Config) Enabled() bool {
	return c.Host != ""
}

// URI returns a connection URI for PostgreSQL with the given scheme.
// Credentials are escaped. It does not check the validity of the configuration values.
//
// Security warning: the returned string may include credentials.
func (c Config) URI(scheme string) string {
	host := c.Host
	if c.Port != 0 {
		host = fmt.Sprintf("%s:%d", c.Host, c.Port)
	}

	user := url.User(c.User)
	if c.Password != "" {
		user = url.UserPassword(c.User, c.Password)
	}

	u := &url.URL{
		Scheme: scheme,
		User:   user,
		Host:   host,
		Path:   c.DBName,
	}

	q := u.Query()
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Run is one execution of the ingestion job.
type Run struct {
	ID         uuid.UUID
	StartedAt  time.Time
	FinishedAt time.Time
	FileName   string
	StagePath  string
	Records    int
	Status     string
	// FailedStep is the step which failed, empty on success.
	FailedStep string
	Message    string
}

// NewRun returns a run with a fresh random ID.
func NewRun(startedAt time.Time) Run {
	return Run{ID: uuid.New(), StartedAt: startedAt}
}

type dbPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Close()
}

// Manager manages the PostgreSQL database connection pool.
type Manager struct {
	dbpool dbPool
}

type options struct {
	newPool func(ctx context.Context, dsn string) (dbPool, error)
}

// Options represents an optional function to override Manager default values.
type Options func(*options)

// Connect establishes a connection to the PostgreSQL database using the provided configuration.
func Connect(ctx context.Context, cfg Config, args ...Options) (*Manager, error) {
	opts := options{
		newPool: func(ctx context.Context, dsn string) (dbPool, error) {
			return pgxpool.New(ctx, dsn)
		},
	}

	for _, opt := range args {
		opt(&opts)
	}

	dbpool, err := opts.newPool(ctx, cfg.URI("postgres"))
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	slog.Info("Connected to ledger database", "host", cfg.Host, "port", cfg.Port)
	return &Manager{dbpool: dbpool}, nil
}

// Record inserts r into the runs table.
func (db Manager) Record(ctx context.Context, r Run) error {
	if db.dbpool == nil {
		return errors.New("database not initialized")
	}
	if r.ID == uuid.Nil {
		return errors.New("run has no ID")
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	query := fmt.Sprintf(
		`INSERT INTO %s (
			id,
			started_at,
			finished_at,
			file_name,
			stage_path,
			records,
			status,
			failed_step,
			message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		pgx.Identifier{Table}.Sanitize(),
	)

	_, err := db.dbpool.Exec(ctx, query,
		r.ID,         // id
		r.StartedAt,  // started_at
		r.FinishedAt, // finished_at
		r.FileName,   // file_name
		r.StagePath,  // stage_path
		r.Records,    // records
		r.Status,     // status
		r.FailedStep, // failed_step
		r.Message,    // message
	)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("recording run canceled: %v", err)
		}
		return fmt.Errorf("failed to record run: %v", err)
	}

	slog.Debug("Run recorded in ledger", "run_id", r.ID, "status", r.Status)
	return nil
}

// Close closes the database connection.
//
// If the connection is already closed, it does nothing.
// If the connection does not close within 10 seconds, it returns an error.
func (db *Manager) Close() error {
	if db.dbpool == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		db.dbpool.Close()
	}()

	select {
	case <-done:
		db.dbpool = nil
		return nil
	case <-time.After(10 * time.Second):
		return errors.New("timeout while closing database, connection may still be open")
	}
}
