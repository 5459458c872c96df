// Package warehouse provides the Snowflake session used to stage files.
// It handles the connection to the warehouse and exposes the PUT and LIST commands.
package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/snowflakedb/gosnowflake"
	"github.com/ubuntu/decorate"
)

// Put result statuses reported by Snowflake which mean the file is in the stage.
const (
	StatusUploaded = "UPLOADED"
	StatusSkipped  = "SKIPPED"
)

// Config holds the connection parameters for the warehouse.
type Config struct {
	Account   string
	User      string
	Password  string
	Role      string
	Database  string
	Schema    string
	Warehouse string
}

// Validate checks the fields required to authenticate.
func (c Config) Validate() error {
	var missing []string
	if c.Account == "" {
		missing = append(missing, "account")
	}
	if c.User == "" {
		missing = append(missing, "user")
	}
	if c.Password == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing warehouse connection parameters: %s", strings.Join(missing, ", "))
	}
	return nil
}

// DSN returns the data source name for the snowflake driver.
func (c Config) DSN() (string, error) {
	return gosnowflake.DSN(&gosnowflake.Config{
		Account:   c.Account,
		User:      c.User,
		Password:  c.Password,
		Role:      c.Role,
		Database:  c.Database,
		Schema:    c.Schema,
		Warehouse: c.Warehouse,
	})
}

// PutResult is one row returned by a PUT command.
type PutResult struct {
	Source  string
	Target  string
	Status  string
	Message string
}

// StageFile is one row returned by a LIST command.
type StageFile struct {
	Name         string
	Size         int64
	MD5          string
	LastModified string
}

type rows interface {
	Columns() ([]string, error)
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

type dbConn interface {
	PingContext(ctx context.Context) error
	QueryContext(ctx context.Context, query string, args ...any) (rows, error)
	Close() error
}

// sqlConn adapts *sql.DB to dbConn.
type sqlConn struct {
	db *sql.DB
}

func (c sqlConn) PingContext(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c sqlConn) QueryContext(ctx context.Context, query string, args ...any) (rows, error) {
	return c.db.QueryContext(ctx, query, args...)
}

func (c sqlConn) Close() error {
	return c.db.Close()
}

// Session is an authenticated connection to the warehouse.
type Session struct {
	conn         dbConn
	queryTimeout time.Duration
}

type options struct {
	open         func(ctx context.Context, dsn string) (dbConn, error)
	pingTimeout  time.Duration
	queryTimeout time.Duration
}

// Options represents an optional function to override Session default values.
type Options func(*options)

// Open validates the configuration, connects to the warehouse and checks the credentials with a ping.
func Open(ctx context.Context, cfg Config, args ...Options) (s *Session, err error) {
	defer decorate.OnError(&err, "could not open warehouse session")

	opts := options{
		open: func(_ context.Context, dsn string) (dbConn, error) {
			db, err := sql.Open("snowflake", dsn)
			if err != nil {
				return nil, err
			}
			return sqlConn{db: db}, nil
		},
		pingTimeout:  30 * time.Second,
		queryTimeout: 5 * time.Minute,
	}
	for _, opt := range args {
		opt(&opts)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dsn, err := cfg.DSN()
	if err != nil {
		return nil, fmt.Errorf("invalid connection parameters: %v", err)
	}

	conn, err := opts.open(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection: %v", err)
	}

	slog.Debug("Testing warehouse connection", "account", cfg.Account, "user", cfg.User)
	pingCtx, cancel := context.WithTimeout(ctx, opts.pingTimeout)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("unable to authenticate: %v", err)
	}

	slog.Info("Successfully connected to Snowflake", "account", cfg.Account, "role", cfg.Role, "warehouse", cfg.Warehouse)
	return &Session{conn: conn, queryTimeout: opts.queryTimeout}, nil
}

// Put copies a local file into stageDir.
// Every returned row must report the file as uploaded or skipped.
func (s Session) Put(ctx context.Context, localPath, stageDir string, autoCompress bool) (res []PutResult, err error) {
	defer decorate.OnError(&err, "could not put %q into %s", localPath, stageDir)

	abs, err := filepath.Abs(localPath)
	if err != nil {
		return nil, fmt.Errorf("could not get absolute path: %v", err)
	}

	query := fmt.Sprintf("PUT %s %s AUTO_COMPRESS=%s",
		quote("file://"+filepath.ToSlash(abs)),
		quote(stageDir),
		strings.ToUpper(strconv.FormatBool(autoCompress)))

	records, err := s.query(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errors.New("no file was reported as uploaded")
	}

	for _, r := range records {
		pr := PutResult{
			Source:  r["source"],
			Target:  r["target"],
			Status:  strings.ToUpper(r["status"]),
			Message: r["message"],
		}
		if pr.Status != StatusUploaded && pr.Status != StatusSkipped {
			return nil, fmt.Errorf("file %s was not uploaded: status %q: %s", pr.Source, pr.Status, pr.Message)
		}
		res = append(res, pr)
	}
	return res, nil
}

// List returns the stage files matching location.
func (s Session) List(ctx context.Context, location string) (files []StageFile, err error) {
	defer decorate.OnError(&err, "could not list %s", location)

	records, err := s.query(ctx, "LIST "+quote(location))
	if err != nil {
		return nil, err
	}

	for _, r := range records {
		f := StageFile{
			Name:         r["name"],
			MD5:          r["md5"],
			LastModified: r["last_modified"],
		}
		if v := r["size"]; v != "" {
			if f.Size, err = strconv.ParseInt(v, 10, 64); err != nil {
				return nil, fmt.Errorf("invalid size %q for %s: %v", v, f.Name, err)
			}
		}
		files = append(files, f)
	}
	return files, nil
}

// Close closes the session.
//
// If the session is already closed, it does nothing.
func (s *Session) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	if err != nil {
		return fmt.Errorf("failed to close warehouse session: %v", err)
	}
	return nil
}

// query runs a statement and returns every row keyed by lower case column name.
func (s Session) query(ctx context.Context, query string) (records []map[string]string, err error) {
	if s.conn == nil {
		return nil, errors.New("session is closed")
	}

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	slog.Debug("Running warehouse query", "query", query)
	r, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("query canceled: %v", err)
		}
		return nil, fmt.Errorf("query failed: %v", err)
	}
	defer r.Close()

	cols, err := r.Columns()
	if err != nil {
		return nil, fmt.Errorf("could not read columns: %v", err)
	}

	for r.Next() {
		vals := make([]sql.NullString, len(cols))
		dest := make([]any, len(cols))
		for i := range vals {
			dest[i] = &vals[i]
		}
		if err := r.Scan(dest...); err != nil {
			return nil, fmt.Errorf("could not scan row: %v", err)
		}

		rec := make(map[string]string, len(cols))
		for i, c := range cols {
			rec[strings.ToLower(c)] = vals[i].String
		}
		records = append(records, rec)
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("error while reading rows: %v", err)
	}
	return records, nil
}

// quote returns s as a single quoted SQL string literal.
func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return "'" + strings.ReplaceAll(s, "'", `\'`) + "'"
}
