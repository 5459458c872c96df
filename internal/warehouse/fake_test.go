package warehouse_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/ubuntu/airquality-ingest/internal/warehouse"
)

// fakeResult is the answer given by fakeConn to a query.
type fakeResult struct {
	cols []string
	rows [][]string
	err  error
}

type fakeConn struct {
	pingErr  error
	closeErr error
	results  map[string]fakeResult // keyed by the first word of the statement

	mu      sync.Mutex
	queries []string
	closed  bool
}

func (c *fakeConn) PingContext(ctx context.Context) error {
	return c.pingErr
}

func (c *fakeConn) QueryContext(ctx context.Context, query string, args ...any) (warehouse.Rows, error) {
	c.mu.Lock()
	c.queries = append(c.queries, query)
	c.mu.Unlock()

	var verb string
	_, _ = fmt.Sscan(query, &verb)
	res, ok := c.results[verb]
	if !ok {
		return nil, fmt.Errorf("unexpected statement %q", query)
	}
	if res.err != nil {
		return nil, res.err
	}
	return &fakeRows{cols: res.cols, rows: res.rows, pos: -1}, nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return c.closeErr
}

type fakeRows struct {
	cols    []string
	rows    [][]string
	pos     int
	scanErr error
}

func (r *fakeRows) Columns() ([]string, error) { return r.cols, nil }

func (r *fakeRows) Next() bool {
	r.pos++
	return r.pos < len(r.rows)
}

func (r *fakeRows) Scan(dest ...any) error {
	if r.scanErr != nil {
		return r.scanErr
	}
	if len(dest) != len(r.rows[r.pos]) {
		return errors.New("column count mismatch")
	}
	for i, v := range r.rows[r.pos] {
		ns, ok := dest[i].(*sql.NullString)
		if !ok {
			return fmt.Errorf("unexpected destination type %T", dest[i])
		}
		*ns = sql.NullString{String: v, Valid: true}
	}
	return nil
}

func (r *fakeRows) Err() error   { return nil }
func (r *fakeRows) Close() error { return nil }

var (
	putColumns  = []string{"source", "target", "source_size", "target_size", "source_compression", "target_compression", "status", "message"}
	listColumns = []string{"name", "size", "md5", "last_modified"}
)
