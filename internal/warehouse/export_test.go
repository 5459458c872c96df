package warehouse

import (
	"context"
	"time"
)

type (
	DBConn = dbConn
	Rows   = rows
)

// WithOpen overrides the function creating the underlying connection.
func WithOpen(open func(ctx context.Context, dsn string) (DBConn, error)) Options {
	return func(o *options) {
		o.open = open
	}
}

// WithQueryTimeout sets the timeout applied to each query.
func WithQueryTimeout(d time.Duration) Options {
	return func(o *options) {
		o.queryTimeout = d
	}
}

// Quote exposes quote for tests.
var Quote = quote
