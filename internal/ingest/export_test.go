package ingest

import (
	"context"

	"github.com/ubuntu/airquality-ingest/internal/ledger"
	"github.com/ubuntu/airquality-ingest/internal/naming"
	"github.com/ubuntu/airquality-ingest/internal/warehouse"
)

type (
	Session  = session
	Recorder = recorder
)

// WithClock overrides the clock used to stamp the run.
func WithClock(c naming.Clock) Options {
	return func(o *options) {
		o.clock = c
	}
}

// WithSessionOpener overrides how the warehouse session is opened.
func WithSessionOpener(open func(ctx context.Context, cfg warehouse.Config) (Session, error)) Options {
	return func(o *options) {
		o.openSession = open
	}
}

// WithLedgerOpener overrides how the run ledger is opened.
func WithLedgerOpener(open func(ctx context.Context, cfg ledger.Config) (Recorder, error)) Options {
	return func(o *options) {
		o.openLedger = open
	}
}
