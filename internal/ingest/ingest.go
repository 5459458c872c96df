// Package ingest runs the air quality ingestion job: fetch, persist, stage and verify.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/ubuntu/airquality-ingest/internal/fetcher"
	"github.com/ubuntu/airquality-ingest/internal/fileutils"
	"github.com/ubuntu/airquality-ingest/internal/ledger"
	"github.com/ubuntu/airquality-ingest/internal/naming"
	"github.com/ubuntu/airquality-ingest/internal/stage"
	"github.com/ubuntu/airquality-ingest/internal/warehouse"
)

// Step names a stage of the job.
type Step string

// Steps of a run, in execution order.
const (
	StepNaming  Step = "naming"
	StepFetch   Step = "fetch"
	StepPersist Step = "persist"
	StepConnect Step = "connect"
	StepUpload  Step = "upload"
	StepVerify  Step = "verify"
)

// StepError is returned by Run when a step fails. No later step was attempted.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s step failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Config is the configuration of one run.
type Config struct {
	Fetcher   fetcher.Config
	Warehouse warehouse.Config
	Stage     stage.Location
	Ledger    ledger.Config

	Timezone      string
	OutputDir     string
	DryRun        bool
	LenientVerify bool
}

// Outcome describes what a run produced.
type Outcome struct {
	RunID    uuid.UUID
	Stamp    naming.Stamp
	FilePath string
	Records  int
	Summary  fetcher.Summary
	// Artifact is empty on dry runs.
	Artifact stage.Artifact
	DryRun   bool
}

type session interface {
	Put(ctx context.Context, localPath, stageDir string, autoCompress bool) ([]warehouse.PutResult, error)
	List(ctx context.Context, location string) ([]warehouse.StageFile, error)
	Close() error
}

type recorder interface {
	Record(ctx context.Context, r ledger.Run) error
	Close() error
}

// Service runs the ingestion job.
type Service struct {
	cfg     Config
	clock   naming.Clock
	fetcher *fetcher.Client

	openSession func(ctx context.Context, cfg warehouse.Config) (session, error)
	openLedger  func(ctx context.Context, cfg ledger.Config) (recorder, error)
}

type options struct {
	clock       naming.Clock
	httpClient  *http.Client
	openSession func(ctx context.Context, cfg warehouse.Config) (session, error)
	openLedger  func(ctx context.Context, cfg ledger.Config) (recorder, error)
}

// Options represents an optional function to override Service default values.
type Options func(*options)

// WithHTTPClient sets the HTTP client used to call the API.
func WithHTTPClient(c *http.Client) Options {
	return func(o *options) {
		o.httpClient = c
	}
}

// New validates cfg and returns a Service.
func New(cfg Config, args ...Options) (*Service, error) {
	opts := options{
		clock:      naming.SystemClock{},
		httpClient: http.DefaultClient,
		openSession: func(ctx context.Context, cfg warehouse.Config) (session, error) {
			s, err := warehouse.Open(ctx, cfg)
			if err != nil {
				return nil, err
			}
			return s, nil
		},
		openLedger: func(ctx context.Context, cfg ledger.Config) (recorder, error) {
			m, err := ledger.Connect(ctx, cfg)
			if err != nil {
				return nil, err
			}
			return m, nil
		},
	}
	for _, opt := range args {
		opt(&opts)
	}

	f, err := fetcher.New(cfg.Fetcher, fetcher.WithHTTPClient(opts.httpClient))
	if err != nil {
		return nil, fmt.Errorf("invalid API configuration: %v", err)
	}

	if !cfg.DryRun {
		if err := cfg.Stage.Validate(); err != nil {
			return nil, err
		}
	}

	return &Service{
		cfg:         cfg,
		clock:       opts.clock,
		fetcher:     f,
		openSession: opts.openSession,
		openLedger:  opts.openLedger,
	}, nil
}

// Run executes every step once, in order, and stops at the first failure.
//
// The returned error, if any, is a *StepError.
func (s Service) Run(ctx context.Context) (out Outcome, err error) {
	run := ledger.NewRun(s.clock.Now())
	out.RunID = run.ID
	out.DryRun = s.cfg.DryRun
	log := slog.With("run_id", run.ID)

	defer func() {
		if s.cfg.Ledger.Enabled() {
			s.record(ctx, run, out, err)
		}
	}()

	loc, err := naming.LoadLocation(s.cfg.Timezone)
	if err != nil {
		return out, &StepError{Step: StepNaming, Err: err}
	}
	out.Stamp = naming.Capture(s.clock, loc)
	run.StartedAt = out.Stamp.Time()
	log.Info("Starting air quality ingestion", "timestamp", out.Stamp.Timestamp(), "timezone", loc.String())

	p, err := s.fetcher.Fetch(ctx)
	if err != nil {
		return out, &StepError{Step: StepFetch, Err: err}
	}
	out.Records = p.Records
	out.Summary = p.Summary

	out.FilePath = filepath.Join(s.cfg.OutputDir, out.Stamp.FileName())
	if err := persist(out.FilePath, p.Data); err != nil {
		return out, &StepError{Step: StepPersist, Err: err}
	}

	if s.cfg.DryRun {
		log.Info("Dry run, skipping stage upload", "file", out.FilePath)
		return out, nil
	}

	sess, err := s.openSession(ctx, s.cfg.Warehouse)
	if err != nil {
		return out, &StepError{Step: StepConnect, Err: err}
	}
	defer func() {
		if err := sess.Close(); err != nil {
			log.Warn("Failed to close warehouse session", "error", err)
		}
	}()

	var uopts []stage.Options
	if s.cfg.LenientVerify {
		uopts = append(uopts, stage.WithLenientVerify())
	}
	u, err := stage.New(sess, s.cfg.Stage, uopts...)
	if err != nil {
		return out, &StepError{Step: StepUpload, Err: err}
	}

	out.Artifact, err = u.Upload(ctx, out.FilePath, out.Stamp)
	switch {
	case errors.Is(err, stage.ErrNotVerified):
		return out, &StepError{Step: StepVerify, Err: err}
	case err != nil:
		return out, &StepError{Step: StepUpload, Err: err}
	}

	log.Info("Air quality data ingested", "file", out.FilePath, "stage", out.Artifact.Path(), "records", out.Records)
	return out, nil
}

func persist(path string, data map[string]any) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("could not create output directory: %v", err)
		}
	}
	return fileutils.WriteJSON(path, data)
}

// record stores the run in the ledger. Failures are only logged.
func (s Service) record(ctx context.Context, run ledger.Run, out Outcome, runErr error) {
	run.FinishedAt = s.clock.Now()
	if out.FilePath != "" {
		run.FileName = filepath.Base(out.FilePath)
	}
	if out.Artifact.Object != "" {
		run.StagePath = out.Artifact.Path()
	}
	run.Records = out.Records
	run.Status = ledger.StatusSucceeded

	var se *StepError
	if errors.As(runErr, &se) {
		run.Status = ledger.StatusFailed
		run.FailedStep = string(se.Step)
		run.Message = se.Err.Error()
	}

	// Record even if the run was interrupted.
	ctx = context.WithoutCancel(ctx)
	l, err := s.openLedger(ctx, s.cfg.Ledger)
	if err != nil {
		slog.Warn("Could not connect to run ledger", "run_id", run.ID, "error", err)
		return
	}
	defer func() {
		if err := l.Close(); err != nil {
			slog.Warn("Failed to close run ledger", "error", err)
		}
	}()

	if err := l.Record(ctx, run); err != nil {
		slog.Warn("Could not record run in ledger", "run_id", run.ID, "error", err)
	}
}
