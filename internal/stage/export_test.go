package stage

import (
	"context"

	"github.com/ubuntu/airquality-ingest/internal/warehouse"
)

// Session is the warehouse session used by the Uploader.
type Session interface {
	Put(ctx context.Context, localPath, stageDir string, autoCompress bool) ([]warehouse.PutResult, error)
	List(ctx context.Context, location string) ([]warehouse.StageFile, error)
}

var _ Session = session(nil)
