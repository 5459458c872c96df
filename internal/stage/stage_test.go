package stage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ubuntu/airquality-ingest/internal/naming"
	"github.com/ubuntu/airquality-ingest/internal/stage"
	"github.com/ubuntu/airquality-ingest/internal/warehouse"
)

type fixedClock time.Time

func (c fixedClock) Now() time.Time { return time.Time(c) }

var (
	defaultLoc = stage.Location{Database: "DEV_DB", Schema: "STAGE_SCH", Stage: "RAW_STG", Prefix: "india"}
	stamp      = naming.Capture(fixedClock(time.Date(2025, 1, 31, 14, 5, 9, 0, time.UTC)), time.UTC)
)

type fakeSession struct {
	putErr  error
	listErr error
	listing []warehouse.StageFile

	puts  []string
	lists []string
}

func (s *fakeSession) Put(_ context.Context, localPath, stageDir string, autoCompress bool) ([]warehouse.PutResult, error) {
	s.puts = append(s.puts, localPath+" -> "+stageDir)
	if !autoCompress {
		return nil, errors.New("files should be compressed")
	}
	if s.putErr != nil {
		return nil, s.putErr
	}
	return []warehouse.PutResult{{Source: localPath, Target: localPath + ".gz", Status: warehouse.StatusUploaded}}, nil
}

func (s *fakeSession) List(_ context.Context, location string) ([]warehouse.StageFile, error) {
	s.lists = append(s.lists, location)
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.listing, nil
}

func TestLocationDir(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		prefix string

		want string
	}{
		"Default prefix":         {prefix: "india", want: "@DEV_DB.STAGE_SCH.RAW_STG/india/2025_01_31/"},
		"Slashes are normalized": {prefix: "/aq/india/", want: "@DEV_DB.STAGE_SCH.RAW_STG/aq/india/2025_01_31/"},
		"Empty prefix":           {prefix: "", want: "@DEV_DB.STAGE_SCH.RAW_STG/2025_01_31/"},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			loc := defaultLoc
			loc.Prefix = tc.prefix
			assert.Equal(t, tc.want, loc.Dir(stamp))
		})
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		noSession bool
		loc       stage.Location

		wantErr bool
	}{
		"Valid": {loc: defaultLoc},

		"Error on missing session":  {noSession: true, loc: defaultLoc, wantErr: true},
		"Error on missing database": {loc: stage.Location{Schema: "S", Stage: "T"}, wantErr: true},
		"Error on missing schema":   {loc: stage.Location{Database: "D", Stage: "T"}, wantErr: true},
		"Error on missing stage":    {loc: stage.Location{Database: "D", Schema: "S"}, wantErr: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			var s stage.Session = &fakeSession{}
			if tc.noSession {
				s = nil
			}
			u, err := stage.New(s, tc.loc)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, u)
		})
	}
}

func TestUpload(t *testing.T) {
	t.Parallel()

	const local = "/tmp/out/air_quality_data_2025_01_31_14_05_09.json"
	const wantDir = "@DEV_DB.STAGE_SCH.RAW_STG/india/2025_01_31/"
	const wantObject = "air_quality_data_2025_01_31_14_05_09.json.gz"

	tests := map[string]struct {
		session *fakeSession
		lenient bool

		wantVerified bool
		wantNoList   bool
		wantErr      error
		wantAnyErr   bool
	}{
		"Uploaded and verified": {
			session:      &fakeSession{listing: []warehouse.StageFile{{Name: "raw_stg/india/2025_01_31/" + wantObject, Size: 512}}},
			wantVerified: true,
		},
		"Listing name comparison ignores case": {
			session:      &fakeSession{listing: []warehouse.StageFile{{Name: "RAW_STG/india/2025_01_31/AIR_QUALITY_DATA_2025_01_31_14_05_09.JSON.GZ"}}},
			wantVerified: true,
		},
		"Lenient verification accepts empty listing": {
			session: &fakeSession{},
			lenient: true,
		},

		"Error on put failure": {
			session:    &fakeSession{putErr: errors.New("stage does not exist")},
			wantNoList: true,
			wantAnyErr: true,
		},
		"Error on list failure": {
			session:    &fakeSession{listErr: errors.New("list failed")},
			lenient:    true,
			wantAnyErr: true,
		},
		"Error on empty listing": {
			session: &fakeSession{},
			wantErr: stage.ErrNotVerified,
		},
		"Error on listing without the uploaded object": {
			session: &fakeSession{listing: []warehouse.StageFile{{Name: "raw_stg/india/2025_01_31/other.json.gz"}}},
			wantErr: stage.ErrNotVerified,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			var opts []stage.Options
			if tc.lenient {
				opts = append(opts, stage.WithLenientVerify())
			}
			u, err := stage.New(tc.session, defaultLoc, opts...)
			require.NoError(t, err, "Setup: could not create uploader")

			a, err := u.Upload(t.Context(), local, stamp)

			require.Equal(t, []string{local + " -> " + wantDir}, tc.session.puts, "Exactly one PUT to the dated directory should be issued")
			assert.Equal(t, wantDir, a.Dir, "Stage directory does not match")
			assert.Equal(t, wantObject, a.Object, "Stage object does not match")
			assert.Equal(t, wantDir+wantObject, a.Path(), "Stage path does not match")
			if tc.wantNoList {
				assert.Empty(t, tc.session.lists, "No listing should be done after a failed PUT")
			} else {
				assert.Equal(t, []string{wantDir + wantObject}, tc.session.lists, "Listing should target the compressed object")
			}

			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				assert.False(t, a.Verified, "Artifact should not be verified")
				return
			}
			if tc.wantAnyErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantVerified, a.Verified, "Verified state does not match")
			assert.Equal(t, tc.session.listing, a.Listing, "Listing should be kept in the artifact")
		})
	}
}
