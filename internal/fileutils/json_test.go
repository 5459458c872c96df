package fileutils_test

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ubuntu/airquality-ingest/internal/fileutils"
)

func TestMarshalIndentJSON(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		input any

		want    string
		wantErr bool
	}{
		"Object is indented with two spaces": {
			input: map[string]any{"records": []any{map[string]any{"a": 1}}},
			want:  "{\n  \"records\": [\n    {\n      \"a\": 1\n    }\n  ]\n}\n",
		},
		"HTML characters are not escaped": {
			input: map[string]any{"title": "PM2.5 <high> & rising"},
			want:  "{\n  \"title\": \"PM2.5 <high> & rising\"\n}\n",
		},
		"Non ASCII is written as UTF-8": {
			input: map[string]any{"city": "Thiruvananthapuram – केरल"},
			want:  "{\n  \"city\": \"Thiruvananthapuram – केरल\"\n}\n",
		},
		"Numbers are written verbatim": {
			input: map[string]any{"total": json.Number("12345678901234567890")},
			want:  "{\n  \"total\": 12345678901234567890\n}\n",
		},

		"Error on unsupported value": {input: map[string]any{"nan": math.NaN()}, wantErr: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got, err := fileutils.MarshalIndentJSON(tc.input)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, string(got), "Encoded JSON does not match")
		})
	}
}

func TestWriteJSON(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		invalidDir bool

		wantErr bool
	}{
		"Writes file": {},

		"Error on missing directory": {invalidDir: true, wantErr: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			if tc.invalidDir {
				dir = filepath.Join(dir, "missing")
			}
			path := filepath.Join(dir, "out.json")
			payload := map[string]any{"records": []any{"a", "b"}, "count": json.Number("2")}

			err := fileutils.WriteJSON(path, payload)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)

			data, err := os.ReadFile(path)
			require.NoError(t, err, "Written file should be readable")
			assert.JSONEq(t, `{"records": ["a", "b"], "count": 2}`, string(data), "File content does not match payload")

			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			assert.Len(t, entries, 1, "No temporary file should be left behind")
		})
	}
}
