package fileutils

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ubuntu/decorate"
)

// MarshalIndentJSON encodes v with two space indentation and a trailing newline.
// HTML characters are kept as is.
func MarshalIndentJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("couldn't encode JSON: %v", err)
	}
	return buf.Bytes(), nil
}

// WriteJSON writes v as indented JSON to path, replacing any existing file.
func WriteJSON(path string, v any) (err error) {
	defer decorate.OnError(&err, "could not write JSON file %q", path)

	data, err := MarshalIndentJSON(v)
	if err != nil {
		return err
	}
	if err := AtomicWrite(path, data); err != nil {
		return err
	}

	slog.Info("JSON file saved locally", "file", path, "bytes", len(data))
	return nil
}
