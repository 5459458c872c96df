// Package fetcher retrieves air quality records from the open data API.
//
// A single GET request is issued per call. The response must be a JSON object with a non-empty
// "records" field; every other key is kept as sent by the provider.
package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-viper/mapstructure/v2"
	"github.com/ubuntu/decorate"
)

var (
	// ErrTransport is returned when the request could not be sent or the response could not be read.
	ErrTransport = errors.New("request to the API failed")
	// ErrStatus is returned when the API answered with a status other than 200.
	ErrStatus = errors.New("unexpected API status")
	// ErrEmptyBody is returned when the API answered 200 with a blank body.
	ErrEmptyBody = errors.New("empty API response")
	// ErrDecode is returned when the body is not a JSON object.
	ErrDecode = errors.New("couldn't parse JSON")
	// ErrNoRecords is returned when the JSON object has a missing or empty "records" field.
	ErrNoRecords = errors.New("no 'records' found in API response")
)

const (
	// RecordsKey is the payload field holding the records.
	RecordsKey = "records"

	previewSize = 200
	maxErrBody  = 64 * 1024
)

// StatusError holds the status and body of a non-200 response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Code, e.Body)
}

// Unwrap makes StatusError match ErrStatus.
func (e *StatusError) Unwrap() error {
	return ErrStatus
}

// Config holds the request parameters.
type Config struct {
	URL    string
	APIKey string
	Limit  int
}

// Summary is the vendor metadata accompanying the records. Missing keys are left empty.
type Summary struct {
	Title       string `mapstructure:"title"`
	Total       int    `mapstructure:"total"`
	Count       int    `mapstructure:"count"`
	Limit       int    `mapstructure:"limit"`
	Offset      int    `mapstructure:"offset"`
	UpdatedDate string `mapstructure:"updated_date"`
}

// Payload is a validated API response.
type Payload struct {
	// Data is the decoded response. Numbers are kept as json.Number to be written back verbatim.
	Data map[string]any
	// Records is the number of entries in the "records" field.
	Records int
	Summary Summary
}

// Client fetches payloads from the API.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

type options struct {
	httpClient *http.Client
}

// Options represents an optional function to override Client default values.
type Options func(*options)

// WithHTTPClient sets the HTTP client used for the request.
func WithHTTPClient(c *http.Client) Options {
	return func(o *options) {
		o.httpClient = c
	}
}

// New returns a Client for the given configuration.
func New(cfg Config, args ...Options) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("API URL must be set")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("invalid API URL %q: %v", cfg.URL, err)
	}
	if cfg.APIKey == "" {
		return nil, errors.New("API key must be set")
	}
	if cfg.Limit <= 0 {
		return nil, fmt.Errorf("record limit must be positive, got %d", cfg.Limit)
	}

	opts := options{
		httpClient: http.DefaultClient,
	}
	for _, opt := range args {
		opt(&opts)
	}

	return &Client{cfg: cfg, httpClient: opts.httpClient}, nil
}

// Fetch issues the request and validates the response.
func (c Client) Fetch(ctx context.Context) (p *Payload, err error) {
	defer decorate.OnError(&err, "could not fetch air quality data")

	req, err := c.newRequest(ctx)
	if err != nil {
		return nil, err
	}

	slog.Info("Sending API request", "url", c.cfg.URL, "limit", c.cfg.Limit)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()
	slog.Info("Response received", "status", resp.StatusCode)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response body: %v", ErrTransport, err)
	}
	slog.Info("Response preview", "body", preview(body))

	return Parse(body)
}

// Parse validates a response body and decodes it into a Payload.
func Parse(body []byte) (*Payload, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrEmptyBody
	}

	data, err := decodeObject(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v (response sample: %q)", ErrDecode, err, preview(body))
	}

	records, ok := data[RecordsKey]
	if !ok || isEmpty(records) {
		return nil, ErrNoRecords
	}

	p := &Payload{
		Data:    data,
		Records: count(records),
		Summary: summarize(data),
	}
	slog.Info("Fetched air quality records", "records", p.Records, "total", p.Summary.Total, "updated", p.Summary.UpdatedDate)
	return p, nil
}

func (c Client) newRequest(ctx context.Context) (*http.Request, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL %q: %v", c.cfg.URL, err)
	}

	q := u.Query()
	q.Set("api-key", c.cfg.APIKey)
	q.Set("format", "json")
	q.Set("limit", strconv.Itoa(c.cfg.Limit))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("accept", "application/json")
	return req, nil
}

// decodeObject decodes exactly one JSON object from body.
func decodeObject(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after top-level value")
	}

	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected a JSON object, got %T", v)
	}
	return obj, nil
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	case string:
		return t == ""
	case bool:
		return !t
	case json.Number:
		f, err := t.Float64()
		return err == nil && f == 0
	}
	return false
}

func count(v any) int {
	switch t := v.(type) {
	case []any:
		return len(t)
	case map[string]any:
		return len(t)
	}
	return 1
}

// summarize extracts known metadata; decoding problems only leave fields empty.
func summarize(data map[string]any) Summary {
	var s Summary
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &s,
	})
	if err != nil {
		slog.Warn("Failed to create metadata decoder", "error", err)
		return s
	}

	meta := make(map[string]any, len(data))
	for k, v := range data {
		if k == RecordsKey {
			continue
		}
		meta[k] = v
	}
	if err := dec.Decode(meta); err != nil {
		slog.Debug("Some response metadata could not be decoded", "error", err)
	}
	return s
}

func preview(body []byte) string {
	if len(body) > previewSize {
		return string(body[:previewSize])
	}
	return string(body)
}
