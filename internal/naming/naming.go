// Package naming captures the run timestamp and derives the names built from it.
//
// A Stamp is captured once per run; the local file name and the stage directory are both
// computed from the same value so they never drift apart.
package naming

import (
	"fmt"
	"time"
	_ "time/tzdata" // Zone database for minimal images without /usr/share/zoneinfo.
)

const (
	// FilePrefix is the base of every output file name.
	FilePrefix = "air_quality_data_"
	// FileExtension is the extension of the output file.
	FileExtension = ".json"

	timestampLayout = "2006_01_02_15_04_05"
	dateLayout      = "2006_01_02"
)

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time {
	return time.Now()
}

// Stamp is a point in time localized to the configured zone.
type Stamp struct {
	t time.Time
}

// LoadLocation resolves a zone name, such as "Asia/Kolkata".
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return nil, fmt.Errorf("timezone cannot be empty")
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %v", name, err)
	}
	return loc, nil
}

// Capture reads the clock once and localizes it to loc.
func Capture(c Clock, loc *time.Location) Stamp {
	return Stamp{t: c.Now().In(loc)}
}

// Time returns the captured instant.
func (s Stamp) Time() time.Time {
	return s.t
}

// Timestamp is the second precision form used in file names, e.g. 2025_01_31_14_05_09.
func (s Stamp) Timestamp() string {
	return s.t.Format(timestampLayout)
}

// Date is the day form used as the stage sub directory, e.g. 2025_01_31.
func (s Stamp) Date() string {
	return s.t.Format(dateLayout)
}

// FileName is the local output file name for this stamp.
func (s Stamp) FileName() string {
	return FilePrefix + s.Timestamp() + FileExtension
}
