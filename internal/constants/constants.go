// Package constants is responsible for defining the constants used in the application.
// It also provides utility functions to get the default configuration path.
package constants

import (
	"log/slog"
	"os"
	"path/filepath"
)

var (
	// Version is the version of the application.
	Version = "Dev"
)

const (
	// CmdName is the name of the command line tool.
	CmdName = "airquality-ingest"

	// DefaultAppFolder is the name of the default root folder.
	DefaultAppFolder = "airquality-ingest"

	// DefaultLogLevel is the default log level selected without any verbosity flags.
	DefaultLogLevel = slog.LevelInfo

	// DefaultEnvFile is the dotenv file loaded before the configuration, if present.
	DefaultEnvFile = ".env"
)

// Source API defaults.
const (
	// DefaultAPIURL is the data.gov.in resource serving real time air quality index records.
	DefaultAPIURL = "https://api.data.gov.in/resource/3b01bcb8-0b14-4abf-b6f2-c1bfd384ba69"

	// DefaultRecordLimit is the number of records requested when no limit is configured.
	DefaultRecordLimit = 4000

	// DefaultTimezone is the zone used to stamp output files and stage directories.
	DefaultTimezone = "Asia/Kolkata"
)

// Warehouse defaults.
const (
	DefaultRole      = "SYSADMIN"
	DefaultDatabase  = "DEV_DB"
	DefaultSchema    = "STAGE_SCH"
	DefaultWarehouse = "LOAD_WH"

	// DefaultStageName is the internal stage receiving raw files.
	DefaultStageName = "RAW_STG"

	// DefaultStagePrefix is the first path segment under the stage, before the date directory.
	DefaultStagePrefix = "india"
)

// DefaultLedgerPort is the PostgreSQL port of the run ledger.
const DefaultLedgerPort = 5432

type options struct {
	baseDir func() (string, error)
}

type option func(*options)

// GetDefaultConfigPath is the default directory holding the configuration file.
func GetDefaultConfigPath(opts ...option) string {
	o := options{baseDir: os.UserConfigDir}
	for _, opt := range opts {
		opt(&o)
	}

	base := getBaseDir(o.baseDir)
	if base == "" {
		return ""
	}
	return filepath.Join(base, DefaultAppFolder)
}

// getBaseDir is a helper function to handle the case where the baseDir function returns an error, and instead return an empty string.
func getBaseDir(baseDirFunc func() (string, error)) string {
	dir, err := baseDirFunc()
	if err != nil {
		return ""
	}
	return dir
}
