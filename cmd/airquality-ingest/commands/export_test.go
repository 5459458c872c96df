package commands

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/require"
	"github.com/ubuntu/airquality-ingest/internal/constants"
	"github.com/ubuntu/airquality-ingest/internal/ingest"
	"gopkg.in/yaml.v3"
)

type (
	AppConfig     = appConfig
	APIConfig     = apiConfig
	SnowSQLConfig = snowSQLConfig
)

// Config returns the configuration of the app.
func (a *App) Config() AppConfig {
	return a.config
}

// IngestConfig returns the run configuration resolved from conf.
func IngestConfig(conf AppConfig) (ingest.Config, error) {
	return App{config: conf}.ingestConfig()
}

// NewForTests creates a new App instance for testing purposes, reading conf from a generated configuration file.
func NewForTests(t *testing.T, conf *AppConfig, args ...string) *App {
	t.Helper()

	p := GenerateTestConfig(t, conf)
	argsWithConf := []string{"--config", p}
	argsWithConf = append(argsWithConf, args...)

	a, err := New()
	require.NoError(t, err, "Setup: failed to create app")
	a.cmd.SetArgs(argsWithConf)
	return a
}

// GenerateTestConfig generates a temporary YAML config file for testing.
func GenerateTestConfig(t *testing.T, origConf *AppConfig) string {
	t.Helper()

	d, err := yaml.Marshal(withTestDefaults(origConf))
	require.NoError(t, err, "Setup: failed to marshal config for tests")

	confPath := filepath.Join(t.TempDir(), "testconfig.yaml")
	require.NoError(t, os.WriteFile(confPath, d, 0600), "Setup: failed to write config for tests")

	return confPath
}

// GenerateTestTOMLConfig generates a temporary TOML config file for testing.
func GenerateTestTOMLConfig(t *testing.T, origConf *AppConfig) string {
	t.Helper()

	confPath := filepath.Join(t.TempDir(), "testconfig.toml")
	f, err := os.Create(confPath)
	require.NoError(t, err, "Setup: failed to create config for tests")
	defer f.Close()

	require.NoError(t, toml.NewEncoder(f).Encode(withTestDefaults(origConf)), "Setup: failed to write config for tests")
	return confPath
}

// withTestDefaults fills the zero values which would otherwise override the flag defaults.
func withTestDefaults(origConf *AppConfig) appConfig {
	var conf appConfig
	if origConf != nil {
		conf = *origConf
	}

	if conf.Verbosity == 0 {
		conf.Verbosity = 2
	}
	if conf.API.URL == "" {
		conf.API.URL = constants.DefaultAPIURL
	}
	if conf.API.Limit == 0 {
		conf.API.Limit = constants.DefaultRecordLimit
	}
	if conf.Timezone == "" {
		conf.Timezone = constants.DefaultTimezone
	}
	if conf.Stage.Stage == "" {
		conf.Stage.Stage = constants.DefaultStageName
	}
	if conf.Stage.Prefix == "" {
		conf.Stage.Prefix = constants.DefaultStagePrefix
	}
	if conf.Ledger.Port == 0 {
		conf.Ledger.Port = constants.DefaultLedgerPort
	}
	return conf
}

// SetArgs set some arguments on root command for tests.
func (a *App) SetArgs(args ...string) {
	a.cmd.SetArgs(args)
}

// SetOut redirects the command output for tests.
func (a *App) SetOut(w io.Writer) {
	a.cmd.SetOut(w)
}
