// Package commands provides the command line application running the air quality ingestion job.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/ubuntu/airquality-ingest/internal/cli"
	"github.com/ubuntu/airquality-ingest/internal/constants"
	"github.com/ubuntu/airquality-ingest/internal/fetcher"
	"github.com/ubuntu/airquality-ingest/internal/ingest"
	"github.com/ubuntu/airquality-ingest/internal/ledger"
	"github.com/ubuntu/airquality-ingest/internal/stage"
	"github.com/ubuntu/airquality-ingest/internal/warehouse"
)

// App represents the application.
type App struct {
	cmd    *cobra.Command
	viper  *viper.Viper
	config appConfig

	ctx    context.Context
	cancel context.CancelFunc
}

// apiConfig holds the source API parameters.
type apiConfig struct {
	URL   string
	Key   string
	Limit int
}

// snowSQLConfig selects an optional SnowSQL profile providing warehouse credentials.
type snowSQLConfig struct {
	Path       string
	Connection string
}

// appConfig holds the configuration for the application.
type appConfig struct {
	Verbosity int
	JSONLogs  bool
	EnvFile   string

	API       apiConfig
	Warehouse warehouse.Config
	Stage     stage.Location
	SnowSQL   snowSQLConfig
	Ledger    ledger.Config

	Timezone      string
	OutputDir     string
	DryRun        bool
	LenientVerify bool

	MigrationsDir string
}

// New creates a new App instance with default values.
func New() (*App, error) {
	a := App{}
	a.ctx, a.cancel = context.WithCancel(context.Background())

	a.cmd = &cobra.Command{
		Use:   constants.CmdName,
		Short: "Fetch real time air quality data and stage it in Snowflake",
		Long: `Fetch the real time air quality index from data.gov.in once, save the response as a JSON file,
upload it compressed into a dated directory of a Snowflake internal stage and verify the upload.`,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Command parsing has been successful. Returns to not print usage anymore.
			a.cmd.SilenceUsage = true
			cli.SetSlog(a.config.Verbosity, a.config.JSONLogs) // Set verbosity before loading config
			if err := cli.LoadEnvFile(a.config.EnvFile); err != nil {
				return err
			}
			if err := cli.InitViperConfig(constants.CmdName, a.cmd, a.viper); err != nil {
				return err
			}
			if err := a.viper.Unmarshal(&a.config); err != nil {
				return fmt.Errorf("unable to strictly decode configuration into struct: %w", err)
			}

			cli.SetSlog(a.config.Verbosity, a.config.JSONLogs) // Update logging after loading config if necessary
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			a.cmd.SilenceUsage = true

			return a.run(cmd.Context())
		},
	}
	a.viper = viper.New()
	a.cmd.CompletionOptions.HiddenDefaultCmd = true

	installRootCmd(&a)
	installMigrateCmd(&a)
	cli.InstallConfigFlag(a.cmd)

	if err := bindFlags(a.viper, a.cmd, true, persistentFlagKeys); err != nil {
		return nil, err
	}
	if err := bindFlags(a.viper, a.cmd, false, rootFlagKeys); err != nil {
		return nil, err
	}

	a.installVersion()

	return &a, nil
}

// persistentFlagKeys maps persistent flags to their configuration keys.
var persistentFlagKeys = map[string]string{
	"verbose":         "verbosity",
	"json-logs":       "jsonlogs",
	"env-file":        "envfile",
	"ledger-host":     "ledger.host",
	"ledger-port":     "ledger.port",
	"ledger-user":     "ledger.user",
	"ledger-password": "ledger.password",
	"ledger-dbname":   "ledger.dbname",
	"ledger-sslmode":  "ledger.sslmode",
}

// rootFlagKeys maps root command flags to their configuration keys.
var rootFlagKeys = map[string]string{
	"api-url":            "api.url",
	"api-key":            "api.key",
	"limit":              "api.limit",
	"account":            "warehouse.account",
	"user":               "warehouse.user",
	"password":           "warehouse.password",
	"role":               "warehouse.role",
	"database":           "warehouse.database",
	"schema":             "warehouse.schema",
	"warehouse":          "warehouse.warehouse",
	"stage-database":     "stage.database",
	"stage-schema":       "stage.schema",
	"stage-name":         "stage.stage",
	"stage-prefix":       "stage.prefix",
	"snowsql-config":     "snowsql.path",
	"snowsql-connection": "snowsql.connection",
	"timezone":           "timezone",
	"output-dir":         "outputdir",
	"dry-run":            "dryrun",
	"lenient-verify":     "lenientverify",
}

// bindFlags binds each flag to its nested configuration key.
// Flags set on the command line take precedence over the environment and the configuration file.
func bindFlags(vip *viper.Viper, cmd *cobra.Command, persistent bool, keys map[string]string) error {
	flags := cmd.Flags()
	if persistent {
		flags = cmd.PersistentFlags()
	}
	for name, key := range keys {
		f := flags.Lookup(name)
		if f == nil {
			return fmt.Errorf("flag %q is not defined", name)
		}
		if err := vip.BindPFlag(key, f); err != nil {
			return fmt.Errorf("could not bind flag %q: %w", name, err)
		}
	}
	return nil
}

func installRootCmd(app *App) {
	cmd := app.cmd

	cmd.PersistentFlags().CountVarP(&app.config.Verbosity, "verbose", "v", "issue INFO (-v), DEBUG (-vv)")
	cmd.PersistentFlags().BoolVar(&app.config.JSONLogs, "json-logs", false, "enable JSON formatted logs")
	cmd.PersistentFlags().StringVar(&app.config.EnvFile, "env-file", constants.DefaultEnvFile, "dotenv file loaded into the environment before reading the configuration")
	addLedgerFlags(cmd, &app.config.Ledger)

	// Source API flags
	cmd.Flags().StringVar(&app.config.API.URL, "api-url", constants.DefaultAPIURL, "air quality resource URL")
	cmd.Flags().StringVar(&app.config.API.Key, "api-key", "", "data.gov.in API key")
	cmd.Flags().IntVar(&app.config.API.Limit, "limit", constants.DefaultRecordLimit, "number of records requested")

	// Warehouse flags
	cmd.Flags().StringVar(&app.config.Warehouse.Account, "account", "", "Snowflake account identifier")
	cmd.Flags().StringVar(&app.config.Warehouse.User, "user", "", "Snowflake user")
	cmd.Flags().StringVar(&app.config.Warehouse.Password, "password", "", "Snowflake password")
	cmd.Flags().StringVar(&app.config.Warehouse.Role, "role", "", "Snowflake role (default "+constants.DefaultRole+")")
	cmd.Flags().StringVar(&app.config.Warehouse.Database, "database", "", "Snowflake database (default "+constants.DefaultDatabase+")")
	cmd.Flags().StringVar(&app.config.Warehouse.Schema, "schema", "", "Snowflake schema (default "+constants.DefaultSchema+")")
	cmd.Flags().StringVar(&app.config.Warehouse.Warehouse, "warehouse", "", "Snowflake virtual warehouse (default "+constants.DefaultWarehouse+")")
	cmd.Flags().StringVar(&app.config.SnowSQL.Path, "snowsql-config", "", "SnowSQL configuration file filling unset warehouse parameters")
	cmd.Flags().StringVar(&app.config.SnowSQL.Connection, "snowsql-connection", "", "named connection in the SnowSQL configuration file")

	// Stage flags
	cmd.Flags().StringVar(&app.config.Stage.Database, "stage-database", "", "database of the stage (defaults to the session database)")
	cmd.Flags().StringVar(&app.config.Stage.Schema, "stage-schema", "", "schema of the stage (defaults to the session schema)")
	cmd.Flags().StringVar(&app.config.Stage.Stage, "stage-name", constants.DefaultStageName, "internal stage name")
	cmd.Flags().StringVar(&app.config.Stage.Prefix, "stage-prefix", constants.DefaultStagePrefix, "stage path before the date directory")
	cmd.Flags().BoolVar(&app.config.LenientVerify, "lenient-verify", false, "only log the stage listing instead of failing when the uploaded file is not found")

	// Run flags
	cmd.Flags().StringVar(&app.config.Timezone, "timezone", constants.DefaultTimezone, "timezone used to name the output file and stage directory")
	cmd.Flags().StringVarP(&app.config.OutputDir, "output-dir", "o", "", "directory where the JSON file is written (defaults to the current directory)")
	cmd.Flags().BoolVarP(&app.config.DryRun, "dry-run", "d", false, "fetch and save the data without uploading it")

	if err := cmd.MarkFlagDirname("output-dir"); err != nil {
		panic(fmt.Errorf("failed to mark output-dir flag as directory: %w", err))
	}
	if err := cmd.MarkFlagFilename("snowsql-config"); err != nil {
		panic(fmt.Sprintf("failed to mark snowsql-config flag as filename: %v", err))
	}
	if err := cmd.MarkPersistentFlagFilename("env-file"); err != nil {
		panic(fmt.Sprintf("failed to mark env-file flag as filename: %v", err))
	}
}

func addLedgerFlags(cmd *cobra.Command, config *ledger.Config) {
	cmd.PersistentFlags().StringVar(&config.Host, "ledger-host", "", "run ledger database host, the ledger is disabled when empty")
	cmd.PersistentFlags().IntVar(&config.Port, "ledger-port", constants.DefaultLedgerPort, "run ledger database port")
	cmd.PersistentFlags().StringVar(&config.User, "ledger-user", "", "run ledger database user")
	cmd.PersistentFlags().StringVar(&config.Password, "ledger-password", "", "run ledger database password")
	cmd.PersistentFlags().StringVar(&config.DBName, "ledger-dbname", "", "run ledger database name")
	cmd.PersistentFlags().StringVar(&config.SSLMode, "ledger-sslmode", "", "run ledger database SSL mode")
}

// Run executes the command and associated process, returning an error if any.
func (a App) Run() error {
	return a.cmd.ExecuteContext(a.ctx)
}

// UsageError returns if the error is a command parsing or runtime one.
func (a App) UsageError() bool {
	return !a.cmd.SilenceUsage
}

// Hup prints all goroutine stack traces and return false to signal you shouldn't quit.
func (a App) Hup() (shouldQuit bool) {
	buf := make([]byte, 1<<16)
	runtime.Stack(buf, true)
	fmt.Printf("%s", buf)
	return false
}

// Quit cancels the running job. Steps in progress fail and nothing is cleaned up.
func (a *App) Quit() {
	a.cancel()
}

// RootCmd returns the root command.
func (a App) RootCmd() cobra.Command {
	return *a.cmd
}

// ingestConfig resolves the run configuration: SnowSQL profile values fill unset warehouse
// parameters, then defaults fill what is still empty.
func (a App) ingestConfig() (ingest.Config, error) {
	wcfg := a.config.Warehouse
	if a.config.SnowSQL.Path != "" {
		var err error
		if wcfg, err = warehouse.LoadSnowSQLConfig(wcfg, a.config.SnowSQL.Path, a.config.SnowSQL.Connection); err != nil {
			return ingest.Config{}, err
		}
	}
	setDefault(&wcfg.Role, constants.DefaultRole)
	setDefault(&wcfg.Database, constants.DefaultDatabase)
	setDefault(&wcfg.Schema, constants.DefaultSchema)
	setDefault(&wcfg.Warehouse, constants.DefaultWarehouse)

	loc := a.config.Stage
	setDefault(&loc.Database, wcfg.Database)
	setDefault(&loc.Schema, wcfg.Schema)

	return ingest.Config{
		Fetcher: fetcher.Config{
			URL:    a.config.API.URL,
			APIKey: a.config.API.Key,
			Limit:  a.config.API.Limit,
		},
		Warehouse:     wcfg,
		Stage:         loc,
		Ledger:        a.config.Ledger,
		Timezone:      a.config.Timezone,
		OutputDir:     a.config.OutputDir,
		DryRun:        a.config.DryRun,
		LenientVerify: a.config.LenientVerify,
	}, nil
}

func setDefault(v *string, def string) {
	if *v == "" {
		*v = def
	}
}

func (a App) run(ctx context.Context) error {
	cfg, err := a.ingestConfig()
	if err != nil {
		return err
	}

	s, err := ingest.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create ingestion job: %v", err)
	}

	out, err := s.Run(ctx)
	if err != nil {
		return err
	}

	if out.DryRun {
		slog.Info("Dry run completed", "run_id", out.RunID, "file", out.FilePath, "records", out.Records)
		return nil
	}
	slog.Info("Ingestion completed", "run_id", out.RunID, "file", out.FilePath, "stage", out.Artifact.Path(), "verified", out.Artifact.Verified)
	return nil
}
