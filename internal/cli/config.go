// Package cli provides utility functions for command line interface applications.
package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/ubuntu/airquality-ingest/internal/constants"
)

// LoadEnvFile loads variables from a dotenv file into the process environment.
// Variables already set in the environment are not overridden.
// A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}

	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Debug("No env file found", "file", path)
			return nil
		}
		return fmt.Errorf("could not load env file %q: %w", path, err)
	}

	slog.Info("Loaded environment file", "file", path)
	return nil
}

// InitViperConfig initializes the Viper configuration for a command.
func InitViperConfig(cmdName string, cmd *cobra.Command, vip *viper.Viper) error {
	if v, err := cmd.Flags().GetString("config"); err == nil && v != "" {
		vip.SetConfigFile(v)
	} else {
		vip.SetConfigName(cmdName)
		vip.AddConfigPath(".")

		if p := constants.GetDefaultConfigPath(); p != "" {
			vip.AddConfigPath(p)
		}

		if runtime.GOOS == "windows" {
			vip.AddConfigPath("C:\\ProgramData\\" + cmdName)
		} else {
			vip.AddConfigPath("/etc/" + cmdName)
			vip.AddConfigPath("/usr/local/etc/" + cmdName)
		}

		if binPath, err := os.Executable(); err != nil {
			slog.Warn("Failed to get current executable path, not adding it as a config dir", "error", err)
		} else {
			vip.AddConfigPath(filepath.Dir(binPath))
		}
	}
	if err := vip.ReadInConfig(); err != nil {
		var e viper.ConfigFileNotFoundError
		if errors.As(err, &e) {
			slog.Info("No configuration file.\nWe will only use the defaults, env variables or flags.", "error", e)
		} else {
			return fmt.Errorf("invalid configuration file: %w", err)
		}
	} else {
		slog.Info("Using configuration file", "file", vip.ConfigFileUsed())
	}

	// Handle environment.
	envPrefix := strings.ReplaceAll(cmdName, "-", "_")
	vip.SetEnvPrefix(envPrefix)
	vip.AutomaticEnv()

	// Visit manually env to bind every possibly related environment variable to be able to unmarshal
	// those into a struct.
	// More context on https://github.com/spf13/viper/pull/1429.
	prefix := strings.ToUpper(envPrefix) + "_"
	for _, e := range os.Environ() {
		if !strings.HasPrefix(e, prefix) {
			continue
		}

		s := strings.SplitN(e, "=", 2)
		name := strings.ToLower(strings.TrimPrefix(s[0], prefix))
		// FOO_BAR binds both the nested key foo.bar and the flat key foobar.
		keys := []string{strings.ReplaceAll(name, "_", ".")}
		if strings.Contains(name, "_") {
			keys = append(keys, strings.ReplaceAll(name, "_", ""))
		}
		for _, k := range keys {
			if err := vip.BindEnv(k, s[0]); err != nil {
				return fmt.Errorf("could not bind environment variable: %w", err)
			}
		}
	}

	return nil
}

// InstallConfigFlag adds a config flag to the command.
func InstallConfigFlag(cmd *cobra.Command) *string {
	return cmd.PersistentFlags().String("config", "", "use a specific configuration file")
}
