package warehouse

import (
	"fmt"
	"log/slog"

	"gopkg.in/ini.v1"
)

const snowSQLSection = "connections"

// LoadSnowSQLConfig fills the empty fields of base from a SnowSQL configuration file.
//
// Values come from the [connections.<connection>] section, falling back to the [connections] section.
// An empty connection name only reads [connections]. Values already set in base are kept.
func LoadSnowSQLConfig(base Config, path, connection string) (Config, error) {
	// Passwords may contain ';' or '#'.
	f, err := ini.LoadSources(ini.LoadOptions{IgnoreInlineComment: true}, path)
	if err != nil {
		return base, fmt.Errorf("could not load SnowSQL configuration %q: %v", path, err)
	}

	var sections []*ini.Section
	if connection != "" {
		s, err := f.GetSection(snowSQLSection + "." + connection)
		if err != nil {
			return base, fmt.Errorf("connection %q not found in %s", connection, path)
		}
		sections = append(sections, s)
	}
	if s, err := f.GetSection(snowSQLSection); err == nil {
		sections = append(sections, s)
	}

	for _, s := range sections {
		fill(&base.Account, s, "accountname")
		fill(&base.User, s, "username")
		fill(&base.Password, s, "password")
		fill(&base.Role, s, "rolename")
		fill(&base.Database, s, "dbname")
		fill(&base.Schema, s, "schemaname")
		fill(&base.Warehouse, s, "warehousename")
	}

	slog.Debug("Loaded SnowSQL connection", "file", path, "connection", connection, "account", base.Account)
	return base, nil
}

func fill(dst *string, s *ini.Section, key string) {
	if *dst != "" || !s.HasKey(key) {
		return
	}
	*dst = s.Key(key).String()
}
