// Package seed bootstraps connections and watch rules from a YAML file so
// a fresh deployment can start harvesting without touching the admin API.
// Seeding is create-if-absent: existing rows are never modified.
package seed

import (
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v3"

	"logharvest/internal/database"
)

type connectionSpec struct {
	Name     string `yaml:"name"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type watchRuleSpec struct {
	Name         string `yaml:"name"`
	Connection   string `yaml:"connection"`
	WatchDir     string `yaml:"watch_dir"`
	RecurDepth   int    `yaml:"recur_depth"`
	FilePrefix   string `yaml:"file_prefix"`
	FileContains string `yaml:"file_contains"`
	FilePostfix  string `yaml:"file_postfix"`
	ArchivedLogs bool   `yaml:"archived_logs"`
	Enabled      *bool  `yaml:"enabled"`
}

type seedFile struct {
	Connections []connectionSpec `yaml:"connections"`
	WatchRules  []watchRuleSpec  `yaml:"watch_rules"`
}

// Apply loads the seed file at path and creates any connections or watch
// rules that do not exist yet. A missing file is not an error when the
// path is empty; a named but unreadable file is.
func Apply(path string) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}

	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse seed file: %w", err)
	}

	for _, c := range f.Connections {
		if _, err := database.GetConnectionConfig(c.Name); err == nil {
			continue
		}
		port := c.Port
		if port == 0 {
			port = 22
		}
		if err := database.CreateConnectionConfig(&database.ConnectionConfig{
			Name:     c.Name,
			Host:     c.Host,
			Port:     port,
			Username: c.Username,
			Password: c.Password,
		}); err != nil {
			return fmt.Errorf("seed connection %q: %w", c.Name, err)
		}
		log.Printf("[seed] created connection %s (%s:%d)", c.Name, c.Host, port)
	}

	for _, r := range f.WatchRules {
		if _, err := database.GetWatchRule(r.Name); err == nil {
			continue
		}
		depth := r.RecurDepth
		if depth == 0 {
			depth = 1
		}
		enabled := true
		if r.Enabled != nil {
			enabled = *r.Enabled
		}
		if err := database.CreateWatchRule(&database.WatchRule{
			Name:           r.Name,
			ConnectionName: r.Connection,
			WatchDir:       r.WatchDir,
			RecurDepth:     depth,
			FilePrefix:     r.FilePrefix,
			FileContains:   r.FileContains,
			FilePostfix:    r.FilePostfix,
			ArchivedLogs:   r.ArchivedLogs,
			Enabled:        enabled,
		}); err != nil {
			return fmt.Errorf("seed watch rule %q: %w", r.Name, err)
		}
		log.Printf("[seed] created watch rule %s (%s on %s)", r.Name, r.WatchDir, r.Connection)
	}

	return nil
}
