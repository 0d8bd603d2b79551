// Package config loads service settings from an `env_config` key=value file
// and the environment, environment winning.
package config

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/viper"
)

// DefaultFile is the config file looked up when no path is given.
const DefaultFile = "env_config"

// Settings is the resolved service configuration.
type Settings struct {
	CountWorkers   int    `json:"count_workers"`
	ArchiveFolder  string `json:"archive_folder"`
	DatabaseFolder string `json:"database_folder"`
	Host           string `json:"host"`
	Port           int    `json:"port"`
}

// Load reads path (DefaultFile if empty).  A missing default file is fine —
// everything can come from the environment.  `count_threads` is accepted as a
// synonym for `count_workers`.
func Load(path string) (*Settings, error) {
	v := viper.New()
	v.SetConfigType("properties")
	v.AutomaticEnv()

	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8000)

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: failed to read %q: %w", path, err)
		}
	} else if explicit {
		return nil, fmt.Errorf("config: failed to read %q: %w", path, err)
	}

	// Viper's Unmarshal does not consult environment-only keys, so settings
	// are read individually.
	s := &Settings{
		ArchiveFolder:  v.GetString("archive_folder"),
		DatabaseFolder: v.GetString("database_folder"),
		Host:           v.GetString("host"),
		Port:           v.GetInt("port"),
	}
	switch {
	case v.IsSet("count_workers"):
		s.CountWorkers = v.GetInt("count_workers")
	case v.IsSet("count_threads"):
		s.CountWorkers = v.GetInt("count_threads")
	default:
		s.CountWorkers = defaultWorkers()
	}

	if s.ArchiveFolder == "" {
		return nil, fmt.Errorf("config: archive_folder is required")
	}
	if s.CountWorkers < 2 {
		// One slot feeds the line producer, one the batch consumer;
		// anything less can deadlock indexing.
		s.CountWorkers = 2
	}
	if s.Port <= 0 || s.Port > 65535 {
		return nil, fmt.Errorf("config: invalid port %d", s.Port)
	}
	return s, nil
}

// Addr is the listen address of the HTTP server.
func (s *Settings) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func defaultWorkers() int {
	n := runtime.NumCPU()
	if n > 8 {
		n = 8
	}
	if n < 2 {
		n = 2
	}
	return n
}
