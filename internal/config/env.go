package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// Environment variables that override file configuration.
const (
	EnvDataDirectory  = "LOCALMON_DATA_DIRECTORY"
	EnvCacheDirectory = "LOCALMON_CACHE_DIRECTORY"
	EnvAPIListen      = "LOCALMON_API_LISTEN"
	EnvLogLevel       = "LOCALMON_LOG_LEVEL"
)

// LoadEnvFile loads KEY=VALUE pairs from the given dotenv files into the
// process environment without overriding variables that are already set.
// With no arguments it reads ./.env. A missing file is not an error.
func LoadEnvFile(filenames ...string) error {
	if len(filenames) == 0 {
		filenames = []string{".env"}
	}

	for _, name := range filenames {
		if err := godotenv.Load(name); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load env file %s: %w", name, err)
		}
	}

	return nil
}

// ApplyEnv overrides configuration values with LOCALMON_* environment
// variables when they are set.
func (c *Config) ApplyEnv() {
	if v, ok := os.LookupEnv(EnvDataDirectory); ok && v != "" {
		c.Node.DataDirectory = v
	}
	if v, ok := os.LookupEnv(EnvCacheDirectory); ok {
		c.Node.CacheDirectory = v
	}
	if v, ok := os.LookupEnv(EnvAPIListen); ok && v != "" {
		c.API.Listen = v
	}
	if v, ok := os.LookupEnv(EnvLogLevel); ok && v != "" {
		c.Logging.Level = v
	}
}
