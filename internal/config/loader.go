package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	// ProjectConfigFile is the name of the project-level config file.
	ProjectConfigFile = "legacylens.yaml"
	// UserConfigDir is the directory for user-level config.
	UserConfigDir = ".config/legacylens"
	// UserConfigFile is the name of the user-level config file.
	UserConfigFile = "config.yaml"
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "LEGACYLENS_"
)

// projectConfigNames are tried in order in each directory.
var projectConfigNames = []string{ProjectConfigFile, "legacylens.yml"}

// Loader handles configuration loading with layered precedence.
type Loader struct {
	logger *slog.Logger

	// UserConfigPath, WorkDir and Getenv default to the real user config,
	// the current directory and os.Getenv.
	UserConfigPath string
	WorkDir        string
	Getenv         func(string) string
}

// NewLoader creates a new configuration loader.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loader{logger: logger, Getenv: os.Getenv}
	if home, err := os.UserHomeDir(); err == nil {
		l.UserConfigPath = filepath.Join(home, UserConfigDir, UserConfigFile)
	}
	if cwd, err := os.Getwd(); err == nil {
		l.WorkDir = cwd
	}
	return l
}

// Load loads configuration with layered precedence:
//  1. Default config
//  2. User config (~/.config/legacylens/config.yaml)
//  3. Project config (legacylens.yaml in the work directory or a parent),
//     or explicitPath when it is not empty
//  4. LEGACYLENS_* environment variables
//
// An explicit path that cannot be read is an error; missing user and
// project files are not.
func (l *Loader) Load(explicitPath string) (*Config, error) {
	config := DefaultConfig()

	if l.UserConfigPath != "" {
		if userConfig, err := LoadFromFile(l.UserConfigPath); err == nil {
			l.logger.Debug("Loaded user config", slog.String("path", l.UserConfigPath))
			config.Merge(userConfig)
		} else if !errors.Is(err, fs.ErrNotExist) {
			l.logger.Warn("Failed to load user config", slog.String("path", l.UserConfigPath), slog.String("error", err.Error()))
		}
	}

	if explicitPath != "" {
		fileConfig, err := LoadFromFile(explicitPath)
		if err != nil {
			return nil, err
		}
		l.logger.Debug("Loaded config", slog.String("path", explicitPath))
		config.Merge(fileConfig)
	} else if projectPath := l.findProjectConfig(); projectPath != "" {
		if projectConfig, err := LoadFromFile(projectPath); err == nil {
			l.logger.Debug("Loaded project config", slog.String("path", projectPath))
			config.Merge(projectConfig)
		} else {
			l.logger.Warn("Failed to load project config", slog.String("path", projectPath), slog.String("error", err.Error()))
		}
	} else {
		l.logger.Debug("No project config found")
	}

	getenv := l.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	if err := config.ApplyEnv(getenv); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// EnsureUserConfig creates the user config file with defaults if it
// doesn't exist.
func (l *Loader) EnsureUserConfig() error {
	if l.UserConfigPath == "" {
		return errors.New("config: no user config path")
	}
	if _, err := os.Stat(l.UserConfigPath); err == nil {
		return nil
	}
	if err := DefaultConfig().SaveToFile(l.UserConfigPath); err != nil {
		return err
	}
	l.logger.Info("Created default user config", slog.String("path", l.UserConfigPath))
	return nil
}

// findProjectConfig searches the work directory and its parents.
func (l *Loader) findProjectConfig() string {
	if l.WorkDir == "" {
		return ""
	}
	dir := l.WorkDir
	for {
		for _, name := range projectConfigNames {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// ApplyEnv overrides fields from LEGACYLENS_* variables read through
// getenv. Unset or empty variables leave the field alone.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	str := func(name string, dst *string) {
		if v := strings.TrimSpace(getenv(EnvPrefix + name)); v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(name string, dst *int) {
		if v := strings.TrimSpace(getenv(EnvPrefix + name)); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v := strings.TrimSpace(getenv(EnvPrefix + name)); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}
	flag := func(name string, dst *bool) {
		if v := strings.TrimSpace(getenv(EnvPrefix + name)); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}

	num("MAX_CONCURRENT", &c.Manager.MaxConcurrent)
	flag("RETRY_JITTER", &c.Manager.Jitter)
	str("DEFAULT_PRIORITY", &c.Defaults.Priority)
	dur("DEFAULT_TIMEOUT", &c.Defaults.Timeout)
	num("DEFAULT_MAX_RETRIES", &c.Defaults.MaxRetries)
	str("SOURCE_ROOT", &c.Sources.Root)
	str("STORE_BACKEND", &c.Store.Backend)
	str("STORE_PATH", &c.Store.Path)
	str("GRAPH_BACKEND", &c.Graph.Backend)
	str("GRAPH_PATH", &c.Graph.Path)
	str("BENCHMARK", &c.Benchmark.Default)
	str("ENHANCER_PROVIDER", &c.Enhancer.Provider)
	str("ENHANCER_MODEL", &c.Enhancer.Model)
	str("ENHANCER_BASE_URL", &c.Enhancer.BaseURL)
	str("ENHANCER_API_KEY", &c.Enhancer.APIKey)
	str("RETRIEVER_PROVIDER", &c.Enhancer.Retriever.Provider)
	str("RETRIEVER_HOST", &c.Enhancer.Retriever.Host)
	str("SERVER_ADDR", &c.Server.Addr)
	str("SERVER_URL", &c.Server.URL)
	str("MCP_ADDR", &c.Server.MCPAddr)
	str("NATS_URL", &c.NATS.URL)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	flag("TRACING", &c.Telemetry.Tracing)

	return errors.Join(errs...)
}
