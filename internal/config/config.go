// Package config provides configuration loading and management for
// legacylens.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/dusk-indust/legacylens/internal/orchestrator"
	"github.com/dusk-indust/legacylens/internal/results"
	"github.com/dusk-indust/legacylens/internal/stages"
)

// Config is the complete legacylens configuration.
type Config struct {
	Manager   ManagerConfig     `yaml:"manager"`
	Defaults  TaskDefaults      `yaml:"defaults"`
	Sources   SourcesConfig     `yaml:"sources"`
	Store     StoreConfig       `yaml:"store"`
	Graph     GraphConfig       `yaml:"graph"`
	Stages    map[string]string `yaml:"stages,omitempty"`
	Benchmark BenchmarkConfig   `yaml:"benchmark"`
	Enhancer  EnhancerConfig    `yaml:"enhancer"`
	Server    ServerConfig      `yaml:"server"`
	NATS      NATSConfig        `yaml:"nats"`
	Watch     WatchConfig       `yaml:"watch"`
	Log       LogConfig         `yaml:"log"`
	Telemetry TelemetryConfig   `yaml:"telemetry"`
}

// ManagerConfig configures the task manager.
type ManagerConfig struct {
	MaxConcurrent int           `yaml:"maxConcurrent" validate:"gte=1"`
	BaseDelay     time.Duration `yaml:"baseDelay" validate:"gt=0"`
	MaxDelay      time.Duration `yaml:"maxDelay" validate:"gtefield=BaseDelay"`
	Jitter        bool          `yaml:"jitter"`
	GracePeriod   time.Duration `yaml:"gracePeriod" validate:"gte=0"`
	HistoryLimit  int           `yaml:"historyLimit" validate:"gte=0"`
}

// TaskDefaults fill in task fields a submitter leaves empty.
type TaskDefaults struct {
	Priority   string        `yaml:"priority" validate:"oneof=HIGH MEDIUM LOW high medium low"`
	Timeout    time.Duration `yaml:"timeout" validate:"gt=0"`
	MaxRetries int           `yaml:"maxRetries" validate:"gte=0,lte=100"`
}

// SourcesConfig locates source members named by tasks.
type SourcesConfig struct {
	// Root is the directory relative source ids resolve against.
	Root     string `yaml:"root"`
	MaxBytes int64  `yaml:"maxBytes" validate:"gte=0"`
}

// StoreConfig selects the result store backend.
type StoreConfig struct {
	Backend    string `yaml:"backend" validate:"oneof=memory badger sqlite"`
	Path       string `yaml:"path"`
	SyncWrites bool   `yaml:"syncWrites"`
}

// GraphConfig selects the program graph backend.
type GraphConfig struct {
	Backend string `yaml:"backend" validate:"oneof=memory kuzu"`
	Path    string `yaml:"path"`
}

// BenchmarkConfig names the default profile and adds or replaces
// profiles by name.
type BenchmarkConfig struct {
	Default  string           `yaml:"default" validate:"required"`
	Profiles []stages.Profile `yaml:"profiles,omitempty"`
}

// EnhancerConfig configures content enhancement.
type EnhancerConfig struct {
	// Provider is "none" for the built-in outline or "openai" for any
	// OpenAI compatible endpoint.
	Provider          string          `yaml:"provider" validate:"oneof=none openai"`
	Model             string          `yaml:"model"`
	BaseURL           string          `yaml:"baseUrl" validate:"omitempty,url"`
	APIKey            string          `yaml:"apiKey,omitempty"`
	SystemPrompt      string          `yaml:"systemPrompt,omitempty"`
	MaxTokens         int             `yaml:"maxTokens" validate:"gte=0"`
	Temperature       float32         `yaml:"temperature" validate:"gte=0,lte=2"`
	RequestsPerMinute int             `yaml:"requestsPerMinute" validate:"gte=0"`
	Retriever         RetrieverConfig `yaml:"retriever"`
}

// RetrieverConfig configures reference document retrieval.
type RetrieverConfig struct {
	Provider string `yaml:"provider" validate:"oneof=none weaviate"`
	Host     string `yaml:"host" validate:"required_if=Provider weaviate"`
	Class    string `yaml:"class"`
	APIKey   string `yaml:"apiKey,omitempty"`
}

// ServerConfig configures the HTTP surfaces of `legacylens serve`.
type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required"`
	// MCPAddr serves MCP over streamable HTTP when set.
	MCPAddr string `yaml:"mcpAddr"`
	// URL is where client commands reach a running server.
	URL string `yaml:"url" validate:"omitempty,url"`
}

// NATSConfig configures task event publishing. An empty URL disables it.
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subjectPrefix" validate:"required"`
}

// WatchConfig configures directory watching.
type WatchConfig struct {
	Dirs       []string      `yaml:"dirs,omitempty"`
	Extensions []string      `yaml:"extensions,omitempty"`
	Debounce   time.Duration `yaml:"debounce" validate:"gte=0"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// TelemetryConfig configures tracing.
type TelemetryConfig struct {
	Tracing     bool   `yaml:"tracing"`
	ServiceName string `yaml:"serviceName"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	mc := orchestrator.DefaultManagerConfig()
	return &Config{
		Manager: ManagerConfig{
			MaxConcurrent: mc.MaxConcurrent,
			BaseDelay:     mc.BaseDelay,
			MaxDelay:      mc.MaxDelay,
			Jitter:        mc.Jitter,
			GracePeriod:   mc.GracePeriod,
			HistoryLimit:  mc.HistoryLimit,
		},
		Defaults: TaskDefaults{
			Priority:   "MEDIUM",
			Timeout:    5 * time.Minute,
			MaxRetries: 3,
		},
		Sources: SourcesConfig{
			Root:     ".",
			MaxBytes: stages.DefaultMaxSourceBytes,
		},
		Store: StoreConfig{Backend: results.BackendMemory},
		Graph: GraphConfig{Backend: "memory"},
		Benchmark: BenchmarkConfig{
			Default: stages.DefaultProfile,
		},
		Enhancer: EnhancerConfig{
			Provider:    "none",
			Temperature: 0.2,
			Retriever:   RetrieverConfig{Provider: "none"},
		},
		Server: ServerConfig{
			Addr: ":8080",
			URL:  "http://localhost:8080",
		},
		NATS: NATSConfig{SubjectPrefix: "legacylens"},
		Watch: WatchConfig{
			Extensions: []string{".cbl", ".cob", ".cpy", ".copy", ".jcl", ".asm", ".mlc"},
			Debounce:   500 * time.Millisecond,
		},
		Log:       LogConfig{Level: "info", Format: "text"},
		Telemetry: TelemetryConfig{ServiceName: "legacylens"},
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			field := strings.TrimPrefix(fe.Namespace(), "Config.")
			reason := fe.Tag()
			if fe.Param() != "" {
				reason += "=" + fe.Param()
			}
			return fmt.Errorf("config: %s failed %s (got %v)", field, reason, fe.Value())
		}
		return fmt.Errorf("config: %w", err)
	}
	if _, err := c.Policies(); err != nil {
		return err
	}
	profiles := c.Profiles()
	for _, p := range c.Benchmark.Profiles {
		if p.Name == "" {
			return errors.New("config: benchmark profile without name")
		}
		if err := p.Validate(); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	if _, ok := profiles[c.Benchmark.Default]; !ok {
		return fmt.Errorf("config: benchmark.default %q is not a known profile (known: %v)",
			c.Benchmark.Default, slices.Sorted(maps.Keys(profiles)))
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file on top of the
// defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// SaveToFile writes the configuration as YAML, creating parent
// directories.
func (c *Config) SaveToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Merge merges other into c. Non-zero values in other take precedence;
// boolean switches can only be turned on.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Manager
	if other.Manager.MaxConcurrent != 0 {
		c.Manager.MaxConcurrent = other.Manager.MaxConcurrent
	}
	if other.Manager.BaseDelay != 0 {
		c.Manager.BaseDelay = other.Manager.BaseDelay
	}
	if other.Manager.MaxDelay != 0 {
		c.Manager.MaxDelay = other.Manager.MaxDelay
	}
	if other.Manager.Jitter {
		c.Manager.Jitter = true
	}
	if other.Manager.GracePeriod != 0 {
		c.Manager.GracePeriod = other.Manager.GracePeriod
	}
	if other.Manager.HistoryLimit != 0 {
		c.Manager.HistoryLimit = other.Manager.HistoryLimit
	}

	// Defaults
	if other.Defaults.Priority != "" {
		c.Defaults.Priority = other.Defaults.Priority
	}
	if other.Defaults.Timeout != 0 {
		c.Defaults.Timeout = other.Defaults.Timeout
	}
	if other.Defaults.MaxRetries != 0 {
		c.Defaults.MaxRetries = other.Defaults.MaxRetries
	}

	// Sources
	if other.Sources.Root != "" {
		c.Sources.Root = other.Sources.Root
	}
	if other.Sources.MaxBytes != 0 {
		c.Sources.MaxBytes = other.Sources.MaxBytes
	}

	// Store and graph
	if other.Store.Backend != "" {
		c.Store.Backend = other.Store.Backend
	}
	if other.Store.Path != "" {
		c.Store.Path = other.Store.Path
	}
	if other.Store.SyncWrites {
		c.Store.SyncWrites = true
	}
	if other.Graph.Backend != "" {
		c.Graph.Backend = other.Graph.Backend
	}
	if other.Graph.Path != "" {
		c.Graph.Path = other.Graph.Path
	}

	// Stages
	if len(other.Stages) > 0 {
		if c.Stages == nil {
			c.Stages = make(map[string]string, len(other.Stages))
		}
		maps.Copy(c.Stages, other.Stages)
	}

	// Benchmark
	if other.Benchmark.Default != "" {
		c.Benchmark.Default = other.Benchmark.Default
	}
	for _, p := range other.Benchmark.Profiles {
		i := slices.IndexFunc(c.Benchmark.Profiles, func(q stages.Profile) bool { return q.Name == p.Name })
		if i >= 0 {
			c.Benchmark.Profiles[i] = p
		} else {
			c.Benchmark.Profiles = append(c.Benchmark.Profiles, p)
		}
	}

	// Enhancer
	e, oe := &c.Enhancer, other.Enhancer
	if oe.Provider != "" {
		e.Provider = oe.Provider
	}
	if oe.Model != "" {
		e.Model = oe.Model
	}
	if oe.BaseURL != "" {
		e.BaseURL = oe.BaseURL
	}
	if oe.APIKey != "" {
		e.APIKey = oe.APIKey
	}
	if oe.SystemPrompt != "" {
		e.SystemPrompt = oe.SystemPrompt
	}
	if oe.MaxTokens != 0 {
		e.MaxTokens = oe.MaxTokens
	}
	if oe.Temperature != 0 {
		e.Temperature = oe.Temperature
	}
	if oe.RequestsPerMinute != 0 {
		e.RequestsPerMinute = oe.RequestsPerMinute
	}
	if oe.Retriever.Provider != "" {
		e.Retriever.Provider = oe.Retriever.Provider
	}
	if oe.Retriever.Host != "" {
		e.Retriever.Host = oe.Retriever.Host
	}
	if oe.Retriever.Class != "" {
		e.Retriever.Class = oe.Retriever.Class
	}
	if oe.Retriever.APIKey != "" {
		e.Retriever.APIKey = oe.Retriever.APIKey
	}

	// Server
	if other.Server.Addr != "" {
		c.Server.Addr = other.Server.Addr
	}
	if other.Server.MCPAddr != "" {
		c.Server.MCPAddr = other.Server.MCPAddr
	}
	if other.Server.URL != "" {
		c.Server.URL = other.Server.URL
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}
	if other.NATS.SubjectPrefix != "" {
		c.NATS.SubjectPrefix = other.NATS.SubjectPrefix
	}

	// Watch
	if len(other.Watch.Dirs) > 0 {
		c.Watch.Dirs = other.Watch.Dirs
	}
	if len(other.Watch.Extensions) > 0 {
		c.Watch.Extensions = other.Watch.Extensions
	}
	if other.Watch.Debounce != 0 {
		c.Watch.Debounce = other.Watch.Debounce
	}

	// Log and telemetry
	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}
	if other.Log.Format != "" {
		c.Log.Format = other.Log.Format
	}
	if other.Telemetry.Tracing {
		c.Telemetry.Tracing = true
	}
	if other.Telemetry.ServiceName != "" {
		c.Telemetry.ServiceName = other.Telemetry.ServiceName
	}
}

// ManagerConfig converts the manager section for orchestrator.NewManager.
func (c *Config) ManagerConfig() orchestrator.ManagerConfig {
	return orchestrator.ManagerConfig{
		MaxConcurrent: c.Manager.MaxConcurrent,
		BaseDelay:     c.Manager.BaseDelay,
		MaxDelay:      c.Manager.MaxDelay,
		Jitter:        c.Manager.Jitter,
		GracePeriod:   c.Manager.GracePeriod,
		HistoryLimit:  c.Manager.HistoryLimit,
	}
}

// Policies parses the per-stage policy overrides.
func (c *Config) Policies() (stages.Policies, error) {
	known := stages.DefaultPolicies()
	out := make(stages.Policies, len(c.Stages))
	for name, s := range c.Stages {
		if _, ok := known[name]; !ok {
			return nil, fmt.Errorf("config: stages.%s: unknown stage (known: %v)", name, slices.Sorted(maps.Keys(known)))
		}
		p, err := orchestrator.ParsePolicy(s)
		if err != nil {
			return nil, fmt.Errorf("config: stages.%s: %w", name, err)
		}
		out[name] = p
	}
	return out, nil
}

// Profiles returns the built-in benchmark profiles overlaid with the
// configured ones.
func (c *Config) Profiles() map[string]stages.Profile {
	out := stages.DefaultProfiles()
	for _, p := range c.Benchmark.Profiles {
		out[p.Name] = p
	}
	return out
}

// StoreOptions converts the store section for results.Open.
func (c *Config) StoreOptions(logger *slog.Logger) results.Options {
	return results.Options{
		Backend:    c.Store.Backend,
		Path:       c.Store.Path,
		SyncWrites: c.Store.SyncWrites,
		Logger:     logger,
	}
}

// TaskContext fills the empty fields of tc from the task defaults.
func (c *Config) TaskContext(tc orchestrator.TaskContext) (orchestrator.TaskContext, error) {
	if tc.Priority == 0 {
		p, err := orchestrator.ParsePriority(c.Defaults.Priority)
		if err != nil {
			return tc, err
		}
		tc.Priority = p
	}
	if tc.Timeout == 0 {
		tc.Timeout = c.Defaults.Timeout
	}
	if tc.MaxRetries == 0 {
		tc.MaxRetries = c.Defaults.MaxRetries
	}
	return tc, nil
}
