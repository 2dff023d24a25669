package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "ASKRELAY_"

// Config holds application configuration
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	StaticDir  string `yaml:"static_dir"` // served at / when set

	OllamaURL      string        `yaml:"ollama_url"`
	BackendTimeout time.Duration `yaml:"backend_timeout"`

	DefaultModel       string  `yaml:"default_model"`
	DefaultTemperature float64 `yaml:"default_temperature"`
	DefaultMaxTokens   int     `yaml:"default_max_tokens"`

	// MaxHistoryMessages caps each session; the oldest messages are dropped first. 0 disables the cap.
	MaxHistoryMessages int `yaml:"max_history_messages"`

	JournalPath string `yaml:"journal_path"` // empty disables the exchange journal

	LogFile   string `yaml:"log_file"` // "-" logs to stderr
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	TelemetryEnabled bool   `yaml:"telemetry_enabled"`
	TelemetryDir     string `yaml:"telemetry_dir"`
}

// Default returns the configuration used when nothing is overridden
func Default() Config {
	return Config{
		ListenAddr:         ":3000",
		OllamaURL:          "http://localhost:11434",
		BackendTimeout:     2 * time.Minute,
		DefaultModel:       "llama3.1",
		DefaultTemperature: 0.7,
		DefaultMaxTokens:   512,
		MaxHistoryMessages: 100,
		LogFile:            "logs/askrelay.log",
		LogLevel:           "info",
		LogFormat:          "json",
		TelemetryDir:       "logs",
	}
}

// Load builds a Config from defaults, the optional YAML file at path and
// ASKRELAY_* environment variables, in that order.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(EnvPrefix + key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	strVars := map[string]*string{
		"LISTEN_ADDR":   &c.ListenAddr,
		"STATIC_DIR":    &c.StaticDir,
		"OLLAMA_URL":    &c.OllamaURL,
		"DEFAULT_MODEL": &c.DefaultModel,
		"JOURNAL_PATH":  &c.JournalPath,
		"LOG_FILE":      &c.LogFile,
		"LOG_LEVEL":     &c.LogLevel,
		"LOG_FORMAT":    &c.LogFormat,
		"TELEMETRY_DIR": &c.TelemetryDir,
	}
	for key, dst := range strVars {
		if v, ok := get(key); ok {
			*dst = v
		}
	}

	intVars := map[string]*int{
		"DEFAULT_MAX_TOKENS":   &c.DefaultMaxTokens,
		"MAX_HISTORY_MESSAGES": &c.MaxHistoryMessages,
	}
	for key, dst := range intVars {
		if v, ok := get(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
			}
			*dst = n
		}
	}

	if v, ok := get("DEFAULT_TEMPERATURE"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid %sDEFAULT_TEMPERATURE: %w", EnvPrefix, err)
		}
		c.DefaultTemperature = f
	}
	if v, ok := get("BACKEND_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %sBACKEND_TIMEOUT: %w", EnvPrefix, err)
		}
		c.BackendTimeout = d
	}
	if v, ok := get("TELEMETRY_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %sTELEMETRY_ENABLED: %w", EnvPrefix, err)
		}
		c.TelemetryEnabled = b
	}
	return nil
}

// Validate reports every invalid setting
func (c Config) Validate() error {
	var errs []error

	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen_addr is required"))
	}
	u, err := url.Parse(c.OllamaURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("ollama_url %q must be an http(s) url", c.OllamaURL))
	}
	if c.BackendTimeout <= 0 {
		errs = append(errs, errors.New("backend_timeout must be positive"))
	}
	if c.DefaultModel == "" {
		errs = append(errs, errors.New("default_model is required"))
	}
	if c.DefaultMaxTokens <= 0 {
		errs = append(errs, errors.New("default_max_tokens must be positive"))
	}
	if c.MaxHistoryMessages < 0 {
		errs = append(errs, errors.New("max_history_messages cannot be negative"))
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log_format %q must be json or text", c.LogFormat))
	}

	return errors.Join(errs...)
}
