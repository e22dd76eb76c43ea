package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultInterval       = 5 * time.Second
	DefaultRequestTimeout = 60 * time.Second
	DefaultPollInterval   = 3 * time.Second
)

type Config struct {
	Interval       time.Duration       `yaml:"interval"`
	RequestTimeout time.Duration       `yaml:"request_timeout"`
	Transcription  TranscriptionConfig `yaml:"transcription"`
	Summarization  SummarizationConfig `yaml:"summarization"`
	Microphone     MicrophoneConfig    `yaml:"microphone"`
	Desktop        DesktopConfig       `yaml:"desktop"`
	Metrics        MetricsConfig       `yaml:"metrics"`
	Log            LogConfig           `yaml:"log"`

	// Keys come from the environment only.
	Keys Keys `yaml:"-"`
}

type TranscriptionConfig struct {
	Provider string `yaml:"provider"` // groq, openai, deepgram, fake; empty picks by key
	Language string `yaml:"language"`
	URL      string `yaml:"url"`
}

type SummarizationConfig struct {
	Provider string `yaml:"provider"` // openai, groq, fake; empty picks by key
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Prompt   string `yaml:"prompt"`
	// StrictOrder drops summaries that complete after a newer one.
	StrictOrder bool `yaml:"strict_order"`
}

type MicrophoneConfig struct {
	Device           string `yaml:"device"`
	EchoCancellation bool   `yaml:"echo_cancellation"`
	NoiseSuppression bool   `yaml:"noise_suppression"`
	AutoGainControl  bool   `yaml:"auto_gain_control"`
}

type DesktopConfig struct {
	Device       string        `yaml:"device"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Dir string `yaml:"dir"`
}

type Keys struct {
	Groq     string
	OpenAI   string
	Deepgram string
}

// ByProvider maps provider names to keys.
func (k Keys) ByProvider() map[string]string {
	return map[string]string{"groq": k.Groq, "openai": k.OpenAI, "deepgram": k.Deepgram}
}

var (
	transcriptionProviders = []string{"", "groq", "openai", "deepgram", "fake"}
	summarizationProviders = []string{"", "openai", "groq", "fake"}
)

func Default() *Config {
	return &Config{
		Interval:       DefaultInterval,
		RequestTimeout: DefaultRequestTimeout,
		Microphone: MicrophoneConfig{
			EchoCancellation: true,
			NoiseSuppression: true,
			AutoGainControl:  true,
		},
		Desktop: DesktopConfig{PollInterval: DefaultPollInterval},
	}
}

// DefaultPath is where Load looks for a config file when none is given.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "livenote", "config.yaml")
}

// Load builds the configuration from defaults, the YAML file at path (or
// DefaultPath when path is empty and the file exists), .env files and the
// process environment.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if path == "" {
		if p := DefaultPath(); p != "" {
			if _, err := os.Stat(p); err == nil {
				path = p
			}
		}
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := LoadEnvFiles(envFiles...); err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// LoadEnvFiles loads .env style files into the process environment. Missing
// files are skipped and variables already set are kept.
func LoadEnvFiles(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		if fi, err := os.Stat(p); err != nil || fi.IsDir() {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides the configuration from environment variables.
func (c *Config) ApplyEnv() error {
	c.Keys = Keys{
		Groq:     os.Getenv("GROQ_API_KEY"),
		OpenAI:   os.Getenv("OPENAI_API_KEY"),
		Deepgram: os.Getenv("DEEPGRAM_API_KEY"),
	}
	if v := strings.TrimSpace(os.Getenv("LIVENOTE_INTERVAL")); v != "" {
		d, err := ParseInterval(v)
		if err != nil {
			return fmt.Errorf("LIVENOTE_INTERVAL: %w", err)
		}
		c.Interval = d
	}
	if v := os.Getenv("LIVENOTE_TRANSCRIBER"); v != "" {
		c.Transcription.Provider = v
	}
	if v := os.Getenv("LIVENOTE_SUMMARIZER"); v != "" {
		c.Summarization.Provider = v
	}
	if v := os.Getenv("LIVENOTE_METRICS_ADDR"); v != "" {
		c.Metrics.Addr = v
	}
	return nil
}

// ParseInterval accepts a Go duration ("5s") or a bare number of
// milliseconds ("5000").
func ParseInterval(s string) (time.Duration, error) {
	if ms, err := strconv.Atoi(s); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(s)
}

func (c *Config) Validate() error {
	var errs []error
	if c.Interval <= 0 {
		errs = append(errs, fmt.Errorf("interval must be positive, got %v", c.Interval))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("request_timeout must be positive, got %v", c.RequestTimeout))
	}
	if c.Desktop.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("desktop.poll_interval must be positive, got %v", c.Desktop.PollInterval))
	}
	if !slices.Contains(transcriptionProviders, c.Transcription.Provider) {
		errs = append(errs, fmt.Errorf("unknown transcription provider %q", c.Transcription.Provider))
	}
	if !slices.Contains(summarizationProviders, c.Summarization.Provider) {
		errs = append(errs, fmt.Errorf("unknown summarization provider %q", c.Summarization.Provider))
	}
	return errors.Join(errs...)
}
