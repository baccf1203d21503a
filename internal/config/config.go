// Package config loads the immutable run configuration. Sources are applied
// in order: built-in defaults, YAML file, .env file and environment, then
// explicit overrides from the command line.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultFile is read when no config path is given and it exists.
const DefaultFile = "peerjudge.yaml"

// Model configures one collaborator call.
type Model struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// Judge is one independent judge.
type Judge struct {
	ID    string `yaml:"id"`
	Model `yaml:",inline"`
}

// Limits bounds text sizes and dataset size.
type Limits struct {
	// PaperMaxChars clips paper text when pairs are built.
	PaperMaxChars int `yaml:"paper_max_chars"`
	// GenerationPaperChars is the head+tail budget for generation prompts.
	GenerationPaperChars int `yaml:"generation_paper_chars"`
	JudgePaperChars      int `yaml:"judge_paper_chars"`
	JudgeGroundTruth     int `yaml:"judge_ground_truth_chars"`
	MinPaperChars        int `yaml:"min_paper_chars"`
	MinGroundTruthChars  int `yaml:"min_ground_truth_chars"`
	// SampleSize keeps a seeded random subset of the source; zero keeps all.
	SampleSize int `yaml:"sample_size"`
}

// Prompts names optional template override files.
type Prompts struct {
	Peer    string `yaml:"peer"`
	Vanilla string `yaml:"vanilla"`
	Judge   string `yaml:"judge"`
	Skill   string `yaml:"skill"`
}

// Retry configures the collaborator call policy.
type Retry struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	InitialInterval   time.Duration `yaml:"initial_interval"`
	MaxInterval       time.Duration `yaml:"max_interval"`
	RequestsPerMinute float64       `yaml:"requests_per_minute"`
}

// Log configures logging.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Config is the full run configuration. It is built once by Load and passed
// by value; nothing mutates it afterwards.
type Config struct {
	// Source is the raw JSONL the build-pairs stage reads.
	Source string `yaml:"source"`
	// DataDir holds every stage output.
	DataDir     string  `yaml:"data_dir"`
	Seed        int64   `yaml:"seed"`
	Concurrency int     `yaml:"concurrency"`
	Generation  Model   `yaml:"generation"`
	Judges      []Judge `yaml:"judges"`
	Limits      Limits  `yaml:"limits"`
	Prompts     Prompts `yaml:"prompts"`
	Retry       Retry   `yaml:"retry"`
	Log         Log     `yaml:"log"`
	// Debug logs full prompts.
	Debug bool `yaml:"debug"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Source:      filepath.Join("data", "raw", "source.jsonl"),
		DataDir:     "outputs",
		Seed:        42,
		Concurrency: 1,
		Generation:  Model{Provider: "openrouter", Model: "openai/gpt-4o", Temperature: 0.3, MaxTokens: 1500},
		Judges: []Judge{
			{ID: "judge1", Model: Model{Provider: "openrouter", Model: "anthropic/claude-3.5-sonnet", Temperature: 0, MaxTokens: 800}},
			{ID: "judge2", Model: Model{Provider: "openrouter", Model: "openai/gpt-4o", Temperature: 0, MaxTokens: 800}},
		},
		Limits: Limits{
			PaperMaxChars:        50000,
			GenerationPaperChars: 8000,
			JudgePaperChars:      12000,
			JudgeGroundTruth:     4000,
			MinPaperChars:        1500,
			MinGroundTruthChars:  200,
		},
		Retry: Retry{MaxAttempts: 3, InitialInterval: 2 * time.Second, MaxInterval: 30 * time.Second},
		Log:   Log{Level: "info", Format: "text"},
	}
}

// Overrides carries command-line values. Nil fields leave the loaded value.
type Overrides struct {
	DataDir     *string
	Source      *string
	Seed        *int64
	Concurrency *int
	LogLevel    *string
	LogFormat   *string
	LogFile     *string
	Debug       *bool
}

// Options controls where Load reads from.
type Options struct {
	// Path is the YAML file. Empty means DefaultFile if it exists.
	Path string
	// EnvFile is loaded into the process environment without overriding
	// variables already set. Empty means ".env" if it exists.
	EnvFile string
	// Getenv reads environment variables; nil means os.Getenv.
	Getenv    func(string) string
	Overrides Overrides
}

// Load builds and validates the configuration.
func Load(opts Options) (Config, error) {
	cfg := Default()

	path := opts.Path
	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	if err := loadFile(path, explicit, &cfg); err != nil {
		return Config{}, err
	}

	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !(opts.EnvFile == "" && errors.Is(err, os.ErrNotExist)) {
		return Config{}, fmt.Errorf("config: load env file %s: %w", envFile, err)
	}

	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	if err := applyEnv(getenv, &cfg); err != nil {
		return Config{}, err
	}
	applyOverrides(opts.Overrides, &cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: invalid: %w", err)
	}
	return cfg, nil
}

func loadFile(path string, explicit bool, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func applyEnv(getenv func(string) string, cfg *Config) error {
	var errs []error
	str := func(name string, dst *string) {
		if v := strings.TrimSpace(getenv(name)); v != "" {
			*dst = v
		}
	}
	str("PEERJUDGE_DATA_DIR", &cfg.DataDir)
	str("PEERJUDGE_SOURCE", &cfg.Source)
	str("PEERJUDGE_GEN_PROVIDER", &cfg.Generation.Provider)
	str("PEERJUDGE_GEN_MODEL", &cfg.Generation.Model)
	str("PEERJUDGE_LOG_LEVEL", &cfg.Log.Level)
	str("PEERJUDGE_LOG_FORMAT", &cfg.Log.Format)
	str("PEERJUDGE_LOG_FILE", &cfg.Log.File)
	if v := strings.TrimSpace(getenv("PEERJUDGE_SEED")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("PEERJUDGE_SEED: %w", err))
		} else {
			cfg.Seed = n
		}
	}
	if v := strings.TrimSpace(getenv("PEERJUDGE_CONCURRENCY")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("PEERJUDGE_CONCURRENCY: %w", err))
		} else {
			cfg.Concurrency = n
		}
	}
	if v := strings.TrimSpace(getenv("PEERJUDGE_SAMPLE_SIZE")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("PEERJUDGE_SAMPLE_SIZE: %w", err))
		} else {
			cfg.Limits.SampleSize = n
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}
	return nil
}

func applyOverrides(o Overrides, cfg *Config) {
	if o.DataDir != nil {
		cfg.DataDir = *o.DataDir
	}
	if o.Source != nil {
		cfg.Source = *o.Source
	}
	if o.Seed != nil {
		cfg.Seed = *o.Seed
	}
	if o.Concurrency != nil {
		cfg.Concurrency = *o.Concurrency
	}
	if o.LogLevel != nil {
		cfg.Log.Level = *o.LogLevel
	}
	if o.LogFormat != nil {
		cfg.Log.Format = *o.LogFormat
	}
	if o.LogFile != nil {
		cfg.Log.File = *o.LogFile
	}
	if o.Debug != nil {
		cfg.Debug = *o.Debug
	}
}

var judgeIDRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

var providers = map[string]bool{"openrouter": true, "anthropic": true, "openai": true, "google": true}

// Validate reports every problem found, joined.
func (c Config) Validate() error {
	var errs []error
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir must be set"))
	}
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be >= 1, got %d", c.Concurrency))
	}
	errs = append(errs, c.Generation.validate("generation")...)
	if len(c.Judges) == 0 {
		errs = append(errs, errors.New("at least one judge is required"))
	}
	seen := make(map[string]bool, len(c.Judges))
	for i, j := range c.Judges {
		field := fmt.Sprintf("judges[%d]", i)
		if !judgeIDRe.MatchString(j.ID) {
			errs = append(errs, fmt.Errorf("%s.id %q must match %s", field, j.ID, judgeIDRe))
		}
		if seen[j.ID] {
			errs = append(errs, fmt.Errorf("%s.id %q is duplicated", field, j.ID))
		}
		seen[j.ID] = true
		errs = append(errs, j.Model.validate(field)...)
	}
	l := c.Limits
	for _, lim := range []struct {
		name string
		v    int
	}{
		{"limits.paper_max_chars", l.PaperMaxChars},
		{"limits.generation_paper_chars", l.GenerationPaperChars},
		{"limits.judge_paper_chars", l.JudgePaperChars},
		{"limits.judge_ground_truth_chars", l.JudgeGroundTruth},
		{"limits.min_paper_chars", l.MinPaperChars},
		{"limits.min_ground_truth_chars", l.MinGroundTruthChars},
		{"limits.sample_size", l.SampleSize},
	} {
		if lim.v < 0 {
			errs = append(errs, fmt.Errorf("%s must be >= 0, got %d", lim.name, lim.v))
		}
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be >= 1, got %d", c.Retry.MaxAttempts))
	}
	if c.Retry.RequestsPerMinute < 0 {
		errs = append(errs, errors.New("retry.requests_per_minute must be >= 0"))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q must be debug, info, warn or error", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}
	return errors.Join(errs...)
}

func (m Model) validate(field string) []error {
	var errs []error
	if !providers[strings.ToLower(m.Provider)] {
		errs = append(errs, fmt.Errorf("%s.provider %q must be openrouter, anthropic, openai or google", field, m.Provider))
	}
	if strings.TrimSpace(m.Model) == "" {
		errs = append(errs, fmt.Errorf("%s.model must be set", field))
	}
	if m.Temperature < 0 || m.Temperature > 2 {
		errs = append(errs, fmt.Errorf("%s.temperature must be within [0, 2], got %g", field, m.Temperature))
	}
	if m.MaxTokens < 1 {
		errs = append(errs, fmt.Errorf("%s.max_tokens must be >= 1, got %d", field, m.MaxTokens))
	}
	return errs
}

// PairsPath is the item list every stage after build-pairs reads.
func (c Config) PairsPath() string {
	return filepath.Join(c.DataDir, "processed", "pairs.jsonl")
}

// GenerationsPath holds the generation records of both conditions.
func (c Config) GenerationsPath() string {
	return filepath.Join(c.DataDir, "generations", "reviews.jsonl")
}

// JudgmentsPath holds one judge's records.
func (c Config) JudgmentsPath(judgeID string) string {
	return filepath.Join(c.DataDir, "judgments", "judgments_"+judgeID+".jsonl")
}

// ReportsDir holds the summary outputs.
func (c Config) ReportsDir() string {
	return filepath.Join(c.DataDir, "reports")
}

// JudgeIDs lists the configured judges in order.
func (c Config) JudgeIDs() []string {
	ids := make([]string, len(c.Judges))
	for i, j := range c.Judges {
		ids[i] = j.ID
	}
	return ids
}
