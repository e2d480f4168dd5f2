package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// AppConfig is the server configuration. Sources, weakest first: defaults,
// .env file, environment, JSON config file, command-line flags.
type AppConfig struct {
	Addr      string `json:"addr" env:"ADDR"`
	HistoryDB string `json:"history_db" env:"HISTORY_DB"` // empty disables the journal
	Dev       bool   `json:"dev" env:"DEV"`               // any WebSocket origin, debug lines

	MinPlayers      int           `json:"min_players" env:"MIN_PLAYERS"`
	DefaultCapacity int           `json:"default_capacity" env:"DEFAULT_CAPACITY"`
	MaxCapacity     int           `json:"max_capacity" env:"MAX_CAPACITY"`
	NightTimeout    time.Duration `json:"night_timeout" env:"NIGHT_TIMEOUT"` // 0 waits for every role

	// Diagnostics, written to files under LogOutputDir
	LogOutputDir string `json:"log_output_dir" env:"LOG_OUTPUT_DIR"`
	LogRequests  bool   `json:"log_requests" env:"LOG_REQUESTS"`
	LogDB        bool   `json:"log_db" env:"LOG_DB"`
	LogWS        bool   `json:"log_ws" env:"LOG_WS"`
	LogDebug     bool   `json:"log_debug" env:"LOG_DEBUG"`

	// Narrator
	StorytellerProvider    string `json:"storyteller_provider" env:"STORYTELLER_PROVIDER"`
	StorytellerModel       string `json:"storyteller_model" env:"STORYTELLER_MODEL"`
	StorytellerOllamaURL   string `json:"storyteller_ollama_url" env:"STORYTELLER_OLLAMA_URL"`
	StorytellerURL         string `json:"storyteller_url" env:"STORYTELLER_URL"`
	StorytellerAPIKey      string `json:"storyteller_api_key" env:"STORYTELLER_API_KEY"`
	StorytellerTemperature string `json:"storyteller_temperature" env:"STORYTELLER_TEMPERATURE"`
	StorytellerThinking    string `json:"storyteller_thinking" env:"STORYTELLER_THINKING"`
	GroqAPIKey             string `json:"groq_api_key" env:"GROQ_API_KEY"`
}

// configField ties a config key to its field. The flag name is the key
// with dashes.
type configField struct {
	key   string
	usage string
	field func(*AppConfig) any
}

var configFields = []configField{
	{"addr", "HTTP listen address (e.g. :8080)", func(c *AppConfig) any { return &c.Addr }},
	{"history_db", "journal database connection string, empty disables it", func(c *AppConfig) any { return &c.HistoryDB }},
	{"dev", "development mode (any origin, debug logging)", func(c *AppConfig) any { return &c.Dev }},
	{"min_players", "players needed to start a game", func(c *AppConfig) any { return &c.MinPlayers }},
	{"default_capacity", "lobby capacity when none is requested", func(c *AppConfig) any { return &c.DefaultCapacity }},
	{"max_capacity", "largest lobby capacity", func(c *AppConfig) any { return &c.MaxCapacity }},
	{"night_timeout", "resolve a night after this long (0 disables)", func(c *AppConfig) any { return &c.NightTimeout }},
	{"log_output_dir", "directory for diagnostic log files", func(c *AppConfig) any { return &c.LogOutputDir }},
	{"log_requests", "log HTTP traffic", func(c *AppConfig) any { return &c.LogRequests }},
	{"log_db", "dump the journal after phase changes", func(c *AppConfig) any { return &c.LogDB }},
	{"log_ws", "log WebSocket frames", func(c *AppConfig) any { return &c.LogWS }},
	{"log_debug", "debug lines on stderr", func(c *AppConfig) any { return &c.LogDebug }},
	{"storyteller_provider", "ollama | openai | claude | gemini | groq | openai-compatible", func(c *AppConfig) any { return &c.StorytellerProvider }},
	{"storyteller_model", "narrator model name", func(c *AppConfig) any { return &c.StorytellerModel }},
	{"storyteller_ollama_url", "Ollama server URL", func(c *AppConfig) any { return &c.StorytellerOllamaURL }},
	{"storyteller_url", "base URL for openai-compatible", func(c *AppConfig) any { return &c.StorytellerURL }},
	{"storyteller_api_key", "API key for openai-compatible", func(c *AppConfig) any { return &c.StorytellerAPIKey }},
	{"storyteller_temperature", "sampling temperature 0-1", func(c *AppConfig) any { return &c.StorytellerTemperature }},
	{"storyteller_thinking", "none | low | medium | high | auto", func(c *AppConfig) any { return &c.StorytellerThinking }},
	{"groq_api_key", "Groq API key", func(c *AppConfig) any { return &c.GroqAPIKey }},
}

func (f configField) flagName() string {
	return strings.ReplaceAll(f.key, "_", "-")
}

func (cfg AppConfig) toLogConfig() LogConfig {
	return LogConfig{
		OutputDir:   cfg.LogOutputDir,
		LogRequests: cfg.LogRequests,
		LogDB:       cfg.LogDB,
		LogWS:       cfg.LogWS,
		Debug:       cfg.LogDebug || cfg.Dev,
	}
}

func (cfg AppConfig) registryOptions() RegistryOptions {
	return RegistryOptions{
		MinPlayers:      cfg.MinPlayers,
		DefaultCapacity: cfg.DefaultCapacity,
		MaxCapacity:     cfg.MaxCapacity,
		NightTimeout:    cfg.NightTimeout,
	}
}

func defaultConfig() AppConfig {
	return AppConfig{
		Addr:                 ":8080",
		HistoryDB:            "file::memory:?cache=shared",
		MinPlayers:           minPlayers,
		DefaultCapacity:      10,
		MaxCapacity:          20,
		NightTimeout:         30 * time.Second,
		StorytellerOllamaURL: "http://localhost:11434",
	}
}

// loadConfig layers the .env file, the environment and the JSON file over
// the defaults. Flags go on top afterwards, see flagValues.applyTo.
func loadConfig(configPath, dotenvPath string) (AppConfig, error) {
	cfg := defaultConfig()

	// .env never overrides variables that are already set
	if dotenvPath != "" {
		switch err := godotenv.Load(dotenvPath); {
		case err == nil:
			log.Printf("Config: loaded %s", dotenvPath)
		case !errors.Is(err, fs.ErrNotExist):
			log.Printf("Config: reading %s: %v", dotenvPath, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return cfg, nil
	case err != nil:
		log.Printf("Config: reading %s: %v", configPath, err)
		return cfg, nil
	}

	var overlay map[string]json.RawMessage
	if err := json.Unmarshal(data, &overlay); err != nil {
		log.Printf("Config: %s is not a JSON object: %v", configPath, err)
		return cfg, nil
	}
	if err := applyJSONOverlay(&cfg, overlay); err != nil {
		return cfg, fmt.Errorf("config %s: %w", configPath, err)
	}
	log.Printf("Config: applied %d keys from %s", len(overlay), configPath)
	return cfg, nil
}

// applyJSONOverlay sets only the keys present in m. Durations are strings
// in time.ParseDuration form.
func applyJSONOverlay(cfg *AppConfig, m map[string]json.RawMessage) error {
	var errs []error
	for _, f := range configFields {
		raw, ok := m[f.key]
		if !ok {
			continue
		}
		if d, isDuration := f.field(cfg).(*time.Duration); isDuration {
			var s string
			err := json.Unmarshal(raw, &s)
			if err == nil {
				*d, err = time.ParseDuration(s)
			}
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", f.key, err))
			}
			continue
		}
		if err := json.Unmarshal(raw, f.field(cfg)); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f.key, err))
		}
	}
	return errors.Join(errs...)
}

// flagValues binds every config field to a flag. Parsed values land in
// parsed and only flags given on the command line are copied over.
type flagValues struct {
	fs         *flag.FlagSet
	configPath *string
	dotenvPath *string
	parsed     AppConfig
}

func registerFlags(fs *flag.FlagSet) *flagValues {
	fv := &flagValues{
		fs:         fs,
		configPath: fs.String("config", "config.json", "path to JSON config file"),
		dotenvPath: fs.String("env-file", ".env", "path to .env file"),
	}
	for _, f := range configFields {
		switch p := f.field(&fv.parsed).(type) {
		case *string:
			fs.StringVar(p, f.flagName(), "", f.usage)
		case *bool:
			fs.BoolVar(p, f.flagName(), false, f.usage)
		case *int:
			fs.IntVar(p, f.flagName(), 0, f.usage)
		case *time.Duration:
			fs.DurationVar(p, f.flagName(), 0, f.usage)
		}
	}
	return fv
}

// applyTo copies the flags that were set explicitly onto cfg.
func (fv *flagValues) applyTo(cfg *AppConfig) {
	byName := make(map[string]configField, len(configFields))
	for _, f := range configFields {
		byName[f.flagName()] = f
	}
	fv.fs.Visit(func(fl *flag.Flag) {
		f, ok := byName[fl.Name]
		if !ok {
			return
		}
		switch dst := f.field(cfg).(type) {
		case *string:
			*dst = *f.field(&fv.parsed).(*string)
		case *bool:
			*dst = *f.field(&fv.parsed).(*bool)
		case *int:
			*dst = *f.field(&fv.parsed).(*int)
		case *time.Duration:
			*dst = *f.field(&fv.parsed).(*time.Duration)
		}
	})
}
