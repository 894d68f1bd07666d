// Package config provides configuration management for hwrsync.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultWorkerPort is the HTTP port of the session worker.
	DefaultWorkerPort = 37877
	// DefaultTabletAction is the broadcast action the tablet app listens on.
	DefaultTabletAction = "com.handwriting.ACTION_MSG"
	// DefaultTabletDocsRoot is where the tablet app writes trial documents.
	DefaultTabletDocsRoot = "/storage/emulated/0/Documents"
	// DefaultTriggerSampleRate is the g.HIAMP sampling rate in Hz.
	DefaultTriggerSampleRate = 256.0
)

// DefaultLetters is the stimulus set of an executed/imagined session.
var DefaultLetters = []string{"e", "a", "o", "s", "n", "r", "u", "l", "d", "t"}

// Session kinds.
const (
	KindBaseline = "baseline"
	KindTraining = "training"
	KindExecuted = "executed"
	KindImagined = "imagined"
)

// Config holds every tunable of a session host.
type Config struct {
	// Worker / storage
	WorkerPort  int
	DBDriver    string // "sqlite" or "postgres"
	DBPath      string
	PostgresDSN string
	RedisURL    string

	// Tablet bridge
	ADBPath        string
	ADBSerial      string
	TabletAction   string
	TabletDocsRoot string

	// Marker streams
	LaptopStream string
	TabletStream string

	// Scheduler timing
	TickIntervalMS int
	SendTimeoutMS  int
	PullTimeoutMS  int
	QueueSize      int
	HistorySize    int
	ProtocolPath   string

	// Session
	SessionKind          string
	SessionID            string
	SubjectID            string
	SessionName          string
	Runs                 int
	Letters              []string
	RandomizePerRun      bool
	Seed                 *int64
	CueBaseDuration      float64
	CueTMin              float64
	CueTMax              float64
	RandomizeCueDuration bool

	// Analysis
	TriggerSampleRate float64
}

var (
	globalConfig *Config
	configOnce   sync.Once
)

// DataDir returns the data directory path.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".hwrsync")
}

// DBPath returns the default SQLite database path.
func DBPath() string {
	return filepath.Join(DataDir(), "hwrsync.db")
}

// SettingsPath returns the settings file path.
func SettingsPath() string {
	return filepath.Join(DataDir(), "settings.json")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0750)
}

// EnsureSettings writes a default settings file if none exists.
func EnsureSettings() error {
	path := SettingsPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}

	data, err := json.MarshalIndent(defaultSettings(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal default settings: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

// EnsureAll creates the data directory and the default settings file.
func EnsureAll() error {
	if err := EnsureDataDir(); err != nil {
		return fmt.Errorf("ensure data dir: %w", err)
	}
	return EnsureSettings()
}

// Default returns the default configuration.
func Default() *Config {
	letters := make([]string, len(DefaultLetters))
	copy(letters, DefaultLetters)

	return &Config{
		WorkerPort:           DefaultWorkerPort,
		DBDriver:             "sqlite",
		DBPath:               DBPath(),
		ADBPath:              "adb",
		TabletAction:         DefaultTabletAction,
		TabletDocsRoot:       DefaultTabletDocsRoot,
		LaptopStream:         "Laptop_Markers",
		TabletStream:         "Tablet_Markers",
		TickIntervalMS:       5,
		SendTimeoutMS:        2000,
		PullTimeoutMS:        800,
		QueueSize:            64,
		HistorySize:          200,
		SessionKind:          KindExecuted,
		SessionID:            "1",
		SubjectID:            "test_subject",
		SessionName:          KindExecuted,
		Runs:                 10,
		Letters:              letters,
		RandomizePerRun:      true,
		CueBaseDuration:      6.0,
		CueTMin:              1.0,
		CueTMax:              2.5,
		RandomizeCueDuration: true,
		TriggerSampleRate:    DefaultTriggerSampleRate,
	}
}

// Load reads settings from disk. A missing or unparsable file yields defaults.
// Environment variables with the same keys override file values.
func Load() (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(SettingsPath())
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	if len(data) > 0 {
		var settings map[string]interface{}
		if err := json.Unmarshal(data, &settings); err != nil {
			log.Warn().Err(err).Str("path", SettingsPath()).Msg("Invalid settings file, using defaults")
		} else {
			cfg.apply(settings)
		}
	}

	cfg.applyEnv()

	if err := cfg.ApplyKind(cfg.SessionKind); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Get returns the process-wide configuration, loading it once.
func Get() *Config {
	configOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			log.Warn().Err(err).Msg("Failed to load config, using defaults")
			cfg = Default()
		}
		globalConfig = cfg
	})
	return globalConfig
}

// GetWorkerPort returns HWR_WORKER_PORT when valid, otherwise the configured port.
func GetWorkerPort() int {
	if v := os.Getenv("HWR_WORKER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			return port
		}
	}
	return Get().WorkerPort
}

// ApplyKind overrides session parameters with the preset of the given kind.
func (c *Config) ApplyKind(kind string) error {
	switch kind {
	case KindBaseline:
		c.Letters = []string{"mira"}
		c.Runs = 1
		c.CueBaseDuration = 60.0
		c.RandomizePerRun = false
		c.RandomizeCueDuration = false
	case KindTraining:
		c.Runs = 1
		c.RandomizePerRun = false
	case KindExecuted, KindImagined:
	default:
		return fmt.Errorf("unknown session kind %q", kind)
	}
	c.SessionKind = kind
	return nil
}

// TickInterval returns the scheduler polling interval.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMS) * time.Millisecond
}

// SendTimeout returns the per-command tablet send timeout.
func (c *Config) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutMS) * time.Millisecond
}

// PullTimeout returns the tablet trial read timeout.
func (c *Config) PullTimeout() time.Duration {
	return time.Duration(c.PullTimeoutMS) * time.Millisecond
}

func (c *Config) apply(s map[string]interface{}) {
	getInt(s, "HWR_WORKER_PORT", &c.WorkerPort)
	getString(s, "HWR_DB_DRIVER", &c.DBDriver)
	getString(s, "HWR_DB_PATH", &c.DBPath)
	getString(s, "HWR_POSTGRES_DSN", &c.PostgresDSN)
	getString(s, "HWR_REDIS_URL", &c.RedisURL)
	getString(s, "HWR_ADB_PATH", &c.ADBPath)
	getString(s, "HWR_ADB_SERIAL", &c.ADBSerial)
	getString(s, "HWR_TABLET_ACTION", &c.TabletAction)
	getString(s, "HWR_TABLET_DOCS_ROOT", &c.TabletDocsRoot)
	getString(s, "HWR_LAPTOP_STREAM", &c.LaptopStream)
	getString(s, "HWR_TABLET_STREAM", &c.TabletStream)
	getInt(s, "HWR_TICK_INTERVAL_MS", &c.TickIntervalMS)
	getInt(s, "HWR_SEND_TIMEOUT_MS", &c.SendTimeoutMS)
	getInt(s, "HWR_PULL_TIMEOUT_MS", &c.PullTimeoutMS)
	getInt(s, "HWR_QUEUE_SIZE", &c.QueueSize)
	getInt(s, "HWR_HISTORY_SIZE", &c.HistorySize)
	getString(s, "HWR_PROTOCOL_PATH", &c.ProtocolPath)
	getString(s, "HWR_SESSION_KIND", &c.SessionKind)
	getString(s, "HWR_SESSION_ID", &c.SessionID)
	getString(s, "HWR_SUBJECT_ID", &c.SubjectID)
	getString(s, "HWR_SESSION_NAME", &c.SessionName)
	getInt(s, "HWR_RUNS", &c.Runs)
	getList(s, "HWR_LETTERS", &c.Letters)
	getBool(s, "HWR_RANDOMIZE_PER_RUN", &c.RandomizePerRun)
	getFloat(s, "HWR_CUE_BASE_DURATION", &c.CueBaseDuration)
	getFloat(s, "HWR_CUE_TMIN", &c.CueTMin)
	getFloat(s, "HWR_CUE_TMAX", &c.CueTMax)
	getBool(s, "HWR_RANDOMIZE_CUE_DURATION", &c.RandomizeCueDuration)
	getFloat(s, "HWR_TRIGGER_SAMPLE_RATE", &c.TriggerSampleRate)

	if v, ok := s["HWR_SEED"].(float64); ok {
		seed := int64(v)
		c.Seed = &seed
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("HWR_WORKER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.WorkerPort = port
		}
	}
	envString("HWR_DB_PATH", &c.DBPath)
	envString("HWR_POSTGRES_DSN", &c.PostgresDSN)
	envString("HWR_REDIS_URL", &c.RedisURL)
	envString("HWR_ADB_SERIAL", &c.ADBSerial)
	envString("HWR_SESSION_ID", &c.SessionID)
	envString("HWR_SUBJECT_ID", &c.SubjectID)
	envString("HWR_SESSION_KIND", &c.SessionKind)
	if v := os.Getenv("HWR_LETTERS"); v != "" {
		c.Letters = splitTrim(v)
	}
}

func defaultSettings() map[string]interface{} {
	cfg := Default()
	return map[string]interface{}{
		"HWR_WORKER_PORT":            cfg.WorkerPort,
		"HWR_DB_DRIVER":              cfg.DBDriver,
		"HWR_ADB_SERIAL":             cfg.ADBSerial,
		"HWR_TABLET_ACTION":          cfg.TabletAction,
		"HWR_TICK_INTERVAL_MS":       cfg.TickIntervalMS,
		"HWR_SESSION_KIND":           cfg.SessionKind,
		"HWR_SESSION_ID":             cfg.SessionID,
		"HWR_SUBJECT_ID":             cfg.SubjectID,
		"HWR_RUNS":                   cfg.Runs,
		"HWR_LETTERS":                strings.Join(cfg.Letters, ","),
		"HWR_RANDOMIZE_PER_RUN":      cfg.RandomizePerRun,
		"HWR_CUE_BASE_DURATION":      cfg.CueBaseDuration,
		"HWR_CUE_TMIN":               cfg.CueTMin,
		"HWR_CUE_TMAX":               cfg.CueTMax,
		"HWR_RANDOMIZE_CUE_DURATION": cfg.RandomizeCueDuration,
	}
}

func getString(s map[string]interface{}, key string, dst *string) {
	if v, ok := s[key].(string); ok && v != "" {
		*dst = v
	}
}

func getInt(s map[string]interface{}, key string, dst *int) {
	if v, ok := s[key].(float64); ok {
		*dst = int(v)
	}
}

func getFloat(s map[string]interface{}, key string, dst *float64) {
	if v, ok := s[key].(float64); ok {
		*dst = v
	}
}

func getBool(s map[string]interface{}, key string, dst *bool) {
	if v, ok := s[key].(bool); ok {
		*dst = v
	}
}

// getList accepts either a comma-separated string or a JSON array of strings.
func getList(s map[string]interface{}, key string, dst *[]string) {
	switch v := s[key].(type) {
	case string:
		if v != "" {
			*dst = splitTrim(v)
		}
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if str, ok := item.(string); ok && strings.TrimSpace(str) != "" {
				out = append(out, strings.TrimSpace(str))
			}
		}
		*dst = out
	}
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// splitTrim splits a comma-separated list, trimming blanks and dropping empties.
func splitTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
