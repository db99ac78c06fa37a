package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"dictabridge/internal/security"
)

const envPrefix = "DICTABRIDGE_"

// DefaultHotkeyChord matches the chord the hotkey source falls back to.
const DefaultHotkeyChord = "ctrl+shift+space"

// Config is the effective runtime configuration. It is never mutated after Load.
type Config struct {
	HotkeyChord              string          `yaml:"hotkeyChord"`
	HotkeyDebounceMillis     int             `yaml:"hotkeyDebounceMillis"`
	TransportPort            int             `yaml:"transportPort"`
	StaticPort               int             `yaml:"staticPort"`
	EntryDocument            string          `yaml:"entryDocument"`
	HandshakeTimeoutSeconds  int             `yaml:"handshakeTimeoutSeconds"`
	SessionTimeoutSeconds    int             `yaml:"sessionTimeoutSeconds"`
	FinalizeTimeoutSeconds   int             `yaml:"finalizeTimeoutSeconds"`
	HeartbeatIntervalSeconds int             `yaml:"heartbeatIntervalSeconds"`
	StaleThresholdSeconds    int             `yaml:"staleThresholdSeconds"`
	RequireActivity          bool            `yaml:"requireActivity"`
	MaxTranscriptLength      int             `yaml:"maxTranscriptLength"`
	RateLimit                RateLimitConfig `yaml:"rateLimit"`
	DangerousAppList         []string        `yaml:"dangerousAppList"`
	UnsafeTargetPolicy       string          `yaml:"unsafeTargetPolicy"`
	UnknownTargetIsShell     bool            `yaml:"unknownTargetIsShell"`
	DestructiveTokens        []string        `yaml:"destructiveTokens"`
	TokenReplacement         string          `yaml:"tokenReplacement"`
	ForegroundCommand        []string        `yaml:"foregroundCommand,omitempty"`
	Clipboard                ClipboardConfig `yaml:"clipboard"`
	Journal                  JournalConfig   `yaml:"journal"`
	Log                      LogConfig       `yaml:"log"`
}

type RateLimitConfig struct {
	Requests      int `yaml:"requests"`
	WindowSeconds int `yaml:"windowSeconds"`
}

type ClipboardConfig struct {
	PasteDelayMillis   int `yaml:"pasteDelayMillis"`
	RestoreDelayMillis int `yaml:"restoreDelayMillis"`
}

// JournalConfig locates the session history store. An empty Path keeps it in memory.
type JournalConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retentionDays"`
}

type LogConfig struct {
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
	Dir    string `yaml:"dir,omitempty"`
}

// ParseError is returned when a config file exists but cannot be parsed.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return "failed to parse config file " + e.Path + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Defaults returns the built-in configuration rooted at home.
func Defaults(home string) Config {
	return Config{
		HotkeyChord:              DefaultHotkeyChord,
		HotkeyDebounceMillis:     300,
		TransportPort:            8081,
		StaticPort:               8080,
		EntryDocument:            filepath.Join(home, ".config", "dictabridge", "speech-capture.html"),
		HandshakeTimeoutSeconds:  10,
		SessionTimeoutSeconds:    30,
		FinalizeTimeoutSeconds:   10,
		HeartbeatIntervalSeconds: 15,
		StaleThresholdSeconds:    45,
		RequireActivity:          true,
		MaxTranscriptLength:      security.DefaultMaxTranscriptLength,
		RateLimit:                RateLimitConfig{Requests: 30, WindowSeconds: 60},
		DangerousAppList:         append([]string(nil), security.DefaultDangerousApps...),
		UnsafeTargetPolicy:       string(security.TargetPolicySanitize),
		DestructiveTokens:        append([]string(nil), security.DefaultDestructiveTokens...),
		TokenReplacement:         security.DefaultTokenReplacement,
		Clipboard:                ClipboardConfig{PasteDelayMillis: 50, RestoreDelayMillis: 300},
		Journal: JournalConfig{
			Path:          filepath.Join(home, ".local", "state", "dictabridge", "journal"),
			RetentionDays: 30,
		},
		Log: LogConfig{Format: "text", Level: "info"},
	}
}

// DefaultPath is the config file read when no path is given.
func DefaultPath(home string) string {
	return filepath.Join(home, ".config", "dictabridge", "config.yaml")
}

// Load builds the configuration from defaults, the YAML file at path and DICTABRIDGE_*
// environment overrides. A missing file is only an error when path was given explicitly.
func Load(path string) (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}

	cfg := Defaults(home)

	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = envOrDefault(envPrefix+"CONFIG", DefaultPath(home))
	}
	if err := readFile(path, explicit, &cfg); err != nil {
		return Config{}, err
	}

	applyEnv(&cfg)
	normalize(&cfg)

	if _, err := security.ParseTargetPolicy(cfg.UnsafeTargetPolicy); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func readFile(path string, explicit bool, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return nil
		}
		return fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return &ParseError{Path: path, Err: err}
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.HotkeyChord = envOrDefault(envPrefix+"HOTKEY_CHORD", cfg.HotkeyChord)
	cfg.TransportPort = envOrDefaultInt(envPrefix+"TRANSPORT_PORT", cfg.TransportPort)
	cfg.StaticPort = envOrDefaultInt(envPrefix+"STATIC_PORT", cfg.StaticPort)
	cfg.EntryDocument = envOrDefault(envPrefix+"ENTRY_DOCUMENT", cfg.EntryDocument)
	cfg.SessionTimeoutSeconds = envOrDefaultInt(envPrefix+"SESSION_TIMEOUT_SECONDS", cfg.SessionTimeoutSeconds)
	cfg.HeartbeatIntervalSeconds = envOrDefaultInt(envPrefix+"HEARTBEAT_INTERVAL_SECONDS", cfg.HeartbeatIntervalSeconds)
	cfg.StaleThresholdSeconds = envOrDefaultInt(envPrefix+"STALE_THRESHOLD_SECONDS", cfg.StaleThresholdSeconds)
	cfg.RequireActivity = envOrDefaultBool(envPrefix+"REQUIRE_ACTIVITY", cfg.RequireActivity)
	cfg.MaxTranscriptLength = envOrDefaultInt(envPrefix+"MAX_TRANSCRIPT_LENGTH", cfg.MaxTranscriptLength)
	cfg.RateLimit.Requests = envOrDefaultInt(envPrefix+"RATE_LIMIT_REQUESTS", cfg.RateLimit.Requests)
	cfg.RateLimit.WindowSeconds = envOrDefaultInt(envPrefix+"RATE_LIMIT_WINDOW_SECONDS", cfg.RateLimit.WindowSeconds)
	cfg.DangerousAppList = envOrDefaultList(envPrefix+"DANGEROUS_APPS", cfg.DangerousAppList)
	cfg.UnsafeTargetPolicy = envOrDefault(envPrefix+"UNSAFE_TARGET_POLICY", cfg.UnsafeTargetPolicy)
	cfg.UnknownTargetIsShell = envOrDefaultBool(envPrefix+"UNKNOWN_TARGET_IS_SHELL", cfg.UnknownTargetIsShell)
	cfg.Journal.Path = envOrDefault(envPrefix+"JOURNAL_PATH", cfg.Journal.Path)
	cfg.Log.Format = envOrDefault(envPrefix+"LOG_FORMAT", cfg.Log.Format)
	cfg.Log.Level = envOrDefault(envPrefix+"LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Dir = envOrDefault(envPrefix+"LOG_DIR", cfg.Log.Dir)
}

func normalize(cfg *Config) {
	defaults := Defaults("")

	if !validPort(cfg.TransportPort) {
		cfg.TransportPort = defaults.TransportPort
	}
	if !validPort(cfg.StaticPort) {
		cfg.StaticPort = defaults.StaticPort
	}
	if cfg.HotkeyDebounceMillis < 0 {
		cfg.HotkeyDebounceMillis = defaults.HotkeyDebounceMillis
	}
	if cfg.HandshakeTimeoutSeconds <= 0 {
		cfg.HandshakeTimeoutSeconds = defaults.HandshakeTimeoutSeconds
	}
	if cfg.SessionTimeoutSeconds <= 0 {
		cfg.SessionTimeoutSeconds = defaults.SessionTimeoutSeconds
	}
	if cfg.FinalizeTimeoutSeconds <= 0 {
		cfg.FinalizeTimeoutSeconds = defaults.FinalizeTimeoutSeconds
	}
	if cfg.HeartbeatIntervalSeconds <= 0 {
		cfg.HeartbeatIntervalSeconds = defaults.HeartbeatIntervalSeconds
	}
	// A peer must get at least two heartbeats before it can be declared stale.
	if cfg.StaleThresholdSeconds < 2*cfg.HeartbeatIntervalSeconds {
		cfg.StaleThresholdSeconds = 3 * cfg.HeartbeatIntervalSeconds
	}
	if cfg.MaxTranscriptLength <= 0 {
		cfg.MaxTranscriptLength = defaults.MaxTranscriptLength
	}
	if cfg.RateLimit.Requests <= 0 {
		cfg.RateLimit.Requests = defaults.RateLimit.Requests
	}
	if cfg.RateLimit.WindowSeconds <= 0 {
		cfg.RateLimit.WindowSeconds = defaults.RateLimit.WindowSeconds
	}
	if cfg.Clipboard.PasteDelayMillis < 0 {
		cfg.Clipboard.PasteDelayMillis = defaults.Clipboard.PasteDelayMillis
	}
	if cfg.Clipboard.RestoreDelayMillis < 0 {
		cfg.Clipboard.RestoreDelayMillis = defaults.Clipboard.RestoreDelayMillis
	}
	if cfg.Journal.RetentionDays <= 0 {
		cfg.Journal.RetentionDays = defaults.Journal.RetentionDays
	}

	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))
	if cfg.Log.Format != "json" && cfg.Log.Format != "pretty" {
		cfg.Log.Format = "text"
	}
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
	cfg.UnsafeTargetPolicy = strings.ToLower(strings.TrimSpace(cfg.UnsafeTargetPolicy))
	cfg.DangerousAppList = cleanList(cfg.DangerousAppList, strings.ToLower)
	cfg.DestructiveTokens = cleanList(cfg.DestructiveTokens, nil)
	if strings.TrimSpace(cfg.HotkeyChord) == "" {
		cfg.HotkeyChord = DefaultHotkeyChord
	}
}

// cleanList trims entries, applies fold when given and drops blanks and duplicates.
func cleanList(list []string, fold func(string) string) []string {
	return lo.Uniq(lo.Compact(lo.Map(list, func(item string, _ int) string {
		item = strings.TrimSpace(item)
		if fold != nil {
			item = fold(item)
		}
		return item
	})))
}

func validPort(port int) bool {
	return port > 0 && port <= 65535
}

func (c Config) TransportAddr() string {
	return "127.0.0.1:" + strconv.Itoa(c.TransportPort)
}

func (c Config) StaticAddr() string {
	return "127.0.0.1:" + strconv.Itoa(c.StaticPort)
}

func (c Config) HotkeyDebounce() time.Duration {
	return time.Duration(c.HotkeyDebounceMillis) * time.Millisecond
}

func (c Config) HandshakeTimeout() time.Duration {
	return seconds(c.HandshakeTimeoutSeconds)
}

func (c Config) SessionTimeout() time.Duration {
	return seconds(c.SessionTimeoutSeconds)
}

func (c Config) FinalizeTimeout() time.Duration {
	return seconds(c.FinalizeTimeoutSeconds)
}

func (c Config) HeartbeatInterval() time.Duration {
	return seconds(c.HeartbeatIntervalSeconds)
}

func (c Config) StaleThreshold() time.Duration {
	return seconds(c.StaleThresholdSeconds)
}

func (c Config) RateWindow() time.Duration {
	return seconds(c.RateLimit.WindowSeconds)
}

func (c Config) JournalRetention() time.Duration {
	return time.Duration(c.Journal.RetentionDays) * 24 * time.Hour
}

func (c Config) PasteDelay() time.Duration {
	return time.Duration(c.Clipboard.PasteDelayMillis) * time.Millisecond
}

func (c Config) RestoreDelay() time.Duration {
	return time.Duration(c.Clipboard.RestoreDelayMillis) * time.Millisecond
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func envOrDefaultList(key string, fallback []string) []string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
