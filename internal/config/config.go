package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config stores runtime configuration for the recorder.
type Config struct {
	API         APIConfig
	Deepgram    DeepgramConfig
	Audio       AudioConfig
	Vocabulary  VocabularyConfig
	Session     SessionConfig
	Location    LocationConfig
	Permissions PermissionsConfig
	Cache       CacheConfig
	Log         LogConfig
}

type APIConfig struct {
	BaseURL    string        `validate:"required,url"`
	Token      string
	TokenFile  string
	Timeout    time.Duration `validate:"gt=0"`
	Department string        `validate:"required"`
}

type DeepgramConfig struct {
	APIKey        string
	APIBaseURL    string `validate:"required,url"`
	Model         string `validate:"required"`
	Language      string
	SmartFormat   bool
	EndpointingMS int `validate:"gte=0"`
}

type AudioConfig struct {
	RecorderCommand string `validate:"required"`
	InputFormat     string `validate:"required"`
	InputDevice     string `validate:"required"`
	SampleRate      int    `validate:"gte=8000,lte=48000"`
	Channels        int    `validate:"gte=1,lte=2"`
	RecordingsDir   string `validate:"required"`
	Bitrate         string
}

type VocabularyConfig struct {
	Path           string
	Inline         []string
	IterationLimit int `validate:"gt=0"`
}

type SessionConfig struct {
	ChunkSize      int `validate:"gte=256"`
	StreamingGrace time.Duration
	PollInterval   time.Duration `validate:"gt=0"`
}

type LocationConfig struct {
	Mode        string        `validate:"oneof=gpsd fixed none"`
	GPSDAddress string        `validate:"required_if=Mode gpsd"`
	Latitude    float64       `validate:"gte=-90,lte=90"`
	Longitude   float64       `validate:"gte=-180,lte=180"`
	Accuracy    float64       `validate:"gte=0"`
	MaxAge      time.Duration `validate:"gte=0"`
}

type PermissionsConfig struct {
	Microphone bool
	Speech     bool
	Location   bool
}

type CacheConfig struct {
	Path string `validate:"required"`
}

type LogConfig struct {
	Level string `validate:"oneof=trace debug info warn error"`
	JSON  bool
	File  string
}

const defaultDepartment = "Parks & Recreation"

var validate = validator.New()

// Load reads .env files, then resolves configuration from environment variables and
// defaults. Variables already present in the environment win over .env entries.
func Load() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}
	if err := loadEnvFiles(
		os.Getenv("TRAILMEMO_ENV_FILE"),
		".env",
		filepath.Join(home, ".config", "trailmemo", "env"),
	); err != nil {
		return Config{}, err
	}

	vocabularyPath := strings.TrimSpace(os.Getenv("TRAILMEMO_VOCABULARY_FILE"))
	if vocabularyPath == "" {
		vocabularyPath = firstExisting(filepath.Join(home, ".config", "trailmemo", "vocabulary.rules"))
	}

	cacheDir, err := os.UserCacheDir()
	if err != nil {
		cacheDir = filepath.Join(home, ".cache")
	}

	cfg := Config{
		API: APIConfig{
			BaseURL:    envOrDefault("TRAILMEMO_API_BASE", "http://localhost:8000"),
			Token:      strings.TrimSpace(os.Getenv("TRAILMEMO_API_TOKEN")),
			TokenFile:  strings.TrimSpace(os.Getenv("TRAILMEMO_API_TOKEN_FILE")),
			Timeout:    time.Duration(envOrDefaultInt("TRAILMEMO_API_TIMEOUT_SECONDS", 60)) * time.Second,
			Department: envOrDefault("TRAILMEMO_DEPARTMENT", defaultDepartment),
		},
		Deepgram: DeepgramConfig{
			APIKey:        strings.TrimSpace(os.Getenv("DEEPGRAM_API_KEY")),
			APIBaseURL:    envOrDefault("DEEPGRAM_API_BASE", "https://api.deepgram.com/v1"),
			Model:         envOrDefault("DEEPGRAM_MODEL", "nova-2"),
			Language:      strings.TrimSpace(os.Getenv("DEEPGRAM_LANGUAGE")),
			SmartFormat:   envOrDefaultBool("DEEPGRAM_SMART_FORMAT", true),
			EndpointingMS: envOrDefaultInt("DEEPGRAM_ENDPOINTING_MS", 0),
		},
		Audio: AudioConfig{
			RecorderCommand: envOrDefault("TRAILMEMO_FFMPEG_COMMAND", "ffmpeg"),
			InputFormat:     envOrDefault("TRAILMEMO_AUDIO_INPUT_FORMAT", "pulse"),
			InputDevice: firstNonEmpty(
				os.Getenv("TRAILMEMO_AUDIO_INPUT_DEVICE"),
				os.Getenv("PULSE_SOURCE"),
				"default",
			),
			SampleRate:    envOrDefaultInt("TRAILMEMO_SAMPLE_RATE", 16000),
			Channels:      envOrDefaultInt("TRAILMEMO_CHANNELS", 1),
			RecordingsDir: envOrDefault("TRAILMEMO_RECORDINGS_DIR", filepath.Join(cacheDir, "trailmemo", "recordings")),
			Bitrate:       envOrDefault("TRAILMEMO_AUDIO_BITRATE", "64k"),
		},
		Vocabulary: VocabularyConfig{
			Path:           vocabularyPath,
			Inline:         splitList(os.Getenv("TRAILMEMO_VOCABULARY"), ";"),
			IterationLimit: envOrDefaultInt("TRAILMEMO_VOCABULARY_ITERATION_LIMIT", 30),
		},
		Session: SessionConfig{
			ChunkSize:      envOrDefaultInt("TRAILMEMO_AUDIO_CHUNK_SIZE", 4096),
			StreamingGrace: time.Duration(firstNonNegativeInt("TRAILMEMO_STREAMING_GRACE_MS", "DEEPGRAM_STREAMING_GRACE_MS", 1000)) * time.Millisecond,
			PollInterval:   time.Duration(envOrDefaultInt("TRAILMEMO_POLL_INTERVAL_MS", 100)) * time.Millisecond,
		},
		Location: LocationConfig{
			Mode:        strings.ToLower(envOrDefault("TRAILMEMO_LOCATION_MODE", "gpsd")),
			GPSDAddress: envOrDefault("TRAILMEMO_GPSD_ADDRESS", "127.0.0.1:2947"),
			Latitude:    envOrDefaultFloat("TRAILMEMO_FIXED_LATITUDE", 0),
			Longitude:   envOrDefaultFloat("TRAILMEMO_FIXED_LONGITUDE", 0),
			Accuracy:    envOrDefaultFloat("TRAILMEMO_FIXED_ACCURACY", 10),
			MaxAge:      time.Duration(envOrDefaultInt("TRAILMEMO_LOCATION_MAX_AGE_SECONDS", 120)) * time.Second,
		},
		Permissions: PermissionsConfig{
			Microphone: envOrDefaultBool("TRAILMEMO_ALLOW_MICROPHONE", true),
			Speech:     envOrDefaultBool("TRAILMEMO_ALLOW_SPEECH", true),
			Location:   envOrDefaultBool("TRAILMEMO_ALLOW_LOCATION", true),
		},
		Cache: CacheConfig{
			Path: envOrDefault("TRAILMEMO_CACHE_PATH", filepath.Join(cacheDir, "trailmemo", "memos.sqlite")),
		},
		Log: LogConfig{
			Level: strings.ToLower(envOrDefault("TRAILMEMO_LOG_LEVEL", "info")),
			JSON:  envOrDefaultBool("TRAILMEMO_LOG_JSON", false),
			File:  strings.TrimSpace(os.Getenv("TRAILMEMO_LOG_FILE")),
		},
	}

	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Vocabulary.IterationLimit <= 0 {
		cfg.Vocabulary.IterationLimit = 30
	}
	if cfg.Session.ChunkSize < 256 {
		cfg.Session.ChunkSize = 4096
	}
	if cfg.Session.PollInterval <= 0 {
		cfg.Session.PollInterval = 100 * time.Millisecond
	}
	if cfg.API.Timeout <= 0 {
		cfg.API.Timeout = 60 * time.Second
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints after defaults are applied.
func Validate(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// loadEnvFiles loads every existing file in order. Missing files are skipped.
func loadEnvFiles(paths ...string) error {
	for _, path := range paths {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %q: %w", path, err)
		}
	}
	return nil
}

func firstExisting(paths ...string) string {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	if len(paths) == 0 {
		return ""
	}
	return paths[0]
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitList(value string, sep string) []string {
	var out []string
	for _, item := range strings.Split(value, sep) {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
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

func envOrDefaultFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
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

func firstNonNegativeInt(primary string, secondary string, fallback int) int {
	for _, key := range []string{primary, secondary} {
		value := strings.TrimSpace(os.Getenv(key))
		if value == "" {
			continue
		}
		parsed, err := strconv.Atoi(value)
		if err == nil && parsed >= 0 {
			return parsed
		}
	}
	return fallback
}
