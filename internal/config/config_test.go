package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CACHE_HOME", filepath.Join(home, ".cache"))
	for _, key := range []string{
		"TRAILMEMO_ENV_FILE",
		"TRAILMEMO_VOCABULARY_FILE",
		"TRAILMEMO_VOCABULARY",
		"TRAILMEMO_API_BASE",
		"TRAILMEMO_LOCATION_MODE",
		"TRAILMEMO_LOCATION_MAX_AGE_SECONDS",
		"TRAILMEMO_LOG_LEVEL",
		"DEEPGRAM_API_KEY",
		"DEEPGRAM_STREAMING_GRACE_MS",
	} {
		t.Setenv(key, "")
	}
	return home
}

func TestLoadDefaults(t *testing.T) {
	home := isolate(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.API.BaseURL != "http://localhost:8000" || cfg.API.Timeout != time.Minute {
		t.Fatalf("unexpected api config: %+v", cfg.API)
	}
	if cfg.API.Department != "Parks & Recreation" {
		t.Fatalf("unexpected default department: %q", cfg.API.Department)
	}
	if cfg.Session.PollInterval != 100*time.Millisecond {
		t.Fatalf("unexpected poll interval: %s", cfg.Session.PollInterval)
	}
	if cfg.Location.Mode != "gpsd" || cfg.Location.GPSDAddress != "127.0.0.1:2947" {
		t.Fatalf("unexpected location config: %+v", cfg.Location)
	}
	if cfg.Location.MaxAge != 2*time.Minute {
		t.Fatalf("expected fixes to expire after two minutes, got %s", cfg.Location.MaxAge)
	}
	if !cfg.Permissions.Microphone || !cfg.Permissions.Speech || !cfg.Permissions.Location {
		t.Fatalf("expected permissions granted by default: %+v", cfg.Permissions)
	}
	wantVocabulary := filepath.Join(home, ".config", "trailmemo", "vocabulary.rules")
	if cfg.Vocabulary.Path != wantVocabulary {
		t.Fatalf("unexpected vocabulary path: %q", cfg.Vocabulary.Path)
	}
	if !strings.HasPrefix(cfg.Audio.RecordingsDir, home) || !strings.HasPrefix(cfg.Cache.Path, home) {
		t.Fatalf("expected cache paths under home: %q %q", cfg.Audio.RecordingsDir, cfg.Cache.Path)
	}
}

func TestLoadRespectsOverrides(t *testing.T) {
	home := isolate(t)
	vocabulary := filepath.Join(home, "parks.rules")
	if err := os.WriteFile(vocabulary, []byte("yellow stone => Yellowstone\n"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	t.Setenv("TRAILMEMO_API_BASE", "https://memos.example.test")
	t.Setenv("TRAILMEMO_API_TOKEN", "tok")
	t.Setenv("TRAILMEMO_API_TIMEOUT_SECONDS", "15")
	t.Setenv("TRAILMEMO_DEPARTMENT", "Trails")
	t.Setenv("DEEPGRAM_API_KEY", "test-key")
	t.Setenv("DEEPGRAM_MODEL", "nova-3")
	t.Setenv("DEEPGRAM_SMART_FORMAT", "false")
	t.Setenv("DEEPGRAM_ENDPOINTING_MS", "300")
	t.Setenv("TRAILMEMO_FFMPEG_COMMAND", "my-ffmpeg")
	t.Setenv("TRAILMEMO_AUDIO_INPUT_FORMAT", "alsa")
	t.Setenv("TRAILMEMO_AUDIO_INPUT_DEVICE", "mic0")
	t.Setenv("TRAILMEMO_SAMPLE_RATE", "22050")
	t.Setenv("TRAILMEMO_CHANNELS", "2")
	t.Setenv("TRAILMEMO_RECORDINGS_DIR", filepath.Join(home, "rec"))
	t.Setenv("TRAILMEMO_VOCABULARY_FILE", vocabulary)
	t.Setenv("TRAILMEMO_VOCABULARY", "bozeman => Bozeman; ;hyalite => Hyalite")
	t.Setenv("TRAILMEMO_AUDIO_CHUNK_SIZE", "512")
	t.Setenv("TRAILMEMO_STREAMING_GRACE_MS", "25")
	t.Setenv("TRAILMEMO_POLL_INTERVAL_MS", "50")
	t.Setenv("TRAILMEMO_LOCATION_MODE", "FIXED")
	t.Setenv("TRAILMEMO_FIXED_LATITUDE", "45.0")
	t.Setenv("TRAILMEMO_FIXED_LONGITUDE", "-111.0")
	t.Setenv("TRAILMEMO_FIXED_ACCURACY", "8")
	t.Setenv("TRAILMEMO_ALLOW_LOCATION", "no")
	t.Setenv("TRAILMEMO_LOG_LEVEL", "debug")
	t.Setenv("TRAILMEMO_LOG_JSON", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.API.BaseURL != "https://memos.example.test" || cfg.API.Token != "tok" || cfg.API.Timeout != 15*time.Second {
		t.Fatalf("unexpected api config: %+v", cfg.API)
	}
	if cfg.API.Department != "Trails" {
		t.Fatalf("unexpected department: %q", cfg.API.Department)
	}
	if cfg.Deepgram.APIKey != "test-key" || cfg.Deepgram.Model != "nova-3" || cfg.Deepgram.SmartFormat || cfg.Deepgram.EndpointingMS != 300 {
		t.Fatalf("unexpected deepgram config: %+v", cfg.Deepgram)
	}
	if cfg.Audio.RecorderCommand != "my-ffmpeg" || cfg.Audio.InputFormat != "alsa" || cfg.Audio.InputDevice != "mic0" {
		t.Fatalf("unexpected audio config: %+v", cfg.Audio)
	}
	if cfg.Audio.SampleRate != 22050 || cfg.Audio.Channels != 2 || cfg.Audio.RecordingsDir != filepath.Join(home, "rec") {
		t.Fatalf("unexpected audio format: %+v", cfg.Audio)
	}
	if cfg.Vocabulary.Path != vocabulary || len(cfg.Vocabulary.Inline) != 2 || cfg.Vocabulary.Inline[1] != "hyalite => Hyalite" {
		t.Fatalf("unexpected vocabulary config: %+v", cfg.Vocabulary)
	}
	if cfg.Session.ChunkSize != 512 || cfg.Session.StreamingGrace != 25*time.Millisecond || cfg.Session.PollInterval != 50*time.Millisecond {
		t.Fatalf("unexpected session config: %+v", cfg.Session)
	}
	if cfg.Location.Mode != "fixed" || cfg.Location.Latitude != 45 || cfg.Location.Longitude != -111 || cfg.Location.Accuracy != 8 {
		t.Fatalf("unexpected location config: %+v", cfg.Location)
	}
	if cfg.Permissions.Location {
		t.Fatalf("expected location permission revoked")
	}
	if cfg.Log.Level != "debug" || !cfg.Log.JSON {
		t.Fatalf("unexpected log config: %+v", cfg.Log)
	}
}

func TestLoadInvalidNumericValuesFallback(t *testing.T) {
	isolate(t)
	t.Setenv("TRAILMEMO_SAMPLE_RATE", "bad")
	t.Setenv("TRAILMEMO_CHANNELS", "-1")
	t.Setenv("TRAILMEMO_VOCABULARY_ITERATION_LIMIT", "0")
	t.Setenv("TRAILMEMO_AUDIO_CHUNK_SIZE", "5")
	t.Setenv("TRAILMEMO_STREAMING_GRACE_MS", "bad")
	t.Setenv("TRAILMEMO_POLL_INTERVAL_MS", "-4")
	t.Setenv("DEEPGRAM_SMART_FORMAT", "not-bool")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Audio.SampleRate != 16000 {
		t.Fatalf("expected default sample rate, got %d", cfg.Audio.SampleRate)
	}
	if cfg.Audio.Channels != 1 {
		t.Fatalf("expected default channels, got %d", cfg.Audio.Channels)
	}
	if cfg.Vocabulary.IterationLimit != 30 {
		t.Fatalf("expected default iteration limit, got %d", cfg.Vocabulary.IterationLimit)
	}
	if cfg.Session.ChunkSize != 4096 {
		t.Fatalf("expected chunk size fallback, got %d", cfg.Session.ChunkSize)
	}
	if cfg.Session.StreamingGrace != time.Second {
		t.Fatalf("expected default grace, got %s", cfg.Session.StreamingGrace)
	}
	if cfg.Session.PollInterval != 100*time.Millisecond {
		t.Fatalf("expected default poll interval, got %s", cfg.Session.PollInterval)
	}
	if !cfg.Deepgram.SmartFormat {
		t.Fatalf("expected default smart format true")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := map[string][2]string{
		"base url":      {"TRAILMEMO_API_BASE", "not a url"},
		"location mode": {"TRAILMEMO_LOCATION_MODE", "satellite"},
		"latitude":      {"TRAILMEMO_FIXED_LATITUDE", "123"},
		"log level":     {"TRAILMEMO_LOG_LEVEL", "loud"},
	}
	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			isolate(t)
			t.Setenv(env[0], env[1])
			if _, err := Load(); err == nil || !strings.Contains(err.Error(), "invalid configuration") {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestLoadReadsEnvFileWithoutOverridingEnvironment(t *testing.T) {
	home := isolate(t)
	envFile := filepath.Join(home, "trailmemo.env")
	contents := "TRAILMEMO_TEST_DEPARTMENT_MARKER=from-file\nTRAILMEMO_DEPARTMENT=Facilities\nTRAILMEMO_LOG_LEVEL=warn\n"
	if err := os.WriteFile(envFile, []byte(contents), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	t.Setenv("TRAILMEMO_ENV_FILE", envFile)
	t.Setenv("TRAILMEMO_LOG_LEVEL", "error")
	for _, key := range []string{"TRAILMEMO_DEPARTMENT", "TRAILMEMO_TEST_DEPARTMENT_MARKER"} {
		t.Setenv(key, "")
		if err := os.Unsetenv(key); err != nil {
			t.Fatalf("unsetenv failed: %v", err)
		}
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.API.Department != "Facilities" {
		t.Fatalf("expected department from env file, got %q", cfg.API.Department)
	}
	if cfg.Log.Level != "error" {
		t.Fatalf("expected environment to win over env file, got %q", cfg.Log.Level)
	}
}
