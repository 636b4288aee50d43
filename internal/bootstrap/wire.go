package bootstrap

import (
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"trailmemo/internal/api"
	"trailmemo/internal/audio"
	"trailmemo/internal/auth"
	"trailmemo/internal/config"
	"trailmemo/internal/domain"
	"trailmemo/internal/location"
	"trailmemo/internal/logging"
	"trailmemo/internal/permissions"
	"trailmemo/internal/ports"
	"trailmemo/internal/providers/deepgram"
	"trailmemo/internal/speech"
	"trailmemo/internal/store"
	"trailmemo/internal/usecase"
	"trailmemo/internal/vocabulary"
)

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.RecordingController
	Library    *usecase.MemoLibrary
	API        *api.Client
	Store      *store.Store
	Tokens     *auth.Source
	Config     config.Config
	Logger     zerolog.Logger

	closers []io.Closer
}

// Close releases the cache and the log file.
func (s Services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Build wires all backend dependencies for the current runtime. Console log output goes
// to logOut.
func Build(eventSink ports.EventSink, logOut io.Writer) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}

	log, logCloser := logging.New(logging.Config{
		Level: cfg.Log.Level,
		JSON:  cfg.Log.JSON,
		File:  cfg.Log.File,
	}, logOut)

	rewriter, err := vocabulary.New(vocabulary.Options{
		Path:      cfg.Vocabulary.Path,
		Inline:    cfg.Vocabulary.Inline,
		PassLimit: cfg.Vocabulary.IterationLimit,
	})
	if err != nil {
		_ = logCloser.Close()
		return Services{}, err
	}

	cache, err := store.Open(cfg.Cache.Path)
	if err != nil {
		_ = logCloser.Close()
		return Services{}, err
	}

	input := ports.AudioConfig{
		SampleRate:  cfg.Audio.SampleRate,
		Channels:    cfg.Audio.Channels,
		InputFormat: cfg.Audio.InputFormat,
		InputDevice: cfg.Audio.InputDevice,
	}

	provider := deepgram.NewProvider(deepgram.Config{
		APIKey:        cfg.Deepgram.APIKey,
		APIBaseURL:    cfg.Deepgram.APIBaseURL,
		Model:         cfg.Deepgram.Model,
		Language:      cfg.Deepgram.Language,
		SmartFormat:   cfg.Deepgram.SmartFormat,
		Keywords:      rewriter.Keywords(),
		EndpointingMS: cfg.Deepgram.EndpointingMS,
	}, log)

	transcriber := speech.NewStreamingTranscriber(
		audio.NewFFMPEGCapture(cfg.Audio.RecorderCommand),
		provider,
		rewriter,
		speech.Config{
			Audio: input,
			Streaming: ports.StreamingConfig{
				SampleRate:     cfg.Audio.SampleRate,
				Channels:       cfg.Audio.Channels,
				Encoding:       "linear16",
				InterimResults: true,
			},
			ChunkSize:      cfg.Session.ChunkSize,
			StreamingGrace: cfg.Session.StreamingGrace,
		},
		log,
	)

	recorder := audio.NewFFMPEGRecorder(audio.RecorderConfig{
		Command: cfg.Audio.RecorderCommand,
		Input:   input,
		Dir:     cfg.Audio.RecordingsDir,
		Bitrate: cfg.Audio.Bitrate,
	}, log)

	tokens := auth.NewSource(auth.Options{
		Token:     cfg.API.Token,
		TokenFile: cfg.API.TokenFile,
	}, log)

	client := api.NewClient(api.Config{
		BaseURL: cfg.API.BaseURL,
		Timeout: cfg.API.Timeout,
	}, log)

	locator, err := newLocationProvider(cfg.Location, log)
	if err != nil {
		_ = cache.Close()
		_ = logCloser.Close()
		return Services{}, err
	}

	controller := usecase.NewRecordingController(usecase.Dependencies{
		Recorder:    recorder,
		Transcriber: transcriber,
		Location:    locator,
		Permissions: permissions.NewStatic(permissions.Grants{
			Microphone: cfg.Permissions.Microphone,
			Speech:     cfg.Permissions.Speech,
			Location:   cfg.Permissions.Location,
		}, log),
		Tokens: tokens,
		API:    client,
		Events: eventSink,
		Logger: log,
	}, usecase.Config{PollInterval: cfg.Session.PollInterval})

	log.Info().
		Str("api", cfg.API.BaseURL).
		Str("location", cfg.Location.Mode).
		Int("vocabulary_rules", rewriter.Len()).
		Msg("services ready")

	return Services{
		Controller: controller,
		Library:    usecase.NewMemoLibrary(tokens, client, cache, cfg.API.Department, log),
		API:        client,
		Store:      cache,
		Tokens:     tokens,
		Config:     cfg,
		Logger:     log,
		closers:    []io.Closer{logCloser, cache},
	}, nil
}

func newLocationProvider(cfg config.LocationConfig, log zerolog.Logger) (ports.LocationProvider, error) {
	switch cfg.Mode {
	case "gpsd":
		return location.NewGPSD(cfg.GPSDAddress, location.NewFilter(cfg.MaxAge), log), nil
	case "fixed":
		return location.NewFixed(domain.Location{
			Latitude:  cfg.Latitude,
			Longitude: cfg.Longitude,
			Accuracy:  cfg.Accuracy,
		}), nil
	case "none":
		return location.Unavailable{}, nil
	default:
		return nil, fmt.Errorf("unknown location mode %q", cfg.Mode)
	}
}
