package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"trailmemo/internal/ports"
)

const defaultDrainTimeout = 4 * time.Second

// Config controls live transcription.
type Config struct {
	Audio          ports.AudioConfig
	Streaming      ports.StreamingConfig
	ChunkSize      int
	StreamingGrace time.Duration
	DrainTimeout   time.Duration
}

// StreamingTranscriber feeds raw microphone PCM to a streaming provider and keeps a running
// transcript. The optional rewriter is applied to the final transcript only.
type StreamingTranscriber struct {
	capture  ports.AudioCapture
	provider ports.TranscriptionProvider
	rewriter ports.TranscriptRewriter
	cfg      Config
	log      zerolog.Logger
}

func NewStreamingTranscriber(
	capture ports.AudioCapture,
	provider ports.TranscriptionProvider,
	rewriter ports.TranscriptRewriter,
	cfg Config,
	log zerolog.Logger,
) *StreamingTranscriber {
	if cfg.ChunkSize < 256 {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}
	return &StreamingTranscriber{
		capture:  capture,
		provider: provider,
		rewriter: rewriter,
		cfg:      cfg,
		log:      log.With().Str("component", "speech").Logger(),
	}
}

func (t *StreamingTranscriber) Start(ctx context.Context) (ports.Transcription, error) {
	sessionCtx, cancel := context.WithCancel(ctx)
	stream, err := t.provider.StartStreaming(sessionCtx, t.cfg.Streaming)
	if err != nil {
		cancel()
		return nil, err
	}

	audio, err := t.capture.Start(sessionCtx, t.cfg.Audio)
	if err != nil {
		_ = stream.Close()
		cancel()
		return nil, err
	}

	active := &transcription{
		owner:      t,
		cancel:     cancel,
		audio:      audio,
		stream:     stream,
		aggregator: newTranscriptAggregator(),
		eventsDone: make(chan struct{}),
		audioDone:  make(chan struct{}),
	}

	go consumeTranscriptionEvents(stream, active.aggregator, active.eventsDone)
	go pumpAudioChunks(audio, stream, t.cfg.ChunkSize, active.report, active.audioDone)

	t.log.Debug().Msg("transcription started")
	return active, nil
}

type transcription struct {
	owner  *StreamingTranscriber
	cancel context.CancelFunc

	audio      ports.AudioSession
	stream     ports.StreamingSession
	aggregator *transcriptAggregator
	eventsDone chan struct{}
	audioDone  chan struct{}

	errMu   sync.Mutex
	pumpErr error

	once   sync.Once
	final  string
	result error
}

func (s *transcription) Text() string {
	return s.aggregator.Live()
}

// Stop ends capture, gives the provider the streaming grace to emit trailing results, then
// waits for the event stream to drain before settling the transcript.
func (s *transcription) Stop(ctx context.Context) (string, error) {
	s.once.Do(func() {
		s.final, s.result = s.drain(ctx)
	})
	return s.final, s.result
}

func (s *transcription) Abort() {
	s.once.Do(func() {
		s.cancel()
		_ = s.audio.Stop()
		_ = s.stream.Close()
		<-s.eventsDone
		<-s.audioDone
		s.result = errors.New("transcription aborted")
	})
}

func (s *transcription) drain(ctx context.Context) (string, error) {
	defer s.cancel()
	log := s.owner.log

	audioErr := s.audio.Stop()
	if audioErr != nil {
		log.Warn().Err(audioErr).Msg("failed to stop audio capture cleanly")
	}

	if grace := s.owner.cfg.StreamingGrace; grace > 0 {
		timer := time.NewTimer(grace)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}

	_ = s.stream.CloseSend()
	streamErr := waitForStream(s.stream, s.owner.cfg.DrainTimeout)
	<-s.eventsDone
	<-s.audioDone

	raw := strings.TrimSpace(s.aggregator.Raw())
	err := errors.Join(streamErr, s.takePumpErr())
	if raw == "" {
		return "", err
	}
	if err != nil {
		log.Debug().Err(err).Msg("stream ended with error after producing text")
	}

	if s.owner.rewriter == nil {
		return raw, nil
	}
	rewritten, rewriteErr := s.owner.rewriter.Apply(raw)
	if rewriteErr != nil {
		log.Warn().Err(rewriteErr).Msg("vocabulary rewrite failed; keeping raw transcript")
		return raw, nil
	}
	log.Debug().Int("raw_len", len(raw)).Int("final_len", len(rewritten)).Msg("transcript rewritten")
	return strings.TrimSpace(rewritten), nil
}

func (s *transcription) report(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.pumpErr == nil {
		s.pumpErr = err
	}
}

func (s *transcription) takePumpErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.pumpErr == nil {
		return nil
	}
	return fmt.Errorf("audio stream: %w", s.pumpErr)
}
