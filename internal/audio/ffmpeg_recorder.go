package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"trailmemo/internal/domain"
	"trailmemo/internal/ports"
)

const (
	meterSampleRate = 8000
	// 50ms of mono s16le at the meter rate.
	meterFrameBytes = meterSampleRate / 20 * 2
)

// RecorderConfig describes where and how memos are recorded.
type RecorderConfig struct {
	Command string
	Input   ports.AudioConfig
	Dir     string
	Bitrate string
}

// FFMPEGRecorder records AAC memos to disk with a single ffmpeg process. The same process
// writes a low-rate PCM copy to stdout which drives the input level meter.
type FFMPEGRecorder struct {
	cfg RecorderConfig
	log zerolog.Logger
	now func() time.Time
}

func NewFFMPEGRecorder(cfg RecorderConfig, log zerolog.Logger) *FFMPEGRecorder {
	if cfg.Command == "" {
		cfg.Command = "ffmpeg"
	}
	if cfg.Dir == "" {
		cfg.Dir = os.TempDir()
	}
	if cfg.Bitrate == "" {
		cfg.Bitrate = "64k"
	}
	cfg.Input = withInputDefaults(cfg.Input)
	return &FFMPEGRecorder{
		cfg: cfg,
		log: log.With().Str("component", "recorder").Logger(),
		now: time.Now,
	}
}

// MemoFileName is the local file name for a new recording.
func MemoFileName() string {
	return "memo_" + uuid.NewString() + ".m4a"
}

func (r *FFMPEGRecorder) Start(ctx context.Context) (ports.Recording, error) {
	if err := os.MkdirAll(r.cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recordings dir: %w", err)
	}
	path := filepath.Join(r.cfg.Dir, MemoFileName())

	args := append(inputArgs(r.cfg.Input),
		"-y",
		"-ac", strconv.Itoa(r.cfg.Input.Channels),
		"-ar", strconv.Itoa(r.cfg.Input.SampleRate),
		"-c:a", "aac",
		"-b:a", r.cfg.Bitrate,
		path,
		"-ac", "1",
		"-ar", strconv.Itoa(meterSampleRate),
		"-f", "s16le",
		"-",
	)

	session, err := startProcess(ctx, r.cfg.Command, args)
	if err != nil {
		_ = os.Remove(path)
		return nil, err
	}

	rec := &ffmpegRecording{
		path:      path,
		session:   session,
		now:       r.now,
		started:   r.now(),
		meterDone: make(chan struct{}),
	}
	go rec.meter()

	r.log.Debug().Str("audio", path).Msg("recorder started")
	return rec, nil
}

// Remove deletes a local recording. A missing file is not an error.
func (r *FFMPEGRecorder) Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

type ffmpegRecording struct {
	path    string
	session *ffmpegSession
	now     func() time.Time
	started time.Time

	level     atomicLevel
	meterDone chan struct{}

	mu      sync.Mutex
	stopped bool
	stopAt  time.Time

	stopOnce sync.Once
	result   domain.RecordedAudio
	stopErr  error
}

func (r *ffmpegRecording) Path() string { return r.path }

func (r *ffmpegRecording) Elapsed() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return r.stopAt.Sub(r.started)
	}
	return r.now().Sub(r.started)
}

func (r *ffmpegRecording) Level() float32 {
	return r.level.Load()
}

func (r *ffmpegRecording) Stop() (domain.RecordedAudio, error) {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		r.stopped = true
		r.stopAt = r.now()
		r.mu.Unlock()

		err := r.session.Stop()
		<-r.meterDone
		r.level.Store(0)

		r.result = domain.RecordedAudio{Path: r.path, Duration: r.Elapsed()}
		if err != nil {
			r.stopErr = err
			return
		}
		if _, statErr := os.Stat(r.path); statErr != nil {
			r.stopErr = fmt.Errorf("recording not written: %w", statErr)
		}
	})
	return r.result, r.stopErr
}

func (r *ffmpegRecording) meter() {
	defer close(r.meterDone)

	frame := make([]byte, meterFrameBytes)
	for {
		n, err := io.ReadFull(r.session, frame)
		if n >= 2 {
			r.level.Store(normalizeLevel(rmsDecibels(frame[:n])))
		}
		if err != nil {
			return
		}
	}
}

type atomicLevel struct {
	bits atomic.Uint32
}

func (l *atomicLevel) Store(v float32) {
	l.bits.Store(math.Float32bits(v))
}

func (l *atomicLevel) Load() float32 {
	return math.Float32frombits(l.bits.Load())
}
