package ports

import (
	"context"
	"io"
	"time"

	"trailmemo/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// AudioSession is a live raw PCM capture session.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates raw microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// Recording is an in-progress microphone recording to a local file.
type Recording interface {
	Path() string
	Elapsed() time.Duration
	// Level is the latest normalized input level in [0, 1].
	Level() float32
	// Stop finalizes the file. It is safe to call more than once.
	Stop() (domain.RecordedAudio, error)
}

// AudioRecorder starts file recordings.
type AudioRecorder interface {
	Start(ctx context.Context) (Recording, error)
	Remove(path string) error
}

// StreamingConfig describes provider-agnostic streaming settings.
type StreamingConfig struct {
	SampleRate     int
	Channels       int
	Encoding       string
	InterimResults bool
}

// StreamingSession is an active provider websocket session.
type StreamingSession interface {
	SendAudio(chunk []byte) error
	CloseSend() error
	Events() <-chan domain.TranscriptEvent
	Wait() error
	Close() error
}

// TranscriptionProvider starts streaming transcription sessions.
type TranscriptionProvider interface {
	StartStreaming(ctx context.Context, cfg StreamingConfig) (StreamingSession, error)
}

// Transcription is a running speech-to-text activity.
type Transcription interface {
	// Text is the current best transcript, partial results included.
	Text() string
	// Stop halts recognition and returns the final transcript once everything has drained.
	Stop(ctx context.Context) (string, error)
	// Abort halts recognition without waiting for trailing results.
	Abort()
}

// Transcriber starts speech-to-text activities.
type Transcriber interface {
	Start(ctx context.Context) (Transcription, error)
}

// TranscriptRewriter applies deterministic vocabulary fixes to transcript text.
type TranscriptRewriter interface {
	Apply(text string) (string, error)
}

// LocationProvider reports the device position.
type LocationProvider interface {
	// Start begins updates. It must not block waiting for a first fix.
	Start(ctx context.Context) error
	// Current returns the best accepted fix, if any.
	Current() (domain.Location, bool)
	Stop() error
}

// Permission names a user-granted capability.
type Permission string

const (
	PermissionMicrophone Permission = "microphone"
	PermissionSpeech     Permission = "speech"
	PermissionLocation   Permission = "location"
)

// Permissions asks the platform for capability grants.
type Permissions interface {
	Request(ctx context.Context, permission Permission) (bool, error)
}

// TokenSource supplies short-lived bearer tokens.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// MemoAPI is the remote memo service.
type MemoAPI interface {
	ListMemos(ctx context.Context, token string) ([]domain.Memo, error)
	GetMemo(ctx context.Context, token string, id string) (domain.Memo, error)
	DeleteMemo(ctx context.Context, token string, id string) error
	CreateMemo(ctx context.Context, token string, upload domain.MemoUpload) (domain.Memo, error)
	Register(ctx context.Context, token string, registration domain.Registration) error
}

// EventSink emits session state and live progress to a front end.
type EventSink interface {
	SessionStateChanged(state domain.SessionState)
	SessionProgress(progress domain.Progress)
}

// MemoCache keeps the last known memo list for offline display.
type MemoCache interface {
	ReplaceMemos(ctx context.Context, memos []domain.Memo) error
	UpsertMemo(ctx context.Context, memo domain.Memo) error
	DeleteMemo(ctx context.Context, id string) error
	ListMemos(ctx context.Context) ([]domain.Memo, error)
}
