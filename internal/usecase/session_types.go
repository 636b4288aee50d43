package usecase

import (
	"context"
	"strings"
	"sync"
	"time"

	"trailmemo/internal/domain"
	"trailmemo/internal/ports"
)

// recordingSession is owned by the controller; a fresh one backs every recording attempt.
type recordingSession struct {
	cancel func()

	recording     ports.Recording
	transcription ports.Transcription

	monitorStop chan struct{}
	monitorDone chan struct{}

	mu           sync.Mutex
	state        domain.SessionState
	audioPath    string
	transcript   string
	elapsed      time.Duration
	level        float32
	title        string
	parkName     string
	location     *domain.Location
	uploadFailed bool
	cancelUpload context.CancelFunc
}

func newRecordingSession(cancel func()) *recordingSession {
	return &recordingSession{
		cancel: cancel,
		state:  domain.Idle(),
	}
}

func (s *recordingSession) setState(state domain.SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func (s *recordingSession) getState() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// applyLive copies a monitor sample into the observable fields. The recording guard is
// checked under the lock right before the write so a late tick never lands after stop.
func (s *recordingSession) applyLive(text string, elapsed time.Duration, level float32) (domain.Progress, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Is(domain.StateRecording) {
		return domain.Progress{}, false
	}
	s.transcript = text
	s.elapsed = elapsed
	s.level = level
	return s.progressLocked(), true
}

// finishCapture records the authoritative values produced by the stop sequence.
func (s *recordingSession) finishCapture(audio domain.RecordedAudio, transcript string, next domain.SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = next
	if audio.Path != "" {
		s.audioPath = audio.Path
	}
	s.elapsed = audio.Duration
	s.transcript = transcript
	s.level = 0
}

func (s *recordingSession) setDetails(title string, parkName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.title = title
	s.parkName = parkName
}

func (s *recordingSession) setLocation(location domain.Location) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := location
	s.location = &copied
}

// clear drops the user-facing fields after a successful upload or a discard.
func (s *recordingSession) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audioPath = ""
	s.transcript = ""
	s.title = ""
	s.parkName = ""
	s.elapsed = 0
	s.level = 0
	s.uploadFailed = false
}

func (s *recordingSession) progress() domain.Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progressLocked()
}

func (s *recordingSession) progressLocked() domain.Progress {
	progress := domain.Progress{
		State:      s.state,
		Transcript: s.transcript,
		Elapsed:    s.elapsed,
		Level:      s.level,
		Title:      s.title,
		ParkName:   s.parkName,
		HasAudio:   s.audioPath != "",
	}
	if s.location != nil {
		copied := *s.location
		progress.Location = &copied
	}
	return progress
}

// uploadable reports whether Submit may run from the current state: a fresh stop, or a
// failed upload whose audio and transcript were kept for another attempt.
func (s *recordingSession) uploadable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state.Kind {
	case domain.StateStopped:
		return true
	case domain.StateError:
		return s.uploadFailed && s.audioPath != "" && strings.TrimSpace(s.transcript) != ""
	default:
		return false
	}
}
