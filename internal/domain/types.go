package domain

import (
	"strings"
	"time"
)

// StateKind enumerates the recording lifecycle.
type StateKind string

const (
	StateIdle      StateKind = "idle"
	StateRecording StateKind = "recording"
	// StateProcessing is reserved between stopped and uploading and is never entered.
	StateProcessing StateKind = "processing"
	StateStopped    StateKind = "stopped"
	StateUploading  StateKind = "uploading"
	StateComplete   StateKind = "complete"
	StateError      StateKind = "error"
)

// SessionState is the tagged lifecycle state. Only the error variant carries a message.
type SessionState struct {
	Kind    StateKind `json:"kind"`
	Message string    `json:"message,omitempty"`
}

// Idle returns the initial state.
func Idle() SessionState { return SessionState{Kind: StateIdle} }

// Failed returns the error variant carrying message.
func Failed(message string) SessionState {
	return SessionState{Kind: StateError, Message: message}
}

// Is reports whether the state has the given kind.
func (s SessionState) Is(kind StateKind) bool { return s.Kind == kind }

// Active reports whether a cancel has anything to tear down.
func (s SessionState) Active() bool {
	switch s.Kind {
	case StateRecording, StateProcessing, StateStopped, StateUploading, StateError:
		return true
	default:
		return false
	}
}

func (s SessionState) String() string {
	if s.Kind == StateError && s.Message != "" {
		return string(s.Kind) + ": " + s.Message
	}
	return string(s.Kind)
}

// Location is a device position fix. Accuracy is a radius in meters; smaller is better.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`
}

// MaxAcceptedAccuracy is the worst accuracy radius accepted into a session.
const MaxAcceptedAccuracy = 50.0

// Acceptable reports whether the fix is precise enough to keep.
func (l Location) Acceptable() bool {
	return l.Accuracy >= 0 && l.Accuracy <= MaxAcceptedAccuracy
}

// Progress is the observable snapshot of a recording session.
type Progress struct {
	State      SessionState  `json:"state"`
	Transcript string        `json:"transcript"`
	Elapsed    time.Duration `json:"elapsed"`
	Level      float32       `json:"level"`
	Title      string        `json:"title,omitempty"`
	ParkName   string        `json:"parkName,omitempty"`
	Location   *Location     `json:"location,omitempty"`
	HasAudio   bool          `json:"hasAudio"`
}

// CanSubmit mirrors the submit preconditions that do not need the network.
func (p Progress) CanSubmit() bool {
	return p.State.Is(StateStopped) && p.HasAudio && strings.TrimSpace(p.Transcript) != ""
}

// RecordedAudio is what the audio recorder yields on stop.
type RecordedAudio struct {
	Path     string
	Duration time.Duration
}

// TranscriptKind identifies whether a stream event is partial or final text.
type TranscriptKind string

const (
	TranscriptKindPartial TranscriptKind = "partial"
	TranscriptKindFinal   TranscriptKind = "final"
)

// TranscriptEvent represents incremental transcription output from a provider.
type TranscriptEvent struct {
	Kind          TranscriptKind `json:"kind"`
	Text          string         `json:"text"`
	IsSpeechFinal bool           `json:"isSpeechFinal"`
}

// MemoUpload is an assembled, validated upload request.
type MemoUpload struct {
	AudioPath       string   `validate:"required"`
	Text            string   `validate:"required"`
	DurationSeconds int      `validate:"gte=0"`
	Latitude        *float64 `validate:"omitempty,gte=-90,lte=90"`
	Longitude       *float64 `validate:"omitempty,gte=-180,lte=180"`
	Accuracy        *float64 `validate:"omitempty,gte=0"`
	Title           string
	ParkName        string
}

// HasLocation reports whether the coordinate trio is present.
func (u MemoUpload) HasLocation() bool {
	return u.Latitude != nil && u.Longitude != nil && u.Accuracy != nil
}

// Registration is the body of a user directory registration.
type Registration struct {
	DisplayName string `json:"display_name" validate:"required"`
	Department  string `json:"department"`
}
