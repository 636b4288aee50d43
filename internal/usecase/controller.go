package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"trailmemo/internal/domain"
	"trailmemo/internal/ports"
)

var (
	// ErrInvalidTransition is returned when an operation is not allowed in the current state.
	ErrInvalidTransition = errors.New("operation not allowed in current recording state")
	// ErrSessionFailed wraps every failure that moved the session into the error state.
	ErrSessionFailed = errors.New("recording session failed")
	// ErrUploadCanceled is returned by Submit when a cancel discarded the session mid-upload
	// and the request did not complete.
	ErrUploadCanceled = errors.New("upload canceled")
)

// User-facing messages attached to the error state.
const (
	MsgMicrophoneDenied = "Microphone permission denied"
	MsgSpeechDenied     = "Speech recognition permission denied"
	MsgNoSpeech         = "No speech detected. Please try again."
	MsgNoAudio          = "No audio file"
	MsgNoTranscript     = "No transcript available"
	MsgLocationRequired = "Location is required"
	MsgNotAuthenticated = "Not authenticated"
)

const defaultPollInterval = 100 * time.Millisecond

// Config controls recording session behavior.
type Config struct {
	PollInterval time.Duration
}

// Dependencies are the collaborators driven by the controller.
type Dependencies struct {
	Recorder    ports.AudioRecorder
	Transcriber ports.Transcriber
	Location    ports.LocationProvider
	Permissions ports.Permissions
	Tokens      ports.TokenSource
	API         ports.MemoAPI
	Events      ports.EventSink
	Logger      zerolog.Logger
}

// RecordingController owns the memo recording state machine. One session is active at a time.
type RecordingController struct {
	recorder    ports.AudioRecorder
	transcriber ports.Transcriber
	location    ports.LocationProvider
	permissions ports.Permissions
	tokens      ports.TokenSource
	api         ports.MemoAPI
	events      ports.EventSink
	log         zerolog.Logger
	cfg         Config

	// opMu serializes transitions. Submit releases it for the duration of the network call.
	opMu sync.Mutex

	mu      sync.Mutex
	current *recordingSession
}

func NewRecordingController(deps Dependencies, cfg Config) *RecordingController {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return &RecordingController{
		recorder:    deps.Recorder,
		transcriber: deps.Transcriber,
		location:    deps.Location,
		permissions: deps.Permissions,
		tokens:      deps.Tokens,
		api:         deps.API,
		events:      deps.Events,
		log:         deps.Logger.With().Str("component", "recording").Logger(),
		cfg:         cfg,
	}
}

// Start requests permissions and begins audio capture and transcription together.
func (c *RecordingController) Start(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if previous := c.session(); previous != nil {
		switch previous.getState().Kind {
		case domain.StateIdle, domain.StateComplete:
		default:
			return fmt.Errorf("%w: start from %s", ErrInvalidTransition, previous.getState())
		}
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	session := newRecordingSession(cancel)
	c.setSession(session)

	if err := c.requirePermission(ctx, ports.PermissionMicrophone); err != nil {
		return c.fail(session, MsgMicrophoneDenied, err)
	}
	if err := c.requirePermission(ctx, ports.PermissionSpeech); err != nil {
		return c.fail(session, MsgSpeechDenied, err)
	}

	recording, transcription, err := c.startCapture(sessionCtx)
	if err != nil {
		return c.fail(session, "Failed to start recording: "+err.Error(), err)
	}
	session.recording = recording
	session.transcription = transcription
	session.audioPath = recording.Path()

	c.startLocation(sessionCtx)

	session.monitorStop = make(chan struct{})
	session.monitorDone = make(chan struct{})
	session.setState(domain.SessionState{Kind: domain.StateRecording})
	go c.monitor(session, recording, transcription)

	c.log.Info().Str("audio", recording.Path()).Msg("recording started")
	c.events.SessionStateChanged(session.getState())
	return nil
}

// Stop halts both capture subsystems and settles the final transcript.
func (c *RecordingController) Stop(ctx context.Context) (domain.Progress, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	session := c.session()
	if session == nil || !session.getState().Is(domain.StateRecording) {
		return domain.Progress{}, fmt.Errorf("%w: stop", ErrInvalidTransition)
	}
	if err := c.stopRecording(ctx, session); err != nil {
		return session.progress(), err
	}
	return session.progress(), nil
}

// SetDetails updates the optional title and park name while recording or before upload.
func (c *RecordingController) SetDetails(title string, parkName string) error {
	session := c.session()
	if session == nil {
		return fmt.Errorf("%w: set details", ErrInvalidTransition)
	}
	switch session.getState().Kind {
	case domain.StateRecording, domain.StateStopped, domain.StateError:
		session.setDetails(title, parkName)
		c.events.SessionProgress(session.progress())
		return nil
	default:
		return fmt.Errorf("%w: set details", ErrInvalidTransition)
	}
}

// Submit uploads the stopped recording. A failed upload keeps the audio and transcript so
// Submit can be called again from the error state.
func (c *RecordingController) Submit(ctx context.Context) (domain.Memo, error) {
	c.opMu.Lock()

	session := c.session()
	if session == nil || !session.uploadable() {
		c.opMu.Unlock()
		return domain.Memo{}, fmt.Errorf("%w: submit", ErrInvalidTransition)
	}

	snapshot := session.progress()
	session.mu.Lock()
	draft := uploadDraft{
		AudioPath:  session.audioPath,
		Transcript: session.transcript,
		Duration:   session.elapsed,
		Title:      session.title,
		ParkName:   session.parkName,
	}
	session.mu.Unlock()

	if draft.AudioPath == "" {
		defer c.opMu.Unlock()
		return domain.Memo{}, c.fail(session, MsgNoAudio, ErrNoAudio)
	}
	if strings.TrimSpace(snapshot.Transcript) == "" {
		defer c.opMu.Unlock()
		return domain.Memo{}, c.fail(session, MsgNoTranscript, ErrNoTranscript)
	}

	session.setState(domain.SessionState{Kind: domain.StateUploading})
	c.events.SessionStateChanged(session.getState())

	location, ok := c.location.Current()
	if !ok {
		defer c.opMu.Unlock()
		return domain.Memo{}, c.failUpload(session, MsgLocationRequired, ErrLocationRequired)
	}
	session.setLocation(location)
	draft.Location = &location

	token, err := c.tokens.Token(ctx)
	if err == nil && strings.TrimSpace(token) == "" {
		err = errors.New("empty token")
	}
	if err != nil {
		defer c.opMu.Unlock()
		return domain.Memo{}, c.failUpload(session, MsgNotAuthenticated, err)
	}

	upload, err := assembleUpload(draft)
	if err != nil {
		defer c.opMu.Unlock()
		return domain.Memo{}, c.failUpload(session, "Upload failed: "+err.Error(), err)
	}

	uploadCtx, cancelUpload := context.WithCancel(ctx)
	session.mu.Lock()
	session.cancelUpload = cancelUpload
	session.mu.Unlock()
	c.opMu.Unlock()

	c.log.Info().
		Int("text_len", len(upload.Text)).
		Int("duration_seconds", upload.DurationSeconds).
		Float64("latitude", *upload.Latitude).
		Float64("longitude", *upload.Longitude).
		Msg("uploading memo")
	memo, uploadErr := c.api.CreateMemo(uploadCtx, token, upload)
	cancelUpload()

	c.opMu.Lock()
	defer c.opMu.Unlock()

	session.mu.Lock()
	session.cancelUpload = nil
	session.mu.Unlock()
	if c.session() != session || !session.getState().Is(domain.StateUploading) {
		if uploadErr == nil {
			// The server accepted the memo before the cancel reached the request.
			c.log.Warn().Str("memo_id", memo.ID).Msg("memo uploaded before cancel took effect")
			return memo, nil
		}
		return domain.Memo{}, ErrUploadCanceled
	}
	if uploadErr != nil {
		return domain.Memo{}, c.failUpload(session, "Upload failed: "+uploadErr.Error(), uploadErr)
	}

	c.removeAudio(upload.AudioPath)
	session.clear()
	session.setState(domain.SessionState{Kind: domain.StateComplete})
	c.release(session)

	c.log.Info().Str("memo_id", memo.ID).Msg("memo uploaded")
	c.events.SessionStateChanged(session.getState())
	return memo, nil
}

// Cancel discards the current session and returns to idle. It is a no-op when nothing is active.
func (c *RecordingController) Cancel(ctx context.Context) error {
	session := c.session()
	if session == nil || !session.getState().Active() {
		return nil
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.session() != session || !session.getState().Active() {
		return nil
	}
	session.mu.Lock()
	if session.cancelUpload != nil {
		session.cancelUpload()
	}
	session.mu.Unlock()

	if session.getState().Is(domain.StateRecording) {
		audio, _, audioErr, speechErr := c.haltCapture(ctx, session)
		if audioErr != nil || speechErr != nil {
			c.log.Debug().AnErr("audio", audioErr).AnErr("speech", speechErr).Msg("stop during cancel")
		}
		session.finishCapture(audio, "", session.getState())
	}
	c.discard(session)
	c.log.Info().Msg("recording discarded")
	return nil
}

// Retry resets a failed session to idle without re-attempting the failed operation.
func (c *RecordingController) Retry() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	session := c.session()
	if session == nil || !session.getState().Is(domain.StateError) {
		return fmt.Errorf("%w: retry", ErrInvalidTransition)
	}
	c.discard(session)
	return nil
}

// State returns the current lifecycle state.
func (c *RecordingController) State() domain.SessionState {
	session := c.session()
	if session == nil {
		return domain.Idle()
	}
	return session.getState()
}

// Progress returns the observable session snapshot.
func (c *RecordingController) Progress() domain.Progress {
	session := c.session()
	if session == nil {
		return domain.Progress{State: domain.Idle()}
	}
	return session.progress()
}

func (c *RecordingController) requirePermission(ctx context.Context, permission ports.Permission) error {
	granted, err := c.permissions.Request(ctx, permission)
	if err != nil {
		return fmt.Errorf("request %s permission: %w", permission, err)
	}
	if !granted {
		return fmt.Errorf("%s permission denied", permission)
	}
	return nil
}

// startCapture starts the recorder and the transcriber together. If either fails, the
// other is torn down so nothing is left running.
func (c *RecordingController) startCapture(ctx context.Context) (ports.Recording, ports.Transcription, error) {
	var (
		recording     ports.Recording
		transcription ports.Transcription
		group         errgroup.Group
	)
	group.Go(func() error {
		r, err := c.recorder.Start(ctx)
		if err != nil {
			return fmt.Errorf("audio capture: %w", err)
		}
		recording = r
		return nil
	})
	group.Go(func() error {
		t, err := c.transcriber.Start(ctx)
		if err != nil {
			return fmt.Errorf("speech recognition: %w", err)
		}
		transcription = t
		return nil
	})

	if err := group.Wait(); err != nil {
		if recording != nil {
			if audio, stopErr := recording.Stop(); stopErr == nil {
				c.removeAudio(audio.Path)
			} else {
				c.removeAudio(recording.Path())
			}
		}
		if transcription != nil {
			transcription.Abort()
		}
		return nil, nil, err
	}
	return recording, transcription, nil
}

func (c *RecordingController) startLocation(ctx context.Context) {
	granted, err := c.permissions.Request(ctx, ports.PermissionLocation)
	if err != nil || !granted {
		c.log.Warn().Err(err).Bool("granted", granted).Msg("location permission not granted")
		return
	}
	if err := c.location.Start(ctx); err != nil {
		c.log.Warn().Err(err).Msg("location updates unavailable")
	}
}

// stopRecording runs the stop sequence and decides on the transcript only after both
// subsystems have fully stopped. Callers hold opMu.
func (c *RecordingController) stopRecording(ctx context.Context, session *recordingSession) error {
	audio, transcript, audioErr, speechErr := c.haltCapture(ctx, session)
	c.log.Info().
		Dur("duration", audio.Duration).
		Int("transcript_len", len(transcript)).
		Msg("recording stopped")

	switch {
	case audioErr != nil:
		session.finishCapture(audio, transcript, session.getState())
		return c.fail(session, "Failed to stop recording: "+audioErr.Error(), audioErr)
	case transcript == "" && speechErr != nil:
		session.finishCapture(audio, transcript, session.getState())
		return c.fail(session, "Transcription failed: "+speechErr.Error(), speechErr)
	case transcript == "":
		session.finishCapture(audio, transcript, session.getState())
		return c.fail(session, MsgNoSpeech, ErrNoTranscript)
	}
	if speechErr != nil {
		c.log.Warn().Err(speechErr).Msg("transcriber reported an error after producing text")
	}

	session.finishCapture(audio, transcript, domain.SessionState{Kind: domain.StateStopped})
	c.events.SessionStateChanged(session.getState())
	c.events.SessionProgress(session.progress())
	return nil
}

// haltCapture stops the monitor, then both capture subsystems concurrently, and returns
// only after both have finished.
func (c *RecordingController) haltCapture(ctx context.Context, session *recordingSession) (domain.RecordedAudio, string, error, error) {
	c.haltMonitor(session)

	var (
		audio      domain.RecordedAudio
		transcript string
		audioErr   error
		speechErr  error
		group      errgroup.Group
	)
	group.Go(func() error {
		audio, audioErr = session.recording.Stop()
		return nil
	})
	group.Go(func() error {
		transcript, speechErr = session.transcription.Stop(ctx)
		return nil
	})
	_ = group.Wait()

	if audio.Path == "" {
		audio.Path = session.recording.Path()
	}
	return audio, strings.TrimSpace(transcript), audioErr, speechErr
}

func (c *RecordingController) haltMonitor(session *recordingSession) {
	if session.monitorStop == nil {
		return
	}
	select {
	case <-session.monitorStop:
	default:
		close(session.monitorStop)
	}
	<-session.monitorDone
}

func (c *RecordingController) fail(session *recordingSession, message string, cause error) error {
	session.setState(domain.Failed(message))
	c.log.Error().Err(cause).Str("message", message).Msg("recording session failed")
	c.events.SessionStateChanged(session.getState())
	return fmt.Errorf("%w: %s", ErrSessionFailed, message)
}

// failUpload is fail for upload-stage errors: audio and transcript stay for another Submit.
func (c *RecordingController) failUpload(session *recordingSession, message string, cause error) error {
	session.mu.Lock()
	session.uploadFailed = true
	session.mu.Unlock()
	return c.fail(session, message, cause)
}

// discard deletes local audio, clears the session and enters idle.
func (c *RecordingController) discard(session *recordingSession) {
	session.mu.Lock()
	audioPath := session.audioPath
	session.mu.Unlock()
	if audioPath != "" {
		c.removeAudio(audioPath)
	}
	session.clear()
	session.setState(domain.Idle())
	c.release(session)

	c.mu.Lock()
	if c.current == session {
		c.current = nil
	}
	c.mu.Unlock()

	c.events.SessionStateChanged(domain.Idle())
}

// release stops location updates and ends the session context.
func (c *RecordingController) release(session *recordingSession) {
	if err := c.location.Stop(); err != nil {
		c.log.Debug().Err(err).Msg("stop location updates")
	}
	if session.cancel != nil {
		session.cancel()
	}
}

func (c *RecordingController) removeAudio(path string) {
	if path == "" {
		return
	}
	if err := c.recorder.Remove(path); err != nil {
		c.log.Warn().Err(err).Str("audio", path).Msg("remove local audio")
	}
}

func (c *RecordingController) session() *recordingSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *RecordingController) setSession(session *recordingSession) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = session
}
