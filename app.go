package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/wailsapp/wails/v2/pkg/runtime"

	"trailmemo/internal/bootstrap"
	"trailmemo/internal/config"
	"trailmemo/internal/domain"
	"trailmemo/internal/usecase"
)

const (
	eventState    = "trailmemo:state"
	eventProgress = "trailmemo:progress"
	eventError    = "trailmemo:error"
)

// App is the Wails application root.
type App struct {
	ctx context.Context

	services   bootstrap.Services
	controller *usecase.RecordingController
	library    *usecase.MemoLibrary
	cfg        config.Config
	log        zerolog.Logger
	bootErr    error
}

func NewApp() *App {
	return &App{log: zerolog.Nop()}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(a, os.Stderr)
	if err != nil {
		a.bootErr = err
		a.emitError("Startup failed", err)
		return
	}

	a.services = services
	a.cfg = services.Config
	a.log = services.Logger
	a.controller = services.Controller
	a.library = services.Library
	a.SessionStateChanged(domain.Idle())
}

func (a *App) shutdown(_ context.Context) {
	if a.controller != nil {
		if err := a.controller.Cancel(context.Background()); err != nil {
			a.log.Warn().Err(err).Msg("cancel on shutdown failed")
		}
	}
	if err := a.services.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "trailmemo: shutdown: %v\n", err)
	}
}

// StartRecording begins a new memo.
func (a *App) StartRecording() (domain.Progress, error) {
	if err := a.requireReady(); err != nil {
		return domain.Progress{}, err
	}
	if err := a.controller.Start(a.ctx); err != nil {
		return a.controller.Progress(), err
	}
	return a.controller.Progress(), nil
}

// StopRecording finishes capture and returns the memo ready for review.
func (a *App) StopRecording() (domain.Progress, error) {
	if err := a.requireReady(); err != nil {
		return domain.Progress{}, err
	}
	return a.controller.Stop(a.ctx)
}

// SetDetails records the optional title and park name for the pending memo.
func (a *App) SetDetails(title string, parkName string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.controller.SetDetails(title, parkName)
}

// SubmitMemo uploads the pending memo.
func (a *App) SubmitMemo() (domain.Memo, error) {
	if err := a.requireReady(); err != nil {
		return domain.Memo{}, err
	}
	memo, err := a.controller.Submit(a.ctx)
	if err != nil {
		return domain.Memo{}, err
	}
	a.library.Remember(a.ctx, memo)
	return memo, nil
}

// CancelRecording discards whatever is in progress.
func (a *App) CancelRecording() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.controller.Cancel(a.ctx)
}

// TryAgain clears an error so a new recording can start.
func (a *App) TryAgain() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	err := a.controller.Retry()
	if errors.Is(err, usecase.ErrInvalidTransition) {
		return nil
	}
	return err
}

// GetProgress returns the current session snapshot.
func (a *App) GetProgress() domain.Progress {
	if a.controller == nil {
		if a.bootErr != nil {
			return domain.Progress{State: domain.Failed(a.bootErr.Error())}
		}
		return domain.Progress{State: domain.Idle()}
	}
	return a.controller.Progress()
}

// MemoList is the memo list payload for the map view.
type MemoList struct {
	Memos []domain.Memo `json:"memos"`
	// Stale is set when the list came from the local cache.
	Stale bool `json:"stale"`
}

// ListMemos returns every memo visible to the user.
func (a *App) ListMemos() (MemoList, error) {
	if err := a.requireReady(); err != nil {
		return MemoList{}, err
	}
	memos, stale, err := a.library.List(a.ctx)
	if err != nil {
		return MemoList{}, err
	}
	return MemoList{Memos: memos, Stale: stale}, nil
}

// GetMemo fetches a single memo.
func (a *App) GetMemo(id string) (domain.Memo, error) {
	if err := a.requireReady(); err != nil {
		return domain.Memo{}, err
	}
	return a.library.Get(a.ctx, id)
}

// DeleteMemo removes a memo.
func (a *App) DeleteMemo(id string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.library.Delete(a.ctx, id)
}

// Register adds the signed-in user to the directory.
func (a *App) Register(displayName string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.library.Register(a.ctx, displayName)
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	return map[string]string{
		"api":              a.cfg.API.BaseURL,
		"provider":         "Deepgram",
		"model":            a.cfg.Deepgram.Model,
		"language":         a.cfg.Deepgram.Language,
		"vocabularyFile":   a.cfg.Vocabulary.Path,
		"audioInput":       a.cfg.Audio.InputDevice,
		"audioInputFormat": a.cfg.Audio.InputFormat,
		"location":         a.cfg.Location.Mode,
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.controller == nil || a.library == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// SessionStateChanged emits lifecycle updates to the frontend.
func (a *App) SessionStateChanged(state domain.SessionState) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventState, statePayload(state))
}

// SessionProgress emits live transcript, elapsed time and input level.
func (a *App) SessionProgress(progress domain.Progress) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventProgress, progress)
}

func (a *App) emitError(message string, err error) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventError, map[string]string{
		"message": message,
		"detail":  err.Error(),
	})
}

func statePayload(state domain.SessionState) map[string]string {
	return map[string]string{
		"state":   string(state.Kind),
		"message": stateMessage(state),
	}
}

func stateMessage(state domain.SessionState) string {
	switch state.Kind {
	case domain.StateIdle:
		return "Ready to record"
	case domain.StateRecording:
		return "Recording"
	case domain.StateProcessing:
		return "Processing"
	case domain.StateStopped:
		return "Review your memo"
	case domain.StateUploading:
		return "Uploading"
	case domain.StateComplete:
		return "Memo saved"
	case domain.StateError:
		if state.Message == "" {
			return "Something went wrong"
		}
		return state.Message
	default:
		return ""
	}
}
