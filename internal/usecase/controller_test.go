package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"trailmemo/internal/domain"
	"trailmemo/internal/ports"
)

func TestRecordingControllerRecordStopSubmit(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.transcriber.session.final = "hello world"
	h.recorder.recording.duration = 4*time.Second + 300*time.Millisecond
	h.location.current = &domain.Location{Latitude: 45.0, Longitude: -111.0, Accuracy: 8.0}
	controller := h.controller()

	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if state := controller.State(); !state.Is(domain.StateRecording) {
		t.Fatalf("expected recording, got %s", state)
	}

	progress, err := controller.Stop(context.Background())
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if !progress.State.Is(domain.StateStopped) || progress.Transcript != "hello world" {
		t.Fatalf("unexpected progress after stop: %+v", progress)
	}
	if !progress.CanSubmit() {
		t.Fatalf("expected stopped session to be submittable")
	}

	memo, err := controller.Submit(context.Background())
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if memo.ID != "memo-1" {
		t.Fatalf("unexpected memo: %+v", memo)
	}

	uploads := h.api.snapshotUploads()
	if len(uploads) != 1 {
		t.Fatalf("expected one upload, got %d", len(uploads))
	}
	upload := uploads[0]
	if upload.token != "token-1" {
		t.Fatalf("unexpected token: %q", upload.token)
	}
	if upload.Text != "hello world" || upload.DurationSeconds != 4 {
		t.Fatalf("unexpected upload body: %+v", upload.MemoUpload)
	}
	if *upload.Latitude != 45.0 || *upload.Longitude != -111.0 || *upload.Accuracy != 8.0 {
		t.Fatalf("unexpected coordinates: %v %v %v", *upload.Latitude, *upload.Longitude, *upload.Accuracy)
	}
	if upload.Title != "" || upload.ParkName != "" {
		t.Fatalf("expected no title or park name, got %q %q", upload.Title, upload.ParkName)
	}

	if state := controller.State(); !state.Is(domain.StateComplete) {
		t.Fatalf("expected complete, got %s", state)
	}
	if removed := h.recorder.snapshotRemoved(); len(removed) != 1 || removed[0] != "/tmp/memo_test.m4a" {
		t.Fatalf("expected local audio removed, got %v", removed)
	}
	final := controller.Progress()
	if final.Transcript != "" || final.Title != "" || final.ParkName != "" || final.HasAudio {
		t.Fatalf("expected cleared session, got %+v", final)
	}

	kinds := h.events.stateKinds()
	want := []domain.StateKind{domain.StateRecording, domain.StateStopped, domain.StateUploading, domain.StateComplete}
	if strings.Join(kindsToStrings(kinds), ",") != strings.Join(kindsToStrings(want), ",") {
		t.Fatalf("unexpected state sequence: %v", kinds)
	}
}

func TestRecordingControllerStopWithEmptyTranscript(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.transcriber.session.final = "   "
	controller := h.controller()

	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	_, err := controller.Stop(context.Background())
	if !errors.Is(err, ErrSessionFailed) {
		t.Fatalf("expected session failure, got %v", err)
	}

	state := controller.State()
	if !state.Is(domain.StateError) || state.Message != "No speech detected. Please try again." {
		t.Fatalf("unexpected state: %s", state)
	}
	if _, err := controller.Submit(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected submit to be refused, got %v", err)
	}
	if len(h.api.snapshotUploads()) != 0 {
		t.Fatalf("expected no upload")
	}
}

func TestRecordingControllerSubmitRequiresLocation(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.transcriber.session.final = "trail washed out"
	controller := h.controller()

	mustRecordAndStop(t, controller)

	_, err := controller.Submit(context.Background())
	if !errors.Is(err, ErrSessionFailed) {
		t.Fatalf("expected session failure, got %v", err)
	}
	if state := controller.State(); state.Message != "Location is required" {
		t.Fatalf("unexpected state: %s", state)
	}
	if len(h.api.snapshotUploads()) != 0 {
		t.Fatalf("expected no network call")
	}
	if h.tokens.calls != 0 {
		t.Fatalf("expected no token request without location")
	}
	if len(h.recorder.snapshotRemoved()) != 0 {
		t.Fatalf("expected local audio to be kept")
	}
}

func TestRecordingControllerSubmitWithoutToken(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.transcriber.session.final = "bear sighting"
	h.location.current = &domain.Location{Latitude: 44.4, Longitude: -110.5, Accuracy: 5}
	h.tokens.err = errors.New("signed out")
	controller := h.controller()

	mustRecordAndStop(t, controller)

	if _, err := controller.Submit(context.Background()); err == nil {
		t.Fatalf("expected submit error")
	}
	if state := controller.State(); state.Message != "Not authenticated" {
		t.Fatalf("unexpected state: %s", state)
	}
	if len(h.api.snapshotUploads()) != 0 {
		t.Fatalf("expected no unauthenticated request")
	}
}

func TestRecordingControllerUploadFailureKeepsAudioForResubmit(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.transcriber.session.final = "gate left open"
	h.location.current = &domain.Location{Latitude: 45.1, Longitude: -111.2, Accuracy: 12}
	h.api.errs = []error{errors.New("status 502: bad gateway")}
	controller := h.controller()

	mustRecordAndStop(t, controller)
	if err := controller.SetDetails("  Gate ", " Hyalite "); err != nil {
		t.Fatalf("set details failed: %v", err)
	}

	if _, err := controller.Submit(context.Background()); err == nil {
		t.Fatalf("expected upload failure")
	}
	state := controller.State()
	if !state.Is(domain.StateError) || !strings.Contains(state.Message, "Upload failed: status 502") {
		t.Fatalf("unexpected state: %s", state)
	}
	if len(h.recorder.snapshotRemoved()) != 0 {
		t.Fatalf("expected audio retained after upload failure")
	}
	if progress := controller.Progress(); progress.Transcript != "gate left open" || !progress.HasAudio {
		t.Fatalf("expected transcript retained, got %+v", progress)
	}

	if _, err := controller.Submit(context.Background()); err != nil {
		t.Fatalf("resubmit failed: %v", err)
	}
	uploads := h.api.snapshotUploads()
	if len(uploads) != 2 {
		t.Fatalf("expected two attempts, got %d", len(uploads))
	}
	if uploads[1].Title != "Gate" || uploads[1].ParkName != "Hyalite" {
		t.Fatalf("expected trimmed details, got %q %q", uploads[1].Title, uploads[1].ParkName)
	}
	if !controller.State().Is(domain.StateComplete) {
		t.Fatalf("expected complete after resubmit, got %s", controller.State())
	}
}

func TestRecordingControllerPermissionDenied(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.permissions.denied[ports.PermissionSpeech] = true
	controller := h.controller()

	if err := controller.Start(context.Background()); !errors.Is(err, ErrSessionFailed) {
		t.Fatalf("expected failure, got %v", err)
	}
	if state := controller.State(); state.Message != MsgSpeechDenied {
		t.Fatalf("unexpected state: %s", state)
	}
	if h.recorder.starts != 0 || h.transcriber.starts != 0 {
		t.Fatalf("expected no capture to start")
	}

	if err := controller.Retry(); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if !controller.State().Is(domain.StateIdle) {
		t.Fatalf("expected idle after retry, got %s", controller.State())
	}
}

func TestRecordingControllerTranscriberStartFailureStopsRecorder(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.transcriber.err = errors.New("websocket refused")
	controller := h.controller()

	err := controller.Start(context.Background())
	if err == nil {
		t.Fatalf("expected start failure")
	}
	state := controller.State()
	if !strings.HasPrefix(state.Message, "Failed to start recording") {
		t.Fatalf("unexpected state: %s", state)
	}
	if h.recorder.recording.stopCount() == 0 {
		t.Fatalf("expected recorder to be stopped")
	}
	if removed := h.recorder.snapshotRemoved(); len(removed) != 1 {
		t.Fatalf("expected partial audio removed, got %v", removed)
	}
}

func TestRecordingControllerCancelIdleIsNoop(t *testing.T) {
	t.Parallel()

	h := newHarness()
	controller := h.controller()

	if err := controller.Cancel(context.Background()); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if h.recorder.starts != 0 || len(h.recorder.snapshotRemoved()) != 0 || h.location.stops != 0 {
		t.Fatalf("expected no resource access")
	}
	if len(h.events.stateKinds()) != 0 {
		t.Fatalf("expected no state events")
	}
}

func TestRecordingControllerCancelWhileRecording(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.transcriber.session.final = "never sent"
	controller := h.controller()

	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := controller.Cancel(context.Background()); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	if h.recorder.recording.stopCount() == 0 || h.transcriber.session.stopCount() == 0 {
		t.Fatalf("expected both subsystems stopped")
	}
	if removed := h.recorder.snapshotRemoved(); len(removed) != 1 {
		t.Fatalf("expected audio removed, got %v", removed)
	}
	if !controller.State().Is(domain.StateIdle) {
		t.Fatalf("expected idle, got %s", controller.State())
	}
	if len(h.api.snapshotUploads()) != 0 {
		t.Fatalf("expected no upload on cancel")
	}
	for _, kind := range h.events.stateKinds() {
		if kind == domain.StateError {
			t.Fatalf("cancel must not surface an error state")
		}
	}
}

func TestRecordingControllerCancelDuringUpload(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.transcriber.session.final = "rockfall"
	h.location.current = &domain.Location{Latitude: 45, Longitude: -111, Accuracy: 3}
	h.api.block = make(chan struct{})
	controller := h.controller()

	mustRecordAndStop(t, controller)

	result := make(chan error, 1)
	go func() {
		_, err := controller.Submit(context.Background())
		result <- err
	}()

	<-h.api.block
	if err := controller.Cancel(context.Background()); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	select {
	case err := <-result:
		if !errors.Is(err, ErrUploadCanceled) {
			t.Fatalf("expected upload canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("submit did not return after cancel")
	}
	if !controller.State().Is(domain.StateIdle) {
		t.Fatalf("expected idle, got %s", controller.State())
	}
}

func TestRecordingControllerKeepsMemoCommittedBeforeCancel(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.transcriber.session.final = "bridge washed out"
	h.location.current = &domain.Location{Latitude: 45, Longitude: -111, Accuracy: 3}
	h.api.block = make(chan struct{})
	h.api.release = make(chan struct{})
	controller := h.controller()

	mustRecordAndStop(t, controller)

	type outcome struct {
		memo domain.Memo
		err  error
	}
	result := make(chan outcome, 1)
	go func() {
		memo, err := controller.Submit(context.Background())
		result <- outcome{memo: memo, err: err}
	}()

	<-h.api.block
	if err := controller.Cancel(context.Background()); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	close(h.api.release)

	select {
	case got := <-result:
		if got.err != nil {
			t.Fatalf("expected committed upload to succeed, got %v", got.err)
		}
		if got.memo.ID != "server-created" {
			t.Fatalf("expected server memo returned, got %+v", got.memo)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("submit did not return")
	}
	if !controller.State().Is(domain.StateIdle) {
		t.Fatalf("expected idle after cancel, got %s", controller.State())
	}
	for _, kind := range h.events.stateKinds() {
		if kind == domain.StateError {
			t.Fatalf("a committed upload must not surface an error state")
		}
	}
}

func TestRecordingControllerStopFinalValuesWinOverMonitor(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.transcriber.session.live = "hello wor"
	h.transcriber.session.final = "hello world"
	h.recorder.recording.level = 0.7
	h.recorder.recording.elapsed = 2 * time.Second
	h.recorder.recording.duration = 3 * time.Second
	controller := h.controller()
	controller.cfg.PollInterval = time.Millisecond

	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	waitFor(t, func() bool { return h.events.progressCount() > 0 })

	live := controller.Progress()
	if live.Transcript != "hello wor" || live.Level != 0.7 || live.Elapsed != 2*time.Second {
		t.Fatalf("expected live sample, got %+v", live)
	}

	if _, err := controller.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	final := controller.Progress()
	if final.Transcript != "hello world" || final.Elapsed != 3*time.Second || final.Level != 0 {
		t.Fatalf("final values overwritten: %+v", final)
	}
}

func TestRecordingControllerInvalidTransitions(t *testing.T) {
	t.Parallel()

	h := newHarness()
	controller := h.controller()

	if _, err := controller.Stop(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid stop, got %v", err)
	}
	if _, err := controller.Submit(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid submit, got %v", err)
	}
	if err := controller.Retry(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid retry, got %v", err)
	}
	if err := controller.SetDetails("a", "b"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid details, got %v", err)
	}

	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := controller.Start(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected second start to be refused, got %v", err)
	}
}

func TestRecordingControllerLocationDeniedIsNotFatalAtStart(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.permissions.denied[ports.PermissionLocation] = true
	controller := h.controller()

	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if h.location.starts != 0 {
		t.Fatalf("expected location updates not started")
	}
	if !controller.State().Is(domain.StateRecording) {
		t.Fatalf("expected recording, got %s", controller.State())
	}
}

func mustRecordAndStop(t *testing.T, controller *RecordingController) {
	t.Helper()
	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if _, err := controller.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func kindsToStrings(kinds []domain.StateKind) []string {
	out := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		out = append(out, string(kind))
	}
	return out
}

type harness struct {
	recorder    *fakeRecorder
	transcriber *fakeTranscriber
	location    *fakeLocation
	permissions *fakePermissions
	tokens      *fakeTokens
	api         *fakeAPI
	events      *fakeEventSink
}

func newHarness() *harness {
	return &harness{
		recorder:    &fakeRecorder{recording: &fakeRecording{path: "/tmp/memo_test.m4a"}},
		transcriber: &fakeTranscriber{session: &fakeTranscription{}},
		location:    &fakeLocation{},
		permissions: &fakePermissions{denied: map[ports.Permission]bool{}},
		tokens:      &fakeTokens{token: "token-1"},
		api:         &fakeAPI{},
		events:      &fakeEventSink{},
	}
}

func (h *harness) controller() *RecordingController {
	return NewRecordingController(Dependencies{
		Recorder:    h.recorder,
		Transcriber: h.transcriber,
		Location:    h.location,
		Permissions: h.permissions,
		Tokens:      h.tokens,
		API:         h.api,
		Events:      h.events,
		Logger:      zerolog.Nop(),
	}, Config{})
}

type fakeRecorder struct {
	mu        sync.Mutex
	recording *fakeRecording
	err       error
	starts    int
	removed   []string
}

func (f *fakeRecorder) Start(_ context.Context) (ports.Recording, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.err != nil {
		return nil, f.err
	}
	return f.recording, nil
}

func (f *fakeRecorder) Remove(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, path)
	return nil
}

func (f *fakeRecorder) snapshotRemoved() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.removed...)
}

type fakeRecording struct {
	mu       sync.Mutex
	path     string
	elapsed  time.Duration
	duration time.Duration
	level    float32
	stops    int
	stopErr  error
}

func (f *fakeRecording) Path() string { return f.path }

func (f *fakeRecording) Elapsed() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.elapsed
}

func (f *fakeRecording) Level() float32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.level
}

func (f *fakeRecording) Stop() (domain.RecordedAudio, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return domain.RecordedAudio{Path: f.path, Duration: f.duration}, f.stopErr
}

func (f *fakeRecording) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

type fakeTranscriber struct {
	mu      sync.Mutex
	session *fakeTranscription
	err     error
	starts  int
}

func (f *fakeTranscriber) Start(_ context.Context) (ports.Transcription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

type fakeTranscription struct {
	mu      sync.Mutex
	live    string
	final   string
	stopErr error
	stops   int
	aborts  int
}

func (f *fakeTranscription) Text() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live
}

func (f *fakeTranscription) Stop(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return f.final, f.stopErr
}

func (f *fakeTranscription) Abort() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborts++
}

func (f *fakeTranscription) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

type fakeLocation struct {
	mu      sync.Mutex
	current *domain.Location
	starts  int
	stops   int
}

func (f *fakeLocation) Start(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return nil
}

func (f *fakeLocation) Current() (domain.Location, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == nil {
		return domain.Location{}, false
	}
	return *f.current, true
}

func (f *fakeLocation) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

type fakePermissions struct {
	denied map[ports.Permission]bool
}

func (f *fakePermissions) Request(_ context.Context, permission ports.Permission) (bool, error) {
	return !f.denied[permission], nil
}

type fakeTokens struct {
	token string
	err   error
	calls int
}

func (f *fakeTokens) Token(_ context.Context) (string, error) {
	f.calls++
	return f.token, f.err
}

type recordedUpload struct {
	domain.MemoUpload
	token string
}

type fakeAPI struct {
	mu      sync.Mutex
	uploads []recordedUpload
	errs    []error
	block   chan struct{}
	// release, when set with block, makes the request ignore ctx and succeed once closed.
	release chan struct{}
}

func (f *fakeAPI) CreateMemo(ctx context.Context, token string, upload domain.MemoUpload) (domain.Memo, error) {
	f.mu.Lock()
	f.uploads = append(f.uploads, recordedUpload{MemoUpload: upload, token: token})
	var err error
	if len(f.errs) > 0 {
		err = f.errs[0]
		f.errs = f.errs[1:]
	}
	block, release := f.block, f.release
	f.mu.Unlock()

	if block != nil {
		block <- struct{}{}
		if release != nil {
			<-release
			return domain.Memo{ID: "server-created", Text: upload.Text}, nil
		}
		<-ctx.Done()
		return domain.Memo{}, ctx.Err()
	}
	if err != nil {
		return domain.Memo{}, err
	}
	return domain.Memo{ID: "memo-1", Text: upload.Text, DurationSeconds: upload.DurationSeconds}, nil
}

func (f *fakeAPI) ListMemos(_ context.Context, _ string) ([]domain.Memo, error) { return nil, nil }

func (f *fakeAPI) GetMemo(_ context.Context, _ string, _ string) (domain.Memo, error) {
	return domain.Memo{}, nil
}

func (f *fakeAPI) DeleteMemo(_ context.Context, _ string, _ string) error { return nil }

func (f *fakeAPI) Register(_ context.Context, _ string, _ domain.Registration) error { return nil }

func (f *fakeAPI) snapshotUploads() []recordedUpload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedUpload(nil), f.uploads...)
}

type fakeEventSink struct {
	mu       sync.Mutex
	states   []domain.SessionState
	progress []domain.Progress
}

func (f *fakeEventSink) SessionStateChanged(state domain.SessionState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, state)
}

func (f *fakeEventSink) SessionProgress(progress domain.Progress) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress = append(f.progress, progress)
}

func (f *fakeEventSink) stateKinds() []domain.StateKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.StateKind, 0, len(f.states))
	for _, state := range f.states {
		out = append(out, state.Kind)
	}
	return out
}

func (f *fakeEventSink) progressCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.progress)
}
