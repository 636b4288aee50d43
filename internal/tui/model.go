package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"trailmemo/internal/domain"
	"trailmemo/internal/usecase"
)

// Controller is the recording session surface the TUI drives.
type Controller interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) (domain.Progress, error)
	SetDetails(title string, parkName string) error
	Submit(ctx context.Context) (domain.Memo, error)
	Cancel(ctx context.Context) error
	Retry() error
	Progress() domain.Progress
}

// Library lists and manages uploaded memos.
type Library interface {
	List(ctx context.Context) ([]domain.Memo, bool, error)
	Delete(ctx context.Context, id string) error
	Remember(ctx context.Context, memo domain.Memo)
}

// PanelFocus tracks which panel has keyboard focus.
type PanelFocus int

const (
	FocusSession PanelFocus = iota
	FocusMemos
)

type field int

const (
	fieldNone field = iota
	fieldTitle
	fieldPark
)

const noticeTimeout = 4 * time.Second

// Model is the root bubbletea model for the terminal recorder.
type Model struct {
	ctx        context.Context
	controller Controller
	library    Library

	progress domain.Progress
	busy     string

	// Details typed before submit
	title    string
	parkName string
	editing  field

	// Memo list
	memos       []domain.Memo
	stale       bool
	selected    int
	loadingList bool

	focusedPanel PanelFocus
	width        int
	height       int

	errorMessage string
	notice       string
}

// New creates a Model bound to the controller and memo library.
func New(ctx context.Context, controller Controller, library Library) Model {
	return Model{
		ctx:          ctx,
		controller:   controller,
		library:      library,
		progress:     domain.Progress{State: domain.Idle()},
		focusedPanel: FocusSession,
		loadingList:  true,
	}
}

// Init loads the memo list.
func (m Model) Init() tea.Cmd {
	return listCmd(m.ctx, m.library)
}

func startCmd(ctx context.Context, controller Controller) tea.Cmd {
	return func() tea.Msg {
		err := controller.Start(ctx)
		return StartedMsg{Progress: controller.Progress(), Err: err}
	}
}

func stopCmd(ctx context.Context, controller Controller) tea.Cmd {
	return func() tea.Msg {
		progress, err := controller.Stop(ctx)
		if err != nil {
			progress = controller.Progress()
		}
		return StoppedMsg{Progress: progress, Err: err}
	}
}

// submitCmd applies the typed details, then uploads.
func submitCmd(ctx context.Context, controller Controller, title string, parkName string) tea.Cmd {
	return func() tea.Msg {
		if err := controller.SetDetails(title, parkName); err != nil {
			return SubmittedMsg{Progress: controller.Progress(), Err: err}
		}
		memo, err := controller.Submit(ctx)
		return SubmittedMsg{Memo: memo, Progress: controller.Progress(), Err: err}
	}
}

func cancelCmd(ctx context.Context, controller Controller) tea.Cmd {
	return func() tea.Msg {
		err := controller.Cancel(ctx)
		return CanceledMsg{Progress: controller.Progress(), Err: err}
	}
}

func retryCmd(controller Controller) tea.Cmd {
	return func() tea.Msg {
		err := controller.Retry()
		return RetriedMsg{Progress: controller.Progress(), Err: err}
	}
}

func listCmd(ctx context.Context, library Library) tea.Cmd {
	return func() tea.Msg {
		memos, stale, err := library.List(ctx)
		return MemosLoadedMsg{Memos: memos, Stale: stale, Err: err}
	}
}

func rememberCmd(ctx context.Context, library Library, memo domain.Memo) tea.Cmd {
	return func() tea.Msg {
		library.Remember(ctx, memo)
		memos, stale, err := library.List(ctx)
		return MemosLoadedMsg{Memos: memos, Stale: stale, Err: err}
	}
}

func deleteCmd(ctx context.Context, library Library, id string) tea.Cmd {
	return func() tea.Msg {
		return MemoDeletedMsg{ID: id, Err: library.Delete(ctx, id)}
	}
}

func clearNoticeCmd() tea.Cmd {
	return tea.Tick(noticeTimeout, func(time.Time) tea.Msg {
		return ClearNoticeMsg{}
	})
}

// Update processes messages and returns the updated model and any commands.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case StateChangedMsg:
		m.progress.State = msg.State
		if msg.State.Is(domain.StateIdle) {
			m.progress = domain.Progress{State: msg.State}
		}
		return m, nil

	case ProgressMsg:
		// Samples taken before the last state change are stale.
		if msg.Progress.State.Kind != m.progress.State.Kind {
			return m, nil
		}
		m.progress = msg.Progress
		return m, nil

	case StartedMsg:
		m.busy = ""
		m.progress = msg.Progress
		if msg.Err != nil {
			return m.fail(msg.Err)
		}
		m.errorMessage = ""
		m.title, m.parkName = "", ""
		return m, nil

	case StoppedMsg:
		m.busy = ""
		m.progress = msg.Progress
		if msg.Err != nil {
			return m.fail(msg.Err)
		}
		return m, nil

	case SubmittedMsg:
		m.busy = ""
		m.progress = msg.Progress
		if msg.Err != nil {
			if errors.Is(msg.Err, usecase.ErrUploadCanceled) {
				return m.announce("Upload canceled")
			}
			return m.fail(msg.Err)
		}
		m.errorMessage = ""
		m.title, m.parkName = "", ""
		next, cmd := m.announce("Memo saved: " + msg.Memo.DisplayTitle())
		model := next.(Model)
		model.loadingList = true
		return model, tea.Batch(cmd, rememberCmd(m.ctx, m.library, msg.Memo))

	case CanceledMsg:
		m.busy = ""
		m.progress = msg.Progress
		if msg.Err != nil {
			return m.fail(msg.Err)
		}
		m.errorMessage = ""
		m.editing = fieldNone
		return m, nil

	case RetriedMsg:
		m.busy = ""
		m.progress = msg.Progress
		if msg.Err != nil {
			return m.fail(msg.Err)
		}
		m.errorMessage = ""
		return m, nil

	case MemosLoadedMsg:
		m.loadingList = false
		if msg.Err != nil {
			return m.fail(msg.Err)
		}
		m.memos = msg.Memos
		m.stale = msg.Stale
		if m.selected >= len(m.memos) {
			m.selected = max(0, len(m.memos)-1)
		}
		return m, nil

	case MemoDeletedMsg:
		if msg.Err != nil {
			return m.fail(msg.Err)
		}
		for i, memo := range m.memos {
			if memo.ID == msg.ID {
				m.memos = append(m.memos[:i:i], m.memos[i+1:]...)
				break
			}
		}
		if m.selected >= len(m.memos) {
			m.selected = max(0, len(m.memos)-1)
		}
		return m.announce("Memo deleted")

	case ClearNoticeMsg:
		m.notice = ""
		return m, nil
	}

	return m, nil
}

func (m Model) fail(err error) (tea.Model, tea.Cmd) {
	m.errorMessage = err.Error()
	return m, nil
}

func (m Model) announce(notice string) (tea.Model, tea.Cmd) {
	m.notice = notice
	return m, clearNoticeCmd()
}

// handleKey processes key presses.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.editing != fieldNone {
		return m.handleEditKey(msg)
	}

	state := m.progress.State
	switch msg.String() {
	case KeyQuit, KeyQuitUpper, KeyCtrlC:
		return m, tea.Sequence(cancelCmd(m.ctx, m.controller), tea.Quit)

	case KeyTab:
		if m.focusedPanel == FocusSession {
			m.focusedPanel = FocusMemos
		} else {
			m.focusedPanel = FocusSession
		}
		return m, nil

	case KeyRecord:
		if m.busy != "" {
			return m, nil
		}
		switch state.Kind {
		case domain.StateIdle, domain.StateComplete:
			m.busy = "Starting..."
			return m, startCmd(m.ctx, m.controller)
		case domain.StateRecording:
			m.busy = "Finishing transcript..."
			return m, stopCmd(m.ctx, m.controller)
		}
		return m, nil

	case KeyTitle, KeyPark:
		if !m.canSubmit() {
			return m, nil
		}
		if msg.String() == KeyTitle {
			m.editing = fieldTitle
		} else {
			m.editing = fieldPark
		}
		return m, nil

	case KeySubmit:
		if m.busy != "" || !m.canSubmit() {
			return m, nil
		}
		m.busy = "Uploading..."
		return m, submitCmd(m.ctx, m.controller, m.title, m.parkName)

	case KeyCancel:
		if !state.Active() {
			return m, nil
		}
		return m, cancelCmd(m.ctx, m.controller)

	case KeyRetry:
		if !state.Is(domain.StateError) {
			return m, nil
		}
		return m, retryCmd(m.controller)

	case KeyRefresh, KeyRefreshAlt:
		m.loadingList = true
		return m, listCmd(m.ctx, m.library)

	case KeyJ, KeyDown:
		if m.focusedPanel == FocusMemos && m.selected < len(m.memos)-1 {
			m.selected++
		}
		return m, nil

	case KeyK, KeyUp:
		if m.focusedPanel == FocusMemos && m.selected > 0 {
			m.selected--
		}
		return m, nil

	case KeyDelete:
		if m.focusedPanel != FocusMemos || m.selected >= len(m.memos) {
			return m, nil
		}
		return m, deleteCmd(m.ctx, m.library, m.memos[m.selected].ID)
	}

	return m, nil
}

func (m Model) handleEditKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	target := &m.title
	if m.editing == fieldPark {
		target = &m.parkName
	}

	switch msg.Type {
	case tea.KeyEnter, tea.KeyEsc, tea.KeyTab:
		m.editing = fieldNone
	case tea.KeyBackspace:
		if runes := []rune(*target); len(runes) > 0 {
			*target = string(runes[:len(runes)-1])
		}
	case tea.KeyCtrlU:
		*target = ""
	case tea.KeyCtrlC:
		return m, tea.Sequence(cancelCmd(m.ctx, m.controller), tea.Quit)
	case tea.KeySpace:
		*target += " "
	case tea.KeyRunes:
		*target += string(msg.Runes)
	}
	return m, nil
}

// canSubmit reports whether the pending memo can be uploaded, including a resubmit after
// a failed upload.
func (m Model) canSubmit() bool {
	p := m.progress
	if !p.HasAudio || strings.TrimSpace(p.Transcript) == "" {
		return false
	}
	return p.State.Is(domain.StateStopped) || p.State.Is(domain.StateError)
}

// View renders the full TUI.
func (m Model) View() string {
	width := m.width
	if width == 0 {
		width = 72
	}

	var sections []string
	sections = append(sections, m.renderHeader())
	sections = append(sections, m.renderStatusBar())
	sections = append(sections, DividerStyle.Render(strings.Repeat("─", width)))
	sections = append(sections, m.renderSession(width))
	sections = append(sections, DividerStyle.Render(strings.Repeat("─", width)))
	sections = append(sections, m.renderMemos(width))
	if m.errorMessage != "" {
		sections = append(sections, ErrorStyle.Render("✗ "+m.errorMessage))
	} else if m.notice != "" {
		sections = append(sections, DoneStyle.Render("✓ "+m.notice))
	}
	sections = append(sections, m.renderFooter())

	return strings.Join(sections, "\n")
}

func (m Model) renderHeader() string {
	header := TitleStyle.Render("TRAILMEMO")
	if loc := m.progress.Location; loc != nil {
		header += DimStyle.Render(fmt.Sprintf(" · %.5f, %.5f ±%.0fm", loc.Latitude, loc.Longitude, loc.Accuracy))
	}
	return header
}

func (m Model) renderStatusBar() string {
	state := m.progress.State
	var dot string
	switch state.Kind {
	case domain.StateRecording:
		dot = RecordingDotStyle.Render("● REC")
	case domain.StateStopped:
		dot = BusyStyle.Render("■ REVIEW")
	case domain.StateUploading, domain.StateProcessing:
		dot = BusyStyle.Render("↑ UPLOADING")
	case domain.StateComplete:
		dot = DoneStyle.Render("✓ SAVED")
	case domain.StateError:
		dot = ErrorStyle.Render("✗ ERROR")
	default:
		dot = IdleDotStyle.Render("○ IDLE")
	}

	status := dot + "  " + formatElapsed(m.progress.Elapsed)
	if state.Is(domain.StateRecording) {
		status += "  " + renderLevelMeter(m.progress.Level)
	}
	if m.busy != "" {
		status += "  " + BusyStyle.Render(m.busy)
	}
	return status
}

func renderLevelMeter(level float32) string {
	const barLen = 12
	filled := int(level * barLen)
	if filled > barLen {
		filled = barLen
	}

	var bar strings.Builder
	for i := 0; i < barLen; i++ {
		switch {
		case i >= filled:
			bar.WriteString(LevelGrayStyle.Render("░"))
		case float32(i)/barLen > 0.7:
			bar.WriteString(LevelYellowStyle.Render("█"))
		default:
			bar.WriteString(LevelGreenStyle.Render("█"))
		}
	}
	return LabelStyle.Render("MIC") + " " + bar.String()
}

func formatElapsed(d time.Duration) string {
	total := int(d.Seconds())
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

func (m Model) renderSession(width int) string {
	title := PanelTitleStyle
	if m.focusedPanel == FocusSession {
		title = PanelTitleActiveStyle
	}
	lines := []string{title.Render("MEMO")}

	transcript := strings.TrimSpace(m.progress.Transcript)
	if transcript == "" {
		lines = append(lines, PlaceholderStyle.Render("Press space and start talking..."))
	} else {
		lines = append(lines, TranscriptStyle.Width(width).Render(transcript))
	}

	if m.canSubmit() || m.editing != fieldNone {
		lines = append(lines, "")
		lines = append(lines, m.renderField("Title", m.title, m.editing == fieldTitle))
		lines = append(lines, m.renderField("Park ", m.parkName, m.editing == fieldPark))
	}
	if state := m.progress.State; state.Is(domain.StateError) && state.Message != "" {
		lines = append(lines, ErrorStyle.Render(state.Message))
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderField(label string, value string, editing bool) string {
	shown := value
	style := TranscriptStyle
	if editing {
		shown += "▌"
		style = EditingStyle
	} else if shown == "" {
		shown = "(optional)"
		style = PlaceholderStyle
	}
	return LabelStyle.Render(label+": ") + style.Render(shown)
}

func (m Model) renderMemos(width int) string {
	title := PanelTitleStyle
	if m.focusedPanel == FocusMemos {
		title = PanelTitleActiveStyle
	}
	header := fmt.Sprintf("MEMOS (%d)", len(m.memos))
	if m.stale {
		header += " offline"
	}
	lines := []string{title.Render(header)}

	switch {
	case m.loadingList && len(m.memos) == 0:
		lines = append(lines, DimStyle.Render("  Loading..."))
	case len(m.memos) == 0:
		lines = append(lines, DimStyle.Render("  No memos yet"))
	}

	for i, memo := range m.visibleMemos() {
		index := m.firstVisibleMemo() + i
		marker := "  "
		style := TranscriptStyle
		if index == m.selected && m.focusedPanel == FocusMemos {
			marker = "▸ "
			style = SelectedStyle
		}
		initials := InitialsStyle.Render(domain.UserInitials(memo.UserName))
		meta := DimStyle.Render(" " + memo.CreatedAt.Local().Format("Jan 2 15:04"))
		line := marker + initials + " " + style.Render(memo.DisplayTitle()) + meta
		lines = append(lines, lipgloss.NewStyle().MaxWidth(width).Render(line))
	}
	return strings.Join(lines, "\n")
}

func (m Model) memoRows() int {
	if m.height == 0 {
		return 8
	}
	// header, status, dividers, memo title, notice and footer
	return max(3, m.height-14)
}

func (m Model) firstVisibleMemo() int {
	rows := m.memoRows()
	if m.selected < rows {
		return 0
	}
	return m.selected - rows + 1
}

func (m Model) visibleMemos() []domain.Memo {
	start := m.firstVisibleMemo()
	end := min(len(m.memos), start+m.memoRows())
	if start >= end {
		return nil
	}
	return m.memos[start:end]
}

func (m Model) renderFooter() string {
	var keys [][2]string
	if m.editing != fieldNone {
		keys = [][2]string{{"enter", "done"}, {"ctrl+u", "clear"}}
	} else {
		switch m.progress.State.Kind {
		case domain.StateRecording:
			keys = append(keys, [2]string{"space", "stop"}, [2]string{"x", "cancel"})
		case domain.StateStopped:
			keys = append(keys, [2]string{"t", "title"}, [2]string{"p", "park"}, [2]string{"s", "submit"}, [2]string{"x", "discard"})
		case domain.StateError:
			if m.canSubmit() {
				keys = append(keys, [2]string{"s", "resubmit"})
			}
			keys = append(keys, [2]string{"y", "try again"}, [2]string{"x", "discard"})
		case domain.StateUploading:
			keys = append(keys, [2]string{"x", "cancel upload"})
		default:
			keys = append(keys, [2]string{"space", "record"})
		}
		keys = append(keys, [2]string{"tab", "focus"}, [2]string{"r", "refresh"})
		if m.focusedPanel == FocusMemos {
			keys = append(keys, [2]string{"j/k", "select"}, [2]string{"d", "delete"})
		}
		keys = append(keys, [2]string{"q", "quit"})
	}

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, FooterKeyStyle.Render(k[0])+" "+FooterDescStyle.Render(k[1]))
	}
	return strings.Join(parts, "  ")
}
