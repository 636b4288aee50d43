package tui

import "trailmemo/internal/domain"

// StateChangedMsg is forwarded from the recording controller.
type StateChangedMsg struct {
	State domain.SessionState
}

// ProgressMsg carries a live session snapshot from the recording controller.
type ProgressMsg struct {
	Progress domain.Progress
}

// StartedMsg is the result of starting a recording.
type StartedMsg struct {
	Progress domain.Progress
	Err      error
}

// StoppedMsg is the result of stopping a recording.
type StoppedMsg struct {
	Progress domain.Progress
	Err      error
}

// SubmittedMsg is the result of an upload.
type SubmittedMsg struct {
	Memo     domain.Memo
	Progress domain.Progress
	Err      error
}

// CanceledMsg is the result of a cancel.
type CanceledMsg struct {
	Progress domain.Progress
	Err      error
}

// RetriedMsg is the result of a try-again.
type RetriedMsg struct {
	Progress domain.Progress
	Err      error
}

// MemosLoadedMsg carries the memo list.
type MemosLoadedMsg struct {
	Memos []domain.Memo
	Stale bool
	Err   error
}

// MemoDeletedMsg is the result of deleting a memo.
type MemoDeletedMsg struct {
	ID  string
	Err error
}

// ClearNoticeMsg clears a transient notice after a timeout.
type ClearNoticeMsg struct{}
