package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"trailmemo/internal/domain"
)

const bridgeBuffer = 64

// Bridge implements ports.EventSink by forwarding controller events to a running program.
// Events never block the controller and keep their order. State changes are always
// delivered; consecutive progress updates coalesce and progress is shed once bridgeBuffer
// events are waiting.
type Bridge struct {
	mu      sync.Mutex
	queue   []tea.Msg
	wake    chan struct{}
	program *tea.Program
	done    chan struct{}
}

func NewBridge() *Bridge {
	return &Bridge{wake: make(chan struct{}, 1)}
}

// Attach starts forwarding to program. Events emitted before Attach are delivered once
// it is called.
func (b *Bridge) Attach(program *tea.Program) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.program != nil {
		return
	}
	b.program = program
	b.done = make(chan struct{})
	go b.forward(program, b.done)
	b.signal()
}

// Close stops forwarding.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done != nil {
		close(b.done)
		b.done = nil
	}
}

func (b *Bridge) SessionStateChanged(state domain.SessionState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue = append(b.queue, StateChangedMsg{State: state})
	b.signal()
}

func (b *Bridge) SessionProgress(progress domain.Progress) {
	msg := ProgressMsg{Progress: progress}

	b.mu.Lock()
	defer b.mu.Unlock()
	if n := len(b.queue); n > 0 {
		if _, ok := b.queue[n-1].(ProgressMsg); ok {
			b.queue[n-1] = msg
			return
		}
	}
	if len(b.queue) >= bridgeBuffer {
		return
	}
	b.queue = append(b.queue, msg)
	b.signal()
}

// signal must be called with mu held.
func (b *Bridge) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *Bridge) take() []tea.Msg {
	b.mu.Lock()
	defer b.mu.Unlock()
	pending := b.queue
	b.queue = nil
	return pending
}

func (b *Bridge) forward(program *tea.Program, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-b.wake:
			for _, msg := range b.take() {
				program.Send(msg)
			}
		}
	}
}
