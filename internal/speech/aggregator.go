package speech

import (
	"strings"
	"sync"

	"trailmemo/internal/domain"
	"trailmemo/internal/ports"
)

type transcriptAggregator struct {
	mu         sync.Mutex
	finals     []string
	pending    string
	lastSpoken string
}

func newTranscriptAggregator() *transcriptAggregator {
	return &transcriptAggregator{}
}

func (a *transcriptAggregator) Add(event domain.TranscriptEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	text := strings.TrimSpace(event.Text)
	if text == "" {
		return
	}
	a.lastSpoken = text
	if event.Kind == domain.TranscriptKindFinal {
		a.finals = append(a.finals, text)
		a.pending = ""
		return
	}
	a.pending = text
}

// Live is the text shown while recording: settled segments plus the in-flight hypothesis.
func (a *transcriptAggregator) Live() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	parts := append([]string(nil), a.finals...)
	if a.pending != "" {
		parts = append(parts, a.pending)
	}
	return strings.Join(parts, " ")
}

// Raw is the transcript once the stream has drained.
func (a *transcriptAggregator) Raw() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	joined := strings.TrimSpace(strings.Join(a.finals, " "))
	if joined == "" {
		return a.lastSpoken
	}

	if a.lastSpoken == "" {
		return joined
	}

	if strings.HasSuffix(joined, a.lastSpoken) {
		return joined
	}

	if len(a.lastSpoken) > len(joined) {
		return strings.TrimSpace(joined + " " + a.lastSpoken)
	}

	return joined
}

func consumeTranscriptionEvents(
	session ports.StreamingSession,
	aggregator *transcriptAggregator,
	done chan struct{},
) {
	defer close(done)

	for event := range session.Events() {
		if strings.TrimSpace(event.Text) == "" {
			continue
		}
		aggregator.Add(event)
	}
}
