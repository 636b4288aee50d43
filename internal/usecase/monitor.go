package usecase

import (
	"time"

	"trailmemo/internal/ports"
)

// monitor samples the live transcript, elapsed time and input level on a fixed interval while
// the session is recording. It only writes observable fields, never state transitions.
func (c *RecordingController) monitor(
	session *recordingSession,
	recording ports.Recording,
	transcription ports.Transcription,
) {
	defer close(session.monitorDone)

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-session.monitorStop:
			return
		case <-ticker.C:
		}

		progress, ok := session.applyLive(transcription.Text(), recording.Elapsed(), recording.Level())
		if !ok {
			return
		}
		c.events.SessionProgress(progress)
	}
}
