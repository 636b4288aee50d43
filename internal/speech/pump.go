package speech

import (
	"errors"
	"fmt"
	"io"
	"time"

	"trailmemo/internal/ports"
)

const defaultChunkSize = 4096

// pumpAudioChunks forwards captured PCM to the provider until capture ends. The first
// failure is handed to report; io.EOF is a normal end of capture.
func pumpAudioChunks(
	audio ports.AudioSession,
	stream ports.StreamingSession,
	chunkSize int,
	report func(error),
	done chan struct{},
) {
	defer close(done)

	if chunkSize < 256 {
		chunkSize = defaultChunkSize
	}

	buf := make([]byte, chunkSize)
	for {
		n, err := audio.Read(buf)
		if n > 0 {
			if sendErr := stream.SendAudio(buf[:n]); sendErr != nil {
				report(fmt.Errorf("failed to stream audio: %w", sendErr))
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				report(fmt.Errorf("audio capture error: %w", err))
			}
			return
		}
	}
}

func waitForStream(session ports.StreamingSession, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- session.Wait()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		_ = session.Close()
		return <-done
	}
}
