package usecase

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"trailmemo/internal/domain"
)

var (
	ErrNoAudio          = errors.New("no audio file")
	ErrNoTranscript     = errors.New("no transcript available")
	ErrLocationRequired = errors.New("location is required")
)

var uploadValidator = validator.New()

// uploadDraft is everything the session contributes to an upload.
type uploadDraft struct {
	AudioPath  string
	Transcript string
	Duration   time.Duration
	Title      string
	ParkName   string
	Location   *domain.Location
}

// assembleUpload enforces the field presence contract: audio and text always, the
// coordinate trio always, title and park name only when non-blank.
func assembleUpload(draft uploadDraft) (domain.MemoUpload, error) {
	if strings.TrimSpace(draft.AudioPath) == "" {
		return domain.MemoUpload{}, ErrNoAudio
	}
	text := strings.TrimSpace(draft.Transcript)
	if text == "" {
		return domain.MemoUpload{}, ErrNoTranscript
	}
	if draft.Location == nil {
		return domain.MemoUpload{}, ErrLocationRequired
	}

	latitude := draft.Location.Latitude
	longitude := draft.Location.Longitude
	accuracy := draft.Location.Accuracy
	upload := domain.MemoUpload{
		AudioPath:       draft.AudioPath,
		Text:            text,
		DurationSeconds: int(math.Floor(draft.Duration.Seconds())),
		Latitude:        &latitude,
		Longitude:       &longitude,
		Accuracy:        &accuracy,
		Title:           strings.TrimSpace(draft.Title),
		ParkName:        strings.TrimSpace(draft.ParkName),
	}

	if err := uploadValidator.Struct(upload); err != nil {
		return domain.MemoUpload{}, fmt.Errorf("invalid upload: %w", err)
	}
	return upload, nil
}
