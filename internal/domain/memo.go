package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Memo is a remote memo record. Memos are never mutated after the API returns them.
type Memo struct {
	ID              string        `json:"memo_id"`
	UserID          string        `json:"user_id"`
	UserName        string        `json:"user_name"`
	Title           *string       `json:"title,omitempty"`
	AudioURL        string        `json:"audio_url"`
	Text            string        `json:"text"`
	DurationSeconds int           `json:"duration_seconds"`
	Location        *MemoLocation `json:"location,omitempty"`
	ParkName        *string       `json:"park_name,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// MemoLocation is the location attached to a stored memo.
type MemoLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`
	Address   *string `json:"address,omitempty"`
}

// postgresTimestamp is the bare layout some backend rows are serialized with; it is always UTC.
const postgresTimestamp = "2006-01-02 15:04:05"

var ErrTimestampFormat = errors.New("timestamp does not match a supported format")

// ParseTimestamp accepts RFC 3339 with fractional seconds, RFC 3339 without, then the bare
// "yyyy-MM-dd HH:mm:ss" layout interpreted as UTC.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if strings.Contains(value, ".") {
		if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
			return t.UTC(), nil
		}
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.ParseInLocation(postgresTimestamp, value, time.UTC); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrTimestampFormat, value)
}

type memoWire struct {
	ID              string        `json:"memo_id"`
	UserID          string        `json:"user_id"`
	UserName        string        `json:"user_name"`
	Title           *string       `json:"title,omitempty"`
	AudioURL        string        `json:"audio_url"`
	Text            string        `json:"text"`
	DurationSeconds int           `json:"duration_seconds"`
	Location        *MemoLocation `json:"location,omitempty"`
	ParkName        *string       `json:"park_name,omitempty"`
	CreatedAt       *string       `json:"created_at"`
	UpdatedAt       *string       `json:"updated_at"`
}

// MarshalJSON writes timestamps as RFC 3339 UTC with fractional seconds when present.
func (m Memo) MarshalJSON() ([]byte, error) {
	created := m.CreatedAt.UTC().Format(time.RFC3339Nano)
	updated := m.UpdatedAt.UTC().Format(time.RFC3339Nano)
	return json.Marshal(memoWire{
		ID:              m.ID,
		UserID:          m.UserID,
		UserName:        m.UserName,
		Title:           m.Title,
		AudioURL:        m.AudioURL,
		Text:            m.Text,
		DurationSeconds: m.DurationSeconds,
		Location:        m.Location,
		ParkName:        m.ParkName,
		CreatedAt:       &created,
		UpdatedAt:       &updated,
	})
}

// UnmarshalJSON decodes the wire format, accepting every supported timestamp shape.
func (m *Memo) UnmarshalJSON(data []byte) error {
	var wire memoWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire.CreatedAt == nil {
		return errors.New("memo: created_at is missing")
	}
	if wire.UpdatedAt == nil {
		return errors.New("memo: updated_at is missing")
	}
	created, err := ParseTimestamp(*wire.CreatedAt)
	if err != nil {
		return fmt.Errorf("memo: created_at: %w", err)
	}
	updated, err := ParseTimestamp(*wire.UpdatedAt)
	if err != nil {
		return fmt.Errorf("memo: updated_at: %w", err)
	}

	*m = Memo{
		ID:              wire.ID,
		UserID:          wire.UserID,
		UserName:        wire.UserName,
		Title:           wire.Title,
		AudioURL:        wire.AudioURL,
		Text:            wire.Text,
		DurationSeconds: wire.DurationSeconds,
		Location:        wire.Location,
		ParkName:        wire.ParkName,
		CreatedAt:       created,
		UpdatedAt:       updated,
	}
	return nil
}

// DisplayTitle falls back to the park name, then to a generic label.
func (m Memo) DisplayTitle() string {
	if m.Title != nil && strings.TrimSpace(*m.Title) != "" {
		return strings.TrimSpace(*m.Title)
	}
	if m.ParkName != nil && strings.TrimSpace(*m.ParkName) != "" {
		return strings.TrimSpace(*m.ParkName)
	}
	return "Voice memo"
}

// UserInitials returns the first letters of the first and last words, or the first two letters.
func UserInitials(name string) string {
	parts := strings.Fields(name)
	if len(parts) >= 2 {
		first := []rune(parts[0])
		last := []rune(parts[len(parts)-1])
		return strings.ToUpper(string(first[0]) + string(last[0]))
	}
	runes := []rune(strings.TrimSpace(name))
	if len(runes) > 2 {
		runes = runes[:2]
	}
	return strings.ToUpper(string(runes))
}
