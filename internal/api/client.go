// Package api is the client for the remote memo service.
package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"trailmemo/internal/domain"
)

const (
	memosPath    = "/api/v1/memos"
	registerPath = "/api/v1/auth/register"

	defaultTimeout = 60 * time.Second
	audioFileName  = "memo.m4a"
	audioMIMEType  = "audio/m4a"
)

// StatusError is returned for any non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("status %d", e.StatusCode)
	}
	return fmt.Sprintf("status %d: %s", e.StatusCode, body)
}

// Config controls the memo service client.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client implements ports.MemoAPI over resty.
type Client struct {
	http *resty.Client
	log  zerolog.Logger
	// newBoundary is swapped in tests.
	newBoundary func() string
}

func NewClient(cfg Config, log zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	client.JSONMarshal = json.Marshal
	client.JSONUnmarshal = json.Unmarshal

	return &Client{
		http:        client,
		log:         log.With().Str("component", "api").Logger(),
		newBoundary: func() string { return "Boundary-" + uuid.NewString() },
	}
}

type memoList struct {
	Memos []domain.Memo `json:"memos"`
}

func (c *Client) ListMemos(ctx context.Context, token string) ([]domain.Memo, error) {
	resp, err := c.request(ctx, token).Get(memosPath)
	if err := check(resp, err, "list memos"); err != nil {
		return nil, err
	}
	var list memoList
	if err := json.Unmarshal(resp.Body(), &list); err != nil {
		return nil, fmt.Errorf("decode memo list: %w", err)
	}
	return list.Memos, nil
}

func (c *Client) GetMemo(ctx context.Context, token string, id string) (domain.Memo, error) {
	resp, err := c.request(ctx, token).
		SetPathParam("id", id).
		Get(memosPath + "/{id}")
	if err := check(resp, err, "get memo"); err != nil {
		return domain.Memo{}, err
	}
	return decodeMemo(resp.Body())
}

func (c *Client) DeleteMemo(ctx context.Context, token string, id string) error {
	resp, err := c.request(ctx, token).
		SetPathParam("id", id).
		Delete(memosPath + "/{id}")
	return check(resp, err, "delete memo")
}

func (c *Client) Register(ctx context.Context, token string, registration domain.Registration) error {
	resp, err := c.request(ctx, token).
		SetHeader("Content-Type", "application/json").
		SetBody(registration).
		Post(registerPath)
	return check(resp, err, "register")
}

// CreateMemo uploads the audio file and its metadata as multipart/form-data.
func (c *Client) CreateMemo(ctx context.Context, token string, upload domain.MemoUpload) (domain.Memo, error) {
	body, contentType, err := c.encodeUpload(upload)
	if err != nil {
		return domain.Memo{}, err
	}

	c.log.Debug().Int("bytes", body.Len()).Msg("posting memo")
	resp, err := c.request(ctx, token).
		SetHeader("Content-Type", contentType).
		SetBody(body.Bytes()).
		Post(memosPath)
	if err := check(resp, err, "create memo"); err != nil {
		return domain.Memo{}, err
	}
	return decodeMemo(resp.Body())
}

func (c *Client) request(ctx context.Context, token string) *resty.Request {
	return c.http.R().
		SetContext(ctx).
		SetAuthToken(token)
}

// encodeUpload writes the parts in a fixed order: audio, text, duration_seconds, the
// coordinate trio, then title and park_name when present.
func (c *Client) encodeUpload(upload domain.MemoUpload) (*bytes.Buffer, string, error) {
	if !upload.HasLocation() {
		return nil, "", fmt.Errorf("encode memo: location is required")
	}

	audio, err := os.Open(upload.AudioPath)
	if err != nil {
		return nil, "", fmt.Errorf("open audio: %w", err)
	}
	defer audio.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if err := writer.SetBoundary(c.newBoundary()); err != nil {
		return nil, "", fmt.Errorf("set multipart boundary: %w", err)
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="audio"; filename="`+audioFileName+`"`)
	header.Set("Content-Type", audioMIMEType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("create audio part: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return nil, "", fmt.Errorf("copy audio: %w", err)
	}

	fields := [][2]string{
		{"text", upload.Text},
		{"duration_seconds", strconv.Itoa(upload.DurationSeconds)},
		{"latitude", formatCoordinate(*upload.Latitude)},
		{"longitude", formatCoordinate(*upload.Longitude)},
		{"location_accuracy", formatCoordinate(*upload.Accuracy)},
	}
	if title := strings.TrimSpace(upload.Title); title != "" {
		fields = append(fields, [2]string{"title", title})
	}
	if park := strings.TrimSpace(upload.ParkName); park != "" {
		fields = append(fields, [2]string{"park_name", park})
	}
	for _, field := range fields {
		if err := writer.WriteField(field[0], field[1]); err != nil {
			return nil, "", fmt.Errorf("write %s: %w", field[0], err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart body: %w", err)
	}
	return body, writer.FormDataContentType(), nil
}

// formatCoordinate always keeps a decimal point, so 45 is sent as "45.0".
func formatCoordinate(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

func check(resp *resty.Response, err error, op string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if resp.IsError() || resp.StatusCode() < http.StatusOK || resp.StatusCode() >= http.StatusMultipleChoices {
		return &StatusError{StatusCode: resp.StatusCode(), Body: string(resp.Body())}
	}
	return nil
}

func decodeMemo(body []byte) (domain.Memo, error) {
	var memo domain.Memo
	if err := json.Unmarshal(body, &memo); err != nil {
		return domain.Memo{}, fmt.Errorf("decode memo: %w", err)
	}
	return memo, nil
}
