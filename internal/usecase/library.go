package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"trailmemo/internal/domain"
	"trailmemo/internal/ports"
)

// DefaultDepartment is sent on registration when none is configured.
const DefaultDepartment = "Parks & Recreation"

var registrationValidator = validator.New()

// MemoLibrary reads and manages remote memos and mirrors them into the local cache.
type MemoLibrary struct {
	tokens     ports.TokenSource
	api        ports.MemoAPI
	cache      ports.MemoCache
	department string
	log        zerolog.Logger
}

func NewMemoLibrary(tokens ports.TokenSource, api ports.MemoAPI, cache ports.MemoCache, department string, log zerolog.Logger) *MemoLibrary {
	if strings.TrimSpace(department) == "" {
		department = DefaultDepartment
	}
	return &MemoLibrary{
		tokens:     tokens,
		api:        api,
		cache:      cache,
		department: department,
		log:        log.With().Str("component", "library").Logger(),
	}
}

// List fetches memos from the API and refreshes the cache. When the API cannot be reached
// a non-empty cache is returned instead with stale set. A missing token is always an error.
func (l *MemoLibrary) List(ctx context.Context) (memos []domain.Memo, stale bool, err error) {
	token, err := l.token(ctx)
	if err != nil {
		return nil, false, err
	}
	memos, err = l.api.ListMemos(ctx, token)
	if err == nil {
		if cacheErr := l.cache.ReplaceMemos(ctx, memos); cacheErr != nil {
			l.log.Warn().Err(cacheErr).Msg("memo cache refresh failed")
		}
		return memos, false, nil
	}

	cached, cacheErr := l.cache.ListMemos(ctx)
	if cacheErr != nil || len(cached) == 0 {
		return nil, false, err
	}
	l.log.Warn().Err(err).Int("cached", len(cached)).Msg("serving cached memos")
	return cached, true, nil
}

// Get fetches a single memo.
func (l *MemoLibrary) Get(ctx context.Context, id string) (domain.Memo, error) {
	token, err := l.token(ctx)
	if err != nil {
		return domain.Memo{}, err
	}
	return l.api.GetMemo(ctx, token, id)
}

// Delete removes a memo remotely, then from the cache.
func (l *MemoLibrary) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("memo id is required")
	}
	token, err := l.token(ctx)
	if err != nil {
		return err
	}
	if err := l.api.DeleteMemo(ctx, token, id); err != nil {
		return err
	}
	if err := l.cache.DeleteMemo(ctx, id); err != nil {
		l.log.Warn().Err(err).Str("memo_id", id).Msg("memo cache delete failed")
	}
	return nil
}

// Remember stores a freshly uploaded memo so it shows up before the next refresh.
func (l *MemoLibrary) Remember(ctx context.Context, memo domain.Memo) {
	if err := l.cache.UpsertMemo(ctx, memo); err != nil {
		l.log.Warn().Err(err).Str("memo_id", memo.ID).Msg("memo cache insert failed")
	}
}

// Register records the signed-in user in the backend directory.
func (l *MemoLibrary) Register(ctx context.Context, displayName string) error {
	registration := domain.Registration{
		DisplayName: strings.TrimSpace(displayName),
		Department:  l.department,
	}
	if err := registrationValidator.Struct(registration); err != nil {
		return fmt.Errorf("invalid registration: %w", err)
	}
	token, err := l.token(ctx)
	if err != nil {
		return err
	}
	return l.api.Register(ctx, token, registration)
}

func (l *MemoLibrary) token(ctx context.Context) (string, error) {
	token, err := l.tokens.Token(ctx)
	if err == nil && strings.TrimSpace(token) == "" {
		err = errors.New("empty token")
	}
	if err != nil {
		return "", fmt.Errorf("%s: %w", MsgNotAuthenticated, err)
	}
	return token, nil
}
