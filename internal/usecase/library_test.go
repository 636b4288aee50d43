package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"trailmemo/internal/domain"
)

func TestMemoLibraryListRefreshesCache(t *testing.T) {
	t.Parallel()

	remote := &catalogAPI{memos: []domain.Memo{{ID: "a"}, {ID: "b"}}}
	cache := &memoryCache{}
	library := NewMemoLibrary(&fakeTokens{token: "tok"}, remote, cache, "", zerolog.Nop())

	memos, stale, err := library.List(context.Background())
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if stale || len(memos) != 2 {
		t.Fatalf("unexpected list result: stale=%v memos=%+v", stale, memos)
	}
	if len(cache.memos) != 2 || remote.lastToken != "tok" {
		t.Fatalf("expected cache refresh with bearer token, cache=%+v token=%q", cache.memos, remote.lastToken)
	}
}

func TestMemoLibraryListFallsBackToCache(t *testing.T) {
	t.Parallel()

	remote := &catalogAPI{listErr: errors.New("offline")}
	cache := &memoryCache{memos: []domain.Memo{{ID: "cached"}}}
	library := NewMemoLibrary(&fakeTokens{token: "tok"}, remote, cache, "", zerolog.Nop())

	memos, stale, err := library.List(context.Background())
	if err != nil {
		t.Fatalf("expected cached fallback, got %v", err)
	}
	if !stale || len(memos) != 1 || memos[0].ID != "cached" {
		t.Fatalf("unexpected fallback: stale=%v memos=%+v", stale, memos)
	}

	empty := NewMemoLibrary(&fakeTokens{token: "tok"}, remote, &memoryCache{}, "", zerolog.Nop())
	if _, _, err := empty.List(context.Background()); err == nil || !strings.Contains(err.Error(), "offline") {
		t.Fatalf("expected api error with empty cache, got %v", err)
	}
}

func TestMemoLibraryRequiresToken(t *testing.T) {
	t.Parallel()

	remote := &catalogAPI{}
	cache := &memoryCache{memos: []domain.Memo{{ID: "previous-user"}}}
	library := NewMemoLibrary(&fakeTokens{}, remote, cache, "", zerolog.Nop())

	err := library.Delete(context.Background(), "a")
	if err == nil || !strings.Contains(err.Error(), MsgNotAuthenticated) {
		t.Fatalf("expected not authenticated, got %v", err)
	}
	if remote.deleted != nil {
		t.Fatalf("expected no request without a token")
	}

	signedOut := NewMemoLibrary(&fakeTokens{err: errors.New("signed out")}, remote, cache, "", zerolog.Nop())
	memos, stale, err := signedOut.List(context.Background())
	if err == nil || !strings.Contains(err.Error(), MsgNotAuthenticated) {
		t.Fatalf("expected not authenticated from list, got %v", err)
	}
	if memos != nil || stale {
		t.Fatalf("expected cached memos withheld without a token, got %d stale=%v", len(memos), stale)
	}
	if remote.lastToken != "" {
		t.Fatalf("expected no list request without a token")
	}
	if len(cache.memos) != 1 {
		t.Fatalf("expected cache untouched, got %d", len(cache.memos))
	}
}

func TestMemoLibraryDeleteAndRemember(t *testing.T) {
	t.Parallel()

	remote := &catalogAPI{}
	cache := &memoryCache{}
	library := NewMemoLibrary(&fakeTokens{token: "tok"}, remote, cache, "", zerolog.Nop())

	library.Remember(context.Background(), domain.Memo{ID: "new"})
	if len(cache.memos) != 1 {
		t.Fatalf("expected remembered memo in cache")
	}

	if err := library.Delete(context.Background(), "new"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if len(remote.deleted) != 1 || remote.deleted[0] != "new" || len(cache.memos) != 0 {
		t.Fatalf("expected remote and cache delete, remote=%v cache=%+v", remote.deleted, cache.memos)
	}

	if err := library.Delete(context.Background(), " "); err == nil {
		t.Fatalf("expected blank id error")
	}
}

func TestMemoLibraryRegister(t *testing.T) {
	t.Parallel()

	remote := &catalogAPI{}
	library := NewMemoLibrary(&fakeTokens{token: "tok"}, remote, &memoryCache{}, "", zerolog.Nop())

	if err := library.Register(context.Background(), "  Ada Ranger "); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	want := domain.Registration{DisplayName: "Ada Ranger", Department: DefaultDepartment}
	if remote.registered != want {
		t.Fatalf("unexpected registration: %+v", remote.registered)
	}

	if err := library.Register(context.Background(), "   "); err == nil {
		t.Fatalf("expected blank display name to be rejected")
	}
}

type catalogAPI struct {
	fakeAPI
	memos      []domain.Memo
	listErr    error
	lastToken  string
	deleted    []string
	registered domain.Registration
}

func (c *catalogAPI) ListMemos(_ context.Context, token string) ([]domain.Memo, error) {
	c.lastToken = token
	return c.memos, c.listErr
}

func (c *catalogAPI) DeleteMemo(_ context.Context, _ string, id string) error {
	c.deleted = append(c.deleted, id)
	return nil
}

func (c *catalogAPI) Register(_ context.Context, _ string, registration domain.Registration) error {
	c.registered = registration
	return nil
}

type memoryCache struct {
	memos []domain.Memo
}

func (m *memoryCache) ReplaceMemos(_ context.Context, memos []domain.Memo) error {
	m.memos = append([]domain.Memo(nil), memos...)
	return nil
}

func (m *memoryCache) UpsertMemo(_ context.Context, memo domain.Memo) error {
	for i := range m.memos {
		if m.memos[i].ID == memo.ID {
			m.memos[i] = memo
			return nil
		}
	}
	m.memos = append(m.memos, memo)
	return nil
}

func (m *memoryCache) DeleteMemo(_ context.Context, id string) error {
	kept := m.memos[:0]
	for _, memo := range m.memos {
		if memo.ID != id {
			kept = append(kept, memo)
		}
	}
	m.memos = kept
	return nil
}

func (m *memoryCache) ListMemos(_ context.Context) ([]domain.Memo, error) {
	return m.memos, nil
}
