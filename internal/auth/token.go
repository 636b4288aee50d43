// Package auth supplies bearer tokens for the memo API.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// ErrNotAuthenticated is returned when no usable token is available.
var ErrNotAuthenticated = errors.New("not authenticated")

const defaultLeeway = 30 * time.Second

// Options select where the token comes from. A token file wins over a static token and is
// re-read on every call so an external sign-in helper can refresh it.
type Options struct {
	Token     string
	TokenFile string
	// Leeway treats tokens expiring within this window as already expired.
	Leeway time.Duration
}

// Identity is what the token says about the signed-in user.
type Identity struct {
	Subject   string
	Name      string
	ExpiresAt time.Time
}

type claims struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

// Source implements ports.TokenSource. Signatures are verified by the API, not here; the
// claims are only read to avoid sending a token that has already expired.
type Source struct {
	opts   Options
	parser *jwt.Parser
	now    func() time.Time
	log    zerolog.Logger
}

func NewSource(opts Options, log zerolog.Logger) *Source {
	if opts.Leeway <= 0 {
		opts.Leeway = defaultLeeway
	}
	return &Source{
		opts:   opts,
		parser: jwt.NewParser(),
		now:    time.Now,
		log:    log.With().Str("component", "auth").Logger(),
	}
}

func (s *Source) Token(ctx context.Context) (string, error) {
	token, _, err := s.load(ctx)
	return token, err
}

// Identity returns the claims of the current token. Opaque tokens yield an empty Identity.
func (s *Source) Identity(ctx context.Context) (Identity, error) {
	_, identity, err := s.load(ctx)
	return identity, err
}

func (s *Source) load(ctx context.Context) (string, Identity, error) {
	if err := ctx.Err(); err != nil {
		return "", Identity{}, err
	}

	token := strings.TrimSpace(s.opts.Token)
	if path := strings.TrimSpace(s.opts.TokenFile); path != "" {
		contents, err := os.ReadFile(path)
		if err != nil {
			return "", Identity{}, fmt.Errorf("%w: read token file: %v", ErrNotAuthenticated, err)
		}
		token = strings.TrimSpace(string(contents))
	}
	token = strings.TrimPrefix(token, "Bearer ")
	if token == "" {
		return "", Identity{}, ErrNotAuthenticated
	}

	if strings.Count(token, ".") != 2 {
		return token, Identity{}, nil
	}

	var parsed claims
	if _, _, err := s.parser.ParseUnverified(token, &parsed); err != nil {
		s.log.Debug().Err(err).Msg("token is not a readable JWT; sending as-is")
		return token, Identity{}, nil
	}

	identity := Identity{Subject: parsed.Subject, Name: parsed.Name}
	if parsed.ExpiresAt != nil {
		identity.ExpiresAt = parsed.ExpiresAt.Time
		if !identity.ExpiresAt.After(s.now().Add(s.opts.Leeway)) {
			return "", identity, fmt.Errorf("%w: token expired at %s", ErrNotAuthenticated, identity.ExpiresAt.UTC().Format(time.RFC3339))
		}
	}
	return token, identity, nil
}
