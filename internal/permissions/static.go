// Package permissions answers capability requests from configured grants. Desktop
// platforms have no runtime prompt for these capabilities.
package permissions

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"trailmemo/internal/ports"
)

// Grants lists which capabilities the operator allowed.
type Grants struct {
	Microphone bool
	Speech     bool
	Location   bool
}

// Static implements ports.Permissions from Grants.
type Static struct {
	grants Grants
	log    zerolog.Logger
}

func NewStatic(grants Grants, log zerolog.Logger) *Static {
	return &Static{grants: grants, log: log.With().Str("component", "permissions").Logger()}
}

func (s *Static) Request(ctx context.Context, permission ports.Permission) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var granted bool
	switch permission {
	case ports.PermissionMicrophone:
		granted = s.grants.Microphone
	case ports.PermissionSpeech:
		granted = s.grants.Speech
	case ports.PermissionLocation:
		granted = s.grants.Location
	default:
		return false, fmt.Errorf("unknown permission %q", permission)
	}
	if !granted {
		s.log.Info().Str("permission", string(permission)).Msg("permission denied by configuration")
	}
	return granted, nil
}
