package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/MarcoPoloResearchLab/lettuce/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/lettuce/backend/internal/game"
	"go.uber.org/zap"
)

var (
	// ErrInvalidIdentity indicates the claims did not contain a usable account id.
	ErrInvalidIdentity = errors.New("identity: invalid identity")
	// ErrNotPlayer indicates the account has no pawn and registration is closed.
	ErrNotPlayer = errors.New("identity: only players may log in")
)

// PawnDirectory is the roster access identity resolution needs.
type PawnDirectory interface {
	FindPawnByExternalID(ctx context.Context, externalID string) (game.Pawn, bool, error)
	CountPawns(ctx context.Context) (int64, error)
	RegisterPawn(ctx context.Context, registration game.PawnRegistration) (game.Pawn, error)
	UpdateProfile(ctx context.Context, pawnID game.PawnID, displayName, avatarURL string) error
}

// ServiceConfig describes the dependencies required for identity resolution.
type ServiceConfig struct {
	Directory PawnDirectory
	Logger    *zap.Logger
}

// Service maps session claims onto pawns.
type Service struct {
	directory  PawnDirectory
	logger     *zap.Logger
	cache      sync.Map
	registerMu sync.Mutex
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Directory == nil {
		return nil, fmt.Errorf("identity: pawn directory required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		directory: cfg.Directory,
		logger:    logger,
	}, nil
}

// ResolvePawnID returns the pawn owned by the session's account. The very first account
// to log in while only the moderator exists becomes an administrator pawn; any other
// unknown account is refused with ErrNotPlayer.
func (s *Service) ResolvePawnID(ctx context.Context, claims auth.SessionClaims) (game.PawnID, error) {
	externalID := deriveExternalID(claims)
	if externalID == "" {
		return "", ErrInvalidIdentity
	}
	if cached, ok := s.cache.Load(externalID); ok {
		if pawnID, ok := cached.(game.PawnID); ok {
			return pawnID, nil
		}
	}

	pawn, found, err := s.directory.FindPawnByExternalID(ctx, externalID)
	if err != nil {
		return "", err
	}
	if found {
		if err := s.directory.UpdateProfile(ctx, game.PawnID(pawn.PawnID), normalize(claims.UserDisplayName), normalize(claims.UserAvatarURL)); err != nil {
			s.logger.Warn("profile refresh failed", zap.String("pawn_id", pawn.PawnID), zap.Error(err))
		}
	} else {
		pawn, err = s.registerFirstPlayer(ctx, externalID, claims)
		if err != nil {
			return "", err
		}
	}

	pawnID := game.PawnID(pawn.PawnID)
	s.cache.Store(externalID, pawnID)
	return pawnID, nil
}

// ForgetPawn drops cached mappings that point at pawnID.
func (s *Service) ForgetPawn(pawnID game.PawnID) {
	s.cache.Range(func(key, value interface{}) bool {
		if cached, ok := value.(game.PawnID); ok && cached == pawnID {
			s.cache.Delete(key)
		}
		return true
	})
}

func (s *Service) registerFirstPlayer(ctx context.Context, externalID string, claims auth.SessionClaims) (game.Pawn, error) {
	s.registerMu.Lock()
	defer s.registerMu.Unlock()

	pawn, found, err := s.directory.FindPawnByExternalID(ctx, externalID)
	if err != nil {
		return game.Pawn{}, err
	}
	if found {
		return pawn, nil
	}
	count, err := s.directory.CountPawns(ctx)
	if err != nil {
		return game.Pawn{}, err
	}
	if count > 1 {
		s.logger.Info("login refused for unknown account", zap.String("external_id", externalID))
		return game.Pawn{}, ErrNotPlayer
	}

	displayName := normalize(claims.UserDisplayName)
	if displayName == "" {
		displayName = externalID
	}
	pawn, err = s.directory.RegisterPawn(ctx, game.PawnRegistration{
		ExternalID:  externalID,
		DisplayName: displayName,
		AvatarURL:   normalize(claims.UserAvatarURL),
		Admin:       true,
	})
	if err != nil {
		return game.Pawn{}, err
	}
	s.logger.Info("first player registered as admin",
		zap.String("pawn_id", pawn.PawnID),
		zap.String("external_id", externalID))
	return pawn, nil
}

// deriveExternalID accepts both bare account ids and "<provider>:<id>" forms.
func deriveExternalID(claims auth.SessionClaims) string {
	raw := normalize(claims.UserID)
	if raw == "" {
		raw = normalize(claims.Subject)
	}
	if strings.Contains(raw, ":") {
		segments := strings.SplitN(raw, ":", 2)
		if normalize(segments[0]) != "" && normalize(segments[1]) != "" {
			return normalize(segments[1])
		}
	}
	return raw
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
