package roster

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/MarcoPoloResearchLab/lettuce/backend/internal/game"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type File struct {
	Version int      `yaml:"version"`
	Players []Player `yaml:"players"`
}

type Player struct {
	ExternalID  string `yaml:"external_id"`
	DisplayName string `yaml:"display_name"`
	AvatarURL   string `yaml:"avatar_url"`
	Admin       bool   `yaml:"admin"`
}

// Registrar adds pawns to the game.
type Registrar interface {
	RegisterPawn(ctx context.Context, registration game.PawnRegistration) (game.Pawn, error)
}

// Result summarizes a seeding run.
type Result struct {
	Registered int
	Skipped    int
}

func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading roster: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*File, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("loading roster: %w", err)
	}
	if err := validate(&file); err != nil {
		return nil, fmt.Errorf("loading roster: %w", err)
	}
	return &file, nil
}

func validate(file *File) error {
	if file.Version != 1 {
		return fmt.Errorf("unsupported version: %d", file.Version)
	}
	if len(file.Players) == 0 {
		return fmt.Errorf("at least one player is required")
	}

	seen := make(map[string]struct{})
	for i, player := range file.Players {
		externalID := strings.TrimSpace(player.ExternalID)
		if externalID == "" {
			return fmt.Errorf("player %d external_id is required", i)
		}
		if strings.TrimSpace(player.DisplayName) == "" {
			return fmt.Errorf("player %d display_name is required", i)
		}
		if externalID == game.ModeratorPawnID {
			return fmt.Errorf("player %d uses the reserved moderator id", i)
		}
		if _, exists := seen[externalID]; exists {
			return fmt.Errorf("duplicate external_id: %s", externalID)
		}
		seen[externalID] = struct{}{}
	}
	return nil
}

// Seed registers every player not yet on the board. Players already present are skipped.
func Seed(ctx context.Context, registrar Registrar, file *File, logger *zap.Logger) (Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var result Result
	for _, player := range file.Players {
		pawn, err := registrar.RegisterPawn(ctx, game.PawnRegistration{
			ExternalID:  player.ExternalID,
			DisplayName: player.DisplayName,
			AvatarURL:   player.AvatarURL,
			Admin:       player.Admin,
		})
		if errors.Is(err, game.ErrDuplicateExternalID) {
			result.Skipped++
			logger.Info("roster player already registered", zap.String("external_id", player.ExternalID))
			continue
		}
		if err != nil {
			return result, fmt.Errorf("seeding %s: %w", player.ExternalID, err)
		}
		result.Registered++
		logger.Info("roster player registered",
			zap.String("external_id", player.ExternalID),
			zap.String("pawn_id", pawn.PawnID))
	}
	return result, nil
}
