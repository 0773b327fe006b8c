package roster

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/lettuce/backend/internal/game"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

const sampleRoster = `
version: 1
players:
  - external_id: "1001"
    display_name: Alice
    avatar_url: https://cdn.example/alice.png
    admin: true
  - external_id: "1002"
    display_name: Bob
`

func TestLoadParsesRosterFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roster.yaml")
	if err := os.WriteFile(path, []byte(sampleRoster), 0o600); err != nil {
		t.Fatalf("failed to write roster: %v", err)
	}
	file, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(file.Players) != 2 {
		t.Fatalf("expected 2 players, got %d", len(file.Players))
	}
	if !file.Players[0].Admin || file.Players[0].AvatarURL != "https://cdn.example/alice.png" {
		t.Fatalf("unexpected first player %+v", file.Players[0])
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected missing file error")
	}
}

func TestParseValidatesRoster(t *testing.T) {
	tests := []struct {
		name    string
		content string
		message string
	}{
		{name: "version", content: "version: 2\nplayers:\n  - {external_id: a, display_name: A}\n", message: "unsupported version"},
		{name: "empty", content: "version: 1\nplayers: []\n", message: "at least one player"},
		{name: "missing-id", content: "version: 1\nplayers:\n  - {display_name: A}\n", message: "external_id is required"},
		{name: "missing-name", content: "version: 1\nplayers:\n  - {external_id: a}\n", message: "display_name is required"},
		{name: "duplicate", content: "version: 1\nplayers:\n  - {external_id: a, display_name: A}\n  - {external_id: a, display_name: B}\n", message: "duplicate external_id"},
		{name: "moderator", content: "version: 1\nplayers:\n  - {external_id: ffffffff-ffff-ffff-ffff-ffffffffffff, display_name: A}\n", message: "reserved moderator id"},
		{name: "syntax", content: "version: [", message: "loading roster"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.content))
			if err == nil || !strings.Contains(err.Error(), tc.message) {
				t.Fatalf("expected error containing %q, got %v", tc.message, err)
			}
		})
	}
}

func TestSeedRegistersNewPlayersOnly(t *testing.T) {
	dsn := fmt.Sprintf("file:lettuce_roster_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(game.Models()...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	engine, err := game.NewEngine(game.EngineConfig{
		Database:   db,
		GridWidth:  35,
		GridHeight: 25,
		IDProvider: game.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to construct engine: %v", err)
	}
	file, err := Parse([]byte(sampleRoster))
	if err != nil {
		t.Fatalf("failed to parse roster: %v", err)
	}
	ctx := context.Background()

	first, err := Seed(ctx, engine, file, nil)
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if first.Registered != 2 || first.Skipped != 0 {
		t.Fatalf("unexpected first result %+v", first)
	}
	second, err := Seed(ctx, engine, file, nil)
	if err != nil {
		t.Fatalf("second seed failed: %v", err)
	}
	if second.Registered != 0 || second.Skipped != 2 {
		t.Fatalf("unexpected second result %+v", second)
	}

	alice, found, err := engine.FindPawnByExternalID(ctx, "1001")
	if err != nil || !found {
		t.Fatalf("expected Alice to be registered, got %v %v", found, err)
	}
	if !alice.IsAdmin || alice.Health != 3 || alice.Actions != 0 {
		t.Fatalf("unexpected Alice pawn %+v", alice)
	}
}
