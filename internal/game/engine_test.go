package game

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type sequentialIDs struct {
	mu   sync.Mutex
	next int
}

func (s *sequentialIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return fmt.Sprintf("id-%06d", s.next), nil
}

type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

type recordedBroadcast struct {
	messageType string
	payload     interface{}
}

type recordingNotifier struct {
	mu         sync.Mutex
	events     []Event
	broadcasts []recordedBroadcast
}

func (r *recordingNotifier) Dispatch(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingNotifier) Broadcast(messageType string, payload interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcasts = append(r.broadcasts, recordedBroadcast{messageType: messageType, payload: payload})
}

func (r *recordingNotifier) eventsOfType(actionType ActionType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []Event
	for _, event := range r.events {
		if event.ActionType == actionType {
			matched = append(matched, event)
		}
	}
	return matched
}

func (r *recordingNotifier) broadcastsOfType(messageType string) []recordedBroadcast {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []recordedBroadcast
	for _, item := range r.broadcasts {
		if item.messageType == messageType {
			matched = append(matched, item)
		}
	}
	return matched
}

type testHarness struct {
	engine   *Engine
	db       *gorm.DB
	notifier *recordingNotifier
}

func newTestEngine(t *testing.T) testHarness {
	t.Helper()

	dsn := fmt.Sprintf("file:lettuce_game_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(Models()...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	moderator := NewModeratorPawn(25)
	if err := db.Create(&moderator).Error; err != nil {
		t.Fatalf("failed to seed moderator: %v", err)
	}

	notifier := &recordingNotifier{}
	clock := &steppingClock{now: time.UnixMilli(1700000000000).UTC()}
	engine, err := NewEngine(EngineConfig{
		Database:   db,
		GridWidth:  35,
		GridHeight: 25,
		Clock:      clock.Now,
		IDProvider: &sequentialIDs{},
		Notifier:   notifier,
		Random:     rand.New(rand.NewPCG(1, 2)),
	})
	if err != nil {
		t.Fatalf("failed to construct engine: %v", err)
	}
	return testHarness{engine: engine, db: db, notifier: notifier}
}

func seedPawn(t *testing.T, db *gorm.DB, pawn Pawn) Pawn {
	t.Helper()
	if pawn.ExternalID == "" {
		pawn.ExternalID = "ext-" + pawn.PawnID
	}
	if pawn.DisplayName == "" {
		pawn.DisplayName = pawn.PawnID
	}
	dead := pawn.Health == 0
	if err := db.Create(&pawn).Error; err != nil {
		t.Fatalf("failed to seed pawn %s: %v", pawn.PawnID, err)
	}
	if dead {
		// gorm skips zero values that carry a column default.
		if err := db.Model(&Pawn{}).Where("pawn_id = ?", pawn.PawnID).Update("health", 0).Error; err != nil {
			t.Fatalf("failed to mark pawn %s dead: %v", pawn.PawnID, err)
		}
		pawn.Health = 0
	}
	return pawn
}

func loadPawn(t *testing.T, db *gorm.DB, pawnID string) Pawn {
	t.Helper()
	var pawn Pawn
	if err := db.Where("pawn_id = ?", pawnID).Take(&pawn).Error; err != nil {
		t.Fatalf("failed to load pawn %s: %v", pawnID, err)
	}
	return pawn
}

func countEvents(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var count int64
	if err := db.Model(&Event{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count events: %v", err)
	}
	return count
}

func TestNewEngineValidatesConfig(t *testing.T) {
	if _, err := NewEngine(EngineConfig{IDProvider: &sequentialIDs{}, GridWidth: 1, GridHeight: 1}); err == nil {
		t.Fatalf("expected missing database error")
	}
	harness := newTestEngine(t)
	if _, err := NewEngine(EngineConfig{Database: harness.db, GridWidth: 1, GridHeight: 1}); err == nil {
		t.Fatalf("expected missing id provider error")
	}
	if _, err := NewEngine(EngineConfig{Database: harness.db, IDProvider: &sequentialIDs{}}); err == nil {
		t.Fatalf("expected invalid grid error")
	}
}

func TestMoveAppliesStep(t *testing.T) {
	harness := newTestEngine(t)
	seedPawn(t, harness.db, Pawn{PawnID: "pawn-a", DisplayName: "Alice", X: 3, Y: 3, Health: 3, Actions: 2})

	accepted, err := harness.engine.Move(context.Background(), PawnID("pawn-a"), 4, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !accepted {
		t.Fatalf("expected move to be accepted")
	}

	stored := loadPawn(t, harness.db, "pawn-a")
	if stored.X != 4 || stored.Y != 4 {
		t.Fatalf("expected pawn at 4,4, got %d,%d", stored.X, stored.Y)
	}
	if stored.Actions != 1 {
		t.Fatalf("expected 1 action left, got %d", stored.Actions)
	}

	moves := harness.notifier.eventsOfType(ActionTypeMove)
	if len(moves) != 1 {
		t.Fatalf("expected one move event, got %d", len(moves))
	}
	if moves[0].EventText != "Alice moved to 4, 4" {
		t.Fatalf("unexpected event text %q", moves[0].EventText)
	}
	if moves[0].OldX != 3 || moves[0].OldY != 3 || moves[0].NewX != 4 || moves[0].NewY != 4 {
		t.Fatalf("unexpected coordinates %+v", moves[0])
	}
	if moves[0].ActorName != "Alice" {
		t.Fatalf("expected actor name on dispatched event")
	}

	broadcasts := harness.notifier.broadcastsOfType(LiveMoveTo)
	if len(broadcasts) != 1 {
		t.Fatalf("expected one move_to broadcast, got %d", len(broadcasts))
	}
	payload, ok := broadcasts[0].payload.(MoveBroadcast)
	if !ok {
		t.Fatalf("unexpected payload type %T", broadcasts[0].payload)
	}
	if payload.PawnID != "pawn-a" || payload.X != 4 || payload.Y != 4 || payload.Actions != 1 {
		t.Fatalf("unexpected move payload %+v", payload)
	}
}

func TestMoveRejections(t *testing.T) {
	tests := []struct {
		name  string
		actor Pawn
		x     int
		y     int
	}{
		{name: "dead", actor: Pawn{PawnID: "pawn-a", X: 3, Y: 3, Health: 0, Actions: 2}, x: 4, y: 3},
		{name: "two-steps-x", actor: Pawn{PawnID: "pawn-a", X: 3, Y: 3, Health: 3, Actions: 2}, x: 5, y: 3},
		{name: "two-steps-y", actor: Pawn{PawnID: "pawn-a", X: 3, Y: 3, Health: 3, Actions: 2}, x: 3, y: 1},
		{name: "out-of-bounds", actor: Pawn{PawnID: "pawn-a", X: 0, Y: 0, Health: 3, Actions: 2}, x: -1, y: 0},
		{name: "past-right-edge", actor: Pawn{PawnID: "pawn-a", X: 34, Y: 24, Health: 3, Actions: 2}, x: 35, y: 24},
		{name: "no-points", actor: Pawn{PawnID: "pawn-a", X: 3, Y: 3, Health: 3, Actions: 0}, x: 4, y: 3},
		{name: "occupied", actor: Pawn{PawnID: "pawn-a", X: 3, Y: 3, Health: 3, Actions: 2}, x: 2, y: 2},
		{name: "same-cell", actor: Pawn{PawnID: "pawn-a", X: 3, Y: 3, Health: 3, Actions: 2}, x: 3, y: 3},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			harness := newTestEngine(t)
			seedPawn(t, harness.db, tc.actor)
			seedPawn(t, harness.db, Pawn{PawnID: "pawn-b", X: 2, Y: 2, Health: 3})

			accepted, err := harness.engine.Move(context.Background(), PawnID(tc.actor.PawnID), tc.x, tc.y)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if accepted {
				t.Fatalf("expected move to be rejected")
			}
			stored := loadPawn(t, harness.db, tc.actor.PawnID)
			if stored.X != tc.actor.X || stored.Y != tc.actor.Y || stored.Actions != tc.actor.Actions {
				t.Fatalf("rejected move mutated pawn: %+v", stored)
			}
			if count := countEvents(t, harness.db); count != 0 {
				t.Fatalf("expected no events, got %d", count)
			}
			if len(harness.notifier.broadcasts) != 0 {
				t.Fatalf("expected no broadcasts")
			}
		})
	}
}

func TestMoveRejectsUnknownPawn(t *testing.T) {
	harness := newTestEngine(t)
	accepted, err := harness.engine.Move(context.Background(), PawnID("missing"), 1, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if accepted {
		t.Fatalf("expected move by unknown pawn to be rejected")
	}
}

func TestConcurrentMovesIntoSameCell(t *testing.T) {
	for attempt := 0; attempt < 5; attempt++ {
		harness := newTestEngine(t)
		seedPawn(t, harness.db, Pawn{PawnID: "pawn-a", X: 1, Y: 1, Health: 3, Actions: 1})
		seedPawn(t, harness.db, Pawn{PawnID: "pawn-b", X: 3, Y: 1, Health: 3, Actions: 1})

		results := make([]bool, 2)
		errs := make([]error, 2)
		var wg sync.WaitGroup
		for index, pawnID := range []string{"pawn-a", "pawn-b"} {
			wg.Add(1)
			go func(index int, pawnID string) {
				defer wg.Done()
				results[index], errs[index] = harness.engine.Move(context.Background(), PawnID(pawnID), 2, 1)
			}(index, pawnID)
		}
		wg.Wait()

		for _, err := range errs {
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if results[0] == results[1] {
			t.Fatalf("expected exactly one move to win, got %v", results)
		}
		var occupants int64
		if err := harness.db.Model(&Pawn{}).Where("x = ? AND y = ?", 2, 1).Count(&occupants).Error; err != nil {
			t.Fatalf("failed to count occupants: %v", err)
		}
		if occupants != 1 {
			t.Fatalf("expected one occupant, got %d", occupants)
		}
	}
}
