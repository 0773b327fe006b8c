package game

import (
	"context"
	"fmt"
	"testing"
)

func TestListEventsNewestFirstCappedAtFifty(t *testing.T) {
	harness := newTestEngine(t)
	seedPawn(t, harness.db, Pawn{PawnID: "pawn-a", DisplayName: "Alice", X: 0, Y: 0, Health: 3, Actions: 5})
	seedPawn(t, harness.db, Pawn{PawnID: "pawn-b", DisplayName: "Bob", X: 1, Y: 0, Health: 1})
	ctx := context.Background()

	for index := 0; index < 60; index++ {
		if accepted, err := harness.engine.Speak(ctx, PawnID("pawn-a"), fmt.Sprintf("message %d", index)); err != nil || !accepted {
			t.Fatalf("speak %d failed: %v %v", index, accepted, err)
		}
	}
	if accepted, err := harness.engine.Attack(ctx, PawnID("pawn-a"), PawnID("pawn-b")); err != nil || !accepted {
		t.Fatalf("attack failed: %v %v", accepted, err)
	}

	events, err := harness.engine.ListEvents(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != EventFeedSize {
		t.Fatalf("expected %d events, got %d", EventFeedSize, len(events))
	}
	for index, event := range events {
		if event.ActionType == ActionTypeInternalOnly {
			t.Fatalf("internal event leaked into the feed at %d", index)
		}
		if index > 0 && event.TimestampMs > events[index-1].TimestampMs {
			t.Fatalf("feed not ordered newest first at %d", index)
		}
	}
	// The kill, its notice and the winner share one timestamp; ids keep creation order.
	if events[0].ActionType != ActionTypeWinnerAnnounced {
		t.Fatalf("expected winner announcement first, got %s", events[0].ActionType)
	}
	if events[1].ActionType != ActionTypeAttack || events[1].EventText != "Alice killed Bob" {
		t.Fatalf("expected kill second, got %+v", events[1])
	}
	if events[2].EventText != `Alice says "message 59"` {
		t.Fatalf("expected latest speech third, got %q", events[2].EventText)
	}

	var stored int64
	if err := harness.db.Model(&Event{}).Where("action_type = ?", ActionTypeInternalOnly).Count(&stored).Error; err != nil {
		t.Fatalf("failed to count internal events: %v", err)
	}
	if stored != 1 {
		t.Fatalf("expected the internal notice to be persisted, got %d", stored)
	}
}

func TestVoteHistoryGroupsBatches(t *testing.T) {
	harness := newTestEngine(t)
	seedPawn(t, harness.db, Pawn{PawnID: "pawn-a", DisplayName: "Alice", X: 0, Y: 0, Health: 3, Color: 0x102030})
	seedPawn(t, harness.db, Pawn{PawnID: "pawn-b", DisplayName: "Bob", X: 5, Y: 0, Health: 3, Color: 0xFF0001})
	seedPawn(t, harness.db, Pawn{PawnID: "pawn-d", X: 10, Y: 10, Health: 0})
	seedPawn(t, harness.db, Pawn{PawnID: "pawn-e", X: 11, Y: 10, Health: 0})
	seedPawn(t, harness.db, Pawn{PawnID: "pawn-f", X: 12, Y: 10, Health: 0})
	ctx := context.Background()

	empty, err := harness.engine.VoteHistory(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected no batches, got %d", len(empty))
	}

	for _, voter := range []string{"pawn-d", "pawn-e"} {
		if accepted, err := harness.engine.Vote(ctx, PawnID(voter), PawnID("pawn-a")); err != nil || !accepted {
			t.Fatalf("vote failed: %v %v", accepted, err)
		}
	}
	if err := harness.engine.RunDrop(ctx); err != nil {
		t.Fatalf("first drop failed: %v", err)
	}
	if accepted, err := harness.engine.Vote(ctx, PawnID("pawn-f"), PawnID("pawn-b")); err != nil || !accepted {
		t.Fatalf("vote failed: %v %v", accepted, err)
	}
	if err := harness.engine.RunDrop(ctx); err != nil {
		t.Fatalf("second drop failed: %v", err)
	}

	history, err := harness.engine.VoteHistory(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected two batches, got %d", len(history))
	}
	latest := history[0]
	if latest.TimestampMs <= history[1].TimestampMs {
		t.Fatalf("expected newest batch first")
	}
	alice, ok := latest.Votes["Alice"]
	if !ok || alice.Votes != 2 {
		t.Fatalf("expected two retallied votes for Alice, got %+v", latest.Votes)
	}
	if alice.Color1 != "rgba(16, 32, 48, 0.2)" || alice.Color2 != "rgb(16, 32, 48)" {
		t.Fatalf("unexpected colors %+v", alice)
	}
	bob, ok := latest.Votes["Bob"]
	if !ok || bob.Votes != 1 || bob.Color2 != "rgb(255, 0, 1)" {
		t.Fatalf("unexpected Bob tally %+v", bob)
	}
	if _, ok := history[1].Votes["Bob"]; ok {
		t.Fatalf("first batch must not include Bob")
	}
}

func TestRecordPlayerCountAndProfiles(t *testing.T) {
	harness := newTestEngine(t)
	seedPawn(t, harness.db, Pawn{PawnID: "pawn-a", ExternalID: "9001", DisplayName: "Alice", Health: 3})
	ctx := context.Background()

	if err := harness.engine.RecordPlayerCount(ctx, 7); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var sample PlayerCountLog
	if err := harness.db.First(&sample).Error; err != nil {
		t.Fatalf("failed to load sample: %v", err)
	}
	if sample.PlayersOnline != 7 || sample.TimestampMs == 0 {
		t.Fatalf("unexpected sample %+v", sample)
	}

	if err := harness.engine.UpdateProfile(ctx, PawnID("pawn-a"), "Alicia", "https://cdn.example/a.png"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pawn, found, err := harness.engine.FindPawnByExternalID(ctx, "9001")
	if err != nil || !found {
		t.Fatalf("expected pawn lookup to succeed, got %v %v", found, err)
	}
	if pawn.DisplayName != "Alicia" || pawn.AvatarURL != "https://cdn.example/a.png" {
		t.Fatalf("unexpected profile %+v", pawn)
	}

	count, err := harness.engine.CountPawns(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected moderator and one pawn, got %d", count)
	}
}
