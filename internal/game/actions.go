package game

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

var speechReplacer = strings.NewReplacer(
	"@everyone", "im a loser",
	"@here", "i like licking trees",
	"@", "at",
	"<", "&lt;",
	">", "&gt;",
)

// SanitizeMessage neutralizes mass mentions and markup before a message reaches the chat feed.
func SanitizeMessage(message string) string {
	return speechReplacer.Replace(message)
}

func mention(externalID string) string {
	return fmt.Sprintf("<@%s>", externalID)
}

// Move steps the actor onto an adjacent free cell for one action point.
func (e *Engine) Move(ctx context.Context, actorID PawnID, x, y int) (accepted bool, err error) {
	ctx, span := e.startSpan(ctx, opMove, actorID.String())
	defer func() { finishSpan(span, accepted, err) }()

	return e.mutate(ctx, opMove, func(m *mutation) error {
		pawns, err := lockPawns(m.tx, actorID.String())
		if err != nil {
			return newServiceError(opMove, reasonQueryFailed, err)
		}
		actor, ok := pawns[actorID.String()]
		fields := []zap.Field{zap.String("pawn_id", actorID.String()), zap.Int("x", x), zap.Int("y", y)}
		switch {
		case !ok:
			return e.reject(opMove, "actor_not_found", fields...)
		case !actor.Alive():
			return e.reject(opMove, "actor_dead", fields...)
		case !isAdjacent(actor.X, actor.Y, x, y):
			return e.reject(opMove, "not_adjacent", fields...)
		case !e.inBounds(x, y):
			return e.reject(opMove, "out_of_bounds", fields...)
		case actor.Actions < 1:
			return e.reject(opMove, "insufficient_actions", fields...)
		}

		var occupants int64
		if err := m.tx.Model(&Pawn{}).Where("x = ? AND y = ?", x, y).Count(&occupants).Error; err != nil {
			return newServiceError(opMove, reasonQueryFailed, err)
		}
		if occupants > 0 {
			return e.reject(opMove, "cell_occupied", fields...)
		}

		oldX, oldY := actor.X, actor.Y
		actor.X, actor.Y = x, y
		actor.Actions--
		if err := m.savePawn(actor, map[string]interface{}{"x": actor.X, "y": actor.Y, "actions": actor.Actions}); err != nil {
			return newServiceError(opMove, "pawn_update_failed", err)
		}

		if _, err := m.appendEvent(Event{
			ActionByID:   actor.PawnID,
			ActionToID:   actor.PawnID,
			EventText:    fmt.Sprintf("%s moved to %d, %d", actor.DisplayName, x, y),
			OldX:         oldX,
			OldY:         oldY,
			NewX:         x,
			NewY:         y,
			LettuceCount: 1,
			ActionType:   ActionTypeMove,
			ActorName:    actor.DisplayName,
		}); err != nil {
			return err
		}
		m.broadcast(LiveMoveTo, MoveBroadcast{PawnID: actor.PawnID, X: x, Y: y, Actions: actor.Actions})
		return nil
	})
}

// Attack spends one action point to take one health from a pawn in range.
func (e *Engine) Attack(ctx context.Context, actorID, targetID PawnID) (accepted bool, err error) {
	ctx, span := e.startSpan(ctx, opAttack, actorID.String())
	defer func() { finishSpan(span, accepted, err) }()

	return e.mutate(ctx, opAttack, func(m *mutation) error {
		pawns, err := lockPawns(m.tx, actorID.String(), targetID.String())
		if err != nil {
			return newServiceError(opAttack, reasonQueryFailed, err)
		}
		fields := []zap.Field{zap.String("pawn_id", actorID.String()), zap.String("target_id", targetID.String())}
		actor, target, reason := validateInteraction(pawns, actorID, targetID, attackRange)
		if reason != "" {
			return e.reject(opAttack, reason, fields...)
		}

		actor.Actions--
		target.Health--
		if err := m.savePawn(actor, map[string]interface{}{"actions": actor.Actions}); err != nil {
			return newServiceError(opAttack, "pawn_update_failed", err)
		}
		if err := m.savePawn(target, map[string]interface{}{"health": target.Health}); err != nil {
			return newServiceError(opAttack, "pawn_update_failed", err)
		}

		eliminated := !target.Alive()
		verb := "attacked"
		if eliminated {
			verb = "killed"
		}
		if _, err := m.appendEvent(Event{
			ActionByID:   actor.PawnID,
			ActionToID:   target.PawnID,
			EventText:    fmt.Sprintf("%s %s %s", actor.DisplayName, verb, target.DisplayName),
			LettuceCount: 1,
			Died:         eliminated,
			ActionType:   ActionTypeAttack,
			ActorName:    actor.DisplayName,
		}); err != nil {
			return err
		}
		m.broadcast(LiveAttack, AttackBroadcast{AttackerID: actor.PawnID, TargetID: target.PawnID})

		if !eliminated {
			return nil
		}
		return e.resolveElimination(m, actor, target)
	})
}

// resolveElimination notifies the eliminated pawn and its supporters, records the
// killer and announces a winner when only the attacker is left standing.
func (e *Engine) resolveElimination(m *mutation, actor, target *Pawn) error {
	if _, err := m.appendEvent(Event{
		ActionByID: actor.PawnID,
		ActionToID: target.PawnID,
		EventText: fmt.Sprintf("%s You have been killed. You may now vote in the %s to support a living fighter.",
			mention(target.ExternalID), moderatorName),
		ActionType: ActionTypeInternalOnly,
		ActorName:  actor.DisplayName,
	}); err != nil {
		return err
	}

	var supporters []Pawn
	if err := m.tx.Where("vote = ?", target.PawnID).Order("pawn_id ASC").Find(&supporters).Error; err != nil {
		return newServiceError(opAttack, reasonQueryFailed, err)
	}
	if len(supporters) > 0 {
		pings := make([]string, 0, len(supporters))
		supporterIDs := make([]string, 0, len(supporters))
		for _, supporter := range supporters {
			pings = append(pings, mention(supporter.ExternalID))
			supporterIDs = append(supporterIDs, supporter.PawnID)
		}
		if err := m.tx.Model(&Pawn{}).Where("pawn_id IN ?", supporterIDs).Update("vote", nil).Error; err != nil {
			return newServiceError(opAttack, "vote_clear_failed", err)
		}
		if _, err := m.appendEvent(Event{
			ActionByID: actor.PawnID,
			ActionToID: target.PawnID,
			EventText: fmt.Sprintf("%s the fighter you voted for has been killed by %s. Please choose a new fighter to support.",
				strings.Join(pings, ", "), actor.DisplayName),
			ActionType: ActionTypeInternalOnly,
			ActorName:  actor.DisplayName,
		}); err != nil {
			return err
		}
	}

	killedAt := m.nowMs
	killerID := actor.PawnID
	target.KilledByID = &killerID
	target.KilledAtMs = &killedAt
	if err := m.savePawn(target, map[string]interface{}{"killed_by_id": killerID, "killed_at_ms": killedAt}); err != nil {
		return newServiceError(opAttack, "pawn_update_failed", err)
	}

	var survivors int64
	if err := m.tx.Model(&Pawn{}).
		Where("health > 0 AND pawn_id <> ?", ModeratorPawnID).
		Count(&survivors).Error; err != nil {
		return newServiceError(opAttack, reasonQueryFailed, err)
	}
	e.loggerOrDefault().Info("pawn eliminated",
		zap.String("pawn_id", target.PawnID),
		zap.String("killer_id", actor.PawnID),
		zap.Int64("survivors", survivors))
	if survivors != 1 {
		return nil
	}

	if _, err := m.appendEvent(Event{
		ActionByID: actor.PawnID,
		ActionToID: actor.PawnID,
		EventText:  fmt.Sprintf("%s wins the game.", actor.DisplayName),
		ActionType: ActionTypeWinnerAnnounced,
		ActorName:  actor.DisplayName,
	}); err != nil {
		return err
	}
	m.broadcast(LiveWinner, WinnerBroadcast{PawnID: actor.PawnID})
	return nil
}

// Gift hands one action point to a living pawn in range.
func (e *Engine) Gift(ctx context.Context, actorID, targetID PawnID) (accepted bool, err error) {
	ctx, span := e.startSpan(ctx, opGift, actorID.String())
	defer func() { finishSpan(span, accepted, err) }()

	return e.mutate(ctx, opGift, func(m *mutation) error {
		pawns, err := lockPawns(m.tx, actorID.String(), targetID.String())
		if err != nil {
			return newServiceError(opGift, reasonQueryFailed, err)
		}
		fields := []zap.Field{zap.String("pawn_id", actorID.String()), zap.String("target_id", targetID.String())}
		actor, target, reason := validateInteraction(pawns, actorID, targetID, giftRange)
		if reason != "" {
			return e.reject(opGift, reason, fields...)
		}

		actor.Actions--
		target.Actions++
		if err := m.savePawn(actor, map[string]interface{}{"actions": actor.Actions}); err != nil {
			return newServiceError(opGift, "pawn_update_failed", err)
		}
		if err := m.savePawn(target, map[string]interface{}{"actions": target.Actions}); err != nil {
			return newServiceError(opGift, "pawn_update_failed", err)
		}

		if _, err := m.appendEvent(Event{
			ActionByID:   actor.PawnID,
			ActionToID:   target.PawnID,
			EventText:    fmt.Sprintf("%s gave lettuce to %s", actor.DisplayName, target.DisplayName),
			LettuceCount: 1,
			ActionType:   ActionTypeGift,
			ActorName:    actor.DisplayName,
		}); err != nil {
			return err
		}
		m.broadcast(LiveGift, GiftBroadcast{FromID: actor.PawnID, ToID: target.PawnID, Amount: 1})
		return nil
	})
}

// validateInteraction applies the shared attack/gift rules and returns a rejection reason.
func validateInteraction(pawns map[string]*Pawn, actorID, targetID PawnID, maxDistance float64) (*Pawn, *Pawn, string) {
	actor, ok := pawns[actorID.String()]
	if !ok {
		return nil, nil, "actor_not_found"
	}
	target, ok := pawns[targetID.String()]
	if !ok {
		return nil, nil, "target_not_found"
	}
	switch {
	case target.PawnID == actor.PawnID:
		return nil, nil, "self_target"
	case !target.Alive():
		return nil, nil, "target_dead"
	case !actor.Alive():
		return nil, nil, "actor_dead"
	case actor.Actions < 1:
		return nil, nil, "insufficient_actions"
	case distance(actor, target) > maxDistance:
		return nil, nil, "out_of_range"
	}
	return actor, target, ""
}

// Speak posts a sanitized message from a living pawn.
func (e *Engine) Speak(ctx context.Context, actorID PawnID, message string) (accepted bool, err error) {
	ctx, span := e.startSpan(ctx, opSpeak, actorID.String())
	defer func() { finishSpan(span, accepted, err) }()

	return e.mutate(ctx, opSpeak, func(m *mutation) error {
		pawns, err := lockPawns(m.tx, actorID.String())
		if err != nil {
			return newServiceError(opSpeak, reasonQueryFailed, err)
		}
		actor, ok := pawns[actorID.String()]
		if !ok {
			return e.reject(opSpeak, "actor_not_found", zap.String("pawn_id", actorID.String()))
		}
		if !actor.Alive() {
			return e.reject(opSpeak, "actor_dead", zap.String("pawn_id", actorID.String()))
		}

		sanitized := SanitizeMessage(message)
		if _, err := m.appendEvent(Event{
			ActionByID: actor.PawnID,
			ActionToID: actor.PawnID,
			EventText:  fmt.Sprintf("%s says \"%s\"", actor.DisplayName, sanitized),
			ActionType: ActionTypeSpeak,
			ActorName:  actor.DisplayName,
		}); err != nil {
			return err
		}
		m.broadcast(LiveSpeak, SpeakBroadcast{PawnID: actor.PawnID, Message: sanitized})
		return nil
	})
}

// Vote records an eliminated pawn's support for a living one. The ballot stays
// private until the next drop tallies it.
func (e *Engine) Vote(ctx context.Context, voterID, voteeID PawnID) (accepted bool, err error) {
	ctx, span := e.startSpan(ctx, opVote, voterID.String())
	defer func() { finishSpan(span, accepted, err) }()

	return e.mutate(ctx, opVote, func(m *mutation) error {
		pawns, err := lockPawns(m.tx, voterID.String(), voteeID.String())
		if err != nil {
			return newServiceError(opVote, reasonQueryFailed, err)
		}
		fields := []zap.Field{zap.String("pawn_id", voterID.String()), zap.String("votee_id", voteeID.String())}
		voter, ok := pawns[voterID.String()]
		if !ok {
			return e.reject(opVote, "voter_not_found", fields...)
		}
		votee, ok := pawns[voteeID.String()]
		switch {
		case !ok:
			return e.reject(opVote, "votee_not_found", fields...)
		case voter.Alive():
			return e.reject(opVote, "voter_alive", fields...)
		case !votee.Alive():
			return e.reject(opVote, "votee_dead", fields...)
		}

		if err := m.savePawn(voter, map[string]interface{}{"vote": votee.PawnID}); err != nil {
			return newServiceError(opVote, "pawn_update_failed", err)
		}
		return nil
	})
}
