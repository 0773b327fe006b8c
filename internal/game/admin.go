package game

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PawnRegistration describes a pawn joining the roster.
type PawnRegistration struct {
	ExternalID  string
	DisplayName string
	AvatarURL   string
	Admin       bool
}

// RegisterPawn places a new pawn on a random free cell with full health and no points.
func (e *Engine) RegisterPawn(ctx context.Context, registration PawnRegistration) (Pawn, error) {
	var created Pawn
	_, err := e.mutate(ctx, opRegister, func(m *mutation) error {
		pawn, err := e.createPawn(m, registration)
		if err != nil {
			return err
		}
		created = pawn
		return nil
	})
	if err != nil {
		return Pawn{}, err
	}
	return created, nil
}

func (e *Engine) createPawn(m *mutation, registration PawnRegistration) (Pawn, error) {
	externalID := strings.TrimSpace(registration.ExternalID)
	displayName := strings.TrimSpace(registration.DisplayName)
	if externalID == "" || displayName == "" {
		return Pawn{}, newServiceError(opRegister, "invalid_registration", errors.New("external id and display name are required"))
	}

	var existing int64
	if err := m.tx.Model(&Pawn{}).Where("external_id = ?", externalID).Count(&existing).Error; err != nil {
		return Pawn{}, newServiceError(opRegister, reasonQueryFailed, err)
	}
	if existing > 0 {
		return Pawn{}, ErrDuplicateExternalID
	}

	occupied, err := occupiedCells(m.tx)
	if err != nil {
		return Pawn{}, newServiceError(opRegister, reasonQueryFailed, err)
	}
	x, y, ok := e.randomFreeCell(occupied)
	if !ok {
		return Pawn{}, ErrGridFull
	}

	pawnID, err := e.idProvider.NewID()
	if err != nil {
		return Pawn{}, newServiceError(opRegister, reasonIDGeneration, err)
	}
	pawn := Pawn{
		PawnID:      pawnID,
		ExternalID:  externalID,
		DisplayName: displayName,
		AvatarURL:   strings.TrimSpace(registration.AvatarURL),
		X:           x,
		Y:           y,
		Health:      startingHealth,
		Actions:     0,
		Color:       e.randomColor(),
		IsAdmin:     registration.Admin,
	}
	if err := m.tx.Create(&pawn).Error; err != nil {
		return Pawn{}, newServiceError(opRegister, "insert_failed", err)
	}
	e.loggerOrDefault().Info("pawn registered",
		zap.String("pawn_id", pawn.PawnID),
		zap.String("external_id", pawn.ExternalID),
		zap.Bool("admin", pawn.IsAdmin))
	return pawn, nil
}

type cell struct {
	x int
	y int
}

func occupiedCells(tx *gorm.DB) (map[cell]struct{}, error) {
	var pawns []Pawn
	if err := tx.Select("pawn_id", "x", "y").Find(&pawns).Error; err != nil {
		return nil, err
	}
	occupied := make(map[cell]struct{}, len(pawns))
	for _, pawn := range pawns {
		occupied[cell{x: pawn.X, y: pawn.Y}] = struct{}{}
	}
	return occupied, nil
}

func (e *Engine) randomFreeCell(occupied map[cell]struct{}) (int, int, bool) {
	free := make([]cell, 0, e.gridWidth*e.gridHeight)
	for x := 0; x < e.gridWidth; x++ {
		for y := 0; y < e.gridHeight; y++ {
			if _, taken := occupied[cell{x: x, y: y}]; !taken {
				free = append(free, cell{x: x, y: y})
			}
		}
	}
	if len(free) == 0 {
		return 0, 0, false
	}
	picked := free[e.random.IntN(len(free))]
	return picked.x, picked.y, true
}

func (e *Engine) randomColor() int {
	return e.random.IntN(255)<<16 | e.random.IntN(255)<<8 | e.random.IntN(255)
}

// authorize loads the actor and checks the capability, rejecting when either is missing.
func (e *Engine) authorize(m *mutation, operation string, actorID PawnID, capability Capability) error {
	pawns, err := lockPawns(m.tx, actorID.String())
	if err != nil {
		return newServiceError(operation, reasonQueryFailed, err)
	}
	actor, ok := pawns[actorID.String()]
	if !ok {
		return e.reject(operation, "actor_not_found", zap.String("pawn_id", actorID.String()))
	}
	if !actor.Can(capability) {
		return e.reject(operation, "capability_missing",
			zap.String("pawn_id", actorID.String()),
			zap.String("capability", string(capability)))
	}
	return nil
}

// AddPawn registers a pawn on behalf of an administrator.
func (e *Engine) AddPawn(ctx context.Context, actorID PawnID, externalID, displayName string) (bool, error) {
	return e.mutate(ctx, opAddPawn, func(m *mutation) error {
		if err := e.authorize(m, opAddPawn, actorID, CapabilityAdmin); err != nil {
			return err
		}
		if strings.TrimSpace(externalID) == "" || strings.TrimSpace(displayName) == "" {
			return e.reject(opAddPawn, "invalid_registration")
		}
		_, err := e.createPawn(m, PawnRegistration{ExternalID: externalID, DisplayName: displayName})
		switch {
		case errors.Is(err, ErrDuplicateExternalID):
			return e.reject(opAddPawn, "duplicate_external_id", zap.String("external_id", externalID))
		case errors.Is(err, ErrGridFull):
			return e.reject(opAddPawn, "grid_full", zap.String("external_id", externalID))
		}
		return err
	})
}

// RemovePawn deletes a pawn from the roster. The moderator cannot be removed.
func (e *Engine) RemovePawn(ctx context.Context, actorID, targetID PawnID) (bool, error) {
	return e.mutate(ctx, opRemovePawn, func(m *mutation) error {
		if err := e.authorize(m, opRemovePawn, actorID, CapabilityAdmin); err != nil {
			return err
		}
		if targetID.String() == ModeratorPawnID {
			return e.reject(opRemovePawn, "moderator_protected")
		}
		result := m.tx.Where("pawn_id = ?", targetID.String()).Delete(&Pawn{})
		if result.Error != nil {
			return newServiceError(opRemovePawn, "delete_failed", result.Error)
		}
		if result.RowsAffected == 0 {
			return e.reject(opRemovePawn, "target_not_found", zap.String("target_id", targetID.String()))
		}
		return nil
	})
}

// ForceMove relocates a pawn to any unoccupied cell.
func (e *Engine) ForceMove(ctx context.Context, actorID, targetID PawnID, x, y int) (bool, error) {
	return e.mutate(ctx, opForceMove, func(m *mutation) error {
		if err := e.authorize(m, opForceMove, actorID, CapabilityAdmin); err != nil {
			return err
		}
		pawns, err := lockPawns(m.tx, targetID.String())
		if err != nil {
			return newServiceError(opForceMove, reasonQueryFailed, err)
		}
		target, ok := pawns[targetID.String()]
		if !ok {
			return e.reject(opForceMove, "target_not_found", zap.String("target_id", targetID.String()))
		}
		var occupants int64
		if err := m.tx.Model(&Pawn{}).
			Where("x = ? AND y = ? AND pawn_id <> ?", x, y, target.PawnID).
			Count(&occupants).Error; err != nil {
			return newServiceError(opForceMove, reasonQueryFailed, err)
		}
		if occupants > 0 {
			return e.reject(opForceMove, "cell_occupied", zap.Int("x", x), zap.Int("y", y))
		}
		if err := m.savePawn(target, map[string]interface{}{"x": x, "y": y}); err != nil {
			return newServiceError(opForceMove, "pawn_update_failed", err)
		}
		return nil
	})
}

// SetPoints overwrites a pawn's action points.
func (e *Engine) SetPoints(ctx context.Context, actorID, targetID PawnID, points int) (bool, error) {
	return e.mutate(ctx, opSetPoints, func(m *mutation) error {
		if err := e.authorize(m, opSetPoints, actorID, CapabilityAdmin); err != nil {
			return err
		}
		if points < 0 {
			return e.reject(opSetPoints, "negative_points", zap.Int("points", points))
		}
		pawns, err := lockPawns(m.tx, targetID.String())
		if err != nil {
			return newServiceError(opSetPoints, reasonQueryFailed, err)
		}
		target, ok := pawns[targetID.String()]
		if !ok {
			return e.reject(opSetPoints, "target_not_found", zap.String("target_id", targetID.String()))
		}
		if err := m.savePawn(target, map[string]interface{}{"actions": points}); err != nil {
			return newServiceError(opSetPoints, "pawn_update_failed", err)
		}
		return nil
	})
}

// Reset starts a new match: every pawn is revived on a fresh random cell with no
// points, and the event log and vote history are wiped.
func (e *Engine) Reset(ctx context.Context, actorID PawnID) (bool, error) {
	return e.mutate(ctx, opReset, func(m *mutation) error {
		if err := e.authorize(m, opReset, actorID, CapabilityAdmin); err != nil {
			return err
		}
		var roster []Pawn
		if err := m.tx.Order("pawn_id ASC").Find(&roster).Error; err != nil {
			return newServiceError(opReset, reasonQueryFailed, err)
		}

		moderator := NewModeratorPawn(e.gridHeight)
		occupied := map[cell]struct{}{{x: moderator.X, y: moderator.Y}: {}}
		for index := range roster {
			pawn := &roster[index]
			columns := map[string]interface{}{
				"vote":         nil,
				"killed_by_id": nil,
				"killed_at_ms": nil,
			}
			if pawn.IsModerator() {
				columns["x"] = moderator.X
				columns["y"] = moderator.Y
				columns["health"] = moderator.Health
				columns["actions"] = moderator.Actions
			} else {
				x, y, ok := e.randomFreeCell(occupied)
				if !ok {
					return newServiceError(opReset, "grid_full", ErrGridFull)
				}
				occupied[cell{x: x, y: y}] = struct{}{}
				columns["x"] = x
				columns["y"] = y
				columns["health"] = startingHealth
				columns["actions"] = 0
			}
			if err := m.savePawn(pawn, columns); err != nil {
				return newServiceError(opReset, "pawn_update_failed", err)
			}
		}

		global := m.tx.Session(&gorm.Session{AllowGlobalUpdate: true})
		if err := global.Delete(&Event{}).Error; err != nil {
			return newServiceError(opReset, "event_delete_failed", err)
		}
		if err := global.Delete(&Vote{}).Error; err != nil {
			return newServiceError(opReset, "vote_delete_failed", err)
		}
		e.loggerOrDefault().Info("match reset", zap.String("pawn_id", actorID.String()), zap.Int("pawns", len(roster)))
		return nil
	})
}

// TriggerDrop asks the scheduler to run the drop job now. Repeated triggers grant repeatedly.
func (e *Engine) TriggerDrop(ctx context.Context, actorID PawnID) (bool, error) {
	accepted, err := e.mutate(ctx, opTriggerDrop, func(m *mutation) error {
		if err := e.authorize(m, opTriggerDrop, actorID, CapabilityAdmin); err != nil {
			return err
		}
		if e.dropTrigger == nil {
			return newServiceError(opTriggerDrop, reasonMissingTrigger, errMissingDropTrigger)
		}
		return nil
	})
	if !accepted || err != nil {
		return accepted, err
	}
	e.mu.Lock()
	trigger := e.dropTrigger
	e.mu.Unlock()
	trigger.TriggerDrop()
	return true, nil
}
