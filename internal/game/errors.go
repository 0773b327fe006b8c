package game

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	errMissingDatabase    = errors.New("database handle is required")
	errMissingIDProvider  = errors.New("id provider is required")
	errMissingDropTrigger = errors.New("drop trigger is not attached")
	errActionRejected     = errors.New("action rejected")

	// ErrGridFull indicates that no free cell is left for a new pawn.
	ErrGridFull = errors.New("game: no free cell on the grid")
	// ErrDuplicateExternalID indicates that an account already owns a pawn.
	ErrDuplicateExternalID = errors.New("game: external id already registered")

	noOpLogger = zap.NewNop()
)

// ServiceError carries a stable "<operation>.<reason>" code for infrastructure failures.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the machine readable failure code.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opEngineNew    = "game.engine.new"
	opMove         = "game.move"
	opAttack       = "game.attack"
	opGift         = "game.gift"
	opSpeak        = "game.speak"
	opVote         = "game.vote"
	opDrop         = "game.drop"
	opRegister     = "game.register_pawn"
	opAddPawn      = "game.admin.add_pawn"
	opRemovePawn   = "game.admin.remove_pawn"
	opForceMove    = "game.admin.force_move"
	opSetPoints    = "game.admin.set_points"
	opReset        = "game.admin.reset"
	opTriggerDrop  = "game.admin.trigger_drop"
	opListPawns    = "game.list_pawns"
	opListEvents   = "game.list_events"
	opVoteHistory  = "game.vote_history"
	opRecordCount  = "game.record_player_count"
	opFindExternal = "game.find_by_external_id"
	opAppendEvent  = "game.append_event"
)

const (
	reasonMissingDatabase = "missing_database"
	reasonTransaction     = "transaction_failed"
	reasonQueryFailed     = "query_failed"
	reasonIDGeneration    = "id_generation_failed"
	reasonMissingTrigger  = "missing_drop_trigger"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

func (e *Engine) loggerOrDefault() *zap.Logger {
	if e == nil || e.logger == nil {
		return noOpLogger
	}
	return e.logger
}

func (e *Engine) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	e.loggerOrDefault().Error("game engine error", attrs...)
}

// reject logs a validation failure and aborts the surrounding mutation without side effects.
func (e *Engine) reject(operation, reason string, fields ...zap.Field) error {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	attrs = append(attrs, fields...)
	e.loggerOrDefault().Info("action rejected", attrs...)
	return errActionRejected
}
