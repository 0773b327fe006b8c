package game

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	attackRange = 4.25
	giftRange   = 7.5
	tracerName  = "github.com/MarcoPoloResearchLab/lettuce/backend/internal/game"
)

// EngineConfig describes the collaborators of the rules engine.
type EngineConfig struct {
	Database   *gorm.DB
	GridWidth  int
	GridHeight int
	Clock      func() time.Time
	IDProvider IDProvider
	Notifier   Notifier
	Logger     *zap.Logger
	Random     *rand.Rand
	Tracer     trace.Tracer
}

// Engine validates and applies actions against the pawn roster and the event log.
// Every mutation runs under one lock and one database transaction; notifications
// go out only after the transaction commits.
type Engine struct {
	mu          sync.Mutex
	db          *gorm.DB
	gridWidth   int
	gridHeight  int
	clock       func() time.Time
	idProvider  IDProvider
	notifier    Notifier
	logger      *zap.Logger
	random      *rand.Rand
	tracer      trace.Tracer
	dropTrigger DropTrigger
}

// NewEngine constructs an Engine with defaults for optional collaborators.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opEngineNew, reasonMissingDatabase, errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opEngineNew, "missing_id_provider", errMissingIDProvider)
	}
	if cfg.GridWidth <= 0 || cfg.GridHeight <= 0 {
		return nil, newServiceError(opEngineNew, "invalid_grid", errors.New("grid dimensions must be positive"))
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = noopNotifier{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	random := cfg.Random
	if random == nil {
		random = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64()))
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	return &Engine{
		db:         cfg.Database,
		gridWidth:  cfg.GridWidth,
		gridHeight: cfg.GridHeight,
		clock:      clock,
		idProvider: cfg.IDProvider,
		notifier:   notifier,
		logger:     logger,
		random:     random,
		tracer:     tracer,
	}, nil
}

// AttachDropTrigger wires the scheduler used by the admin drop trigger.
func (e *Engine) AttachDropTrigger(trigger DropTrigger) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dropTrigger = trigger
}

type outbound struct {
	event       *Event
	messageType string
	payload     interface{}
}

// mutation collects the writes and notifications of one serialized transaction.
type mutation struct {
	engine *Engine
	tx     *gorm.DB
	nowMs  int64
	outbox []outbound
}

func (m *mutation) appendEvent(event Event) (Event, error) {
	eventID, err := m.engine.idProvider.NewID()
	if err != nil {
		return Event{}, newServiceError(opAppendEvent, reasonIDGeneration, err)
	}
	event.EventID = eventID
	event.TimestampMs = m.nowMs
	event.EventText = truncateText(event.EventText)
	if err := m.tx.Create(&event).Error; err != nil {
		return Event{}, newServiceError(opAppendEvent, "insert_failed", err)
	}
	stored := event
	m.outbox = append(m.outbox, outbound{event: &stored})
	return event, nil
}

func (m *mutation) broadcast(messageType string, payload interface{}) {
	m.outbox = append(m.outbox, outbound{messageType: messageType, payload: payload})
}

func (m *mutation) savePawn(pawn *Pawn, columns map[string]interface{}) error {
	return m.tx.Model(&Pawn{}).Where("pawn_id = ?", pawn.PawnID).Updates(columns).Error
}

// mutate runs fn inside the engine lock and a transaction. A rejection from fn rolls
// back and reports false; an infrastructure error rolls back and is returned.
func (e *Engine) mutate(ctx context.Context, operation string, fn func(m *mutation) error) (bool, error) {
	if e.db == nil {
		e.logError(operation, reasonMissingDatabase, errMissingDatabase)
		return false, newServiceError(operation, reasonMissingDatabase, errMissingDatabase)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	m := &mutation{engine: e, nowMs: e.clock().UTC().UnixMilli()}
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m.tx = tx
		return fn(m)
	})
	if errors.Is(err, errActionRejected) {
		return false, nil
	}
	if err != nil {
		e.logError(operation, reasonTransaction, err)
		var serviceErr *ServiceError
		if errors.As(err, &serviceErr) {
			return false, err
		}
		return false, newServiceError(operation, reasonTransaction, err)
	}

	for _, item := range m.outbox {
		if item.event != nil {
			e.notifier.Dispatch(*item.event)
			continue
		}
		e.notifier.Broadcast(item.messageType, item.payload)
	}
	return true, nil
}

func (e *Engine) startSpan(ctx context.Context, operation, actorID string) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, operation, trace.WithAttributes(attribute.String("pawn.id", actorID)))
}

func finishSpan(span trace.Span, accepted bool, err error) {
	span.SetAttributes(attribute.Bool("action.accepted", accepted))
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}

// lockPawns loads the requested pawns with row locks, keyed by id. Missing ids are absent.
func lockPawns(tx *gorm.DB, ids ...string) (map[string]*Pawn, error) {
	var pawns []Pawn
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("pawn_id IN ?", ids).
		Order("pawn_id ASC").
		Find(&pawns).Error
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*Pawn, len(pawns))
	for index := range pawns {
		byID[pawns[index].PawnID] = &pawns[index]
	}
	return byID, nil
}

func distance(from, to *Pawn) float64 {
	return math.Hypot(float64(from.X-to.X), float64(from.Y-to.Y))
}

func isAdjacent(fromX, fromY, toX, toY int) bool {
	return absInt(fromX-toX) <= 1 && absInt(fromY-toY) <= 1
}

func absInt(value int) int {
	if value < 0 {
		return -value
	}
	return value
}

func (e *Engine) inBounds(x, y int) bool {
	return x >= 0 && x < e.gridWidth && y >= 0 && y < e.gridHeight
}
