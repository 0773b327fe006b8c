package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/lettuce/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/lettuce/backend/internal/game"
	"github.com/MarcoPoloResearchLab/lettuce/backend/internal/identity"
	"github.com/MarcoPoloResearchLab/lettuce/backend/internal/live"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const pawnIDContextKey = "lettuce_pawn_id"

var (
	errMissingGameEngine       = errors.New("game engine dependency required")
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingIdentityResolver = errors.New("identity resolver dependency required")
	errMissingLiveHub          = errors.New("live hub dependency required")
)

// GameEngine is the engine surface exposed over HTTP.
type GameEngine interface {
	ListPawns(ctx context.Context) ([]game.Pawn, error)
	ListEvents(ctx context.Context) ([]game.EventView, error)
	VoteHistory(ctx context.Context) ([]game.VoteBatch, error)

	Move(ctx context.Context, actorID game.PawnID, x, y int) (bool, error)
	Attack(ctx context.Context, actorID, targetID game.PawnID) (bool, error)
	Gift(ctx context.Context, actorID, targetID game.PawnID) (bool, error)
	Speak(ctx context.Context, actorID game.PawnID, message string) (bool, error)
	Vote(ctx context.Context, voterID, voteeID game.PawnID) (bool, error)

	AddPawn(ctx context.Context, actorID game.PawnID, externalID, displayName string) (bool, error)
	RemovePawn(ctx context.Context, actorID, targetID game.PawnID) (bool, error)
	ForceMove(ctx context.Context, actorID, targetID game.PawnID, x, y int) (bool, error)
	SetPoints(ctx context.Context, actorID, targetID game.PawnID, points int) (bool, error)
	Reset(ctx context.Context, actorID game.PawnID) (bool, error)
	TriggerDrop(ctx context.Context, actorID game.PawnID) (bool, error)
}

type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

type IdentityResolver interface {
	ResolvePawnID(ctx context.Context, claims auth.SessionClaims) (game.PawnID, error)
	ForgetPawn(pawnID game.PawnID)
}

type LiveHub interface {
	Subscribe(ctx context.Context, pawnID string) (<-chan live.Message, func())
	LiveCount() int
}

// Dependencies wires the HTTP surface to the game services.
type Dependencies struct {
	Engine            GameEngine
	SessionValidator  SessionValidator
	Identity          IdentityResolver
	Hub               LiveHub
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Engine == nil {
		return nil, errMissingGameEngine
	}
	if deps.SessionValidator == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Identity == nil {
		return nil, errMissingIdentityResolver
	}
	if deps.Hub == nil {
		return nil, errMissingLiveHub
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		engine:    deps.Engine,
		sessions:  deps.SessionValidator,
		identity:  deps.Identity,
		hub:       deps.Hub,
		heartbeat: heartbeat,
		logger:    logger,
	}

	router.GET("/healthz", handler.handleHealth)

	public := router.Group("/api")
	public.GET("/pawns", handler.handleListPawns)
	public.GET("/events", handler.handleListEvents)
	public.GET("/votes", handler.handleVoteHistory)
	public.GET("/live-count", handler.handleLiveCount)

	router.GET("/live/stream", handler.handleLiveStream)
	router.GET("/live/ws", handler.handleLiveSocket)

	session := router.Group("/api")
	session.Use(handler.authorizeRequest)
	session.GET("/me", handler.handleMe)
	session.POST("/actions/move", handler.handleMove)
	session.POST("/actions/attack", handler.handleAttack)
	session.POST("/actions/gift", handler.handleGift)
	session.POST("/actions/speak", handler.handleSpeak)
	session.POST("/actions/vote", handler.handleVote)

	admin := session.Group("/admin")
	admin.POST("/pawns", handler.handleAddPawn)
	admin.DELETE("/pawns/:id", handler.handleRemovePawn)
	admin.POST("/pawns/:id/position", handler.handleForceMove)
	admin.POST("/pawns/:id/points", handler.handleSetPoints)
	admin.POST("/reset", handler.handleReset)
	admin.POST("/drop", handler.handleTriggerDrop)

	return router, nil
}

type httpHandler struct {
	engine    GameEngine
	sessions  SessionValidator
	identity  IdentityResolver
	hub       LiveHub
	heartbeat time.Duration
	logger    *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	pawnID, err := h.identity.ResolvePawnID(c.Request.Context(), claims)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrNotPlayer):
			h.logger.Info("session rejected", zap.String("user_id", claims.UserID), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "not_a_player"})
		case errors.Is(err, identity.ErrInvalidIdentity):
			h.logger.Warn("session rejected", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		default:
			h.logger.Error("identity resolution failed", zap.String("user_id", claims.UserID), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "identity_unavailable"})
		}
		return
	}
	c.Set(pawnIDContextKey, pawnID.String())
	c.Next()
}

// optionalPawnID identifies a live connection when it carries a valid session. Spectators get "".
func (h *httpHandler) optionalPawnID(c *gin.Context) string {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		return ""
	}
	pawnID, err := h.identity.ResolvePawnID(c.Request.Context(), claims)
	if err != nil {
		return ""
	}
	return pawnID.String()
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	})
}

func currentPawnID(c *gin.Context) game.PawnID {
	return game.PawnID(c.GetString(pawnIDContextKey))
}
