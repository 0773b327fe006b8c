package server

import (
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/lettuce/backend/internal/game"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type actionResponsePayload struct {
	Success bool `json:"success"`
}

type liveCountPayload struct {
	Count int `json:"count"`
}

type mePayload struct {
	Pawn game.Pawn `json:"pawn"`
}

type positionRequestPayload struct {
	X *int `json:"x"`
	Y *int `json:"y"`
}

type targetRequestPayload struct {
	TargetID string `json:"targetId"`
}

type speakRequestPayload struct {
	Message string `json:"message"`
}

type voteRequestPayload struct {
	VoteeID string `json:"voteeId"`
}

type addPawnRequestPayload struct {
	ExternalID  string `json:"externalId"`
	DisplayName string `json:"displayName"`
}

type pointsRequestPayload struct {
	Points *int `json:"points"`
}

func (h *httpHandler) handleListPawns(c *gin.Context) {
	pawns, err := h.engine.ListPawns(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list pawns", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed"})
		return
	}
	c.JSON(http.StatusOK, pawns)
}

func (h *httpHandler) handleListEvents(c *gin.Context) {
	events, err := h.engine.ListEvents(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list events", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed"})
		return
	}
	c.JSON(http.StatusOK, events)
}

func (h *httpHandler) handleVoteHistory(c *gin.Context) {
	batches, err := h.engine.VoteHistory(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to load vote history", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed"})
		return
	}
	c.JSON(http.StatusOK, batches)
}

func (h *httpHandler) handleLiveCount(c *gin.Context) {
	c.JSON(http.StatusOK, liveCountPayload{Count: h.hub.LiveCount()})
}

func (h *httpHandler) handleMe(c *gin.Context) {
	pawnID := currentPawnID(c)
	pawns, err := h.engine.ListPawns(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list pawns", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed"})
		return
	}
	for _, pawn := range pawns {
		if pawn.PawnID == pawnID.String() {
			c.JSON(http.StatusOK, mePayload{Pawn: pawn})
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "pawn_not_found"})
}

func (h *httpHandler) handleMove(c *gin.Context) {
	var request positionRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.X == nil || request.Y == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	accepted, err := h.engine.Move(c.Request.Context(), currentPawnID(c), *request.X, *request.Y)
	h.respondAction(c, "move", accepted, err)
}

func (h *httpHandler) handleAttack(c *gin.Context) {
	targetID, ok := bindTarget(c)
	if !ok {
		return
	}
	accepted, err := h.engine.Attack(c.Request.Context(), currentPawnID(c), targetID)
	h.respondAction(c, "attack", accepted, err)
}

func (h *httpHandler) handleGift(c *gin.Context) {
	targetID, ok := bindTarget(c)
	if !ok {
		return
	}
	accepted, err := h.engine.Gift(c.Request.Context(), currentPawnID(c), targetID)
	h.respondAction(c, "gift", accepted, err)
}

func (h *httpHandler) handleSpeak(c *gin.Context) {
	var request speakRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	accepted, err := h.engine.Speak(c.Request.Context(), currentPawnID(c), request.Message)
	h.respondAction(c, "speak", accepted, err)
}

func (h *httpHandler) handleVote(c *gin.Context) {
	var request voteRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.VoteeID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	accepted, err := h.engine.Vote(c.Request.Context(), currentPawnID(c), game.PawnID(strings.TrimSpace(request.VoteeID)))
	h.respondAction(c, "vote", accepted, err)
}

func (h *httpHandler) handleAddPawn(c *gin.Context) {
	var request addPawnRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	accepted, err := h.engine.AddPawn(c.Request.Context(), currentPawnID(c), strings.TrimSpace(request.ExternalID), strings.TrimSpace(request.DisplayName))
	h.respondAction(c, "add_pawn", accepted, err)
}

func (h *httpHandler) handleRemovePawn(c *gin.Context) {
	targetID, ok := pathPawnID(c)
	if !ok {
		return
	}
	accepted, err := h.engine.RemovePawn(c.Request.Context(), currentPawnID(c), targetID)
	if err == nil && accepted {
		h.identity.ForgetPawn(targetID)
	}
	h.respondAction(c, "remove_pawn", accepted, err)
}

func (h *httpHandler) handleForceMove(c *gin.Context) {
	targetID, ok := pathPawnID(c)
	if !ok {
		return
	}
	var request positionRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.X == nil || request.Y == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	accepted, err := h.engine.ForceMove(c.Request.Context(), currentPawnID(c), targetID, *request.X, *request.Y)
	h.respondAction(c, "force_move", accepted, err)
}

func (h *httpHandler) handleSetPoints(c *gin.Context) {
	targetID, ok := pathPawnID(c)
	if !ok {
		return
	}
	var request pointsRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Points == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	accepted, err := h.engine.SetPoints(c.Request.Context(), currentPawnID(c), targetID, *request.Points)
	h.respondAction(c, "set_points", accepted, err)
}

func (h *httpHandler) handleReset(c *gin.Context) {
	accepted, err := h.engine.Reset(c.Request.Context(), currentPawnID(c))
	h.respondAction(c, "reset", accepted, err)
}

func (h *httpHandler) handleTriggerDrop(c *gin.Context) {
	accepted, err := h.engine.TriggerDrop(c.Request.Context(), currentPawnID(c))
	h.respondAction(c, "trigger_drop", accepted, err)
}

func (h *httpHandler) respondAction(c *gin.Context, action string, accepted bool, err error) {
	if err != nil {
		h.logger.Error("action failed",
			zap.String("action", action),
			zap.String("pawn_id", currentPawnID(c).String()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, actionResponsePayload{Success: false})
		return
	}
	c.JSON(http.StatusOK, actionResponsePayload{Success: accepted})
}

func bindTarget(c *gin.Context) (game.PawnID, bool) {
	var request targetRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return "", false
	}
	targetID, err := game.NewPawnID(request.TargetID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return "", false
	}
	return targetID, true
}

func pathPawnID(c *gin.Context) (game.PawnID, bool) {
	targetID, err := game.NewPawnID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_pawn_id"})
		return "", false
	}
	return targetID, true
}
