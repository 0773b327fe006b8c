package game

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// EventFeedSize caps the visible event feed.
const EventFeedSize = 50

// ListPawns returns a snapshot of the full roster.
func (e *Engine) ListPawns(ctx context.Context) ([]Pawn, error) {
	if e.db == nil {
		e.logError(opListPawns, reasonMissingDatabase, errMissingDatabase)
		return nil, newServiceError(opListPawns, reasonMissingDatabase, errMissingDatabase)
	}
	var pawns []Pawn
	if err := e.db.WithContext(ctx).Order("pawn_id ASC").Find(&pawns).Error; err != nil {
		e.logError(opListPawns, reasonQueryFailed, err)
		return nil, newServiceError(opListPawns, reasonQueryFailed, err)
	}
	return pawns, nil
}

// ListEvents returns the newest visible events, newest first.
func (e *Engine) ListEvents(ctx context.Context) ([]EventView, error) {
	if e.db == nil {
		e.logError(opListEvents, reasonMissingDatabase, errMissingDatabase)
		return nil, newServiceError(opListEvents, reasonMissingDatabase, errMissingDatabase)
	}
	var events []Event
	if err := e.db.WithContext(ctx).
		Where("action_type <> ?", ActionTypeInternalOnly).
		Order("timestamp_ms DESC").
		Order("event_id DESC").
		Limit(EventFeedSize).
		Find(&events).Error; err != nil {
		e.logError(opListEvents, reasonQueryFailed, err)
		return nil, newServiceError(opListEvents, reasonQueryFailed, err)
	}
	views := make([]EventView, 0, len(events))
	for _, event := range events {
		views = append(views, event.View())
	}
	return views, nil
}

// VoteTally is the number of ballots one pawn received in a batch, with chart colors.
type VoteTally struct {
	Votes  int    `json:"votes"`
	Color1 string `json:"color1"`
	Color2 string `json:"color2"`
}

// VoteBatch groups the tallies of one drop.
type VoteBatch struct {
	TimestampMs int64                `json:"timestamp"`
	Votes       map[string]VoteTally `json:"votes"`
}

// VoteHistory returns every tallied batch, newest first, keyed by votee display name.
// Ballots for pawns that no longer exist are left out.
func (e *Engine) VoteHistory(ctx context.Context) ([]VoteBatch, error) {
	if e.db == nil {
		e.logError(opVoteHistory, reasonMissingDatabase, errMissingDatabase)
		return nil, newServiceError(opVoteHistory, reasonMissingDatabase, errMissingDatabase)
	}
	var votes []Vote
	if err := e.db.WithContext(ctx).
		Order("vote_time_ms DESC").
		Order("vote_id DESC").
		Find(&votes).Error; err != nil {
		e.logError(opVoteHistory, reasonQueryFailed, err)
		return nil, newServiceError(opVoteHistory, reasonQueryFailed, err)
	}
	if len(votes) == 0 {
		return []VoteBatch{}, nil
	}

	voteeIDs := make([]string, 0, len(votes))
	seen := make(map[string]struct{})
	for _, vote := range votes {
		if _, ok := seen[vote.VoteeID]; ok {
			continue
		}
		seen[vote.VoteeID] = struct{}{}
		voteeIDs = append(voteeIDs, vote.VoteeID)
	}
	var votees []Pawn
	if err := e.db.WithContext(ctx).Where("pawn_id IN ?", voteeIDs).Find(&votees).Error; err != nil {
		e.logError(opVoteHistory, reasonQueryFailed, err)
		return nil, newServiceError(opVoteHistory, reasonQueryFailed, err)
	}
	voteesByID := make(map[string]Pawn, len(votees))
	for _, votee := range votees {
		voteesByID[votee.PawnID] = votee
	}

	batches := make([]VoteBatch, 0)
	batchIndex := make(map[string]int)
	for _, vote := range votes {
		index, ok := batchIndex[vote.VoteID]
		if !ok {
			index = len(batches)
			batchIndex[vote.VoteID] = index
			batches = append(batches, VoteBatch{TimestampMs: vote.VoteTimeMs, Votes: make(map[string]VoteTally)})
		}
		votee, ok := voteesByID[vote.VoteeID]
		if !ok {
			continue
		}
		tally := batches[index].Votes[votee.DisplayName]
		if tally.Votes == 0 {
			red, green, blue := votee.RGB()
			tally.Color1 = fmt.Sprintf("rgba(%d, %d, %d, 0.2)", red, green, blue)
			tally.Color2 = fmt.Sprintf("rgb(%d, %d, %d)", red, green, blue)
		}
		tally.Votes++
		batches[index].Votes[votee.DisplayName] = tally
	}
	return batches, nil
}

// FindPawnByExternalID resolves the pawn owned by a chat account.
func (e *Engine) FindPawnByExternalID(ctx context.Context, externalID string) (Pawn, bool, error) {
	if e.db == nil {
		return Pawn{}, false, newServiceError(opFindExternal, reasonMissingDatabase, errMissingDatabase)
	}
	var pawn Pawn
	err := e.db.WithContext(ctx).Where("external_id = ?", strings.TrimSpace(externalID)).Take(&pawn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Pawn{}, false, nil
	}
	if err != nil {
		e.logError(opFindExternal, reasonQueryFailed, err, zap.String("external_id", externalID))
		return Pawn{}, false, newServiceError(opFindExternal, reasonQueryFailed, err)
	}
	return pawn, true, nil
}

// UpdateProfile refreshes the display name and avatar of a pawn from its account.
func (e *Engine) UpdateProfile(ctx context.Context, pawnID PawnID, displayName, avatarURL string) error {
	updates := map[string]interface{}{}
	if name := strings.TrimSpace(displayName); name != "" {
		updates["display_name"] = name
	}
	if avatar := strings.TrimSpace(avatarURL); avatar != "" {
		updates["avatar_url"] = avatar
	}
	if len(updates) == 0 {
		return nil
	}
	_, err := e.mutate(ctx, opRegister, func(m *mutation) error {
		return m.tx.Model(&Pawn{}).Where("pawn_id = ?", pawnID.String()).Updates(updates).Error
	})
	return err
}

// CountPawns returns the roster size, the moderator included.
func (e *Engine) CountPawns(ctx context.Context) (int64, error) {
	if e.db == nil {
		return 0, newServiceError(opListPawns, reasonMissingDatabase, errMissingDatabase)
	}
	var count int64
	if err := e.db.WithContext(ctx).Model(&Pawn{}).Count(&count).Error; err != nil {
		e.logError(opListPawns, reasonQueryFailed, err)
		return 0, newServiceError(opListPawns, reasonQueryFailed, err)
	}
	return count, nil
}

// RecordPlayerCount stores a sample of connected players.
func (e *Engine) RecordPlayerCount(ctx context.Context, playersOnline int) error {
	if e.db == nil {
		return newServiceError(opRecordCount, reasonMissingDatabase, errMissingDatabase)
	}
	logID, err := e.idProvider.NewID()
	if err != nil {
		e.logError(opRecordCount, reasonIDGeneration, err)
		return newServiceError(opRecordCount, reasonIDGeneration, err)
	}
	sample := PlayerCountLog{
		LogID:         logID,
		PlayersOnline: playersOnline,
		TimestampMs:   e.clock().UTC().UnixMilli(),
	}
	if err := e.db.WithContext(ctx).Create(&sample).Error; err != nil {
		e.logError(opRecordCount, "insert_failed", err)
		return newServiceError(opRecordCount, "insert_failed", err)
	}
	return nil
}
