package game

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm/clause"
)

const (
	dropAmount        = 1
	minVotesForQuota  = 3
	votesPerLettuce   = 3
	scolAwardTemplate = "%s received %d votes from the %s and has been awarded %d lettuce."
)

type pendingVote struct {
	voterID string
	voteeID string
}

type scolAward struct {
	voteeID string
	votes   int
	lettuce int
}

// RunDrop grants every living pawn one action point, then tallies the pending votes of
// eliminated pawns into a new batch and pays out bonus points. Pending votes stay in
// place, so an unresolved vote is counted again at the next drop.
func (e *Engine) RunDrop(ctx context.Context) (err error) {
	ctx, span := e.startSpan(ctx, opDrop, ModeratorPawnID)
	defer func() { finishSpan(span, err == nil, err) }()

	granted := 0
	_, err = e.mutate(ctx, opDrop, func(m *mutation) error {
		var roster []Pawn
		if err := m.tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("pawn_id <> ?", ModeratorPawnID).
			Order("pawn_id ASC").
			Find(&roster).Error; err != nil {
			return newServiceError(opDrop, reasonQueryFailed, err)
		}

		byID := make(map[string]*Pawn, len(roster))
		var votes []pendingVote
		for index := range roster {
			pawn := &roster[index]
			byID[pawn.PawnID] = pawn
			if pawn.Vote != nil {
				votes = append(votes, pendingVote{voterID: pawn.PawnID, voteeID: *pawn.Vote})
			}
			if !pawn.Alive() {
				continue
			}
			pawn.Actions += dropAmount
			if err := m.savePawn(pawn, map[string]interface{}{"actions": pawn.Actions}); err != nil {
				return newServiceError(opDrop, "pawn_update_failed", err)
			}
			granted++
		}

		dropEvent, err := m.appendEvent(Event{
			ActionByID:   ModeratorPawnID,
			ActionToID:   ModeratorPawnID,
			EventText:    "Lettuce drop",
			LettuceCount: dropAmount,
			ActionType:   ActionTypeLettuceDrop,
			ActorName:    moderatorName,
		})
		if err != nil {
			return err
		}
		m.broadcast(LiveLettuceDrop, DropBroadcast{Amount: dropAmount})

		batchID, err := e.idProvider.NewID()
		if err != nil {
			return newServiceError(opDrop, reasonIDGeneration, err)
		}
		if len(votes) > 0 {
			rows := make([]Vote, 0, len(votes))
			for _, vote := range votes {
				rows = append(rows, Vote{
					VoteID:     batchID,
					VoterID:    vote.voterID,
					VoteeID:    vote.voteeID,
					DropID:     dropEvent.EventID,
					VoteTimeMs: m.nowMs,
				})
			}
			if err := m.tx.Create(&rows).Error; err != nil {
				return newServiceError(opDrop, "vote_insert_failed", err)
			}
		}

		for _, award := range tallyVotes(votes) {
			pawn, ok := byID[award.voteeID]
			if !ok {
				e.loggerOrDefault().Warn("votee not found in roster",
					zap.String("votee_id", award.voteeID),
					zap.String("vote_id", batchID))
				continue
			}
			pawn.Actions += award.lettuce
			if err := m.savePawn(pawn, map[string]interface{}{"actions": pawn.Actions}); err != nil {
				return newServiceError(opDrop, "pawn_update_failed", err)
			}
			voteID := batchID
			if _, err := m.appendEvent(Event{
				ActionByID:   ModeratorPawnID,
				ActionToID:   pawn.PawnID,
				EventText:    fmt.Sprintf(scolAwardTemplate, pawn.DisplayName, award.votes, moderatorName, award.lettuce),
				LettuceCount: award.lettuce,
				ActionType:   ActionTypeScol,
				ScolVoteID:   &voteID,
				ActorName:    moderatorName,
			}); err != nil {
				return err
			}
			m.broadcast(LiveGift, GiftBroadcast{FromID: ModeratorPawnID, ToID: pawn.PawnID, Amount: award.lettuce})
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.loggerOrDefault().Info("lettuce drop completed", zap.Int("pawns_granted", granted))
	return nil
}

// tallyVotes groups ballots by votee in first-appearance order. Below the quorum
// every votee receives one point; above it each votee receives one point per three votes.
func tallyVotes(votes []pendingVote) []scolAward {
	counts := make(map[string]int)
	order := make([]string, 0)
	for _, vote := range votes {
		if _, seen := counts[vote.voteeID]; !seen {
			order = append(order, vote.voteeID)
		}
		counts[vote.voteeID]++
	}

	awards := make([]scolAward, 0, len(order))
	for _, voteeID := range order {
		if voteeID == ModeratorPawnID {
			continue
		}
		voteCount := counts[voteeID]
		if len(votes) < minVotesForQuota {
			awards = append(awards, scolAward{voteeID: voteeID, votes: voteCount, lettuce: 1})
			continue
		}
		lettuce := voteCount / votesPerLettuce
		if lettuce < 1 {
			continue
		}
		awards = append(awards, scolAward{voteeID: voteeID, votes: voteCount, lettuce: lettuce})
	}
	return awards
}
