package game

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ActionType tags every event with the transition that produced it.
type ActionType string

const (
	ActionTypeMove            ActionType = "move"
	ActionTypeGift            ActionType = "gift"
	ActionTypeAttack          ActionType = "attack"
	ActionTypeLettuceDrop     ActionType = "lettuce_drop"
	ActionTypeScol            ActionType = "scol"
	ActionTypeSpeak           ActionType = "speak"
	ActionTypeWinnerAnnounced ActionType = "winner_announced"
	// ActionTypeInternalOnly events reach the external channel but never the live feed.
	ActionTypeInternalOnly ActionType = "internal_only"
)

const (
	maxIdentifierLength = 190
	maxEventTextLength  = 1024
	startingHealth      = 3
	moderatorName       = "Supreme Court of Lettuce"
	moderatorColor      = 0xFFFFFF
	moderatorOffsetX    = -8
)

// ModeratorPawnID identifies the immortal moderator pawn that owns drops and SCOL payouts.
const ModeratorPawnID = "ffffffff-ffff-ffff-ffff-ffffffffffff"

// ErrInvalidPawnID indicates that a pawn identifier is empty or exceeds storage bounds.
var ErrInvalidPawnID = errors.New("game: invalid pawn id")

// PawnID represents a validated pawn identifier.
type PawnID string

// NewPawnID validates raw input and returns a PawnID.
func NewPawnID(rawInput string) (PawnID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPawnID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidPawnID, maxIdentifierLength)
	}
	return PawnID(trimmed), nil
}

// String returns the underlying string identifier.
func (id PawnID) String() string {
	return string(id)
}

// Capability names a privilege a pawn may hold.
type Capability string

// CapabilityAdmin grants the privileged roster and match operations.
const CapabilityAdmin Capability = "admin"

// Pawn models a player entity on the grid.
type Pawn struct {
	PawnID      string  `gorm:"column:pawn_id;primaryKey;size:190;not null" json:"id"`
	ExternalID  string  `gorm:"column:external_id;size:190;not null;uniqueIndex" json:"-"`
	DisplayName string  `gorm:"column:display_name;size:1024;not null" json:"displayName"`
	AvatarURL   string  `gorm:"column:avatar_url;size:1024;not null;default:''" json:"avatarUri,omitempty"`
	X           int     `gorm:"column:x;not null;index:idx_pawns_cell,priority:1" json:"x"`
	Y           int     `gorm:"column:y;not null;index:idx_pawns_cell,priority:2" json:"y"`
	Health      int     `gorm:"column:health;not null;default:3" json:"health"`
	Actions     int     `gorm:"column:actions;not null;default:0" json:"actions"`
	Color       int     `gorm:"column:color;not null;default:0" json:"color"`
	Vote        *string `gorm:"column:vote;size:190;index" json:"-"`
	IsAdmin     bool    `gorm:"column:is_admin;not null;default:false" json:"isAdmin"`
	KilledByID  *string `gorm:"column:killed_by_id;size:190" json:"killedById,omitempty"`
	KilledAtMs  *int64  `gorm:"column:killed_at_ms" json:"killedAtMs,omitempty"`
}

// TableName provides the explicit table binding for GORM.
func (Pawn) TableName() string {
	return "pawns"
}

// Alive reports whether the pawn still has health left.
func (p Pawn) Alive() bool {
	return p.Health > 0
}

// IsModerator reports whether the pawn is the immortal moderator.
func (p Pawn) IsModerator() bool {
	return p.PawnID == ModeratorPawnID
}

// Can reports whether the pawn holds the capability.
func (p Pawn) Can(capability Capability) bool {
	switch capability {
	case CapabilityAdmin:
		return p.IsAdmin
	default:
		return false
	}
}

// RGB splits the stored color into its channels.
func (p Pawn) RGB() (int, int, int) {
	return (p.Color >> 16) & 0xFF, (p.Color >> 8) & 0xFF, p.Color & 0xFF
}

// NewModeratorPawn returns the moderator pawn positioned beside a grid of the given height.
func NewModeratorPawn(gridHeight int) Pawn {
	return Pawn{
		PawnID:      ModeratorPawnID,
		ExternalID:  ModeratorPawnID,
		DisplayName: moderatorName,
		X:           moderatorOffsetX,
		Y:           int(math.Floor(float64(gridHeight) / 2)),
		Health:      math.MaxInt32,
		Actions:     math.MaxInt32,
		Color:       moderatorColor,
	}
}

// Event is an immutable record of one state transition.
type Event struct {
	EventID      string     `gorm:"column:event_id;primaryKey;size:190;not null"`
	ActionByID   string     `gorm:"column:action_by_id;size:190;not null"`
	ActionToID   string     `gorm:"column:action_to_id;size:190;not null"`
	EventText    string     `gorm:"column:event_text;size:1024;not null"`
	OldX         int        `gorm:"column:old_x;not null;default:0"`
	OldY         int        `gorm:"column:old_y;not null;default:0"`
	NewX         int        `gorm:"column:new_x;not null;default:0"`
	NewY         int        `gorm:"column:new_y;not null;default:0"`
	LettuceCount int        `gorm:"column:lettuce_count;not null;default:0"`
	Died         bool       `gorm:"column:died;not null;default:false"`
	TimestampMs  int64      `gorm:"column:timestamp_ms;not null;index:idx_events_timeline,priority:1"`
	ActionType   ActionType `gorm:"column:action_type;size:32;not null;index:idx_events_timeline,priority:2"`
	ScolVoteID   *string    `gorm:"column:scol_vote_id;size:190"`

	// ActorName travels with the event to notification consumers; it is not persisted.
	ActorName string `gorm:"-"`
}

// TableName provides the explicit table binding for GORM.
func (Event) TableName() string {
	return "events"
}

// EventView is the compact projection shown on the feed and live channel.
type EventView struct {
	TimestampMs int64      `json:"timestamp"`
	ID          string     `json:"id"`
	ActionByID  string     `json:"actionById"`
	ActionToID  string     `json:"actionToId"`
	EventText   string     `json:"eventText"`
	ActionType  ActionType `json:"actionType"`
}

// View projects the event for clients.
func (e Event) View() EventView {
	return EventView{
		TimestampMs: e.TimestampMs,
		ID:          e.EventID,
		ActionByID:  e.ActionByID,
		ActionToID:  e.ActionToID,
		EventText:   e.EventText,
		ActionType:  e.ActionType,
	}
}

// Vote is one tallied ballot of an eliminated pawn, grouped by drop batch.
type Vote struct {
	VoteID     string `gorm:"column:vote_id;primaryKey;size:190;not null"`
	VoterID    string `gorm:"column:voter_id;primaryKey;size:190;not null"`
	VoteeID    string `gorm:"column:votee_id;size:190;not null;index"`
	DropID     string `gorm:"column:drop_id;size:190;not null"`
	VoteTimeMs int64  `gorm:"column:vote_time_ms;not null;index"`
}

// TableName provides the explicit table binding for GORM.
func (Vote) TableName() string {
	return "votes"
}

// PlayerCountLog samples how many pawns were connected at a point in time.
type PlayerCountLog struct {
	LogID         string `gorm:"column:log_id;primaryKey;size:190;not null"`
	PlayersOnline int    `gorm:"column:players_online;not null"`
	TimestampMs   int64  `gorm:"column:timestamp_ms;not null;index"`
}

// TableName provides the explicit table binding for GORM.
func (PlayerCountLog) TableName() string {
	return "player_count_logs"
}

// Models lists every persisted type for schema migration.
func Models() []interface{} {
	return []interface{}{&Pawn{}, &Event{}, &Vote{}, &PlayerCountLog{}}
}

func truncateText(text string) string {
	if len(text) <= maxEventTextLength {
		return text
	}
	return strings.ToValidUTF8(text[:maxEventTextLength], "")
}
