package game

// Live message types pushed to every connected client.
const (
	LiveMoveTo      = "move_to"
	LiveAttack      = "attack"
	LiveGift        = "gift"
	LiveSpeak       = "speak"
	LiveWinner      = "winner"
	LiveLettuceDrop = "lettuce_drop"
	LiveEvent       = "event"
)

// Notifier receives committed events and live updates. Implementations must not block.
type Notifier interface {
	Dispatch(event Event)
	Broadcast(messageType string, payload interface{})
}

// DropTrigger runs the drop job outside its schedule.
type DropTrigger interface {
	TriggerDrop()
}

type MoveBroadcast struct {
	PawnID  string `json:"pawnId"`
	X       int    `json:"x"`
	Y       int    `json:"y"`
	Actions int    `json:"actions"`
}

type AttackBroadcast struct {
	AttackerID string `json:"attackerId"`
	TargetID   string `json:"targetId"`
}

type GiftBroadcast struct {
	FromID string `json:"fromId"`
	ToID   string `json:"toId"`
	Amount int    `json:"amount"`
}

type SpeakBroadcast struct {
	PawnID  string `json:"pawnId"`
	Message string `json:"message"`
}

type WinnerBroadcast struct {
	PawnID string `json:"pawnId"`
}

type DropBroadcast struct {
	Amount int `json:"amount"`
}

type noopNotifier struct{}

func (noopNotifier) Dispatch(Event) {}

func (noopNotifier) Broadcast(string, interface{}) {}
