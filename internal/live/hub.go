package live

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// MessageLiveCount carries the number of distinct pawns currently connected.
	MessageLiveCount = "live_count"

	defaultBufferSize = 32
)

// Message is one push to every connected client.
type Message struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// CountPayload is the body of a live_count message.
type CountPayload struct {
	Count int `json:"count"`
}

// HubConfig describes the optional collaborators of a Hub.
type HubConfig struct {
	BufferSize int
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Hub is the registry of live connections. Anonymous spectators subscribe with an
// empty pawn id and are not counted.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[int64]*subscriber
	nextID      int64
	bufferSize  int
	clock       func() time.Time
	logger      *zap.Logger
}

type subscriber struct {
	id     int64
	pawnID string
	stream chan Message
}

// NewHub constructs an empty registry.
func NewHub(cfg HubConfig) *Hub {
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subscribers: make(map[int64]*subscriber),
		bufferSize:  bufferSize,
		clock:       clock,
		logger:      logger,
	}
}

// Subscribe registers a connection until ctx is done or cleanup is called.
func (h *Hub) Subscribe(ctx context.Context, pawnID string) (<-chan Message, func()) {
	entry := &subscriber{
		pawnID: pawnID,
		stream: make(chan Message, h.bufferSize),
	}
	h.mu.Lock()
	h.nextID++
	entry.id = h.nextID
	h.subscribers[entry.id] = entry
	h.mu.Unlock()

	if pawnID != "" {
		h.publishCount()
	}

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			h.unregister(entry)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return entry.stream, cleanup
}

// Broadcast fans a message out to every subscriber, skipping any whose buffer is full.
func (h *Hub) Broadcast(messageType string, payload interface{}) {
	if messageType == "" {
		return
	}
	message := Message{Type: messageType, Payload: payload, Timestamp: h.clock().UTC()}

	h.mu.RLock()
	copies := make([]*subscriber, 0, len(h.subscribers))
	for _, entry := range h.subscribers {
		copies = append(copies, entry)
	}
	h.mu.RUnlock()

	dropped := 0
	for _, entry := range copies {
		select {
		case entry.stream <- message:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		h.logger.Debug("live message dropped for slow subscribers",
			zap.String("type", messageType),
			zap.Int("dropped", dropped))
	}
}

// LiveCount returns the number of distinct identified pawns connected.
func (h *Hub) LiveCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.countLocked()
}

func (h *Hub) countLocked() int {
	seen := make(map[string]struct{})
	for _, entry := range h.subscribers {
		if entry.pawnID == "" {
			continue
		}
		seen[entry.pawnID] = struct{}{}
	}
	return len(seen)
}

func (h *Hub) publishCount() {
	h.Broadcast(MessageLiveCount, CountPayload{Count: h.LiveCount()})
}

func (h *Hub) unregister(entry *subscriber) {
	h.mu.Lock()
	_, registered := h.subscribers[entry.id]
	delete(h.subscribers, entry.id)
	h.mu.Unlock()
	if registered && entry.pawnID != "" {
		h.publishCount()
	}
}
