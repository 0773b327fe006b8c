package notify

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/lettuce/backend/internal/game"
	"go.uber.org/zap"
)

const defaultQueueSize = 256

var errMissingSender = errors.New("notify: sender is required")

// LivePublisher pushes messages to connected clients.
type LivePublisher interface {
	Broadcast(messageType string, payload interface{})
}

// DispatcherConfig describes the collaborators of a Dispatcher.
type DispatcherConfig struct {
	Sender         Sender
	Live           LivePublisher
	QueueSize      int
	DebounceWindow time.Duration
	PreviewBaseURL string
	AfterFunc      AfterFunc
	SendTimeout    time.Duration
	Logger         *zap.Logger
}

// Dispatcher fans committed events out to live clients and the external channel.
// Delivery is best effort: a full queue or a failed send drops the message.
type Dispatcher struct {
	sender      Sender
	live        LivePublisher
	debouncer   *Debouncer
	queue       chan WebhookMessage
	sendTimeout time.Duration
	logger      *zap.Logger
}

// NewDispatcher constructs a Dispatcher. Run must be started to drain the queue.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Sender == nil {
		return nil, errMissingSender
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	sendTimeout := cfg.SendTimeout
	if sendTimeout <= 0 {
		sendTimeout = defaultWebhookTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	dispatcher := &Dispatcher{
		sender:      cfg.Sender,
		live:        cfg.Live,
		queue:       make(chan WebhookMessage, queueSize),
		sendTimeout: sendTimeout,
		logger:      logger,
	}
	debouncer, err := NewDebouncer(DebouncerConfig{
		Window:         cfg.DebounceWindow,
		PreviewBaseURL: cfg.PreviewBaseURL,
		Emit:           dispatcher.enqueue,
		AfterFunc:      cfg.AfterFunc,
		Logger:         logger.Named("debouncer"),
	})
	if err != nil {
		return nil, err
	}
	dispatcher.debouncer = debouncer
	return dispatcher, nil
}

// Dispatch routes one committed event. It never blocks on I/O.
func (d *Dispatcher) Dispatch(event game.Event) {
	if event.ActionType != game.ActionTypeInternalOnly {
		d.Broadcast(game.LiveEvent, event.View())
	}
	if event.ActionType == game.ActionTypeMove {
		d.debouncer.Track(event)
		return
	}
	d.enqueue(WebhookMessage{Content: event.EventText})
}

// Broadcast forwards a live update to connected clients.
func (d *Dispatcher) Broadcast(messageType string, payload interface{}) {
	if d.live == nil {
		return
	}
	d.live.Broadcast(messageType, payload)
}

// Run drains the queue until ctx is done, then cancels pending move summaries.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer d.debouncer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case message := <-d.queue:
			d.deliver(ctx, message)
		}
	}
}

func (d *Dispatcher) enqueue(message WebhookMessage) {
	select {
	case d.queue <- message:
	default:
		d.logger.Warn("notification queue full, message dropped",
			zap.Int("queue_size", cap(d.queue)),
			zap.Int("content_length", len(message.Content)))
	}
}

func (d *Dispatcher) deliver(ctx context.Context, message WebhookMessage) {
	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()
	if err := d.sender.Send(sendCtx, message); err != nil {
		d.logger.Error("notification delivery failed", zap.Error(err))
	}
}
