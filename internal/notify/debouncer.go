package notify

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/lettuce/backend/internal/game"
	"go.uber.org/zap"
)

// DefaultDebounceWindow is the quiet period after which a pawn's moves are summarized.
const DefaultDebounceWindow = 15 * time.Second

// Timer is the cancelable handle of a delayed call.
type Timer interface {
	Stop() bool
}

// AfterFunc arms fn to run once after d.
type AfterFunc func(d time.Duration, fn func()) Timer

func realAfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// DebouncerConfig describes a Debouncer.
type DebouncerConfig struct {
	Window         time.Duration
	PreviewBaseURL string
	Emit           func(WebhookMessage)
	AfterFunc      AfterFunc
	Logger         *zap.Logger
}

// Debouncer coalesces a pawn's consecutive moves into one summary message.
type Debouncer struct {
	mu             sync.Mutex
	trackers       map[string]*moveTracker
	window         time.Duration
	previewBaseURL string
	emit           func(WebhookMessage)
	afterFunc      AfterFunc
	logger         *zap.Logger
	stopped        bool
}

type moveTracker struct {
	name       string
	startX     int
	startY     int
	endX       int
	endY       int
	timer      Timer
	generation uint64
}

// NewDebouncer constructs a Debouncer.
func NewDebouncer(cfg DebouncerConfig) (*Debouncer, error) {
	if cfg.Emit == nil {
		return nil, fmt.Errorf("notify: debouncer requires an emit function")
	}
	window := cfg.Window
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	afterFunc := cfg.AfterFunc
	if afterFunc == nil {
		afterFunc = realAfterFunc
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Debouncer{
		trackers:       make(map[string]*moveTracker),
		window:         window,
		previewBaseURL: strings.TrimRight(strings.TrimSpace(cfg.PreviewBaseURL), "/"),
		emit:           cfg.Emit,
		afterFunc:      afterFunc,
		logger:         logger,
	}, nil
}

// Track records a committed move and (re)arms the pawn's quiet timer.
func (d *Debouncer) Track(event game.Event) {
	pawnID := event.ActionByID
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	tracker, ok := d.trackers[pawnID]
	if !ok {
		tracker = &moveTracker{
			name:   event.ActorName,
			startX: event.OldX,
			startY: event.OldY,
		}
		d.trackers[pawnID] = tracker
	} else {
		tracker.timer.Stop()
	}
	tracker.endX = event.NewX
	tracker.endY = event.NewY
	if event.ActorName != "" {
		tracker.name = event.ActorName
	}
	tracker.generation++
	generation := tracker.generation
	tracker.timer = d.afterFunc(d.window, func() {
		d.fire(pawnID, generation)
	})
}

// Pending returns the number of pawns with an armed timer.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.trackers)
}

// Stop cancels every armed timer. Later moves are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for pawnID, tracker := range d.trackers {
		tracker.timer.Stop()
		delete(d.trackers, pawnID)
	}
	d.stopped = true
}

func (d *Debouncer) fire(pawnID string, generation uint64) {
	d.mu.Lock()
	tracker, ok := d.trackers[pawnID]
	if !ok || tracker.generation != generation {
		d.mu.Unlock()
		return
	}
	delete(d.trackers, pawnID)
	d.mu.Unlock()

	d.logger.Debug("move summary ready",
		zap.String("pawn_id", pawnID),
		zap.Int("from_x", tracker.startX),
		zap.Int("from_y", tracker.startY),
		zap.Int("to_x", tracker.endX),
		zap.Int("to_y", tracker.endY))
	d.emit(d.summarize(tracker))
}

func (d *Debouncer) summarize(tracker *moveTracker) WebhookMessage {
	message := WebhookMessage{
		Content: fmt.Sprintf("%s moved from %d, %d to %d, %d",
			tracker.name, tracker.startX, tracker.startY, tracker.endX, tracker.endY),
	}
	if d.previewBaseURL != "" {
		previewURL := fmt.Sprintf("%s/preview?arrowFrom=%d,%d&arrowTo=%d,%d",
			d.previewBaseURL, tracker.startX, tracker.startY, tracker.endX, tracker.endY)
		message.Embeds = []Embed{{Image: &EmbedImage{URL: previewURL}}}
	}
	return message
}
