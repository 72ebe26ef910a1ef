package agent

import (
	"log/slog"
	"time"

	"github.com/duyemura/boxassist-sub000/internal/observability"
	"github.com/duyemura/boxassist-sub000/pkg/models"
)

// DefaultEventBuffer is the stream depth handed to consumers.
const DefaultEventBuffer = 64

// defaultFinalTimeout bounds how long a final event waits for its consumer.
// Session state is persisted before the event is emitted, so an abandoned
// stream loses only the notification, not the outcome.
const defaultFinalTimeout = 5 * time.Second

// eventEmitter pushes session events onto a bounded channel. Progress
// events are dropped when the consumer falls behind so a stalled reader can
// never wedge the turn loop; final events wait up to finalTimeout because
// the consumer contract promises exactly one of them.
type eventEmitter struct {
	ch           chan models.SessionEvent
	logger       *slog.Logger
	metrics      *observability.Metrics
	closed       bool
	finalTimeout time.Duration
}

func newEventEmitter(buffer int, logger *slog.Logger, metrics *observability.Metrics) *eventEmitter {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	return &eventEmitter{
		ch:           make(chan models.SessionEvent, buffer),
		logger:       logger,
		metrics:      metrics,
		finalTimeout: defaultFinalTimeout,
	}
}

func (e *eventEmitter) events() <-chan models.SessionEvent { return e.ch }

// emit delivers one event. Returns false if a progress event was dropped.
func (e *eventEmitter) emit(ev models.SessionEvent) bool {
	if e.closed {
		return false
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	if ev.Final() {
		select {
		case e.ch <- ev:
			return true
		case <-time.After(e.finalTimeout):
			e.logger.Error("final event undeliverable, consumer gone",
				"session_id", ev.SessionID,
				"event_type", string(ev.Type))
			if e.metrics != nil {
				e.metrics.EventsDropped.WithLabelValues(string(ev.Type)).Inc()
			}
			return false
		}
	}

	select {
	case e.ch <- ev:
		return true
	default:
		e.logger.Warn("event dropped, consumer behind",
			"session_id", ev.SessionID,
			"event_type", string(ev.Type))
		if e.metrics != nil {
			e.metrics.EventsDropped.WithLabelValues(string(ev.Type)).Inc()
		}
		return false
	}
}

func (e *eventEmitter) close() {
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}
