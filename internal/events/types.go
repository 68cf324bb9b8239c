package events

import "time"

// EventType represents different types of events in the system
type EventType string

const (
	// Detection events
	EventTypeDetectionFound     EventType = "detection.found"
	EventTypeDetectionDuplicate EventType = "detection.duplicate"

	// Resource events
	EventTypeModeChanged      EventType = "resource.mode_changed"
	EventTypeThrottleApplied  EventType = "resource.throttle_applied"

	// Learning events
	EventTypeRetrainCompleted EventType = "learning.retrain_completed"

	// Session events
	EventTypeSessionStarted EventType = "session.started"
	EventTypeSessionEnded   EventType = "session.ended"

	// Error events
	EventTypeError EventType = "error"
)

// Event represents a system event with metadata
type Event struct {
	Type      EventType
	Source    string
	Timestamp time.Time
	Data      map[string]interface{}
}

// EventHandler is a function that processes an event
type EventHandler func(Event)

// SubscriptionID uniquely identifies a subscription
type SubscriptionID int64

// EventBus defines the interface for event pub/sub
type EventBus interface {
	Subscribe(eventType EventType, handler EventHandler) SubscriptionID
	Unsubscribe(id SubscriptionID)
	Publish(event Event)
	PublishAsync(event Event)
	Stop()
}

// NewDetectionFoundEvent creates a detection found event
func NewDetectionFoundEvent(question, method string, confidence float64, optionCount int) Event {
	return Event{
		Type:      EventTypeDetectionFound,
		Source:    "detection_engine",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"question":     question,
			"method":       method,
			"confidence":   confidence,
			"option_count": optionCount,
		},
	}
}

// NewDetectionDuplicateEvent creates a duplicate suppression event
func NewDetectionDuplicateEvent(question string) Event {
	return Event{
		Type:      EventTypeDetectionDuplicate,
		Source:    "detection_engine",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"question": question,
		},
	}
}

// NewModeChangedEvent creates a mode change event
func NewModeChangedEvent(mode string) Event {
	return Event{
		Type:      EventTypeModeChanged,
		Source:    "resource_monitor",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"mode": mode,
		},
	}
}

// NewThrottleAppliedEvent creates a throttle event
func NewThrottleAppliedEvent(cpuPercent, memoryMB float64) Event {
	return Event{
		Type:      EventTypeThrottleApplied,
		Source:    "resource_monitor",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"cpu_percent": cpuPercent,
			"memory_mb":   memoryMB,
		},
	}
}

// NewRetrainCompletedEvent creates a retrain completed event
func NewRetrainCompletedEvent(samples int) Event {
	return Event{
		Type:      EventTypeRetrainCompleted,
		Source:    "active_learning",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"samples": samples,
		},
	}
}

// NewSessionStartedEvent creates a session started event
func NewSessionStartedEvent(mode string) Event {
	return Event{
		Type:      EventTypeSessionStarted,
		Source:    "service",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"mode": mode,
		},
	}
}

// NewSessionEndedEvent creates a session ended event
func NewSessionEndedEvent(reason string, questionsAnswered int) Event {
	return Event{
		Type:      EventTypeSessionEnded,
		Source:    "service",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"reason":             reason,
			"questions_answered": questionsAnswered,
		},
	}
}

// NewErrorEvent creates an error event
func NewErrorEvent(source string, err error, metadata map[string]interface{}) Event {
	data := map[string]interface{}{
		"error": err.Error(),
	}
	for k, v := range metadata {
		data[k] = v
	}

	return Event{
		Type:      EventTypeError,
		Source:    source,
		Timestamp: time.Now(),
		Data:      data,
	}
}
