package caption

import (
	"sync"
	"time"
)

// EventType represents the type of pipeline event.
type EventType string

const (
	// Run lifecycle events
	EventRunStarted   EventType = "run_started"
	EventRunCompleted EventType = "run_completed"

	// Per-image events
	EventImageStarted   EventType = "image_started"
	EventImageCompleted EventType = "image_completed"

	// Caption and merge events
	EventCaptionCompleted EventType = "caption_completed"
	EventCaptionFailed    EventType = "caption_failed"
	EventCallRetrying     EventType = "call_retrying"
	EventMergeCompleted   EventType = "merge_completed"
	EventMergeFailed      EventType = "merge_failed"

	// Output events
	EventSummaryWritten EventType = "summary_written"

	// Sketch generation events
	EventSketchStarted   EventType = "sketch_started"
	EventSketchCompleted EventType = "sketch_completed"
	EventSketchFailed    EventType = "sketch_failed"
)

// Event represents an observable pipeline event with typed data.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// EventEmitter manages event listeners and dispatches events.
type EventEmitter struct {
	mu        sync.RWMutex
	listeners []func(Event)
}

// NewEventEmitter creates a new EventEmitter.
func NewEventEmitter() *EventEmitter {
	return &EventEmitter{
		listeners: make([]func(Event), 0),
	}
}

// On registers a listener function to receive events.
// Listeners are called synchronously in registration order.
func (e *EventEmitter) On(listener func(Event)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, listener)
}

// Emit dispatches an event to all registered listeners.
func (e *EventEmitter) Emit(event Event) {
	if e == nil {
		return
	}
	e.mu.RLock()
	listeners := make([]func(Event), len(e.listeners))
	copy(listeners, e.listeners)
	e.mu.RUnlock()

	for _, listener := range listeners {
		listener(event)
	}
}

// ListenerCount returns the number of registered listeners.
func (e *EventEmitter) ListenerCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners)
}

// Helper constructors for creating typed events

// RunStartedEvent creates a run_started event.
func RunStartedEvent(input string, imageCount int) Event {
	return Event{
		Type:      EventRunStarted,
		Timestamp: time.Now(),
		Data: map[string]any{
			"input":       input,
			"image_count": imageCount,
		},
	}
}

// RunCompletedEvent creates a run_completed event.
func RunCompletedEvent(duration time.Duration, successful, failed int) Event {
	return Event{
		Type:      EventRunCompleted,
		Timestamp: time.Now(),
		Data: map[string]any{
			"duration_ms": duration.Milliseconds(),
			"successful":  successful,
			"failed":      failed,
		},
	}
}

// ImageStartedEvent creates an image_started event.
func ImageStartedEvent(image string, index, total int) Event {
	return Event{
		Type:      EventImageStarted,
		Timestamp: time.Now(),
		Data: map[string]any{
			"image": image,
			"index": index,
			"total": total,
		},
	}
}

// ImageCompletedEvent creates an image_completed event.
func ImageCompletedEvent(image string, success bool, duration time.Duration) Event {
	return Event{
		Type:      EventImageCompleted,
		Timestamp: time.Now(),
		Data: map[string]any{
			"image":       image,
			"success":     success,
			"duration_ms": duration.Milliseconds(),
		},
	}
}

// CaptionCompletedEvent creates a caption_completed event.
func CaptionCompletedEvent(image, captioner string, duration time.Duration) Event {
	return Event{
		Type:      EventCaptionCompleted,
		Timestamp: time.Now(),
		Data: map[string]any{
			"image":       image,
			"captioner":   captioner,
			"duration_ms": duration.Milliseconds(),
		},
	}
}

// CaptionFailedEvent creates a caption_failed event.
func CaptionFailedEvent(image, captioner, err string) Event {
	return Event{
		Type:      EventCaptionFailed,
		Timestamp: time.Now(),
		Data: map[string]any{
			"image":     image,
			"captioner": captioner,
			"error":     err,
		},
	}
}

// CallRetryingEvent creates a call_retrying event.
func CallRetryingEvent(stage string, attempt int, delay time.Duration, err string) Event {
	return Event{
		Type:      EventCallRetrying,
		Timestamp: time.Now(),
		Data: map[string]any{
			"stage":    stage,
			"attempt":  attempt,
			"delay_ms": delay.Milliseconds(),
			"error":    err,
		},
	}
}

// MergeCompletedEvent creates a merge_completed event.
func MergeCompletedEvent(image string, captionCount int, duration time.Duration) Event {
	return Event{
		Type:      EventMergeCompleted,
		Timestamp: time.Now(),
		Data: map[string]any{
			"image":         image,
			"caption_count": captionCount,
			"duration_ms":   duration.Milliseconds(),
		},
	}
}

// MergeFailedEvent creates a merge_failed event.
func MergeFailedEvent(image, err string) Event {
	return Event{
		Type:      EventMergeFailed,
		Timestamp: time.Now(),
		Data: map[string]any{
			"image": image,
			"error": err,
		},
	}
}

// SummaryWrittenEvent creates a summary_written event.
func SummaryWrittenEvent(path string) Event {
	return Event{
		Type:      EventSummaryWritten,
		Timestamp: time.Now(),
		Data: map[string]any{
			"path": path,
		},
	}
}

// SketchStartedEvent creates a sketch_started event.
func SketchStartedEvent(model, input string) Event {
	return Event{
		Type:      EventSketchStarted,
		Timestamp: time.Now(),
		Data: map[string]any{
			"model": model,
			"input": input,
		},
	}
}

// SketchCompletedEvent creates a sketch_completed event.
func SketchCompletedEvent(model string, sketches int, duration time.Duration) Event {
	return Event{
		Type:      EventSketchCompleted,
		Timestamp: time.Now(),
		Data: map[string]any{
			"model":       model,
			"sketches":    sketches,
			"duration_ms": duration.Milliseconds(),
		},
	}
}

// SketchFailedEvent creates a sketch_failed event.
func SketchFailedEvent(model, err string) Event {
	return Event{
		Type:      EventSketchFailed,
		Timestamp: time.Now(),
		Data: map[string]any{
			"model": model,
			"error": err,
		},
	}
}
