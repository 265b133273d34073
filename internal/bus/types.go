package bus

import (
	"context"
	"time"
)

// EventType tags a message. The set is closed; Wildcard is only accepted by
// Subscribe/Observe for diagnostics.
type EventType string

const (
	ReviewSessionStarted   EventType = "REVIEW_SESSION_STARTED"
	ReviewSessionCompleted EventType = "REVIEW_SESSION_COMPLETED"
	MiniGameCompleted      EventType = "MINI_GAME_COMPLETED"
	MasteryUpdated         EventType = "MASTERY_UPDATED"
	AnswerSubmitted        EventType = "ANSWER_SUBMITTED"

	FeedbackSubmitted  EventType = "FEEDBACK_SUBMITTED"
	FeedbackRejected   EventType = "FEEDBACK_REJECTED"
	MetaDataUpdated    EventType = "META_DATA_UPDATED"
	ErrorReported      EventType = "ERROR_REPORTED"
	FirstDiscovererSet EventType = "FIRST_DISCOVERER_SET"

	SynthesisRequested EventType = "SYNTHESIS_REQUESTED"
	SynthesisCompleted EventType = "SYNTHESIS_COMPLETED"
	SynthesisCacheHit  EventType = "SYNTHESIS_CACHE_HIT"

	Wildcard EventType = "*"
)

var knownTypes = map[EventType]struct{}{
	ReviewSessionStarted:   {},
	ReviewSessionCompleted: {},
	MiniGameCompleted:      {},
	MasteryUpdated:         {},
	AnswerSubmitted:        {},
	FeedbackSubmitted:      {},
	FeedbackRejected:       {},
	MetaDataUpdated:        {},
	ErrorReported:          {},
	FirstDiscovererSet:     {},
	SynthesisRequested:     {},
	SynthesisCompleted:     {},
	SynthesisCacheHit:      {},
}

// Valid reports whether t is a member of the event vocabulary.
func (t EventType) Valid() bool {
	_, ok := knownTypes[t]
	return ok
}

// Types returns the full event vocabulary in no particular order.
func Types() []EventType {
	out := make([]EventType, 0, len(knownTypes))
	for t := range knownTypes {
		out = append(out, t)
	}
	return out
}

// Message is the envelope carried by the bus.
type Message struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Payload   any       `json:"payload"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// Handler processes a message. A returned error (or a panic) is logged by
// the bus and does not stop delivery to the remaining handlers.
type Handler func(ctx context.Context, msg *Message) error

// Unsubscribe removes a subscription. Calling it more than once is a no-op.
type Unsubscribe func()
