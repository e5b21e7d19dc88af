package netclient

import "time"

// StreamKind identifies one live subscription feed on a client.
type StreamKind uint8

const (
	// KindNone disables streaming.
	KindNone StreamKind = iota
	// KindMessage streams inbound conversation messages.
	KindMessage
	// KindConversation streams new conversation invites.
	KindConversation
	// KindConsent streams consent preference changes.
	KindConsent
	// KindGroupUpdated streams group metadata and membership changes.
	KindGroupUpdated
)

// String returns the stable name of the stream kind, used in logs and metric
// labels.
func (k StreamKind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindConversation:
		return "conversation"
	case KindConsent:
		return "consent"
	case KindGroupUpdated:
		return "group_updated"
	default:
		return "none"
	}
}

// Event is the closed sum of everything a subscription can deliver.
// Collectors match on the concrete type, so predicate checks are exhaustive
// rather than stringly-typed.
type Event interface {
	// Kind reports which stream feed produced the event.
	Kind() StreamKind
	// EventID is unique per delivered event and is used to suppress
	// duplicate deliveries from a noisy feed.
	EventID() string
	// ReceivedAt is the local arrival time, used for latency reporting.
	ReceivedAt() time.Time
}

// EventMeta carries the fields shared by every event type. Network
// implementations fill it at delivery time.
type EventMeta struct {
	ID      string
	Arrived time.Time
}

// EventID implements part of Event.
func (m EventMeta) EventID() string { return m.ID }

// ReceivedAt implements part of Event.
func (m EventMeta) ReceivedAt() time.Time { return m.Arrived }

// MessageEvent is one inbound conversation message.
type MessageEvent struct {
	EventMeta
	ConversationID string
	SenderInboxID  string
	Content        string
}

// Kind implements Event.
func (MessageEvent) Kind() StreamKind { return KindMessage }

// ConversationEvent announces a conversation the client was just added to.
type ConversationEvent struct {
	EventMeta
	ConversationID string
	CreatorInboxID string
	Name           string
}

// Kind implements Event.
func (ConversationEvent) Kind() StreamKind { return KindConversation }

// ConsentEvent is a consent preference change for one entity.
type ConsentEvent struct {
	EventMeta
	EntityID string
	State    ConsentState
}

// Kind implements Event.
func (ConsentEvent) Kind() StreamKind { return KindConsent }

// GroupUpdatedEvent is a group metadata or membership change.
type GroupUpdatedEvent struct {
	EventMeta
	ConversationID   string
	InitiatorInboxID string
	Name             string
	AddedInboxIDs    []string
	RemovedInboxIDs  []string
}

// Kind implements Event.
func (GroupUpdatedEvent) Kind() StreamKind { return KindGroupUpdated }

// ErrorEvent terminates a subscription feed. It is delivered once, after
// which the feed channel closes; in-flight collectors fail with Err.
type ErrorEvent struct {
	EventMeta
	StreamKind StreamKind
	Err        error
}

// Kind implements Event.
func (e ErrorEvent) Kind() StreamKind { return e.StreamKind }
