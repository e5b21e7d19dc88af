package netclient

import (
	"fmt"
	"time"

	"github.com/opd-ai/deliverify/crypto"
)

// ConsentState is a participant's recorded preference for an entity
// (a peer inbox or a conversation).
type ConsentState uint8

const (
	// ConsentUnknown means no preference has been recorded.
	ConsentUnknown ConsentState = iota
	// ConsentAllowed means the entity is allowed.
	ConsentAllowed
	// ConsentDenied means the entity is blocked.
	ConsentDenied
)

// String returns the stable name of the consent state.
func (s ConsentState) String() string {
	switch s {
	case ConsentAllowed:
		return "allowed"
	case ConsentDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// ConversationKind distinguishes direct conversations from groups.
type ConversationKind uint8

const (
	// ConversationDM is a two-party direct conversation.
	ConversationDM ConversationKind = iota
	// ConversationGroup is a multi-party group conversation.
	ConversationGroup
)

// Conversation describes one conversation as seen by a client.
type Conversation struct {
	ID             string
	Kind           ConversationKind
	Name           string
	CreatorInboxID string
	CreatedAt      time.Time
}

// MemberInfo describes one conversation member.
type MemberInfo struct {
	InboxID string
	Name    string
	Address string
}

// Snapshot captures one client's view of a conversation. Snapshots from
// different clients of the same conversation are compared to detect forks:
// a healthy conversation yields identical snapshots everywhere.
type Snapshot struct {
	ConversationID string
	Name           string
	Epoch          uint64
	MemberInboxIDs []string
}

// GroupOptions configures group creation.
type GroupOptions struct {
	Name string
}

// Client is one authenticated connection to the messaging network. A Client
// is owned exclusively by the Worker that created it; two workers never
// share a Client.
type Client interface {
	// InboxID returns the stable inbox identifier of this client's identity.
	InboxID() string
	// InstallationID returns the installation this client runs as.
	InstallationID() string
	// Address returns the printable address of this client's identity.
	Address() string

	// CreateGroup creates a group containing the given member inboxes.
	CreateGroup(memberInboxIDs []string, opts GroupOptions) (*Conversation, error)
	// CreateDM creates (or returns) the direct conversation with a peer.
	CreateDM(peerInboxID string) (*Conversation, error)
	// Send publishes a payload into a conversation.
	Send(conversationID, content string) error
	// UpdateGroupName changes a group's display name.
	UpdateGroupName(conversationID, name string) error
	// AddMembers adds inboxes to a group.
	AddMembers(conversationID string, inboxIDs []string) error
	// ListMembers reports the current membership of a conversation.
	ListMembers(conversationID string) ([]MemberInfo, error)
	// ConversationSnapshot captures this client's view of a conversation.
	ConversationSnapshot(conversationID string) (*Snapshot, error)

	// ConsentState reports the recorded preference for an entity.
	ConsentState(entityID string) (ConsentState, error)
	// SetConsentState records a preference for an entity. The change is
	// streamed back to every installation of this identity.
	SetConsentState(entityID string, state ConsentState) error

	// Subscribe opens one live feed of the given kind. The returned
	// subscription delivers events in network order until Close, client
	// shutdown, or a terminal ErrorEvent.
	Subscribe(kind StreamKind) (Subscription, error)

	// Close tears down the connection and closes all subscriptions.
	// Close is idempotent.
	Close() error
}

// Subscription is one live event feed.
type Subscription interface {
	// Events returns the feed channel. The channel closes after Close or a
	// terminal ErrorEvent.
	Events() <-chan Event
	// Close detaches the subscription. Safe to call multiple times.
	Close()
}

// Network is the connect boundary: anything that can authenticate an
// identity and hand back a live client.
type Network interface {
	// Connect authenticates an identity and opens its persisted local state
	// rooted at statePath. Fails with a *ConnectionError if authentication
	// or local state cannot be established.
	Connect(identity *crypto.Identity, statePath string) (Client, error)
}

// ConnectionError reports that an identity failed to authenticate or open
// its local state. Fatal to that worker only.
type ConnectionError struct {
	Name string
	Err  error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection failed for %s: %v", e.Name, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *ConnectionError) Unwrap() error { return e.Err }

// SubscriptionError reports that a live feed broke after a successful
// connect. It fails in-flight collections on that worker but never crashes
// the pool.
type SubscriptionError struct {
	StreamKind StreamKind
	Err        error
}

// Error implements the error interface.
func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("%s stream failed: %v", e.StreamKind, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *SubscriptionError) Unwrap() error { return e.Err }
