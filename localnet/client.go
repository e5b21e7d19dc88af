package localnet

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/opd-ai/deliverify/crypto"
	"github.com/opd-ai/deliverify/netclient"
)

// ErrClientClosed indicates an operation on a closed client.
var ErrClientClosed = errors.New("client closed")

// ErrNoConversationKey indicates the client holds no key for a conversation
// it was asked to read or write.
var ErrNoConversationKey = errors.New("no conversation key")

// subscriptionBuffer is the per-subscription channel capacity. Collectors
// drain promptly; the buffer only absorbs short bursts.
const subscriptionBuffer = 256

// Wire frame types pushed from the hub.
const (
	wireMessage      = "message"
	wireConversation = "conversation"
	wireConsent      = "consent"
	wireGroupUpdated = "group_updated"
)

// wireEvent is the hub-to-client frame, serialized and sealed through the
// Noise session.
type wireEvent struct {
	ID               string   `json:"id"`
	Type             string   `json:"type"`
	ConversationID   string   `json:"conversation_id,omitempty"`
	SenderInboxID    string   `json:"sender_inbox_id,omitempty"`
	Sealed           []byte   `json:"sealed,omitempty"`
	Name             string   `json:"name,omitempty"`
	CreatorInboxID   string   `json:"creator_inbox_id,omitempty"`
	ConvKey          string   `json:"conv_key,omitempty"`
	EntityID         string   `json:"entity_id,omitempty"`
	Consent          uint8    `json:"consent,omitempty"`
	InitiatorInboxID string   `json:"initiator_inbox_id,omitempty"`
	Added            []string `json:"added,omitempty"`
	Removed          []string `json:"removed,omitempty"`
}

// subscription is one live feed handed to a subscriber.
type subscription struct {
	kind   netclient.StreamKind
	ch     chan netclient.Event
	mu     sync.Mutex
	closed bool
}

// Events implements netclient.Subscription.
func (s *subscription) Events() <-chan netclient.Event { return s.ch }

// Close implements netclient.Subscription.
func (s *subscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// dispatch offers an event without blocking. A subscriber that stopped
// draining loses events rather than stalling the delivery loop.
func (s *subscription) dispatch(ev netclient.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- ev:
		return true
	default:
		return false
	}
}

// Client is one installation's connection to the local network. It
// implements netclient.Client.
type Client struct {
	identity   *crypto.Identity
	net        *Network
	store      *StateStore
	session    *session // client half: opens hub frames
	hubSession *session // hub half: seals frames for this client

	mu        sync.Mutex
	convKeys  map[string][32]byte
	subs      map[netclient.StreamKind][]*subscription
	closed    bool
	deliverMu sync.Mutex // serializes frame delivery, keeps nonces in step
}

// InboxID implements netclient.Client.
func (c *Client) InboxID() string { return c.identity.InboxID() }

// InstallationID implements netclient.Client.
func (c *Client) InstallationID() string { return c.identity.InstallationID }

// Address implements netclient.Client.
func (c *Client) Address() string { return c.identity.Address() }

// Store exposes the installation's persisted state, used by tests to check
// what actually reached disk.
func (c *Client) Store() *StateStore { return c.store }

// CreateGroup implements netclient.Client.
func (c *Client) CreateGroup(memberInboxIDs []string, opts netclient.GroupOptions) (*netclient.Conversation, error) {
	if c.isClosed() {
		return nil, ErrClientClosed
	}
	conv, key, err := c.net.createGroup(c, memberInboxIDs, opts)
	if err != nil {
		return nil, err
	}
	c.rememberKey(conv.ID, key)
	return conv, nil
}

// CreateDM implements netclient.Client.
func (c *Client) CreateDM(peerInboxID string) (*netclient.Conversation, error) {
	if c.isClosed() {
		return nil, ErrClientClosed
	}
	conv, key, err := c.net.createDM(c, peerInboxID)
	if err != nil {
		return nil, err
	}
	c.rememberKey(conv.ID, key)
	return conv, nil
}

// Send implements netclient.Client. The payload is sealed with the
// conversation key before it leaves the client.
func (c *Client) Send(conversationID, content string) error {
	if c.isClosed() {
		return ErrClientClosed
	}

	key, ok := c.conversationKey(conversationID)
	if !ok {
		return fmt.Errorf("%w for %s", ErrNoConversationKey, shortID(conversationID))
	}

	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return fmt.Errorf("failed to generate message nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(content), &nonce, &key)

	return c.net.publishMessage(c, conversationID, sealed)
}

// UpdateGroupName implements netclient.Client.
func (c *Client) UpdateGroupName(conversationID, name string) error {
	if c.isClosed() {
		return ErrClientClosed
	}
	return c.net.updateGroupName(c, conversationID, name)
}

// AddMembers implements netclient.Client.
func (c *Client) AddMembers(conversationID string, inboxIDs []string) error {
	if c.isClosed() {
		return ErrClientClosed
	}
	return c.net.addMembers(c, conversationID, inboxIDs)
}

// ListMembers implements netclient.Client.
func (c *Client) ListMembers(conversationID string) ([]netclient.MemberInfo, error) {
	if c.isClosed() {
		return nil, ErrClientClosed
	}
	return c.net.listMembers(conversationID)
}

// ConversationSnapshot implements netclient.Client.
func (c *Client) ConversationSnapshot(conversationID string) (*netclient.Snapshot, error) {
	if c.isClosed() {
		return nil, ErrClientClosed
	}
	return c.net.snapshot(conversationID)
}

// ConsentState implements netclient.Client.
func (c *Client) ConsentState(entityID string) (netclient.ConsentState, error) {
	if c.isClosed() {
		return netclient.ConsentUnknown, ErrClientClosed
	}
	return c.net.consentState(c, entityID), nil
}

// SetConsentState implements netclient.Client.
func (c *Client) SetConsentState(entityID string, state netclient.ConsentState) error {
	if c.isClosed() {
		return ErrClientClosed
	}
	c.net.setConsent(c, entityID, state)
	return nil
}

// Subscribe implements netclient.Client.
func (c *Client) Subscribe(kind netclient.StreamKind) (netclient.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClientClosed
	}
	if kind == netclient.KindNone {
		return nil, errors.New("cannot subscribe to stream kind none")
	}

	sub := &subscription{kind: kind, ch: make(chan netclient.Event, subscriptionBuffer)}
	c.subs[kind] = append(c.subs[kind], sub)
	return sub, nil
}

// BreakStream severs every live feed of one kind with a terminal error, as
// the real network does when a subscription breaks server-side. Harness
// tests use it to exercise the error path.
func (c *Client) BreakStream(kind netclient.StreamKind, cause error) {
	c.mu.Lock()
	subs := c.subs[kind]
	c.subs[kind] = nil
	c.mu.Unlock()

	ev := netclient.ErrorEvent{
		EventMeta:  netclient.EventMeta{ID: "error-" + kind.String(), Arrived: time.Now()},
		StreamKind: kind,
		Err:        &netclient.SubscriptionError{StreamKind: kind, Err: cause},
	}
	for _, sub := range subs {
		sub.dispatch(ev)
		sub.Close()
	}
}

// Close implements netclient.Client. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	var all []*subscription
	for _, subs := range c.subs {
		all = append(all, subs...)
	}
	c.subs = make(map[netclient.StreamKind][]*subscription)
	c.mu.Unlock()

	for _, sub := range all {
		sub.Close()
	}

	c.session.Close()
	c.hubSession.Close()
	c.net.unregister(c)
	return c.store.Close()
}

// receiveFrame is the delivery entry point: the hub seals a frame into this
// client's session, the client opens it, decodes, and dispatches.
func (c *Client) receiveFrame(frame wireEvent) error {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	if c.isClosed() {
		return ErrClientClosed
	}

	plaintext, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	sealed, err := c.hubSession.Seal(plaintext)
	if err != nil {
		return err
	}
	opened, err := c.session.Open(sealed)
	if err != nil {
		return err
	}

	var decoded wireEvent
	if err := json.Unmarshal(opened, &decoded); err != nil {
		return fmt.Errorf("failed to decode frame: %w", err)
	}
	return c.handleFrame(decoded)
}

// handleFrame converts a decoded frame into a typed event and fans it out.
func (c *Client) handleFrame(frame wireEvent) error {
	meta := netclient.EventMeta{ID: frame.ID, Arrived: time.Now()}

	switch frame.Type {
	case wireMessage:
		key, ok := c.conversationKey(frame.ConversationID)
		if !ok {
			return fmt.Errorf("%w for %s", ErrNoConversationKey, shortID(frame.ConversationID))
		}
		if len(frame.Sealed) < 24 {
			return fmt.Errorf("sealed payload too short: %d bytes", len(frame.Sealed))
		}
		var nonce [24]byte
		copy(nonce[:], frame.Sealed[:24])
		content, ok := secretbox.Open(nil, frame.Sealed[24:], &nonce, &key)
		if !ok {
			return errors.New("failed to unseal message payload")
		}

		ev := netclient.MessageEvent{
			EventMeta:      meta,
			ConversationID: frame.ConversationID,
			SenderInboxID:  frame.SenderInboxID,
			Content:        string(content),
		}
		if err := c.store.LogMessage(ev); err != nil {
			return err
		}
		c.fanOut(netclient.KindMessage, ev)

	case wireConversation:
		if frame.ConvKey != "" {
			raw, err := hex.DecodeString(frame.ConvKey)
			if err != nil || len(raw) != 32 {
				return errors.New("invalid conversation key in invite")
			}
			var key [32]byte
			copy(key[:], raw)
			c.rememberKey(frame.ConversationID, key)
		}
		c.fanOut(netclient.KindConversation, netclient.ConversationEvent{
			EventMeta:      meta,
			ConversationID: frame.ConversationID,
			CreatorInboxID: frame.CreatorInboxID,
			Name:           frame.Name,
		})

	case wireConsent:
		c.fanOut(netclient.KindConsent, netclient.ConsentEvent{
			EventMeta: meta,
			EntityID:  frame.EntityID,
			State:     netclient.ConsentState(frame.Consent),
		})

	case wireGroupUpdated:
		c.fanOut(netclient.KindGroupUpdated, netclient.GroupUpdatedEvent{
			EventMeta:        meta,
			ConversationID:   frame.ConversationID,
			InitiatorInboxID: frame.InitiatorInboxID,
			Name:             frame.Name,
			AddedInboxIDs:    frame.Added,
			RemovedInboxIDs:  frame.Removed,
		})

	default:
		return fmt.Errorf("unknown frame type %q", frame.Type)
	}
	return nil
}

// fanOut offers an event to every live subscription of its kind.
func (c *Client) fanOut(kind netclient.StreamKind, ev netclient.Event) {
	c.mu.Lock()
	subs := append([]*subscription(nil), c.subs[kind]...)
	c.mu.Unlock()

	for _, sub := range subs {
		sub.dispatch(ev)
	}
}

func (c *Client) rememberKey(conversationID string, key [32]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.convKeys[conversationID] = key
}

func (c *Client) conversationKey(conversationID string) ([32]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key, ok := c.convKeys[conversationID]
	return key, ok
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
