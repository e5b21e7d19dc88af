package localnet

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/deliverify/crypto"
	"github.com/opd-ai/deliverify/netclient"
)

// ErrUnknownConversation indicates an operation against a conversation the
// hub has never seen.
var ErrUnknownConversation = errors.New("unknown conversation")

// ErrNotMember indicates a client acted on a conversation it is not part of.
var ErrNotMember = errors.New("client is not a conversation member")

// conversation is the hub's authoritative record of one conversation.
type conversation struct {
	id        string
	kind      netclient.ConversationKind
	name      string
	creator   string
	members   map[string]bool // inbox ID -> present
	key       [32]byte        // secretbox key shared with members
	epoch     uint64          // bumps on every metadata/membership change
	createdAt time.Time
}

func (c *conversation) memberList() []string {
	members := make([]string, 0, len(c.members))
	for inboxID := range c.members {
		members = append(members, inboxID)
	}
	sort.Strings(members)
	return members
}

// Network is the in-process hub. It owns the authoritative conversation
// records and relays sealed frames to connected clients.
type Network struct {
	mu            sync.Mutex
	log           logrus.FieldLogger
	conversations map[string]*conversation
	dmIndex       map[string]string                            // sorted inbox pair -> conversation ID
	clients       map[string]map[string]*Client                // inbox ID -> installation ID -> client
	names         map[string]string                            // inbox ID -> participant name
	consent       map[string]map[string]netclient.ConsentState // inbox ID -> entity -> state
}

// NewNetwork creates an empty hub. A nil logger falls back to the standard
// logrus logger.
func NewNetwork(log logrus.FieldLogger) *Network {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Network{
		log:           log,
		conversations: make(map[string]*conversation),
		dmIndex:       make(map[string]string),
		clients:       make(map[string]map[string]*Client),
		names:         make(map[string]string),
		consent:       make(map[string]map[string]netclient.ConsentState),
	}
}

// Connect implements netclient.Network. It validates the identity, runs the
// Noise handshake, opens the installation's persisted state, and registers
// the client for delivery.
func (n *Network) Connect(identity *crypto.Identity, statePath string) (netclient.Client, error) {
	if identity == nil || identity.Keys == nil {
		return nil, &netclient.ConnectionError{Name: "?", Err: errors.New("identity has no key material")}
	}

	clientHalf, hubHalf, err := newSessionPair()
	if err != nil {
		return nil, &netclient.ConnectionError{Name: identity.Name, Err: err}
	}

	store, err := OpenStateStore(statePath, identity.EncryptionKey)
	if err != nil {
		return nil, &netclient.ConnectionError{Name: identity.Name, Err: err}
	}
	if err := store.SaveIdentity(identity); err != nil {
		store.Close()
		return nil, &netclient.ConnectionError{Name: identity.Name, Err: err}
	}

	client := &Client{
		identity:   identity,
		net:        n,
		store:      store,
		session:    clientHalf,
		hubSession: hubHalf,
		convKeys:   make(map[string][32]byte),
		subs:       make(map[netclient.StreamKind][]*subscription),
	}

	n.mu.Lock()
	inboxID := identity.InboxID()
	if n.clients[inboxID] == nil {
		n.clients[inboxID] = make(map[string]*Client)
	}
	if existing, ok := n.clients[inboxID][identity.InstallationID]; ok && !existing.isClosed() {
		n.mu.Unlock()
		store.Close()
		return nil, &netclient.ConnectionError{
			Name: identity.Name,
			Err:  fmt.Errorf("installation %s already connected", identity.InstallationID),
		}
	}
	n.clients[inboxID][identity.InstallationID] = client
	n.names[inboxID] = identity.Name
	n.mu.Unlock()

	n.log.WithFields(logrus.Fields{
		"function":     "Connect",
		"name":         identity.Name,
		"installation": identity.InstallationID,
		"inbox_id":     shortID(inboxID),
	}).Debug("Client connected to local network")

	return client, nil
}

// unregister removes a closed client from delivery.
func (n *Network) unregister(c *Client) {
	n.mu.Lock()
	defer n.mu.Unlock()

	inboxID := c.InboxID()
	if installs, ok := n.clients[inboxID]; ok {
		if installs[c.InstallationID()] == c {
			delete(installs, c.InstallationID())
		}
		if len(installs) == 0 {
			delete(n.clients, inboxID)
		}
	}
}

// createGroup builds a group conversation and invites every member client
// except the creating one.
func (n *Network) createGroup(creator *Client, memberInboxIDs []string, opts netclient.GroupOptions) (*netclient.Conversation, [32]byte, error) {
	var key [32]byte
	if _, err := rand.Read(key[:]); err != nil {
		return nil, key, fmt.Errorf("failed to generate conversation key: %w", err)
	}

	conv := &conversation{
		id:        uuid.NewString(),
		kind:      netclient.ConversationGroup,
		name:      opts.Name,
		creator:   creator.InboxID(),
		members:   map[string]bool{creator.InboxID(): true},
		key:       key,
		epoch:     1,
		createdAt: time.Now(),
	}
	for _, inboxID := range memberInboxIDs {
		conv.members[inboxID] = true
	}

	n.mu.Lock()
	n.conversations[conv.id] = conv
	targets := n.memberClientsLocked(conv)
	n.mu.Unlock()

	n.log.WithFields(logrus.Fields{
		"function":        "createGroup",
		"conversation_id": shortID(conv.id),
		"name":            conv.name,
		"members":         len(conv.members),
	}).Debug("Group created")

	invite := wireEvent{
		Type:           wireConversation,
		ConversationID: conv.id,
		Name:           conv.name,
		CreatorInboxID: conv.creator,
		ConvKey:        hex.EncodeToString(key[:]),
	}
	for _, target := range targets {
		if target == creator {
			continue
		}
		n.push(target, invite)
	}

	return conversationInfo(conv), key, nil
}

// createDM returns the direct conversation between two inboxes, creating it
// on first use. Both sides always resolve to the same conversation.
func (n *Network) createDM(creator *Client, peerInboxID string) (*netclient.Conversation, [32]byte, error) {
	pair := []string{creator.InboxID(), peerInboxID}
	sort.Strings(pair)
	pairKey := strings.Join(pair, ":")

	n.mu.Lock()
	if id, ok := n.dmIndex[pairKey]; ok {
		conv := n.conversations[id]
		key := conv.key
		n.mu.Unlock()
		return conversationInfo(conv), key, nil
	}
	n.mu.Unlock()

	var key [32]byte
	if _, err := rand.Read(key[:]); err != nil {
		return nil, key, fmt.Errorf("failed to generate conversation key: %w", err)
	}

	conv := &conversation{
		id:        uuid.NewString(),
		kind:      netclient.ConversationDM,
		creator:   creator.InboxID(),
		members:   map[string]bool{creator.InboxID(): true, peerInboxID: true},
		key:       key,
		epoch:     1,
		createdAt: time.Now(),
	}

	n.mu.Lock()
	n.conversations[conv.id] = conv
	n.dmIndex[pairKey] = conv.id
	targets := n.memberClientsLocked(conv)
	n.mu.Unlock()

	invite := wireEvent{
		Type:           wireConversation,
		ConversationID: conv.id,
		CreatorInboxID: conv.creator,
		ConvKey:        hex.EncodeToString(key[:]),
	}
	for _, target := range targets {
		if target == creator {
			continue
		}
		n.push(target, invite)
	}

	return conversationInfo(conv), key, nil
}

// publishMessage relays a sealed payload to every member installation,
// including the sender's own (workers filter self-sent events).
func (n *Network) publishMessage(sender *Client, conversationID string, sealed []byte) error {
	n.mu.Lock()
	conv, ok := n.conversations[conversationID]
	if !ok {
		n.mu.Unlock()
		return ErrUnknownConversation
	}
	if !conv.members[sender.InboxID()] {
		n.mu.Unlock()
		return ErrNotMember
	}
	targets := n.memberClientsLocked(conv)
	n.mu.Unlock()

	frame := wireEvent{
		Type:           wireMessage,
		ConversationID: conversationID,
		SenderInboxID:  sender.InboxID(),
		Sealed:         sealed,
	}
	for _, target := range targets {
		n.push(target, frame)
	}
	return nil
}

// updateGroupName bumps the conversation epoch and fans out the metadata
// change to every member installation.
func (n *Network) updateGroupName(initiator *Client, conversationID, name string) error {
	n.mu.Lock()
	conv, ok := n.conversations[conversationID]
	if !ok {
		n.mu.Unlock()
		return ErrUnknownConversation
	}
	if !conv.members[initiator.InboxID()] {
		n.mu.Unlock()
		return ErrNotMember
	}
	conv.name = name
	conv.epoch++
	targets := n.memberClientsLocked(conv)
	n.mu.Unlock()

	frame := wireEvent{
		Type:             wireGroupUpdated,
		ConversationID:   conversationID,
		InitiatorInboxID: initiator.InboxID(),
		Name:             name,
	}
	for _, target := range targets {
		n.push(target, frame)
	}
	return nil
}

// addMembers grows a group. New members receive an invite carrying the
// conversation key; existing members see a membership update.
func (n *Network) addMembers(initiator *Client, conversationID string, inboxIDs []string) error {
	n.mu.Lock()
	conv, ok := n.conversations[conversationID]
	if !ok {
		n.mu.Unlock()
		return ErrUnknownConversation
	}
	if !conv.members[initiator.InboxID()] {
		n.mu.Unlock()
		return ErrNotMember
	}

	var added []string
	for _, inboxID := range inboxIDs {
		if !conv.members[inboxID] {
			conv.members[inboxID] = true
			added = append(added, inboxID)
		}
	}
	if len(added) == 0 {
		n.mu.Unlock()
		return nil
	}
	conv.epoch++
	key := conv.key
	name := conv.name
	creator := conv.creator
	targets := n.memberClientsLocked(conv)
	n.mu.Unlock()

	addedSet := make(map[string]bool, len(added))
	for _, inboxID := range added {
		addedSet[inboxID] = true
	}

	invite := wireEvent{
		Type:           wireConversation,
		ConversationID: conversationID,
		Name:           name,
		CreatorInboxID: creator,
		ConvKey:        hex.EncodeToString(key[:]),
	}
	update := wireEvent{
		Type:             wireGroupUpdated,
		ConversationID:   conversationID,
		InitiatorInboxID: initiator.InboxID(),
		Name:             name,
		Added:            added,
	}
	for _, target := range targets {
		if addedSet[target.InboxID()] {
			n.push(target, invite)
		} else {
			n.push(target, update)
		}
	}
	return nil
}

// setConsent records a preference and streams the change to every
// installation of the acting identity (preference sync).
func (n *Network) setConsent(c *Client, entityID string, state netclient.ConsentState) {
	inboxID := c.InboxID()

	n.mu.Lock()
	if n.consent[inboxID] == nil {
		n.consent[inboxID] = make(map[string]netclient.ConsentState)
	}
	n.consent[inboxID][entityID] = state
	var targets []*Client
	for _, install := range n.clients[inboxID] {
		targets = append(targets, install)
	}
	n.mu.Unlock()

	frame := wireEvent{
		Type:     wireConsent,
		EntityID: entityID,
		Consent:  uint8(state),
	}
	for _, target := range targets {
		n.push(target, frame)
	}
}

// consentState reads a recorded preference.
func (n *Network) consentState(c *Client, entityID string) netclient.ConsentState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.consent[c.InboxID()][entityID]
}

// listMembers reports the membership of a conversation.
func (n *Network) listMembers(conversationID string) ([]netclient.MemberInfo, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	conv, ok := n.conversations[conversationID]
	if !ok {
		return nil, ErrUnknownConversation
	}

	members := make([]netclient.MemberInfo, 0, len(conv.members))
	for _, inboxID := range conv.memberList() {
		members = append(members, netclient.MemberInfo{
			InboxID: inboxID,
			Name:    n.names[inboxID],
		})
	}
	return members, nil
}

// snapshot captures the hub's view of a conversation for fork detection.
func (n *Network) snapshot(conversationID string) (*netclient.Snapshot, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	conv, ok := n.conversations[conversationID]
	if !ok {
		return nil, ErrUnknownConversation
	}
	return &netclient.Snapshot{
		ConversationID: conv.id,
		Name:           conv.name,
		Epoch:          conv.epoch,
		MemberInboxIDs: conv.memberList(),
	}, nil
}

// memberClientsLocked resolves every connected installation of a
// conversation's members. Callers hold n.mu.
func (n *Network) memberClientsLocked(conv *conversation) []*Client {
	var targets []*Client
	for inboxID := range conv.members {
		for _, install := range n.clients[inboxID] {
			targets = append(targets, install)
		}
	}
	return targets
}

// push seals one frame for a client and hands it over. Delivery failures
// are local to the target: a broken client never aborts the fan-out.
func (n *Network) push(target *Client, frame wireEvent) {
	frame.ID = uuid.NewString()
	if err := target.receiveFrame(frame); err != nil {
		n.log.WithFields(logrus.Fields{
			"function": "push",
			"target":   target.identity.Name,
			"type":     frame.Type,
			"error":    err,
		}).Warn("Frame delivery failed")
	}
}

func conversationInfo(conv *conversation) *netclient.Conversation {
	return &netclient.Conversation{
		ID:             conv.id,
		Kind:           conv.kind,
		Name:           conv.name,
		CreatorInboxID: conv.creator,
		CreatedAt:      conv.createdAt,
	}
}

// shortID truncates an identifier for logging.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
