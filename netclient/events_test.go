package netclient

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStreamKindString(t *testing.T) {
	tests := []struct {
		kind     StreamKind
		expected string
	}{
		{KindNone, "none"},
		{KindMessage, "message"},
		{KindConversation, "conversation"},
		{KindConsent, "consent"},
		{KindGroupUpdated, "group_updated"},
		{StreamKind(99), "none"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.kind.String())
	}
}

func TestEventKinds(t *testing.T) {
	meta := EventMeta{ID: "ev-1", Arrived: time.Now()}

	assert.Equal(t, KindMessage, MessageEvent{EventMeta: meta}.Kind())
	assert.Equal(t, KindConversation, ConversationEvent{EventMeta: meta}.Kind())
	assert.Equal(t, KindConsent, ConsentEvent{EventMeta: meta}.Kind())
	assert.Equal(t, KindGroupUpdated, GroupUpdatedEvent{EventMeta: meta}.Kind())

	// Error events report the kind of the feed that broke.
	errEv := ErrorEvent{EventMeta: meta, StreamKind: KindConsent, Err: errors.New("boom")}
	assert.Equal(t, KindConsent, errEv.Kind())

	var ev Event = MessageEvent{EventMeta: meta}
	assert.Equal(t, "ev-1", ev.EventID())
	assert.Equal(t, meta.Arrived, ev.ReceivedAt())
}

func TestErrorUnwrapping(t *testing.T) {
	cause := errors.New("refused")

	connErr := &ConnectionError{Name: "alice", Err: cause}
	assert.ErrorIs(t, connErr, cause)
	assert.Contains(t, connErr.Error(), "alice")

	subErr := &SubscriptionError{StreamKind: KindMessage, Err: cause}
	assert.ErrorIs(t, subErr, cause)
	assert.Contains(t, subErr.Error(), "message")
}

func TestConsentStateString(t *testing.T) {
	assert.Equal(t, "unknown", ConsentUnknown.String())
	assert.Equal(t, "allowed", ConsentAllowed.String())
	assert.Equal(t, "denied", ConsentDenied.String())
}
