package worker

import (
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/deliverify/netclient"
)

// listenerBuffer is the per-listener channel capacity. Collections drain
// continuously; the buffer absorbs delivery bursts.
const listenerBuffer = 256

// Predicate filters events offered to a collection.
type Predicate func(netclient.Event) bool

// Collection is one armed, bounded accumulation of events on one worker.
// It is armed the moment Collect returns: events arriving before Wait is
// called are not lost.
//
// A collection terminates exactly one way out of three, whichever happens
// first: the target count is reached, the deadline elapses (resolving with
// whatever was collected, never an error), or the stream fails (resolving
// with the stream's error). Terminating the worker resolves in-flight
// collections with partial results rather than leaving them hanging.
type Collection struct {
	worker  *Worker
	kind    netclient.StreamKind
	events  []netclient.Event
	err     error
	resolve chan struct{}
}

// Collect arms a collection on a worker: every event of the given kind that
// satisfies the predicate counts toward the target. A nil predicate accepts
// every event of the kind. Multiple collections may be armed on the same
// worker concurrently; each owns its own listener.
func Collect(w *Worker, kind netclient.StreamKind, predicate Predicate, count int, timeout time.Duration) *Collection {
	c := &Collection{
		worker:  w,
		kind:    kind,
		resolve: make(chan struct{}),
	}

	l := w.attach(kind)
	go c.run(l, predicate, count, timeout)
	return c
}

func (c *Collection) run(l *listener, predicate Predicate, count int, timeout time.Duration) {
	defer c.worker.detach(l)
	defer close(c.resolve)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case ev := <-l.ch:
			if errEv, ok := ev.(netclient.ErrorEvent); ok {
				c.err = errEv.Err
				return
			}
			if predicate != nil && !predicate(ev) {
				continue
			}
			c.events = append(c.events, ev)
			c.worker.metrics.EventCollected(c.kind.String())
			if len(c.events) >= count {
				return
			}

		case <-timer.C:
			c.worker.metrics.CollectTimeout(c.kind.String())
			c.worker.log.WithFields(logrus.Fields{
				"function":  "Collect",
				"kind":      c.kind.String(),
				"collected": len(c.events),
				"target":    count,
				"timeout":   timeout.String(),
			}).Warn("Collection timed out, resolving with partial results")
			return

		case <-c.worker.Done():
			return
		}
	}
}

// Wait blocks until the collection terminates and returns what it gathered.
// The error is non-nil only on the stream-failure path; a timeout returns
// the partial (possibly empty) slice with a nil error.
func (c *Collection) Wait() ([]netclient.Event, error) {
	<-c.resolve
	return c.events, c.err
}

// CollectMessages arms a message collection scoped to one conversation.
// A non-empty suffix additionally requires each payload to end with it, so
// stragglers from an earlier run never count toward this one.
func (w *Worker) CollectMessages(conversationID, suffix string, count int, timeout time.Duration) *Collection {
	return Collect(w, netclient.KindMessage, func(ev netclient.Event) bool {
		msg, ok := ev.(netclient.MessageEvent)
		if !ok {
			return false
		}
		if msg.ConversationID != conversationID {
			return false
		}
		return suffix == "" || strings.HasSuffix(msg.Content, suffix)
	}, count, timeout)
}

// CollectGroupUpdates arms a group-metadata collection scoped to one
// conversation.
func (w *Worker) CollectGroupUpdates(conversationID string, count int, timeout time.Duration) *Collection {
	return Collect(w, netclient.KindGroupUpdated, func(ev netclient.Event) bool {
		update, ok := ev.(netclient.GroupUpdatedEvent)
		return ok && update.ConversationID == conversationID
	}, count, timeout)
}

// CollectConversations arms a conversation-invite collection, optionally
// scoped to invites from one creator.
func (w *Worker) CollectConversations(creatorInboxID string, count int, timeout time.Duration) *Collection {
	return Collect(w, netclient.KindConversation, func(ev netclient.Event) bool {
		conv, ok := ev.(netclient.ConversationEvent)
		if !ok {
			return false
		}
		return creatorInboxID == "" || conv.CreatorInboxID == creatorInboxID
	}, count, timeout)
}

// CollectConsentUpdates arms a consent-change collection.
func (w *Worker) CollectConsentUpdates(count int, timeout time.Duration) *Collection {
	return Collect(w, netclient.KindConsent, nil, count, timeout)
}
