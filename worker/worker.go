package worker

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/deliverify/crypto"
	"github.com/opd-ai/deliverify/metrics"
	"github.com/opd-ai/deliverify/netclient"
)

// ErrNotInitialized indicates an operation that requires a live client
// connection.
var ErrNotInitialized = errors.New("worker not initialized")

// ErrTerminated indicates an operation on a terminated worker.
var ErrTerminated = errors.New("worker terminated")

// ErrStateInUse indicates a clearState call while the worker is live.
var ErrStateInUse = errors.New("state in use: terminate the worker first")

// seenLimit bounds the duplicate-suppression set. The set resets when the
// limit is reached; stale duplicates past that horizon are harmless noise.
const seenLimit = 4096

// InitResult reports the observable output of a successful initialization.
type InitResult struct {
	Address string
	InboxID string
}

// listener is one registered event consumer. Each active collection owns
// its own listener; listeners never interfere with each other.
type listener struct {
	kind netclient.StreamKind
	ch   chan netclient.Event
}

// Worker presents one network identity as an isolated execution unit with a
// push-based event feed.
type Worker struct {
	Name           string
	InstallationID string
	Version        string

	identity  *crypto.Identity
	network   netclient.Network
	statePath string
	log       logrus.FieldLogger
	metrics   *metrics.Collector

	mu          sync.Mutex
	client      netclient.Client
	subs        map[netclient.StreamKind]netclient.Subscription
	listeners   []*listener
	seen        map[string]bool
	initialized bool
	terminated  bool
	done        chan struct{}
}

// NewWorker builds a worker around an identity. The worker does not touch
// the network until Initialize.
func NewWorker(identity *crypto.Identity, network netclient.Network, statePath string, log logrus.FieldLogger, m *metrics.Collector) *Worker {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Worker{
		Name:           identity.Name,
		InstallationID: identity.InstallationID,
		identity:       identity,
		network:        network,
		statePath:      statePath,
		log: log.WithFields(logrus.Fields{
			"worker":       identity.Name,
			"installation": identity.InstallationID,
		}),
		metrics: m,
		subs:    make(map[netclient.StreamKind]netclient.Subscription),
		seen:    make(map[string]bool),
		done:    make(chan struct{}),
	}
}

// Identity returns the worker's immutable identity.
func (w *Worker) Identity() *crypto.Identity { return w.identity }

// Client returns the underlying network client, or nil before Initialize.
func (w *Worker) Client() netclient.Client {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.client
}

// InboxID returns the worker's inbox identifier.
func (w *Worker) InboxID() string { return w.identity.InboxID() }

// StatePath returns the directory holding this worker's persisted state.
func (w *Worker) StatePath() string { return w.statePath }

// Initialize connects the underlying client using the identity's key
// material and persisted-state path. Fails with a *netclient.ConnectionError
// if the network rejects the identity or local state cannot be opened.
func (w *Worker) Initialize() (*InitResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.terminated {
		return nil, ErrTerminated
	}
	if w.initialized {
		return &InitResult{Address: w.client.Address(), InboxID: w.client.InboxID()}, nil
	}

	client, err := w.network.Connect(w.identity, w.statePath)
	if err != nil {
		return nil, err
	}

	w.client = client
	w.initialized = true
	w.metrics.WorkerStarted()

	w.log.WithFields(logrus.Fields{
		"function": "Initialize",
		"address":  client.Address(),
	}).Debug("Worker initialized")

	return &InitResult{Address: client.Address(), InboxID: client.InboxID()}, nil
}

// StartStream opens one subscription of the given kind and starts the
// background loop re-emitting its events. Arming the same kind twice is a
// no-op: a worker owns at most one subscription per kind.
func (w *Worker) StartStream(kind netclient.StreamKind) error {
	if kind == netclient.KindNone {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.terminated {
		return ErrTerminated
	}
	if !w.initialized {
		return ErrNotInitialized
	}
	if _, active := w.subs[kind]; active {
		return nil
	}

	sub, err := w.client.Subscribe(kind)
	if err != nil {
		return fmt.Errorf("failed to open %s stream: %w", kind, err)
	}
	w.subs[kind] = sub

	go w.streamLoop(kind, sub)
	return nil
}

// ActiveStreamKinds reports which stream kinds are currently armed.
func (w *Worker) ActiveStreamKinds() []netclient.StreamKind {
	w.mu.Lock()
	defer w.mu.Unlock()

	kinds := make([]netclient.StreamKind, 0, len(w.subs))
	for kind := range w.subs {
		kinds = append(kinds, kind)
	}
	return kinds
}

// streamLoop is the single suspension point of a worker: it awaits the next
// network event until the feed closes, the worker terminates, or the feed
// fails. It does not restart on error; reconnecting is the caller's call.
func (w *Worker) streamLoop(kind netclient.StreamKind, sub netclient.Subscription) {
	for ev := range sub.Events() {
		if errEv, ok := ev.(netclient.ErrorEvent); ok {
			w.log.WithFields(logrus.Fields{
				"function": "streamLoop",
				"kind":     kind.String(),
				"error":    errEv.Err,
			}).Error("Stream failed")
			w.fanOut(errEv)
			w.dropStream(kind)
			return
		}

		if w.isSelfEvent(ev) {
			continue
		}
		if w.isDuplicate(ev.EventID()) {
			continue
		}

		w.fanOut(ev)
	}
	w.dropStream(kind)
}

// isSelfEvent filters events this worker's own actions produced: a send
// does not loop back to its sender.
func (w *Worker) isSelfEvent(ev netclient.Event) bool {
	inboxID := w.identity.InboxID()
	switch e := ev.(type) {
	case netclient.MessageEvent:
		return e.SenderInboxID == inboxID
	case netclient.GroupUpdatedEvent:
		return e.InitiatorInboxID == inboxID
	case netclient.ConversationEvent:
		return e.CreatorInboxID == inboxID
	default:
		return false
	}
}

// isDuplicate suppresses repeated deliveries of the same event.
func (w *Worker) isDuplicate(eventID string) bool {
	if eventID == "" {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.seen[eventID] {
		return true
	}
	if len(w.seen) >= seenLimit {
		w.seen = make(map[string]bool)
	}
	w.seen[eventID] = true
	return false
}

// fanOut offers an event to every listener of its kind. Error events reach
// listeners of the failed kind so in-flight collections fail fast.
func (w *Worker) fanOut(ev netclient.Event) {
	w.mu.Lock()
	targets := make([]*listener, 0, len(w.listeners))
	for _, l := range w.listeners {
		if l.kind == ev.Kind() {
			targets = append(targets, l)
		}
	}
	w.mu.Unlock()

	for _, l := range targets {
		select {
		case l.ch <- ev:
		default:
			w.log.WithFields(logrus.Fields{
				"function": "fanOut",
				"kind":     ev.Kind().String(),
			}).Warn("Listener buffer full, dropping event")
		}
	}
}

// attach registers a listener. Safe on a terminated worker: the listener
// simply never receives anything and collections resolve via Done.
func (w *Worker) attach(kind netclient.StreamKind) *listener {
	l := &listener{kind: kind, ch: make(chan netclient.Event, listenerBuffer)}
	w.mu.Lock()
	w.listeners = append(w.listeners, l)
	w.mu.Unlock()
	return l
}

// detach removes a listener.
func (w *Worker) detach(target *listener) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, l := range w.listeners {
		if l == target {
			w.listeners = append(w.listeners[:i], w.listeners[i+1:]...)
			return
		}
	}
}

// dropStream forgets a subscription whose loop has exited.
func (w *Worker) dropStream(kind netclient.StreamKind) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.subs, kind)
}

// Done returns a channel closed when the worker terminates.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Terminate flips the termination flag, closes open subscriptions, then
// releases the client. Idempotent, and safe on a worker that never finished
// initializing. In-flight collections resolve with partial results.
func (w *Worker) Terminate() error {
	w.mu.Lock()
	if w.terminated {
		w.mu.Unlock()
		return nil
	}
	w.terminated = true
	close(w.done)

	subs := make([]netclient.Subscription, 0, len(w.subs))
	for _, sub := range w.subs {
		subs = append(subs, sub)
	}
	w.subs = make(map[netclient.StreamKind]netclient.Subscription)
	client := w.client
	wasInitialized := w.initialized
	w.initialized = false
	w.client = nil
	w.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}

	var err error
	if client != nil {
		err = client.Close()
	}
	if wasInitialized {
		w.metrics.WorkerStopped()
	}

	w.log.WithFields(logrus.Fields{
		"function": "Terminate",
	}).Debug("Worker terminated")
	return err
}

// ClearState deletes the worker's persisted local state. Only valid while
// the worker is not live: call it after Terminate or before Initialize.
func (w *Worker) ClearState() error {
	w.mu.Lock()
	live := w.initialized && !w.terminated
	w.mu.Unlock()

	if live {
		return ErrStateInUse
	}
	if err := os.RemoveAll(w.statePath); err != nil {
		return fmt.Errorf("failed to clear state at %s: %w", w.statePath, err)
	}
	w.log.WithFields(logrus.Fields{
		"function": "ClearState",
		"path":     w.statePath,
	}).Debug("Worker state cleared")
	return nil
}

// Reinstall tears the worker down, wipes its persisted state, and brings it
// back up with the same identity. Previously armed stream kinds are re-armed.
func (w *Worker) Reinstall() error {
	kinds := w.ActiveStreamKinds()

	if err := w.Terminate(); err != nil {
		w.log.WithFields(logrus.Fields{
			"function": "Reinstall",
			"error":    err,
		}).Warn("Error during terminate, continuing reinstall")
	}
	if err := w.ClearState(); err != nil {
		return err
	}

	w.mu.Lock()
	w.terminated = false
	w.done = make(chan struct{})
	w.seen = make(map[string]bool)
	w.mu.Unlock()

	if _, err := w.Initialize(); err != nil {
		return err
	}
	for _, kind := range kinds {
		if err := w.StartStream(kind); err != nil {
			return err
		}
	}
	return nil
}
