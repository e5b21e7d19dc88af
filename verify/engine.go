package verify

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/deliverify/metrics"
	"github.com/opd-ai/deliverify/netclient"
	"github.com/opd-ai/deliverify/worker"
)

// ErrNoClient indicates a scenario participant without a live connection.
var ErrNoClient = errors.New("worker has no client")

// DefaultCollectTimeout bounds each receiver's collection when the engine
// is not configured otherwise.
const DefaultCollectTimeout = 3 * time.Second

// EngineConfig configures an Engine.
type EngineConfig struct {
	// Logger is the injectable logging sink. Nil falls back to the
	// standard logrus logger.
	Logger logrus.FieldLogger
	// Metrics is the optional instrumentation sink.
	Metrics *metrics.Collector
	// CollectTimeout bounds every per-receiver collection.
	CollectTimeout time.Duration
	// SendInterval spaces sequential sends. Zero sends back to back.
	SendInterval time.Duration
}

// Engine runs end-to-end verification scenarios against a pool of workers.
type Engine struct {
	log          logrus.FieldLogger
	metrics      *metrics.Collector
	timeout      time.Duration
	sendInterval time.Duration
}

// NewEngine creates an engine with the given configuration.
func NewEngine(cfg EngineConfig) *Engine {
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	timeout := cfg.CollectTimeout
	if timeout <= 0 {
		timeout = DefaultCollectTimeout
	}
	return &Engine{
		log:          log,
		metrics:      cfg.Metrics,
		timeout:      timeout,
		sendInterval: cfg.SendInterval,
	}
}

// sentEvent is one triggered action and the moment it happened.
type sentEvent struct {
	Payload string
	At      time.Time
}

// scenario is the shared shape of every verification variant: arm
// collectors on all receivers, trigger through the creator, fan in,
// reduce.
type scenario struct {
	name      string
	receivers []*worker.Worker
	arm       func(r *worker.Worker) *worker.Collection
	trigger   func() ([]sentEvent, error)
	extract   func(ev netclient.Event) string
}

// run executes a scenario. Collectors are armed before the trigger fires;
// a trigger failure aborts the whole scenario since nothing downstream can
// succeed without it.
func (e *Engine) run(sc scenario) (*Result, error) {
	if len(sc.receivers) == 0 {
		e.log.WithFields(logrus.Fields{
			"function": "run",
			"scenario": sc.name,
		}).Warn("Scenario has zero receivers, nothing to verify")
		e.metrics.VerificationRun(sc.name, true)
		return &Result{Scenario: sc.name, AllReceived: true}, nil
	}

	collections := make([]*worker.Collection, len(sc.receivers))
	for i, r := range sc.receivers {
		collections[i] = sc.arm(r)
	}

	sent, err := sc.trigger()
	if err != nil {
		e.metrics.VerificationRun(sc.name, false)
		return nil, fmt.Errorf("%s scenario trigger failed: %w", sc.name, err)
	}

	sentPayloads := make([]string, len(sent))
	sentAt := make(map[string]time.Time, len(sent))
	for i, s := range sent {
		sentPayloads[i] = s.Payload
		sentAt[s.Payload] = s.At
	}

	result := &Result{
		Scenario:      sc.name,
		SentSequence:  sentPayloads,
		ReceiverCount: len(sc.receivers),
		AllReceived:   true,
	}

	for i, c := range collections {
		r := sc.receivers[i]
		events, collectErr := c.Wait()
		if collectErr != nil {
			e.log.WithFields(logrus.Fields{
				"function": "run",
				"scenario": sc.name,
				"receiver": r.Name,
				"error":    collectErr,
			}).Error("Receiver stream failed mid-collection")
		}

		payloads := make([]string, 0, len(events))
		for _, ev := range events {
			payload := sc.extract(ev)
			payloads = append(payloads, payload)
			if at, ok := sentAt[payload]; ok {
				latency := ev.ReceivedAt().Sub(at)
				result.EventTimings = append(result.EventTimings, latency)
				e.metrics.ObserveEventLatency(latency)
			}
		}
		if len(payloads) < len(sent) {
			result.AllReceived = false
		}
		result.PerReceiver = append(result.PerReceiver, ReceiverSequence{
			Worker:       r.Name,
			Installation: r.InstallationID,
			Payloads:     payloads,
			Err:          collectErr,
		})
	}

	if len(result.EventTimings) > 0 {
		var sum time.Duration
		for _, d := range result.EventTimings {
			sum += d
		}
		result.AverageEventTiming = sum / time.Duration(len(result.EventTimings))
	}

	result.Stats = CalculateStats(result.Sequences(), sentPayloads)
	e.metrics.VerificationRun(sc.name, result.AllReceived)

	e.log.WithFields(logrus.Fields{
		"function":     "run",
		"scenario":     sc.name,
		"receivers":    result.ReceiverCount,
		"sent":         len(sentPayloads),
		"all_received": result.AllReceived,
	}).Info("Scenario complete")
	return result, nil
}

// VerifyMessageStream sends count distinct payloads sequentially through
// the sender and verifies delivery and ordering on every receiver. Payloads
// share one random suffix so stragglers from an earlier run never count.
func (e *Engine) VerifyMessageStream(conv *netclient.Conversation, sender *worker.Worker, receivers []*worker.Worker, count int) (*Result, error) {
	client := sender.Client()
	if client == nil {
		return nil, fmt.Errorf("sender %s: %w", sender.Name, ErrNoClient)
	}
	suffix := randomSuffix()

	return e.run(scenario{
		name:      "message",
		receivers: receivers,
		arm: func(r *worker.Worker) *worker.Collection {
			return r.CollectMessages(conv.ID, suffix, count, e.timeout)
		},
		trigger: func() ([]sentEvent, error) {
			// Sequential sends define the expected order the receivers
			// are scored against.
			sent := make([]sentEvent, 0, count)
			for i := 1; i <= count; i++ {
				payload := fmt.Sprintf("gm-%d-%s", i, suffix)
				at := time.Now()
				if err := client.Send(conv.ID, payload); err != nil {
					return nil, err
				}
				sent = append(sent, sentEvent{Payload: payload, At: at})
				if e.sendInterval > 0 && i < count {
					time.Sleep(e.sendInterval)
				}
			}
			return sent, nil
		},
		extract: extractMessageContent,
	})
}

// VerifyDMStream opens (or reuses) the direct conversation between sender
// and receiver and runs the message scenario across it.
func (e *Engine) VerifyDMStream(sender, receiver *worker.Worker, count int) (*Result, error) {
	client := sender.Client()
	if client == nil {
		return nil, fmt.Errorf("sender %s: %w", sender.Name, ErrNoClient)
	}
	conv, err := client.CreateDM(receiver.InboxID())
	if err != nil {
		return nil, fmt.Errorf("failed to create dm: %w", err)
	}
	result, err := e.VerifyMessageStream(conv, sender, []*worker.Worker{receiver}, count)
	if err != nil {
		return nil, err
	}
	result.Scenario = "dm"
	return result, nil
}

// VerifyMetadataStream renames the group count times and verifies every
// receiver observed the changes in order.
func (e *Engine) VerifyMetadataStream(conv *netclient.Conversation, initiator *worker.Worker, receivers []*worker.Worker, count int) (*Result, error) {
	client := initiator.Client()
	if client == nil {
		return nil, fmt.Errorf("initiator %s: %w", initiator.Name, ErrNoClient)
	}
	suffix := randomSuffix()

	return e.run(scenario{
		name:      "metadata",
		receivers: receivers,
		arm: func(r *worker.Worker) *worker.Collection {
			return r.CollectGroupUpdates(conv.ID, count, e.timeout)
		},
		trigger: func() ([]sentEvent, error) {
			sent := make([]sentEvent, 0, count)
			for i := 1; i <= count; i++ {
				name := fmt.Sprintf("New name-%d-%s", i, suffix)
				at := time.Now()
				if err := client.UpdateGroupName(conv.ID, name); err != nil {
					return nil, err
				}
				sent = append(sent, sentEvent{Payload: name, At: at})
				if e.sendInterval > 0 && i < count {
					time.Sleep(e.sendInterval)
				}
			}
			return sent, nil
		},
		extract: func(ev netclient.Event) string {
			if update, ok := ev.(netclient.GroupUpdatedEvent); ok {
				return update.Name
			}
			return ""
		},
	})
}

// VerifyMembershipStream adds members to the group and verifies every
// receiver observed the membership change.
func (e *Engine) VerifyMembershipStream(conv *netclient.Conversation, initiator *worker.Worker, receivers []*worker.Worker, addInboxIDs []string) (*Result, error) {
	client := initiator.Client()
	if client == nil {
		return nil, fmt.Errorf("initiator %s: %w", initiator.Name, ErrNoClient)
	}
	if len(addInboxIDs) == 0 {
		return nil, errors.New("membership scenario needs at least one inbox to add")
	}

	return e.run(scenario{
		name:      "membership",
		receivers: receivers,
		arm: func(r *worker.Worker) *worker.Collection {
			return r.CollectGroupUpdates(conv.ID, 1, e.timeout)
		},
		trigger: func() ([]sentEvent, error) {
			at := time.Now()
			if err := client.AddMembers(conv.ID, addInboxIDs); err != nil {
				return nil, err
			}
			return []sentEvent{{Payload: addInboxIDs[0], At: at}}, nil
		},
		extract: func(ev netclient.Event) string {
			if update, ok := ev.(netclient.GroupUpdatedEvent); ok && len(update.AddedInboxIDs) > 0 {
				return update.AddedInboxIDs[0]
			}
			return ""
		},
	})
}

// VerifyConsentStream toggles the initiator's consent for a target entity
// and verifies the change streams back to the initiator's own feed
// (preference sync across installations).
func (e *Engine) VerifyConsentStream(initiator *worker.Worker, targetEntityID string) (*Result, error) {
	client := initiator.Client()
	if client == nil {
		return nil, fmt.Errorf("initiator %s: %w", initiator.Name, ErrNoClient)
	}

	return e.run(scenario{
		name:      "consent",
		receivers: []*worker.Worker{initiator},
		arm: func(r *worker.Worker) *worker.Collection {
			return r.CollectConsentUpdates(1, e.timeout)
		},
		trigger: func() ([]sentEvent, error) {
			current, err := client.ConsentState(targetEntityID)
			if err != nil {
				return nil, err
			}
			next := netclient.ConsentDenied
			if current == netclient.ConsentDenied {
				next = netclient.ConsentAllowed
			}
			at := time.Now()
			if err := client.SetConsentState(targetEntityID, next); err != nil {
				return nil, err
			}
			return []sentEvent{{Payload: targetEntityID, At: at}}, nil
		},
		extract: func(ev netclient.Event) string {
			if consent, ok := ev.(netclient.ConsentEvent); ok {
				return consent.EntityID
			}
			return ""
		},
	})
}

// VerifyConversationStream has the initiator create a group containing all
// receivers and verifies each one observed the invite.
func (e *Engine) VerifyConversationStream(initiator *worker.Worker, receivers []*worker.Worker) (*Result, error) {
	client := initiator.Client()
	if client == nil {
		return nil, fmt.Errorf("initiator %s: %w", initiator.Name, ErrNoClient)
	}

	return e.run(scenario{
		name:      "conversation",
		receivers: receivers,
		arm: func(r *worker.Worker) *worker.Collection {
			return r.CollectConversations(initiator.InboxID(), 1, e.timeout)
		},
		trigger: func() ([]sentEvent, error) {
			memberInboxIDs := make([]string, len(receivers))
			for i, r := range receivers {
				memberInboxIDs[i] = r.InboxID()
			}
			at := time.Now()
			conv, err := client.CreateGroup(memberInboxIDs, netclient.GroupOptions{})
			if err != nil {
				return nil, err
			}
			return []sentEvent{{Payload: conv.ID, At: at}}, nil
		},
		extract: func(ev netclient.Event) string {
			if conv, ok := ev.(netclient.ConversationEvent); ok {
				return conv.ConversationID
			}
			return ""
		},
	})
}

func extractMessageContent(ev netclient.Event) string {
	if msg, ok := ev.(netclient.MessageEvent); ok {
		return msg.Content
	}
	return ""
}

// randomSuffix tags one scenario's payloads so late events from a previous
// run cannot be mistaken for this run's.
func randomSuffix() string {
	return fmt.Sprintf("%06d", rand.Intn(1000000))
}
