// Package deliverify is a verification harness for the delivery, ordering,
// and consistency guarantees of an end-to-end-encrypted messaging network.
//
// The harness spins up many independent participant workers, each with its
// own network client and live event subscription, wires them into a shared
// scenario (a direct conversation or a group), triggers an action through
// the scenario creator, and statistically validates what every receiver
// observed against what was sent.
//
// Example:
//
//	harness, err := deliverify.New(deliverify.NewOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer harness.Teardown(true)
//
//	if _, err := harness.CreateWorkers(4, false); err != nil {
//	    log.Fatal(err)
//	}
//
//	result, err := harness.RunMessageScenario(5)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !harness.Thresholds().Meets(result.Stats) {
//	    log.Fatalf("delivery below thresholds: %+v", result.Stats)
//	}
package deliverify

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/deliverify/config"
	"github.com/opd-ai/deliverify/localnet"
	"github.com/opd-ai/deliverify/metrics"
	"github.com/opd-ai/deliverify/netclient"
	"github.com/opd-ai/deliverify/verify"
	"github.com/opd-ai/deliverify/worker"
)

// Options configures a Harness.
type Options struct {
	// Env names the target environment.
	Env string
	// DataDir roots persisted worker state.
	DataDir string
	// Network is the connect boundary. Nil runs against an in-process
	// localnet hub.
	Network netclient.Network
	// Logger is the injectable logging sink shared by the pool and the
	// engine. Nil falls back to the standard logrus logger.
	Logger logrus.FieldLogger
	// MetricsRegistry, when set, receives the harness's Prometheus
	// collectors.
	MetricsRegistry prometheus.Registerer
	// Config supplies timeouts and thresholds.
	Config config.Config
}

// NewOptions returns options for a local run with default configuration.
func NewOptions() *Options {
	return &Options{Config: config.Default()}
}

// Harness ties the worker pool, the verification engine, and the result
// thresholds together for one test run.
type Harness struct {
	opts    *Options
	log     logrus.FieldLogger
	metrics *metrics.Collector
	pool    *worker.Manager
	engine  *verify.Engine
}

// New assembles a harness. The pool starts empty; CreateWorkers populates
// it.
func New(opts *Options) (*Harness, error) {
	if opts == nil {
		opts = NewOptions()
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	var collector *metrics.Collector
	if opts.MetricsRegistry != nil {
		collector = metrics.NewCollector(opts.MetricsRegistry)
	}

	network := opts.Network
	if network == nil {
		network = localnet.NewNetwork(log)
	}

	env := opts.Env
	if env == "" {
		env = opts.Config.Env
	}
	dataDir := opts.DataDir
	if dataDir == "" {
		dataDir = opts.Config.DataDir
	}

	pool, err := worker.NewManager(worker.Config{
		Env:     env,
		DataDir: dataDir,
		Network: network,
		Logger:  log,
		Metrics: collector,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	engine := verify.NewEngine(verify.EngineConfig{
		Logger:         log,
		Metrics:        collector,
		CollectTimeout: opts.Config.StreamTimeout(),
		SendInterval:   opts.Config.SendInterval(),
	})

	return &Harness{
		opts:    opts,
		log:     log,
		metrics: collector,
		pool:    pool,
		engine:  engine,
	}, nil
}

// Pool exposes the worker pool for scenario-specific setups.
func (h *Harness) Pool() *worker.Manager { return h.pool }

// Engine exposes the verification engine.
func (h *Harness) Engine() *verify.Engine { return h.engine }

// Thresholds returns the configured pass bounds.
func (h *Harness) Thresholds() verify.Thresholds {
	return verify.Thresholds{
		ReceptionPercent: h.opts.Config.Thresholds.ReceptionPercent,
		OrderPercent:     h.opts.Config.Thresholds.OrderPercent,
	}
}

// CreateWorkers spins up count workers drawn from the default name pool.
func (h *Harness) CreateWorkers(count int, randomNames bool) ([]*worker.Worker, error) {
	names := worker.FixedNames(count)
	if randomNames {
		names = worker.RandomNames(count)
	}
	return h.pool.CreateWorkers(names...)
}

// RunMessageScenario creates a group between all pool workers, sends
// messageCount payloads through the creator, verifies delivery on every
// other worker, and checks the group for forks afterward.
func (h *Harness) RunMessageScenario(messageCount int) (*verify.Result, error) {
	creator := h.pool.GetCreator()
	if creator == nil {
		return nil, worker.ErrEmptyPool
	}

	if err := h.pool.StartStream(netclient.KindMessage); err != nil {
		return nil, err
	}

	conv, err := h.pool.CreateGroup("Verification Group")
	if err != nil {
		return nil, err
	}

	result, err := h.engine.VerifyMessageStream(conv, creator, h.pool.GetAllButCreator(), messageCount)
	if err != nil {
		return nil, err
	}

	if check := verify.CheckForks(h.pool.GetAll(), conv.ID); check.Forked {
		return result, check.AsError()
	}
	return result, nil
}

// Teardown terminates every worker, optionally deleting persisted state.
// Always safe, including on a partially populated pool.
func (h *Harness) Teardown(deleteState bool) {
	h.pool.TerminateAll(deleteState)
}
