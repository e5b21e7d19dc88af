package worker

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/opd-ai/deliverify/crypto"
	"github.com/opd-ai/deliverify/metrics"
	"github.com/opd-ai/deliverify/netclient"
)

// ErrEmptyPool indicates a pool operation that needs at least one worker.
var ErrEmptyPool = errors.New("worker pool is empty")

// DefaultInstallationID is used when a descriptor names no installation.
const DefaultInstallationID = "a"

// keysFileName is the per-environment key persistence file inside the
// data directory.
const keysFileName = "keys.yaml"

// randomPrefix marks descriptors whose identities must stay ephemeral.
const randomPrefix = "random"

var versionPattern = regexp.MustCompile(`^v\d+$`)

// keyMaterial is the persisted form of one participant's keys.
type keyMaterial struct {
	WalletKey     string `yaml:"wallet_key"`
	EncryptionKey string `yaml:"encryption_key"`
}

// Config configures a Manager.
type Config struct {
	// Env names the target environment; it namespaces persisted state.
	Env string
	// DataDir roots per-worker state directories and the key file.
	DataDir string
	// Network is the connect boundary workers dial through.
	Network netclient.Network
	// Logger is the injectable logging sink. Nil falls back to the
	// standard logrus logger.
	Logger logrus.FieldLogger
	// Metrics is the optional instrumentation sink.
	Metrics *metrics.Collector
}

// Manager owns the set of workers for one test scenario. The first worker
// created is the scenario's designated creator unless reassigned. Pool
// mutation is driven by the single coordinating test goroutine; the
// internal lock only protects against teardown overlapping accessors.
type Manager struct {
	env     string
	dataDir string
	network netclient.Network
	log     logrus.FieldLogger
	metrics *metrics.Collector

	mu      sync.Mutex
	workers map[string]map[string]*Worker // name -> installation -> worker
	order   []*Worker                     // creation order; creator first
	keys    map[string]keyMaterial
}

// NewManager creates an empty pool.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Network == nil {
		return nil, errors.New("manager requires a network")
	}
	if cfg.DataDir == "" {
		return nil, errors.New("manager requires a data directory")
	}
	if cfg.Env == "" {
		cfg.Env = "local"
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	m := &Manager{
		env:     cfg.Env,
		dataDir: cfg.DataDir,
		network: cfg.Network,
		log:     log.WithField("env", cfg.Env),
		metrics: cfg.Metrics,
		workers: make(map[string]map[string]*Worker),
		keys:    make(map[string]keyMaterial),
	}
	if err := m.loadKeys(); err != nil {
		return nil, err
	}
	return m, nil
}

// ParseDescriptor splits a worker descriptor into its parts. Descriptors
// look like "bob", "bob-a", or "bob-a-v2": a base name, an optional
// installation id, and an optional version override.
func ParseDescriptor(descriptor string) (name, installationID, version string) {
	parts := strings.Split(descriptor, "-")
	name = parts[0]
	installationID = DefaultInstallationID

	rest := parts[1:]
	if len(rest) > 0 && versionPattern.MatchString(rest[len(rest)-1]) {
		version = rest[len(rest)-1]
		rest = rest[:len(rest)-1]
	}
	if len(rest) > 0 {
		installationID = strings.Join(rest, "-")
	}
	return name, installationID, version
}

// CreateWorker creates and initializes a worker from a descriptor. Creation
// is idempotent by (name, installation): asking for an existing worker
// returns it untouched rather than double-subscribing the identity.
// Failures propagate synchronously; cleaning up a partial pool is the
// caller's job, and TerminateAll is always safe for that.
func (m *Manager) CreateWorker(descriptor string) (*Worker, error) {
	name, installationID, version := ParseDescriptor(descriptor)

	m.mu.Lock()
	if existing, ok := m.workers[name][installationID]; ok {
		m.mu.Unlock()
		m.log.WithFields(logrus.Fields{
			"function":   "CreateWorker",
			"descriptor": descriptor,
		}).Debug("Reusing existing worker")
		return existing, nil
	}
	m.mu.Unlock()

	identity, err := m.resolveIdentity(name, installationID)
	if err != nil {
		return nil, err
	}

	statePath := filepath.Join(m.dataDir, m.env, name, installationID)
	w := NewWorker(identity, m.network, statePath, m.log, m.metrics)
	w.Version = version

	if _, err := w.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to create worker %s: %w", descriptor, err)
	}

	m.mu.Lock()
	if m.workers[name] == nil {
		m.workers[name] = make(map[string]*Worker)
	}
	m.workers[name][installationID] = w
	m.order = append(m.order, w)
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{
		"function":     "CreateWorker",
		"name":         name,
		"installation": installationID,
		"version":      version,
	}).Info("Worker created")
	return w, nil
}

// CreateWorkers creates one worker per descriptor, failing on the first
// error.
func (m *Manager) CreateWorkers(descriptors ...string) ([]*Worker, error) {
	workers := make([]*Worker, 0, len(descriptors))
	for _, descriptor := range descriptors {
		w, err := m.CreateWorker(descriptor)
		if err != nil {
			return workers, err
		}
		workers = append(workers, w)
	}
	return workers, nil
}

// resolveIdentity finds key material for a name: from the in-memory cache,
// from the persisted key file, or freshly generated. Generated keys are
// persisted unless the name is flagged random.
func (m *Manager) resolveIdentity(name, installationID string) (*crypto.Identity, error) {
	m.mu.Lock()
	material, cached := m.keys[name]
	m.mu.Unlock()

	if cached {
		return crypto.IdentityFromKeys(name, installationID, material.WalletKey, material.EncryptionKey)
	}

	identity, err := crypto.NewIdentity(name, installationID)
	if err != nil {
		return nil, err
	}

	material = keyMaterial{
		WalletKey:     crypto.EncodeKeyHex(identity.Keys.Private),
		EncryptionKey: crypto.EncodeKeyHex(identity.EncryptionKey),
	}
	m.mu.Lock()
	m.keys[name] = material
	m.mu.Unlock()

	if !strings.HasPrefix(name, randomPrefix) {
		if err := m.saveKeys(); err != nil {
			m.log.WithFields(logrus.Fields{
				"function": "resolveIdentity",
				"name":     name,
				"error":    err,
			}).Warn("Failed to persist keys, identity will not survive this run")
		}
	}
	return identity, nil
}

// loadKeys reads the persisted key file if one exists.
func (m *Manager) loadKeys() error {
	path := filepath.Join(m.dataDir, keysFileName)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read key file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &m.keys); err != nil {
		return fmt.Errorf("failed to parse key file %s: %w", path, err)
	}
	return nil
}

// saveKeys writes the key file, excluding ephemeral identities.
func (m *Manager) saveKeys() error {
	m.mu.Lock()
	persistable := make(map[string]keyMaterial, len(m.keys))
	for name, material := range m.keys {
		if !strings.HasPrefix(name, randomPrefix) {
			persistable[name] = material
		}
	}
	m.mu.Unlock()

	raw, err := yaml.Marshal(persistable)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(m.dataDir, 0o700); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(m.dataDir, keysFileName), raw, 0o600)
}

// Len reports the number of workers in the pool.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}

// GetAll returns every worker in creation order.
func (m *Manager) GetAll() []*Worker {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Worker(nil), m.order...)
}

// Get returns the worker for a name and installation, or nil.
func (m *Manager) Get(name, installationID string) *Worker {
	if installationID == "" {
		installationID = DefaultInstallationID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.workers[name][installationID]
}

// GetCreator returns the scenario's designated creator: the first worker
// created, or nil on an empty pool.
func (m *Manager) GetCreator() *Worker {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.order) == 0 {
		return nil
	}
	return m.order[0]
}

// GetReceiver returns one random non-creator worker.
func (m *Manager) GetReceiver() *Worker {
	others := m.GetAllButCreator()
	if len(others) == 0 {
		return nil
	}
	return others[rand.Intn(len(others))]
}

// GetAllButCreator returns every worker except the designated creator.
func (m *Manager) GetAllButCreator() []*Worker {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.order) == 0 {
		return nil
	}
	return append([]*Worker(nil), m.order[1:]...)
}

// GetAllBut returns every worker whose name differs from the given one.
func (m *Manager) GetAllBut(excludeName string) []*Worker {
	m.mu.Lock()
	defer m.mu.Unlock()

	var kept []*Worker
	for _, w := range m.order {
		if w.Name != excludeName {
			kept = append(kept, w)
		}
	}
	return kept
}

// GetRandomWorkers returns up to n distinct workers in random order.
func (m *Manager) GetRandomWorkers(n int) []*Worker {
	all := m.GetAll()
	rand.Shuffle(len(all), func(i, j int) {
		all[i], all[j] = all[j], all[i]
	})
	if n > len(all) {
		n = len(all)
	}
	return all[:n]
}

// StartStream arms one stream kind on every worker in the pool.
func (m *Manager) StartStream(kind netclient.StreamKind) error {
	for _, w := range m.GetAll() {
		if err := w.StartStream(kind); err != nil {
			return fmt.Errorf("failed to start %s stream on %s: %w", kind, w.Name, err)
		}
	}
	return nil
}

// CreateGroup has the creator build a group containing every other pool
// member, plus any extra inbox IDs.
func (m *Manager) CreateGroup(name string, extraInboxIDs ...string) (*netclient.Conversation, error) {
	creator := m.GetCreator()
	if creator == nil {
		return nil, ErrEmptyPool
	}
	client := creator.Client()
	if client == nil {
		return nil, ErrNotInitialized
	}

	memberInboxIDs := make([]string, 0, m.Len())
	for _, w := range m.GetAllButCreator() {
		memberInboxIDs = append(memberInboxIDs, w.InboxID())
	}
	memberInboxIDs = append(memberInboxIDs, extraInboxIDs...)

	conv, err := client.CreateGroup(memberInboxIDs, netclient.GroupOptions{Name: name})
	if err != nil {
		return nil, fmt.Errorf("failed to create group: %w", err)
	}

	m.log.WithFields(logrus.Fields{
		"function":        "CreateGroup",
		"conversation_id": conv.ID,
		"name":            name,
		"members":         len(memberInboxIDs) + 1,
	}).Info("Group created between all workers")
	return conv, nil
}

// TerminateAll concurrently terminates every worker, optionally clearing
// persisted state afterward, then resets the pool. Individual termination
// failures are logged and skipped: cleanup never aborts cleanup.
func (m *Manager) TerminateAll(deleteState bool) {
	workers := m.GetAll()

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			if err := w.Terminate(); err != nil {
				m.log.WithFields(logrus.Fields{
					"function": "TerminateAll",
					"worker":   w.Name,
					"error":    err,
				}).Warn("Error terminating worker")
			}
			if deleteState {
				if err := w.ClearState(); err != nil {
					m.log.WithFields(logrus.Fields{
						"function": "TerminateAll",
						"worker":   w.Name,
						"error":    err,
					}).Warn("Error clearing worker state")
				}
			}
		}(w)
	}
	wg.Wait()

	m.mu.Lock()
	m.workers = make(map[string]map[string]*Worker)
	m.order = nil
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{
		"function": "TerminateAll",
		"workers":  len(workers),
	}).Debug("Pool terminated")
}
