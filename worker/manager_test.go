package worker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/deliverify/localnet"
	"github.com/opd-ai/deliverify/netclient"
)

func newTestManager(t *testing.T, dataDir string) *Manager {
	t.Helper()
	if dataDir == "" {
		dataDir = t.TempDir()
	}
	m, err := NewManager(Config{
		Env:     "test",
		DataDir: dataDir,
		Network: localnet.NewNetwork(quietLogger()),
		Logger:  quietLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { m.TerminateAll(false) })
	return m
}

func TestParseDescriptor(t *testing.T) {
	tests := []struct {
		descriptor   string
		name         string
		installation string
		version      string
	}{
		{"bob", "bob", "a", ""},
		{"bob-b", "bob", "b", ""},
		{"bob-v2", "bob", "a", "v2"},
		{"bob-b-v2", "bob", "b", "v2"},
		{"alice-desktop", "alice", "desktop", ""},
	}

	for _, tt := range tests {
		t.Run(tt.descriptor, func(t *testing.T) {
			name, installation, version := ParseDescriptor(tt.descriptor)
			assert.Equal(t, tt.name, name)
			assert.Equal(t, tt.installation, installation)
			assert.Equal(t, tt.version, version)
		})
	}
}

func TestNewManagerValidation(t *testing.T) {
	_, err := NewManager(Config{DataDir: t.TempDir()})
	assert.Error(t, err, "network is required")

	_, err = NewManager(Config{Network: localnet.NewNetwork(quietLogger())})
	assert.Error(t, err, "data directory is required")
}

func TestCreateWorkerIdempotent(t *testing.T) {
	m := newTestManager(t, "")

	first, err := m.CreateWorker("alice")
	require.NoError(t, err)
	second, err := m.CreateWorker("alice")
	require.NoError(t, err)

	assert.Same(t, first, second, "same descriptor returns the existing worker")
	assert.Equal(t, 1, m.Len())
}

func TestCreateWorkerSecondInstallationSharesInbox(t *testing.T) {
	m := newTestManager(t, "")

	first, err := m.CreateWorker("alice")
	require.NoError(t, err)
	second, err := m.CreateWorker("alice-b")
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.Equal(t, first.InboxID(), second.InboxID(), "installations of one name share the identity")
	assert.NotEqual(t, first.StatePath(), second.StatePath())
	assert.Equal(t, 2, m.Len())
}

func TestWorkerKeysPersistAcrossManagers(t *testing.T) {
	dataDir := t.TempDir()

	m1 := newTestManager(t, dataDir)
	alice1, err := m1.CreateWorker("alice")
	require.NoError(t, err)
	inboxID := alice1.InboxID()
	m1.TerminateAll(false)

	m2 := newTestManager(t, dataDir)
	alice2, err := m2.CreateWorker("alice")
	require.NoError(t, err)
	assert.Equal(t, inboxID, alice2.InboxID(), "named identities survive across runs")
}

func TestRandomWorkersAreEphemeral(t *testing.T) {
	dataDir := t.TempDir()
	m := newTestManager(t, dataDir)

	_, err := m.CreateWorker("alice")
	require.NoError(t, err)
	_, err = m.CreateWorker("randombob")
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(dataDir, keysFileName))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "alice")
	assert.NotContains(t, string(raw), "randombob", "random identities are never persisted")
}

func TestManagerAccessors(t *testing.T) {
	m := newTestManager(t, "")

	created, err := m.CreateWorkers("alice", "bob", "charlie")
	require.NoError(t, err)
	require.Len(t, created, 3)

	assert.Same(t, created[0], m.GetCreator(), "first created worker is the creator")
	assert.Same(t, created[1], m.Get("bob", ""))
	assert.Nil(t, m.Get("nobody", ""))

	others := m.GetAllButCreator()
	require.Len(t, others, 2)
	for _, w := range others {
		assert.NotEqual(t, "alice", w.Name)
	}

	assert.Len(t, m.GetAllBut("bob"), 2)

	receiver := m.GetReceiver()
	require.NotNil(t, receiver)
	assert.NotEqual(t, "alice", receiver.Name, "receiver is never the creator")

	random := m.GetRandomWorkers(2)
	assert.Len(t, random, 2)
	assert.Len(t, m.GetRandomWorkers(10), 3, "capped at pool size")
}

func TestManagerAccessorsOnEmptyPool(t *testing.T) {
	m := newTestManager(t, "")

	assert.Nil(t, m.GetCreator())
	assert.Nil(t, m.GetReceiver())
	assert.Empty(t, m.GetAllButCreator())

	_, err := m.CreateGroup("qa")
	assert.ErrorIs(t, err, ErrEmptyPool)
}

func TestManagerCreateGroup(t *testing.T) {
	m := newTestManager(t, "")
	_, err := m.CreateWorkers("alice", "bob", "charlie")
	require.NoError(t, err)

	conv, err := m.CreateGroup("everyone")
	require.NoError(t, err)
	assert.Equal(t, "everyone", conv.Name)
	assert.Equal(t, m.GetCreator().InboxID(), conv.CreatorInboxID)

	members, err := m.GetCreator().Client().ListMembers(conv.ID)
	require.NoError(t, err)
	assert.Len(t, members, 3)
}

func TestManagerStartStream(t *testing.T) {
	m := newTestManager(t, "")
	_, err := m.CreateWorkers("alice", "bob")
	require.NoError(t, err)

	require.NoError(t, m.StartStream(netclient.KindMessage))
	for _, w := range m.GetAll() {
		assert.Contains(t, w.ActiveStreamKinds(), netclient.KindMessage)
	}
}

func TestTerminateAllResetsPool(t *testing.T) {
	m := newTestManager(t, "")
	created, err := m.CreateWorkers("alice", "bob")
	require.NoError(t, err)
	statePath := created[0].StatePath()

	m.TerminateAll(true)

	assert.Equal(t, 0, m.Len())
	_, err = os.Stat(statePath)
	assert.True(t, os.IsNotExist(err), "state directories are deleted")

	// The pool is reusable after a teardown.
	_, err = m.CreateWorker("diana")
	require.NoError(t, err)
	assert.Equal(t, 1, m.Len())
}
