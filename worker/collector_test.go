package worker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/deliverify/localnet"
	"github.com/opd-ai/deliverify/netclient"
)

// groupPair wires two initialized workers into one group with bob's message
// stream armed. Alice is the sender.
func groupPair(t *testing.T) (alice, bob *Worker, conversationID string) {
	t.Helper()
	n := localnet.NewNetwork(quietLogger())

	alice = newTestWorker(t, n, "alice")
	bob = newTestWorker(t, n, "bob")
	_, err := alice.Initialize()
	require.NoError(t, err)
	_, err = bob.Initialize()
	require.NoError(t, err)
	require.NoError(t, bob.StartStream(netclient.KindMessage))

	conv, err := alice.Client().CreateGroup([]string{bob.InboxID()}, netclient.GroupOptions{Name: "qa"})
	require.NoError(t, err)
	return alice, bob, conv.ID
}

func TestCollectReachesTarget(t *testing.T) {
	alice, bob, convID := groupPair(t)

	c := bob.CollectMessages(convID, "", 3, 5*time.Second)
	for _, payload := range []string{"gm-1", "gm-2", "gm-3"} {
		require.NoError(t, alice.Client().Send(convID, payload))
	}

	events, err := c.Wait()
	require.NoError(t, err)
	require.Len(t, events, 3)

	// Sequential sends arrive in order.
	for i, ev := range events {
		msg, ok := ev.(netclient.MessageEvent)
		require.True(t, ok)
		assert.Equal(t, []string{"gm-1", "gm-2", "gm-3"}[i], msg.Content)
		assert.Equal(t, alice.InboxID(), msg.SenderInboxID)
	}
}

func TestCollectTimeoutResolvesWithPartialResults(t *testing.T) {
	alice, bob, convID := groupPair(t)

	c := bob.CollectMessages(convID, "", 5, 300*time.Millisecond)
	require.NoError(t, alice.Client().Send(convID, "gm-1"))
	require.NoError(t, alice.Client().Send(convID, "gm-2"))

	start := time.Now()
	events, err := c.Wait()
	assert.NoError(t, err, "timeout is not an error")
	assert.Len(t, events, 2)
	assert.Less(t, time.Since(start), 3*time.Second, "wait must never hang past the deadline")
}

func TestCollectSuffixFiltersStragglers(t *testing.T) {
	alice, bob, convID := groupPair(t)

	c := bob.CollectMessages(convID, "-run2", 2, 2*time.Second)
	require.NoError(t, alice.Client().Send(convID, "gm-1-run1")) // straggler from an earlier run
	require.NoError(t, alice.Client().Send(convID, "gm-1-run2"))
	require.NoError(t, alice.Client().Send(convID, "gm-2-run2"))

	events, err := c.Wait()
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "gm-1-run2", events[0].(netclient.MessageEvent).Content)
	assert.Equal(t, "gm-2-run2", events[1].(netclient.MessageEvent).Content)
}

func TestCollectStreamErrorFailsFast(t *testing.T) {
	alice, bob, convID := groupPair(t)

	c := bob.CollectMessages(convID, "", 5, 10*time.Second)
	require.NoError(t, alice.Client().Send(convID, "gm-1"))

	cause := errors.New("stream torn down")
	bob.Client().(*localnet.Client).BreakStream(netclient.KindMessage, cause)

	events, err := c.Wait()
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)

	var subErr *netclient.SubscriptionError
	assert.ErrorAs(t, err, &subErr)
	assert.LessOrEqual(t, len(events), 1, "only events collected before the failure remain")
}

func TestCollectResolvesOnWorkerTerminate(t *testing.T) {
	alice, bob, convID := groupPair(t)

	c := bob.CollectMessages(convID, "", 5, time.Minute)
	require.NoError(t, alice.Client().Send(convID, "gm-1"))

	// Give delivery a moment, then tear the worker down mid-collection.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, bob.Terminate())

	done := make(chan struct{})
	var events []netclient.Event
	var err error
	go func() {
		events, err = c.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("collection did not resolve after worker termination")
	}
	assert.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestCollectSelfEventsFiltered(t *testing.T) {
	n := localnet.NewNetwork(quietLogger())
	alice := newTestWorker(t, n, "alice")
	bob := newTestWorker(t, n, "bob")
	_, err := alice.Initialize()
	require.NoError(t, err)
	_, err = bob.Initialize()
	require.NoError(t, err)
	require.NoError(t, alice.StartStream(netclient.KindMessage))
	require.NoError(t, bob.StartStream(netclient.KindMessage))

	conv, err := alice.Client().CreateGroup([]string{bob.InboxID()}, netclient.GroupOptions{})
	require.NoError(t, err)

	// Alice collects on her own feed while sending; her own messages must
	// not count.
	c := Collect(alice, netclient.KindMessage, nil, 1, 500*time.Millisecond)
	require.NoError(t, alice.Client().Send(conv.ID, "talking to myself"))

	events, err := c.Wait()
	assert.NoError(t, err)
	assert.Empty(t, events)
}

func TestConcurrentCollectionsAreIndependent(t *testing.T) {
	alice, bob, convID := groupPair(t)

	all := bob.CollectMessages(convID, "", 2, 2*time.Second)
	onlySecond := bob.CollectMessages(convID, "-two", 1, 2*time.Second)

	require.NoError(t, alice.Client().Send(convID, "gm-one"))
	require.NoError(t, alice.Client().Send(convID, "gm-two"))

	events, err := all.Wait()
	require.NoError(t, err)
	assert.Len(t, events, 2)

	events, err = onlySecond.Wait()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "gm-two", events[0].(netclient.MessageEvent).Content)
}
