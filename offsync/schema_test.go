package offsync

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSchemaInbound(t *testing.T) {
	s := NewSchema()
	s.Add("invitation", []Reference{{Field: "cooperation_id", Target: "cooperation"}})
	s.Add("cooperation_user", []Reference{{Field: "cooperation_id", Target: "cooperation"}})
	s.Add("cooperation", nil)

	require.Equal(t, []InboundRef{
		{FromType: "cooperation_user", Field: "cooperation_id"},
		{FromType: "invitation", Field: "cooperation_id"},
	}, s.Inbound("cooperation"))
	require.Empty(t, s.Inbound("invitation"))
	require.Equal(t, []string{"cooperation", "cooperation_user", "invitation"}, s.Types())

	var nilSchema *Schema
	require.Nil(t, nilSchema.Inbound("cooperation"))
}

func TestRewriteJSONField(t *testing.T) {
	data := json.RawMessage(`{"id":"a","cooperation_id":"tmp-1","email":"x@y.z"}`)

	out, changed, err := rewriteJSONField(data, "cooperation_id", "tmp-1", "srv-42")
	require.NoError(t, err)
	require.True(t, changed)
	require.JSONEq(t, `{"id":"a","cooperation_id":"srv-42","email":"x@y.z"}`, string(out))

	// applying the same rewrite again is a no-op
	again, changed, err := rewriteJSONField(out, "cooperation_id", "tmp-1", "srv-42")
	require.NoError(t, err)
	require.False(t, changed)
	require.Equal(t, string(out), string(again))

	_, changed, err = rewriteJSONField(data, "missing", "tmp-1", "srv-42")
	require.NoError(t, err)
	require.False(t, changed)

	_, _, err = rewriteJSONField(json.RawMessage(`{broken`), "f", "a", "b")
	require.Error(t, err)
}

func TestJSONStringField(t *testing.T) {
	data := json.RawMessage(`{"dimension_id":"d1","n":3}`)
	require.Equal(t, "d1", jsonStringField(data, "dimension_id"))
	require.Equal(t, "", jsonStringField(data, "n"))
	require.Equal(t, "", jsonStringField(data, "absent"))
	require.Equal(t, "", jsonStringField(nil, "dimension_id"))
}

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()
	require.True(t, k.TryLock("a"))
	require.False(t, k.TryLock("a"))
	require.True(t, k.TryLock("b"))

	acquired := make(chan struct{})
	go func() {
		k.Lock("a")
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("Lock returned while key was held")
	case <-time.After(20 * time.Millisecond):
	}

	k.Unlock("a")
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("Lock did not return after Unlock")
	}
	require.False(t, k.TryLock("a"))
	k.Unlock("a")
	k.Unlock("b")
	require.True(t, k.TryLock("a"))
}

func TestEventBusDropsForSlowSubscribers(t *testing.T) {
	bus := NewEventBus(1)
	ch, cancel := bus.Subscribe()

	bus.Publish(SyncEvent{Kind: KindDelivered, EntityID: "a"})
	bus.Publish(SyncEvent{Kind: KindDelivered, EntityID: "b"})

	ev := <-ch
	require.Equal(t, "a", ev.EntityID)
	require.False(t, ev.At.IsZero())

	cancel()
	_, open := <-ch
	require.False(t, open)

	var nilBus *EventBus
	nilBus.Publish(SyncEvent{Kind: KindOnline})
}

func TestConnectivityNotifiesTransitions(t *testing.T) {
	bus := NewEventBus(4)
	events, stop := bus.Subscribe()
	defer stop()

	c := NewConnectivity(false, bus)
	ch, unsubscribe := c.Subscribe()
	defer unsubscribe()

	c.SetOnline(false)
	c.SetOnline(true)
	require.True(t, <-ch)
	require.True(t, c.IsOnline())
	require.Equal(t, KindOnline, (<-events).Kind)

	var nilConn *Connectivity
	require.True(t, nilConn.IsOnline())
}
