package eventfeed

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"

	"github.com/ADORSYS-GIS/DGRV-digital-gap-tool-sub001/offsync"
)

func TestFeedBroadcastsEvents(t *testing.T) {
	bus := offsync.NewEventBus(8)
	feed := New(bus, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	srv := httptest.NewServer(feed)
	defer srv.Close()

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer dialCancel()
	conn, _, err := websocket.Dial(dialCtx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.Eventually(t, func() bool { return feed.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	bus.Publish(offsync.SyncEvent{
		Kind:       offsync.KindIDRewrite,
		EntityType: "cooperation",
		EntityID:   "srv-42",
		PreviousID: "tmp-1",
	})

	_, data, err := conn.Read(dialCtx)
	require.NoError(t, err)
	var got offsync.SyncEvent
	require.NoError(t, json.Unmarshal(data, &got))
	require.Equal(t, offsync.KindIDRewrite, got.Kind)
	require.Equal(t, "tmp-1", got.PreviousID)
	require.Equal(t, "srv-42", got.EntityID)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
	require.Eventually(t, func() bool { return feed.ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}
