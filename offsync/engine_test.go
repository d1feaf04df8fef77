package offsync_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ADORSYS-GIS/DGRV-digital-gap-tool-sub001/offsync"
)

func TestRegisterRejectsDuplicateType(t *testing.T) {
	h := newHarness(t)
	_, err := offsync.Register(h.eng, folderDesc, offsync.Remote[*folder](h.folderRemote), nil, nil)
	require.Error(t, err)
	require.Equal(t, []string{"folder", "note"}, h.eng.Types())
}

func TestRunDrainsAfterLocalWrite(t *testing.T) {
	h := newHarness(t, withKickDebounce(5*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.eng.Run(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	_, err := h.folders.Repository.Add(context.Background(), &folder{Name: "kicked"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := h.folderRemote.get("srv-42")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRunDrainsOnReconnect(t *testing.T) {
	h := newHarness(t, withKickDebounce(5*time.Millisecond))
	h.conn.SetOnline(false)

	_, err := h.folders.Repository.Add(context.Background(), &folder{Name: "queued offline"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.eng.Run(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	time.Sleep(30 * time.Millisecond)
	require.Empty(t, h.folderRemote.callLog())

	h.conn.SetOnline(true)
	require.Eventually(t, func() bool {
		_, ok := h.folderRemote.get("srv-42")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStatsReportsQueueAndStatuses(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.folders.Repository.Add(ctx, &folder{Name: "A"})
	require.NoError(t, err)
	h.drainAll(t, offsync.DrainOptions{})
	_, err = h.folders.Repository.Add(ctx, &folder{Name: "B"})
	require.NoError(t, err)
	h.folderRemote.failWith(transientErr())
	h.drainAll(t, offsync.DrainOptions{})
	_, err = h.notes.Repository.Add(ctx, &note{FolderID: "srv-42", Title: "n"})
	require.NoError(t, err)

	stats, err := h.eng.Stats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 2)

	require.Equal(t, "folder", stats[0].EntityType)
	require.Equal(t, 1, stats[0].Queued)
	require.Equal(t, 1, stats[0].Retrying)
	require.Equal(t, 2, stats[0].Records)
	require.Equal(t, map[string]int{"SYNCED": 1, "FAILED": 1}, stats[0].ByStatus)

	require.Equal(t, "note", stats[1].EntityType)
	require.Equal(t, 1, stats[1].Queued)
	require.Equal(t, map[string]int{"NEW": 1}, stats[1].ByStatus)
}

func TestPullAllUsesScopes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.folderRemote.put(&folder{ID: "f1", Name: "one"})
	h.noteRemote.put(&note{ID: "n1", FolderID: "f1", Title: "a"})
	h.noteRemote.put(&note{ID: "n2", FolderID: "f2", Title: "b"})

	reports, err := h.eng.PullAll(ctx, map[string]string{"note": "f1"})
	require.NoError(t, err)
	require.Equal(t, 1, reports["folder"].Inserted)
	require.Equal(t, 1, reports["note"].Inserted)

	_, err = h.eng.Pull(ctx, "unknown", "")
	require.Error(t, err)
}
