package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ADORSYS-GIS/DGRV-digital-gap-tool-sub001/entities"
	"github.com/ADORSYS-GIS/DGRV-digital-gap-tool-sub001/offserver"
	"github.com/ADORSYS-GIS/DGRV-digital-gap-tool-sub001/offsqlite"
	"github.com/ADORSYS-GIS/DGRV-digital-gap-tool-sub001/offsync"
)

func runCLI(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute(), out.String())
	return out.String()
}

// seedStore queues one local cooperation in a fresh store file
func seedStore(t *testing.T, path string) {
	t.Helper()
	ctx := context.Background()
	store, err := offsqlite.Open(ctx, offsqlite.Config{Path: path}, nil)
	require.NoError(t, err)
	defer store.Close()

	eng, err := offsync.NewEngine(store, nil, nil, nil, nil)
	require.NoError(t, err)
	set, err := entities.RegisterHTTP(eng, entities.RemoteConfig{BaseURL: "http://127.0.0.1:1"}, nil)
	require.NoError(t, err)
	_, err = set.Cooperations.Repository.Add(ctx, &entities.Cooperation{Name: "Coop A"})
	require.NoError(t, err)
}

func TestVersion(t *testing.T) {
	require.Contains(t, runCLI(t, "version"), "offsyncd dev")
}

func TestQueueStatusAndDrain(t *testing.T) {
	backend := offserver.NewMemoryBackend()
	srv := httptest.NewServer(offserver.NewHTTPHandlers(backend, offserver.HandlerConfig{Prefix: "/api/v1"}, nil).Handler())
	defer srv.Close()

	store := filepath.Join(t.TempDir(), "client.db")
	seedStore(t, store)
	common := []string{"--store", store, "--remote", srv.URL + "/api/v1", "--log-level", "error"}

	out := runCLI(t, append([]string{"queue"}, common...)...)
	require.Contains(t, out, "cooperation")
	require.Contains(t, out, "CREATE")

	out = runCLI(t, append([]string{"status"}, common...)...)
	require.Contains(t, out, "NEW=1")

	out = runCLI(t, append([]string{"drain"}, common...)...)
	require.Regexp(t, `cooperation\s+1\s+0`, out)

	docs, err := backend.List(context.Background(), "cooperations", "")
	require.NoError(t, err)
	require.Len(t, docs, 1)

	require.Contains(t, runCLI(t, append([]string{"queue"}, common...)...), "queue is empty")

	out = runCLI(t, append([]string{"pull"}, common...)...)
	require.Contains(t, out, "INSERTED")

	out = runCLI(t, append([]string{"status", "--json"}, common...)...)
	require.Contains(t, out, `"SYNCED": 1`)
}

func TestInvalidConfigFails(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"status", "--store", filepath.Join(t.TempDir(), "x.db"), "--driver", "postgres"})
	require.Error(t, cmd.Execute())
}
