package offsync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ADORSYS-GIS/DGRV-digital-gap-tool-sub001/entities"
	"github.com/ADORSYS-GIS/DGRV-digital-gap-tool-sub001/offserver"
	"github.com/ADORSYS-GIS/DGRV-digital-gap-tool-sub001/offsqlite"
	"github.com/ADORSYS-GIS/DGRV-digital-gap-tool-sub001/offsync"
)

const apiPrefix = "/api/v1"

// IntegrationHarness runs a client engine against the reference server over real HTTP
type IntegrationHarness struct {
	t       *testing.T
	ctx     context.Context
	backend offserver.Backend
	faults  *FaultInjector
	server  *httptest.Server
	jwtAuth *offserver.JWTAuth

	store *offsqlite.Store
	conn  *offsync.Connectivity
	bus   *offsync.EventBus
	eng   *offsync.Engine
	set   *entities.Set

	events <-chan offsync.SyncEvent

	tokenMu sync.Mutex
	token   string
}

type harnessOptions struct {
	driver  string
	backend offserver.Backend
}

type harnessOption func(*harnessOptions)

func withDriver(driver string) harnessOption {
	return func(o *harnessOptions) { o.driver = driver }
}

func withBackend(b offserver.Backend) harnessOption {
	return func(o *harnessOptions) { o.backend = b }
}

func newTestLogger() *slog.Logger {
	if os.Getenv("OFFSYNC_TEST_VERBOSE") != "" {
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewIntegrationHarness starts the server and opens a fresh client store
func NewIntegrationHarness(t *testing.T, opts ...harnessOption) *IntegrationHarness {
	t.Helper()
	o := harnessOptions{driver: offsqlite.DriverCgo}
	for _, opt := range opts {
		opt(&o)
	}
	if o.backend == nil {
		o.backend = offserver.NewMemoryBackend()
	}
	ctx := context.Background()
	logger := newTestLogger()

	jwtAuth := offserver.NewJWTAuth("integration-secret", logger)
	var (
		idMu   sync.Mutex
		nextID = 42
	)
	handlers := offserver.NewHTTPHandlers(o.backend, offserver.HandlerConfig{
		Prefix: apiPrefix,
		Auth:   jwtAuth,
		NewID: func() string {
			idMu.Lock()
			defer idMu.Unlock()
			id := fmt.Sprintf("srv-%d", nextID)
			nextID++
			return id
		},
	}, logger)
	faults := NewFaultInjector(handlers.Handler())
	server := httptest.NewServer(faults)
	t.Cleanup(server.Close)

	store, err := offsqlite.Open(ctx, offsqlite.Config{
		Path:   filepath.Join(t.TempDir(), "client.db"),
		Driver: o.driver,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	bus := offsync.NewEventBus(256)
	events, unsubscribe := bus.Subscribe()
	t.Cleanup(unsubscribe)
	conn := offsync.NewConnectivity(true, bus)

	eng, err := offsync.NewEngine(store, conn, bus, &offsync.EngineConfig{
		DrainInterval: time.Hour,
		KickDebounce:  10 * time.Millisecond,
		Service: &offsync.ServiceConfig{
			Workers:     4,
			CallTimeout: 2 * time.Second,
			BackoffMin:  time.Minute,
			BackoffMax:  time.Hour,
		},
	}, logger)
	require.NoError(t, err)

	h := &IntegrationHarness{
		t:       t,
		ctx:     ctx,
		backend: o.backend,
		faults:  faults,
		server:  server,
		jwtAuth: jwtAuth,
		store:   store,
		conn:    conn,
		bus:     bus,
		eng:     eng,
		events:  events,
	}
	h.token, err = jwtAuth.GenerateToken("user-1", "device-1", time.Hour)
	require.NoError(t, err)

	h.set, err = entities.RegisterHTTP(eng, entities.RemoteConfig{
		BaseURL:      server.URL + apiPrefix,
		Token:        h.bearer,
		Connectivity: conn,
	}, &offsync.RepositoryConfig{IDs: offsync.SequentialIDs(offsync.LocalIDPrefix)})
	require.NoError(t, err)
	return h
}

func (h *IntegrationHarness) bearer(context.Context) (string, error) {
	h.tokenMu.Lock()
	defer h.tokenMu.Unlock()
	return h.token, nil
}

func (h *IntegrationHarness) setToken(token string) {
	h.tokenMu.Lock()
	defer h.tokenMu.Unlock()
	h.token = token
}

func (h *IntegrationHarness) drainAll(opts offsync.DrainOptions) map[string]offsync.DrainReport {
	h.t.Helper()
	reports, err := h.eng.DrainAll(h.ctx, opts)
	require.NoError(h.t, err)
	return reports
}

func (h *IntegrationHarness) serverDoc(kind, id string) (offserver.Document, error) {
	return h.backend.Get(h.ctx, entities.Collection(kind), id)
}

func (h *IntegrationHarness) queueLen() int {
	h.t.Helper()
	stats, err := h.eng.Stats(h.ctx)
	require.NoError(h.t, err)
	n := 0
	for _, s := range stats {
		n += s.Queued
	}
	return n
}

// drainEvents returns the events published so far
func (h *IntegrationHarness) drainEvents() []offsync.SyncEvent {
	var out []offsync.SyncEvent
	for {
		select {
		case ev := <-h.events:
			out = append(out, ev)
		default:
			return out
		}
	}
}
