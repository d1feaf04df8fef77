package offsync_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ADORSYS-GIS/DGRV-digital-gap-tool-sub001/offsqlite"
	"github.com/ADORSYS-GIS/DGRV-digital-gap-tool-sub001/offsync"
)

type folder struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (f *folder) GetID() string   { return f.ID }
func (f *folder) SetID(id string) { f.ID = id }
func (f *folder) Validate() error {
	if f.Name == "" {
		return offsync.NewValidationError("name", "is required")
	}
	return nil
}

type note struct {
	ID       string `json:"id"`
	FolderID string `json:"folder_id"`
	Title    string `json:"title"`
}

func (n *note) GetID() string   { return n.ID }
func (n *note) SetID(id string) { n.ID = id }
func (n *note) Validate() error {
	if n.Title == "" {
		return offsync.NewValidationError("title", "is required")
	}
	return nil
}

var folderDesc = &offsync.Descriptor[*folder]{
	Type: "folder",
	New:  func() *folder { return &folder{} },
}

var noteDesc = &offsync.Descriptor[*note]{
	Type:       "note",
	New:        func() *note { return &note{} },
	Scope:      func(n *note) string { return n.FolderID },
	References: []offsync.Reference{{Field: "folder_id", Target: "folder"}},
}

type remoteCall struct {
	Op string
	ID string
}

// fakeRemote keeps entities in memory and lets tests script failures per call
type fakeRemote[E offsync.Entity] struct {
	mu       sync.Mutex
	newE     func() E
	scope    func(E) string
	prefix   string
	nextID   int
	items    map[string]json.RawMessage
	calls    []remoteCall
	failures []error

	// hook runs outside the lock before each call; a non-nil error fails the call
	hook func(ctx context.Context, op, id string) error
}

func newFakeRemote[E offsync.Entity](desc *offsync.Descriptor[E], prefix string, firstID int) *fakeRemote[E] {
	return &fakeRemote[E]{
		newE:   desc.New,
		scope:  desc.Scope,
		prefix: prefix,
		nextID: firstID - 1,
		items:  make(map[string]json.RawMessage),
	}
}

func (f *fakeRemote[E]) begin(ctx context.Context, op, id string) error {
	f.mu.Lock()
	f.calls = append(f.calls, remoteCall{Op: op, ID: id})
	var err error
	if len(f.failures) > 0 {
		err = f.failures[0]
		f.failures = f.failures[1:]
	}
	hook := f.hook
	f.mu.Unlock()

	if err != nil {
		return err
	}
	if hook != nil {
		return hook(ctx, op, id)
	}
	return nil
}

func (f *fakeRemote[E]) Create(ctx context.Context, e E) (E, error) {
	var zero E
	if err := f.begin(ctx, "create", e.GetID()); err != nil {
		return zero, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	out := f.clone(e)
	out.SetID(fmt.Sprintf("%s%d", f.prefix, f.nextID))
	f.items[out.GetID()], _ = json.Marshal(out)
	return f.clone(out), nil
}

func (f *fakeRemote[E]) Update(ctx context.Context, e E) (E, error) {
	var zero E
	if err := f.begin(ctx, "update", e.GetID()); err != nil {
		return zero, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[e.GetID()]; !ok {
		return zero, offsync.Classify("update", http.StatusNotFound, nil)
	}
	f.items[e.GetID()], _ = json.Marshal(e)
	return f.clone(e), nil
}

func (f *fakeRemote[E]) Delete(ctx context.Context, id string) error {
	if err := f.begin(ctx, "delete", id); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, id)
	return nil
}

func (f *fakeRemote[E]) List(ctx context.Context, scope string) ([]E, error) {
	if err := f.begin(ctx, "list", scope); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.items))
	for id := range f.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var out []E
	for _, id := range ids {
		e := f.newE()
		_ = json.Unmarshal(f.items[id], e)
		if scope != "" && f.scope != nil && f.scope(e) != scope {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeRemote[E]) clone(e E) E {
	data, _ := json.Marshal(e)
	out := f.newE()
	_ = json.Unmarshal(data, out)
	return out
}

// put stores an entity as if another client had created it
func (f *fakeRemote[E]) put(e E) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[e.GetID()], _ = json.Marshal(e)
}

func (f *fakeRemote[E]) get(id string) (E, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.items[id]
	if !ok {
		var zero E
		return zero, false
	}
	e := f.newE()
	_ = json.Unmarshal(data, e)
	return e, true
}

func (f *fakeRemote[E]) remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, id)
}

func (f *fakeRemote[E]) failWith(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, errs...)
}

func (f *fakeRemote[E]) setHook(hook func(ctx context.Context, op, id string) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hook = hook
}

func (f *fakeRemote[E]) callLog() []remoteCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]remoteCall(nil), f.calls...)
}

func (f *fakeRemote[E]) opCount(op string) int {
	n := 0
	for _, c := range f.callLog() {
		if c.Op == op {
			n++
		}
	}
	return n
}

type harness struct {
	store   *offsqlite.Store
	conn    *offsync.Connectivity
	events  *offsync.EventBus
	eng     *offsync.Engine
	folders *offsync.Binding[*folder]
	notes   *offsync.Binding[*note]

	folderRemote *fakeRemote[*folder]
	noteRemote   *fakeRemote[*note]
}

type harnessOption func(cfg *offsync.EngineConfig)

func withCallTimeout(d time.Duration) harnessOption {
	return func(cfg *offsync.EngineConfig) { cfg.Service.CallTimeout = d }
}

func withWorkers(n int) harnessOption {
	return func(cfg *offsync.EngineConfig) { cfg.Service.Workers = n }
}

func withMetrics(m offsync.MetricsRecorder) harnessOption {
	return func(cfg *offsync.EngineConfig) { cfg.Service.Metrics = m }
}

func withKickDebounce(d time.Duration) harnessOption {
	return func(cfg *offsync.EngineConfig) { cfg.KickDebounce = d }
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	ctx := context.Background()

	store, err := offsqlite.Open(ctx, offsqlite.Config{Path: ":memory:"}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := offsync.DefaultEngineConfig()
	cfg.Service.BackoffMin = time.Minute
	cfg.Service.BackoffMax = time.Hour
	cfg.DrainInterval = time.Hour
	for _, opt := range opts {
		opt(cfg)
	}

	events := offsync.NewEventBus(256)
	conn := offsync.NewConnectivity(true, events)
	eng, err := offsync.NewEngine(store, conn, events, cfg, testLogger())
	require.NoError(t, err)

	h := &harness{
		store:        store,
		conn:         conn,
		events:       events,
		eng:          eng,
		folderRemote: newFakeRemote(folderDesc, "srv-", 42),
		noteRemote:   newFakeRemote(noteDesc, "note-", 1),
	}
	ids := offsync.SequentialIDs(offsync.LocalIDPrefix)
	h.folders, err = offsync.Register(eng, folderDesc, offsync.Remote[*folder](h.folderRemote), nil, &offsync.RepositoryConfig{IDs: ids})
	require.NoError(t, err)
	h.notes, err = offsync.Register(eng, noteDesc, offsync.Remote[*note](h.noteRemote), nil, &offsync.RepositoryConfig{IDs: ids})
	require.NoError(t, err)
	return h
}

func (h *harness) drainAll(t *testing.T, opts offsync.DrainOptions) map[string]offsync.DrainReport {
	t.Helper()
	reports, err := h.eng.DrainAll(context.Background(), opts)
	require.NoError(t, err)
	return reports
}

func (h *harness) allEntries(t *testing.T) []*offsync.QueueEntry {
	t.Helper()
	var out []*offsync.QueueEntry
	require.NoError(t, h.store.View(context.Background(), func(ctx context.Context, tx offsync.Tx) error {
		var err error
		out, err = tx.ListEntries(ctx, offsync.EntryFilter{})
		return err
	}))
	return out
}

func (h *harness) record(t *testing.T, entityType, id string) *offsync.Record {
	t.Helper()
	var rec *offsync.Record
	require.NoError(t, h.store.View(context.Background(), func(ctx context.Context, tx offsync.Tx) error {
		var err error
		rec, err = tx.GetRecord(ctx, entityType, id)
		return err
	}))
	return rec
}

func transientErr() error {
	return offsync.Classify("create", http.StatusServiceUnavailable, nil)
}

func permanentErr() error {
	return offsync.Classify("create", http.StatusUnprocessableEntity, nil)
}
