package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tripsync/internal/appctx"
	"tripsync/internal/domain"
	"tripsync/internal/persistence"
	"tripsync/internal/remote"
	"tripsync/internal/remote/firebase"
	"tripsync/internal/store"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// fakeDocs is a document remote without incremental writes.
type fakeDocs struct {
	mu         sync.Mutex
	doc        *domain.TripDocument
	pushes     int
	fetches    int
	backups    []domain.BackupRecord
	calls      []string
	fetchErr   error
	pushErr    error
	backupErr  error
	fetchDelay time.Duration
}

func (f *fakeDocs) Name() string { return "fake" }

func (f *fakeDocs) Fetch(ctx context.Context) (*domain.TripDocument, error) {
	f.mu.Lock()
	f.fetches++
	delay, err := f.fetchDelay, f.fetchErr
	doc := f.doc.Clone()
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, remote.ErrNotFound
	}
	return doc, nil
}

func (f *fakeDocs) Push(_ context.Context, doc *domain.TripDocument) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "upload")
	if f.pushErr != nil {
		return f.pushErr
	}
	f.pushes++
	f.doc = doc.Clone()
	return nil
}

func (f *fakeDocs) PushBackup(_ context.Context, rec domain.BackupRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.backupErr != nil {
		return f.backupErr
	}
	f.backups = append(f.backups, rec)
	return nil
}

func (f *fakeDocs) snapshot() (pushes, fetches int, calls []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pushes, f.fetches, append([]string(nil), f.calls...)
}

// fakeRealtime adds path patches, item writes and a controllable stream.
type fakeRealtime struct {
	*fakeDocs
	patches    []map[string]any
	items      []string
	patchErr   error
	itemErr    error
	patchDelay time.Duration
	events     chan remote.Event
	watches    int
	// hello makes every stream open with a patch event.
	hello bool
}

func newFakeRealtime() *fakeRealtime {
	return &fakeRealtime{fakeDocs: &fakeDocs{}, events: make(chan remote.Event, 16)}
}

func (f *fakeRealtime) Patch(ctx context.Context, paths map[string]any) error {
	f.mu.Lock()
	f.calls = append(f.calls, "patch")
	delay, err := f.patchDelay, f.patchErr
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.patches = append(f.patches, paths)
	f.mu.Unlock()
	return nil
}

func (f *fakeRealtime) PushItem(_ context.Context, dayID string, item *domain.Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "item")
	if f.itemErr != nil {
		return f.itemErr
	}
	f.items = append(f.items, dayID+"/"+item.ID)
	return nil
}

func (f *fakeRealtime) Watch(ctx context.Context, fn func(remote.Event)) error {
	f.mu.Lock()
	f.watches++
	hello := f.hello
	f.mu.Unlock()
	if hello {
		fn(remote.Event{Kind: remote.EventPatch, Path: "/"})
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-f.events:
			fn(ev)
			if ev.Kind == remote.EventRevoke || ev.Kind == remote.EventCancel {
				return errors.New("stream ended by server")
			}
		}
	}
}

func (f *fakeRealtime) patchLog() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]any(nil), f.patches...)
}

// fakeSnaps stores the flat key space.
type fakeSnaps struct {
	mu      sync.Mutex
	snap    map[string]string
	pushes  int
	backups []domain.BackupRecord
}

func (f *fakeSnaps) Name() string { return "fake-gist" }

func (f *fakeSnaps) FetchSnapshot(context.Context) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.snap == nil {
		return nil, remote.ErrNotFound
	}
	out := make(map[string]string, len(f.snap))
	for k, v := range f.snap {
		out[k] = v
	}
	return out, nil
}

func (f *fakeSnaps) PushSnapshot(_ context.Context, snap map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes++
	f.snap = snap
	return nil
}

func (f *fakeSnaps) PushBackup(_ context.Context, rec domain.BackupRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.backups = append(f.backups, rec)
	return nil
}

func (f *fakeSnaps) pushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pushes
}

var firebaseSettings = Settings{
	Backend:  BackendFirebase,
	Firebase: firebase.Config{URL: "https://trip-default-rtdb.firebaseio.com", Path: "trips/kansai"},
}

type fixture struct {
	svc      *Service
	store    *store.Store
	local    *persistence.Local
	ctx      context.Context
	connects int
}

// newFixture builds a store holding a two-day trip and a service whose
// connector always returns rem.
func newFixture(t *testing.T, rem any, opts Options) *fixture {
	t.Helper()
	local := persistence.NewLocal(persistence.NewMemoryBackend(0), zerolog.Nop())
	st := store.New(local, zerolog.Nop(), store.WithSalt(func() float64 { return 0 }))

	f := &fixture{store: st, local: local}
	f.ctx = appctx.WithSession(context.Background(), appctx.Editor("alice"))
	_, err := st.Initialize(f.ctx, domain.Seed{
		ID:    "trip-1",
		Title: "Kansai",
		Days: []domain.SeedDay{
			{ID: "day1", Title: "Kyoto", Items: []domain.SeedItem{{Category: "Temple", Tag: domain.TagSight}}},
			{ID: "day2", Title: "Nara"},
		},
	})
	require.NoError(t, err)

	if opts.Debounce == 0 {
		opts.Debounce = time.Hour
	}
	if opts.Retryer == nil {
		opts.Retryer = &FixedDelayRetryer{Delay: 10 * time.Millisecond}
	}
	f.svc = NewService(st, local, zerolog.Nop(), WithOptions(opts), WithConnector(func(context.Context, Settings) (any, error) {
		f.connects++
		return rem, nil
	}))
	t.Cleanup(f.svc.StopAll)
	return f
}

func (f *fixture) configure(t *testing.T) {
	t.Helper()
	r := f.svc.Configure(f.ctx, firebaseSettings)
	require.True(t, r.Success, r.Message)
}

func (f *fixture) firstItem(t *testing.T) *domain.Item {
	t.Helper()
	items := f.store.VisibleItems("day1")
	require.NotEmpty(t, items)
	return items[0]
}

func remoteTrip(title string) *domain.TripDocument {
	return &domain.TripDocument{ID: "trip-1", Title: title, Version: domain.CurrentVersion,
		Days: []*domain.Day{{ID: "day1", Title: "Kyoto"}}}
}
