// Package syncer keeps the local trip document and one remote copy in step.
// Every operation reports a Result instead of an error; a failed sync never
// blocks local work.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"sync"
	"time"

	"tripsync/internal/appctx"
	"tripsync/internal/domain"
	"tripsync/internal/merge"
	"tripsync/internal/persistence"
	"tripsync/internal/remote"
	"tripsync/internal/store"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

type Result struct {
	Success bool                 `json:"success"`
	Message string               `json:"message"`
	Doc     *domain.TripDocument `json:"-"`
}

func ok(msg string) Result { return Result{Success: true, Message: msg} }

func fail(msg string) Result { return Result{Message: msg} }

func failErr(op string, err error) Result {
	return Result{Message: fmt.Sprintf("%s failed: %v", op, err)}
}

// Status is announced after every sync attempt.
type Status struct {
	Backend string    `json:"backend"`
	Op      string    `json:"op"`
	Success bool      `json:"success"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// conn is the configured remote, split by capability.
type conn struct {
	name    string
	docs    remote.Documents
	snaps   remote.Snapshots
	patcher remote.Patcher
	watcher remote.Watcher
	closer  io.Closer
}

func (c *conn) pushBackup(ctx context.Context, rec domain.BackupRecord) error {
	if c.docs != nil {
		return c.docs.PushBackup(ctx, rec)
	}
	return c.snaps.PushBackup(ctx, rec)
}

type Service struct {
	store    *store.Store
	local    *persistence.Local
	log      zerolog.Logger
	validate *validator.Validate
	connect  Connector
	opts     Options
	now      func() time.Time

	mu       sync.Mutex
	settings *Settings
	conn     *conn
	auto     bool
	poll     context.CancelFunc
	sub      *Subscription

	pending pendingPush

	statusMu sync.RWMutex
	onStatus []StatusListener
}

type ServiceOption func(*Service)

func WithConnector(c Connector) ServiceOption {
	return func(s *Service) { s.connect = c }
}

func WithOptions(o Options) ServiceOption {
	return func(s *Service) { s.opts = o }
}

// NewService registers itself as a change listener on st.
func NewService(st *store.Store, local *persistence.Local, log zerolog.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		store:    st,
		local:    local,
		log:      log.With().Str("component", "sync").Logger(),
		validate: validator.New(),
		connect:  DefaultConnector,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.opts = s.opts.withDefaults()
	st.OnChange(s.handleChange)
	return s
}

type StatusListener func(Status)

// OnStatus registers fn for every sync outcome.
func (s *Service) OnStatus(fn StatusListener) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.onStatus = append(s.onStatus, fn)
}

func (s *Service) report(op string, r Result) Result {
	st := Status{Op: op, Success: r.Success, Message: r.Message, At: s.now().UTC()}
	if c := s.current(); c != nil {
		st.Backend = c.name
	}

	ev := s.log.Info()
	if !r.Success {
		ev = s.log.Warn()
	}
	ev.Str("op", op).Str("backend", st.Backend).Msg(r.Message)

	s.statusMu.RLock()
	listeners := append([]StatusListener(nil), s.onStatus...)
	s.statusMu.RUnlock()
	for _, fn := range listeners {
		fn(st)
	}
	return r
}

func (s *Service) current() *conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// Configure validates settings and connects. Configuring again with equal
// settings is a no-op; different settings stop every running sync first.
func (s *Service) Configure(ctx context.Context, settings Settings) Result {
	if err := s.validateSettings(settings); err != nil {
		return s.report("configure", fail("invalid sync settings: "+err.Error()))
	}

	s.mu.Lock()
	same := s.settings != nil && reflect.DeepEqual(*s.settings, settings)
	s.mu.Unlock()
	if same {
		return ok("sync already configured")
	}

	s.StopAll()

	raw, err := s.connect(ctx, settings)
	if err != nil {
		return s.report("configure", failErr("connect", err))
	}
	c, err := split(settings.Backend, raw)
	if err != nil {
		return s.report("configure", failErr("connect", err))
	}

	s.mu.Lock()
	prev := s.conn
	s.conn = c
	cp := settings
	s.settings = &cp
	s.mu.Unlock()

	if prev != nil && prev.closer != nil {
		if err := prev.closer.Close(); err != nil {
			s.log.Warn().Err(err).Str("backend", prev.name).Msg("failed to close previous remote")
		}
	}
	return s.report("configure", ok("sync configured for "+c.name))
}

func (s *Service) validateSettings(settings Settings) error {
	if err := s.validate.Struct(settings); err != nil {
		return err
	}
	switch settings.Backend {
	case BackendFirebase:
		return s.validate.Struct(settings.Firebase)
	case BackendGist:
		return s.validate.Struct(settings.Gist)
	case BackendCouch:
		return s.validate.Struct(settings.Couch)
	}
	return nil
}

func split(name string, raw any) (*conn, error) {
	c := &conn{name: name}
	c.docs, _ = raw.(remote.Documents)
	c.snaps, _ = raw.(remote.Snapshots)
	c.patcher, _ = raw.(remote.Patcher)
	c.watcher, _ = raw.(remote.Watcher)
	c.closer, _ = raw.(io.Closer)
	if c.docs == nil && c.snaps == nil {
		return nil, fmt.Errorf("%s stores neither documents nor snapshots", name)
	}
	if c.docs != nil {
		c.name = c.docs.Name()
	} else {
		c.name = c.snaps.Name()
	}
	return c, nil
}

func (s *Service) IsConfigured() bool {
	return s.current() != nil
}

// Settings returns a copy of the active settings, or nil.
func (s *Service) Settings() *Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings == nil {
		return nil
	}
	cp := *s.settings
	return &cp
}

var errNotConfigured = errors.New("sync is not configured")

// Upload pushes the whole local state.
func (s *Service) Upload(ctx context.Context) Result {
	c := s.current()
	if c == nil {
		return fail(errNotConfigured.Error())
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.UploadTimeout)
	defer cancel()
	if err := s.upload(ctx, c); err != nil {
		return s.report("upload", failErr("upload", err))
	}
	return s.report("upload", ok("uploaded to "+c.name))
}

func (s *Service) upload(ctx context.Context, c *conn) error {
	if c.docs != nil {
		doc := s.store.Document()
		if doc == nil {
			return store.ErrNoDocument
		}
		doc.LastSync = s.now().UTC()
		sess, _ := appctx.FromContext(ctx)
		doc.SyncUser = sess.User
		return c.docs.Push(ctx, doc)
	}

	snap, err := s.local.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to export local state: %w", err)
	}
	return c.snaps.PushSnapshot(ctx, snap)
}

// Download pulls the remote copy. With mergeLocal it is merged into the
// local state, otherwise it replaces it.
func (s *Service) Download(ctx context.Context, mergeLocal bool) Result {
	c := s.current()
	if c == nil {
		return fail(errNotConfigured.Error())
	}

	doc, err := s.download(ctx, c, mergeLocal)
	if errors.Is(err, remote.ErrNotFound) {
		return s.report("download", fail("no remote copy on "+c.name))
	}
	if err != nil {
		return s.report("download", failErr("download", err))
	}
	r := ok("downloaded from " + c.name)
	r.Doc = doc
	return s.report("download", r)
}

func (s *Service) download(ctx context.Context, c *conn, mergeLocal bool) (*domain.TripDocument, error) {
	if c.docs != nil {
		incoming, err := c.docs.Fetch(ctx)
		if err != nil {
			return nil, err
		}
		if err := remote.CheckVersion(incoming); err != nil {
			return nil, err
		}
		return s.store.Apply(ctx, func(current *domain.TripDocument) (*domain.TripDocument, error) {
			if !mergeLocal {
				return incoming, nil
			}
			return merge.Documents(current, incoming)
		})
	}

	snap, err := c.snaps.FetchSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	return s.store.Apply(ctx, func(current *domain.TripDocument) (*domain.TripDocument, error) {
		next := snap
		if mergeLocal {
			local, err := s.local.Snapshot(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to export local state: %w", err)
			}
			next = merge.Snapshot(local, snap)
		}

		// Nothing is written until the candidate document is known good.
		doc := current
		if raw, ok := next[s.local.Key()]; ok {
			doc, err = remote.Decode([]byte(raw))
			if err != nil {
				return nil, fmt.Errorf("remote snapshot holds no usable trip document: %w", err)
			}
		}
		if doc == nil {
			return nil, errors.New("remote snapshot holds no usable trip document")
		}
		if err := s.local.RestoreSnapshot(ctx, next); err != nil {
			return nil, err
		}
		return doc, nil
	})
}

// UploadItem pushes one item, falling back to a full upload.
func (s *Service) UploadItem(ctx context.Context, dayID, itemID string) Result {
	c := s.current()
	if c == nil {
		return fail(errNotConfigured.Error())
	}
	if c.patcher == nil {
		return fail("item upload is not supported by " + c.name)
	}
	item := s.store.Item(dayID, itemID)
	if item == nil {
		return fail(fmt.Sprintf("item %s/%s not found", dayID, itemID))
	}

	used, err := Escalate(ctx, s.log, []Strategy{
		s.itemStrategy(c, dayID, item),
		s.uploadStrategy(c),
	})
	if err != nil {
		return s.report("upload_item", failErr("item upload", err))
	}
	return s.report("upload_item", ok("item synced via "+used))
}

// Update writes a path patch, falling back to the owning item and then to a
// full upload.
func (s *Service) Update(ctx context.Context, patch map[string]any) Result {
	c := s.current()
	if c == nil {
		return fail(errNotConfigured.Error())
	}
	if c.patcher == nil {
		return fail("patch update is not supported by " + c.name)
	}
	if len(patch) == 0 {
		return ok("nothing to update")
	}

	used, err := Escalate(ctx, s.log, s.patchChain(c, patch))
	if err != nil {
		return s.report("update", failErr("update", err))
	}
	return s.report("update", ok("update synced via "+used))
}

func (s *Service) patchChain(c *conn, patch map[string]any) []Strategy {
	chain := []Strategy{{
		Name:    "patch",
		Timeout: s.opts.PatchTimeout,
		Run:     func(ctx context.Context) error { return c.patcher.Patch(ctx, patch) },
	}}
	if dayID, itemID, single := owningItem(patch); single {
		if item := s.store.Item(dayID, itemID); item != nil {
			chain = append(chain, s.itemStrategy(c, dayID, item))
		}
	}
	return append(chain, s.uploadStrategy(c))
}

func (s *Service) itemStrategy(c *conn, dayID string, item *domain.Item) Strategy {
	return Strategy{
		Name:    "item",
		Timeout: s.opts.ItemTimeout,
		Run:     func(ctx context.Context) error { return c.patcher.PushItem(ctx, dayID, item) },
	}
}

func (s *Service) uploadStrategy(c *conn) Strategy {
	return Strategy{
		Name:    "upload",
		Timeout: s.opts.UploadTimeout,
		Run:     func(ctx context.Context) error { return s.upload(ctx, c) },
	}
}

// owningItem reports the item every path of patch lies under, if there is
// exactly one.
func owningItem(patch map[string]any) (dayID, itemID string, single bool) {
	for path := range patch {
		parts := strings.Split(strings.Trim(path, "/"), "/")
		if len(parts) < 4 || parts[0] != "days" || parts[2] != "items" {
			return "", "", false
		}
		if dayID == "" {
			dayID, itemID = parts[1], parts[3]
			continue
		}
		if parts[1] != dayID || parts[3] != itemID {
			return "", "", false
		}
	}
	return dayID, itemID, dayID != ""
}

// SetAutoSync turns background sync on or off. Remotes that stream get a
// realtime subscription, falling back to polling downloads; snapshot remotes
// upload on a ticker.
func (s *Service) SetAutoSync(ctx context.Context, enabled bool) Result {
	c := s.current()
	if c == nil {
		return fail(errNotConfigured.Error())
	}

	s.stopBackground()
	if !enabled {
		return s.report("auto_sync", ok("auto sync disabled"))
	}

	s.mu.Lock()
	s.auto = true
	s.mu.Unlock()

	if c.watcher != nil {
		sub, r := s.StartRealtimeSync(ctx, nil)
		if sub != nil {
			return r
		}
		s.startPolling(ctx, c, "download")
		return s.report("auto_sync", fail(r.Message+"; polling instead"))
	}

	if c.docs != nil {
		s.startPolling(ctx, c, "download")
	} else {
		s.startPolling(ctx, c, "upload")
	}
	return s.report("auto_sync", ok(fmt.Sprintf("auto sync every %s", s.opts.PollInterval)))
}

func (s *Service) AutoSync() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.auto
}

func (s *Service) startPolling(ctx context.Context, c *conn, op string) {
	pollCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Lock()
	s.poll = cancel
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(s.opts.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pollCtx.Done():
				return
			case <-ticker.C:
				if op == "upload" {
					s.Upload(pollCtx)
				} else {
					s.Download(pollCtx, true)
				}
			}
		}
	}()
	s.log.Debug().Str("backend", c.name).Str("op", op).Dur("interval", s.opts.PollInterval).Msg("polling started")
}

func (s *Service) stopBackground() {
	s.mu.Lock()
	poll, sub := s.poll, s.sub
	s.poll, s.sub, s.auto = nil, nil, false
	s.mu.Unlock()

	if poll != nil {
		poll()
	}
	if sub != nil {
		sub.Stop()
	}
}

// StopAll ends polling, the realtime subscription and any pending push.
func (s *Service) StopAll() {
	s.stopBackground()
	s.pending.reset()
}
