// Package store is the single authority over the trip document. Every
// mutation checks the caller's write permission, works on a copy, persists
// it and only then swaps it in, so memory and storage never diverge.
package store

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"tripsync/internal/appctx"
	"tripsync/internal/domain"
	"tripsync/internal/persistence"
	"tripsync/pkg/hash"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Store struct {
	mu        sync.Mutex
	doc       *domain.TripDocument
	local     *persistence.Local
	log       zerolog.Logger
	validate  *validator.Validate
	now       func() time.Time
	salt      func() float64
	listenMu  sync.RWMutex
	listeners []Listener
}

type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithSalt replaces the random fraction added to entry timestamps.
func WithSalt(salt func() float64) Option {
	return func(s *Store) { s.salt = salt }
}

func New(local *persistence.Local, log zerolog.Logger, opts ...Option) *Store {
	s := &Store{
		local:    local,
		log:      log.With().Str("component", "store").Logger(),
		validate: validator.New(),
		now:      time.Now,
		salt:     rand.Float64,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnChange registers fn to be called after every persisted mutation,
// outside the store lock.
func (s *Store) OnChange(fn Listener) {
	s.listenMu.Lock()
	defer s.listenMu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Store) notify(c Change) {
	s.listenMu.RLock()
	listeners := append([]Listener(nil), s.listeners...)
	s.listenMu.RUnlock()
	for _, fn := range listeners {
		fn(c)
	}
}

// Initialize builds a fresh document from seed and persists it.
func (s *Store) Initialize(ctx context.Context, seed domain.Seed) (*domain.TripDocument, error) {
	if err := s.validate.Struct(seed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidField, err)
	}

	now := s.now().UTC()
	doc := &domain.TripDocument{
		ID:      seed.ID,
		Title:   seed.Title,
		Version: domain.CurrentVersion,
	}
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}

	for di, sd := range seed.Days {
		day := &domain.Day{ID: sd.ID, Title: sd.Title, Order: di}
		if day.ID == "" {
			day.ID = fmt.Sprintf("day%d", di+1)
		}
		for _, si := range sd.Items {
			item := s.newItem(day, now)
			item.Category = si.Category
			item.Time = si.Time
			item.Tag = si.Tag
			item.Note = si.Note
			if !item.Tag.Valid() {
				item.Tag = domain.TagOther
			}
			if len(si.Images) > 0 {
				item.Images = append([]string(nil), si.Images...)
			}
			for _, text := range si.Plan {
				ts := s.timestamp()
				item.Plan = append(item.Plan, &domain.PlanItem{
					Text:      text,
					Hash:      hash.ContentHash(text, "", ts),
					Timestamp: ts,
				})
			}
			day.Items = append(day.Items, item)
		}
		doc.Days = append(doc.Days, day)
	}

	s.mu.Lock()
	report, err := s.local.SaveDocument(ctx, doc)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.doc = report.Document
	out := s.doc.Clone()
	s.mu.Unlock()

	s.log.Info().Str("trip", doc.ID).Int("days", len(doc.Days)).Msg("initialized trip document")
	s.notify(Change{Kind: ChangeInitialized, At: now, User: userOf(ctx)})
	return out, nil
}

// Load reads the persisted document into memory. It returns nil when
// nothing usable is stored; the caller falls back to Initialize.
func (s *Store) Load(ctx context.Context) *domain.TripDocument {
	doc := s.local.LoadDocument(ctx)
	if doc == nil {
		return nil
	}
	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()
	return doc.Clone()
}

// Save persists the in-memory document. On failure memory is unchanged.
func (s *Store) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return ErrNoDocument
	}
	report, err := s.local.SaveDocument(ctx, s.doc)
	if err != nil {
		return err
	}
	s.doc = report.Document
	return nil
}

// Replace installs doc wholesale, as after a restore from remote.
func (s *Store) Replace(ctx context.Context, doc *domain.TripDocument) error {
	if doc == nil {
		return ErrNoDocument
	}
	_, err := s.Apply(ctx, func(*domain.TripDocument) (*domain.TripDocument, error) {
		return doc, nil
	})
	return err
}

// Apply computes a new document from the current one and installs it, all
// under the store lock so no local mutation can slip in between. current is
// nil when nothing is loaded yet. Apply is not a user edit and skips the
// permission check; it announces ChangeReplaced.
func (s *Store) Apply(ctx context.Context, fn func(current *domain.TripDocument) (*domain.TripDocument, error)) (*domain.TripDocument, error) {
	s.mu.Lock()
	next, err := fn(s.doc.Clone())
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if next == nil {
		s.mu.Unlock()
		return nil, ErrNoDocument
	}
	next = next.Clone()
	if next.Version == 0 {
		next.Version = domain.CurrentVersion
	}
	for _, day := range next.Days {
		day.Resequence()
	}

	report, err := s.local.SaveDocument(ctx, next)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.doc = report.Document
	out := s.doc.Clone()
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeReplaced, At: s.now().UTC(), User: userOf(ctx)})
	return out, nil
}

func (s *Store) Document() *domain.TripDocument {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Clone()
}

func (s *Store) Day(dayID string) *domain.Day {
	s.mu.Lock()
	defer s.mu.Unlock()
	day := s.doc.Day(dayID)
	if day == nil {
		s.log.Warn().Str("day", dayID).Msg("day not found")
		return nil
	}
	return day.Clone()
}

// Item resolves tombstoned items too; use VisibleItems for display.
func (s *Store) Item(dayID, itemID string) *domain.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := s.doc.Item(dayID, itemID)
	if item == nil {
		s.log.Warn().Str("day", dayID).Str("item", itemID).Msg("item not found")
		return nil
	}
	return item.Clone()
}

func (s *Store) VisibleItems(dayID string) []*domain.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	day := s.doc.Day(dayID)
	if day == nil {
		return nil
	}
	visible := day.VisibleItems()
	out := make([]*domain.Item, len(visible))
	for i, item := range visible {
		out[i] = item.Clone()
	}
	return out
}

// SpendSummary totals the spend entries of every live item.
func (s *Store) SpendSummary() domain.SpendSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	summary := domain.SpendSummary{ByPayer: map[string]float64{}}
	if s.doc == nil {
		return summary
	}
	for _, day := range s.doc.Days {
		for _, item := range day.VisibleItems() {
			for _, e := range item.Spend {
				summary.Total += e.Amount
				summary.ByPayer[e.Payer] += e.Amount
				summary.Entries++
			}
		}
	}
	return summary
}

func (s *Store) Backups(ctx context.Context) ([]domain.BackupRecord, error) {
	return s.local.Backups(ctx)
}

// Compact physically drops every tombstone.
func (s *Store) Compact(ctx context.Context) (persistence.CleanupStats, error) {
	var stats persistence.CleanupStats
	err := s.mutate(ctx, func(doc *domain.TripDocument, m *mutation) (*domain.TripDocument, error) {
		for _, day := range doc.Days {
			for _, item := range day.Items {
				path := itemPath(day.ID, item.ID)
				if item.Deleted {
					m.set(path, nil)
					continue
				}
				for _, p := range item.Plan {
					if p.Deleted {
						m.set(path+"/plan/"+p.Hash, nil)
					}
				}
				for _, c := range item.Comments {
					if c.Deleted {
						m.set(path+"/comments/"+c.Hash, nil)
					}
				}
			}
		}

		var cleaned *domain.TripDocument
		cleaned, stats = persistence.Cleanup(doc)
		for _, day := range cleaned.Days {
			for _, item := range day.Items {
				m.set(itemPath(day.ID, item.ID)+"/order", item.Order)
			}
		}
		m.change.Kind = ChangeCompacted
		return cleaned, nil
	})
	if err != nil {
		return stats, err
	}
	s.log.Info().Int("removed", stats.Total()).Msg("compacted trip document")
	return stats, nil
}

// mutation collects the patch and backup of one write.
type mutation struct {
	change Change
	noop   bool
}

func (m *mutation) set(path string, value any) {
	if m.change.Patch == nil {
		m.change.Patch = make(map[string]any)
	}
	m.change.Patch[path] = value
}

// mutate runs fn against a copy of the document. fn may return a different
// document to install. When fn marks the mutation as a no-op nothing is
// persisted or announced.
func (s *Store) mutate(ctx context.Context, fn func(*domain.TripDocument, *mutation) (*domain.TripDocument, error)) error {
	sess, _ := appctx.FromContext(ctx)
	if !sess.Writable() {
		s.log.Warn().Str("user", sess.User).Msg("write rejected: no permission")
		return ErrPermissionDenied
	}

	s.mu.Lock()
	if s.doc == nil {
		s.mu.Unlock()
		return ErrNoDocument
	}

	m := &mutation{change: Change{User: sess.User, At: s.now().UTC()}}
	work := s.doc.Clone()
	next, err := fn(work, m)
	if err != nil || m.noop {
		s.mu.Unlock()
		return err
	}
	if next == nil {
		next = work
	}

	report, err := s.local.SaveDocument(ctx, next)
	if err != nil {
		if rec := m.change.Backup; rec != nil {
			if dropErr := s.local.DropBackup(ctx, rec.Key); dropErr != nil {
				s.log.Error().Err(dropErr).Str("backup", rec.Key).Msg("failed to drop backup of aborted delete")
			}
		}
		s.mu.Unlock()
		s.log.Error().Err(err).Str("kind", string(m.change.Kind)).Msg("failed to persist mutation")
		return err
	}
	if report.CleanedUp {
		// Tombstones were dropped to fit; remote copies must follow.
		m.change.Patch = nil
	}
	s.doc = report.Document
	s.mu.Unlock()

	s.notify(m.change)
	return nil
}

func (s *Store) newItem(day *domain.Day, now time.Time) *domain.Item {
	return &domain.Item{
		ID:        fmt.Sprintf("%s_%d_%d_%s", day.ID, len(day.Items), now.UnixMilli(), uuid.New().String()[:8]),
		Tag:       domain.TagOther,
		Order:     len(day.Items),
		Spend:     []domain.SpendEntry{},
		Likes:     map[string][]string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// timestamp is epoch milliseconds plus a random fraction, so two entries
// created in the same millisecond still hash apart.
func (s *Store) timestamp() float64 {
	return float64(s.now().UnixMilli()) + s.salt()
}

func userOf(ctx context.Context) string {
	sess, _ := appctx.FromContext(ctx)
	return sess.User
}
