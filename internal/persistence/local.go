// Package persistence keeps the trip document in a size-limited local key
// space and recovers from quota pressure by compacting tombstones.
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"tripsync/internal/domain"
	"tripsync/internal/wire"

	"github.com/rs/zerolog"
)

const (
	DocumentKey = "trip_plan_data"
	LedgerKey   = "trip_backup_ledger"
	CanaryKey   = "__storage_test__"

	infoSizeMB = 1.0
	warnSizeMB = 4.0
)

type SaveReport struct {
	Bytes     int
	CleanedUp bool
	Removed   CleanupStats
	// Document is what was actually written; it differs from the input
	// only when CleanedUp is set.
	Document *domain.TripDocument
}

type Local struct {
	backend Backend
	log     zerolog.Logger
	key     string
}

type Option func(*Local)

func WithDocumentKey(key string) Option {
	return func(l *Local) { l.key = key }
}

func NewLocal(backend Backend, log zerolog.Logger, opts ...Option) *Local {
	l := &Local{
		backend: backend,
		log:     log.With().Str("component", "persistence").Logger(),
		key:     DocumentKey,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Key is the key the document is stored under.
func (l *Local) Key() string { return l.key }

func (l *Local) Backend() Backend {
	return l.backend
}

// SaveDocument writes doc. A failed canary write aborts with ErrLowStorage
// before the document is touched. A quota failure on the real write runs
// Cleanup and retries exactly once.
func (l *Local) SaveDocument(ctx context.Context, doc *domain.TripDocument) (*SaveReport, error) {
	if err := l.canary(ctx); err != nil {
		l.log.Error().Err(err).Msg("canary write failed, refusing to save")
		return nil, fmt.Errorf("%w: %v", ErrLowStorage, err)
	}

	data, err := wire.ToWire(doc)
	if err != nil {
		return nil, err
	}

	err = l.backend.Set(ctx, l.key, string(data))
	if err == nil {
		l.reportSize(ctx)
		return &SaveReport{Bytes: len(data), Document: doc}, nil
	}
	if !errors.Is(err, ErrQuotaExceeded) {
		return nil, fmt.Errorf("failed to save document: %w", err)
	}

	cleaned, stats := Cleanup(doc)
	l.log.Warn().
		Int("items", stats.Items).
		Int("plan", stats.Plan).
		Int("comments", stats.Comments).
		Msg("quota exceeded, retrying after cleanup")

	data, err = wire.ToWire(cleaned)
	if err != nil {
		return nil, err
	}
	if err := l.backend.Set(ctx, l.key, string(data)); err != nil {
		l.log.Error().Err(err).Int("bytes", len(data)).Msg("save failed after cleanup")
		if errors.Is(err, ErrQuotaExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
	}

	l.reportSize(ctx)
	return &SaveReport{Bytes: len(data), CleanedUp: true, Removed: stats, Document: cleaned}, nil
}

func (l *Local) canary(ctx context.Context) error {
	if err := l.backend.Set(ctx, CanaryKey, "test"); err != nil {
		return err
	}
	return l.backend.Remove(ctx, CanaryKey)
}

// LoadDocument returns nil when nothing usable is stored: absent, malformed,
// or written under another schema version.
func (l *Local) LoadDocument(ctx context.Context) *domain.TripDocument {
	raw, err := l.backend.Get(ctx, l.key)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		l.log.Warn().Err(err).Msg("failed to read stored document")
		return nil
	}

	doc, err := wire.FromWire([]byte(raw))
	if err != nil {
		l.log.Warn().Err(err).Msg("stored document is malformed, ignoring")
		return nil
	}
	if doc.Version != domain.CurrentVersion {
		l.log.Warn().Int("version", doc.Version).Int("want", domain.CurrentVersion).Msg("stored document version mismatch, ignoring")
		return nil
	}
	return doc
}

func (l *Local) RemoveDocument(ctx context.Context) error {
	return l.backend.Remove(ctx, l.key)
}

// SizeMB is the serialized size of the whole key space. Advisory only.
func (l *Local) SizeMB(ctx context.Context) (float64, error) {
	keys, err := l.backend.Keys(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, k := range keys {
		v, err := l.backend.Get(ctx, k)
		if err != nil {
			continue
		}
		total += len(k) + len(v)
	}
	return float64(total) / (1024 * 1024), nil
}

func (l *Local) reportSize(ctx context.Context) {
	mb, err := l.SizeMB(ctx)
	if err != nil {
		return
	}
	switch {
	case mb > warnSizeMB:
		l.log.Warn().Float64("size_mb", mb).Msg("local storage close to its limit")
	case mb > infoSizeMB:
		l.log.Info().Float64("size_mb", mb).Msg("local storage size")
	}
}

// AppendBackup adds rec to the local ledger. Besides appends, the ledger is
// only rewritten by DropBackup.
func (l *Local) AppendBackup(ctx context.Context, rec domain.BackupRecord) error {
	records, err := l.Backups(ctx)
	if err != nil {
		return err
	}
	records = append(records, rec)

	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to encode backup ledger: %w", err)
	}
	if err := l.backend.Set(ctx, LedgerKey, string(data)); err != nil {
		return fmt.Errorf("failed to write backup ledger: %w", err)
	}
	return nil
}

// DropBackup removes the record stored under key. It undoes an append whose
// delete could not be saved; a missing key is not an error.
func (l *Local) DropBackup(ctx context.Context, key string) error {
	records, err := l.Backups(ctx)
	if err != nil {
		return err
	}
	kept := records[:0]
	for _, rec := range records {
		if rec.Key != key {
			kept = append(kept, rec)
		}
	}
	if len(kept) == len(records) {
		return nil
	}

	data, err := json.Marshal(kept)
	if err != nil {
		return fmt.Errorf("failed to encode backup ledger: %w", err)
	}
	if err := l.backend.Set(ctx, LedgerKey, string(data)); err != nil {
		return fmt.Errorf("failed to write backup ledger: %w", err)
	}
	return nil
}

func (l *Local) Backups(ctx context.Context) ([]domain.BackupRecord, error) {
	raw, err := l.backend.Get(ctx, LedgerKey)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read backup ledger: %w", err)
	}

	var records []domain.BackupRecord
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		l.log.Warn().Err(err).Msg("backup ledger is malformed, starting a new one")
		return nil, nil
	}
	return records, nil
}

// Snapshot exports every stored key except the canary.
func (l *Local) Snapshot(ctx context.Context) (map[string]string, error) {
	keys, err := l.backend.Keys(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if k == CanaryKey {
			continue
		}
		v, err := l.backend.Get(ctx, k)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

// RestoreSnapshot writes every key of snap, in key order.
func (l *Local) RestoreSnapshot(ctx context.Context, snap map[string]string) error {
	keys := make([]string, 0, len(snap))
	for k := range snap {
		if k != CanaryKey {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := l.backend.Set(ctx, k, snap[k]); err != nil {
			return fmt.Errorf("failed to restore %s: %w", k, err)
		}
	}
	return nil
}

// Clear removes the whole key space. This is the only path that destroys
// the document.
func (l *Local) Clear(ctx context.Context) error {
	keys, err := l.backend.Keys(ctx)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := l.backend.Remove(ctx, k); err != nil {
			return err
		}
	}
	return nil
}
