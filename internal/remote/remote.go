// Package remote defines what the sync service needs from a remote copy of
// the trip. Backends implement the subset they support.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"tripsync/internal/domain"
	"tripsync/internal/wire"
)

var ErrNotFound = errors.New("remote copy not found")

// ErrVersionMismatch matches ErrNotFound too: a copy written under another
// schema version counts as absent.
var ErrVersionMismatch = fmt.Errorf("%w: schema version mismatch", ErrNotFound)

// CheckVersion rejects documents not written under domain.CurrentVersion.
func CheckVersion(doc *domain.TripDocument) error {
	if doc.Version != domain.CurrentVersion {
		return fmt.Errorf("%w: got %d, want %d", ErrVersionMismatch, doc.Version, domain.CurrentVersion)
	}
	return nil
}

// Decode parses a wire document and applies CheckVersion.
func Decode(data []byte) (*domain.TripDocument, error) {
	doc, err := wire.FromWire(data)
	if err != nil {
		return nil, err
	}
	if err := CheckVersion(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Documents stores the unified trip document as a whole.
type Documents interface {
	Name() string
	Fetch(ctx context.Context) (*domain.TripDocument, error)
	Push(ctx context.Context, doc *domain.TripDocument) error
	PushBackup(ctx context.Context, rec domain.BackupRecord) error
}

// Patcher writes below the document root without rewriting the rest.
type Patcher interface {
	// Patch applies every path in one atomic write. Paths are relative to
	// the document root; nil values delete.
	Patch(ctx context.Context, paths map[string]any) error
	PushItem(ctx context.Context, dayID string, item *domain.Item) error
}

// Watcher streams server-side changes until ctx ends or the stream fails.
type Watcher interface {
	Watch(ctx context.Context, fn func(Event)) error
}

// Snapshots stores the flat local key space as one unit.
type Snapshots interface {
	Name() string
	FetchSnapshot(ctx context.Context) (map[string]string, error)
	PushSnapshot(ctx context.Context, snap map[string]string) error
	PushBackup(ctx context.Context, rec domain.BackupRecord) error
}

type EventKind string

const (
	EventPut    EventKind = "put"
	EventPatch  EventKind = "patch"
	EventCancel EventKind = "cancel"
	EventRevoke EventKind = "auth_revoked"
)

// Event is one server push. Path is relative to the watched document.
type Event struct {
	Kind EventKind
	Path string
	Data json.RawMessage
}
