package syncer

import (
	"context"
	"fmt"
	"time"

	"tripsync/internal/remote/couch"
	"tripsync/internal/remote/firebase"
	"tripsync/internal/remote/gist"
)

const (
	BackendFirebase = "firebase"
	BackendGist     = "gist"
	BackendCouch    = "couchdb"
)

// Settings selects and configures the one active remote.
type Settings struct {
	Backend  string          `json:"backend" validate:"required,oneof=firebase gist couchdb"`
	Firebase firebase.Config `json:"firebase" validate:"-"`
	Gist     gist.Config     `json:"gist" validate:"-"`
	Couch    couch.Config    `json:"couch" validate:"-"`
}

// Options tunes timing. Zero values take the defaults.
type Options struct {
	Debounce        time.Duration
	RealtimeTimeout time.Duration
	PollInterval    time.Duration
	PatchTimeout    time.Duration
	ItemTimeout     time.Duration
	UploadTimeout   time.Duration
	Retryer         Retryer
}

func (o Options) withDefaults() Options {
	if o.Debounce <= 0 {
		o.Debounce = 2 * time.Second
	}
	if o.RealtimeTimeout <= 0 {
		o.RealtimeTimeout = 5 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 30 * time.Second
	}
	if o.PatchTimeout <= 0 {
		o.PatchTimeout = 5 * time.Second
	}
	if o.ItemTimeout <= 0 {
		o.ItemTimeout = 8 * time.Second
	}
	if o.UploadTimeout <= 0 {
		o.UploadTimeout = 20 * time.Second
	}
	if o.Retryer == nil {
		o.Retryer = NewExponentialBackoffRetryer()
	}
	return o
}

// Connector builds the remote for validated settings. The value returned
// implements remote.Documents or remote.Snapshots, and optionally
// remote.Patcher and remote.Watcher.
type Connector func(ctx context.Context, s Settings) (any, error)

func DefaultConnector(ctx context.Context, s Settings) (any, error) {
	switch s.Backend {
	case BackendFirebase:
		return firebase.New(s.Firebase), nil
	case BackendGist:
		return gist.New(s.Gist), nil
	case BackendCouch:
		return couch.New(ctx, s.Couch)
	}
	return nil, fmt.Errorf("unknown sync backend %q", s.Backend)
}
