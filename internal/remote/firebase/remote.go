package firebase

import (
	"context"
	"encoding/json"
	"strings"

	"tripsync/internal/domain"
	"tripsync/internal/remote"
	"tripsync/internal/wire"
)

const backupRoot = "_backup"

// Remote stores the unified document at one database path, with backups in
// a sibling _backup tree.
type Remote struct {
	client *Client
	path   string
}

func New(cfg Config) *Remote {
	return &Remote{client: NewClient(cfg), path: strings.Trim(cfg.Path, "/")}
}

func (r *Remote) Name() string { return "firebase" }

func (r *Remote) Fetch(ctx context.Context) (*domain.TripDocument, error) {
	raw, err := r.client.Get(ctx, r.path)
	if err != nil {
		return nil, err
	}
	return remote.Decode(raw)
}

func (r *Remote) Push(ctx context.Context, doc *domain.TripDocument) error {
	data, err := wire.ToWire(doc)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.path, json.RawMessage(data))
}

func (r *Remote) PushBackup(ctx context.Context, rec domain.BackupRecord) error {
	return r.client.Set(ctx, backupRoot+"/"+rec.Key, rec)
}

func (r *Remote) Patch(ctx context.Context, paths map[string]any) error {
	return r.client.Update(ctx, r.path, paths)
}

func (r *Remote) PushItem(ctx context.Context, dayID string, item *domain.Item) error {
	encoded, err := wire.EncodeItem(item)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.path+"/days/"+dayID+"/items/"+item.ID, encoded)
}

func (r *Remote) Watch(ctx context.Context, fn func(remote.Event)) error {
	return r.client.Stream(ctx, r.path, fn)
}

var (
	_ remote.Documents = (*Remote)(nil)
	_ remote.Patcher   = (*Remote)(nil)
	_ remote.Watcher   = (*Remote)(nil)
)
