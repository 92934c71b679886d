package syncer

import (
	"context"
	"strings"
	"sync"
	"time"

	"tripsync/internal/appctx"
	"tripsync/internal/domain"
	"tripsync/internal/store"
)

// pendingPush accumulates local changes until the debounce window closes.
type pendingPush struct {
	mu      sync.Mutex
	timer   *time.Timer
	dirty   bool
	full    bool
	patch   map[string]any
	backups []domain.BackupRecord
	user    string
}

func (p *pendingPush) take() (patch map[string]any, full, dirty bool, backups []domain.BackupRecord, user string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	patch, full, dirty, backups, user = p.patch, p.full, p.dirty, p.backups, p.user
	p.patch, p.full, p.dirty, p.backups = nil, false, false, nil
	return
}

func (p *pendingPush) reset() {
	p.take()
}

// add folds patch into the pending one. Firebase rejects a multi-path update
// where one path contains another, so an ancestor replaces its descendants
// and a descendant of a pending path forces a full upload.
func (p *pendingPush) add(patch map[string]any) {
	if p.full {
		return
	}
	if p.patch == nil {
		p.patch = make(map[string]any, len(patch))
	}
	for path, v := range patch {
		for existing := range p.patch {
			switch {
			case strings.HasPrefix(existing, path+"/"):
				delete(p.patch, existing)
			case strings.HasPrefix(path, existing+"/"):
				p.full = true
				p.patch = nil
				return
			}
		}
		p.patch[path] = v
	}
}

func (s *Service) handleChange(c store.Change) {
	if c.Kind == store.ChangeInitialized || c.Kind == store.ChangeReplaced {
		return
	}
	cn := s.current()
	if cn == nil {
		return
	}

	p := &s.pending
	p.mu.Lock()
	defer p.mu.Unlock()

	if c.Backup != nil {
		p.backups = append(p.backups, *c.Backup)
	}
	// Snapshot remotes only move on the auto-sync ticker.
	if cn.docs != nil {
		p.dirty = true
		if c.Incremental() && cn.patcher != nil {
			p.add(c.Patch)
		} else {
			p.full = true
			p.patch = nil
		}
	}
	if !p.dirty && len(p.backups) == 0 {
		return
	}

	p.user = c.User
	if p.timer == nil {
		p.timer = time.AfterFunc(s.opts.Debounce, s.Flush)
	} else {
		p.timer.Reset(s.opts.Debounce)
	}
}

// Flush pushes pending changes now instead of waiting for the debounce
// window. Backups that fail to push stay pending for the next flush.
func (s *Service) Flush() {
	patch, full, dirty, backups, user := s.pending.take()
	c := s.current()
	if c == nil {
		return
	}
	ctx := appctx.WithSession(context.Background(), appctx.Session{User: user})

	var failed []domain.BackupRecord
	for _, rec := range backups {
		bctx, cancel := context.WithTimeout(ctx, s.opts.PatchTimeout)
		err := c.pushBackup(bctx, rec)
		cancel()
		if err != nil {
			s.log.Warn().Err(err).Str("backup", rec.Key).Msg("failed to push backup, will retry")
			failed = append(failed, rec)
		}
	}
	if len(failed) > 0 {
		s.pending.mu.Lock()
		s.pending.backups = append(failed, s.pending.backups...)
		s.pending.mu.Unlock()
	}

	if !dirty || c.docs == nil {
		return
	}
	if full || len(patch) == 0 || c.patcher == nil {
		s.Upload(ctx)
		return
	}
	s.Update(ctx, patch)
}
