package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tripsync/internal/domain"
	"tripsync/pkg/hash"

	"github.com/google/uuid"
)

type LikeKind string

const (
	LikeItem    LikeKind = "item"
	LikePlan    LikeKind = "plan"
	LikeComment LikeKind = "comment"
)

// LikeTarget names what is liked: for LikeItem, Ref is a section name such
// as "images"; for plan entries and comments it is the entry hash.
type LikeTarget struct {
	Kind LikeKind
	Ref  string
}

// AddPlanItem appends a plan entry authored by the session user. A live
// entry with the same hash already present makes this a no-op that returns
// nil, nil.
func (s *Store) AddPlanItem(ctx context.Context, dayID, itemID, text string) (*domain.PlanItem, error) {
	var created *domain.PlanItem
	err := s.mutate(ctx, func(doc *domain.TripDocument, m *mutation) (*domain.TripDocument, error) {
		_, item, err := s.lookupLive(doc, dayID, itemID)
		if err != nil {
			return nil, err
		}

		ts := s.timestamp()
		p := &domain.PlanItem{
			Text:      text,
			Hash:      hash.ContentHash(text, m.change.User, ts),
			Timestamp: ts,
			Author:    m.change.User,
		}

		if existing := item.PlanByHash(p.Hash); existing != nil {
			if !existing.Deleted {
				s.log.Debug().Str("hash", p.Hash).Msg("duplicate plan entry ignored")
				m.noop = true
				return nil, nil
			}
			*existing = *p
		} else {
			item.Plan = append(item.Plan, p)
		}

		item.UpdatedAt = m.change.At
		path := itemPath(dayID, itemID)
		m.set(path+"/plan/"+p.Hash, p)
		m.set(path+"/_updatedAt", formatTime(item.UpdatedAt))

		m.change.Kind = ChangePlanAdded
		m.change.DayID = dayID
		m.change.ItemID = itemID
		cp := *p
		created = &cp
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// DeletePlanItem tombstones a plan entry after copying it to the backup
// ledger. Deleting a tombstone is a no-op.
func (s *Store) DeletePlanItem(ctx context.Context, dayID, itemID, entryHash string) error {
	return s.mutate(ctx, func(doc *domain.TripDocument, m *mutation) (*domain.TripDocument, error) {
		_, item, err := s.lookup(doc, dayID, itemID)
		if err != nil {
			return nil, err
		}
		p := item.PlanByHash(entryHash)
		if p == nil {
			s.log.Warn().Str("hash", entryHash).Msg("plan entry not found")
			return nil, ErrEntryNotFound
		}
		if p.Deleted {
			m.noop = true
			return nil, nil
		}

		payload, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		if err := s.recordBackup(ctx, m, domain.BackupKindPlan, dayID, itemID, entryHash, payload); err != nil {
			return nil, err
		}

		p.Deleted = true
		item.UpdatedAt = m.change.At
		path := itemPath(dayID, itemID)
		m.set(path+"/plan/"+entryHash+"/deleted", true)
		m.set(path+"/_updatedAt", formatTime(item.UpdatedAt))

		m.change.Kind = ChangePlanDeleted
		m.change.DayID = dayID
		m.change.ItemID = itemID
		return nil, nil
	})
}

// AddComment appends a comment by the session user, deduplicated by hash
// like AddPlanItem.
func (s *Store) AddComment(ctx context.Context, dayID, itemID, message string) (*domain.Comment, error) {
	var created *domain.Comment
	err := s.mutate(ctx, func(doc *domain.TripDocument, m *mutation) (*domain.TripDocument, error) {
		_, item, err := s.lookupLive(doc, dayID, itemID)
		if err != nil {
			return nil, err
		}

		ts := s.timestamp()
		c := &domain.Comment{
			Author:    m.change.User,
			Message:   message,
			Timestamp: ts,
			Hash:      hash.ContentHash(message, m.change.User, ts),
		}

		if existing := item.CommentByHash(c.Hash); existing != nil {
			if !existing.Deleted {
				s.log.Debug().Str("hash", c.Hash).Msg("duplicate comment ignored")
				m.noop = true
				return nil, nil
			}
			*existing = *c
		} else {
			item.Comments = append(item.Comments, c)
		}

		item.UpdatedAt = m.change.At
		path := itemPath(dayID, itemID)
		m.set(path+"/comments/"+c.Hash, c)
		m.set(path+"/_updatedAt", formatTime(item.UpdatedAt))

		m.change.Kind = ChangeCommentAdded
		m.change.DayID = dayID
		m.change.ItemID = itemID
		cp := *c
		created = &cp
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Store) DeleteComment(ctx context.Context, dayID, itemID, entryHash string) error {
	return s.mutate(ctx, func(doc *domain.TripDocument, m *mutation) (*domain.TripDocument, error) {
		_, item, err := s.lookup(doc, dayID, itemID)
		if err != nil {
			return nil, err
		}
		c := item.CommentByHash(entryHash)
		if c == nil {
			s.log.Warn().Str("hash", entryHash).Msg("comment not found")
			return nil, ErrEntryNotFound
		}
		if c.Deleted {
			m.noop = true
			return nil, nil
		}

		payload, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		if err := s.recordBackup(ctx, m, domain.BackupKindComment, dayID, itemID, entryHash, payload); err != nil {
			return nil, err
		}

		c.Deleted = true
		item.UpdatedAt = m.change.At
		path := itemPath(dayID, itemID)
		m.set(path+"/comments/"+entryHash+"/deleted", true)
		m.set(path+"/_updatedAt", formatTime(item.UpdatedAt))

		m.change.Kind = ChangeCommentDeleted
		m.change.DayID = dayID
		m.change.ItemID = itemID
		return nil, nil
	})
}

// ToggleLike flips the session user's membership in the target's like set
// and reports whether the user now likes it.
func (s *Store) ToggleLike(ctx context.Context, dayID, itemID string, target LikeTarget) (bool, error) {
	var liked bool
	err := s.mutate(ctx, func(doc *domain.TripDocument, m *mutation) (*domain.TripDocument, error) {
		_, item, err := s.lookupLive(doc, dayID, itemID)
		if err != nil {
			return nil, err
		}
		if target.Ref == "" {
			return nil, fmt.Errorf("%w: empty like target", ErrInvalidField)
		}

		path := itemPath(dayID, itemID)
		user := m.change.User
		switch target.Kind {
		case LikeItem:
			if item.Likes == nil {
				item.Likes = map[string][]string{}
			}
			item.Likes[target.Ref], liked = toggle(item.Likes[target.Ref], user)
			if len(item.Likes[target.Ref]) == 0 {
				delete(item.Likes, target.Ref)
				m.set(path+"/_likes/"+target.Ref, nil)
			} else {
				m.set(path+"/_likes/"+target.Ref, item.Likes[target.Ref])
			}
		case LikePlan:
			p := item.PlanByHash(target.Ref)
			if p == nil || p.Deleted {
				return nil, ErrEntryNotFound
			}
			p.Likes, liked = toggle(p.Likes, user)
			m.set(path+"/plan/"+p.Hash+"/likes", p.Likes)
		case LikeComment:
			c := item.CommentByHash(target.Ref)
			if c == nil || c.Deleted {
				return nil, ErrEntryNotFound
			}
			c.Likes, liked = toggle(c.Likes, user)
			m.set(path+"/comments/"+c.Hash+"/likes", c.Likes)
		default:
			return nil, fmt.Errorf("%w: like kind %q", ErrInvalidField, target.Kind)
		}

		item.UpdatedAt = m.change.At
		m.set(path+"/_updatedAt", formatTime(item.UpdatedAt))

		m.change.Kind = ChangeLikeToggled
		m.change.DayID = dayID
		m.change.ItemID = itemID
		return nil, nil
	})
	return liked, err
}

func toggle(users []string, user string) ([]string, bool) {
	for i, u := range users {
		if u == user {
			out := append([]string(nil), users[:i]...)
			return append(out, users[i+1:]...), false
		}
	}
	return append(append([]string(nil), users...), user), true
}

// recordBackup appends the pre-delete payload to the local ledger before
// the caller mutates anything, and attaches it to the change for the
// remote _backup path. mutate drops the record again if the save fails.
func (s *Store) recordBackup(ctx context.Context, m *mutation, kind domain.BackupKind, dayID, itemID, entryHash string, payload json.RawMessage) error {
	rec := domain.BackupRecord{
		Key:       fmt.Sprintf("%d_%s", m.change.At.UnixMilli(), uuid.New().String()[:8]),
		Kind:      kind,
		Payload:   payload,
		DayID:     dayID,
		ItemID:    itemID,
		Hash:      entryHash,
		DeletedAt: m.change.At,
		DeletedBy: m.change.User,
	}
	if err := s.local.AppendBackup(ctx, rec); err != nil {
		s.log.Error().Err(err).Str("kind", string(kind)).Msg("failed to write backup, delete aborted")
		return err
	}
	m.change.Backup = &rec
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
