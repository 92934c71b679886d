package store

import (
	"time"

	"tripsync/internal/domain"
)

type ChangeKind string

const (
	ChangeInitialized    ChangeKind = "initialized"
	ChangeReplaced       ChangeKind = "replaced"
	ChangeItemAdded      ChangeKind = "item_added"
	ChangeItemUpdated    ChangeKind = "item_updated"
	ChangeItemDeleted    ChangeKind = "item_deleted"
	ChangePlanAdded      ChangeKind = "plan_added"
	ChangePlanDeleted    ChangeKind = "plan_deleted"
	ChangeCommentAdded   ChangeKind = "comment_added"
	ChangeCommentDeleted ChangeKind = "comment_deleted"
	ChangeLikeToggled    ChangeKind = "like_toggled"
	ChangeReordered      ChangeKind = "reordered"
	ChangeCompacted      ChangeKind = "compacted"
)

// Change describes one persisted mutation. Patch maps slash-separated
// paths, relative to the document root, to their new values; a nil value
// means the path was removed. Changes that rewrite the whole document
// (initialize, replace) carry no patch.
type Change struct {
	Kind   ChangeKind
	DayID  string
	ItemID string
	Patch  map[string]any
	Backup *domain.BackupRecord
	User   string
	At     time.Time
}

// Incremental reports whether the change can be pushed as a path patch.
func (c Change) Incremental() bool {
	return len(c.Patch) > 0
}

type Listener func(Change)

func itemPath(dayID, itemID string) string {
	return "days/" + dayID + "/items/" + itemID
}
