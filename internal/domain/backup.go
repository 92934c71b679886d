package domain

import (
	"encoding/json"
	"time"
)

type BackupKind string

const (
	BackupKindPlan    BackupKind = "plan"
	BackupKindComment BackupKind = "comment"
	BackupKindItem    BackupKind = "item"
)

// BackupRecord is the pre-delete copy of an entity. Records are append-only
// and are written both to the local ledger and to the remote _backup path.
type BackupRecord struct {
	Key       string          `json:"key"`
	Kind      BackupKind      `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	DayID     string          `json:"dayId"`
	ItemID    string          `json:"itemId"`
	Hash      string          `json:"hash,omitempty"`
	DeletedAt time.Time       `json:"deletedAt"`
	DeletedBy string          `json:"deletedBy,omitempty"`
}
