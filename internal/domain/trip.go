package domain

import (
	"encoding/json"
	"sort"
	"time"
)

// CurrentVersion is the schema version written into every persisted document.
const CurrentVersion = 2

type Tag string

const (
	TagSight   Tag = "景点"
	TagFood    Tag = "美食"
	TagLodging Tag = "住宿"
	TagTransit Tag = "赶路"
	TagOther   Tag = "其他"
)

func (t Tag) Valid() bool {
	switch t {
	case TagSight, TagFood, TagLodging, TagTransit, TagOther:
		return true
	}
	return false
}

type TripDocument struct {
	ID       string
	Title    string
	Days     []*Day
	Version  int
	LastSync time.Time
	SyncUser string
}

type Day struct {
	ID    string
	Title string
	Order int
	Items []*Item
}

type Item struct {
	ID        string
	Category  string
	Time      string
	Tag       Tag
	Note      string
	Order     int
	Plan      []*PlanItem
	Comments  []*Comment
	Images    []string
	Spend     []SpendEntry
	Likes     map[string][]string
	Deleted   bool
	CreatedAt time.Time
	UpdatedAt time.Time

	// Extra keeps fields this version does not know about, verbatim.
	Extra map[string]json.RawMessage
}

type PlanItem struct {
	Text      string   `json:"text"`
	Hash      string   `json:"hash"`
	Timestamp float64  `json:"timestamp"`
	Author    string   `json:"author"`
	Deleted   bool     `json:"deleted,omitempty"`
	Likes     []string `json:"likes,omitempty"`
}

type Comment struct {
	Author    string   `json:"author"`
	Message   string   `json:"message"`
	Timestamp float64  `json:"timestamp"`
	Hash      string   `json:"hash"`
	Likes     []string `json:"likes,omitempty"`
	Deleted   bool     `json:"deleted,omitempty"`
}

type SpendEntry struct {
	Item   string  `json:"item"`
	Amount float64 `json:"amount" validate:"gte=0"`
	Payer  string  `json:"payer"`
}

// Day returns the day with the given id, or nil.
func (d *TripDocument) Day(dayID string) *Day {
	if d == nil {
		return nil
	}
	for _, day := range d.Days {
		if day.ID == dayID {
			return day
		}
	}
	return nil
}

// Item returns the item with the given id inside dayID, or nil.
func (d *TripDocument) Item(dayID, itemID string) *Item {
	day := d.Day(dayID)
	if day == nil {
		return nil
	}
	return day.Item(itemID)
}

func (d *Day) Item(itemID string) *Item {
	for _, item := range d.Items {
		if item.ID == itemID {
			return item
		}
	}
	return nil
}

// VisibleItems returns the live items of the day, tombstones excluded.
func (d *Day) VisibleItems() []*Item {
	visible := make([]*Item, 0, len(d.Items))
	for _, item := range d.Items {
		if !item.Deleted {
			visible = append(visible, item)
		}
	}
	return visible
}

// Resequence renumbers the day 0..n-1: live items first in their current
// relative order, tombstones after them. Equal orders keep slice order.
func (d *Day) Resequence() {
	sort.SliceStable(d.Items, func(i, j int) bool { return d.Items[i].Order < d.Items[j].Order })
	items := make([]*Item, 0, len(d.Items))
	items = append(items, d.VisibleItems()...)
	for _, item := range d.Items {
		if item.Deleted {
			items = append(items, item)
		}
	}
	for i, item := range items {
		item.Order = i
	}
	d.Items = items
}

func (i *Item) PlanByHash(hash string) *PlanItem {
	for _, p := range i.Plan {
		if p.Hash == hash {
			return p
		}
	}
	return nil
}

func (i *Item) CommentByHash(hash string) *Comment {
	for _, c := range i.Comments {
		if c.Hash == hash {
			return c
		}
	}
	return nil
}

// VisiblePlan returns plan entries that are not soft-deleted.
func (i *Item) VisiblePlan() []*PlanItem {
	out := make([]*PlanItem, 0, len(i.Plan))
	for _, p := range i.Plan {
		if !p.Deleted {
			out = append(out, p)
		}
	}
	return out
}

func (i *Item) VisibleComments() []*Comment {
	out := make([]*Comment, 0, len(i.Comments))
	for _, c := range i.Comments {
		if !c.Deleted {
			out = append(out, c)
		}
	}
	return out
}

// HasTombstones reports whether anything in the document is soft-deleted.
func (d *TripDocument) HasTombstones() bool {
	for _, day := range d.Days {
		for _, item := range day.Items {
			if item.Deleted {
				return true
			}
			for _, p := range item.Plan {
				if p.Deleted {
					return true
				}
			}
			for _, c := range item.Comments {
				if c.Deleted {
					return true
				}
			}
		}
	}
	return false
}
