package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"tripsync/internal/domain"
	"tripsync/internal/wire"
)

// AddItem appends a new item to dayID and returns it.
func (s *Store) AddItem(ctx context.Context, dayID string, req domain.AddItemRequest) (*domain.Item, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidField, err)
	}

	var created *domain.Item
	err := s.mutate(ctx, func(doc *domain.TripDocument, m *mutation) (*domain.TripDocument, error) {
		day := doc.Day(dayID)
		if day == nil {
			s.log.Warn().Str("day", dayID).Msg("add item: day not found")
			return nil, ErrDayNotFound
		}

		item := s.newItem(day, m.change.At)
		item.Category = req.Category
		item.Time = req.Time
		item.Tag = req.Tag
		item.Note = req.Note
		if !item.Tag.Valid() {
			item.Tag = domain.TagOther
		}
		if len(req.Images) > 0 {
			item.Images = append([]string(nil), req.Images...)
		}
		if len(req.Spend) > 0 {
			item.Spend = append([]domain.SpendEntry(nil), req.Spend...)
		}

		before := orders(day)
		day.Items = append(day.Items, item)
		day.Resequence()
		m.orderPatch(day, before, item.ID)
		if err := m.setItem(day.ID, item); err != nil {
			return nil, err
		}

		m.change.Kind = ChangeItemAdded
		m.change.DayID = dayID
		m.change.ItemID = item.ID
		created = item.Clone()
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// DeleteItem soft-deletes an item. Deleting a tombstone is a no-op.
func (s *Store) DeleteItem(ctx context.Context, dayID, itemID string) error {
	return s.mutate(ctx, func(doc *domain.TripDocument, m *mutation) (*domain.TripDocument, error) {
		day, item, err := s.lookup(doc, dayID, itemID)
		if err != nil {
			return nil, err
		}
		if item.Deleted {
			m.noop = true
			return nil, nil
		}

		if err := s.recordBackup(ctx, m, domain.BackupKindItem, dayID, itemID, "", mustEncodeItem(item)); err != nil {
			return nil, err
		}

		before := orders(day)
		item.Deleted = true
		item.UpdatedAt = m.change.At
		day.Resequence()

		path := itemPath(dayID, itemID)
		m.set(path+"/_deleted", true)
		m.set(path+"/_updatedAt", formatTime(item.UpdatedAt))
		m.orderPatch(day, before, "")

		m.change.Kind = ChangeItemDeleted
		m.change.DayID = dayID
		m.change.ItemID = itemID
		return nil, nil
	})
}

var protectedFields = map[string]bool{
	"id": true, "order": true, "plan": true, "comments": true, "_likes": true,
	"_deleted": true, "_createdAt": true, "_updatedAt": true,
}

// illegalKeyChars cannot appear in a field name since each name becomes one
// remote path segment.
const illegalKeyChars = "/.$#[]"

// UpdateItem merges fields into an item. Known fields are type-checked;
// unknown ones are stored verbatim. Fields with dedicated operations
// (plan, comments, likes, order, deletion) are rejected.
func (s *Store) UpdateItem(ctx context.Context, dayID, itemID string, fields map[string]json.RawMessage) (*domain.Item, error) {
	var updated *domain.Item
	err := s.mutate(ctx, func(doc *domain.TripDocument, m *mutation) (*domain.TripDocument, error) {
		_, item, err := s.lookup(doc, dayID, itemID)
		if err != nil {
			return nil, err
		}

		path := itemPath(dayID, itemID)
		for key, raw := range fields {
			if key == "" || strings.ContainsAny(key, illegalKeyChars) {
				return nil, fmt.Errorf("%w: %q is not a valid field name", ErrInvalidField, key)
			}
			if protectedFields[key] {
				return nil, fmt.Errorf("%w: %s cannot be updated directly", ErrInvalidField, key)
			}
			if err := s.applyField(item, key, raw); err != nil {
				return nil, err
			}
			m.set(path+"/"+key, raw)
		}

		item.UpdatedAt = m.change.At
		m.set(path+"/_updatedAt", formatTime(item.UpdatedAt))

		m.change.Kind = ChangeItemUpdated
		m.change.DayID = dayID
		m.change.ItemID = itemID
		updated = item.Clone()
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Store) applyField(item *domain.Item, key string, raw json.RawMessage) error {
	invalid := func(err error) error {
		return fmt.Errorf("%w: %s: %v", ErrInvalidField, key, err)
	}

	switch key {
	case "category", "time", "note":
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return invalid(err)
		}
		switch key {
		case "category":
			item.Category = v
		case "time":
			item.Time = v
		default:
			item.Note = v
		}
	case "tag":
		var tag domain.Tag
		if err := json.Unmarshal(raw, &tag); err != nil {
			return invalid(err)
		}
		if !tag.Valid() {
			return invalid(fmt.Errorf("unknown tag %q", tag))
		}
		item.Tag = tag
	case "images":
		var images []string
		if err := json.Unmarshal(raw, &images); err != nil {
			return invalid(err)
		}
		item.Images = images
	case "spend":
		var spend []domain.SpendEntry
		if err := json.Unmarshal(raw, &spend); err != nil {
			return invalid(err)
		}
		for _, e := range spend {
			if err := s.validate.Struct(e); err != nil {
				return invalid(err)
			}
		}
		item.Spend = spend
	default:
		if !json.Valid(raw) {
			return invalid(fmt.Errorf("not valid JSON"))
		}
		if item.Extra == nil {
			item.Extra = make(map[string]json.RawMessage)
		}
		item.Extra[key] = append(json.RawMessage(nil), raw...)
	}
	return nil
}

// MoveItem moves a live item to position toIndex among the live items of
// its day. Indexes past the end clamp to the end.
func (s *Store) MoveItem(ctx context.Context, dayID, itemID string, toIndex int) error {
	return s.mutate(ctx, func(doc *domain.TripDocument, m *mutation) (*domain.TripDocument, error) {
		day, item, err := s.lookupLive(doc, dayID, itemID)
		if err != nil {
			return nil, err
		}

		live := day.VisibleItems()
		from := 0
		for i, it := range live {
			if it.ID == itemID {
				from = i
			}
		}
		if toIndex < 0 {
			toIndex = 0
		}
		if toIndex >= len(live) {
			toIndex = len(live) - 1
		}
		if from == toIndex {
			m.noop = true
			return nil, nil
		}

		live = append(live[:from], live[from+1:]...)
		live = append(live[:toIndex], append([]*domain.Item{item}, live[toIndex:]...)...)

		before := orders(day)
		placeLiveFirst(day, live)
		m.orderPatch(day, before, "")
		m.change.Kind = ChangeReordered
		m.change.DayID = dayID
		m.change.ItemID = itemID
		return nil, nil
	})
}

// ReorderItems sets the order of a day's live items. ids must name every
// live item exactly once.
func (s *Store) ReorderItems(ctx context.Context, dayID string, ids []string) error {
	return s.mutate(ctx, func(doc *domain.TripDocument, m *mutation) (*domain.TripDocument, error) {
		day := doc.Day(dayID)
		if day == nil {
			return nil, ErrDayNotFound
		}

		live := day.VisibleItems()
		if len(ids) != len(live) {
			return nil, fmt.Errorf("%w: expected %d item ids, got %d", ErrInvalidField, len(live), len(ids))
		}
		ordered := make([]*domain.Item, 0, len(ids))
		seen := make(map[string]bool, len(ids))
		for _, id := range ids {
			item := day.Item(id)
			if item == nil || item.Deleted || seen[id] {
				return nil, fmt.Errorf("%w: item id %q", ErrInvalidField, id)
			}
			seen[id] = true
			ordered = append(ordered, item)
		}

		before := orders(day)
		placeLiveFirst(day, ordered)
		m.orderPatch(day, before, "")
		m.change.Kind = ChangeReordered
		m.change.DayID = dayID
		return nil, nil
	})
}

func (s *Store) lookup(doc *domain.TripDocument, dayID, itemID string) (*domain.Day, *domain.Item, error) {
	day := doc.Day(dayID)
	if day == nil {
		s.log.Warn().Str("day", dayID).Msg("day not found")
		return nil, nil, ErrDayNotFound
	}
	item := day.Item(itemID)
	if item == nil {
		s.log.Warn().Str("day", dayID).Str("item", itemID).Msg("item not found")
		return nil, nil, ErrItemNotFound
	}
	return day, item, nil
}

// lookupLive is lookup that also treats a tombstoned item as missing.
func (s *Store) lookupLive(doc *domain.TripDocument, dayID, itemID string) (*domain.Day, *domain.Item, error) {
	day, item, err := s.lookup(doc, dayID, itemID)
	if err != nil {
		return nil, nil, err
	}
	if item.Deleted {
		s.log.Warn().Str("day", dayID).Str("item", itemID).Msg("item is deleted")
		return nil, nil, ErrItemNotFound
	}
	return day, item, nil
}

func placeLiveFirst(day *domain.Day, live []*domain.Item) {
	items := make([]*domain.Item, 0, len(day.Items))
	items = append(items, live...)
	for _, item := range day.Items {
		if item.Deleted {
			items = append(items, item)
		}
	}
	for i, item := range items {
		item.Order = i
	}
	day.Items = items
}

func orders(day *domain.Day) map[string]int {
	out := make(map[string]int, len(day.Items))
	for _, item := range day.Items {
		out[item.ID] = item.Order
	}
	return out
}

// orderPatch records the new order of every item whose order changed,
// skipping skipID whose whole body is written separately.
func (m *mutation) orderPatch(day *domain.Day, before map[string]int, skipID string) {
	for _, item := range day.Items {
		if item.ID == skipID {
			continue
		}
		if prev, ok := before[item.ID]; !ok || prev != item.Order {
			m.set(itemPath(day.ID, item.ID)+"/order", item.Order)
		}
	}
}

func (m *mutation) setItem(dayID string, item *domain.Item) error {
	encoded, err := wire.EncodeItem(item)
	if err != nil {
		return err
	}
	m.set(itemPath(dayID, item.ID), encoded)
	return nil
}

func mustEncodeItem(item *domain.Item) json.RawMessage {
	encoded, err := wire.EncodeItem(item)
	if err != nil {
		return json.RawMessage("null")
	}
	return encoded
}
