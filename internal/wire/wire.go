// Package wire converts trip documents between their in-memory form and the
// JSON stored locally and remotely. Older writers stored days, items, plan
// entries and comments sometimes as arrays and sometimes as id-keyed
// objects; both are accepted on read and one canonical shape is emitted.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"tripsync/internal/domain"
	"tripsync/pkg/hash"
)

type docJSON struct {
	ID       string          `json:"id"`
	Title    string          `json:"title"`
	Days     json.RawMessage `json:"days,omitempty"`
	Version  int             `json:"_version"`
	LastSync string          `json:"_lastSync,omitempty"`
	SyncUser string          `json:"_syncUser,omitempty"`
}

type dayJSON struct {
	ID    string          `json:"id"`
	Title string          `json:"title"`
	Order int             `json:"order"`
	Items json.RawMessage `json:"items,omitempty"`
}

type outDoc struct {
	ID       string             `json:"id"`
	Title    string             `json:"title"`
	Days     map[string]*outDay `json:"days"`
	Version  int                `json:"_version"`
	LastSync string             `json:"_lastSync,omitempty"`
	SyncUser string             `json:"_syncUser,omitempty"`
}

type outDay struct {
	ID    string                     `json:"id"`
	Title string                     `json:"title"`
	Order int                        `json:"order"`
	Items map[string]json.RawMessage `json:"items"`
}

type entryJSON struct {
	Text      string          `json:"text"`
	Message   string          `json:"message"`
	Hash      string          `json:"hash"`
	Timestamp float64         `json:"timestamp"`
	Author    string          `json:"author"`
	Deleted   bool            `json:"deleted"`
	Likes     json.RawMessage `json:"likes"`
}

var itemKnownKeys = map[string]bool{
	"id": true, "category": true, "time": true, "tag": true, "note": true,
	"order": true, "plan": true, "comments": true, "images": true, "spend": true,
	"_likes": true, "_deleted": true, "_createdAt": true, "_updatedAt": true,
}

// FromWire decodes a document in either legacy shape.
func FromWire(data []byte) (*domain.TripDocument, error) {
	var raw docJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode trip document: %w", err)
	}

	doc := &domain.TripDocument{
		ID:       raw.ID,
		Title:    raw.Title,
		Version:  raw.Version,
		LastSync: parseTime(raw.LastSync),
		SyncUser: raw.SyncUser,
	}

	entries, err := collection(raw.Days)
	if err != nil {
		return nil, fmt.Errorf("decode days: %w", err)
	}
	for _, e := range entries {
		day, err := decodeDay(e)
		if err != nil {
			return nil, err
		}
		doc.Days = append(doc.Days, day)
	}
	sortByOrder(doc.Days, func(d *domain.Day) (int, string) { return d.Order, d.ID })

	return doc, nil
}

// ToWire encodes a document in the canonical shape.
func ToWire(doc *domain.TripDocument) ([]byte, error) {
	out := outDoc{
		ID:       doc.ID,
		Title:    doc.Title,
		Days:     make(map[string]*outDay, len(doc.Days)),
		Version:  doc.Version,
		LastSync: formatTime(doc.LastSync),
		SyncUser: doc.SyncUser,
	}

	for _, day := range doc.Days {
		od := &outDay{
			ID:    day.ID,
			Title: day.Title,
			Order: day.Order,
			Items: make(map[string]json.RawMessage, len(day.Items)),
		}
		for _, item := range day.Items {
			encoded, err := EncodeItem(item)
			if err != nil {
				return nil, err
			}
			od.Items[item.ID] = encoded
		}
		out.Days[day.ID] = od
	}

	return json.Marshal(out)
}

// EncodeItem returns the canonical JSON of a single item, as used for
// path-level remote writes.
func EncodeItem(item *domain.Item) (json.RawMessage, error) {
	fields := make(map[string]any, len(itemKnownKeys)+len(item.Extra))
	for k, v := range item.Extra {
		fields[k] = v
	}

	plan := make(map[string]*domain.PlanItem, len(item.Plan))
	for _, p := range item.Plan {
		plan[p.Hash] = p
	}
	comments := make(map[string]*domain.Comment, len(item.Comments))
	for _, c := range item.Comments {
		comments[c.Hash] = c
	}

	images := item.Images
	if images == nil {
		images = []string{}
	}
	spend := item.Spend
	if spend == nil {
		spend = []domain.SpendEntry{}
	}
	likes := item.Likes
	if likes == nil {
		likes = map[string][]string{}
	}

	fields["id"] = item.ID
	fields["category"] = item.Category
	fields["time"] = item.Time
	fields["tag"] = item.Tag
	fields["note"] = item.Note
	fields["order"] = item.Order
	fields["plan"] = plan
	fields["comments"] = comments
	fields["images"] = images
	fields["spend"] = spend
	fields["_likes"] = likes
	fields["_deleted"] = item.Deleted
	if s := formatTime(item.CreatedAt); s != "" {
		fields["_createdAt"] = s
	}
	if s := formatTime(item.UpdatedAt); s != "" {
		fields["_updatedAt"] = s
	}

	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode item %s: %w", item.ID, err)
	}
	return data, nil
}

// DecodeItem decodes a single item in either legacy shape.
func DecodeItem(data []byte) (*domain.Item, error) {
	return decodeItem(keyed{value: data})
}

type keyed struct {
	key   string
	value json.RawMessage
}

// collection accepts an array or an object and returns its non-null members.
// Object members are returned sorted by key so decoding is deterministic.
func collection(raw json.RawMessage) ([]keyed, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	switch raw[0] {
	case '[':
		var arr []json.RawMessage
		if err := json.Unmarshal(raw, &arr); err != nil {
			return nil, err
		}
		out := make([]keyed, 0, len(arr))
		for i, v := range arr {
			if isNull(v) {
				continue
			}
			out = append(out, keyed{key: strconv.Itoa(i), value: v})
		}
		return out, nil
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, err
		}
		keys := make([]string, 0, len(obj))
		for k, v := range obj {
			if !isNull(v) {
				keys = append(keys, k)
			}
		}
		sort.Slice(keys, func(i, j int) bool { return naturalLess(keys[i], keys[j]) })
		out := make([]keyed, 0, len(keys))
		for _, k := range keys {
			out = append(out, keyed{key: k, value: obj[k]})
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected array or object, got %q", string(raw[:1]))
}

func decodeDay(e keyed) (*domain.Day, error) {
	var raw dayJSON
	if err := json.Unmarshal(e.value, &raw); err != nil {
		return nil, fmt.Errorf("decode day %s: %w", e.key, err)
	}
	day := &domain.Day{ID: raw.ID, Title: raw.Title, Order: raw.Order}
	if day.ID == "" {
		day.ID = e.key
	}

	entries, err := collection(raw.Items)
	if err != nil {
		return nil, fmt.Errorf("decode items of %s: %w", day.ID, err)
	}
	for _, ie := range entries {
		item, err := decodeItem(ie)
		if err != nil {
			return nil, fmt.Errorf("day %s: %w", day.ID, err)
		}
		day.Items = append(day.Items, item)
	}
	sortByOrder(day.Items, func(i *domain.Item) (int, string) { return i.Order, i.ID })

	return day, nil
}

func decodeItem(e keyed) (*domain.Item, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(e.value, &fields); err != nil {
		return nil, fmt.Errorf("decode item %s: %w", e.key, err)
	}

	item := &domain.Item{}
	var createdAt, updatedAt string
	for _, f := range []struct {
		key string
		dst any
	}{
		{"id", &item.ID},
		{"category", &item.Category},
		{"time", &item.Time},
		{"tag", &item.Tag},
		{"note", &item.Note},
		{"order", &item.Order},
		{"_deleted", &item.Deleted},
		{"_createdAt", &createdAt},
		{"_updatedAt", &updatedAt},
	} {
		v, ok := fields[f.key]
		if !ok || isNull(v) {
			continue
		}
		if err := json.Unmarshal(v, f.dst); err != nil {
			return nil, fmt.Errorf("decode item %s field %s: %w", e.key, f.key, err)
		}
	}
	item.CreatedAt = parseTime(createdAt)
	item.UpdatedAt = parseTime(updatedAt)

	if item.ID == "" {
		item.ID = e.key
	}
	if item.Tag == "" {
		item.Tag = domain.TagOther
	}

	var err error
	if item.Plan, err = decodePlan(fields["plan"]); err != nil {
		return nil, fmt.Errorf("item %s plan: %w", item.ID, err)
	}
	if item.Comments, err = decodeComments(fields["comments"]); err != nil {
		return nil, fmt.Errorf("item %s comments: %w", item.ID, err)
	}
	if item.Images, err = decodeImages(fields["images"]); err != nil {
		return nil, fmt.Errorf("item %s images: %w", item.ID, err)
	}
	if item.Spend, err = decodeSpend(fields["spend"]); err != nil {
		return nil, fmt.Errorf("item %s spend: %w", item.ID, err)
	}
	item.Likes = decodeLikeMap(fields["_likes"])

	for k, v := range fields {
		if itemKnownKeys[k] {
			continue
		}
		if item.Extra == nil {
			item.Extra = make(map[string]json.RawMessage)
		}
		item.Extra[k] = v
	}

	return item, nil
}

func decodePlan(raw json.RawMessage) ([]*domain.PlanItem, error) {
	entries, err := collection(raw)
	if err != nil {
		return nil, err
	}
	plan := make([]*domain.PlanItem, 0, len(entries))
	for _, e := range entries {
		// Very old documents kept plan lines as bare strings.
		var text string
		if json.Unmarshal(e.value, &text) == nil {
			plan = append(plan, &domain.PlanItem{Text: text, Hash: hash.ContentHash(text, "", 0)})
			continue
		}
		var raw entryJSON
		if err := json.Unmarshal(e.value, &raw); err != nil {
			return nil, err
		}
		p := &domain.PlanItem{
			Text:      raw.Text,
			Hash:      raw.Hash,
			Timestamp: raw.Timestamp,
			Author:    raw.Author,
			Deleted:   raw.Deleted,
			Likes:     decodeUsers(raw.Likes),
		}
		if p.Hash == "" {
			p.Hash = hashOrKey(e, p.Text, p.Author, p.Timestamp)
		}
		plan = append(plan, p)
	}
	sort.SliceStable(plan, func(i, j int) bool { return plan[i].Timestamp < plan[j].Timestamp })
	return plan, nil
}

func decodeComments(raw json.RawMessage) ([]*domain.Comment, error) {
	entries, err := collection(raw)
	if err != nil {
		return nil, err
	}
	comments := make([]*domain.Comment, 0, len(entries))
	for _, e := range entries {
		var raw entryJSON
		if err := json.Unmarshal(e.value, &raw); err != nil {
			return nil, err
		}
		c := &domain.Comment{
			Author:    raw.Author,
			Message:   raw.Message,
			Timestamp: raw.Timestamp,
			Hash:      raw.Hash,
			Likes:     decodeUsers(raw.Likes),
			Deleted:   raw.Deleted,
		}
		if c.Hash == "" {
			c.Hash = hashOrKey(e, c.Message, c.Author, c.Timestamp)
		}
		comments = append(comments, c)
	}
	sort.SliceStable(comments, func(i, j int) bool { return comments[i].Timestamp < comments[j].Timestamp })
	return comments, nil
}

// hashOrKey keeps a map key as identity when it is not an array index.
func hashOrKey(e keyed, content, author string, ts float64) string {
	if _, err := strconv.Atoi(e.key); err != nil && e.key != "" {
		return e.key
	}
	return hash.ContentHash(content, author, ts)
}

func decodeImages(raw json.RawMessage) ([]string, error) {
	entries, err := collection(raw)
	if err != nil {
		return nil, err
	}
	images := make([]string, 0, len(entries))
	for _, e := range entries {
		var url string
		if err := json.Unmarshal(e.value, &url); err != nil {
			return nil, err
		}
		if url != "" {
			images = append(images, url)
		}
	}
	return images, nil
}

func decodeSpend(raw json.RawMessage) ([]domain.SpendEntry, error) {
	entries, err := collection(raw)
	if err != nil {
		return nil, err
	}
	spend := make([]domain.SpendEntry, 0, len(entries))
	for _, e := range entries {
		var s domain.SpendEntry
		if err := json.Unmarshal(e.value, &s); err != nil {
			return nil, err
		}
		spend = append(spend, s)
	}
	return spend, nil
}

func decodeLikeMap(raw json.RawMessage) map[string][]string {
	var sections map[string]json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &sections) != nil {
		return map[string][]string{}
	}
	out := make(map[string][]string, len(sections))
	for section, v := range sections {
		if users := decodeUsers(v); len(users) > 0 {
			out[section] = users
		}
	}
	return out
}

// decodeUsers accepts ["a","b"] or {"a":true,"b":true}.
func decodeUsers(raw json.RawMessage) []string {
	if len(raw) == 0 || isNull(raw) {
		return nil
	}
	var list []string
	if json.Unmarshal(raw, &list) == nil {
		return dedupe(list)
	}
	var set map[string]bool
	if json.Unmarshal(raw, &set) == nil {
		users := make([]string, 0, len(set))
		for u, on := range set {
			if on {
				users = append(users, u)
			}
		}
		sort.Strings(users)
		return users
	}
	return nil
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func sortByOrder[T any](list []T, key func(T) (int, string)) {
	sort.SliceStable(list, func(i, j int) bool {
		oi, idi := key(list[i])
		oj, idj := key(list[j])
		if oi != oj {
			return oi < oj
		}
		return naturalLess(idi, idj)
	})
}

// naturalLess orders numeric strings numerically and everything else lexically.
func naturalLess(a, b string) bool {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	switch {
	case errA == nil && errB == nil:
		return na < nb
	case errA == nil:
		return true
	case errB == nil:
		return false
	}
	return a < b
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
