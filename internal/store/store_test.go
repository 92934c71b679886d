package store

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"testing"
	"time"

	"tripsync/internal/appctx"
	"tripsync/internal/domain"
	"tripsync/internal/persistence"
	"tripsync/internal/wire"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 4, 2, 9, 30, 0, 0, time.UTC)

type fixture struct {
	store   *Store
	backend *persistence.MemoryBackend
	local   *persistence.Local
	changes []Change
	ctx     context.Context
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	backend := persistence.NewMemoryBackend(0)
	local := persistence.NewLocal(backend, zerolog.Nop())

	f := &fixture{backend: backend, local: local}
	opts = append([]Option{
		WithClock(func() time.Time { return fixedNow }),
		WithSalt(func() float64 { return 0 }),
	}, opts...)
	f.store = New(local, zerolog.Nop(), opts...)
	f.store.OnChange(func(c Change) { f.changes = append(f.changes, c) })
	f.ctx = appctx.WithSession(context.Background(), appctx.Editor("alice"))

	_, err := f.store.Initialize(f.ctx, domain.Seed{
		ID:    "trip-1",
		Title: "Kansai",
		Days: []domain.SeedDay{
			{ID: "day1", Title: "Kyoto", Items: []domain.SeedItem{
				{Category: "Temple", Tag: domain.TagSight, Plan: []string{"arrive early"}},
				{Category: "Lunch", Tag: "unknown"},
			}},
			{Title: "Nara"},
		},
	})
	require.NoError(t, err)
	f.changes = nil
	return f
}

func (f *fixture) firstItem(t *testing.T) *domain.Item {
	t.Helper()
	items := f.store.VisibleItems("day1")
	require.NotEmpty(t, items)
	return items[0]
}

func assertContiguous(t *testing.T, day *domain.Day) {
	t.Helper()
	sorted := append([]*domain.Item(nil), day.Items...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })
	for i, item := range sorted {
		assert.Equal(t, i, item.Order, "item %s", item.ID)
	}
	seenDeleted := false
	for _, item := range sorted {
		if item.Deleted {
			seenDeleted = true
			continue
		}
		assert.False(t, seenDeleted, "live item %s ordered after a tombstone", item.ID)
	}
}

func TestInitialize(t *testing.T) {
	f := newFixture(t)
	doc := f.store.Document()

	require.Len(t, doc.Days, 2)
	assert.Equal(t, "day2", doc.Days[1].ID, "missing day id derived from position")
	assert.Equal(t, domain.CurrentVersion, doc.Version)

	items := doc.Days[0].Items
	require.Len(t, items, 2)
	assert.Equal(t, 0, items[0].Order)
	assert.Equal(t, 1, items[1].Order)
	assert.Equal(t, domain.TagOther, items[1].Tag, "invalid tag replaced by default")
	assert.NotEqual(t, items[0].ID, items[1].ID)
	require.Len(t, items[0].Plan, 1)
	assert.NotEmpty(t, items[0].Plan[0].Hash)
}

func TestInitialize_RequiresTitle(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.Initialize(f.ctx, domain.Seed{})
	assert.ErrorIs(t, err, ErrInvalidField)
}

func TestLoad(t *testing.T) {
	f := newFixture(t)

	other := New(f.local, zerolog.Nop())
	loaded := other.Load(f.ctx)
	require.NotNil(t, loaded)

	want, err := wire.ToWire(f.store.Document())
	require.NoError(t, err)
	got, err := wire.ToWire(loaded)
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(got))

	empty := New(persistence.NewLocal(persistence.NewMemoryBackend(0), zerolog.Nop()), zerolog.Nop())
	assert.Nil(t, empty.Load(f.ctx))
}

func TestPermissionDenied(t *testing.T) {
	f := newFixture(t)
	before := f.backend.Writes()
	item := f.firstItem(t)

	viewer := appctx.WithSession(context.Background(), appctx.Viewer("bob"))
	anonymous := context.Background()

	for name, ctx := range map[string]context.Context{"viewer": viewer, "no session": anonymous} {
		t.Run(name, func(t *testing.T) {
			_, err := f.store.AddItem(ctx, "day1", domain.AddItemRequest{Category: "Museum"})
			assert.ErrorIs(t, err, ErrPermissionDenied)
			assert.ErrorIs(t, f.store.DeleteItem(ctx, "day1", item.ID), ErrPermissionDenied)
			_, err = f.store.AddPlanItem(ctx, "day1", item.ID, "x")
			assert.ErrorIs(t, err, ErrPermissionDenied)
			_, err = f.store.ToggleLike(ctx, "day1", item.ID, LikeTarget{Kind: LikeItem, Ref: "images"})
			assert.ErrorIs(t, err, ErrPermissionDenied)
			_, err = f.store.Compact(ctx)
			assert.ErrorIs(t, err, ErrPermissionDenied)
		})
	}

	assert.Equal(t, before, f.backend.Writes(), "nothing persisted")
	assert.Len(t, f.store.VisibleItems("day1"), 2)
	assert.Empty(t, f.changes)
}

func TestAddThenDeleteItem(t *testing.T) {
	f := newFixture(t)

	item, err := f.store.AddItem(f.ctx, "day1", domain.AddItemRequest{
		Category: "Museum",
		Spend:    []domain.SpendEntry{{Item: "Ticket", Amount: 12, Payer: "alice"}},
	})
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, 2, item.Order)
	assert.Equal(t, domain.TagOther, item.Tag)
	assert.Equal(t, 12.0, f.store.SpendSummary().Total)

	require.NoError(t, f.store.DeleteItem(f.ctx, "day1", item.ID))

	got := f.store.Item("day1", item.ID)
	require.NotNil(t, got, "tombstone still resolvable")
	assert.True(t, got.Deleted)
	for _, visible := range f.store.VisibleItems("day1") {
		assert.NotEqual(t, item.ID, visible.ID)
	}
	assert.Equal(t, 0.0, f.store.SpendSummary().Total, "deleted items excluded from totals")

	require.NoError(t, f.store.DeleteItem(f.ctx, "day1", item.ID), "second delete is a no-op")
	assert.Len(t, f.changes, 2)
}

func TestAddItem_UnknownDay(t *testing.T) {
	f := newFixture(t)
	item, err := f.store.AddItem(f.ctx, "day9", domain.AddItemRequest{Category: "Museum"})
	assert.ErrorIs(t, err, ErrDayNotFound)
	assert.Nil(t, item)
}

func TestLookupsMiss(t *testing.T) {
	f := newFixture(t)
	assert.Nil(t, f.store.Day("nope"))
	assert.Nil(t, f.store.Item("day1", "nope"))
	assert.Nil(t, f.store.Item("nope", "nope"))
	assert.ErrorIs(t, f.store.DeleteItem(f.ctx, "day1", "nope"), ErrItemNotFound)
}

func TestAddPlanItem_Idempotent(t *testing.T) {
	f := newFixture(t)
	item := f.firstItem(t)

	first, err := f.store.AddPlanItem(f.ctx, "day1", item.ID, "buy tickets")
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := f.store.AddPlanItem(f.ctx, "day1", item.ID, "buy tickets")
	require.NoError(t, err)
	assert.Nil(t, second, "same text, author and timestamp is a duplicate")

	assert.Len(t, f.store.Item("day1", item.ID).Plan, 2, "seed entry plus one")
	assert.Len(t, f.changes, 1)
}

func TestAddPlanItem_SaltSeparatesSameMillisecond(t *testing.T) {
	salts := []float64{0.25, 0.75}
	n := 0
	f := newFixture(t, WithSalt(func() float64 {
		v := salts[n%len(salts)]
		n++
		return v
	}))
	item := f.firstItem(t)

	a, err := f.store.AddPlanItem(f.ctx, "day1", item.ID, "same")
	require.NoError(t, err)
	b, err := f.store.AddPlanItem(f.ctx, "day1", item.ID, "same")
	require.NoError(t, err)

	require.NotNil(t, a)
	require.NotNil(t, b)
	assert.NotEqual(t, a.Hash, b.Hash)
	assert.Len(t, f.store.Item("day1", item.ID).Plan, 3)
}

func TestDeletePlanItem_BacksUpFirst(t *testing.T) {
	f := newFixture(t)
	item := f.firstItem(t)
	p, err := f.store.AddPlanItem(f.ctx, "day1", item.ID, "buy tickets")
	require.NoError(t, err)

	require.NoError(t, f.store.DeletePlanItem(f.ctx, "day1", item.ID, p.Hash))

	records, err := f.store.Backups(f.ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, domain.BackupKindPlan, rec.Kind)
	assert.Equal(t, p.Hash, rec.Hash)
	assert.Equal(t, "alice", rec.DeletedBy)

	var payload domain.PlanItem
	require.NoError(t, json.Unmarshal(rec.Payload, &payload))
	assert.Equal(t, "buy tickets", payload.Text)
	assert.False(t, payload.Deleted, "payload is the pre-delete entity")

	stored := f.store.Item("day1", item.ID)
	assert.True(t, stored.PlanByHash(p.Hash).Deleted)
	assert.Len(t, stored.VisiblePlan(), 1)

	last := f.changes[len(f.changes)-1]
	assert.Equal(t, ChangePlanDeleted, last.Kind)
	require.NotNil(t, last.Backup)
	assert.Equal(t, rec.Key, last.Backup.Key)

	assert.ErrorIs(t, f.store.DeletePlanItem(f.ctx, "day1", item.ID, "missing"), ErrEntryNotFound)
}

func TestComments(t *testing.T) {
	f := newFixture(t)
	item := f.firstItem(t)

	c, err := f.store.AddComment(f.ctx, "day1", item.ID, "worth it")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "alice", c.Author)

	dup, err := f.store.AddComment(f.ctx, "day1", item.ID, "worth it")
	require.NoError(t, err)
	assert.Nil(t, dup)

	require.NoError(t, f.store.DeleteComment(f.ctx, "day1", item.ID, c.Hash))
	stored := f.store.Item("day1", item.ID)
	assert.Empty(t, stored.VisibleComments())
	require.Len(t, stored.Comments, 1)

	records, err := f.store.Backups(f.ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, domain.BackupKindComment, records[0].Kind)

	revived, err := f.store.AddComment(f.ctx, "day1", item.ID, "worth it")
	require.NoError(t, err)
	require.NotNil(t, revived, "tombstoned hash may be reused")
	assert.Len(t, f.store.Item("day1", item.ID).Comments, 1)
}

func TestToggleLike(t *testing.T) {
	f := newFixture(t)
	item := f.firstItem(t)
	c, err := f.store.AddComment(f.ctx, "day1", item.ID, "nice")
	require.NoError(t, err)
	planHash := item.Plan[0].Hash

	tests := []struct {
		name   string
		target LikeTarget
		users  func(*domain.Item) []string
	}{
		{"item section", LikeTarget{Kind: LikeItem, Ref: "images"}, func(i *domain.Item) []string { return i.Likes["images"] }},
		{"plan", LikeTarget{Kind: LikePlan, Ref: planHash}, func(i *domain.Item) []string { return i.PlanByHash(planHash).Likes }},
		{"comment", LikeTarget{Kind: LikeComment, Ref: c.Hash}, func(i *domain.Item) []string { return i.CommentByHash(c.Hash).Likes }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			liked, err := f.store.ToggleLike(f.ctx, "day1", item.ID, tt.target)
			require.NoError(t, err)
			assert.True(t, liked)
			assert.Equal(t, []string{"alice"}, tt.users(f.store.Item("day1", item.ID)))

			liked, err = f.store.ToggleLike(f.ctx, "day1", item.ID, tt.target)
			require.NoError(t, err)
			assert.False(t, liked)
			assert.Empty(t, tt.users(f.store.Item("day1", item.ID)))
		})
	}

	_, err = f.store.ToggleLike(f.ctx, "day1", item.ID, LikeTarget{Kind: LikePlan, Ref: "missing"})
	assert.ErrorIs(t, err, ErrEntryNotFound)
	_, err = f.store.ToggleLike(f.ctx, "day1", item.ID, LikeTarget{Kind: "video", Ref: "x"})
	assert.ErrorIs(t, err, ErrInvalidField)
}

func TestUpdateItem(t *testing.T) {
	f := newFixture(t)
	item := f.firstItem(t)

	updated, err := f.store.UpdateItem(f.ctx, "day1", item.ID, map[string]json.RawMessage{
		"note":    json.RawMessage(`"**bring cash**"`),
		"tag":     json.RawMessage(`"美食"`),
		"weather": json.RawMessage(`{"temp":21}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "**bring cash**", updated.Note)
	assert.Equal(t, domain.TagFood, updated.Tag)
	assert.JSONEq(t, `{"temp":21}`, string(updated.Extra["weather"]))
	assert.Equal(t, fixedNow, updated.UpdatedAt)

	last := f.changes[len(f.changes)-1]
	assert.Contains(t, last.Patch, itemPath("day1", item.ID)+"/weather")

	_, err = f.store.UpdateItem(f.ctx, "day1", item.ID, map[string]json.RawMessage{"tag": json.RawMessage(`"nope"`)})
	assert.ErrorIs(t, err, ErrInvalidField)
	_, err = f.store.UpdateItem(f.ctx, "day1", item.ID, map[string]json.RawMessage{"plan": json.RawMessage(`[]`)})
	assert.ErrorIs(t, err, ErrInvalidField)
	_, err = f.store.UpdateItem(f.ctx, "day1", item.ID, map[string]json.RawMessage{"spend": json.RawMessage(`[{"item":"x","amount":-1}]`)})
	assert.ErrorIs(t, err, ErrInvalidField)

	assert.Equal(t, domain.TagFood, f.store.Item("day1", item.ID).Tag, "failed updates change nothing")
}

func TestUpdateItem_RejectsPathLikeKeys(t *testing.T) {
	f := newFixture(t)
	item := f.firstItem(t)
	before := len(f.changes)

	for _, key := range []string{"plan/evil", "a.b", "$x", "#x", "x[0]", "x]", ""} {
		_, err := f.store.UpdateItem(f.ctx, "day1", item.ID, map[string]json.RawMessage{key: json.RawMessage(`"x"`)})
		assert.ErrorIs(t, err, ErrInvalidField, "key %q", key)
	}
	assert.Len(t, f.changes, before, "nothing is emitted")
	assert.Empty(t, f.store.Item("day1", item.ID).Extra)
}

func TestOrderStability(t *testing.T) {
	f := newFixture(t)

	var ids []string
	for i := 0; i < 5; i++ {
		item, err := f.store.AddItem(f.ctx, "day1", domain.AddItemRequest{Category: "Stop"})
		require.NoError(t, err)
		ids = append(ids, item.ID)
		assertContiguous(t, f.store.Day("day1"))
	}

	require.NoError(t, f.store.DeleteItem(f.ctx, "day1", ids[1]))
	assertContiguous(t, f.store.Day("day1"))
	require.NoError(t, f.store.DeleteItem(f.ctx, "day1", ids[3]))
	assertContiguous(t, f.store.Day("day1"))

	_, err := f.store.AddItem(f.ctx, "day1", domain.AddItemRequest{Category: "Late"})
	require.NoError(t, err)
	assertContiguous(t, f.store.Day("day1"))

	require.NoError(t, f.store.MoveItem(f.ctx, "day1", ids[4], 0))
	assertContiguous(t, f.store.Day("day1"))
	assert.Equal(t, ids[4], f.store.VisibleItems("day1")[0].ID)

	day := f.store.Day("day1")
	assert.Len(t, day.Items, 8)
	assert.Len(t, day.VisibleItems(), 6)
}

func TestReorderItems(t *testing.T) {
	f := newFixture(t)
	items := f.store.VisibleItems("day1")
	require.Len(t, items, 2)

	require.NoError(t, f.store.ReorderItems(f.ctx, "day1", []string{items[1].ID, items[0].ID}))
	got := f.store.VisibleItems("day1")
	assert.Equal(t, items[1].ID, got[0].ID)
	assert.Equal(t, 0, got[0].Order)
	assert.Equal(t, 1, got[1].Order)

	err := f.store.ReorderItems(f.ctx, "day1", []string{items[0].ID})
	assert.ErrorIs(t, err, ErrInvalidField)
	err = f.store.ReorderItems(f.ctx, "day1", []string{items[0].ID, items[0].ID})
	assert.ErrorIs(t, err, ErrInvalidField)
}

func TestMoveItem_ClampsAndNoop(t *testing.T) {
	f := newFixture(t)
	items := f.store.VisibleItems("day1")

	require.NoError(t, f.store.MoveItem(f.ctx, "day1", items[0].ID, 99))
	assert.Equal(t, items[0].ID, f.store.VisibleItems("day1")[1].ID)

	n := len(f.changes)
	require.NoError(t, f.store.MoveItem(f.ctx, "day1", items[0].ID, 1))
	assert.Len(t, f.changes, n, "moving to the current position announces nothing")
}

func TestCompact(t *testing.T) {
	f := newFixture(t)
	item := f.firstItem(t)
	require.NoError(t, f.store.DeletePlanItem(f.ctx, "day1", item.ID, item.Plan[0].Hash))
	extra, err := f.store.AddItem(f.ctx, "day1", domain.AddItemRequest{Category: "Museum"})
	require.NoError(t, err)
	require.NoError(t, f.store.DeleteItem(f.ctx, "day1", extra.ID))

	stats, err := f.store.Compact(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, persistence.CleanupStats{Items: 1, Plan: 1}, stats)
	assert.False(t, f.store.Document().HasTombstones())
	assert.Nil(t, f.store.Item("day1", extra.ID))

	last := f.changes[len(f.changes)-1]
	assert.Equal(t, ChangeCompacted, last.Kind)
	v, ok := last.Patch[itemPath("day1", extra.ID)]
	assert.True(t, ok)
	assert.Nil(t, v, "removed paths are nulled")

	records, err := f.store.Backups(f.ctx)
	require.NoError(t, err)
	assert.Len(t, records, 2, "compaction keeps the ledger")
}

func TestChangeListener(t *testing.T) {
	f := newFixture(t)
	item := f.firstItem(t)

	p, err := f.store.AddPlanItem(f.ctx, "day1", item.ID, "ramen")
	require.NoError(t, err)

	require.Len(t, f.changes, 1)
	c := f.changes[0]
	assert.Equal(t, ChangePlanAdded, c.Kind)
	assert.Equal(t, "day1", c.DayID)
	assert.Equal(t, item.ID, c.ItemID)
	assert.Equal(t, "alice", c.User)
	assert.True(t, c.Incremental())
	assert.Contains(t, c.Patch, itemPath("day1", item.ID)+"/plan/"+p.Hash)
	assert.Contains(t, c.Patch, itemPath("day1", item.ID)+"/_updatedAt")
}

func TestFailedSaveLeavesMemoryUnchanged(t *testing.T) {
	f := newFixture(t)
	before := f.store.Document()

	f.backend.FailNext(persistence.DocumentKey, errors.New("disk on fire"))
	_, err := f.store.AddItem(f.ctx, "day1", domain.AddItemRequest{Category: "Museum"})
	require.Error(t, err)

	assert.Equal(t, before, f.store.Document())
	assert.Empty(t, f.changes)
}

func TestFailedDeleteDropsBackup(t *testing.T) {
	f := newFixture(t)
	item := f.firstItem(t)

	f.backend.FailNext(persistence.DocumentKey, errors.New("disk on fire"))
	require.Error(t, f.store.DeletePlanItem(f.ctx, "day1", item.ID, item.Plan[0].Hash))

	records, err := f.store.Backups(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, records, "no backup for a delete that never happened")
	assert.False(t, f.store.Item("day1", item.ID).Plan[0].Deleted)

	require.NoError(t, f.store.DeletePlanItem(f.ctx, "day1", item.ID, item.Plan[0].Hash))
	records, err = f.store.Backups(f.ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, item.Plan[0].Hash, records[0].Hash)
}

func TestEntriesOnDeletedItem(t *testing.T) {
	f := newFixture(t)
	item := f.firstItem(t)
	require.NoError(t, f.store.DeleteItem(f.ctx, "day1", item.ID))
	n := len(f.changes)

	_, err := f.store.AddPlanItem(f.ctx, "day1", item.ID, "buy tickets")
	assert.ErrorIs(t, err, ErrItemNotFound)
	_, err = f.store.AddComment(f.ctx, "day1", item.ID, "looks fun")
	assert.ErrorIs(t, err, ErrItemNotFound)
	_, err = f.store.ToggleLike(f.ctx, "day1", item.ID, LikeTarget{Kind: LikeItem, Ref: "images"})
	assert.ErrorIs(t, err, ErrItemNotFound)
	assert.Len(t, f.changes, n)
}

func TestQuotaFallbackThroughStore(t *testing.T) {
	f := newFixture(t)
	extra, err := f.store.AddItem(f.ctx, "day1", domain.AddItemRequest{Category: "Museum"})
	require.NoError(t, err)
	require.NoError(t, f.store.DeleteItem(f.ctx, "day1", extra.ID))

	f.backend.FailNext(persistence.DocumentKey, persistence.ErrQuotaExceeded)
	_, err = f.store.AddItem(f.ctx, "day1", domain.AddItemRequest{Category: "Shrine"})
	require.NoError(t, err)

	assert.Nil(t, f.store.Item("day1", extra.ID), "tombstone dropped to fit")
	assertContiguous(t, f.store.Day("day1"))
	last := f.changes[len(f.changes)-1]
	assert.False(t, last.Incremental(), "cleaned saves are pushed whole")
}

func TestLowStorageRejectsWrite(t *testing.T) {
	f := newFixture(t)
	f.backend.FailNext(persistence.CanaryKey, persistence.ErrQuotaExceeded)

	_, err := f.store.AddItem(f.ctx, "day1", domain.AddItemRequest{Category: "Museum"})
	assert.ErrorIs(t, err, persistence.ErrLowStorage)
	assert.Len(t, f.store.VisibleItems("day1"), 2)
}

func TestReplace(t *testing.T) {
	f := newFixture(t)
	doc := f.store.Document()
	doc.Title = "Kansai 2024"

	require.NoError(t, f.store.Replace(f.ctx, doc))
	assert.Equal(t, "Kansai 2024", f.store.Document().Title)
	require.Len(t, f.changes, 1)
	assert.Equal(t, ChangeReplaced, f.changes[0].Kind)
	assert.False(t, f.changes[0].Incremental())
}
