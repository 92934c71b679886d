package syncer

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebounce_CoalescesPatches(t *testing.T) {
	rem := newFakeRealtime()
	f := newFixture(t, rem, Options{Debounce: 30 * time.Millisecond})
	f.configure(t)
	item := f.firstItem(t)

	first, err := f.store.AddPlanItem(f.ctx, "day1", item.ID, "buy omamori")
	require.NoError(t, err)
	second, err := f.store.AddPlanItem(f.ctx, "day1", item.ID, "try matcha")
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return len(rem.patchLog()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)

	patches := rem.patchLog()
	require.Len(t, patches, 1, "both changes go out in one write")
	base := "days/day1/items/" + item.ID
	assert.Contains(t, patches[0], base+"/plan/"+first.Hash)
	assert.Contains(t, patches[0], base+"/plan/"+second.Hash)
	pushes, _, _ := rem.snapshot()
	assert.Zero(t, pushes)
}

func TestDebounce_FullUploadWithoutPatcher(t *testing.T) {
	rem := &fakeDocs{}
	f := newFixture(t, rem, Options{Debounce: 10 * time.Millisecond})
	f.configure(t)

	_, err := f.store.AddPlanItem(f.ctx, "day1", f.firstItem(t).ID, "buy omamori")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		pushes, _, _ := rem.snapshot()
		return pushes == 1
	}, time.Second, 5*time.Millisecond)
}

func TestDebounce_IgnoresRemoteApplies(t *testing.T) {
	rem := newFakeRealtime()
	rem.doc = remoteTrip("Kansai")
	f := newFixture(t, rem, Options{Debounce: 10 * time.Millisecond})
	f.configure(t)

	require.True(t, f.svc.Download(f.ctx, true).Success)
	time.Sleep(40 * time.Millisecond)

	pushes, _, calls := rem.snapshot()
	assert.Zero(t, pushes)
	assert.Empty(t, calls)
}

func TestFlush_RetainsFailedBackups(t *testing.T) {
	rem := newFakeRealtime()
	f := newFixture(t, rem, Options{})
	f.configure(t)
	item := f.firstItem(t)

	p, err := f.store.AddPlanItem(f.ctx, "day1", item.ID, "buy omamori")
	require.NoError(t, err)
	require.NoError(t, f.store.DeletePlanItem(f.ctx, "day1", item.ID, p.Hash))

	rem.mu.Lock()
	rem.backupErr = errors.New("offline")
	rem.mu.Unlock()
	f.svc.Flush()
	assert.Empty(t, rem.backups)
	// The delete touches a path below the added entry, so it goes out whole.
	_, _, calls := rem.snapshot()
	assert.Equal(t, []string{"upload"}, calls)

	rem.mu.Lock()
	rem.backupErr = nil
	rem.mu.Unlock()
	f.svc.Flush()
	require.Len(t, rem.backups, 1)
	assert.Equal(t, p.Hash, rem.backups[0].Hash)
	_, _, calls = rem.snapshot()
	assert.Len(t, calls, 1, "nothing new to push")
}

func TestFlush_SnapshotRemoteOnlyPushesBackups(t *testing.T) {
	rem := &fakeSnaps{}
	f := newFixture(t, rem, Options{})
	f.configure(t)
	item := f.firstItem(t)

	p, err := f.store.AddPlanItem(f.ctx, "day1", item.ID, "buy omamori")
	require.NoError(t, err)
	require.NoError(t, f.store.DeletePlanItem(f.ctx, "day1", item.ID, p.Hash))
	f.svc.Flush()

	assert.Len(t, rem.backups, 1)
	assert.Zero(t, rem.pushCount())
}

func TestPendingAdd(t *testing.T) {
	t.Run("ancestor replaces descendants", func(t *testing.T) {
		var p pendingPush
		p.add(map[string]any{"days/d/items/i/note": "a", "days/d/items/j/note": "b"})
		p.add(map[string]any{"days/d/items/i": map[string]any{"note": "c"}})
		assert.False(t, p.full)
		assert.Len(t, p.patch, 2)
		assert.Contains(t, p.patch, "days/d/items/i")
		assert.Contains(t, p.patch, "days/d/items/j/note")
	})

	t.Run("descendant of pending path forces full upload", func(t *testing.T) {
		var p pendingPush
		p.add(map[string]any{"days/d/items/i": map[string]any{}})
		p.add(map[string]any{"days/d/items/i/note": "x"})
		assert.True(t, p.full)
		assert.Nil(t, p.patch)
	})

	t.Run("same path keeps latest", func(t *testing.T) {
		var p pendingPush
		p.add(map[string]any{"days/d/items/i/note": "a"})
		p.add(map[string]any{"days/d/items/i/note": "b"})
		assert.Equal(t, "b", p.patch["days/d/items/i/note"])
	})

	t.Run("sibling prefixes do not overlap", func(t *testing.T) {
		var p pendingPush
		p.add(map[string]any{"days/d/items/i1": 1})
		p.add(map[string]any{"days/d/items/i10": 2})
		assert.False(t, p.full)
		for path := range p.patch {
			assert.True(t, strings.HasPrefix(path, "days/d/items/i1"))
		}
		assert.Len(t, p.patch, 2)
	})
}
