package infra

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/focusd/app_guard/internal/domain"
)

func newTestRuleStore(t *testing.T) *FileRuleStore {
	t.Helper()
	return NewFileRuleStore(t.TempDir(), nil)
}

func testRule(id string, minutes int) domain.BlockRule {
	return domain.BlockRule{
		TargetID:        id,
		DisplayName:     id,
		BlockedAt:       1_700_000_000_000,
		DurationMinutes: minutes,
		IsActive:        true,
	}
}

func TestFileRuleStore_EmptyWhenMissing(t *testing.T) {
	store := newTestRuleStore(t)

	assert.Empty(t, store.List())
	_, ok := store.Find("game.app")
	assert.False(t, ok)
}

func TestFileRuleStore_UpsertReplacesByTarget(t *testing.T) {
	store := newTestRuleStore(t)

	require.NoError(t, store.Upsert(testRule("game.app", 60)))
	updated := testRule("game.app", 30)
	updated.DisplayName = "Game"
	require.NoError(t, store.Upsert(updated))

	rules := store.List()
	require.Len(t, rules, 1)
	assert.Equal(t, updated, rules[0])
}

func TestFileRuleStore_UpsertRejectsInvalid(t *testing.T) {
	store := newTestRuleStore(t)

	err := store.Upsert(testRule("game.app", -2))

	assert.ErrorIs(t, err, domain.ErrInvalidRule)
	assert.Empty(t, store.List())
}

func TestFileRuleStore_SetActiveAndRemove(t *testing.T) {
	store := newTestRuleStore(t)
	require.NoError(t, store.Upsert(testRule("game.app", 60)))
	require.NoError(t, store.Upsert(testRule("social.app", domain.PermanentDuration)))

	require.NoError(t, store.SetActive("game.app", false))
	r, ok := store.Find("game.app")
	require.True(t, ok)
	assert.False(t, r.IsActive)

	require.NoError(t, store.Remove("game.app"))
	require.NoError(t, store.Remove("game.app"), "removing an absent rule is a no-op")
	require.NoError(t, store.SetActive("missing.app", true), "toggling an absent rule is a no-op")

	rules := store.List()
	require.Len(t, rules, 1)
	assert.Equal(t, "social.app", rules[0].TargetID)
}

func TestFileRuleStore_PersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, NewFileRuleStore(dir, nil).Upsert(testRule("game.app", 60)))

	reopened := NewFileRuleStore(dir, nil)

	r, ok := reopened.Find("game.app")
	require.True(t, ok)
	assert.Equal(t, testRule("game.app", 60), r)

	info, err := os.Stat(reopened.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestFileRuleStore_CorruptFile(t *testing.T) {
	store := newTestRuleStore(t)
	require.NoError(t, os.WriteFile(store.Path(), []byte("{not json"), 0600))

	assert.Empty(t, store.List(), "corrupt storage reads as empty")

	require.NoError(t, store.Upsert(testRule("game.app", 60)))

	assert.Len(t, store.List(), 1)
	aside, err := os.ReadFile(store.Path() + ".corrupt")
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(aside))
}

func TestFileRuleStore_ReadErrorKeepsFile(t *testing.T) {
	store := newTestRuleStore(t)
	// A directory in place of the file fails the read with EISDIR
	require.NoError(t, os.MkdirAll(filepath.Join(store.Path(), "keep"), 0700))

	assert.Error(t, store.Upsert(testRule("game.app", 60)))
	assert.Error(t, store.SetActive("game.app", false))
	assert.Error(t, store.Remove("game.app"))

	info, err := os.Stat(store.Path())
	require.NoError(t, err)
	assert.True(t, info.IsDir(), "unreadable storage is left in place")
	_, err = os.Stat(store.Path() + ".corrupt")
	assert.True(t, os.IsNotExist(err))
}

func TestFileRuleStore_CollapsesDuplicateTargets(t *testing.T) {
	store := newTestRuleStore(t)
	raw := `[
  {"targetId": "game.app", "displayName": "Old", "blockedAt": 1, "durationMinutes": 10, "isActive": true},
  {"targetId": "", "displayName": "blank", "blockedAt": 1, "durationMinutes": 10, "isActive": true},
  {"targetId": "game.app", "displayName": "New", "blockedAt": 2, "durationMinutes": 20, "isActive": false}
]`
	require.NoError(t, os.WriteFile(store.Path(), []byte(raw), 0600))

	rules := store.List()

	require.Len(t, rules, 1)
	assert.Equal(t, "New", rules[0].DisplayName)
	assert.False(t, rules[0].IsActive)
}

func TestFileRuleStore_ConcurrentWritersAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	stores := []*FileRuleStore{NewFileRuleStore(dir, nil), NewFileRuleStore(dir, nil)}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, stores[i%2].Upsert(testRule(fmt.Sprintf("app%02d", i), 60)))
		}(i)
	}
	wg.Wait()

	assert.Len(t, stores[0].List(), 20, "no write is lost")
	leftovers, err := filepath.Glob(filepath.Join(dir, ".*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}
