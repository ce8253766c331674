package localstore

import (
	"context"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/shenikar/falconwatch/internal/models"
	"github.com/shenikar/falconwatch/pkg/badgerdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badgerdb.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestAckStore_EmptyByDefault(t *testing.T) {
	store := NewAckStore(setupDB(t), "phone", 1)

	acks, err := store.Load(context.Background())

	require.NoError(t, err)
	assert.Empty(t, acks)
}

func TestAckStore_AddIsIdempotent(t *testing.T) {
	// Подготовка
	ctx := context.Background()
	store := NewAckStore(setupDB(t), "phone", 1)

	// Действие
	require.NoError(t, store.Add(ctx, 7))
	require.NoError(t, store.Add(ctx, 3))
	require.NoError(t, store.Add(ctx, 7))

	// Проверки
	acks, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[int64]struct{}{3: {}, 7: {}}, acks)
}

func TestAckStore_KeyedByDeviceAndUser(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	require.NoError(t, NewAckStore(db, "phone", 1).Add(ctx, 5))

	other, err := NewAckStore(db, "tablet", 1).Load(ctx)
	require.NoError(t, err)
	otherUser, err := NewAckStore(db, "phone", 2).Load(ctx)
	require.NoError(t, err)
	same, err := NewAckStore(db, "phone", 1).Load(ctx)
	require.NoError(t, err)

	assert.Empty(t, other)
	assert.Empty(t, otherUser)
	assert.Contains(t, same, int64(5))
}

func TestFilterStore_NotFound(t *testing.T) {
	store := NewFilterStore(setupDB(t), "phone", 1)

	_, found, err := store.Load(context.Background())

	require.NoError(t, err)
	assert.False(t, found)
}

func TestFilterStore_RoundTrip(t *testing.T) {
	// Подготовка
	ctx := context.Background()
	store := NewFilterStore(setupDB(t), "phone", 1)
	state := models.NewFilterState("Fire", "theft")
	state.SortCategory = "fire"
	state.SortTimeOrder = models.SortOldest
	state.Customized = true

	// Действие
	require.NoError(t, store.Save(ctx, state))
	loaded, found, err := store.Load(ctx)

	// Проверки
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, loaded.IsSelected("FIRE"))
	assert.True(t, loaded.IsSelected("theft"))
	assert.False(t, loaded.IsSelected("vandalism"))
	assert.Equal(t, "fire", loaded.SortCategory)
	assert.Equal(t, models.SortOldest, loaded.SortTimeOrder)
	assert.True(t, loaded.Customized)
}

func TestFilterStore_EmptySelectionSurvives(t *testing.T) {
	ctx := context.Background()
	store := NewFilterStore(setupDB(t), "phone", 1)
	state := models.NewFilterState()
	state.Customized = true

	require.NoError(t, store.Save(ctx, state))
	loaded, found, err := store.Load(ctx)

	require.NoError(t, err)
	assert.True(t, found)
	assert.Empty(t, loaded.SelectedCategories)
	assert.Equal(t, models.SortNewest, loaded.SortTimeOrder)
}
