package storage

import (
	"errors"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	operrors "op/internal/errors"
)

type record struct {
	ID   string `json:"id"`
	Body string `json:"body"`
}

func (r *record) GetID() string {
	return r.ID
}

func setupTestDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestBadgerStore(t *testing.T) {
	db := setupTestDB(t)
	store := NewBadgerStore(db, "record")

	t.Run("Create", func(t *testing.T) {
		require.NoError(t, store.Create(&record{ID: "01", Body: "first"}))

		err := store.Create(&record{ID: "01", Body: "again"})
		assert.ErrorContains(t, err, "already exists")

		err = store.Create(&record{})
		assert.True(t, errors.Is(err, operrors.ErrValidation))
	})

	t.Run("Get", func(t *testing.T) {
		var r record
		require.NoError(t, store.Get("01", &r))
		assert.Equal(t, "first", r.Body)

		err := store.Get("99", &r)
		assert.True(t, errors.Is(err, operrors.ErrNotFound))
	})

	t.Run("Update", func(t *testing.T) {
		require.NoError(t, store.Update(&record{ID: "01", Body: "edited"}))

		var r record
		require.NoError(t, store.Get("01", &r))
		assert.Equal(t, "edited", r.Body)

		err := store.Update(&record{ID: "99"})
		assert.True(t, errors.Is(err, operrors.ErrNotFound))
	})

	t.Run("List", func(t *testing.T) {
		require.NoError(t, store.Create(&record{ID: "03", Body: "third"}))
		require.NoError(t, store.Create(&record{ID: "02", Body: "second"}))
		// Same database, different prefix.
		require.NoError(t, NewBadgerStore(db, "other").Create(&record{ID: "00"}))

		var records []record
		require.NoError(t, store.List(&records))
		require.Len(t, records, 3)
		assert.Equal(t, "01", records[0].ID)
		assert.Equal(t, "02", records[1].ID)
		assert.Equal(t, "03", records[2].ID)

		ids, err := store.IDs()
		require.NoError(t, err)
		assert.Equal(t, []string{"01", "02", "03"}, ids)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Delete("02"))
		assert.True(t, errors.Is(store.Delete("02"), operrors.ErrNotFound))
	})

	t.Run("Clear", func(t *testing.T) {
		n, err := store.Clear()
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		var records []record
		require.NoError(t, store.List(&records))
		assert.Empty(t, records)

		var others []record
		require.NoError(t, NewBadgerStore(db, "other").List(&others))
		assert.Len(t, others, 1)
	})
}

func TestNextID(t *testing.T) {
	db := setupTestDB(t)
	store := NewBadgerStore(db, "record")

	var got []uint64
	for i := 0; i < 3; i++ {
		id, err := store.NextID()
		require.NoError(t, err)
		got = append(got, id)
	}
	assert.Equal(t, []uint64{1, 2, 3}, got)

	_, err := store.Clear()
	require.NoError(t, err)
	id, err := store.NextID()
	require.NoError(t, err)
	assert.Equal(t, uint64(4), id)

	other, err := NewBadgerStore(db, "other").NextID()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), other)
}

func TestNextIDPersists(t *testing.T) {
	dir := t.TempDir()

	db, err := Open(dir)
	require.NoError(t, err)
	id, err := NewBadgerStore(db, "record").NextID()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)
	require.NoError(t, db.Close())

	db, err = Open(dir)
	require.NoError(t, err)
	defer db.Close()
	id, err = NewBadgerStore(db, "record").NextID()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), id)
}
