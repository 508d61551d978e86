package queue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fittrack/backend/internal/db"
	"github.com/fittrack/backend/internal/models"
)

func newSQLiteStore(t *testing.T) Store {
	t.Helper()
	database, err := db.OpenFile(filepath.Join(t.TempDir(), db.FileName))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return NewSQLiteStore(database.DB)
}

// forEachStore runs the same contract against every Store implementation.
func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStore()) })
	t.Run("sqlite", func(t *testing.T) { fn(t, newSQLiteStore(t)) })
}

func record(id string, op models.Operation, payload string, createdAt int64) *models.MutationRecord {
	return &models.MutationRecord{
		EntityType: models.EntityTypeWorkout,
		EntityID:   id,
		Operation:  op,
		Payload:    payload,
		CreatedAt:  createdAt,
	}
}

func TestStore_FindMiss(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		rec, err := s.Find(context.Background(), models.EntityTypeWorkout, "missing")
		require.NoError(t, err)
		assert.Nil(t, rec)
	})
}

func TestStore_UpsertKeepsIDPerKey(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		first := record("a", models.OperationCreate, `{"v":1}`, 10)
		id1, err := s.Upsert(ctx, first)
		require.NoError(t, err)
		assert.Equal(t, id1, first.ID)

		replaced := record("a", models.OperationCreate, `{"v":2}`, 10)
		replaced.RetryCount = 1
		replaced.LastError = "boom"
		id2, err := s.Upsert(ctx, replaced)
		require.NoError(t, err)
		assert.Equal(t, id1, id2, "replacing a key keeps its id")

		other, err := s.Upsert(ctx, record("b", models.OperationUpdate, `{}`, 11))
		require.NoError(t, err)
		assert.Greater(t, other, id1, "ids are monotonic")

		got, err := s.Find(ctx, models.EntityTypeWorkout, "a")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, `{"v":2}`, got.Payload)
		assert.Equal(t, 1, got.RetryCount)
		assert.Equal(t, "boom", got.LastError)

		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})
}

func TestStore_UpsertRejectsInvalidOperation(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		_, err := s.Upsert(context.Background(), record("a", models.Operation("MERGE"), `{}`, 1))
		assert.Error(t, err)
	})
}

func TestStore_ListRetryableFIFO(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		_, err := s.Upsert(ctx, record("late", models.OperationCreate, `{}`, 300))
		require.NoError(t, err)
		_, err = s.Upsert(ctx, record("early", models.OperationCreate, `{}`, 100))
		require.NoError(t, err)
		parked := record("parked", models.OperationUpdate, `{}`, 50)
		parked.RetryCount = 3
		parked.LastError = "rejected"
		_, err = s.Upsert(ctx, parked)
		require.NoError(t, err)
		_, err = s.Upsert(ctx, record("tie", models.OperationDelete, `{}`, 300))
		require.NoError(t, err)

		recs, err := s.ListRetryable(ctx, 3)
		require.NoError(t, err)
		var ids []string
		for _, r := range recs {
			ids = append(ids, r.EntityID)
		}
		assert.Equal(t, []string{"early", "late", "tie"}, ids)

		all, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, all, 4)
		assert.Equal(t, "parked", all[0].EntityID)
	})
}

func TestStore_ReturnsCopies(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, err := s.Upsert(ctx, record("a", models.OperationCreate, `{}`, 1))
		require.NoError(t, err)

		got, err := s.Find(ctx, models.EntityTypeWorkout, "a")
		require.NoError(t, err)
		got.RetryCount = 99

		again, err := s.Find(ctx, models.EntityTypeWorkout, "a")
		require.NoError(t, err)
		assert.Zero(t, again.RetryCount)
	})
}

func TestStore_RemoveAndClear(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		a := record("a", models.OperationCreate, `{}`, 1)
		_, err := s.Upsert(ctx, a)
		require.NoError(t, err)
		_, err = s.Upsert(ctx, record("b", models.OperationCreate, `{}`, 2))
		require.NoError(t, err)

		require.NoError(t, s.Remove(ctx, a))
		require.NoError(t, s.Remove(ctx, a), "removing twice is not an error")
		require.NoError(t, s.Remove(ctx, nil))

		got, err := s.Find(ctx, models.EntityTypeWorkout, "a")
		require.NoError(t, err)
		assert.Nil(t, got)

		require.NoError(t, s.Clear(ctx))
		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestStore_Subscribe(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		ch, cancel := s.Subscribe()
		defer cancel()

		_, err := s.Upsert(ctx, record("a", models.OperationCreate, `{}`, 1))
		require.NoError(t, err)
		assert.Equal(t, 1, receive(t, ch))

		_, err = s.Upsert(ctx, record("b", models.OperationCreate, `{}`, 2))
		require.NoError(t, err)
		_, err = s.Upsert(ctx, record("c", models.OperationCreate, `{}`, 3))
		require.NoError(t, err)
		assert.Equal(t, 3, receive(t, ch), "unread values are replaced by the latest")

		require.NoError(t, s.Clear(ctx))
		assert.Equal(t, 0, receive(t, ch))

		cancel()
		_, open := <-ch
		assert.False(t, open, "unsubscribe closes the channel")
		cancel()
	})
}

func receive(t *testing.T, ch <-chan int) int {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for count")
		return -1
	}
}
