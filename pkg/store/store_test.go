package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertMessage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	msg, err := s.InsertMessage(ctx, "bot", "60123456789", "Hello", DirectionOut)
	require.NoError(t, err)

	assert.NotZero(t, msg.ID)
	assert.Equal(t, "bot", msg.FromJID)
	assert.Equal(t, "60123456789", msg.ToJID)
	assert.Equal(t, "Hello", msg.Body)
	assert.Equal(t, DirectionOut, msg.Direction)
	assert.False(t, msg.CreatedAt.IsZero())
}

func TestInsertMessageRejectsInvalidDirection(t *testing.T) {
	s := newTestStore(t)

	_, err := s.InsertMessage(context.Background(), "bot", "123", "hi", "sideways")
	assert.Error(t, err)
}

func TestDuplicateSendsAreIndependentRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.InsertMessage(ctx, "bot", "123", "same body", DirectionOut)
	require.NoError(t, err)
	second, err := s.InsertMessage(ctx, "bot", "123", "same body", DirectionOut)
	require.NoError(t, err)

	// No deduplication: identical payloads get distinct rows
	assert.NotEqual(t, first.ID, second.ID)

	count, err := s.CountMessages(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
}

func TestListMessagesNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.InsertMessage(ctx, "bot", "123", fmt.Sprintf("message %d", i), DirectionOut)
		require.NoError(t, err)
	}

	messages, err := s.ListMessages(ctx, 50, 0)
	require.NoError(t, err)
	require.Len(t, messages, 5)

	assert.Equal(t, "message 4", messages[0].Body)
	assert.Equal(t, "message 0", messages[4].Body)
}

func TestListMessagesPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := s.InsertMessage(ctx, "sender", "bot", fmt.Sprintf("message %d", i), DirectionIn)
		require.NoError(t, err)
	}

	page, err := s.ListMessages(ctx, 3, 0)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, "message 9", page[0].Body)

	page, err = s.ListMessages(ctx, 3, 3)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, "message 6", page[0].Body)

	// Offset past the end yields an empty, non-nil slice
	page, err = s.ListMessages(ctx, 3, 100)
	require.NoError(t, err)
	assert.NotNil(t, page)
	assert.Empty(t, page)
}

func TestListMessagesDefaultLimit(t *testing.T) {
	s := newTestStore(t)

	messages, err := s.ListMessages(context.Background(), 0, -5)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestCountMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	count, err := s.CountMessages(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	_, err = s.InsertMessage(ctx, "bot", "123", "hello", DirectionOut)
	require.NoError(t, err)

	count, err = s.CountMessages(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestClosedStoreReturnsError(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Close())

	_, err := s.InsertMessage(context.Background(), "bot", "123", "hi", DirectionOut)
	assert.ErrorIs(t, err, ErrStoreClosed)

	_, err = s.ListMessages(context.Background(), 10, 0)
	assert.ErrorIs(t, err, ErrStoreClosed)

	_, err = s.CountMessages(context.Background())
	assert.ErrorIs(t, err, ErrStoreClosed)

	// Close is idempotent
	assert.NoError(t, s.Close())
}

func TestCloseDuringConcurrentInserts(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "race.db"))
	require.NoError(t, err)

	// Relay persistence is fire-and-forget, so inserts can still be in
	// flight when the store shuts down. They must fail cleanly, not panic.
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			<-start
			_, err := s.InsertMessage(context.Background(), "bot", "123", fmt.Sprintf("msg %d", n), DirectionOut)
			if err != nil {
				ok := errors.Is(err, ErrStoreClosed) || strings.Contains(err.Error(), "closed")
				assert.True(t, ok, "unexpected insert error: %v", err)
			}
		}(i)
	}

	close(start)
	require.NoError(t, s.Close())
	wg.Wait()
}
