package app

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dkeye/mediarelay/internal/domain"
)

func TestBatch_LastWriteWins(t *testing.T) {
	b := NewBatch[int]()
	b.Stage("a", 1)
	b.Stage("a", 2)
	b.Stage("b", 3)

	require.Equal(t, map[domain.UserID]int{"a": 2, "b": 3}, b.Entries())
}

func TestBatch_FlushIfAny(t *testing.T) {
	t.Run("empty batch is not sent", func(t *testing.T) {
		b := NewBatch[int]()
		calls := 0
		sent, err := b.FlushIfAny(func(map[domain.UserID]int) error {
			calls++
			return nil
		})
		require.NoError(t, err)
		require.False(t, sent)
		require.Zero(t, calls)
	})

	t.Run("non empty batch is sent once", func(t *testing.T) {
		b := NewBatch[int]()
		b.Stage("a", 1)
		var got map[domain.UserID]int
		sent, err := b.FlushIfAny(func(m map[domain.UserID]int) error {
			got = m
			return nil
		})
		require.NoError(t, err)
		require.True(t, sent)
		require.Equal(t, map[domain.UserID]int{"a": 1}, got)
	})

	t.Run("send error is returned", func(t *testing.T) {
		b := NewBatch[int]()
		b.Stage("a", 1)
		boom := errors.New("boom")
		sent, err := b.FlushIfAny(func(map[domain.UserID]int) error { return boom })
		require.True(t, sent)
		require.ErrorIs(t, err, boom)
	})
}

func TestBatch_FlushAlwaysSends(t *testing.T) {
	b := NewBatch[int]()
	var got map[domain.UserID]int
	require.NoError(t, b.Flush(func(m map[domain.UserID]int) error {
		got = m
		return nil
	}))
	require.NotNil(t, got)
	require.Empty(t, got)
}

func TestBatch_ConcurrentStage(t *testing.T) {
	b := NewBatch[int]()
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b.Stage(domain.UserID(fmt.Sprint(i)), i)
		}(i)
	}
	wg.Wait()
	require.Equal(t, 64, b.Len())
}
