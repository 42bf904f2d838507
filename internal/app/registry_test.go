package app

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	_, replaced := r.Put(&Client{UserID: "a", RoomID: "r1"})
	require.False(t, replaced)
	r.Put(&Client{UserID: "b", RoomID: "r1"})
	r.Put(&Client{UserID: "c", RoomID: "r2"})

	c, ok := r.Get("a")
	require.True(t, ok)
	require.Equal(t, "r1", string(c.RoomID))
	require.Equal(t, 3, r.Len())

	old, replaced := r.Put(&Client{UserID: "a", RoomID: "r2"})
	require.True(t, replaced)
	require.Equal(t, "r1", string(old.RoomID))
	c, _ = r.Get("a")
	require.Equal(t, "r2", string(c.RoomID))
	require.Equal(t, 3, r.Len())

	_, ok = r.Remove("a")
	require.True(t, ok)
	_, ok = r.Remove("a")
	require.False(t, ok, "second remove is a benign miss")
	_, ok = r.Get("a")
	require.False(t, ok)
}
