package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petervdpas/goopchat/internal/backend"
)

func openTemp(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestUnreadCounts(t *testing.T) {
	db := openTemp(t)
	alice := db.Scoped("alice")

	require.NoError(t, alice.SetUnread("bob", 2))
	require.NoError(t, alice.SetUnread("group-1", 1))
	require.NoError(t, alice.SetUnread("bob", 3))
	require.NoError(t, db.Scoped("carol").SetUnread("bob", 9))

	got, err := alice.UnreadCounts()
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"bob": 3, "group-1": 1}, got)

	require.NoError(t, alice.SetUnread("bob", 0))
	got, err = alice.UnreadCounts()
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"group-1": 1}, got)
}

func TestRecentsKeepOrder(t *testing.T) {
	db := openTemp(t)
	c := db.Scoped("alice")

	empty, err := c.Recents()
	require.NoError(t, err)
	assert.Empty(t, empty)

	users := []backend.User{{ID: "carol", FullName: "Carol"}, {ID: "bob", FullName: "Bob", ProfilePic: "b.png"}}
	require.NoError(t, c.SaveRecents(users))
	got, err := c.Recents()
	require.NoError(t, err)
	assert.Equal(t, users, got)

	require.NoError(t, c.SaveRecents(users[1:]))
	got, err = c.Recents()
	require.NoError(t, err)
	assert.Equal(t, users[1:], got)
}

func TestReopenKeepsState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "cache.db")
	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Scoped("alice").SetUnread("bob", 4))
	require.NoError(t, db.SetMeta("schema", "1"))
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()
	got, err := db.Scoped("alice").UnreadCounts()
	require.NoError(t, err)
	assert.Equal(t, 4, got["bob"])
	v, ok, err := db.Meta("schema")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", v)
	_, ok, err = db.Meta("missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, path, db.Path())
}

func TestInMemory(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Scoped("a").SetUnread("b", 1))
	got, err := db.Scoped("a").UnreadCounts()
	require.NoError(t, err)
	assert.Equal(t, 1, got["b"])
}
