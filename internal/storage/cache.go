package storage

import (
	"fmt"

	"github.com/petervdpas/goopchat/internal/backend"
)

// Cache is the unread index and recent list of one user.
type Cache struct {
	d     *DB
	owner string
}

// UnreadCounts returns every non-zero unread count.
func (c *Cache) UnreadCounts() (map[string]int, error) {
	c.d.mu.RLock()
	defer c.d.mu.RUnlock()
	rows, err := c.d.db.Query(`
		SELECT conversation, count FROM _unread
		WHERE owner_id = ? AND count > 0`, c.owner)
	if err != nil {
		return nil, fmt.Errorf("load unread: %w", err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, err
		}
		out[key] = n
	}
	return out, rows.Err()
}

// SetUnread stores the count for conversation; zero removes the row.
func (c *Cache) SetUnread(conversation string, n int) error {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	if n <= 0 {
		_, err := c.d.db.Exec(`DELETE FROM _unread WHERE owner_id = ? AND conversation = ?`, c.owner, conversation)
		return err
	}
	_, err := c.d.db.Exec(`
		INSERT INTO _unread (owner_id, conversation, count, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(owner_id, conversation) DO UPDATE SET
			count      = excluded.count,
			updated_at = CURRENT_TIMESTAMP`,
		c.owner, conversation, n,
	)
	return err
}

// Recents returns the recent conversation list, most recent first.
func (c *Cache) Recents() ([]backend.User, error) {
	c.d.mu.RLock()
	defer c.d.mu.RUnlock()
	rows, err := c.d.db.Query(`
		SELECT peer_id, full_name, profile_pic FROM _recents
		WHERE owner_id = ? ORDER BY position`, c.owner)
	if err != nil {
		return nil, fmt.Errorf("load recents: %w", err)
	}
	defer rows.Close()

	var out []backend.User
	for rows.Next() {
		var u backend.User
		if err := rows.Scan(&u.ID, &u.FullName, &u.ProfilePic); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// SaveRecents replaces the recent list.
func (c *Cache) SaveRecents(users []backend.User) error {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	tx, err := c.d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM _recents WHERE owner_id = ?`, c.owner); err != nil {
		return err
	}
	for i, u := range users {
		if _, err := tx.Exec(`
			INSERT OR REPLACE INTO _recents (owner_id, peer_id, full_name, profile_pic, position)
			VALUES (?, ?, ?, ?, ?)`,
			c.owner, u.ID, u.FullName, u.ProfilePic, i,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}
