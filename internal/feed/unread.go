package feed

// Unread returns the unread count of key. The open conversation is always 0.
func (c *Coordinator) Unread(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unread[key]
}

// UnreadCounts returns a copy of the unread index.
func (c *Coordinator) UnreadCounts() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int, len(c.unread))
	for k, v := range c.unread {
		out[k] = v
	}
	return out
}

func (c *Coordinator) persistUnread(key string, n int) {
	if c.opts.Store == nil {
		return
	}
	if err := c.opts.Store.SetUnread(key, n); err != nil {
		log.Warnf("save unread [%s]: %s", key, err)
	}
}
