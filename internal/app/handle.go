// internal/app/handle.go
package app

import (
	"errors"
	"sync"
)

var ErrAlreadyLoggedIn = errors.New("already logged in")

// The process holds at most one client. The slot is claimed before Login
// dials anything and published once the client is running.
var (
	mu      sync.RWMutex
	current *Client
	live    bool
)

func claim(c *Client) error {
	mu.Lock()
	defer mu.Unlock()
	if current != nil {
		return ErrAlreadyLoggedIn
	}
	current, live = c, false
	return nil
}

func publish(c *Client) {
	mu.Lock()
	defer mu.Unlock()
	if current == c {
		live = true
	}
}

func release(c *Client) {
	mu.Lock()
	defer mu.Unlock()
	if current == c {
		current, live = nil, false
	}
}

// Current returns the logged-in client.
func Current() (*Client, bool) {
	mu.RLock()
	defer mu.RUnlock()
	if current == nil || !live {
		return nil, false
	}
	return current, true
}

// RuntimeSelf reports who is logged in.
func RuntimeSelf() (id, name string, ok bool) {
	c, ok := Current()
	if !ok {
		return "", "", false
	}
	return c.selfID, c.selfName, true
}
