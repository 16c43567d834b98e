// Package presence tracks which users the relay currently reports online.
package presence

import (
	"sort"
	"sync"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("presence")

// Event describes one snapshot application. Joined and Left are the
// difference against the previous set.
type Event struct {
	Online []string `json:"online"`
	Joined []string `json:"joined,omitempty"`
	Left   []string `json:"left,omitempty"`
}

// Tracker holds the online set. Snapshots replace it wholesale; there are no
// incremental updates.
type Tracker struct {
	mu        sync.Mutex
	online    map[string]struct{}
	listeners []chan Event
}

func NewTracker() *Tracker {
	return &Tracker{online: map[string]struct{}{}}
}

// Replace installs ids as the complete online set.
func (t *Tracker) Replace(ids []string) Event {
	next := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			next[id] = struct{}{}
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var evt Event
	for id := range next {
		if _, ok := t.online[id]; !ok {
			evt.Joined = append(evt.Joined, id)
		}
	}
	for id := range t.online {
		if _, ok := next[id]; !ok {
			evt.Left = append(evt.Left, id)
		}
	}
	sort.Strings(evt.Joined)
	sort.Strings(evt.Left)

	t.online = next
	evt.Online = t.sortedLocked()
	log.Debugf("snapshot: %d online, +%d -%d", len(next), len(evt.Joined), len(evt.Left))
	t.notifyListeners(evt)
	return evt
}

func (t *Tracker) IsOnline(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.online[id]
	return ok
}

// Online returns the sorted online ids.
func (t *Tracker) Online() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sortedLocked()
}

func (t *Tracker) sortedLocked() []string {
	ids := make([]string, 0, len(t.online))
	for id := range t.online {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (t *Tracker) Subscribe() chan Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := make(chan Event, 16)
	t.listeners = append(t.listeners, ch)
	return ch
}

func (t *Tracker) Unsubscribe(ch chan Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, listener := range t.listeners {
		if listener == ch {
			close(listener)
			t.listeners = append(t.listeners[:i], t.listeners[i+1:]...)
			return
		}
	}
}

func (t *Tracker) notifyListeners(evt Event) {
	for _, ch := range t.listeners {
		select {
		case ch <- evt:
		default:
		}
	}
}
