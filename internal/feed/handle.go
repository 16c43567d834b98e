package feed

import (
	"sync"

	"github.com/petervdpas/goopchat/internal/proto"
)

type UpdateKind int

const (
	// Reloaded: the timeline was replaced by fetched history.
	Reloaded UpdateKind = iota
	// Appended: Message was added to the end of the timeline.
	Appended
	// Read: the peer read our messages, or we read theirs.
	Read
	// Typing: the typing indicator changed; Typing holds the new value.
	Typing
)

// Update describes a change to the open conversation.
type Update struct {
	Kind         UpdateKind
	Conversation string
	Message      proto.Message
	Typing       string
}

// Handle is the live-update subscription of one selected conversation. It is
// released by Release, by the next Select, or by Coordinator.Close; after
// that its channel is closed and no more updates arrive.
type Handle struct {
	c    *Coordinator
	key  string
	gen  uint64
	ch   chan Update
	once sync.Once

	mu     sync.Mutex
	closed bool
}

func newHandle(c *Coordinator, key string, gen uint64) *Handle {
	return &Handle{c: c, key: key, gen: gen, ch: make(chan Update, 64)}
}

func (h *Handle) Conversation() string { return h.key }

// Updates delivers changes to the conversation. Updates are dropped when
// the reader falls behind; Timeline is always current.
func (h *Handle) Updates() <-chan Update { return h.ch }

// Release deselects the conversation if this handle is still the current
// one. It is safe to call more than once.
func (h *Handle) Release() {
	h.c.release(h)
	h.close()
}

func (h *Handle) Released() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *Handle) close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.ch)
		h.mu.Unlock()
	})
}

func (h *Handle) send(u Update) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	select {
	case h.ch <- u:
	default:
		log.Debugf("update for [%s] dropped, reader is behind", h.key)
	}
}

// publish hands u to the current handle if it is still for u's conversation.
func (c *Coordinator) publish(u Update) {
	c.mu.Lock()
	h := c.handle
	c.mu.Unlock()
	if h != nil && h.key == u.Conversation {
		h.send(u)
	}
}
