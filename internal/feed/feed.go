// Package feed keeps the timeline of the open conversation, the unread index
// of every other conversation, the typing indicator and the recent
// conversation list. History and sends go through Backend; message bodies
// pass through Cipher on the way in and out.
package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/goopchat/internal/backend"
	"github.com/petervdpas/goopchat/internal/proto"
	"github.com/petervdpas/goopchat/internal/util"
)

var log = logging.Logger("feed")

var (
	ErrHistoryFetch   = errors.New("history fetch failed")
	ErrSendFailed     = errors.New("send failed")
	ErrNoConversation = errors.New("no conversation selected")
	ErrEmptyMessage   = errors.New("message is empty")
)

const (
	DefaultTypingIdle  = 2 * time.Second
	DefaultTimelineCap = 500
)

type Emitter interface {
	Emit(event string, payload any) error
}

// Backend is the chat API.
type Backend interface {
	Messages(ctx context.Context, peerID string) ([]proto.Message, error)
	Send(ctx context.Context, peerID string, msg backend.Outgoing) (proto.Message, error)
	MarkRead(ctx context.Context, peerID string) error
	Users(ctx context.Context) ([]backend.User, error)
	SearchUsers(ctx context.Context, query string) ([]backend.User, error)
	RegisterPush(ctx context.Context, sub backend.PushSubscription) error
}

// Cipher transforms message bodies. Decrypt returns its input when it
// cannot decrypt it.
type Cipher interface {
	Encrypt(plain string) (string, error)
	Decrypt(value string) string
}

// Notifier is told about messages for conversations that are not open.
type Notifier interface {
	Message(conversation, sender string)
}

// Store persists the unread index and the recent list between runs.
type Store interface {
	UnreadCounts() (map[string]int, error)
	SetUnread(conversation string, n int) error
	Recents() ([]backend.User, error)
	SaveRecents(users []backend.User) error
}

type Options struct {
	SelfID string

	TypingIdle  time.Duration
	TimelineCap int

	Notifier Notifier
	Store    Store
}

// Draft is a message about to be sent, in plaintext.
type Draft struct {
	Text        string
	Image       string
	Audio       string
	Duration    int
	IsInvisible bool
}

func (d Draft) empty() bool {
	return d.Text == "" && d.Image == "" && d.Audio == ""
}

// Coordinator merges sends and channel events into per-conversation state.
type Coordinator struct {
	em     Emitter
	api    Backend
	cipher Cipher
	opts   Options

	mu       sync.Mutex
	selected string
	gen      uint64
	timeline *util.RingBuffer[proto.Message]
	handle   *Handle
	unread   map[string]int
	recents  []backend.User
	search   []backend.User
	typing   string // peer currently typing to us

	tmu         sync.Mutex
	typingTimer *time.Timer
	typingTo    string
	typingGen   uint64
}

func New(em Emitter, api Backend, cipher Cipher, opts Options) *Coordinator {
	if opts.TypingIdle <= 0 {
		opts.TypingIdle = DefaultTypingIdle
	}
	if opts.TimelineCap <= 0 {
		opts.TimelineCap = DefaultTimelineCap
	}
	c := &Coordinator{
		em:       em,
		api:      api,
		cipher:   cipher,
		opts:     opts,
		timeline: util.NewRingBuffer[proto.Message](opts.TimelineCap),
		unread:   map[string]int{},
	}
	if opts.Store != nil {
		if counts, err := opts.Store.UnreadCounts(); err != nil {
			log.Warnf("load unread index: %s", err)
		} else {
			c.unread = counts
		}
		if recents, err := opts.Store.Recents(); err != nil {
			log.Warnf("load recents: %s", err)
		} else {
			c.recents = recents
		}
	}
	return c
}

// Selected returns the open conversation, empty when none is.
func (c *Coordinator) Selected() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

// Timeline returns the open conversation's messages, oldest first.
func (c *Coordinator) Timeline() []proto.Message {
	return c.timeline.Snapshot()
}

// TypingUser returns the peer shown as typing, empty when nobody is.
func (c *Coordinator) TypingUser() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.typing
}

// ── Selection ────────────────────────────────────────────────────────────────

// Select opens conversation key: its unread count drops to zero, the
// previous handle is released, and history is fetched. The returned handle
// stays valid until Release or the next Select. A history failure still
// returns the handle along with the error.
func (c *Coordinator) Select(ctx context.Context, key string) (*Handle, error) {
	if key == "" {
		return nil, fmt.Errorf("select: %w", ErrNoConversation)
	}
	c.stopLocalTyping()

	c.mu.Lock()
	prev := c.handle
	c.gen++
	c.selected = key
	c.typing = ""
	c.timeline.Replace(nil)
	h := newHandle(c, key, c.gen)
	c.handle = h
	cleared := c.unread[key] != 0
	delete(c.unread, key)
	c.mu.Unlock()

	if prev != nil {
		prev.close()
	}
	if cleared {
		c.persistUnread(key, 0)
	}
	log.Debugf("selected [%s]", key)

	if _, err := c.GetMessages(ctx, key); err != nil {
		return h, err
	}
	return h, nil
}

// Deselect closes the open conversation.
func (c *Coordinator) Deselect() {
	c.mu.Lock()
	h := c.handle
	c.mu.Unlock()
	if h != nil {
		h.Release()
	}
}

func (c *Coordinator) release(h *Handle) {
	c.mu.Lock()
	if c.handle != h {
		c.mu.Unlock()
		return
	}
	c.handle = nil
	c.selected = ""
	c.typing = ""
	c.gen++
	c.timeline.Replace(nil)
	c.mu.Unlock()
	c.stopLocalTyping()
	h.close()
}

// applyIf runs fn under the lock when gen is still the live selection of key.
func (c *Coordinator) applyIf(key string, gen uint64, fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selected != key || c.gen != gen {
		return false
	}
	fn()
	return true
}

// ── History ──────────────────────────────────────────────────────────────────

// GetMessages fetches and decrypts the history of key. When key is the open
// conversation the timeline is replaced; on failure it is left as it was.
func (c *Coordinator) GetMessages(ctx context.Context, key string) ([]proto.Message, error) {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()

	msgs, err := c.api.Messages(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: conversation %s: %w", ErrHistoryFetch, key, err)
	}
	for i := range msgs {
		msgs[i].Text = c.decrypt(msgs[i].Text)
	}
	if c.applyIf(key, gen, func() { c.timeline.Replace(msgs) }) {
		c.publish(Update{Kind: Reloaded, Conversation: key})
	} else {
		log.Debugf("history of [%s] arrived after switching away", key)
	}
	return msgs, nil
}

// ── Send ─────────────────────────────────────────────────────────────────────

// Send encrypts and submits d to the open conversation. The server's copy,
// decrypted, is appended to the timeline. A failure leaves the timeline
// unchanged.
func (c *Coordinator) Send(ctx context.Context, d Draft) (proto.Message, error) {
	if d.empty() {
		return proto.Message{}, ErrEmptyMessage
	}
	c.mu.Lock()
	key, gen := c.selected, c.gen
	c.mu.Unlock()
	if key == "" {
		return proto.Message{}, ErrNoConversation
	}

	c.stopLocalTyping()

	text := d.Text
	if text != "" && c.cipher != nil {
		enc, err := c.cipher.Encrypt(text)
		if err != nil {
			return proto.Message{}, fmt.Errorf("%w: encrypt: %w", ErrSendFailed, err)
		}
		text = enc
	}
	ack, err := c.api.Send(ctx, key, backend.Outgoing{
		Text:        text,
		Image:       d.Image,
		Audio:       d.Audio,
		Duration:    d.Duration,
		IsInvisible: d.IsInvisible,
	})
	if err != nil {
		return proto.Message{}, fmt.Errorf("%w: conversation %s: %w", ErrSendFailed, key, err)
	}
	if ack.SenderID == "" {
		ack.SenderID = c.opts.SelfID
	}
	if ack.Text == text {
		ack.Text = d.Text
	} else {
		ack.Text = c.decrypt(ack.Text)
	}

	if c.applyIf(key, gen, func() { c.timeline.Push(ack) }) {
		c.publish(Update{Kind: Appended, Conversation: key, Message: ack})
	}
	c.touchRecent(key)
	return ack, nil
}

// touchRecent puts key at the front of the recent list when it is missing.
func (c *Coordinator) touchRecent(key string) {
	c.mu.Lock()
	for _, u := range c.recents {
		if u.ID == key {
			c.mu.Unlock()
			return
		}
	}
	var entry backend.User
	for _, u := range c.search {
		if u.ID == key {
			entry = u
			break
		}
	}
	if entry.ID == "" {
		entry = backend.User{ID: key}
	}
	c.recents = append([]backend.User{entry}, c.recents...)
	recents := append([]backend.User(nil), c.recents...)
	c.mu.Unlock()
	c.persistRecents(recents)
}

func (c *Coordinator) decrypt(s string) string {
	if s == "" || c.cipher == nil {
		return s
	}
	return c.cipher.Decrypt(s)
}

// ── Recents and search ───────────────────────────────────────────────────────

// Recents returns the recent conversation list, most recent first.
func (c *Coordinator) Recents() []backend.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]backend.User(nil), c.recents...)
}

// LoadRecents refreshes the recent list from the server. On failure the
// cached list is kept.
func (c *Coordinator) LoadRecents(ctx context.Context) ([]backend.User, error) {
	users, err := c.api.Users(ctx)
	if err != nil {
		return c.Recents(), fmt.Errorf("load recents: %w", err)
	}
	c.mu.Lock()
	c.recents = append([]backend.User(nil), users...)
	c.mu.Unlock()
	c.persistRecents(users)
	return users, nil
}

// Search looks users up; results are kept apart from the recent list.
func (c *Coordinator) Search(ctx context.Context, query string) ([]backend.User, error) {
	if query == "" {
		return nil, nil
	}
	users, err := c.api.SearchUsers(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	c.mu.Lock()
	c.search = users
	c.mu.Unlock()
	return users, nil
}

func (c *Coordinator) SearchResults() []backend.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]backend.User(nil), c.search...)
}

func (c *Coordinator) RegisterPush(ctx context.Context, sub backend.PushSubscription) error {
	if sub.Endpoint == "" {
		return errors.New("register push: empty endpoint")
	}
	if err := c.api.RegisterPush(ctx, sub); err != nil {
		return fmt.Errorf("register push: %w", err)
	}
	return nil
}

// Close releases the open conversation and stops the typing timer.
func (c *Coordinator) Close() {
	c.Deselect()
	c.stopLocalTyping()
}

func (c *Coordinator) persistRecents(users []backend.User) {
	if c.opts.Store == nil {
		return
	}
	if err := c.opts.Store.SaveRecents(users); err != nil {
		log.Warnf("save recents: %s", err)
	}
}
