package feed

import (
	"context"

	"github.com/petervdpas/goopchat/internal/proto"
	"github.com/petervdpas/goopchat/internal/util"
)

// Events lists the channel events the coordinator consumes.
var Events = []string{
	proto.EventNewMessage,
	proto.EventMessagesRead,
	proto.EventDisplayTyping,
	proto.EventHideTyping,
}

// HandleFrame routes one channel frame. It reports false for events the
// coordinator does not consume.
func (c *Coordinator) HandleFrame(ctx context.Context, f *proto.Frame) (bool, error) {
	switch f.Event {
	case proto.EventNewMessage:
		var m proto.Message
		if err := f.Decode(&m); err != nil {
			return true, err
		}
		c.OnRemoteMessage(ctx, m)
	case proto.EventMessagesRead:
		var p proto.MessagesRead
		if err := f.Decode(&p); err != nil {
			return true, err
		}
		c.OnMessagesRead(p)
	case proto.EventDisplayTyping, proto.EventHideTyping:
		var p proto.TypingNotice
		if err := f.Decode(&p); err != nil {
			return true, err
		}
		c.OnTyping(p.SenderID, f.Event == proto.EventDisplayTyping)
	default:
		return false, nil
	}
	return true, nil
}

// ConversationOf is the conversation a message belongs to: its group when
// it has one, otherwise its sender.
func ConversationOf(m proto.Message) string {
	if m.ConversationID != "" {
		return m.ConversationID
	}
	return m.SenderID
}

// OnRemoteMessage takes a new-message event. Our own messages echoed back
// are ignored. A message for the open conversation is decrypted, appended
// and acknowledged with a read receipt; any other one counts as unread and
// raises a notification.
func (c *Coordinator) OnRemoteMessage(ctx context.Context, m proto.Message) {
	if m.SenderID == "" || m.SenderID == c.opts.SelfID {
		return
	}
	key := ConversationOf(m)
	if m.Text != "" {
		m.Text = c.decrypt(m.Text)
	}

	c.mu.Lock()
	open := key == c.selected
	gen := c.gen
	n := 0
	if open {
		c.timeline.Push(m)
	} else {
		c.unread[key]++
		n = c.unread[key]
	}
	c.mu.Unlock()

	if !open {
		c.persistUnread(key, n)
		log.Debugf("message for [%s], unread %d", key, n)
		if c.opts.Notifier != nil {
			c.opts.Notifier.Message(key, m.SenderID)
		}
		return
	}

	c.publish(Update{Kind: Appended, Conversation: key, Message: m})
	go c.markRead(ctx, key, gen)
}

// markRead sends the read receipt for key and, if key is still open, flips
// the peer's messages to read.
func (c *Coordinator) markRead(ctx context.Context, key string, gen uint64) {
	ctx, cancel := context.WithTimeout(ctx, util.ShortTimeout)
	defer cancel()
	if err := c.api.MarkRead(ctx, key); err != nil {
		log.Warnf("mark [%s] read: %s", key, err)
		return
	}
	n := 0
	c.applyIf(key, gen, func() {
		n = c.flipRead(func(m proto.Message) bool { return m.SenderID != c.opts.SelfID })
	})
	if n > 0 {
		c.publish(Update{Kind: Read, Conversation: key})
	}
}

// OnMessagesRead marks our messages read once the open conversation's peer
// has read them.
func (c *Coordinator) OnMessagesRead(p proto.MessagesRead) {
	key := c.Selected()
	if key == "" || p.ReadBy != key {
		return
	}
	if c.flipRead(func(m proto.Message) bool { return m.SenderID == c.opts.SelfID }) > 0 {
		c.publish(Update{Kind: Read, Conversation: key})
	}
}

func (c *Coordinator) flipRead(match func(proto.Message) bool) int {
	return c.timeline.Update(func(m proto.Message) (proto.Message, bool) {
		if m.IsRead || !match(m) {
			return m, false
		}
		m.IsRead = true
		return m, true
	})
}

// OnTyping shows or hides the typing indicator. Only the open
// conversation's peer is tracked.
func (c *Coordinator) OnTyping(senderID string, typing bool) {
	c.mu.Lock()
	if c.selected == "" || senderID != c.selected {
		c.mu.Unlock()
		return
	}
	prev := c.typing
	if typing {
		c.typing = senderID
	} else if c.typing == senderID {
		c.typing = ""
	}
	now, key := c.typing, c.selected
	c.mu.Unlock()
	if now != prev {
		c.publish(Update{Kind: Typing, Conversation: key, Typing: now})
	}
}
