package feed

import (
	"time"

	"github.com/petervdpas/goopchat/internal/proto"
)

// LocalTyping tells the open conversation's peer we are typing. Each call
// re-arms the idle timer; stop-typing follows when it fires or when a
// message is sent.
func (c *Coordinator) LocalTyping() error {
	to := c.Selected()
	if to == "" {
		return ErrNoConversation
	}
	if err := c.em.Emit(proto.EventTyping, proto.Typing{SenderID: c.opts.SelfID, ReceiverID: to}); err != nil {
		return err
	}

	c.tmu.Lock()
	defer c.tmu.Unlock()
	if c.typingTimer != nil {
		c.typingTimer.Stop()
	}
	c.typingGen++
	gen := c.typingGen
	c.typingTo = to
	c.typingTimer = time.AfterFunc(c.opts.TypingIdle, func() { c.typingIdle(gen) })
	return nil
}

func (c *Coordinator) typingIdle(gen uint64) {
	c.tmu.Lock()
	if gen != c.typingGen || c.typingTimer == nil {
		c.tmu.Unlock()
		return
	}
	to := c.typingTo
	c.typingTimer, c.typingTo = nil, ""
	c.tmu.Unlock()
	c.emitStopTyping(to)
}

// stopLocalTyping cancels a pending idle timer and sends stop-typing now.
func (c *Coordinator) stopLocalTyping() {
	c.tmu.Lock()
	if c.typingTimer == nil {
		c.tmu.Unlock()
		return
	}
	c.typingTimer.Stop()
	c.typingGen++
	to := c.typingTo
	c.typingTimer, c.typingTo = nil, ""
	c.tmu.Unlock()
	c.emitStopTyping(to)
}

func (c *Coordinator) emitStopTyping(to string) {
	if err := c.em.Emit(proto.EventStopTyping, proto.Typing{SenderID: c.opts.SelfID, ReceiverID: to}); err != nil {
		log.Debugf("stop-typing to [%s]: %s", to, err)
	}
}
