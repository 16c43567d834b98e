package relay

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/petervdpas/goopchat/internal/proto"
)

// client is one user connection.
type client struct {
	id     string
	userID string
	srv    *Server
	ws     *websocket.Conn

	mu     sync.Mutex
	send   chan []byte
	done   chan struct{}
	closed bool
}

// enqueue never blocks; a client that cannot keep up is dropped.
func (c *client) enqueue(b []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- b:
		return true
	default:
		log.Warnf("send queue full [%s] %s, dropping connection", c.userID, c.id)
		go c.close()
		return false
	}
}

func (c *client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(c.srv.opts.WriteWait))
	_ = c.ws.Close()
}

func (c *client) readLoop() {
	defer func() {
		c.close()
		c.srv.unregister(c)
	}()

	pongWait := c.srv.opts.PingPeriod * 5 / 4
	c.ws.SetReadLimit(readLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, msg, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debugf("read [%s]: %v", c.userID, err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		if msgType != websocket.TextMessage {
			continue
		}

		var f proto.Frame
		if err := json.Unmarshal(msg, &f); err != nil || f.Event == "" {
			log.Debugf("malformed frame from [%s]: %v", c.userID, err)
			continue
		}
		c.srv.route(c.userID, &f)
	}
}

func (c *client) writeLoop() {
	ticker := time.NewTicker(c.srv.opts.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case b := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.srv.opts.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				log.Debugf("write [%s]: %v", c.userID, err)
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.srv.opts.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}
