package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/petervdpas/goopchat/internal/proto"
)

const (
	defaultWriteWait  = 3 * time.Second
	defaultPingPeriod = 20 * time.Second

	// Inbound messages may carry inline image/audio attachments.
	readLimit = 8 << 20

	sendQueue = 256
)

// Options configures Dial.
type Options struct {
	URL    string // ws:// or wss:// endpoint of the relay
	UserID string
	Token  string // sent as the jwt cookie when set

	WriteWait  time.Duration
	PingPeriod time.Duration

	Dialer *websocket.Dialer
}

func (o *Options) withDefaults() {
	if o.WriteWait <= 0 {
		o.WriteWait = defaultWriteWait
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = defaultPingPeriod
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
}

// pongWait must exceed the ping period.
func (o *Options) pongWait() time.Duration { return o.PingPeriod * 5 / 4 }

// Conn is the websocket implementation of Channel.
type Conn struct {
	Mux

	opts Options
	ws   *websocket.Conn
	send    chan *proto.Frame
	closing chan struct{}
	done    chan struct{}

	mu          sync.Mutex
	closed      bool
	err         error
	once        sync.Once
	closingOnce sync.Once
}

// Dial opens the channel for opts.UserID and starts its pumps.
func Dial(ctx context.Context, opts Options) (*Conn, error) {
	opts.withDefaults()
	if opts.UserID == "" {
		return nil, fmt.Errorf("dial channel: empty user id")
	}

	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("dial channel: %w", err)
	}
	q := u.Query()
	q.Set("userId", opts.UserID)
	u.RawQuery = q.Encode()

	header := http.Header{}
	if opts.Token != "" {
		header.Set("Cookie", (&http.Cookie{Name: "jwt", Value: opts.Token}).String())
	}

	ws, resp, err := opts.Dialer.DialContext(ctx, u.String(), header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial channel %s: %w", u.Host, err)
	}

	c := &Conn{
		opts: opts,
		ws:   ws,
		send:    make(chan *proto.Frame, sendQueue),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	go c.writeLoop()
	log.Infof("channel open [%s] %s", opts.UserID, u.Host)
	return c, nil
}

// Emit queues an event for the relay.
func (c *Conn) Emit(event string, payload any) error {
	f, err := proto.NewFrame(event, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrUnavailable
	}

	select {
	case <-c.closing:
		return ErrUnavailable
	default:
	}

	select {
	case c.send <- f:
		return nil
	case <-c.done:
		return ErrUnavailable
	}
}

// Done is closed once the connection has terminated.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err reports why the connection terminated, nil after a clean Close.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close flushes queued events, sends a close frame and tears down the
// connection and every subscription.
func (c *Conn) Close() error {
	c.closingOnce.Do(func() { close(c.closing) })
	select {
	case <-c.done:
	case <-time.After(c.opts.WriteWait):
		c.shutdown(nil)
	}
	return nil
}

func (c *Conn) shutdown(cause error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.err = cause
		c.mu.Unlock()

		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.opts.WriteWait))
		_ = c.ws.Close()
		c.Mux.Close()

		if cause != nil {
			log.Warnf("channel closed [%s]: %v", c.opts.UserID, cause)
		} else {
			log.Infof("channel closed [%s]", c.opts.UserID)
		}
	})
}

func (c *Conn) readLoop() {
	pongWait := c.opts.pongWait()
	c.ws.SetReadLimit(readLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.shutdown(nil)
			} else {
				c.shutdown(fmt.Errorf("read: %w", err))
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		if msgType != websocket.TextMessage {
			log.Debugf("ignoring non-text message type %d", msgType)
			continue
		}
		var f proto.Frame
		if err := json.Unmarshal(msg, &f); err != nil || f.Event == "" {
			log.Warnf("malformed frame from relay: %v", err)
			continue
		}
		c.Dispatch(&f)
	}
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-c.closing:
			for {
				select {
				case f := <-c.send:
					if err := c.write(f); err != nil {
						c.shutdown(err)
						return
					}
				default:
					c.shutdown(nil)
					return
				}
			}
		case f := <-c.send:
			if err := c.write(f); err != nil {
				c.shutdown(err)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown(fmt.Errorf("ping: %w", err))
				return
			}
		}
	}
}

func (c *Conn) write(f *proto.Frame) error {
	b, err := json.Marshal(f)
	if err != nil {
		log.Errorf("encode %s: %v", f.Event, err)
		return nil
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
		return fmt.Errorf("write %s: %w", f.Event, err)
	}
	return nil
}
