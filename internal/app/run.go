package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/goopchat/internal/backend"
	"github.com/petervdpas/goopchat/internal/call"
	"github.com/petervdpas/goopchat/internal/channel"
	"github.com/petervdpas/goopchat/internal/config"
	"github.com/petervdpas/goopchat/internal/drawing"
	"github.com/petervdpas/goopchat/internal/feed"
	"github.com/petervdpas/goopchat/internal/msgcrypt"
	"github.com/petervdpas/goopchat/internal/notify"
	"github.com/petervdpas/goopchat/internal/presence"
	"github.com/petervdpas/goopchat/internal/proto"
	"github.com/petervdpas/goopchat/internal/session"
	"github.com/petervdpas/goopchat/internal/storage"
	"github.com/petervdpas/goopchat/internal/util"
)

var log = logging.Logger("app")

// Deps overrides the collaborators Login would otherwise build from config.
// Every field is optional.
type Deps struct {
	// Dir resolves relative paths in the config. Empty means the working
	// directory.
	Dir string
	// CfgPath is watched for live notify and log changes when set.
	CfgPath string

	Channel  channel.Channel
	Backend  feed.Backend
	Media    call.MediaSource
	Peers    call.PeerFactory
	Ringer   call.Ringer
	Notifier *notify.Notifier

	// Out receives the user-facing event lines. Defaults to stdout.
	Out io.Writer
}

// Client is one logged-in user: the channel plus every component bound to it.
type Client struct {
	cfg      config.Config
	selfID   string
	selfName string
	out      io.Writer

	ch       channel.Channel
	sub      *channel.Subscription
	db       *storage.DB
	notifier *notify.Notifier

	Presence *presence.Tracker
	Calls    *call.Manager
	Activity *session.Arbiter
	Feed     *feed.Coordinator

	// used by the command goroutine only
	pen     *drawing.Pointer
	erasing bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	once sync.Once
}

type Options struct {
	Dir         string // profile folder holding the config and cache
	Interactive bool   // prompt for settings when the config is new
	In          io.Reader
	Out         io.Writer
}

// Run logs the profile in, serves commands from In until it ends or ctx is
// done, then logs out.
func Run(ctx context.Context, opt Options) error {
	cfgPath := filepath.Join(opt.Dir, config.FileName)
	cfg, created, err := config.Ensure(cfgPath)
	if err != nil {
		return fmt.Errorf("config %s: %w", cfgPath, err)
	}
	if created && opt.Interactive {
		cfg = PromptInteractive(opt.Dir, cfgPath, cfg)
		if err := config.Save(cfgPath, cfg); err != nil {
			return err
		}
	}
	logBanner(opt.Dir, cfgPath)

	c, err := Login(ctx, cfg, Deps{Dir: opt.Dir, CfgPath: cfgPath, Out: opt.Out})
	if err != nil {
		return err
	}
	defer c.Logout()

	if _, err := c.Feed.LoadRecents(ctx); err != nil {
		log.Warnf("recents: %s", err)
	}
	in := opt.In
	if in == nil {
		in = os.Stdin
	}
	c.printf("logged in as %s, /help for commands", c.selfName)
	return c.Run(ctx, in)
}

// Login builds the process-wide client and starts its dispatch loop.
func Login(ctx context.Context, cfg config.Config, deps Deps) (*Client, error) {
	c := &Client{cfg: cfg, selfName: cfg.Identity.Name, out: deps.Out, pen: drawing.NewPointer(drawing.Viewport{})}
	if c.out == nil {
		c.out = os.Stdout
	}
	if err := claim(c); err != nil {
		return nil, err
	}
	if err := c.start(ctx, deps); err != nil {
		c.shutdown()
		release(c)
		return nil, err
	}
	publish(c)
	log.Infof("logged in as [%s]", c.selfID)
	return c, nil
}

func (c *Client) start(ctx context.Context, deps Deps) error {
	cfg := c.cfg
	cfg.ApplyLogLevels()

	c.selfID = cfg.Identity.UserID
	if c.selfID == "" && cfg.Identity.Token != "" {
		id, err := backend.UserIDFromToken(cfg.Identity.Token)
		if err != nil {
			return fmt.Errorf("identity: %w", err)
		}
		c.selfID = id
	}
	if c.selfID == "" {
		return errors.New("identity: user_id or token is required")
	}
	if c.selfName == "" {
		c.selfName = c.selfID
	}

	cipher, err := msgcrypt.New(cfg.Crypto.Scheme, cfg.SecretKey())
	if err != nil {
		return err
	}

	c.ctx, c.cancel = context.WithCancel(context.Background())

	c.ch = deps.Channel
	if c.ch == nil {
		dctx, cancel := context.WithTimeout(ctx, util.DefaultConnectTimeout)
		conn, err := channel.Dial(dctx, channel.Options{
			URL:        cfg.Relay.URL,
			UserID:     c.selfID,
			Token:      cfg.Identity.Token,
			WriteWait:  cfg.WriteWait(),
			PingPeriod: cfg.PingPeriod(),
		})
		cancel()
		if err != nil {
			return fmt.Errorf("dial relay: %w", err)
		}
		c.ch = conn
	}

	api := deps.Backend
	if api == nil {
		api = backend.NewClient(cfg.API.BaseURL, cfg.Identity.Token, cfg.APITimeout())
	}

	var store feed.Store
	if cfg.Storage.DBPath != "" {
		db, err := storage.Open(util.ResolvePath(deps.Dir, cfg.Storage.DBPath))
		if err != nil {
			log.Warnf("local cache disabled: %s", err)
		} else {
			c.db = db
			store = db.Scoped(c.selfID)
		}
	}

	c.notifier = deps.Notifier
	if c.notifier == nil {
		c.notifier = notify.New(c.out, cfg.Notify.Muted, cfg.Notify.Sound)
	}

	media := deps.Media
	if media == nil {
		media = call.DeviceSource{ReceiveOnly: true}
	}
	peers := deps.Peers
	if peers == nil {
		pf, err := call.NewPionFactory(cfg.Call.ICEServers)
		if err != nil {
			return fmt.Errorf("peer factory: %w", err)
		}
		peers = pf
	}
	ringer := deps.Ringer
	if ringer == nil {
		ringer = notify.NewRinger(c.out, notify.RingInterval)
	}

	c.Presence = presence.NewTracker()
	c.Calls = call.New(c.ch, call.Options{
		SelfID:      c.selfID,
		SelfName:    c.selfName,
		Media:       media,
		Peers:       peers,
		Ringer:      ringer,
		RingTimeout: cfg.RingTimeout(),
	})
	c.Feed = feed.New(c.ch, api, cipher, feed.Options{
		SelfID:      c.selfID,
		TypingIdle:  cfg.TypingIdle(),
		TimelineCap: cfg.Feed.TimelineCap,
		Notifier:    c.notifier,
		Store:       store,
	})
	c.Activity = session.New(c.ch, session.Options{
		SelfID:     c.selfID,
		SelfName:   c.selfName,
		AutoFollow: c.follow,
	})

	events := []string{proto.EventOnlineUsers, proto.EventCallUser, proto.EventCallAccepted, proto.EventEndCall}
	events = append(events, session.Events...)
	events = append(events, feed.Events...)
	c.sub = c.ch.Subscribe(events...)

	calls, cancelCalls := c.Calls.Subscribe()
	c.wg.Add(2)
	go c.dispatch()
	go c.watchCalls(calls, cancelCalls)

	if deps.CfgPath != "" {
		if err := config.Watch(c.ctx, deps.CfgPath, c.reconfigure); err != nil {
			log.Warnf("config watch: %s", err)
		}
	}

	// Ask for the presence snapshot; the relay also sends one on connect.
	if err := c.ch.Emit(proto.EventOnlineUsers, nil); err != nil {
		log.Debugf("request presence: %s", err)
	}
	return nil
}

func (c *Client) SelfID() string   { return c.selfID }
func (c *Client) SelfName() string { return c.selfName }

// ── Dispatch ─────────────────────────────────────────────────────────────────

// dispatch delivers every inbound frame, in order, on one goroutine.
func (c *Client) dispatch() {
	defer c.wg.Done()
	for f := range c.sub.C() {
		if err := c.route(f); err != nil {
			log.Warnf("%s: %s", f.Event, err)
		}
	}
	log.Debugf("dispatch stopped")
}

func (c *Client) route(f *proto.Frame) error {
	switch f.Event {
	case proto.EventOnlineUsers:
		var ids []string
		if err := f.Decode(&ids); err != nil {
			return err
		}
		evt := c.Presence.Replace(ids)
		for _, id := range evt.Joined {
			if id != c.selfID {
				c.printf("* %s is online", id)
			}
		}
		for _, id := range evt.Left {
			c.printf("* %s went offline", id)
		}
		return nil
	case proto.EventCallUser:
		var p proto.CallUser
		if err := f.Decode(&p); err != nil {
			return err
		}
		c.Calls.OnCallUser(p)
		return nil
	case proto.EventCallAccepted:
		var p proto.CallAccepted
		if err := f.Decode(&p); err != nil {
			return err
		}
		return c.Calls.OnCallAccepted(p)
	case proto.EventEndCall:
		var p proto.EndCall
		if err := f.Decode(&p); err != nil {
			return err
		}
		c.Calls.OnRemoteEnd(p)
		return nil
	}

	if ok, err := c.Activity.HandleFrame(f); ok {
		return err
	}
	if ok, err := c.Feed.HandleFrame(c.ctx, f); ok {
		return err
	}
	log.Debugf("unhandled %s", f.Event)
	return nil
}

// follow switches the open conversation to a peer that opened an activity.
func (c *Client) follow(n session.Notice) {
	name := n.PeerName
	if name == "" {
		name = n.Peer
	}
	c.printf("* %s opened %s with you", name, n.Kind)
	if c.Feed.Selected() == n.Peer {
		return
	}
	if _, err := c.Select(c.ctx, n.Peer); err != nil {
		log.Warnf("follow [%s]: %s", n.Peer, err)
	}
}

// Select opens a conversation and prints its live updates.
func (c *Client) Select(ctx context.Context, peer string) (*feed.Handle, error) {
	h, err := c.Feed.Select(ctx, peer)
	if h != nil {
		c.wg.Add(1)
		go c.watchFeed(h)
	}
	return h, err
}

func (c *Client) watchFeed(h *feed.Handle) {
	defer c.wg.Done()
	for {
		var u feed.Update
		select {
		case <-c.ctx.Done():
			return
		case next, ok := <-h.Updates():
			if !ok {
				return
			}
			u = next
		}
		switch u.Kind {
		case feed.Reloaded:
			c.printf("-- %s: %d messages", u.Conversation, len(c.Feed.Timeline()))
		case feed.Appended:
			c.printf("<%s> %s", u.Message.SenderID, describe(u.Message))
		case feed.Read:
			c.printf("-- %s: read", u.Conversation)
		case feed.Typing:
			if u.Typing != "" {
				c.printf("-- %s is typing", u.Typing)
			}
		}
	}
}

func (c *Client) watchCalls(events <-chan call.Event, cancel func()) {
	defer c.wg.Done()
	defer cancel()
	for {
		select {
		case <-c.ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			c.onCallEvent(evt)
		}
	}
}

func (c *Client) onCallEvent(evt call.Event) {
	switch evt.Type {
	case call.EventIncoming:
		c.printf("* incoming %s call from %s (/answer or /decline)", evt.Kind, evt.Peer)
	case call.EventMissed:
		c.printf("* missed %s call from %s (busy)", evt.Kind, evt.Peer)
	case call.EventActive:
		c.printf("* call with %s is active", evt.Peer)
	case call.EventEnded:
		c.printf("* call with %s ended: %s", evt.Peer, evt.Reason)
	case call.EventError:
		c.printf("* call error: %s", evt.Err)
	case call.EventRemoteTrack:
		if evt.Track == nil || c.cfg.Call.RecordDir == "" {
			return
		}
		dir := c.cfg.Call.RecordDir
		rt := *evt.Track
		go func() {
			path, err := call.RecordTrack(c.ctx, rt, dir)
			if err != nil {
				log.Warnf("record [%s]: %s", rt.ID, err)
				return
			}
			log.Infof("recorded %s track to %s", rt.Kind, path)
		}()
	}
}

// reconfigure applies the live-reloadable sections of a changed config.
func (c *Client) reconfigure(cfg config.Config) {
	c.notifier.Configure(cfg.Notify.Muted, cfg.Notify.Sound)
	cfg.ApplyLogLevels()
}

// ── Logout ───────────────────────────────────────────────────────────────────

// Logout ends any call, closes any activity, releases the open conversation
// and closes the channel. It is safe to call more than once.
func (c *Client) Logout() error {
	var err error
	c.once.Do(func() {
		err = c.shutdown()
		release(c)
		log.Infof("logged out [%s]", c.selfID)
	})
	return err
}

func (c *Client) shutdown() error {
	var errs []error
	if c.Calls != nil {
		if err := c.Calls.Close(); err != nil {
			errs = append(errs, fmt.Errorf("end call: %w", err))
		}
	}
	if c.Activity != nil {
		if err := c.Activity.Close(); err != nil && !errors.Is(err, session.ErrNoActivity) {
			errs = append(errs, err)
		}
	}
	if c.Feed != nil {
		c.Feed.Close()
	}
	if c.sub != nil {
		c.sub.Close()
	}
	if c.ch != nil {
		if err := c.ch.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close channel: %w", err))
		}
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Client) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format+"\n", args...)
}

func describe(m proto.Message) string {
	text := m.Text
	if m.IsInvisible {
		text = "(invisible) " + text
	}
	if m.Image != "" {
		text += " [image]"
	}
	if m.Audio != "" {
		text += fmt.Sprintf(" [audio %ds]", m.Duration)
	}
	return text
}
