// Package relay is a single-node event relay: one websocket per user,
// peer-addressed events forwarded by their "to" field, presence snapshots
// pushed to everyone on every connect and disconnect.
package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	logging "github.com/ipfs/go-log/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/petervdpas/goopchat/internal/proto"
)

var log = logging.Logger("relay")

// ErrOffline is returned by Push when the user has no live connection.
var ErrOffline = errors.New("user offline")

const (
	defaultWriteWait  = 3 * time.Second
	defaultPingPeriod = 20 * time.Second

	readLimit  = 8 << 20
	clientSend = 256
)

type Options struct {
	WriteWait  time.Duration
	PingPeriod time.Duration
}

// Server routes frames between connected users.
type Server struct {
	opts     Options
	upgrader websocket.Upgrader
	metrics  *metrics

	mu      sync.RWMutex
	clients map[string]*client
	closed  bool
}

func New(opts Options) *Server {
	if opts.WriteWait <= 0 {
		opts.WriteWait = defaultWriteWait
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = defaultPingPeriod
	}
	return &Server{
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		metrics: newMetrics(),
		clients: make(map[string]*client),
	}
}

// Routes returns a mux serving the socket on /socket and metrics on /metrics.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/socket", s)
	mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))
	return mux
}

// ServeHTTP upgrades the request. The user id comes from the userId query
// parameter.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "missing userId", http.StatusBadRequest)
		return
	}

	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		http.Error(w, "relay stopped", http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("upgrade [%s]: %v", userID, err)
		return
	}

	c := &client{
		id:     uuid.NewString(),
		userID: userID,
		srv:    s,
		ws:     ws,
		send:   make(chan []byte, clientSend),
		done:   make(chan struct{}),
	}
	s.register(c)
	go c.writeLoop()
	c.readLoop()
}

// Push delivers a server-originated event to userID, the way the REST
// backend announces new-message and messages-read.
func (s *Server) Push(userID, event string, payload any) error {
	f, err := proto.NewFrame(event, payload)
	if err != nil {
		return err
	}
	if !s.deliver(userID, f) {
		return fmt.Errorf("push %s to %s: %w", event, userID, ErrOffline)
	}
	return nil
}

// Online returns the sorted ids of connected users.
func (s *Server) Online() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close disconnects everyone.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.clients = make(map[string]*client)
	s.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

func (s *Server) register(c *client) {
	s.mu.Lock()
	prev := s.clients[c.userID]
	s.clients[c.userID] = c
	s.mu.Unlock()

	if prev != nil {
		log.Infof("replacing connection [%s] %s -> %s", c.userID, prev.id, c.id)
		prev.close()
	}
	s.metrics.connections.Set(float64(len(s.Online())))
	log.Infof("connected [%s] %s", c.userID, c.id)
	s.broadcastPresence()
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	cur, ok := s.clients[c.userID]
	removed := ok && cur == c
	if removed {
		delete(s.clients, c.userID)
	}
	s.mu.Unlock()

	if !removed {
		return
	}
	s.metrics.connections.Set(float64(len(s.Online())))
	log.Infof("disconnected [%s] %s", c.userID, c.id)
	s.broadcastPresence()
}

func (s *Server) broadcastPresence() {
	f, err := proto.NewFrame(proto.EventOnlineUsers, s.Online())
	if err != nil {
		return
	}
	b, _ := json.Marshal(f)

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		c.enqueue(b)
	}
}

func (s *Server) deliver(userID string, f *proto.Frame) bool {
	s.mu.RLock()
	c := s.clients[userID]
	s.mu.RUnlock()
	if c == nil {
		s.metrics.undeliverable.WithLabelValues(eventLabel(f.Event)).Inc()
		log.Debugf("drop %s: [%s] offline", f.Event, userID)
		return false
	}
	b, err := json.Marshal(f)
	if err != nil {
		return false
	}
	return c.enqueue(b)
}

// route applies the relay's event mapping to a frame sent by from.
func (s *Server) route(from string, f *proto.Frame) {
	s.metrics.frames.WithLabelValues(eventLabel(f.Event)).Inc()

	switch f.Event {
	case proto.EventAnswerCall:
		var a proto.AnswerCall
		if err := f.Decode(&a); err != nil || a.To == "" {
			log.Debugf("bad %s from [%s]: %v", f.Event, from, err)
			return
		}
		out, _ := proto.NewFrame(proto.EventCallAccepted, proto.CallAccepted{Signal: a.Signal, From: from})
		s.deliver(a.To, out)

	case proto.EventTyping, proto.EventStopTyping:
		var t proto.Typing
		if err := f.Decode(&t); err != nil || t.ReceiverID == "" {
			log.Debugf("bad %s from [%s]: %v", f.Event, from, err)
			return
		}
		event := proto.EventDisplayTyping
		if f.Event == proto.EventStopTyping {
			event = proto.EventHideTyping
		}
		out, _ := proto.NewFrame(event, proto.TypingNotice{SenderID: from})
		s.deliver(t.ReceiverID, out)

	case proto.EventOnlineUsers:
		out, _ := proto.NewFrame(proto.EventOnlineUsers, s.Online())
		s.deliver(from, out)

	default:
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(f.Data, &fields); err != nil {
			log.Debugf("bad %s from [%s]: %v", f.Event, from, err)
			return
		}
		var to string
		if raw, ok := fields["to"]; ok {
			_ = json.Unmarshal(raw, &to)
		}
		if to == "" {
			log.Debugf("drop %s from [%s]: no recipient", f.Event, from)
			return
		}
		fields["from"], _ = json.Marshal(from)
		data, err := json.Marshal(fields)
		if err != nil {
			return
		}
		s.deliver(to, &proto.Frame{Event: f.Event, Data: data})
	}
}

// ── metrics ──────────────────────────────────────────────────────────────────

type metrics struct {
	registry      *prometheus.Registry
	connections   prometheus.Gauge
	frames        *prometheus.CounterVec
	undeliverable *prometheus.CounterVec
}

// eventLabel keeps metric labels to the event catalog; clients may send any
// event name.
func eventLabel(event string) string {
	if proto.Known(event) {
		return event
	}
	return "other"
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "goopchat",
			Subsystem: "relay",
			Name:      "connections",
			Help:      "Connected users.",
		}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "goopchat",
			Subsystem: "relay",
			Name:      "frames_total",
			Help:      "Frames received from clients, by event.",
		}, []string{"event"}),
		undeliverable: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "goopchat",
			Subsystem: "relay",
			Name:      "undeliverable_total",
			Help:      "Frames dropped because the recipient was offline.",
		}, []string{"event"}),
	}
	m.registry.MustRegister(m.connections, m.frames, m.undeliverable)
	return m
}
