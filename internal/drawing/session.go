// Package drawing keeps two peers' canvases in step by streaming stroke
// segments. Nothing is persisted; a late joiner sees only what is drawn after
// it joined.
package drawing

import (
	"errors"
	"sync"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/goopchat/internal/proto"
)

var log = logging.Logger("drawing")

// ErrNotDrawer rejects local strokes from a guesser.
var ErrNotDrawer = errors.New("only the drawer may draw")

var ErrInvalidStroke = errors.New("stroke has non-finite values")

type Emitter interface {
	Emit(event string, payload any) error
}

// Role decides who may emit strokes.
type Role int

const (
	// Free lets both peers draw (the whiteboard).
	Free Role = iota
	// Drawer draws; the peer watches.
	Drawer
	// Guesser watches; local strokes are refused.
	Guesser
)

// Events names the wire events a session uses. An empty Clear keeps clears
// local.
type Events struct {
	Draw  string
	Clear string
}

var (
	WhiteboardEvents = Events{Draw: proto.EventWhiteboardDraw, Clear: proto.EventWhiteboardClear}
	PictionaryEvents = Events{Draw: proto.EventPictionaryDraw}
)

// Session is one shared canvas with one peer.
type Session struct {
	em      Emitter
	peer    string
	events  Events
	surface *Surface

	mu      sync.Mutex
	role    Role
	strokes int
	onPaint func(Stroke, bool)
}

func NewSession(em Emitter, peer string, events Events, role Role, surface *Surface) *Session {
	if surface == nil {
		surface = NewSurface(LogicalWidth, LogicalHeight)
	}
	return &Session{em: em, peer: peer, events: events, role: role, surface: surface}
}

func (s *Session) Peer() string      { return s.peer }
func (s *Session) Surface() *Surface { return s.surface }

func (s *Session) Role() Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// SetRole switches who may draw, as a new game round starts.
func (s *Session) SetRole(r Role) {
	s.mu.Lock()
	s.role = r
	s.mu.Unlock()
}

// OnPaint registers a hook called after every rasterized stroke; remote is
// true for strokes received from the peer.
func (s *Session) OnPaint(fn func(st Stroke, remote bool)) {
	s.mu.Lock()
	s.onPaint = fn
	s.mu.Unlock()
}

// Strokes returns how many segments have been painted since the last clear.
func (s *Session) Strokes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.strokes
}

// LocalStroke paints st and sends it to the peer.
func (s *Session) LocalStroke(st Stroke) error {
	if s.Role() == Guesser {
		return ErrNotDrawer
	}
	st, ok := st.Bounded()
	if !ok {
		return ErrInvalidStroke
	}
	s.paint(st, false)
	return s.em.Emit(s.events.Draw, proto.Stroke{
		To:       s.peer,
		PrevX:    st.PrevX,
		PrevY:    st.PrevY,
		CurrentX: st.CurrentX,
		CurrentY: st.CurrentY,
		Color:    st.Color,
		Width:    st.Width,
	})
}

// RemoteStroke paints a stroke received from the peer. It is never re-sent.
func (s *Session) RemoteStroke(p proto.Stroke) {
	if p.From != "" && p.From != s.peer {
		log.Debugf("stroke from [%s] ignored, canvas is shared with [%s]", p.From, s.peer)
		return
	}
	if s.Role() == Drawer {
		// Drawers paint their own canvas; nothing comes back.
		return
	}
	s.paint(Stroke{
		PrevX: p.PrevX, PrevY: p.PrevY,
		CurrentX: p.CurrentX, CurrentY: p.CurrentY,
		Color: p.Color, Width: p.Width,
	}, true)
}

// Clear wipes the canvas and tells the peer when the session has a clear
// event.
func (s *Session) Clear() error {
	s.wipe()
	if s.events.Clear == "" {
		return nil
	}
	return s.em.Emit(s.events.Clear, proto.Open{To: s.peer})
}

// RemoteClear wipes the canvas without replying.
func (s *Session) RemoteClear(p proto.Open) {
	if p.From != "" && p.From != s.peer {
		return
	}
	s.wipe()
}

func (s *Session) paint(st Stroke, remote bool) {
	st, ok := st.Bounded()
	if !ok {
		log.Debugf("dropping stroke with non-finite values on canvas with [%s]", s.peer)
		return
	}
	s.surface.Draw(st)
	s.mu.Lock()
	s.strokes++
	fn := s.onPaint
	s.mu.Unlock()
	if fn != nil {
		fn(st, remote)
	}
}

func (s *Session) wipe() {
	s.surface.Clear()
	s.mu.Lock()
	s.strokes = 0
	s.mu.Unlock()
}
