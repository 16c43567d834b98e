// Package session keeps at most one shared activity (whiteboard or game) open
// at a time and routes the peer's activity events to it. Calls are arbitrated
// separately by package call and may run alongside an activity.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/goopchat/internal/drawing"
	"github.com/petervdpas/goopchat/internal/game"
	"github.com/petervdpas/goopchat/internal/proto"
)

var log = logging.Logger("session")

var ErrNoActivity = errors.New("no activity open")

type Emitter interface {
	Emit(event string, payload any) error
}

type Kind int

const (
	None Kind = iota
	Whiteboard
	TicTacToe
	Pictionary
)

func (k Kind) String() string {
	switch k {
	case None:
		return "none"
	case Whiteboard:
		return "whiteboard"
	case TicTacToe:
		return "tictactoe"
	case Pictionary:
		return "pictionary"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind accepts the names printed by Kind.String.
func ParseKind(s string) (Kind, error) {
	for k := Whiteboard; k <= Pictionary; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return None, fmt.Errorf("unknown activity %q", s)
}

// Notice tells the user a peer opened an activity with them.
type Notice struct {
	Kind     Kind
	Peer     string
	PeerName string
}

type Options struct {
	SelfID   string
	SelfName string

	// BoardSize is the tic-tac-toe board edge; below 3 means 3.
	BoardSize   int
	RoundLength time.Duration

	// CanvasWidth and CanvasHeight size the raster kept for each canvas in
	// pixels. Zero uses the logical canvas size.
	CanvasWidth, CanvasHeight int

	// AutoFollow is called after a peer opens an activity, typically to
	// switch the selected conversation to that peer.
	AutoFollow func(Notice)
}

// Events lists the channel events the arbiter consumes.
var Events = []string{
	proto.EventWhiteboardOpen, proto.EventWhiteboardDraw, proto.EventWhiteboardClear,
	proto.EventGameInvite, proto.EventGameMove, proto.EventGameReset, proto.EventGameOver,
	proto.EventPictionaryInvite, proto.EventPictionaryStart, proto.EventPictionaryDraw,
	proto.EventPictionaryGuess, proto.EventPictionaryGameOver,
}

// Arbiter owns the open activity.
type Arbiter struct {
	em   Emitter
	opts Options

	mu   sync.Mutex
	kind Kind
	peer string
	wb   *drawing.Session
	ttt  *game.TicTacToe
	pic  *game.Pictionary
}

func New(em Emitter, opts Options) *Arbiter {
	return &Arbiter{em: em, opts: opts}
}

// Active returns the open activity and its peer.
func (a *Arbiter) Active() (Kind, string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.kind, a.peer
}

func (a *Arbiter) Whiteboard() *drawing.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.wb
}

func (a *Arbiter) TicTacToe() *game.TicTacToe {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ttt
}

func (a *Arbiter) Pictionary() *game.Pictionary {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pic
}

// SetBoardSize sets the edge of tic-tac-toe boards opened from now on. The
// receiving side follows the size carried by the invite.
func (a *Arbiter) SetBoardSize(n int) {
	a.mu.Lock()
	a.opts.BoardSize = n
	a.mu.Unlock()
}

// Open closes whatever is open and starts kind with peer as the initiating
// side. The peer is told so its client can follow.
func (a *Arbiter) Open(kind Kind, peer string) error {
	if peer == "" || peer == a.opts.SelfID {
		return fmt.Errorf("open %s: invalid peer %q", kind, peer)
	}
	a.mu.Lock()
	a.closeLocked()
	a.kind, a.peer = kind, peer
	var open func() error
	switch kind {
	case Whiteboard:
		a.wb = drawing.NewSession(a.em, peer, drawing.WhiteboardEvents, drawing.Free, a.surface())
		open = func() error { return a.em.Emit(proto.EventWhiteboardOpen, proto.Open{To: peer}) }
	case TicTacToe:
		a.ttt = game.NewTicTacToe(a.em, peer, a.opts.SelfName, game.X, a.opts.BoardSize)
		open = a.ttt.Open
	case Pictionary:
		a.pic = game.NewPictionary(a.em, game.PictionaryOptions{
			SelfID:      a.opts.SelfID,
			SelfName:    a.opts.SelfName,
			Peer:        peer,
			Drawer:      true,
			RoundLength: a.opts.RoundLength,
			Surface:     a.surface(),
		})
		open = a.pic.Open
	default:
		a.kind, a.peer = None, ""
		a.mu.Unlock()
		return fmt.Errorf("open: unknown activity %s", kind)
	}
	a.mu.Unlock()

	log.Infof("opened %s with [%s]", kind, peer)
	return open()
}

// Close ends the open activity locally. There is no close event; the peer
// keeps its side until it closes it or opens something else.
func (a *Arbiter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.kind == None {
		return ErrNoActivity
	}
	log.Infof("closed %s with [%s]", a.kind, a.peer)
	a.closeLocked()
	return nil
}

// HandleFrame routes one channel frame. It reports false for events the
// arbiter does not consume.
func (a *Arbiter) HandleFrame(f *proto.Frame) (bool, error) {
	switch f.Event {
	case proto.EventWhiteboardOpen:
		var p proto.Open
		if err := f.Decode(&p); err != nil {
			return true, err
		}
		a.remoteOpen(Whiteboard, p.From, "", 0)
	case proto.EventGameInvite:
		var p proto.GameInvite
		if err := f.Decode(&p); err != nil {
			return true, err
		}
		a.remoteOpen(TicTacToe, p.From, p.SenderName, p.Size)
	case proto.EventPictionaryInvite:
		var p proto.PictionaryInvite
		if err := f.Decode(&p); err != nil {
			return true, err
		}
		a.remoteOpen(Pictionary, p.From, p.SenderName, 0)

	case proto.EventWhiteboardDraw:
		var p proto.Stroke
		if err := f.Decode(&p); err != nil {
			return true, err
		}
		if wb := a.whiteboardFor(p.From); wb != nil {
			wb.RemoteStroke(p)
		}
	case proto.EventWhiteboardClear:
		var p proto.Open
		if err := f.Decode(&p); err != nil {
			return true, err
		}
		if wb := a.whiteboardFor(p.From); wb != nil {
			wb.RemoteClear(p)
		}

	case proto.EventGameMove:
		var p proto.GameMove
		if err := f.Decode(&p); err != nil {
			return true, err
		}
		if g := a.gameFor(p.From); g != nil {
			g.RemoteMove(p)
		}
	case proto.EventGameReset:
		var p proto.Open
		if err := f.Decode(&p); err != nil {
			return true, err
		}
		if g := a.gameFor(p.From); g != nil {
			g.RemoteReset(p)
		}
	case proto.EventGameOver:
		var p proto.GameOver
		if err := f.Decode(&p); err != nil {
			return true, err
		}
		if g := a.gameFor(p.From); g != nil {
			g.RemoteOver(p)
		}

	case proto.EventPictionaryStart:
		var p proto.PictionaryStart
		if err := f.Decode(&p); err != nil {
			return true, err
		}
		if g := a.pictionaryFor(p.From); g != nil {
			g.RemoteStart(p)
		}
	case proto.EventPictionaryDraw:
		var p proto.Stroke
		if err := f.Decode(&p); err != nil {
			return true, err
		}
		if g := a.pictionaryFor(p.From); g != nil {
			g.Canvas().RemoteStroke(p)
		}
	case proto.EventPictionaryGuess:
		var p proto.PictionaryGuess
		if err := f.Decode(&p); err != nil {
			return true, err
		}
		if g := a.pictionaryFor(p.From); g != nil {
			g.RemoteGuess(p)
		}
	case proto.EventPictionaryGameOver:
		var p proto.PictionaryGameOver
		if err := f.Decode(&p); err != nil {
			return true, err
		}
		if g := a.pictionaryFor(p.From); g != nil {
			g.RemoteGameOver(p)
		}
	default:
		return false, nil
	}
	return true, nil
}

// remoteOpen builds the receiving side of an activity a peer opened: O for
// tic-tac-toe, the guesser for pictionary. A repeated whiteboard-open from the
// peer already on the whiteboard keeps the canvas.
func (a *Arbiter) remoteOpen(kind Kind, peer, peerName string, size int) {
	if peer == "" || peer == a.opts.SelfID {
		return
	}
	a.mu.Lock()
	if kind == Whiteboard && a.kind == Whiteboard && a.peer == peer {
		a.mu.Unlock()
		return
	}
	a.closeLocked()
	a.kind, a.peer = kind, peer
	switch kind {
	case Whiteboard:
		a.wb = drawing.NewSession(a.em, peer, drawing.WhiteboardEvents, drawing.Free, a.surface())
	case TicTacToe:
		if size < 3 {
			size = a.opts.BoardSize
		}
		a.ttt = game.NewTicTacToe(a.em, peer, a.opts.SelfName, game.O, size)
		// The O side never emits on open.
		_ = a.ttt.Open()
	case Pictionary:
		a.pic = game.NewPictionary(a.em, game.PictionaryOptions{
			SelfID:      a.opts.SelfID,
			SelfName:    a.opts.SelfName,
			Peer:        peer,
			RoundLength: a.opts.RoundLength,
			Surface:     a.surface(),
		})
	}
	a.mu.Unlock()

	log.Infof("[%s] opened %s", peer, kind)
	if a.opts.AutoFollow != nil {
		a.opts.AutoFollow(Notice{Kind: kind, Peer: peer, PeerName: peerName})
	}
}

// closeLocked drops the open activity. Caller holds a.mu.
func (a *Arbiter) closeLocked() {
	if a.pic != nil {
		a.pic.Close()
	}
	a.kind, a.peer = None, ""
	a.wb, a.ttt, a.pic = nil, nil, nil
}

func (a *Arbiter) surface() *drawing.Surface {
	if a.opts.CanvasWidth <= 0 || a.opts.CanvasHeight <= 0 {
		return nil
	}
	return drawing.NewSurface(a.opts.CanvasWidth, a.opts.CanvasHeight)
}

func (a *Arbiter) matches(kind Kind, from string) bool {
	return a.kind == kind && (from == "" || from == a.peer)
}

func (a *Arbiter) whiteboardFor(from string) *drawing.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.matches(Whiteboard, from) {
		return nil
	}
	return a.wb
}

func (a *Arbiter) gameFor(from string) *game.TicTacToe {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.matches(TicTacToe, from) {
		return nil
	}
	return a.ttt
}

func (a *Arbiter) pictionaryFor(from string) *game.Pictionary {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.matches(Pictionary, from) {
		return nil
	}
	return a.pic
}
