// Package game replicates two-player games between peers. Each side keeps a
// full copy of the state and evaluates the outcome itself; the peer is
// trusted and nothing is arbitrated by the relay.
package game

import (
	"errors"
	"fmt"
	"sync"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/goopchat/internal/proto"
)

var log = logging.Logger("game")

var (
	ErrNotYourTurn = errors.New("not your turn")
	ErrOccupied    = errors.New("cell is taken")
	ErrFinished    = errors.New("game is over")
	ErrOutOfRange  = errors.New("cell out of range")
	ErrNotPlaying  = errors.New("game has not started")
	ErrNotDrawer   = errors.New("only the drawer may do that")
	ErrNotGuesser  = errors.New("only the guesser may guess")
)

type Emitter interface {
	Emit(event string, payload any) error
}

// Symbol marks a cell. X always opens.
type Symbol string

const (
	Empty Symbol = ""
	X     Symbol = "X"
	O     Symbol = "O"
)

func (s Symbol) Other() Symbol {
	if s == X {
		return O
	}
	return X
}

// Draw is the winner field of game-over when the board fills up.
const Draw = "draw"

type State int

const (
	WaitingForPeer State = iota
	Playing
	Finished
)

func (s State) String() string {
	switch s {
	case WaitingForPeer:
		return "waiting"
	case Playing:
		return "playing"
	case Finished:
		return "finished"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Result is set once a game ends. Winner is Empty for a draw.
type Result struct {
	Winner Symbol
	Line   []int
}

func (r Result) IsDraw() bool { return r.Winner == Empty }

func (r Result) String() string {
	if r.IsDraw() {
		return Draw
	}
	return string(r.Winner) + " wins"
}

// Lines returns the winning lines of an n×n board: rows, columns and the two
// diagonals.
func Lines(n int) [][]int {
	lines := make([][]int, 0, 2*n+2)
	for r := 0; r < n; r++ {
		row := make([]int, n)
		for c := range row {
			row[c] = r*n + c
		}
		lines = append(lines, row)
	}
	for c := 0; c < n; c++ {
		col := make([]int, n)
		for r := range col {
			col[r] = r*n + c
		}
		lines = append(lines, col)
	}
	diag := make([]int, n)
	anti := make([]int, n)
	for i := 0; i < n; i++ {
		diag[i] = i*n + i
		anti[i] = i*n + (n - 1 - i)
	}
	return append(lines, diag, anti)
}

// Evaluate checks every line before checking for a full board, so a board
// that fills up on the winning move is a win, never both.
func Evaluate(board []Symbol, lines [][]int) (Result, bool) {
	for _, line := range lines {
		first := board[line[0]]
		if first == Empty {
			continue
		}
		won := true
		for _, i := range line[1:] {
			if board[i] != first {
				won = false
				break
			}
		}
		if won {
			return Result{Winner: first, Line: append([]int(nil), line...)}, true
		}
	}
	for _, c := range board {
		if c == Empty {
			return Result{}, false
		}
	}
	return Result{}, true
}

// View is a copy of the game state for display.
type View struct {
	Peer   string
	Size   int
	Board  []Symbol
	Me     Symbol
	Turn   Symbol
	State  State
	Result *Result
}

// MyTurn reports whether the local player may move.
func (v View) MyTurn() bool { return v.State == Playing && v.Turn == v.Me }

// TicTacToe is one side of an n-in-a-row game on an n×n board.
type TicTacToe struct {
	em       Emitter
	peer     string
	selfName string
	me       Symbol
	size     int
	lines    [][]int

	mu       sync.Mutex
	board    []Symbol
	turn     Symbol
	state    State
	result   *Result
	onChange func(View)
}

// MaxSize is the largest board edge. Invites asking for more get MaxSize.
const MaxSize = 10

// NewTicTacToe creates a game against peer. The side that opens plays X; a
// size below 3 means the classic 3×3 board.
func NewTicTacToe(em Emitter, peer, selfName string, me Symbol, size int) *TicTacToe {
	switch {
	case size < 3:
		size = 3
	case size > MaxSize:
		size = MaxSize
	}
	if me != O {
		me = X
	}
	g := &TicTacToe{
		em:       em,
		peer:     peer,
		selfName: selfName,
		me:       me,
		size:     size,
		lines:    Lines(size),
	}
	g.clear()
	return g
}

func (g *TicTacToe) Peer() string { return g.peer }
func (g *TicTacToe) Me() Symbol   { return g.me }

// OnChange registers a hook called with the new view after every change.
func (g *TicTacToe) OnChange(fn func(View)) {
	g.mu.Lock()
	g.onChange = fn
	g.mu.Unlock()
}

func (g *TicTacToe) View() View {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.view()
}

// Open starts the game. The X side sends the invite before any move; the O
// side was created from an invite and only starts playing.
func (g *TicTacToe) Open() error {
	g.mu.Lock()
	g.state = Playing
	g.mu.Unlock()
	g.changed()
	if g.me != X {
		return nil
	}
	log.Debugf("inviting [%s] to %dx%d", g.peer, g.size, g.size)
	return g.em.Emit(proto.EventGameInvite, proto.GameInvite{
		To:         g.peer,
		SenderName: g.selfName,
		Size:       g.size,
	})
}

// Move places the local symbol on index and sends it to the peer.
func (g *TicTacToe) Move(index int) error {
	g.mu.Lock()
	switch {
	case g.state == WaitingForPeer:
		g.mu.Unlock()
		return ErrNotPlaying
	case g.result != nil:
		g.mu.Unlock()
		return ErrFinished
	case index < 0 || index >= len(g.board):
		g.mu.Unlock()
		return fmt.Errorf("move %d: %w", index, ErrOutOfRange)
	case g.turn != g.me:
		g.mu.Unlock()
		return ErrNotYourTurn
	case g.board[index] != Empty:
		g.mu.Unlock()
		return fmt.Errorf("move %d: %w", index, ErrOccupied)
	}
	g.board[index] = g.me
	res := g.settle(g.me.Other())
	g.mu.Unlock()
	g.changed()

	if err := g.em.Emit(proto.EventGameMove, proto.GameMove{
		To:     g.peer,
		Index:  index,
		Symbol: string(g.me),
	}); err != nil {
		return err
	}
	if res == nil {
		return nil
	}
	over := proto.GameOver{To: g.peer, Winner: Draw, Line: res.Line}
	if !res.IsDraw() {
		over.Winner = string(res.Winner)
	}
	return g.em.Emit(proto.EventGameOver, over)
}

// RemoteMove applies the peer's move to the given index even if the cell is
// taken. Moves from other users, after the game ended, or outside the board
// are dropped.
func (g *TicTacToe) RemoteMove(p proto.GameMove) {
	if !g.fromPeer(p.From) {
		return
	}
	sym := Symbol(p.Symbol)
	if sym != X && sym != O {
		sym = g.me.Other()
	}

	g.mu.Lock()
	if g.result != nil {
		g.mu.Unlock()
		log.Debugf("move %d from [%s] after game over, dropped", p.Index, p.From)
		return
	}
	if p.Index < 0 || p.Index >= len(g.board) {
		g.mu.Unlock()
		log.Warnf("move %d from [%s] outside the board, dropped", p.Index, p.From)
		return
	}
	g.state = Playing
	g.board[p.Index] = sym
	g.settle(g.me)
	g.mu.Unlock()
	g.changed()
}

// RemoteOver is informational; the local evaluation decides the result.
func (g *TicTacToe) RemoteOver(p proto.GameOver) {
	if !g.fromPeer(p.From) {
		return
	}
	v := g.View()
	if v.Result == nil {
		log.Warnf("peer [%s] reports %q, local board undecided", g.peer, p.Winner)
		return
	}
	local := Draw
	if !v.Result.IsDraw() {
		local = string(v.Result.Winner)
	}
	if local != p.Winner {
		log.Warnf("peer [%s] reports %q, local result %q", g.peer, p.Winner, local)
	}
}

// Reset starts a new game on both sides. X opens again.
func (g *TicTacToe) Reset() error {
	g.mu.Lock()
	g.clear()
	g.state = Playing
	g.mu.Unlock()
	g.changed()
	return g.em.Emit(proto.EventGameReset, proto.Open{To: g.peer})
}

// RemoteReset clears the board without replying.
func (g *TicTacToe) RemoteReset(p proto.Open) {
	if !g.fromPeer(p.From) {
		return
	}
	g.mu.Lock()
	g.clear()
	g.state = Playing
	g.mu.Unlock()
	g.changed()
}

// settle evaluates the board and either finishes the game or hands the turn
// to next. Caller holds g.mu.
func (g *TicTacToe) settle(next Symbol) *Result {
	res, done := Evaluate(g.board, g.lines)
	if !done {
		g.turn = next
		return nil
	}
	g.result = &res
	g.state = Finished
	log.Infof("game with [%s] over: %s", g.peer, res)
	return g.result
}

func (g *TicTacToe) clear() {
	g.board = make([]Symbol, g.size*g.size)
	g.turn = X
	g.result = nil
}

func (g *TicTacToe) fromPeer(from string) bool {
	if from != "" && from != g.peer {
		log.Debugf("game event from [%s] ignored, playing [%s]", from, g.peer)
		return false
	}
	return true
}

func (g *TicTacToe) view() View {
	v := View{
		Peer:  g.peer,
		Size:  g.size,
		Board: append([]Symbol(nil), g.board...),
		Me:    g.me,
		Turn:  g.turn,
		State: g.state,
	}
	if g.result != nil {
		r := *g.result
		v.Result = &r
	}
	return v
}

func (g *TicTacToe) changed() {
	g.mu.Lock()
	fn := g.onChange
	v := g.view()
	g.mu.Unlock()
	if fn != nil {
		fn(v)
	}
}
