package game

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/petervdpas/goopchat/internal/drawing"
	"github.com/petervdpas/goopchat/internal/proto"
)

// Words the drawer picks from.
var Words = []string{"Apple", "Tree", "Car", "House", "Sun", "Smile", "Ball", "Flower", "Book", "Computer", "Cat", "Dog"}

// RoundLength is the default time a guesser has.
const RoundLength = 60 * time.Second

// Timeout is the winner of a round nobody guessed.
const Timeout = "timeout"

// Phase of a word-guess round.
type Phase int

const (
	Selecting Phase = iota
	Guessing
	Over
)

func (p Phase) String() string {
	switch p {
	case Selecting:
		return "selecting"
	case Guessing:
		return "playing"
	case Over:
		return "finished"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

type Guess struct {
	Text       string
	SenderID   string
	SenderName string
	Correct    bool
}

type PictionaryOptions struct {
	SelfID   string
	SelfName string
	Peer     string
	Drawer   bool

	// RoundLength defaults to RoundLength.
	RoundLength time.Duration
	Surface     *drawing.Surface
}

// PictionaryView is a copy of the round for display. Word is empty for the
// guesser until the round is over.
type PictionaryView struct {
	Peer     string
	Drawer   bool
	Phase    Phase
	Word     string
	Winner   string
	Guesses  []Guess
	Deadline time.Time
}

// Pictionary is one side of a word-guess game: the drawer sketches a word on a
// shared canvas and the guesser has one round to name it. Roles are fixed for
// the life of the game.
type Pictionary struct {
	em     Emitter
	opts   PictionaryOptions
	canvas *drawing.Session

	mu       sync.Mutex
	phase    Phase
	word     string
	winner   string
	guesses  []Guess
	deadline time.Time
	timer    *time.Timer
	round    uint64
	onChange func(PictionaryView)
}

func NewPictionary(em Emitter, opts PictionaryOptions) *Pictionary {
	if opts.RoundLength <= 0 {
		opts.RoundLength = RoundLength
	}
	role := drawing.Guesser
	if opts.Drawer {
		role = drawing.Drawer
	}
	return &Pictionary{
		em:     em,
		opts:   opts,
		canvas: drawing.NewSession(em, opts.Peer, drawing.PictionaryEvents, role, opts.Surface),
	}
}

func (p *Pictionary) Peer() string             { return p.opts.Peer }
func (p *Pictionary) Drawer() bool             { return p.opts.Drawer }
func (p *Pictionary) Canvas() *drawing.Session { return p.canvas }

func (p *Pictionary) OnChange(fn func(PictionaryView)) {
	p.mu.Lock()
	p.onChange = fn
	p.mu.Unlock()
}

func (p *Pictionary) View() PictionaryView {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.view()
}

// Open sends the invite when the local side draws.
func (p *Pictionary) Open() error {
	if !p.opts.Drawer {
		return nil
	}
	return p.em.Emit(proto.EventPictionaryInvite, proto.PictionaryInvite{
		To:         p.opts.Peer,
		SenderName: p.opts.SelfName,
	})
}

// StartRound sets the word, wipes the canvas and starts the clock. The drawer
// may start again once a round is over.
func (p *Pictionary) StartRound(word string) error {
	if !p.opts.Drawer {
		return ErrNotDrawer
	}
	word = strings.TrimSpace(word)
	if word == "" {
		return fmt.Errorf("start round: empty word")
	}
	p.mu.Lock()
	if p.phase == Guessing {
		p.mu.Unlock()
		return fmt.Errorf("start round: %w", ErrNotPlaying)
	}
	p.begin(word)
	p.mu.Unlock()
	p.canvas.Clear()
	p.changed()

	log.Infof("pictionary round with [%s] started", p.opts.Peer)
	return p.em.Emit(proto.EventPictionaryStart, proto.PictionaryStart{
		To:       p.opts.Peer,
		Word:     word,
		DrawerID: p.opts.SelfID,
	})
}

// PlayAgain returns the drawer to word selection after a round.
func (p *Pictionary) PlayAgain() error {
	if !p.opts.Drawer {
		return ErrNotDrawer
	}
	p.mu.Lock()
	if p.phase != Over {
		p.mu.Unlock()
		return fmt.Errorf("play again: round in progress")
	}
	p.phase = Selecting
	p.word = ""
	p.winner = ""
	p.guesses = nil
	p.mu.Unlock()
	p.changed()
	return nil
}

// RemoteStart begins the round the drawer picked.
func (p *Pictionary) RemoteStart(m proto.PictionaryStart) {
	if !p.fromPeer(m.From) || p.opts.Drawer {
		return
	}
	p.mu.Lock()
	p.begin(m.Word)
	p.mu.Unlock()
	p.canvas.RemoteClear(proto.Open{From: m.From})
	p.changed()
}

// Guess submits a guess. Comparison ignores case and surrounding space.
func (p *Pictionary) Guess(text string) (bool, error) {
	if p.opts.Drawer {
		return false, ErrNotGuesser
	}
	if strings.TrimSpace(text) == "" {
		return false, fmt.Errorf("guess: empty")
	}
	p.mu.Lock()
	if p.phase != Guessing {
		p.mu.Unlock()
		return false, fmt.Errorf("guess: %w", ErrNotPlaying)
	}
	correct := matches(text, p.word)
	p.guesses = append(p.guesses, Guess{
		Text:       text,
		SenderID:   p.opts.SelfID,
		SenderName: p.opts.SelfName,
		Correct:    correct,
	})
	if correct {
		p.finish("You")
	}
	p.mu.Unlock()
	p.changed()

	err := p.em.Emit(proto.EventPictionaryGuess, proto.PictionaryGuess{
		To:         p.opts.Peer,
		Text:       text,
		SenderID:   p.opts.SelfID,
		SenderName: p.opts.SelfName,
		IsCorrect:  correct,
	})
	return correct, err
}

// RemoteGuess records the peer's guess and ends the round when it is correct.
func (p *Pictionary) RemoteGuess(m proto.PictionaryGuess) {
	if !p.fromPeer(m.From) {
		return
	}
	p.mu.Lock()
	if p.phase != Guessing {
		p.mu.Unlock()
		return
	}
	p.guesses = append(p.guesses, Guess{
		Text:       m.Text,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		Correct:    m.IsCorrect,
	})
	if m.IsCorrect {
		name := m.SenderName
		if name == "" {
			name = "Partner"
		}
		p.finish(name)
	}
	p.mu.Unlock()
	p.changed()
}

// RemoteGameOver ends the round with the winner the peer reports.
func (p *Pictionary) RemoteGameOver(m proto.PictionaryGameOver) {
	if !p.fromPeer(m.From) {
		return
	}
	p.mu.Lock()
	if p.phase == Over {
		p.mu.Unlock()
		return
	}
	p.finish(m.Winner)
	p.mu.Unlock()
	p.changed()
}

// Close stops the round clock.
func (p *Pictionary) Close() {
	p.mu.Lock()
	p.round++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.mu.Unlock()
}

// begin resets the round and arms its clock. Caller holds p.mu.
func (p *Pictionary) begin(word string) {
	p.round++
	round := p.round
	p.phase = Guessing
	p.word = word
	p.winner = ""
	p.guesses = nil
	p.deadline = time.Now().Add(p.opts.RoundLength)
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(p.opts.RoundLength, func() { p.expire(round) })
}

// finish ends the round. Caller holds p.mu.
func (p *Pictionary) finish(winner string) {
	p.phase = Over
	p.winner = winner
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	log.Infof("pictionary round with [%s] over: %s", p.opts.Peer, winner)
}

// expire ends an unguessed round. Only the drawer announces it; both sides
// run the clock.
func (p *Pictionary) expire(round uint64) {
	p.mu.Lock()
	if round != p.round || p.phase != Guessing {
		p.mu.Unlock()
		return
	}
	p.finish(Timeout)
	p.timer = nil
	p.mu.Unlock()
	p.changed()

	if !p.opts.Drawer {
		return
	}
	if err := p.em.Emit(proto.EventPictionaryGameOver, proto.PictionaryGameOver{
		To:     p.opts.Peer,
		Winner: Timeout,
	}); err != nil {
		log.Warnf("announce timeout to [%s]: %s", p.opts.Peer, err)
	}
}

func matches(guess, word string) bool {
	return word != "" && strings.ToLower(strings.TrimSpace(guess)) == strings.ToLower(word)
}

func (p *Pictionary) fromPeer(from string) bool {
	return from == "" || from == p.opts.Peer
}

func (p *Pictionary) view() PictionaryView {
	v := PictionaryView{
		Peer:     p.opts.Peer,
		Drawer:   p.opts.Drawer,
		Phase:    p.phase,
		Winner:   p.winner,
		Guesses:  append([]Guess(nil), p.guesses...),
		Deadline: p.deadline,
	}
	if p.opts.Drawer || p.phase == Over {
		v.Word = p.word
	}
	return v
}

func (p *Pictionary) changed() {
	p.mu.Lock()
	fn := p.onChange
	v := p.view()
	p.mu.Unlock()
	if fn != nil {
		fn(v)
	}
}
