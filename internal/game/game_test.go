package game

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petervdpas/goopchat/internal/channel"
	"github.com/petervdpas/goopchat/internal/drawing"
	"github.com/petervdpas/goopchat/internal/proto"
)

// pair wires two games so that every move one side emits is applied to the
// other, as the relay would deliver it.
func pair(t *testing.T) (x, o *TicTacToe, xch, och *channel.Memory) {
	t.Helper()
	xch, och = channel.NewMemory(), channel.NewMemory()
	x = NewTicTacToe(xch, "bob", "Alice", X, 3)
	o = NewTicTacToe(och, "alice", "Bob", O, 3)
	xch.OnEmit(func(f *proto.Frame) { forward(t, f, o, "alice") })
	och.OnEmit(func(f *proto.Frame) { forward(t, f, x, "bob") })
	require.NoError(t, x.Open())
	require.NoError(t, o.Open())
	return x, o, xch, och
}

func forward(t *testing.T, f *proto.Frame, to *TicTacToe, from string) {
	switch f.Event {
	case proto.EventGameMove:
		var m proto.GameMove
		require.NoError(t, f.Decode(&m))
		m.From = from
		to.RemoteMove(m)
	case proto.EventGameReset:
		to.RemoteReset(proto.Open{From: from})
	}
}

func TestLines(t *testing.T) {
	lines := Lines(3)
	require.Len(t, lines, 8)
	assert.Equal(t, []int{0, 1, 2}, lines[0])
	assert.Equal(t, []int{0, 3, 6}, lines[3])
	assert.Equal(t, []int{0, 4, 8}, lines[6])
	assert.Equal(t, []int{2, 4, 6}, lines[7])
	assert.Len(t, Lines(4), 10)
}

func TestInviteBeforeMoves(t *testing.T) {
	ch := channel.NewMemory()
	g := NewTicTacToe(ch, "bob", "Alice", X, 0)
	assert.ErrorIs(t, g.Move(0), ErrNotPlaying)

	require.NoError(t, g.Open())
	sent := ch.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, proto.EventGameInvite, sent[0].Event)
	var inv proto.GameInvite
	require.NoError(t, sent[0].Decode(&inv))
	assert.Equal(t, proto.GameInvite{To: "bob", SenderName: "Alice", Size: 3}, inv)

	o := NewTicTacToe(channel.NewMemory(), "alice", "Bob", O, 3)
	require.NoError(t, o.Open())
	assert.Equal(t, X, o.View().Turn, "X always opens")
	assert.ErrorIs(t, o.Move(0), ErrNotYourTurn)
}

func TestTopRowWin(t *testing.T) {
	x, o, xch, _ := pair(t)

	require.NoError(t, x.Move(0))
	require.NoError(t, o.Move(3))
	require.NoError(t, x.Move(1))
	require.NoError(t, o.Move(4))
	require.NoError(t, x.Move(2))

	for _, g := range []*TicTacToe{x, o} {
		v := g.View()
		require.NotNil(t, v.Result)
		assert.Equal(t, Finished, v.State)
		assert.Equal(t, X, v.Result.Winner)
		assert.Equal(t, []int{0, 1, 2}, v.Result.Line)
		assert.Equal(t, "X wins", v.Result.String())
	}

	var over proto.GameOver
	require.NoError(t, xch.Last(proto.EventGameOver).Decode(&over))
	assert.Equal(t, "X", over.Winner)
	assert.Equal(t, []int{0, 1, 2}, over.Line)

	assert.ErrorIs(t, o.Move(5), ErrFinished)
	before := x.View().Board
	x.RemoteMove(proto.GameMove{From: "bob", Index: 8, Symbol: "O"})
	assert.Equal(t, before, x.View().Board, "no mutation after the result is set")
}

func TestLocalMoveValidity(t *testing.T) {
	x, o, _, _ := pair(t)

	require.NoError(t, x.Move(4))
	assert.ErrorIs(t, x.Move(0), ErrNotYourTurn)
	assert.ErrorIs(t, o.Move(4), ErrOccupied)
	assert.ErrorIs(t, o.Move(9), ErrOutOfRange)
	assert.ErrorIs(t, o.Move(-1), ErrOutOfRange)
	require.NoError(t, o.Move(0))
	assert.True(t, x.View().MyTurn())
}

func TestRemoteMoveTrustsPeer(t *testing.T) {
	ch := channel.NewMemory()
	g := NewTicTacToe(ch, "alice", "Bob", O, 3)
	require.NoError(t, g.Open())

	g.RemoteMove(proto.GameMove{From: "alice", Index: 0, Symbol: "X"})
	require.NoError(t, g.Move(1))

	// Applied to a taken cell and out of turn: still applied, never a panic.
	g.RemoteMove(proto.GameMove{From: "alice", Index: 1, Symbol: "X"})
	assert.Equal(t, X, g.View().Board[1])
	assert.True(t, g.View().MyTurn())

	assert.NotPanics(t, func() {
		g.RemoteMove(proto.GameMove{From: "alice", Index: 42, Symbol: "X"})
		g.RemoteMove(proto.GameMove{From: "alice", Index: -3, Symbol: "X"})
	})
	g.RemoteMove(proto.GameMove{From: "mallory", Index: 2, Symbol: "X"})
	assert.Equal(t, Empty, g.View().Board[2])
}

func TestNineMovesEndInExactlyOneResult(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		x, o, _, _ := pair(t)
		order := rng.Perm(9)
		players := []*TicTacToe{x, o}
		var wins, draws int
		for n, idx := range order {
			g := players[n%2]
			if g.View().Result != nil {
				break
			}
			require.NoError(t, g.Move(idx))
		}
		for _, g := range players {
			v := g.View()
			require.NotNil(t, v.Result, "order %v", order)
			if v.Result.IsDraw() {
				draws++
			} else {
				wins++
			}
		}
		assert.True(t, wins == 2 || draws == 2, "both sides agree on one outcome, order %v", order)
		assert.Equal(t, x.View().Result, o.View().Result)
	}
}

func TestDrawWhenFull(t *testing.T) {
	x, o, xch, _ := pair(t)
	// X O X / X O O / O X X
	for n, idx := range []int{0, 1, 2, 4, 3, 5, 7, 6, 8} {
		g := x
		if n%2 == 1 {
			g = o
		}
		require.NoError(t, g.Move(idx))
	}
	v := x.View()
	require.NotNil(t, v.Result)
	assert.True(t, v.Result.IsDraw())
	var over proto.GameOver
	require.NoError(t, xch.Last(proto.EventGameOver).Decode(&over))
	assert.Equal(t, Draw, over.Winner)
}

func TestResetBothSides(t *testing.T) {
	x, o, _, _ := pair(t)
	require.NoError(t, x.Move(0))
	require.NoError(t, o.Move(1))

	require.NoError(t, o.Reset())
	for _, g := range []*TicTacToe{x, o} {
		v := g.View()
		assert.Equal(t, make([]Symbol, 9), v.Board)
		assert.Equal(t, X, v.Turn)
		assert.Nil(t, v.Result)
		assert.Equal(t, Playing, v.State)
	}
	require.NoError(t, x.Move(8))
}

func TestLargerBoard(t *testing.T) {
	ch := channel.NewMemory()
	g := NewTicTacToe(ch, "bob", "Alice", X, 4)
	require.NoError(t, g.Open())
	for i, idx := range []int{0, 4, 1, 5, 2, 6} {
		if i%2 == 0 {
			require.NoError(t, g.Move(idx))
		} else {
			g.RemoteMove(proto.GameMove{From: "bob", Index: idx, Symbol: "O"})
		}
	}
	assert.Nil(t, g.View().Result, "three in a row is not enough on 4x4")
	require.NoError(t, g.Move(3))
	require.NotNil(t, g.View().Result)
	assert.Equal(t, []int{0, 1, 2, 3}, g.View().Result.Line)
}

// ── Pictionary ───────────────────────────────────────────────────────────────

func picPair(t *testing.T, round time.Duration) (drawer, guesser *Pictionary, dch, gch *channel.Memory) {
	t.Helper()
	dch, gch = channel.NewMemory(), channel.NewMemory()
	drawer = NewPictionary(dch, PictionaryOptions{SelfID: "alice", SelfName: "Alice", Peer: "bob", Drawer: true, RoundLength: round})
	guesser = NewPictionary(gch, PictionaryOptions{SelfID: "bob", SelfName: "Bob", Peer: "alice", RoundLength: round})
	dch.OnEmit(func(f *proto.Frame) {
		switch f.Event {
		case proto.EventPictionaryStart:
			var m proto.PictionaryStart
			require.NoError(t, f.Decode(&m))
			m.From = "alice"
			guesser.RemoteStart(m)
		case proto.EventPictionaryDraw:
			var m proto.Stroke
			require.NoError(t, f.Decode(&m))
			m.From = "alice"
			guesser.Canvas().RemoteStroke(m)
		case proto.EventPictionaryGameOver:
			var m proto.PictionaryGameOver
			require.NoError(t, f.Decode(&m))
			m.From = "alice"
			guesser.RemoteGameOver(m)
		}
	})
	gch.OnEmit(func(f *proto.Frame) {
		if f.Event != proto.EventPictionaryGuess {
			return
		}
		var m proto.PictionaryGuess
		require.NoError(t, f.Decode(&m))
		m.From = "bob"
		drawer.RemoteGuess(m)
	})
	t.Cleanup(func() {
		drawer.Close()
		guesser.Close()
	})
	return drawer, guesser, dch, gch
}

func TestPictionaryRound(t *testing.T) {
	drawer, guesser, dch, _ := picPair(t, time.Minute)

	require.NoError(t, drawer.Open())
	assert.NotNil(t, dch.Last(proto.EventPictionaryInvite))
	assert.ErrorIs(t, guesser.StartRound("Cat"), ErrNotDrawer)
	_, err := guesser.Guess("cat")
	assert.ErrorIs(t, err, ErrNotPlaying)

	require.NoError(t, drawer.StartRound("Cat"))
	assert.Equal(t, Guessing, guesser.View().Phase)
	assert.Empty(t, guesser.View().Word, "the guesser does not see the word")

	require.NoError(t, drawer.Canvas().LocalStroke(drawing.Stroke{PrevX: 1, PrevY: 1, CurrentX: 50, CurrentY: 50, Width: 4}))
	assert.Equal(t, 1, guesser.Canvas().Strokes())
	assert.ErrorIs(t, guesser.Canvas().LocalStroke(drawing.Stroke{CurrentX: 5, CurrentY: 5}), drawing.ErrNotDrawer)

	ok, err := guesser.Guess("dog")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, Guessing, drawer.View().Phase)

	ok, err = guesser.Guess("  cAT ")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, Over, guesser.View().Phase)
	assert.Equal(t, "You", guesser.View().Winner)
	assert.Equal(t, "Cat", guesser.View().Word)
	assert.Equal(t, Over, drawer.View().Phase)
	assert.Equal(t, "Bob", drawer.View().Winner)
	assert.Len(t, drawer.View().Guesses, 2)

	_, err = drawer.Guess("cat")
	assert.ErrorIs(t, err, ErrNotGuesser)

	require.NoError(t, drawer.PlayAgain())
	assert.Equal(t, Selecting, drawer.View().Phase)
	require.NoError(t, drawer.StartRound("Sun"))
	assert.Equal(t, 0, guesser.Canvas().Strokes(), "a new round starts on a clean canvas")
	assert.Empty(t, guesser.View().Guesses)
}

func TestPictionaryTimeout(t *testing.T) {
	drawer, guesser, dch, _ := picPair(t, 20*time.Millisecond)
	require.NoError(t, drawer.StartRound("Tree"))

	require.Eventually(t, func() bool {
		return drawer.View().Phase == Over && guesser.View().Phase == Over
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, Timeout, drawer.View().Winner)
	assert.Equal(t, Timeout, guesser.View().Winner)

	var over proto.PictionaryGameOver
	require.NoError(t, dch.Last(proto.EventPictionaryGameOver).Decode(&over))
	assert.Equal(t, proto.PictionaryGameOver{To: "bob", Winner: Timeout}, over)
}

func TestPictionaryIgnoresStrangers(t *testing.T) {
	_, guesser, _, _ := picPair(t, time.Minute)
	guesser.RemoteStart(proto.PictionaryStart{From: "mallory", Word: "Car"})
	assert.Equal(t, Selecting, guesser.View().Phase)
}

func TestBoardSizeLimits(t *testing.T) {
	ch := channel.NewMemory()
	assert.Equal(t, 3, NewTicTacToe(ch, "bob", "Alice", X, 1).View().Size)
	assert.Equal(t, MaxSize, NewTicTacToe(ch, "bob", "Alice", O, 1<<20).View().Size)
}
