package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/petervdpas/goopchat/internal/call"
	"github.com/petervdpas/goopchat/internal/drawing"
	"github.com/petervdpas/goopchat/internal/feed"
	"github.com/petervdpas/goopchat/internal/game"
	"github.com/petervdpas/goopchat/internal/session"
)

// ErrQuit is returned by Exec for /quit.
var ErrQuit = errors.New("quit")

const help = `/select <user>            open a conversation
/msg <text>               send to the open conversation (plain text also sends)
/invisible <text>         send with invisible ink
/call <user> [audio]      start a call
/answer /decline /end     handle the current call
/mute [video]             toggle local audio or video
/wb <user>                open a whiteboard
/draw x1 y1 x2 y2         draw a line on the open canvas, in canvas pixels
/pen <color> [width]      set the pen
/eraser                   toggle the eraser
/clear                    clear the whiteboard
/png <file>               save the canvas
/ttt <user> [size]        play tic-tac-toe
/move <cell>              make a move
/reset                    restart the game
/pic <user>               play pictionary, you draw
/word [word]              start a round
/guess <text>             guess the word
/close                    close the activity
/online /unread /recent   list users and conversations
/search <query>           find users
/quit`

// Run reads commands from in until EOF, /quit or ctx is done.
func (c *Client) Run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			out, err := c.Exec(ctx, line)
			if errors.Is(err, ErrQuit) {
				return nil
			}
			if err != nil {
				c.printf("! %s", err)
				continue
			}
			if out != "" {
				c.printf("%s", out)
			}
		}
	}
}

// Exec runs one command line and returns its output.
func (c *Client) Exec(ctx context.Context, line string) (string, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", nil
	}
	if !strings.HasPrefix(line, "/") {
		c.typing()
		return c.send(ctx, feed.Draft{Text: line})
	}
	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	args := strings.Fields(rest)

	switch name {
	case "/help":
		return help, nil
	case "/quit":
		return "", ErrQuit

	// conversations
	case "/select":
		if len(args) != 1 {
			return "", errors.New("usage: /select <user>")
		}
		_, err := c.Select(ctx, args[0])
		return "", err
	case "/msg":
		return c.send(ctx, feed.Draft{Text: rest})
	case "/invisible":
		return c.send(ctx, feed.Draft{Text: rest, IsInvisible: true})
	case "/online":
		return strings.Join(c.Presence.Online(), "\n"), nil
	case "/unread":
		return c.unread(), nil
	case "/recent":
		users, err := c.Feed.LoadRecents(ctx)
		var b strings.Builder
		for _, u := range users {
			fmt.Fprintf(&b, "%s %s (%d unread)\n", u.ID, u.FullName, c.Feed.Unread(u.ID))
		}
		return strings.TrimRight(b.String(), "\n"), err
	case "/search":
		users, err := c.Feed.Search(ctx, rest)
		if err != nil {
			return "", err
		}
		var b strings.Builder
		for _, u := range users {
			fmt.Fprintf(&b, "%s %s\n", u.ID, u.FullName)
		}
		return strings.TrimRight(b.String(), "\n"), nil

	// calls
	case "/call":
		if len(args) < 1 {
			return "", errors.New("usage: /call <user> [audio]")
		}
		kind := call.Video
		if (len(args) > 1 && args[1] == "audio") || c.cfg.Call.PreferAudioOnly {
			kind = call.Audio
		}
		return "", c.Calls.StartOutgoing(ctx, args[0], kind)
	case "/answer":
		return "", c.Calls.Answer(ctx)
	case "/decline":
		return "", c.Calls.Decline()
	case "/end":
		return "", c.Calls.End("")
	case "/mute":
		toggle, what := c.Calls.ToggleAudio, "audio"
		if len(args) > 0 && args[0] == "video" {
			toggle, what = c.Calls.ToggleVideo, "video"
		}
		muted, err := toggle()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s muted: %t", what, muted), nil

	// activities
	case "/wb":
		return c.open(ctx, args, session.Whiteboard)
	case "/ttt":
		out, err := c.open(ctx, args, session.TicTacToe)
		if err != nil {
			return "", err
		}
		return out + "\n" + c.board(), nil
	case "/pic":
		out, err := c.open(ctx, args, session.Pictionary)
		if err != nil {
			return "", err
		}
		return out + "\nwords: " + strings.Join(game.Words, ", "), nil
	case "/close":
		return "", c.Activity.Close()
	case "/draw":
		return "", c.draw(args)
	case "/pen":
		if len(args) < 1 {
			return "", errors.New("usage: /pen <color> [width]")
		}
		c.pen.Color = args[0]
		if len(args) > 1 {
			w, err := strconv.ParseFloat(args[1], 64)
			if err != nil || w <= 0 {
				return "", errors.New("pen width must be a positive number")
			}
			c.pen.Width = w
		}
		return "", nil
	case "/eraser":
		c.erasing = !c.erasing
		c.pen.SetEraser(c.erasing)
		return fmt.Sprintf("eraser: %t", c.erasing), nil
	case "/clear":
		wb := c.Activity.Whiteboard()
		if wb == nil {
			return "", fmt.Errorf("clear: %w", session.ErrNoActivity)
		}
		return "", wb.Clear()
	case "/png":
		return c.savePNG(rest)
	case "/move":
		g := c.Activity.TicTacToe()
		if g == nil {
			return "", fmt.Errorf("move: %w", session.ErrNoActivity)
		}
		i, err := strconv.Atoi(rest)
		if err != nil {
			return "", fmt.Errorf("usage: /move <cell>")
		}
		if err := g.Move(i); err != nil {
			return "", err
		}
		return c.board(), nil
	case "/reset":
		g := c.Activity.TicTacToe()
		if g == nil {
			return "", fmt.Errorf("reset: %w", session.ErrNoActivity)
		}
		if err := g.Reset(); err != nil {
			return "", err
		}
		return c.board(), nil
	case "/word":
		p := c.Activity.Pictionary()
		if p == nil {
			return "", fmt.Errorf("word: %w", session.ErrNoActivity)
		}
		if p.View().Phase == game.Over {
			if err := p.PlayAgain(); err != nil {
				return "", err
			}
		}
		word := rest
		if word == "" {
			word = game.Words[rand.IntN(len(game.Words))]
		}
		return "drawing: " + word, p.StartRound(word)
	case "/guess":
		p := c.Activity.Pictionary()
		if p == nil {
			return "", fmt.Errorf("guess: %w", session.ErrNoActivity)
		}
		ok, err := p.Guess(rest)
		if err != nil {
			return "", err
		}
		if ok {
			return "correct!", nil
		}
		return "nope", nil
	}
	return "", fmt.Errorf("unknown command %s (try /help)", name)
}

func (c *Client) send(ctx context.Context, d feed.Draft) (string, error) {
	_, err := c.Feed.Send(ctx, d)
	return "", err
}

func (c *Client) typing() {
	if c.Feed.Selected() == "" {
		return
	}
	if err := c.Feed.LocalTyping(); err != nil {
		log.Debugf("typing: %s", err)
	}
}

func (c *Client) open(ctx context.Context, args []string, kind session.Kind) (string, error) {
	if len(args) < 1 {
		return "", fmt.Errorf("usage: /%s <user>", kind)
	}
	peer := args[0]
	if kind == session.TicTacToe && len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 3 || n > game.MaxSize {
			return "", fmt.Errorf("board size must be a number from 3 to %d", game.MaxSize)
		}
		c.Activity.SetBoardSize(n)
	}
	if err := c.Activity.Open(kind, peer); err != nil {
		return "", err
	}
	if c.Feed.Selected() != peer {
		if _, err := c.Select(ctx, peer); err != nil {
			log.Warnf("select [%s]: %s", peer, err)
		}
	}
	return fmt.Sprintf("%s with %s", kind, peer), nil
}

func (c *Client) draw(args []string) error {
	if len(args) != 4 {
		return errors.New("usage: /draw x1 y1 x2 y2")
	}
	var v [4]float64
	for i, a := range args {
		f, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return fmt.Errorf("draw: %w", err)
		}
		v[i] = f
	}
	canvas := c.canvas()
	if canvas == nil {
		return fmt.Errorf("draw: %w", session.ErrNoActivity)
	}
	// The terminal shows the raster as is, so display and backing sizes match.
	b := canvas.Surface().Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	c.pen.Resize(drawing.Viewport{DisplayWidth: w, DisplayHeight: h, BackingWidth: w, BackingHeight: h})
	c.pen.Down(v[0], v[1])
	st, _ := c.pen.Move(v[2], v[3])
	c.pen.Up()
	return canvas.LocalStroke(st)
}

func (c *Client) canvas() *drawing.Session {
	if wb := c.Activity.Whiteboard(); wb != nil {
		return wb
	}
	if p := c.Activity.Pictionary(); p != nil {
		return p.Canvas()
	}
	return nil
}

func (c *Client) savePNG(path string) (string, error) {
	canvas := c.canvas()
	if canvas == nil || canvas.Surface() == nil {
		return "", fmt.Errorf("png: %w", session.ErrNoActivity)
	}
	if path == "" {
		path = "canvas.png"
	}
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := canvas.Surface().WritePNG(f); err != nil {
		return "", err
	}
	return "saved " + path, nil
}

func (c *Client) board() string {
	g := c.Activity.TicTacToe()
	if g == nil {
		return ""
	}
	v := g.View()
	var b strings.Builder
	for i, s := range v.Board {
		if s == game.Empty {
			fmt.Fprintf(&b, "%3d", i)
		} else {
			fmt.Fprintf(&b, "%3s", s)
		}
		if (i+1)%v.Size == 0 {
			b.WriteByte('\n')
		}
	}
	switch {
	case v.Result != nil:
		b.WriteString(v.Result.String())
	case v.MyTurn():
		fmt.Fprintf(&b, "your turn (%s)", v.Me)
	default:
		fmt.Fprintf(&b, "%s", v.State)
	}
	return b.String()
}

func (c *Client) unread() string {
	counts := c.Feed.UnreadCounts()
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %d\n", k, counts[k])
	}
	return strings.TrimRight(b.String(), "\n")
}
