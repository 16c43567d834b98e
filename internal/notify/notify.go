// Package notify is the local notification side of the client: a notice for
// messages outside the open conversation and a looping ringtone for incoming
// calls. On a terminal both are the bell character.
package notify

import (
	"io"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("notify")

const bell = "\a"

// RingInterval is how often the ringtone repeats.
const RingInterval = 2 * time.Second

// Notifier shows message notices. The zero value is silent.
type Notifier struct {
	mu    sync.Mutex
	out   io.Writer
	muted bool
	sound bool
}

func New(out io.Writer, muted, sound bool) *Notifier {
	return &Notifier{out: out, muted: muted, sound: sound}
}

// Configure applies reloaded settings.
func (n *Notifier) Configure(muted, sound bool) {
	n.mu.Lock()
	n.muted, n.sound = muted, sound
	n.mu.Unlock()
}

// Message announces a message from a conversation that is not open.
func (n *Notifier) Message(conversation, sender string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.muted {
		return
	}
	log.Infof("new message in [%s] from [%s]", conversation, sender)
	if n.sound && n.out != nil {
		_, _ = io.WriteString(n.out, bell)
	}
}

// Ringer loops the ringtone between Start and Stop. Start while ringing and
// Stop while silent do nothing.
type Ringer struct {
	out      io.Writer
	interval time.Duration

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func NewRinger(out io.Writer, interval time.Duration) *Ringer {
	if interval <= 0 {
		interval = RingInterval
	}
	return &Ringer{out: out, interval: interval}
}

func (r *Ringer) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stop != nil {
		return
	}
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	go r.loop(r.stop, r.done)
}

func (r *Ringer) Stop() {
	r.mu.Lock()
	stop, done := r.stop, r.done
	r.stop, r.done = nil, nil
	r.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// Ringing reports whether the ringtone is playing.
func (r *Ringer) Ringing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stop != nil
}

func (r *Ringer) loop(stop, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		r.ring()
		select {
		case <-stop:
			return
		case <-t.C:
		}
	}
}

func (r *Ringer) ring() {
	if r.out == nil {
		return
	}
	if _, err := io.WriteString(r.out, bell); err != nil {
		log.Debugf("ringtone: %s", err)
	}
}
