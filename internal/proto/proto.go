// Package proto is the single source of truth for event names and payload
// shapes carried on the relay channel. Wire format: one JSON frame per
// websocket text message, {"event": <name>, "data": <payload>}.
package proto

import (
	"encoding/json"
	"fmt"
	"time"
)

// ── Event names ──────────────────────────────────────────────────────────────

// Call signaling.
//
//	caller                          callee
//	──────────────────────────────────────────────────────
//	call-user     ─────────────────► (ringing)
//	              ◄───────────────── answer-call  (relay delivers call-accepted)
//	end-call      ◄────────────────► end-call     (either side, any time)
const (
	EventCallUser     = "call-user"
	EventCallAccepted = "call-accepted"
	EventAnswerCall   = "answer-call"
	EventEndCall      = "end-call"
)

// Typing and feed.
const (
	EventTyping        = "typing"
	EventStopTyping    = "stop-typing"
	EventDisplayTyping = "display-typing"
	EventHideTyping    = "hide-typing"
	EventNewMessage    = "new-message"
	EventMessagesRead  = "messages-read"
)

// Presence snapshot: the relay pushes the full online list on every change.
const EventOnlineUsers = "get-online-users"

// Whiteboard.
const (
	EventWhiteboardOpen  = "whiteboard-open"
	EventWhiteboardDraw  = "whiteboard-draw"
	EventWhiteboardClear = "whiteboard-clear"
)

// Turn game (tic-tac-toe).
const (
	EventGameInvite = "game-invite"
	EventGameMove   = "game-move"
	EventGameReset  = "game-reset"
	EventGameOver   = "game-over"
)

// Word-guess game on a shared canvas.
const (
	EventPictionaryInvite   = "pictionary-invite"
	EventPictionaryStart    = "pictionary-start"
	EventPictionaryDraw     = "pictionary-draw"
	EventPictionaryGuess    = "pictionary-guess"
	EventPictionaryGameOver = "pictionary-game-over"
)

var known = map[string]bool{
	EventCallUser: true, EventCallAccepted: true, EventAnswerCall: true, EventEndCall: true,
	EventTyping: true, EventStopTyping: true, EventDisplayTyping: true, EventHideTyping: true,
	EventNewMessage: true, EventMessagesRead: true, EventOnlineUsers: true,
	EventWhiteboardOpen: true, EventWhiteboardDraw: true, EventWhiteboardClear: true,
	EventGameInvite: true, EventGameMove: true, EventGameReset: true, EventGameOver: true,
	EventPictionaryInvite: true, EventPictionaryStart: true, EventPictionaryDraw: true,
	EventPictionaryGuess: true, EventPictionaryGameOver: true,
}

// Known reports whether event is in the catalog above.
func Known(event string) bool { return known[event] }

// End-call reason tags.
const (
	ReasonNormal   = "normal"
	ReasonDeclined = "declined"
	ReasonBusy     = "busy"
	ReasonNoAnswer = "no-answer"
)

// Media kinds carried in call-user.callType.
const (
	CallTypeAudio = "audio"
	CallTypeVideo = "video"
)

// ── Frame ────────────────────────────────────────────────────────────────────

// Frame is one event on the wire.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewFrame marshals payload into a frame for event.
func NewFrame(event string, payload any) (*Frame, error) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", event, err)
		}
		data = b
	}
	return &Frame{Event: event, Data: data}, nil
}

// Decode unmarshals the frame payload into v.
func (f *Frame) Decode(v any) error {
	if len(f.Data) == 0 {
		return fmt.Errorf("decode %s: empty payload", f.Event)
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", f.Event, err)
	}
	return nil
}

// Routing reads the to/from fields shared by peer-addressed payloads
// without decoding the rest.
type Routing struct {
	To         string `json:"to,omitempty"`
	From       string `json:"from,omitempty"`
	ReceiverID string `json:"receiverId,omitempty"`
}

func NowMillis() int64 { return time.Now().UnixMilli() }
