package proto

import (
	"encoding/json"
	"time"
)

// ── Call ── call-user / call-accepted / answer-call / end-call ───────────────

// CallUser is sent by the caller; the relay forwards it unchanged (plus from)
// to the callee.
type CallUser struct {
	To       string          `json:"to"`
	Signal   json.RawMessage `json:"signal"`
	From     string          `json:"from"`
	Name     string          `json:"name"`
	CallType string          `json:"callType"`
}

// CallAccepted reaches the caller once the callee has answered.
type CallAccepted struct {
	Signal json.RawMessage `json:"signal"`
	From   string          `json:"from,omitempty"`
}

// AnswerCall carries the answerer's session description to the caller.
type AnswerCall struct {
	Signal json.RawMessage `json:"signal"`
	To     string          `json:"to"`
}

// EndCall terminates a call in either direction.
type EndCall struct {
	To     string `json:"to"`
	From   string `json:"from,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// ── Typing ───────────────────────────────────────────────────────────────────

// Typing is emitted for both typing and stop-typing.
type Typing struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
}

// TypingNotice is what the relay delivers as display-typing / hide-typing.
type TypingNotice struct {
	SenderID string `json:"senderId"`
}

// ── Messages ─────────────────────────────────────────────────────────────────

// Message is the full message object used by new-message and the REST
// collaborators. Text is ciphertext on the wire.
type Message struct {
	ID             string    `json:"_id"`
	SenderID       string    `json:"senderId"`
	ReceiverID     string    `json:"receiverId,omitempty"`
	ConversationID string    `json:"conversationId,omitempty"`
	Text           string    `json:"text,omitempty"`
	Image          string    `json:"image,omitempty"`
	Audio          string    `json:"audio,omitempty"`
	Duration       int       `json:"duration,omitempty"`
	IsInvisible    bool      `json:"isInvisible,omitempty"`
	IsRead         bool      `json:"isRead"`
	CreatedAt      time.Time `json:"createdAt"`
}

// MessagesRead tells the sender that readBy has read their messages.
type MessagesRead struct {
	ReadBy string `json:"readBy"`
}

// ── Whiteboard / Pictionary canvas ───────────────────────────────────────────

// Open is the payload of whiteboard-open, game-reset and other bare
// peer-addressed notices.
type Open struct {
	To   string `json:"to"`
	From string `json:"from,omitempty"`
}

// Stroke is one line segment in logical canvas coordinates.
type Stroke struct {
	To       string  `json:"to"`
	From     string  `json:"from,omitempty"`
	PrevX    float64 `json:"prevX"`
	PrevY    float64 `json:"prevY"`
	CurrentX float64 `json:"currentX"`
	CurrentY float64 `json:"currentY"`
	Color    string  `json:"color"`
	Width    float64 `json:"width"`
}

// ── Turn game ────────────────────────────────────────────────────────────────

type GameInvite struct {
	To         string `json:"to"`
	From       string `json:"from,omitempty"`
	SenderName string `json:"senderName,omitempty"`
	Size       int    `json:"size,omitempty"`
}

type GameMove struct {
	To     string `json:"to"`
	From   string `json:"from,omitempty"`
	Index  int    `json:"index"`
	Symbol string `json:"symbol"`
}

type GameOver struct {
	To     string `json:"to"`
	From   string `json:"from,omitempty"`
	Winner string `json:"winner"` // symbol or "draw"
	Line   []int  `json:"line,omitempty"`
}

// ── Pictionary ───────────────────────────────────────────────────────────────

type PictionaryInvite struct {
	To         string `json:"to"`
	From       string `json:"from,omitempty"`
	SenderName string `json:"senderName,omitempty"`
}

type PictionaryStart struct {
	To       string `json:"to"`
	From     string `json:"from,omitempty"`
	Word     string `json:"word"`
	DrawerID string `json:"drawerId"`
}

type PictionaryGuess struct {
	To         string `json:"to"`
	From       string `json:"from,omitempty"`
	Text       string `json:"text"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName,omitempty"`
	IsCorrect  bool   `json:"isCorrect"`
}

type PictionaryGameOver struct {
	To     string `json:"to"`
	From   string `json:"from,omitempty"`
	Winner string `json:"winner"` // "timeout" or the winner's name
}
