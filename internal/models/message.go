package models

import "encoding/json"

// SignalType represents the type of a relayed signaling message
type SignalType string

const (
	SignalTypeOffer     SignalType = "offer"
	SignalTypeAnswer    SignalType = "answer"
	SignalTypeCandidate SignalType = "candidate"
	SignalTypeChat      SignalType = "chat"
	SignalTypeBye       SignalType = "bye"
)

// Valid reports whether t is one of the relayed message types.
func (t SignalType) Valid() bool {
	switch t {
	case SignalTypeOffer, SignalTypeAnswer, SignalTypeCandidate, SignalTypeChat, SignalTypeBye:
		return true
	}
	return false
}

// SignalMessage is one entry of a room's message log.
// ID and TS are assigned by the relay at append time, never by the sender.
type SignalMessage struct {
	ID      int64           `json:"id"`
	From    string          `json:"from"`
	To      string          `json:"to,omitempty"` // empty means room broadcast
	Type    SignalType      `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	TS      int64           `json:"ts"`
}

// IsFor reports whether the message is addressed to peerID or broadcast.
func (m SignalMessage) IsFor(peerID string) bool {
	return m.To == "" || m.To == peerID
}

// PostSignalRequest is the body of POST /rooms/:roomId/signal
type PostSignalRequest struct {
	From    string          `json:"from" binding:"required"`
	Type    SignalType      `json:"type" binding:"required"`
	Payload json.RawMessage `json:"payload"`
	To      string          `json:"to,omitempty"`
}

// PostSignalResponse is returned after a message is appended
type PostSignalResponse struct {
	ID int64 `json:"id"`
}

// PollResponse is returned by GET /rooms/:roomId/signal
type PollResponse struct {
	Messages []SignalMessage `json:"messages"`
	LastID   int64           `json:"lastId"`
}

// StreamFrameKind tags a websocket signal stream frame
type StreamFrameKind string

const (
	FrameMessage StreamFrameKind = "message" // server → client: one log entry
	FramePost    StreamFrameKind = "post"    // client → server: append a message
	FrameAck     StreamFrameKind = "ack"     // server → client: id of an accepted post
	FrameError   StreamFrameKind = "error"
)

// StreamFrame is one frame on /ws/rooms/:roomId/signal
type StreamFrame struct {
	Kind    StreamFrameKind    `json:"kind"`
	Message *SignalMessage     `json:"message,omitempty"`
	Post    *PostSignalRequest `json:"post,omitempty"`
	ID      int64              `json:"id,omitempty"`
	Error   string             `json:"error,omitempty"`
}
