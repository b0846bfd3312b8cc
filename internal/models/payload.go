package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var (
	ErrUnknownSignalType = errors.New("unknown signal type")
	ErrInvalidPayload    = errors.New("invalid payload")
)

// MaxChatLength bounds the text of a chat message.
const MaxChatLength = 4096

var validate = validator.New(validator.WithRequiredStructEnabled())

// SessionDescriptionPayload carries an offer or answer.
type SessionDescriptionPayload struct {
	Type string `json:"type" validate:"required,oneof=offer answer"`
	SDP  string `json:"sdp" validate:"required"`
}

// CandidatePayload has the JSON shape of an ICE candidate init.
type CandidatePayload struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// ChatPayload is a text message shown to the room.
type ChatPayload struct {
	Text        string `json:"text" validate:"required,max=4096"`
	SenderName  string `json:"senderName,omitempty" validate:"max=256"`
	SenderEmail string `json:"senderEmail,omitempty" validate:"max=256"`
}

// ByePayload is empty; a bye only names its sender.
type ByePayload struct{}

// ValidatePayload checks that raw has the shape required by t. An offer or
// answer must carry a description of the same type. An empty candidate string
// is accepted: it marks end-of-candidates.
func ValidatePayload(t SignalType, raw json.RawMessage) error {
	switch t {
	case SignalTypeOffer, SignalTypeAnswer:
		var p SessionDescriptionPayload
		if err := decodeStrict(raw, &p); err != nil {
			return err
		}
		if err := validate.Struct(p); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if p.Type != string(t) {
			return fmt.Errorf("%w: description type %q on %s message", ErrInvalidPayload, p.Type, t)
		}
		return nil
	case SignalTypeCandidate:
		var p CandidatePayload
		if err := decodeStrict(raw, &p); err != nil {
			return err
		}
		if p.Candidate != "" && p.SDPMid == nil && p.SDPMLineIndex == nil {
			return fmt.Errorf("%w: candidate needs sdpMid or sdpMLineIndex", ErrInvalidPayload)
		}
		return nil
	case SignalTypeChat:
		var p ChatPayload
		if err := decodeStrict(raw, &p); err != nil {
			return err
		}
		if err := validate.Struct(p); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		return nil
	case SignalTypeBye:
		if isEmpty(raw) {
			return nil
		}
		var p ByePayload
		return decodeStrict(raw, &p)
	}
	return fmt.Errorf("%w: %q", ErrUnknownSignalType, t)
}

func decodeStrict(raw json.RawMessage, v any) error {
	if isEmpty(raw) {
		return fmt.Errorf("%w: missing", ErrInvalidPayload)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

func isEmpty(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// DecodePayload unmarshals m's payload into v.
func (m SignalMessage) DecodePayload(v any) error {
	return decodeStrict(m.Payload, v)
}
