package relay

import (
	"errors"

	"github.com/mossy-p/webrtc-mesh/internal/store"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is returned when the caller's group does not own the room.
	ErrForbidden      = errors.New("forbidden")
	ErrInvalidRoomID  = errors.New("invalid room id")
	ErrInvalidPeerID  = errors.New("invalid peer id")
	ErrInvalidMessage = errors.New("invalid message")
	ErrInvalidCursor  = errors.New("invalid cursor")

	ErrRoomNotFound = store.ErrRoomNotFound
	ErrUnavailable  = store.ErrUnavailable
)
