package models

import "time"

// Room stores information about a room. It is never mutated after creation
// except through its participant set and message log.
type Room struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"createdAt"`
	OwnerGroupID string    `json:"ownerGroupId,omitempty"` // authorization scope, e.g. a class
	CreatedBy    string    `json:"createdBy,omitempty"`    // email of the creating user
}

// RoomMeta is applied only when a room is first created.
type RoomMeta struct {
	OwnerGroupID string
	CreatedBy    string
}

// CreateRoomRequest is the request body for creating a room
type CreateRoomRequest struct {
	ID string `json:"id,omitempty" binding:"omitempty,max=64"`
}

// CreateRoomResponse is the response for creating a room
type CreateRoomResponse struct {
	RoomID string `json:"roomId"`
}

// PeerRequest names the calling peer for join, leave and heartbeat
type PeerRequest struct {
	PeerID string `json:"peerId" binding:"required,max=128"`
}

// JoinResponse carries the roster and the cursor a new joiner starts from
type JoinResponse struct {
	Participants []string `json:"participants"`
	Cursor       int64    `json:"cursor"`
}

// ParticipantsResponse is the active roster
type ParticipantsResponse struct {
	Participants []string `json:"participants"`
}

// RoomListResponse lists the rooms of a group, newest first
type RoomListResponse struct {
	Rooms []Room `json:"rooms"`
}
