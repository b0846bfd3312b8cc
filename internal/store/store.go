// Package store holds room metadata, the per-room message log, the
// participant set and presence timestamps behind one interface.
//
// Two backends implement it: an in-process map for single-instance
// deployments and tests, and Redis for deployments with several relay
// instances sharing state.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/mossy-p/webrtc-mesh/internal/models"
)

var (
	ErrRoomNotFound = errors.New("room not found")

	// ErrUnavailable wraps backend failures. Callers may retry.
	ErrUnavailable = errors.New("store unavailable")
)

const (
	DefaultRetention   = 5000
	DefaultGCThreshold = 2000
)

// MessageFilter narrows MessagesSince. Zero value returns everything.
type MessageFilter struct {
	// ExcludeFrom drops messages authored by this peer.
	ExcludeFrom string
	// Recipient drops messages addressed to a different peer; broadcasts pass.
	Recipient string
}

func (f MessageFilter) match(m models.SignalMessage) bool {
	if f.ExcludeFrom != "" && m.From == f.ExcludeFrom {
		return false
	}
	if f.Recipient != "" && !m.IsFor(f.Recipient) {
		return false
	}
	return true
}

// Store is the room storage contract. Every method is safe for concurrent use.
type Store interface {
	// EnsureRoom returns the existing room unmodified, or creates it with meta.
	EnsureRoom(ctx context.Context, roomID string, meta models.RoomMeta) (*models.Room, error)
	GetRoom(ctx context.Context, roomID string) (*models.Room, error)
	ListRooms(ctx context.Context, groupID string) ([]models.Room, error)
	DeleteRoom(ctx context.Context, roomID string) error

	AddParticipant(ctx context.Context, roomID, peerID string) error
	RemoveParticipant(ctx context.Context, roomID, peerID string) error
	Heartbeat(ctx context.Context, roomID, peerID string) error
	ActiveParticipants(ctx context.Context, roomID string, window time.Duration) ([]string, error)

	// AppendMessage assigns the next id of the room's log to msg and stores it.
	// Concurrent appends never share an id and ids follow append order.
	AppendMessage(ctx context.Context, roomID string, msg models.SignalMessage) (models.SignalMessage, error)
	// MessagesSince returns retained messages with id > cursor in ascending id order.
	MessagesSince(ctx context.Context, roomID string, cursor int64, filter MessageFilter) ([]models.SignalMessage, error)
	LastMessageID(ctx context.Context, roomID string) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// Options are shared by both backends.
type Options struct {
	// Retention caps the number of messages kept per room.
	Retention int
	// GCThreshold drops an empty room whose backlog is larger than this.
	// Memory backend only; Redis keys expire instead.
	GCThreshold int
	// Now is the clock used for presence and timestamps.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Retention <= 0 {
		o.Retention = DefaultRetention
	}
	if o.GCThreshold <= 0 {
		o.GCThreshold = DefaultGCThreshold
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}
