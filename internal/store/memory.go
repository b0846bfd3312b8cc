package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mossy-p/webrtc-mesh/internal/models"
)

type memRoom struct {
	meta         models.Room
	messages     []models.SignalMessage
	nextID       int64
	participants map[string]struct{}
	presence     map[string]time.Time
}

// Memory is the single-process backend.
type Memory struct {
	opts Options

	mu    sync.Mutex
	rooms map[string]*memRoom
}

var _ Store = (*Memory)(nil)

func NewMemory(opts Options) *Memory {
	return &Memory{
		opts:  opts.withDefaults(),
		rooms: make(map[string]*memRoom),
	}
}

// room returns the room, creating an unscoped one when absent. Caller holds mu.
func (m *Memory) room(roomID string, meta models.RoomMeta) *memRoom {
	r, ok := m.rooms[roomID]
	if !ok {
		r = &memRoom{
			meta: models.Room{
				ID:           roomID,
				CreatedAt:    m.opts.Now().UTC(),
				OwnerGroupID: meta.OwnerGroupID,
				CreatedBy:    meta.CreatedBy,
			},
			nextID:       1,
			participants: make(map[string]struct{}),
			presence:     make(map[string]time.Time),
		}
		m.rooms[roomID] = r
	}
	return r
}

func (m *Memory) EnsureRoom(_ context.Context, roomID string, meta models.RoomMeta) (*models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room := m.room(roomID, meta).meta
	return &room, nil
}

func (m *Memory) GetRoom(_ context.Context, roomID string) (*models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	room := r.meta
	return &room, nil
}

func (m *Memory) ListRooms(_ context.Context, groupID string) ([]models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.Room, 0)
	for _, r := range m.rooms {
		if r.meta.OwnerGroupID == groupID {
			out = append(out, r.meta)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) DeleteRoom(_ context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.rooms, roomID)
	return nil
}

func (m *Memory) AddParticipant(_ context.Context, roomID, peerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.room(roomID, models.RoomMeta{})
	r.participants[peerID] = struct{}{}
	r.presence[peerID] = m.opts.Now()
	return nil
}

func (m *Memory) RemoveParticipant(_ context.Context, roomID, peerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomID]
	if !ok {
		return nil
	}
	delete(r.participants, peerID)
	delete(r.presence, peerID)

	if len(r.participants) == 0 && len(r.messages) > m.opts.GCThreshold {
		delete(m.rooms, roomID)
	}
	return nil
}

func (m *Memory) Heartbeat(_ context.Context, roomID, peerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.room(roomID, models.RoomMeta{})
	r.presence[peerID] = m.opts.Now()
	return nil
}

func (m *Memory) ActiveParticipants(_ context.Context, roomID string, window time.Duration) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomID]
	if !ok {
		return []string{}, nil
	}
	cutoff := m.opts.Now().Add(-window)
	out := make([]string, 0, len(r.presence))
	for id, ts := range r.presence {
		if !ts.Before(cutoff) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) AppendMessage(_ context.Context, roomID string, msg models.SignalMessage) (models.SignalMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.room(roomID, models.RoomMeta{})
	msg.ID = r.nextID
	r.nextID++
	if msg.TS == 0 {
		msg.TS = m.opts.Now().UnixMilli()
	}
	r.messages = append(r.messages, msg)
	if over := len(r.messages) - m.opts.Retention; over > 0 {
		r.messages = append(r.messages[:0:0], r.messages[over:]...)
	}
	return msg, nil
}

func (m *Memory) MessagesSince(_ context.Context, roomID string, cursor int64, filter MessageFilter) ([]models.SignalMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.SignalMessage, 0)
	r, ok := m.rooms[roomID]
	if !ok {
		return out, nil
	}
	start := sort.Search(len(r.messages), func(i int) bool { return r.messages[i].ID > cursor })
	for _, msg := range r.messages[start:] {
		if filter.match(msg) {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *Memory) LastMessageID(_ context.Context, roomID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomID]
	if !ok {
		return 0, nil
	}
	return r.nextID - 1, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
