// Package relay is the room-scoped signaling relay: an ordered message log per
// room plus participant presence. It never sees media, only the messages peers
// exchange to set up their direct connections.
package relay

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"regexp"
	"time"

	"github.com/mossy-p/webrtc-mesh/internal/metrics"
	"github.com/mossy-p/webrtc-mesh/internal/models"
	"github.com/mossy-p/webrtc-mesh/internal/store"
)

const (
	DefaultLivenessWindow = 15 * time.Second

	roomCodeLength = 6
	codeChars      = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789" // Removed ambiguous chars
	maxPeerIDLen   = 128
)

var roomIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

type Config struct {
	// LivenessWindow is how long a heartbeat keeps a peer in the active roster.
	LivenessWindow time.Duration
	Now            func() time.Time
}

func (c Config) withDefaults() Config {
	if c.LivenessWindow <= 0 {
		c.LivenessWindow = DefaultLivenessWindow
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Relay implements the room operations on top of a store.Store.
type Relay struct {
	store   store.Store
	cfg     Config
	metrics *metrics.Metrics
}

func New(s store.Store, cfg Config, m *metrics.Metrics) *Relay {
	if m == nil {
		m = metrics.New()
	}
	return &Relay{store: s, cfg: cfg.withDefaults(), metrics: m}
}

// JoinResult is the roster at join time and the cursor to poll from.
type JoinResult struct {
	Participants []string
	Cursor       int64
}

// PollFilter narrows Poll.
type PollFilter struct {
	ExcludeFrom string
	Recipient   string
}

// PollResult holds the messages after a cursor and the cursor to use next.
type PollResult struct {
	Messages []models.SignalMessage
	LastID   int64
}

// PostRequest is one message to append.
type PostRequest struct {
	From    string
	To      string
	Type    models.SignalType
	Payload json.RawMessage
}

func (r *Relay) reject(reason string, err error) error {
	r.metrics.Rejected.WithLabelValues(reason).Inc()
	return err
}

func (r *Relay) storeErr(err error) error {
	if errors.Is(err, store.ErrUnavailable) {
		r.metrics.Rejected.WithLabelValues(metrics.ReasonUnavailable).Inc()
	}
	return err
}

func validateRoomID(roomID string) error {
	if !roomIDPattern.MatchString(roomID) {
		return fmt.Errorf("%w: %q", ErrInvalidRoomID, roomID)
	}
	return nil
}

func validatePeerID(peerID string) error {
	if peerID == "" || len(peerID) > maxPeerIDLen {
		return fmt.Errorf("%w: %q", ErrInvalidPeerID, peerID)
	}
	for _, c := range peerID {
		if c <= ' ' || c == 0x7f {
			return fmt.Errorf("%w: %q", ErrInvalidPeerID, peerID)
		}
	}
	return nil
}

// authorize rejects callers outside the room's scope.
func (r *Relay) authorize(room *models.Room, user models.User) error {
	if user.Email == "" || user.GroupID == "" {
		return ErrUnauthorized
	}
	if room.OwnerGroupID != "" && room.OwnerGroupID != user.GroupID {
		return r.reject(metrics.ReasonForbidden, ErrForbidden)
	}
	return nil
}

// ensureScoped creates the room for user's group if absent and checks scope.
func (r *Relay) ensureScoped(ctx context.Context, user models.User, roomID string) (*models.Room, error) {
	if user.Email == "" || user.GroupID == "" {
		return nil, ErrUnauthorized
	}
	if err := validateRoomID(roomID); err != nil {
		return nil, r.reject(metrics.ReasonInvalid, err)
	}
	room, err := r.store.EnsureRoom(ctx, roomID, models.RoomMeta{OwnerGroupID: user.GroupID, CreatedBy: user.Email})
	if err != nil {
		return nil, r.storeErr(err)
	}
	if err := r.authorize(room, user); err != nil {
		return nil, err
	}
	return room, nil
}

// existingScoped returns the room if present and in scope. A missing room is
// reported as store.ErrRoomNotFound.
func (r *Relay) existingScoped(ctx context.Context, user models.User, roomID string) (*models.Room, error) {
	if user.Email == "" || user.GroupID == "" {
		return nil, ErrUnauthorized
	}
	if err := validateRoomID(roomID); err != nil {
		return nil, r.reject(metrics.ReasonInvalid, err)
	}
	room, err := r.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, r.storeErr(err)
	}
	if err := r.authorize(room, user); err != nil {
		return nil, err
	}
	return room, nil
}

// Join registers peerID in the room, creating the room scoped to the caller's
// group when absent. The returned cursor is the newest message id: a late
// joiner only sees messages appended after it joined.
func (r *Relay) Join(ctx context.Context, user models.User, roomID, peerID string) (JoinResult, error) {
	if err := validatePeerID(peerID); err != nil {
		return JoinResult{}, r.reject(metrics.ReasonInvalid, err)
	}
	if _, err := r.ensureScoped(ctx, user, roomID); err != nil {
		return JoinResult{}, err
	}
	if err := r.store.AddParticipant(ctx, roomID, peerID); err != nil {
		return JoinResult{}, r.storeErr(err)
	}
	roster, err := r.store.ActiveParticipants(ctx, roomID, r.cfg.LivenessWindow)
	if err != nil {
		return JoinResult{}, r.storeErr(err)
	}
	cursor, err := r.store.LastMessageID(ctx, roomID)
	if err != nil {
		return JoinResult{}, r.storeErr(err)
	}

	r.metrics.Joins.Inc()
	slog.Info("peer joined room", "room_id", roomID, "peer_id", peerID, "user", user.Email, "participants", len(roster))
	return JoinResult{Participants: roster, Cursor: cursor}, nil
}

// Post validates and appends one message; the relay assigns its id and time.
func (r *Relay) Post(ctx context.Context, user models.User, roomID string, req PostRequest) (int64, error) {
	if err := validatePeerID(req.From); err != nil {
		return 0, r.reject(metrics.ReasonInvalid, fmt.Errorf("%w: from: %v", ErrInvalidMessage, err))
	}
	if req.To != "" {
		if err := validatePeerID(req.To); err != nil {
			return 0, r.reject(metrics.ReasonInvalid, fmt.Errorf("%w: to: %v", ErrInvalidMessage, err))
		}
	}
	if !req.Type.Valid() {
		return 0, r.reject(metrics.ReasonInvalid, fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, req.Type))
	}
	if err := models.ValidatePayload(req.Type, req.Payload); err != nil {
		return 0, r.reject(metrics.ReasonInvalid, fmt.Errorf("%w: %v", ErrInvalidMessage, err))
	}
	if _, err := r.ensureScoped(ctx, user, roomID); err != nil {
		return 0, err
	}

	msg, err := r.store.AppendMessage(ctx, roomID, models.SignalMessage{
		From:    req.From,
		To:      req.To,
		Type:    req.Type,
		Payload: req.Payload,
		TS:      r.cfg.Now().UnixMilli(),
	})
	if err != nil {
		return 0, r.storeErr(err)
	}

	r.metrics.Messages.WithLabelValues(string(req.Type)).Inc()
	slog.Debug("message appended", "room_id", roomID, "id", msg.ID, "type", req.Type, "from", req.From, "to", req.To)
	return msg.ID, nil
}

// Poll returns every retained message with id > since matching filter.
// LastID is the greatest returned id, or since when nothing matched, so
// repeated polling without progress is a no-op.
func (r *Relay) Poll(ctx context.Context, user models.User, roomID string, since int64, filter PollFilter) (PollResult, error) {
	if since < 0 {
		return PollResult{}, r.reject(metrics.ReasonInvalid, ErrInvalidCursor)
	}
	empty := PollResult{Messages: []models.SignalMessage{}, LastID: since}
	if _, err := r.existingScoped(ctx, user, roomID); err != nil {
		if errors.Is(err, store.ErrRoomNotFound) {
			return empty, nil
		}
		return PollResult{}, err
	}

	msgs, err := r.store.MessagesSince(ctx, roomID, since, store.MessageFilter{
		ExcludeFrom: filter.ExcludeFrom,
		Recipient:   filter.Recipient,
	})
	if err != nil {
		return PollResult{}, r.storeErr(err)
	}
	r.metrics.Polls.Inc()

	if len(msgs) == 0 {
		return empty, nil
	}
	return PollResult{Messages: msgs, LastID: msgs[len(msgs)-1].ID}, nil
}

// Heartbeat records presence for peerID and returns the active roster.
// Heartbeats for a room that does not exist are ignored.
func (r *Relay) Heartbeat(ctx context.Context, user models.User, roomID, peerID string) ([]string, error) {
	if err := validatePeerID(peerID); err != nil {
		return nil, r.reject(metrics.ReasonInvalid, err)
	}
	if _, err := r.existingScoped(ctx, user, roomID); err != nil {
		if errors.Is(err, store.ErrRoomNotFound) {
			return []string{}, nil
		}
		return nil, err
	}
	if err := r.store.Heartbeat(ctx, roomID, peerID); err != nil {
		return nil, r.storeErr(err)
	}
	r.metrics.Heartbeats.Inc()
	return r.activeRoster(ctx, roomID)
}

// Roster returns the peers whose last heartbeat is within the liveness window.
func (r *Relay) Roster(ctx context.Context, user models.User, roomID string) ([]string, error) {
	if _, err := r.existingScoped(ctx, user, roomID); err != nil {
		if errors.Is(err, store.ErrRoomNotFound) {
			return []string{}, nil
		}
		return nil, err
	}
	return r.activeRoster(ctx, roomID)
}

func (r *Relay) activeRoster(ctx context.Context, roomID string) ([]string, error) {
	roster, err := r.store.ActiveParticipants(ctx, roomID, r.cfg.LivenessWindow)
	if err != nil {
		return nil, r.storeErr(err)
	}
	return roster, nil
}

// Leave removes peerID from the room. Leaving a missing room, or leaving twice,
// succeeds.
func (r *Relay) Leave(ctx context.Context, user models.User, roomID, peerID string) error {
	if err := validatePeerID(peerID); err != nil {
		return r.reject(metrics.ReasonInvalid, err)
	}
	if _, err := r.existingScoped(ctx, user, roomID); err != nil {
		if errors.Is(err, store.ErrRoomNotFound) {
			return nil
		}
		return err
	}
	if err := r.store.RemoveParticipant(ctx, roomID, peerID); err != nil {
		return r.storeErr(err)
	}
	r.metrics.Leaves.Inc()
	slog.Info("peer left room", "room_id", roomID, "peer_id", peerID)
	return nil
}

// CreateRoom creates a room owned by the caller's group. Only teachers may
// create rooms explicitly; an empty id gets a random short code.
func (r *Relay) CreateRoom(ctx context.Context, user models.User, roomID string) (*models.Room, error) {
	if user.Email == "" {
		return nil, ErrUnauthorized
	}
	if user.Role != models.RoleTeacher {
		return nil, r.reject(metrics.ReasonForbidden, ErrForbidden)
	}
	if roomID == "" {
		roomID = generateRoomCode()
	}
	room, err := r.ensureScoped(ctx, user, roomID)
	if err != nil {
		return nil, err
	}
	slog.Info("room created", "room_id", room.ID, "group", room.OwnerGroupID, "by", user.Email)
	return room, nil
}

// ListRooms lists the rooms of groupID, which must be the caller's group.
// An empty groupID means the caller's group.
func (r *Relay) ListRooms(ctx context.Context, user models.User, groupID string) ([]models.Room, error) {
	if user.Email == "" || user.GroupID == "" {
		return nil, ErrUnauthorized
	}
	if groupID == "" {
		groupID = user.GroupID
	}
	if groupID != user.GroupID {
		return nil, r.reject(metrics.ReasonForbidden, ErrForbidden)
	}
	rooms, err := r.store.ListRooms(ctx, groupID)
	if err != nil {
		return nil, r.storeErr(err)
	}
	return rooms, nil
}

// RoomExists reports whether roomID exists. Rooms of other groups are
// reported as missing.
func (r *Relay) RoomExists(ctx context.Context, user models.User, roomID string) (bool, error) {
	_, err := r.existingScoped(ctx, user, roomID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, store.ErrRoomNotFound), errors.Is(err, ErrForbidden):
		return false, nil
	}
	return false, err
}

// DeleteRoom removes a room with its log and roster. Only its creator may.
func (r *Relay) DeleteRoom(ctx context.Context, user models.User, roomID string) error {
	room, err := r.existingScoped(ctx, user, roomID)
	if err != nil {
		return err
	}
	if room.CreatedBy != user.Email {
		return r.reject(metrics.ReasonForbidden, ErrForbidden)
	}
	if err := r.store.DeleteRoom(ctx, roomID); err != nil {
		return r.storeErr(err)
	}
	slog.Info("room deleted", "room_id", roomID, "by", user.Email)
	return nil
}

// generateRoomCode generates a random room code
func generateRoomCode() string {
	code := make([]byte, roomCodeLength)
	for i := range code {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(codeChars))))
		code[i] = codeChars[n.Int64()]
	}
	return string(code)
}

// Ping checks that the backing store answers.
func (r *Relay) Ping(ctx context.Context) error {
	return r.store.Ping(ctx)
}
