package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/mossy-p/webrtc-mesh/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	roomTTL     = 24 * time.Hour
	presenceTTL = 10 * time.Minute
)

func kRoom(id string) string         { return "room:" + id }
func kParticipants(id string) string { return "room:" + id + ":participants" }
func kPresence(id string) string     { return "room:" + id + ":presence" }
func kMsgSeq(id string) string       { return "room:" + id + ":msg_id" }
func kMessages(id string) string     { return "room:" + id + ":messages" }
func kBodies(id string) string       { return "room:" + id + ":bodies" }
func kGroupRooms(g string) string    { return "group:" + g + ":rooms" }

// appendScript assigns the next id and stores the body in one step, so a
// reader never sees id N+1 before id N has been written.
//
// KEYS: seq, messages, bodies, room. ARGV: body, retention, ttl ms.
var appendScript = redis.NewScript(`
local id = redis.call('INCR', KEYS[1])
local member = tostring(id)
redis.call('HSET', KEYS[3], member, ARGV[1])
redis.call('ZADD', KEYS[2], id, member)
local keep = tonumber(ARGV[2])
local n = redis.call('ZCARD', KEYS[2])
if n > keep then
  local old = redis.call('ZRANGE', KEYS[2], 0, n - keep - 1)
  redis.call('ZREMRANGEBYRANK', KEYS[2], 0, n - keep - 1)
  for _, m in ipairs(old) do
    redis.call('HDEL', KEYS[3], m)
  end
end
for i = 1, 4 do
  redis.call('PEXPIRE', KEYS[i], ARGV[3])
end
return id
`)

// storedMessage is the msgpack body of a log entry; the id lives in the sorted set.
type storedMessage struct {
	From    string `msgpack:"f"`
	To      string `msgpack:"t,omitempty"`
	Type    string `msgpack:"y"`
	Payload []byte `msgpack:"p,omitempty"`
	TS      int64  `msgpack:"s"`
}

// Redis is the shared backend for multi-instance deployments.
type Redis struct {
	client *redis.Client
	opts   Options
}

var _ Store = (*Redis)(nil)

func NewRedis(client *redis.Client, opts Options) *Redis {
	return &Redis{client: client, opts: opts.withDefaults()}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}

func (s *Redis) EnsureRoom(ctx context.Context, roomID string, meta models.RoomMeta) (*models.Room, error) {
	room := models.Room{
		ID:           roomID,
		CreatedAt:    s.opts.Now().UTC(),
		OwnerGroupID: meta.OwnerGroupID,
		CreatedBy:    meta.CreatedBy,
	}
	data, err := json.Marshal(room)
	if err != nil {
		return nil, err
	}

	created, err := s.client.SetNX(ctx, kRoom(roomID), data, roomTTL).Result()
	if err != nil {
		return nil, unavailable("ensure room", err)
	}
	if created {
		if room.OwnerGroupID != "" {
			z := redis.Z{Score: float64(room.CreatedAt.UnixMilli()), Member: roomID}
			if err := s.client.ZAdd(ctx, kGroupRooms(room.OwnerGroupID), z).Err(); err != nil {
				return nil, unavailable("index room", err)
			}
		}
		return &room, nil
	}
	return s.GetRoom(ctx, roomID)
}

func (s *Redis) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	data, err := s.client.Get(ctx, kRoom(roomID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, unavailable("get room", err)
	}

	var room models.Room
	if err := json.Unmarshal(data, &room); err != nil {
		return nil, fmt.Errorf("failed to parse room data: %w", err)
	}
	return &room, nil
}

func (s *Redis) ListRooms(ctx context.Context, groupID string) ([]models.Room, error) {
	ids, err := s.client.ZRevRange(ctx, kGroupRooms(groupID), 0, -1).Result()
	if err != nil {
		return nil, unavailable("list rooms", err)
	}
	out := make([]models.Room, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = kRoom(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, unavailable("list rooms", err)
	}

	var expired []any
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			expired = append(expired, ids[i])
			continue
		}
		var room models.Room
		if err := json.Unmarshal([]byte(str), &room); err != nil {
			continue
		}
		out = append(out, room)
	}
	if len(expired) > 0 {
		_ = s.client.ZRem(ctx, kGroupRooms(groupID), expired...).Err()
	}
	return out, nil
}

func (s *Redis) DeleteRoom(ctx context.Context, roomID string) error {
	room, err := s.GetRoom(ctx, roomID)
	if errors.Is(err, ErrRoomNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, kRoom(roomID), kParticipants(roomID), kPresence(roomID),
			kMsgSeq(roomID), kMessages(roomID), kBodies(roomID))
		if room.OwnerGroupID != "" {
			p.ZRem(ctx, kGroupRooms(room.OwnerGroupID), roomID)
		}
		return nil
	})
	if err != nil {
		return unavailable("delete room", err)
	}
	return nil
}

func (s *Redis) AddParticipant(ctx context.Context, roomID, peerID string) error {
	now := s.opts.Now()
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, kParticipants(roomID), peerID)
		p.Expire(ctx, kParticipants(roomID), roomTTL)
		p.ZAdd(ctx, kPresence(roomID), redis.Z{Score: float64(now.UnixMilli()), Member: peerID})
		p.PExpire(ctx, kPresence(roomID), presenceTTL)
		p.Expire(ctx, kRoom(roomID), roomTTL)
		return nil
	})
	if err != nil {
		return unavailable("add participant", err)
	}
	return nil
}

func (s *Redis) RemoveParticipant(ctx context.Context, roomID, peerID string) error {
	var left, backlog *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SRem(ctx, kParticipants(roomID), peerID)
		p.ZRem(ctx, kPresence(roomID), peerID)
		left = p.SCard(ctx, kParticipants(roomID))
		backlog = p.ZCard(ctx, kMessages(roomID))
		return nil
	})
	if err != nil {
		return unavailable("remove participant", err)
	}
	if left.Val() == 0 && backlog.Val() > int64(s.opts.GCThreshold) {
		return s.DeleteRoom(ctx, roomID)
	}
	return nil
}

func (s *Redis) Heartbeat(ctx context.Context, roomID, peerID string) error {
	now := s.opts.Now()
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, kPresence(roomID), redis.Z{Score: float64(now.UnixMilli()), Member: peerID})
		p.PExpire(ctx, kPresence(roomID), presenceTTL)
		return nil
	})
	if err != nil {
		return unavailable("heartbeat", err)
	}
	return nil
}

func (s *Redis) ActiveParticipants(ctx context.Context, roomID string, window time.Duration) ([]string, error) {
	cutoff := s.opts.Now().Add(-window).UnixMilli()
	list, err := s.client.ZRangeByScore(ctx, kPresence(roomID), &redis.ZRangeBy{
		Min: strconv.FormatInt(cutoff, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, unavailable("active participants", err)
	}
	sort.Strings(list)
	return list, nil
}

func (s *Redis) AppendMessage(ctx context.Context, roomID string, msg models.SignalMessage) (models.SignalMessage, error) {
	if msg.TS == 0 {
		msg.TS = s.opts.Now().UnixMilli()
	}
	body, err := msgpack.Marshal(storedMessage{
		From:    msg.From,
		To:      msg.To,
		Type:    string(msg.Type),
		Payload: msg.Payload,
		TS:      msg.TS,
	})
	if err != nil {
		return msg, fmt.Errorf("encode message: %w", err)
	}

	keys := []string{kMsgSeq(roomID), kMessages(roomID), kBodies(roomID), kRoom(roomID)}
	id, err := appendScript.Run(ctx, s.client, keys, body, s.opts.Retention, roomTTL.Milliseconds()).Int64()
	if err != nil {
		return msg, unavailable("append message", err)
	}
	msg.ID = id
	return msg, nil
}

func (s *Redis) MessagesSince(ctx context.Context, roomID string, cursor int64, filter MessageFilter) ([]models.SignalMessage, error) {
	out := make([]models.SignalMessage, 0)

	ids, err := s.client.ZRangeByScore(ctx, kMessages(roomID), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(cursor, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, unavailable("messages since", err)
	}
	if len(ids) == 0 {
		return out, nil
	}

	bodies, err := s.client.HMGet(ctx, kBodies(roomID), ids...).Result()
	if err != nil {
		return nil, unavailable("messages since", err)
	}
	for i, raw := range bodies {
		str, ok := raw.(string)
		if !ok {
			// trimmed between the two reads
			continue
		}
		id, err := strconv.ParseInt(ids[i], 10, 64)
		if err != nil {
			continue
		}
		var sm storedMessage
		if err := msgpack.Unmarshal([]byte(str), &sm); err != nil {
			continue
		}
		msg := models.SignalMessage{
			ID:      id,
			From:    sm.From,
			To:      sm.To,
			Type:    models.SignalType(sm.Type),
			Payload: sm.Payload,
			TS:      sm.TS,
		}
		if filter.match(msg) {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (s *Redis) LastMessageID(ctx context.Context, roomID string) (int64, error) {
	id, err := s.client.Get(ctx, kMsgSeq(roomID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, unavailable("last message id", err)
	}
	return id, nil
}

func (s *Redis) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (s *Redis) Close() error {
	return s.client.Close()
}
