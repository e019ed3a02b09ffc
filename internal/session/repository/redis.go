package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	red "github.com/redis/go-redis/v9"

	"serreconnect/backend/internal/session/domain"
)

const defaultRedisPrefix = "session"

// Timestamps are stored as Unix microseconds so Lua's double arithmetic compares them exactly.
var (
	createScript = red.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'user_id', ARGV[1], 'is_active', '1', 'last_activity', ARGV[2], 'created_at', ARGV[2])
return 1
`)

	touchScript = red.NewScript(`
if redis.call('HGET', KEYS[1], 'is_active') ~= '1' then
  return false
end
local current = tonumber(redis.call('HGET', KEYS[1], 'last_activity'))
if tonumber(ARGV[1]) > current then
  redis.call('HSET', KEYS[1], 'last_activity', ARGV[1])
end
return redis.call('HMGET', KEYS[1], 'user_id', 'last_activity', 'created_at')
`)

	invalidateScript = red.NewScript(`
if redis.call('HGET', KEYS[1], 'is_active') == '1' then
  redis.call('HSET', KEYS[1], 'is_active', '0')
  return 1
end
return 0
`)
)

// RedisRepository stores each session as a hash under "<prefix>:<session_id>". Mutations run
// as Lua scripts, which Redis executes atomically.
type RedisRepository struct {
	client *red.Client
	prefix string
	newID  func() string
}

// NewRedisRepository returns a session repository backed by client. An empty prefix selects "session".
func NewRedisRepository(client *red.Client, keyPrefix string) *RedisRepository {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisRepository{client: client, prefix: prefix, newID: uuid.NewString}
}

// Create stores a new active session. The script refuses to overwrite an existing key,
// in which case another id is tried.
func (r *RedisRepository) Create(ctx context.Context, userID string, at time.Time) (*domain.Session, error) {
	at = at.UTC().Truncate(time.Microsecond)
	for range maxCreateTries {
		id := r.newID()
		created, err := createScript.Run(ctx, r.client, []string{r.key(id)}, userID, at.UnixMicro()).Int()
		if err != nil {
			return nil, fmt.Errorf("redis create session: %w", err)
		}
		if created == 1 {
			return &domain.Session{ID: id, UserID: userID, IsActive: true, LastActivity: at, CreatedAt: at}, nil
		}
	}
	return nil, errors.New("redis create session: could not allocate a unique session id")
}

// GetActive returns the session if it exists and is active, or nil.
func (r *RedisRepository) GetActive(ctx context.Context, id string) (*domain.Session, error) {
	fields, err := r.client.HGetAll(ctx, r.key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get session: %w", err)
	}
	if fields["is_active"] != "1" {
		return nil, nil
	}
	last, err := parseMicros(fields["last_activity"])
	if err != nil {
		return nil, fmt.Errorf("redis get session: last_activity: %w", err)
	}
	created, err := parseMicros(fields["created_at"])
	if err != nil {
		return nil, fmt.Errorf("redis get session: created_at: %w", err)
	}
	return &domain.Session{ID: id, UserID: fields["user_id"], IsActive: true, LastActivity: last, CreatedAt: created}, nil
}

// Touch advances last_activity if the session is active, without ever moving it backwards.
func (r *RedisRepository) Touch(ctx context.Context, id string, at time.Time) (*domain.Session, error) {
	vals, err := touchScript.Run(ctx, r.client, []string{r.key(id)}, at.UTC().UnixMicro()).Slice()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis touch session: %w", err)
	}
	if len(vals) != 3 {
		return nil, fmt.Errorf("redis touch session: unexpected reply length %d", len(vals))
	}
	userID, _ := vals[0].(string)
	lastRaw, _ := vals[1].(string)
	createdRaw, _ := vals[2].(string)
	last, err := parseMicros(lastRaw)
	if err != nil {
		return nil, fmt.Errorf("redis touch session: last_activity: %w", err)
	}
	created, err := parseMicros(createdRaw)
	if err != nil {
		return nil, fmt.Errorf("redis touch session: created_at: %w", err)
	}
	return &domain.Session{ID: id, UserID: userID, IsActive: true, LastActivity: last, CreatedAt: created}, nil
}

// Invalidate marks the session inactive. The hash is kept so the id is never reused.
func (r *RedisRepository) Invalidate(ctx context.Context, id string) (bool, error) {
	changed, err := invalidateScript.Run(ctx, r.client, []string{r.key(id)}).Int()
	if err != nil {
		return false, fmt.Errorf("redis invalidate session: %w", err)
	}
	return changed == 1, nil
}

// Ping checks Redis connectivity.
func (r *RedisRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisRepository) key(id string) string {
	return r.prefix + ":" + id
}

func parseMicros(raw string) (time.Time, error) {
	us, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMicro(us).UTC(), nil
}
