package storage

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// 仅当当前值仍等于本连接ID时才删除，避免误删新会话的在线标记。
// KEYS[1]=key; ARGV[1]=connID
var luaCompareDel = redis.NewScript(`
  local v = redis.call('GET', KEYS[1])
  if v == ARGV[1] then
    redis.call('DEL', KEYS[1])
    return 1
  end
  return 0
`)

// PresenceManager 维护 Redis 中的在线标记：online:<userID> = connID，带 TTL。
type PresenceManager struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewPresenceManager(rdb *redis.Client, ttl time.Duration) *PresenceManager {
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	return &PresenceManager{rdb: rdb, ttl: ttl}
}

func presenceKey(userID int64) string {
	return "online:" + strconv.FormatInt(userID, 10)
}

// Online 绑定成功后登记在线标记。
func (p *PresenceManager) Online(ctx context.Context, userID, connID int64) error {
	return p.rdb.Set(ctx, presenceKey(userID), strconv.FormatInt(connID, 10), p.ttl).Err()
}

// Refresh 活跃时续期。
func (p *PresenceManager) Refresh(ctx context.Context, userID int64) error {
	return p.rdb.Expire(ctx, presenceKey(userID), p.ttl).Err()
}

// Offline 下线清理；connID 不匹配（已被新连接顶替）时保持不动。
func (p *PresenceManager) Offline(ctx context.Context, userID, connID int64) (bool, error) {
	n, err := luaCompareDel.Run(ctx, p.rdb,
		[]string{presenceKey(userID)}, strconv.FormatInt(connID, 10)).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (p *PresenceManager) IsOnline(ctx context.Context, userID int64) (bool, error) {
	n, err := p.rdb.Exists(ctx, presenceKey(userID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
