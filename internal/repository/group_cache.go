package repository

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// GroupParticipantsKeyPrefix 群成员缓存 key 前缀
const GroupParticipantsKeyPrefix = "im:group:participants:"

// DefaultGroupCacheTTL 群成员缓存默认过期时间
const DefaultGroupCacheTTL = 5 * time.Minute

// BuildGroupParticipantsKey 构建群成员缓存 key
func BuildGroupParticipantsKey(groupChatID int64) string {
	return fmt.Sprintf("%s%d", GroupParticipantsKeyPrefix, groupChatID)
}

// CachedGroupDirectory 读穿透的群成员缓存
// Redis 不可用时直接回源，缓存只是加速，不影响正确性
type CachedGroupDirectory struct {
	backing GroupDirectory
	client  redis.UniversalClient
	ttl     time.Duration
	logger  *slog.Logger
}

// NewCachedGroupDirectory 创建缓存目录
func NewCachedGroupDirectory(backing GroupDirectory, client redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *CachedGroupDirectory {
	if ttl <= 0 {
		ttl = DefaultGroupCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedGroupDirectory{
		backing: backing,
		client:  client,
		ttl:     ttl,
		logger:  logger,
	}
}

// GetParticipants 优先读缓存，未命中回源并回填
func (d *CachedGroupDirectory) GetParticipants(ctx context.Context, groupChatID int64) ([]int64, error) {
	key := BuildGroupParticipantsKey(groupChatID)

	members, err := d.client.SMembers(ctx, key).Result()
	if err != nil {
		d.logger.Warn("Group cache read failed, falling back",
			"groupChatId", groupChatID,
			"error", err)
	} else if len(members) > 0 {
		if ids, ok := parseIDs(members); ok {
			return ids, nil
		}
		d.logger.Warn("Group cache holds malformed members", "groupChatId", groupChatID)
	}

	participants, err := d.backing.GetParticipants(ctx, groupChatID)
	if err != nil {
		return nil, err
	}

	d.fill(ctx, key, participants)
	return participants, nil
}

// Invalidate 删除群成员缓存（成员变更后调用）
func (d *CachedGroupDirectory) Invalidate(ctx context.Context, groupChatID int64) error {
	return d.client.Del(ctx, BuildGroupParticipantsKey(groupChatID)).Err()
}

func (d *CachedGroupDirectory) fill(ctx context.Context, key string, participants []int64) {
	// 空集合在 Redis 中无法表示，直接跳过
	if len(participants) == 0 {
		return
	}

	values := make([]any, 0, len(participants))
	for _, id := range participants {
		values = append(values, id)
	}

	_, err := d.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.SAdd(ctx, key, values...)
		pipe.Expire(ctx, key, d.ttl)
		return nil
	})
	if err != nil {
		d.logger.Warn("Group cache fill failed", "key", key, "error", err)
	}
}

func parseIDs(members []string) ([]int64, bool) {
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return nil, false
		}
		ids = append(ids, id)
	}
	return ids, true
}
