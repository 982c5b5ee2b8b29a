package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"sudooom.im.chat/internal/model"
	apperr "sudooom.im.chat/pkg/errors"
)

// TokenInfoKeyPrefix 登录服务写入的 token 信息 Key 前缀
// Key: im:token:info:{token}, Value: JSON{user_id, username}
const TokenInfoKeyPrefix = "im:token:info:"

// BuildTokenInfoKey 构建 token 信息 Key
func BuildTokenInfoKey(token string) string {
	return TokenInfoKeyPrefix + token
}

// TokenInfo 存储在 Redis 中的 token 信息
type TokenInfo struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

// RedisResolver 通过 Redis 会话表解析 token
type RedisResolver struct {
	client redis.UniversalClient
}

// NewRedisResolver 创建 Redis 解析器
func NewRedisResolver(client redis.UniversalClient) *RedisResolver {
	return &RedisResolver{client: client}
}

// Resolve 查询 token 对应的用户信息
func (r *RedisResolver) Resolve(ctx context.Context, token string) (*model.Identity, error) {
	if token == "" {
		return nil, apperr.ErrUnauthenticated.Wrap(errors.New("empty token"))
	}

	data, err := r.client.Get(ctx, BuildTokenInfoKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, apperr.ErrUnauthenticated.Wrap(errors.New("token not found"))
	}
	if err != nil {
		return nil, apperr.ErrUnauthenticated.Wrap(fmt.Errorf("lookup token: %w", err))
	}

	var info TokenInfo
	if err := json.Unmarshal([]byte(data), &info); err != nil {
		return nil, apperr.ErrUnauthenticated.Wrap(fmt.Errorf("unmarshal token info: %w", err))
	}
	if info.UserID <= 0 {
		return nil, apperr.ErrUnauthenticated.Wrap(errors.New("token info without user"))
	}

	return &model.Identity{
		UserID:   info.UserID,
		Username: info.Username,
	}, nil
}
