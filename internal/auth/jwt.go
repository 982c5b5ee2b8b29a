package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"sudooom.im.chat/internal/model"
	apperr "sudooom.im.chat/pkg/errors"
)

// Claims 登录服务签发的 JWT 声明
type Claims struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// JWTResolver 基于 HS256 共享密钥校验 token
type JWTResolver struct {
	secretKey []byte
	issuer    string
}

// NewJWTResolver 创建 JWT 解析器
func NewJWTResolver(secretKey string) *JWTResolver {
	return &JWTResolver{
		secretKey: []byte(secretKey),
		issuer:    "im-web",
	}
}

// Resolve 校验 token 并返回身份
func (r *JWTResolver) Resolve(_ context.Context, tokenString string) (*model.Identity, error) {
	if tokenString == "" {
		return nil, apperr.ErrUnauthenticated.Wrap(errors.New("empty token"))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return r.secretKey, nil
	})
	if err != nil {
		return nil, apperr.ErrUnauthenticated.Wrap(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, apperr.ErrUnauthenticated.Wrap(errors.New("invalid claims"))
	}
	if claims.UserID <= 0 || claims.Username == "" {
		return nil, apperr.ErrUnauthenticated.Wrap(errors.New("missing identity claims"))
	}

	return &model.Identity{
		UserID:   claims.UserID,
		Username: claims.Username,
	}, nil
}

// Issue 签发 token，ttl <= 0 表示不过期
// 正式环境由登录服务签发，这里用于测试与本地调试
func (r *JWTResolver) Issue(identity model.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:   identity.UserID,
		Username: identity.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now),
			Issuer:   r.issuer,
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(r.secretKey)
}
