package auth

import (
	"context"
	"net/http"
	"strings"

	"sudooom.im.chat/internal/model"
)

// Resolver 身份解析器：凭证 token -> (userId, username)
// 解析失败统一返回 errors.ErrUnauthenticated（可能包装了底层原因）
type Resolver interface {
	Resolve(ctx context.Context, token string) (*model.Identity, error)
}

// ResolverFunc 函数适配器
type ResolverFunc func(ctx context.Context, token string) (*model.Identity, error)

// Resolve 实现 Resolver
func (f ResolverFunc) Resolve(ctx context.Context, token string) (*model.Identity, error) {
	return f(ctx, token)
}

// TokenFromRequest 从握手请求中提取 token
// 优先读取 cookie，其次是 ?token= 查询参数，最后是 Authorization: Bearer 头
func TokenFromRequest(r *http.Request, cookieName string) string {
	if cookieName != "" {
		if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
			return c.Value
		}
	}

	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	if h := r.Header.Get("Authorization"); h != "" {
		const prefix = "bearer "
		if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
			return strings.TrimSpace(h[len(prefix):])
		}
	}
	return ""
}
