package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

const (
	StatusConnected     = "connected"
	StatusDisconnected  = "disconnected"
	StatusNotConfigured = "not configured"
)

// Status 健康状态
type Status struct {
	Service     string `json:"service"`
	Database    string `json:"database"`
	Redis       string `json:"redis"`
	NATS        string `json:"nats"`
	Connections int    `json:"connections"`
}

// Healthy 所有已配置的依赖都可用
func (s *Status) Healthy() bool {
	return s.Database != StatusDisconnected &&
		s.Redis != StatusDisconnected &&
		s.NATS != StatusDisconnected
}

// ConnectionCounter 连接计数器接口
type ConnectionCounter interface {
	Count() int
}

// Pinger 数据库探测，*pgxpool.Pool 满足该接口
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker 健康检查器
type Checker struct {
	db          Pinger
	nc          *nats.Conn
	redisClient redis.UniversalClient
	connCounter ConnectionCounter
	timeout     time.Duration
}

// NewChecker 创建健康检查器，未使用的依赖传 nil
func NewChecker(db Pinger, nc *nats.Conn, redisClient redis.UniversalClient, connCounter ConnectionCounter) *Checker {
	return &Checker{
		db:          db,
		nc:          nc,
		redisClient: redisClient,
		connCounter: connCounter,
		timeout:     2 * time.Second,
	}
}

// Check 执行健康检查
func (h *Checker) Check(ctx context.Context) *Status {
	status := &Status{
		Service: "chat",
	}

	// 检查数据库
	status.Database = h.ping(ctx, h.db)

	// 检查 Redis
	if h.redisClient != nil {
		redisCtx, cancel := context.WithTimeout(ctx, h.timeout)
		defer cancel()

		if err := h.redisClient.Ping(redisCtx).Err(); err == nil {
			status.Redis = StatusConnected
		} else {
			status.Redis = StatusDisconnected
		}
	} else {
		status.Redis = StatusNotConfigured
	}

	// 检查 NATS
	switch {
	case h.nc == nil:
		status.NATS = StatusNotConfigured
	case h.nc.IsConnected():
		status.NATS = StatusConnected
	default:
		status.NATS = StatusDisconnected
	}

	// 连接数
	if h.connCounter != nil {
		status.Connections = h.connCounter.Count()
	}

	return status
}

func (h *Checker) ping(ctx context.Context, p Pinger) string {
	if p == nil {
		return StatusNotConfigured
	}
	pingCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	if err := p.Ping(pingCtx); err != nil {
		return StatusDisconnected
	}
	return StatusConnected
}

// IsHealthy 检查是否健康
func (h *Checker) IsHealthy(ctx context.Context) bool {
	return h.Check(ctx).Healthy()
}

// ServeHTTP HTTP 健康检查端点
func (h *Checker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := h.Check(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if status.Healthy() {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}

// ReadyHandler 就绪探针
func (h *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.IsHealthy(r.Context()) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("OK"))
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("Not Ready"))
		}
	}
}
