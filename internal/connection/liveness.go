package connection

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

const (
	DefaultProbeInterval = 5 * time.Second
	DefaultProbeDeadline = time.Second
)

// Monitor 连接探活器
// 每个连接一个探活循环：ALIVE --ping--> PROBE_SENT --pong--> ALIVE
//                                                 \--超时--> DEAD（关闭并移除）
type Monitor struct {
	registry  *Registry
	interval  time.Duration
	deadline  time.Duration
	logger    *slog.Logger
	evictions atomic.Int64
}

// NewMonitor 创建探活器
func NewMonitor(registry *Registry, interval, deadline time.Duration, logger *slog.Logger) *Monitor {
	// 设置默认值
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	if deadline <= 0 {
		deadline = DefaultProbeDeadline
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Monitor{
		registry: registry,
		interval: interval,
		deadline: deadline,
		logger:   logger,
	}
}

// Watch 运行连接的探活循环（阻塞，应在 goroutine 中调用）
// 连接关闭或 ctx 取消时返回
func (m *Monitor) Watch(ctx context.Context, conn *Connection) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-conn.Done():
			return
		case <-ticker.C:
			m.probe(conn)
		}
	}
}

// probe 发送一次 ping 并挂上 deadline
func (m *Monitor) probe(conn *Connection) {
	seq, ok := m.registry.beginProbe(conn, m.deadline, func(seq uint64) {
		m.expire(conn, seq, "probe deadline exceeded")
	})
	if !ok {
		return
	}

	if err := conn.Ping(); err != nil {
		// 发送失败等同于未收到 pong，不重试
		m.logger.Debug("Failed to send probe", "conn_id", conn.ID(), "error", err)
		m.expire(conn, seq, "probe send failed")
	}
}

func (m *Monitor) expire(conn *Connection, seq uint64, reason string) {
	if !m.registry.expire(conn, seq) {
		return
	}
	m.evictions.Add(1)
	m.logger.Info("Connection evicted by liveness monitor",
		"conn_id", conn.ID(),
		"userId", conn.UserID(),
		"reason", reason,
		"deadline", m.deadline)
}

// Ack 处理 pong；迟到的 pong（连接已被移除）直接忽略
func (m *Monitor) Ack(conn *Connection) {
	m.registry.ack(conn)
}

// Evictions 探活移除的连接总数
func (m *Monitor) Evictions() int64 {
	return m.evictions.Load()
}

func (m *Monitor) Interval() time.Duration {
	return m.interval
}

func (m *Monitor) Deadline() time.Duration {
	return m.deadline
}
