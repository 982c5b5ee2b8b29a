package connection

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"sudooom.im.chat/internal/model"
	apperr "sudooom.im.chat/pkg/errors"
)

var connIDCounter int64

// ErrSendBufferFull 发送缓冲区已满
var ErrSendBufferFull = apperr.ErrDeliveryFailure.Wrap(errors.New("send buffer full"))

// Transport 底层传输会话（websocket 等）
// WriteMessage 只会被写协程调用；Ping 与 Close 可以并发调用
type Transport interface {
	WriteMessage(data []byte) error
	Ping() error
	Close() error
}

// State 连接探活状态
type State int32

const (
	StateAlive     State = iota // 正常
	StateProbeSent              // 已发送 ping，等待 pong
	StateDead                   // 已判定死亡并被移除
)

func (s State) String() string {
	switch s {
	case StateAlive:
		return "alive"
	case StateProbeSent:
		return "probe_sent"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Connection 表示一个客户端连接
type Connection struct {
	id         int64
	transport  Transport
	logger     *slog.Logger
	identity   atomic.Pointer[model.Identity]
	state      atomic.Int32
	writeChan  chan []byte
	closeChan  chan struct{}
	closeOnce  sync.Once
	createTime time.Time

	// 以下字段由 Registry.mu 保护
	probeSeq             uint64
	lastPingSentAt       time.Time
	pendingDeathDeadline time.Time
	deathTimer           *time.Timer
}

// New 创建连接并启动写协程，sendBuffer 为出站队列长度
func New(transport Transport, sendBuffer int, logger *slog.Logger) *Connection {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	if logger == nil {
		logger = slog.Default()
	}

	id := atomic.AddInt64(&connIDCounter, 1)
	c := &Connection{
		id:         id,
		transport:  transport,
		logger:     logger.With("conn_id", id),
		writeChan:  make(chan []byte, sendBuffer),
		closeChan:  make(chan struct{}),
		createTime: time.Now(),
	}
	go c.writeLoop()
	return c
}

func (c *Connection) ID() int64 {
	return c.id
}

// Identity 已解析的身份，未认证时为 nil
func (c *Connection) Identity() *model.Identity {
	return c.identity.Load()
}

// UserID 未认证时返回 0
func (c *Connection) UserID() int64 {
	if id := c.identity.Load(); id != nil {
		return id.UserID
	}
	return 0
}

func (c *Connection) State() State {
	return State(c.state.Load())
}

func (c *Connection) CreateTime() time.Time {
	return c.createTime
}

// Send 将数据放入出站队列，不阻塞
// 队列满时返回 ErrSendBufferFull，连接已关闭时返回 ErrConnectionClosed
func (c *Connection) Send(data []byte) error {
	select {
	case <-c.closeChan:
		return apperr.ErrConnectionClosed
	default:
	}

	select {
	case c.writeChan <- data:
		return nil
	case <-c.closeChan:
		return apperr.ErrConnectionClosed
	default:
		return ErrSendBufferFull
	}
}

// Ping 发送探活控制帧
func (c *Connection) Ping() error {
	if c.Closed() {
		return apperr.ErrConnectionClosed
	}
	return c.transport.Ping()
}

func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeChan:
			if err := c.transport.WriteMessage(data); err != nil {
				// 写失败不主动断开，由探活负责回收
				c.logger.Warn("Failed to write to transport", "error", err)
			}
		case <-c.closeChan:
			return
		}
	}
}

// Close 关闭连接，可重复调用
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.closeChan)
		if err := c.transport.Close(); err != nil {
			c.logger.Debug("Transport close returned error", "error", err)
		}
	})
}

// Done 连接关闭时关闭的 channel
func (c *Connection) Done() <-chan struct{} {
	return c.closeChan
}

func (c *Connection) Closed() bool {
	select {
	case <-c.closeChan:
		return true
	default:
		return false
	}
}
