package events

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"sudooom.im.chat/internal/model"
	"sudooom.im.chat/internal/workerpool"
)

// 事件类型
const (
	TypeMessagePersisted = "message.persisted"
	TypePresenceChanged  = "presence"
)

// DefaultSubjectPrefix 默认 subject 前缀
const DefaultSubjectPrefix = "im.chat"

// BuildSubject 构建事件 subject：{prefix}.{eventType}
func BuildSubject(prefix, eventType string) string {
	prefix = strings.TrimSuffix(prefix, ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return prefix + "." + eventType
}

// Conn 发布所需的最小连接能力，*nats.Conn 满足该接口
type Conn interface {
	Publish(subject string, data []byte) error
}

// Envelope 事件外层结构
type Envelope struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurredAt"`
	Data       any       `json:"data"`
}

// Publisher 异步事件发布器
// 发布在 worker pool 上执行，队列满时直接丢弃并记录
type Publisher struct {
	conn   Conn
	pool   *workerpool.Pool
	prefix string
	logger *slog.Logger
}

// NewPublisher 创建事件发布器
func NewPublisher(conn Conn, pool *workerpool.Pool, prefix string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		conn:   conn,
		pool:   pool,
		prefix: prefix,
		logger: logger,
	}
}

// MessagePersisted 消息已落库
func (p *Publisher) MessagePersisted(msg *model.Message) {
	// 拷贝一份，避免与调用方共享
	snapshot := *msg
	p.publish(TypeMessagePersisted, &snapshot)
}

// PresenceChanged 在线列表变更
func (p *Publisher) PresenceChanged(snapshot model.PresenceSnapshot) {
	online := make(model.PresenceSnapshot, len(snapshot))
	copy(online, snapshot)
	p.publish(TypePresenceChanged, &model.PresenceEvent{Online: online})
}

func (p *Publisher) publish(eventType string, data any) {
	envelope := &Envelope{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: time.Now(),
		Data:       data,
	}
	subject := BuildSubject(p.prefix, eventType)

	ok := p.pool.TrySubmit(func() {
		payload, err := json.Marshal(envelope)
		if err != nil {
			p.logger.Error("Failed to marshal event", "type", eventType, "error", err)
			return
		}
		if err := p.conn.Publish(subject, payload); err != nil {
			p.logger.Warn("Failed to publish event",
				"subject", subject,
				"eventId", envelope.ID,
				"error", err)
			return
		}
		p.logger.Debug("Published event", "subject", subject, "eventId", envelope.ID)
	})
	if !ok {
		p.logger.Warn("Event dropped, worker pool full", "type", eventType)
	}
}
