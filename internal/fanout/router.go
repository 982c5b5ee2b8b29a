package fanout

import (
	"context"
	"encoding/json"
	"log/slog"

	"sudooom.im.chat/internal/blob"
	"sudooom.im.chat/internal/connection"
	"sudooom.im.chat/internal/model"
	apperr "sudooom.im.chat/pkg/errors"
	"sudooom.im.chat/pkg/snowflake"
)

// MessageStore 消息持久化
type MessageStore interface {
	Insert(ctx context.Context, msg *model.Message) (int64, error)
}

// GroupDirectory 群成员查询
type GroupDirectory interface {
	GetParticipants(ctx context.Context, groupChatID int64) ([]int64, error)
}

// ConnectionSource 按用户查在线连接
type ConnectionSource interface {
	ConnectionsFor(userID int64) []*connection.Connection
}

// EventPublisher 旁路事件发布，实现不能阻塞
type EventPublisher interface {
	MessagePersisted(msg *model.Message)
	PresenceChanged(snapshot model.PresenceSnapshot)
}

// Result 一次路由的结果
type Result struct {
	Message   *model.Message
	Delivered int
	Failed    int
}

// Router 消息路由：先持久化，再投递给在线连接
type Router struct {
	store     MessageStore
	groups    GroupDirectory
	blobs     blob.Store
	conns     ConnectionSource
	node      *snowflake.Node
	publisher EventPublisher
	logger    *slog.Logger
}

// NewRouter 创建路由器
func NewRouter(store MessageStore, groups GroupDirectory, blobs blob.Store, conns ConnectionSource, node *snowflake.Node, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if node == nil {
		node = snowflake.NewNode(1)
	}
	return &Router{
		store:  store,
		groups: groups,
		blobs:  blobs,
		conns:  conns,
		node:   node,
		logger: logger,
	}
}

// SetPublisher 设置事件发布器，nil 表示关闭
func (r *Router) SetPublisher(publisher EventPublisher) {
	r.publisher = publisher
}

// Route 处理一条消息意图
// 校验 -> 解析群成员 -> 保存附件 -> 写库 -> 投递
// 写库之前的任何失败都不会产生投递
func (r *Router) Route(ctx context.Context, sender *connection.Connection, intent *Intent) (*Result, error) {
	identity := sender.Identity()
	if identity == nil {
		return nil, apperr.ErrInvalidMessage.Wrapf("sender identity unresolved")
	}
	if err := intent.validate(); err != nil {
		return nil, err
	}

	// 1. 群聊先解析成员，未知群直接拒绝，避免写入孤立消息
	var participants []int64
	if intent.GroupChatID != nil {
		var err error
		participants, err = r.groups.GetParticipants(ctx, *intent.GroupChatID)
		if err != nil {
			r.logger.Warn("Failed to resolve group participants",
				"groupChatId", *intent.GroupChatID,
				"error", err)
			return nil, err
		}
	}

	msg := &model.Message{
		SenderID:    identity.UserID,
		RecipientID: intent.RecipientID,
		GroupChatID: intent.GroupChatID,
	}
	if intent.hasText() {
		msg.Text = intent.Text
	}

	// 2. 附件先落盘，拿到 ref 再构造消息
	if intent.hasAttachment() {
		name := blob.UniqueName(r.node, intent.Attachment.Name)
		ref, err := r.blobs.Save(ctx, intent.Attachment.Data, name)
		if err != nil {
			r.logger.Error("Failed to save attachment",
				"userId", identity.UserID,
				"name", name,
				"error", err)
			return nil, apperr.ErrPersistenceFailure.Wrap(err)
		}
		msg.AttachmentRef = &ref
	}

	// 3. 写库，只写一次
	if _, err := r.store.Insert(ctx, msg); err != nil {
		r.logger.Error("Failed to persist message",
			"userId", identity.UserID,
			"error", err)
		if apperr.Is(err, apperr.ErrInvalidMessage) {
			return nil, err
		}
		return nil, apperr.ErrPersistenceFailure.Wrap(err)
	}

	if r.publisher != nil {
		r.publisher.MessagePersisted(msg)
	}

	// 4. 投递
	var targets []*connection.Connection
	if msg.IsDirect() {
		// 发送者的其他设备不推送，由客户端本地回显
		targets = r.conns.ConnectionsFor(*msg.RecipientID)
	} else {
		// 群聊不排除任何人，发送者本身也是成员
		targets = r.connectionsForAll(participants)
	}

	payload, err := json.Marshal(model.NewMessageEvent(msg))
	if err != nil {
		return nil, apperr.ErrServerError.Wrap(err)
	}

	result := &Result{Message: msg}
	for _, conn := range targets {
		if err := conn.Send(payload); err != nil {
			// 单个连接失败只记录，不影响其他连接，也不踢下线
			result.Failed++
			r.logger.Warn("Failed to deliver message",
				"conn_id", conn.ID(),
				"userId", conn.UserID(),
				"messageId", msg.ID,
				"error", err)
			continue
		}
		result.Delivered++
	}

	r.logger.Debug("Message routed",
		"messageId", msg.ID,
		"sender", msg.SenderID,
		"delivered", result.Delivered,
		"failed", result.Failed)

	return result, nil
}

// connectionsForAll 成员连接的并集，按连接去重
func (r *Router) connectionsForAll(userIDs []int64) []*connection.Connection {
	seen := make(map[int64]struct{})
	targets := make([]*connection.Connection, 0, len(userIDs))
	for _, userID := range userIDs {
		for _, conn := range r.conns.ConnectionsFor(userID) {
			if _, ok := seen[conn.ID()]; ok {
				continue
			}
			seen[conn.ID()] = struct{}{}
			targets = append(targets, conn)
		}
	}
	return targets
}

// NotifyOnlinePeople 把完整在线列表推送给所有存活连接
// 作为 Registry 的 PresenceHook 使用，在注册表锁内执行，不能阻塞
func (r *Router) NotifyOnlinePeople(snapshot model.PresenceSnapshot, conns []*connection.Connection) {
	if snapshot == nil {
		snapshot = model.PresenceSnapshot{}
	}

	payload, err := json.Marshal(&model.PresenceEvent{Online: snapshot})
	if err != nil {
		r.logger.Error("Failed to encode presence", "error", err)
		return
	}

	for _, conn := range conns {
		if err := conn.Send(payload); err != nil {
			r.logger.Warn("Failed to deliver presence",
				"conn_id", conn.ID(),
				"error", err)
		}
	}

	if r.publisher != nil {
		r.publisher.PresenceChanged(snapshot)
	}
}
