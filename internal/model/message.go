package model

import "time"

// Message 消息实体
// 单聊消息 RecipientID 非空、GroupChatID 为空；群聊消息相反
type Message struct {
	ID            int64     `json:"id" db:"id"`
	SenderID      int64     `json:"senderId" db:"sender_id"`
	RecipientID   *int64    `json:"recipientId" db:"recipient_id"`
	GroupChatID   *int64    `json:"groupChatId" db:"group_chat_id"`
	Text          *string   `json:"text" db:"text"`
	AttachmentRef *string   `json:"attachmentRef" db:"attachment_ref"`
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
}

// IsDirect 是否为单聊消息
func (m *Message) IsDirect() bool {
	return m.RecipientID != nil && m.GroupChatID == nil
}

// IsGroup 是否为群聊消息
func (m *Message) IsGroup() bool {
	return m.GroupChatID != nil && m.RecipientID == nil
}

// HasContent 是否携带文本或附件
func (m *Message) HasContent() bool {
	return (m.Text != nil && *m.Text != "") || (m.AttachmentRef != nil && *m.AttachmentRef != "")
}

// Valid 校验单聊/群聊互斥以及内容非空
func (m *Message) Valid() bool {
	return m.SenderID > 0 && (m.IsDirect() || m.IsGroup()) && m.HasContent()
}

// GroupChat 群聊
type GroupChat struct {
	ID           int64     `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	Participants []int64   `json:"participants" db:"participants"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
}

// HasParticipant 判断用户是否为群成员
func (g *GroupChat) HasParticipant(userID int64) bool {
	for _, p := range g.Participants {
		if p == userID {
			return true
		}
	}
	return false
}
