package model

// ============== 下行推送 (Server -> Client) ==============

// MessageEvent 推送给在线连接的消息载荷
// Recipient 与 GroupChatID 只会出现一个
type MessageEvent struct {
	ID            int64   `json:"id"`
	Text          *string `json:"text"`
	Sender        int64   `json:"sender"`
	Recipient     *int64  `json:"recipient,omitempty"`
	GroupChatID   *int64  `json:"groupChatId,omitempty"`
	AttachmentRef *string `json:"attachmentRef"`
}

// NewMessageEvent 由已持久化的消息构造推送载荷
func NewMessageEvent(msg *Message) *MessageEvent {
	return &MessageEvent{
		ID:            msg.ID,
		Text:          msg.Text,
		Sender:        msg.SenderID,
		Recipient:     msg.RecipientID,
		GroupChatID:   msg.GroupChatID,
		AttachmentRef: msg.AttachmentRef,
	}
}

// PresenceEvent 在线列表推送
type PresenceEvent struct {
	Online PresenceSnapshot `json:"online"`
}

// ============== 上行消息 (Client -> Server) ==============

// FileUpload 客户端随消息上传的附件
// Data 为 data URL：data:<mime>;base64,<payload>
type FileUpload struct {
	Name string `json:"name"`
	Data string `json:"data"`
}

// InboundMessage 客户端发送的消息意图
type InboundMessage struct {
	Recipient   *int64      `json:"recipient,omitempty"`
	GroupChatID *int64      `json:"groupChatId,omitempty"`
	Text        *string     `json:"text,omitempty"`
	File        *FileUpload `json:"file,omitempty"`
}
