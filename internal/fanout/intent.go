package fanout

import (
	"encoding/json"

	"sudooom.im.chat/internal/blob"
	"sudooom.im.chat/internal/model"
	apperr "sudooom.im.chat/pkg/errors"
)

// Attachment 已解码的附件
type Attachment struct {
	Name string
	MIME string
	Data []byte
}

// Intent 一条待路由的消息意图，RecipientID 与 GroupChatID 只能有一个
type Intent struct {
	RecipientID *int64
	GroupChatID *int64
	Text        *string
	Attachment  *Attachment
}

// DecodeIntent 解析客户端上行的 JSON 帧
func DecodeIntent(data []byte) (*Intent, error) {
	var in model.InboundMessage
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, apperr.ErrInvalidMessage.Wrapf("decode frame: %v", err)
	}
	return IntentFromInbound(&in)
}

// IntentFromInbound 把上行消息转换为 Intent，附件 data url 在这里解码
func IntentFromInbound(in *model.InboundMessage) (*Intent, error) {
	intent := &Intent{
		RecipientID: in.Recipient,
		GroupChatID: in.GroupChatID,
		Text:        in.Text,
	}

	if in.File != nil && in.File.Data != "" {
		mime, data, err := blob.DecodeDataURL(in.File.Data)
		if err != nil {
			return nil, err
		}
		intent.Attachment = &Attachment{
			Name: in.File.Name,
			MIME: mime,
			Data: data,
		}
	}
	return intent, nil
}

func (i *Intent) hasText() bool {
	return i.Text != nil && *i.Text != ""
}

func (i *Intent) hasAttachment() bool {
	return i.Attachment != nil && len(i.Attachment.Data) > 0
}

// validate 校验目标互斥与内容非空
func (i *Intent) validate() error {
	if i == nil {
		return apperr.ErrInvalidMessage.Wrapf("nil intent")
	}
	if (i.RecipientID == nil) == (i.GroupChatID == nil) {
		return apperr.ErrInvalidMessage.Wrapf("exactly one of recipient and groupChatId is required")
	}
	if i.RecipientID != nil && *i.RecipientID <= 0 {
		return apperr.ErrInvalidMessage.Wrapf("invalid recipient %d", *i.RecipientID)
	}
	if i.GroupChatID != nil && *i.GroupChatID <= 0 {
		return apperr.ErrInvalidMessage.Wrapf("invalid groupChatId %d", *i.GroupChatID)
	}
	if !i.hasText() && !i.hasAttachment() {
		return apperr.ErrInvalidMessage.Wrapf("message has neither text nor attachment")
	}
	return nil
}
