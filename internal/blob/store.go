package blob

import (
	"context"
	"encoding/base64"
	"errors"
	"path/filepath"
	"strings"

	apperr "sudooom.im.chat/pkg/errors"
	"sudooom.im.chat/pkg/snowflake"
)

// Store 附件存储
// Save 返回的 ref 会原样写入消息的 attachmentRef
type Store interface {
	Save(ctx context.Context, data []byte, suggestedName string) (string, error)
}

// StoreFunc 函数适配器
type StoreFunc func(ctx context.Context, data []byte, suggestedName string) (string, error)

func (f StoreFunc) Save(ctx context.Context, data []byte, suggestedName string) (string, error) {
	return f(ctx, data, suggestedName)
}

const maxExtLen = 16

var (
	errEmptyDataURL   = errors.New("empty data url")
	errMissingPayload = errors.New("data url has no payload separator")
)

// DecodeDataURL 解析客户端上传的 data:<mime>;base64,<payload>
// 返回 mime 与原始字节；缺少 data: 头时整个 header 视为 mime
func DecodeDataURL(s string) (string, []byte, error) {
	if s == "" {
		return "", nil, apperr.ErrInvalidMessage.Wrap(errEmptyDataURL)
	}

	header, payload, ok := strings.Cut(s, ",")
	if !ok {
		return "", nil, apperr.ErrInvalidMessage.Wrap(errMissingPayload)
	}

	header = strings.TrimPrefix(header, "data:")
	mime, _, _ := strings.Cut(header, ";")
	if !strings.HasSuffix(header, ";base64") {
		// 非 base64 的 data url 客户端不会发送
		return "", nil, apperr.ErrInvalidMessage.Wrapf("unsupported data url encoding %q", header)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, apperr.ErrInvalidMessage.Wrapf("decode attachment: %v", err)
	}
	return mime, data, nil
}

// UniqueName 生成 <时间有序 token>.<原扩展名>
// 扩展名只保留字母数字，原文件名不参与存储路径
func UniqueName(node *snowflake.Node, original string) string {
	token := node.Generate().String()
	ext := sanitizeExt(filepath.Ext(filepath.Base(original)))
	if ext == "" {
		return token
	}
	return token + "." + ext
}

func sanitizeExt(ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	var b strings.Builder
	for _, r := range ext {
		if b.Len() >= maxExtLen {
			break
		}
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return strings.ToLower(b.String())
}

// validName 存储名不能包含路径
func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}
