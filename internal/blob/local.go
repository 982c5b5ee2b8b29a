package blob

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	apperr "sudooom.im.chat/pkg/errors"
)

// LocalStore 本地目录存储，静态文件服务由外部负责
type LocalStore struct {
	dir    string
	logger *slog.Logger
}

// NewLocalStore 创建本地存储，目录不存在时自动创建
func NewLocalStore(dir string, logger *slog.Logger) (*LocalStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperr.ErrIOError.Wrapf("create upload dir %s: %v", dir, err)
	}
	return &LocalStore{dir: dir, logger: logger}, nil
}

// Save 先写临时文件再 rename，ref 为文件名
func (s *LocalStore) Save(ctx context.Context, data []byte, suggestedName string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", apperr.ErrIOError.Wrap(err)
	}
	if !validName(suggestedName) {
		return "", apperr.ErrIOError.Wrapf("invalid blob name %q", suggestedName)
	}

	target := filepath.Join(s.dir, suggestedName)
	if _, err := os.Stat(target); err == nil {
		return "", apperr.ErrIOError.Wrapf("blob %s already exists", suggestedName)
	}

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", apperr.ErrIOError.Wrap(err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return "", apperr.ErrIOError.Wrap(err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", apperr.ErrIOError.Wrap(err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		cleanup()
		return "", apperr.ErrIOError.Wrap(fmt.Errorf("rename %s: %w", suggestedName, err))
	}

	s.logger.Debug("Attachment saved", "ref", suggestedName, "size", len(data))
	return suggestedName, nil
}

// Open 读取已保存的附件（测试与开发工具使用）
func (s *LocalStore) Open(ref string) ([]byte, error) {
	if !validName(ref) {
		return nil, apperr.ErrIOError.Wrapf("invalid blob name %q", ref)
	}
	data, err := os.ReadFile(filepath.Join(s.dir, ref))
	if err != nil {
		return nil, apperr.ErrIOError.Wrap(err)
	}
	return data, nil
}

func (s *LocalStore) Dir() string {
	return s.dir
}
