package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	apperr "sudooom.im.chat/pkg/errors"
)

// JetStreamStore 基于 NATS JetStream Object Store 的附件存储
type JetStreamStore struct {
	store  jetstream.ObjectStore
	bucket string
	logger *slog.Logger
}

// NewJetStreamStore 打开 bucket，不存在时创建
func NewJetStreamStore(ctx context.Context, js jetstream.JetStream, bucket string, logger *slog.Logger) (*JetStreamStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	store, err := js.ObjectStore(ctx, bucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		store, err = js.CreateObjectStore(ctx, jetstream.ObjectStoreConfig{
			Bucket:      bucket,
			Description: "chat attachments",
		})
	}
	if err != nil {
		return nil, apperr.ErrIOError.Wrap(fmt.Errorf("open object store %s: %w", bucket, err))
	}

	logger.Info("JetStream object store ready", "bucket", bucket)
	return &JetStreamStore{store: store, bucket: bucket, logger: logger}, nil
}

// Save 写入对象，ref 为对象名
func (s *JetStreamStore) Save(ctx context.Context, data []byte, suggestedName string) (string, error) {
	if !validName(suggestedName) {
		return "", apperr.ErrIOError.Wrapf("invalid blob name %q", suggestedName)
	}

	contentType := mime.TypeByExtension(filepath.Ext(suggestedName))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	meta := jetstream.ObjectMeta{
		Name: suggestedName,
		Headers: nats.Header{
			"Content-Type": []string{contentType},
		},
	}

	info, err := s.store.Put(ctx, meta, bytes.NewReader(data))
	if err != nil {
		return "", apperr.ErrIOError.Wrap(fmt.Errorf("put %s: %w", suggestedName, err))
	}

	s.logger.Debug("Attachment stored", "bucket", s.bucket, "ref", info.Name, "size", info.Size)
	return info.Name, nil
}

// Open 读取对象内容
func (s *JetStreamStore) Open(ctx context.Context, ref string) ([]byte, error) {
	result, err := s.store.Get(ctx, ref)
	if err != nil {
		return nil, apperr.ErrIOError.Wrap(fmt.Errorf("get %s: %w", ref, err))
	}
	defer result.Close()

	data, err := io.ReadAll(result)
	if err != nil {
		return nil, apperr.ErrIOError.Wrap(err)
	}
	return data, nil
}
