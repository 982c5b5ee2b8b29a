package fanout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"sudooom.im.chat/internal/connection"
	"sudooom.im.chat/internal/model"
	apperr "sudooom.im.chat/pkg/errors"
)

// recordingTransport 记录写入的帧
type recordingTransport struct {
	mu     sync.Mutex
	frames [][]byte
}

func (t *recordingTransport) WriteMessage(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frames = append(t.frames, data)
	return nil
}

func (t *recordingTransport) Ping() error  { return nil }
func (t *recordingTransport) Close() error { return nil }

func (t *recordingTransport) Frames() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.frames))
	copy(out, t.frames)
	return out
}

// waitFrames 等待写协程刷出 n 帧
func waitFrames(t *testing.T, tr *recordingTransport, n int) [][]byte {
	t.Helper()
	require.Eventually(t, func() bool { return len(tr.Frames()) >= n }, time.Second, 5*time.Millisecond)
	return tr.Frames()
}

// memoryStore 内存消息存储
type memoryStore struct {
	mu       sync.Mutex
	messages []model.Message
	nextID   int64
	err      error
}

func (s *memoryStore) Insert(_ context.Context, msg *model.Message) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	if !msg.Valid() {
		return 0, apperr.ErrInvalidMessage
	}
	s.nextID++
	msg.ID = s.nextID
	msg.CreatedAt = time.Now()
	s.messages = append(s.messages, *msg)
	return msg.ID, nil
}

func (s *memoryStore) QueryByParticipants(_ context.Context, a, b int64) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Message
	for _, m := range s.messages {
		if m.RecipientID == nil {
			continue
		}
		if (m.SenderID == a && *m.RecipientID == b) || (m.SenderID == b && *m.RecipientID == a) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memoryStore) QueryByGroup(_ context.Context, groupChatID int64) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Message
	for _, m := range s.messages {
		if m.GroupChatID != nil && *m.GroupChatID == groupChatID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// memoryDirectory 内存群目录
type memoryDirectory map[int64][]int64

func (d memoryDirectory) GetParticipants(_ context.Context, groupChatID int64) ([]int64, error) {
	participants, ok := d[groupChatID]
	if !ok {
		return nil, apperr.ErrGroupNotFound
	}
	return participants, nil
}

// memoryBlobs 内存附件存储
type memoryBlobs struct {
	mu    sync.Mutex
	blobs map[string][]byte
	err   error
}

func newMemoryBlobs() *memoryBlobs {
	return &memoryBlobs{blobs: make(map[string][]byte)}
}

func (b *memoryBlobs) Save(_ context.Context, data []byte, suggestedName string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return "", b.err
	}
	b.blobs[suggestedName] = data
	return suggestedName, nil
}

func (b *memoryBlobs) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.blobs)
}

// recordingPublisher 记录旁路事件
type recordingPublisher struct {
	mu        sync.Mutex
	persisted []*model.Message
	presence  []model.PresenceSnapshot
}

func (p *recordingPublisher) MessagePersisted(msg *model.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.persisted = append(p.persisted, msg)
}

func (p *recordingPublisher) PresenceChanged(snapshot model.PresenceSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.presence = append(p.presence, snapshot)
}

var errDiskFull = errors.New("disk full")

type harness struct {
	registry *connection.Registry
	store    *memoryStore
	groups   memoryDirectory
	blobs    *memoryBlobs
	router   *Router
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		registry: connection.NewRegistry(nil),
		store:    &memoryStore{},
		groups:   memoryDirectory{},
		blobs:    newMemoryBlobs(),
	}
	h.router = NewRouter(h.store, h.groups, h.blobs, h.registry, nil, nil)
	return h
}

// connect 建立并登记一个连接，userID 为 0 表示未认证
func (h *harness) connect(t *testing.T, userID int64, username string) (*connection.Connection, *recordingTransport) {
	t.Helper()
	tr := &recordingTransport{}
	conn := connection.New(tr, 16, nil)
	t.Cleanup(func() { h.registry.Evict(conn) })

	var identity *model.Identity
	if userID > 0 {
		identity = &model.Identity{UserID: userID, Username: username}
	}
	h.registry.Admit(conn, identity)
	return conn, tr
}
