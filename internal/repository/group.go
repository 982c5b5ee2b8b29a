package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"sudooom.im.chat/internal/model"
	apperr "sudooom.im.chat/pkg/errors"
)

// GroupDirectory 群成员查询
type GroupDirectory interface {
	GetParticipants(ctx context.Context, groupChatID int64) ([]int64, error)
}

// GroupRepository 群聊仓库
type GroupRepository struct {
	db      *pgxpool.Pool
	timeout time.Duration
}

// NewGroupRepository 创建群聊仓库
func NewGroupRepository(db *pgxpool.Pool, timeout time.Duration) *GroupRepository {
	return &GroupRepository{db: db, timeout: timeout}
}

// Create 创建群聊，成员去重
func (r *GroupRepository) Create(ctx context.Context, name string, participants []int64) (*model.GroupChat, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	group := &model.GroupChat{
		Name:         name,
		Participants: dedupe(participants),
	}

	query := `
		INSERT INTO group_chats (name, participants)
		VALUES ($1, $2)
		RETURNING id, created_at
	`
	if err := r.db.QueryRow(ctx, query, group.Name, group.Participants).Scan(&group.ID, &group.CreatedAt); err != nil {
		return nil, mapError(err)
	}
	return group, nil
}

// FindByID 根据 ID 查找群聊，不存在返回 ErrGroupNotFound
func (r *GroupRepository) FindByID(ctx context.Context, id int64) (*model.GroupChat, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT id, name, participants, created_at FROM group_chats WHERE id = $1`

	var group model.GroupChat
	err := r.db.QueryRow(ctx, query, id).Scan(
		&group.ID,
		&group.Name,
		&group.Participants,
		&group.CreatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, apperr.ErrGroupNotFound.Wrapf("group chat %d", id)
		}
		return nil, mapError(err)
	}
	return &group, nil
}

// GetParticipants 获取群成员
func (r *GroupRepository) GetParticipants(ctx context.Context, groupChatID int64) ([]int64, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT participants FROM group_chats WHERE id = $1`

	var participants []int64
	if err := r.db.QueryRow(ctx, query, groupChatID).Scan(&participants); err != nil {
		if isNoRows(err) {
			return nil, apperr.ErrGroupNotFound.Wrapf("group chat %d", groupChatID)
		}
		return nil, mapError(err)
	}
	if participants == nil {
		participants = []int64{}
	}
	return participants, nil
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
