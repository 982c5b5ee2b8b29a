package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"sudooom.im.chat/internal/model"
	apperr "sudooom.im.chat/pkg/errors"
)

const messageColumns = `id, sender_id, recipient_id, group_chat_id, text, attachment_ref, created_at`

// MessageRepository 消息仓库
type MessageRepository struct {
	db      *pgxpool.Pool
	timeout time.Duration
}

// NewMessageRepository 创建消息仓库，timeout 为单次调用上限
func NewMessageRepository(db *pgxpool.Pool, timeout time.Duration) *MessageRepository {
	return &MessageRepository{db: db, timeout: timeout}
}

// Insert 写入消息，回填存储分配的 id 和 created_at
func (r *MessageRepository) Insert(ctx context.Context, msg *model.Message) (int64, error) {
	if !msg.Valid() {
		return 0, apperr.ErrInvalidMessage
	}

	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO messages (sender_id, recipient_id, group_chat_id, text, attachment_ref)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	err := r.db.QueryRow(ctx, query,
		msg.SenderID,
		msg.RecipientID,
		msg.GroupChatID,
		msg.Text,
		msg.AttachmentRef,
	).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return 0, mapError(err)
	}

	return msg.ID, nil
}

// FindByID 根据 ID 查找消息
func (r *MessageRepository) FindByID(ctx context.Context, id int64) (*model.Message, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`

	msg, err := scanMessage(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, mapError(err)
	}
	return msg, nil
}

// QueryByParticipants 两人之间的单聊记录（双向），按创建时间排序
func (r *MessageRepository) QueryByParticipants(ctx context.Context, userA, userB int64) ([]*model.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE (sender_id = $1 AND recipient_id = $2)
		   OR (sender_id = $2 AND recipient_id = $1)
		ORDER BY created_at, id
	`
	return r.query(ctx, query, userA, userB)
}

// QueryByGroup 群聊记录，按创建时间排序
func (r *MessageRepository) QueryByGroup(ctx context.Context, groupChatID int64) ([]*model.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE group_chat_id = $1
		ORDER BY created_at, id
	`
	return r.query(ctx, query, groupChatID)
}

func (r *MessageRepository) query(ctx context.Context, query string, args ...any) ([]*model.Message, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	messages := make([]*model.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, mapError(err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}

	return messages, nil
}

func scanMessage(row pgx.Row) (*model.Message, error) {
	var msg model.Message
	err := row.Scan(
		&msg.ID,
		&msg.SenderID,
		&msg.RecipientID,
		&msg.GroupChatID,
		&msg.Text,
		&msg.AttachmentRef,
		&msg.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}
