package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/interflow/internal/logger"
	"github.com/interflow/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

const messageColumns = `m.id, m.chat_id, m.content, m.type, m.sender_type, m.sender_agent_id, m.sender_customer_id,
		        m.status, m.created_at, m.attachments, m.metadata, m.response_message_id,
		        a.id, a.name, a.email, a.avatar_url`

const messageFrom = ` FROM messages m
		 LEFT JOIN agents a ON a.id = m.sender_agent_id`

func scanMessage(row pgx.Row) (*model.Message, error) {
	m := &model.Message{}
	var attachments, metadata []byte
	var agentID, agentName, agentEmail, agentAvatar *string
	err := row.Scan(&m.ID, &m.ChatID, &m.Content, &m.Type, &m.SenderType, &m.SenderAgentID, &m.SenderCustomerID,
		&m.Status, &m.CreatedAt, &attachments, &metadata, &m.ResponseMessageID,
		&agentID, &agentName, &agentEmail, &agentAvatar)
	if err != nil {
		return nil, err
	}
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &m.Attachments); err != nil {
			return nil, fmt.Errorf("attachments: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &m.Metadata); err != nil {
			return nil, fmt.Errorf("metadata: %w", err)
		}
	}
	if agentID != nil {
		m.SenderAgent = &model.AgentProfile{ID: *agentID, AvatarURL: agentAvatar}
		if agentName != nil {
			m.SenderAgent.Name = *agentName
		}
		if agentEmail != nil {
			m.SenderAgent.Email = *agentEmail
		}
	}
	return m, nil
}

func (r *MessageRepository) queryPage(ctx context.Context, fn, where string, args []any, limit int) ([]model.Message, error) {
	sql := `SELECT ` + messageColumns + messageFrom + ` WHERE ` + where +
		fmt.Sprintf(` ORDER BY m.created_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.%s query: %w", fn, err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0, limit)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("msgRepo.%s scan: %w", fn, err)
		}
		messages = append(messages, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.%s rows: %w", fn, err)
	}
	return messages, nil
}

// PageByChat возвращает страницу сообщений чата, новые первыми.
// Контроллер пагинации разворачивает её в хронологический порядок сам.
func (r *MessageRepository) PageByChat(ctx context.Context, chatID string, limit, offset int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.PageByChat", time.Now())()
	sql := `SELECT ` + messageColumns + messageFrom +
		` WHERE m.chat_id = $1 ORDER BY m.created_at DESC LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, sql, chatID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.PageByChat query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0, limit)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("msgRepo.PageByChat scan: %w", err)
		}
		messages = append(messages, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.PageByChat rows: %w", err)
	}
	return messages, nil
}

// PageByChatBefore возвращает страницу с created_at <= before (для позиционирования
// на конкретное сообщение при deep-link).
func (r *MessageRepository) PageByChatBefore(ctx context.Context, chatID string, before time.Time, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.PageByChatBefore", time.Now())()
	return r.queryPage(ctx, "PageByChatBefore", `m.chat_id = $1 AND m.created_at <= $2`, []any{chatID, before}, limit)
}

// PageByCustomer возвращает страницу сообщений клиента по всем чатам канала
// (режим «вся переписка с клиентом»).
func (r *MessageRepository) PageByCustomer(ctx context.Context, customerID, channelID string, limit, offset int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.PageByCustomer", time.Now())()
	sql := `SELECT ` + messageColumns + messageFrom + `
		 JOIN chats c ON c.id = m.chat_id
		 WHERE c.customer_id = $1 AND c.channel_id = $2
		 ORDER BY m.created_at DESC LIMIT $3 OFFSET $4`
	rows, err := r.pool.Query(ctx, sql, customerID, channelID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.PageByCustomer query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0, limit)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("msgRepo.PageByCustomer scan: %w", err)
		}
		messages = append(messages, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.PageByCustomer rows: %w", err)
	}
	return messages, nil
}

// GetByID возвращает одно сообщение (для deep-link и обогащения response_to).
func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetByID", time.Now())()
	sql := `SELECT ` + messageColumns + messageFrom + ` WHERE m.id = $1`
	m, err := scanMessage(r.pool.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetByID: %w", err)
	}
	return m, nil
}
