package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/interflow/internal/logger"
	"github.com/interflow/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ChatRepository struct {
	pool *pgxpool.Pool
}

func NewChatRepository(pool *pgxpool.Pool) *ChatRepository {
	return &ChatRepository{pool: pool}
}

// GetByID возвращает чат с вложенными customer/channel/flow_session и активными
// участниками — всё, что нужно консоли для рендера и вывода прав отправки.
func (r *ChatRepository) GetByID(ctx context.Context, id string) (*model.Chat, error) {
	defer logger.DeferLogDuration("chat.GetByID", time.Now())()
	c := &model.Chat{}
	var (
		channelID, channelName     *string
		channelType                *model.ChannelType
		channelConnected           *bool
		customerID, customerName   *string
		customerPhone, customerAva *string
		flowID, flowFlowID, flowSt *string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT c.id, c.status, c.assigned_to, c.last_customer_message_at, c.flow_session_id, c.created_at,
		        ch.id, ch.type, ch.name, ch.is_connected,
		        cu.id, cu.name, cu.phone, cu.avatar_url,
		        fs.id, fs.flow_id, fs.status
		 FROM chats c
		 LEFT JOIN channels ch ON ch.id = c.channel_id
		 LEFT JOIN customers cu ON cu.id = c.customer_id
		 LEFT JOIN flow_sessions fs ON fs.id = c.flow_session_id
		 WHERE c.id = $1`, id,
	).Scan(&c.ID, &c.Status, &c.AssignedTo, &c.LastCustomerMessageAt, &c.FlowSessionID, &c.CreatedAt,
		&channelID, &channelType, &channelName, &channelConnected,
		&customerID, &customerName, &customerPhone, &customerAva,
		&flowID, &flowFlowID, &flowSt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("chatRepo.GetByID: %w", err)
	}
	if channelID != nil {
		c.ChannelDetails = &model.ChannelDetails{ID: *channelID}
		if channelType != nil {
			c.ChannelDetails.Type = *channelType
		}
		if channelName != nil {
			c.ChannelDetails.Name = *channelName
		}
		if channelConnected != nil {
			c.ChannelDetails.IsConnected = *channelConnected
		}
	}
	if customerID != nil {
		c.Customer = &model.Customer{ID: *customerID, Phone: customerPhone, AvatarURL: customerAva}
		if customerName != nil {
			c.Customer.Name = *customerName
		}
	}
	if flowID != nil {
		c.FlowSession = &model.FlowSession{ID: *flowID}
		if flowFlowID != nil {
			c.FlowSession.FlowID = *flowFlowID
		}
		if flowSt != nil {
			c.FlowSession.Status = *flowSt
		}
	}

	collabs, err := NewCollaboratorRepository(r.pool).ActiveByChat(ctx, id)
	if err != nil {
		// Участники — обогащение: чат рендерится и без них.
		logger.Errorf("chatRepo.GetByID collaborators chat=%s: %v", id, err)
	} else {
		c.Collaborators = collabs
	}
	return c, nil
}

// ListByStatus возвращает очередь чатов арендатора по статусу, свежие первыми.
func (r *ChatRepository) ListByStatus(ctx context.Context, status model.ChatStatus, limit, offset int) ([]model.Chat, error) {
	defer logger.DeferLogDuration("chat.ListByStatus", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT c.id, c.status, c.assigned_to, c.last_customer_message_at, c.flow_session_id, c.created_at,
		        ch.id, ch.type, ch.name, ch.is_connected,
		        cu.id, cu.name, cu.phone, cu.avatar_url
		 FROM chats c
		 LEFT JOIN channels ch ON ch.id = c.channel_id
		 LEFT JOIN customers cu ON cu.id = c.customer_id
		 WHERE c.status = $1
		 ORDER BY c.last_customer_message_at DESC NULLS LAST
		 LIMIT $2 OFFSET $3`, status, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("chatRepo.ListByStatus query: %w", err)
	}
	defer rows.Close()

	chats := make([]model.Chat, 0, limit)
	for rows.Next() {
		var c model.Chat
		var (
			channelID, channelName     *string
			channelType                *model.ChannelType
			channelConnected           *bool
			customerID, customerName   *string
			customerPhone, customerAva *string
		)
		if err := rows.Scan(&c.ID, &c.Status, &c.AssignedTo, &c.LastCustomerMessageAt, &c.FlowSessionID, &c.CreatedAt,
			&channelID, &channelType, &channelName, &channelConnected,
			&customerID, &customerName, &customerPhone, &customerAva); err != nil {
			return nil, fmt.Errorf("chatRepo.ListByStatus scan: %w", err)
		}
		if channelID != nil {
			c.ChannelDetails = &model.ChannelDetails{ID: *channelID}
			if channelType != nil {
				c.ChannelDetails.Type = *channelType
			}
			if channelName != nil {
				c.ChannelDetails.Name = *channelName
			}
			if channelConnected != nil {
				c.ChannelDetails.IsConnected = *channelConnected
			}
		}
		if customerID != nil {
			c.Customer = &model.Customer{ID: *customerID, Phone: customerPhone, AvatarURL: customerAva}
			if customerName != nil {
				c.Customer.Name = *customerName
			}
		}
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatRepo.ListByStatus rows: %w", err)
	}
	return chats, nil
}
