package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/interflow/internal/logger"
	"github.com/interflow/internal/model"
	"github.com/jackc/pgx/v5/pgxpool"
)

type CollaboratorRepository struct {
	pool *pgxpool.Pool
}

func NewCollaboratorRepository(pool *pgxpool.Pool) *CollaboratorRepository {
	return &CollaboratorRepository{pool: pool}
}

// Join добавляет агента в чат. Если агент уже уходил из этого чата,
// существующая строка реактивируется (left_at сбрасывается), иначе вставляется новая.
func (r *CollaboratorRepository) Join(ctx context.Context, chatID, userID string) error {
	defer logger.DeferLogDuration("collab.Join", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE chat_collaborators SET left_at = NULL, joined_at = $3
		 WHERE chat_id = $1 AND user_id = $2`,
		chatID, userID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("collabRepo.Join update: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO chat_collaborators (id, chat_id, user_id, joined_at)
		 VALUES ($1, $2, $3, $4)`,
		uuid.New().String(), chatID, userID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("collabRepo.Join insert: %w", err)
	}
	return nil
}

// Leave помечает участие завершённым (строка остаётся для истории).
func (r *CollaboratorRepository) Leave(ctx context.Context, chatID, userID string) error {
	defer logger.DeferLogDuration("collab.Leave", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE chat_collaborators SET left_at = $3
		 WHERE chat_id = $1 AND user_id = $2 AND left_at IS NULL`,
		chatID, userID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("collabRepo.Leave: %w", err)
	}
	return nil
}

// ActiveByChat возвращает активных участников чата (left_at IS NULL) с профилями.
func (r *CollaboratorRepository) ActiveByChat(ctx context.Context, chatID string) ([]model.Collaborator, error) {
	defer logger.DeferLogDuration("collab.ActiveByChat", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT cc.id, cc.chat_id, cc.user_id, cc.joined_at, cc.left_at,
		        a.id, a.name, a.email, a.avatar_url
		 FROM chat_collaborators cc
		 JOIN agents a ON a.id = cc.user_id
		 WHERE cc.chat_id = $1 AND cc.left_at IS NULL
		 ORDER BY cc.joined_at`, chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("collabRepo.ActiveByChat query: %w", err)
	}
	defer rows.Close()

	var collabs []model.Collaborator
	for rows.Next() {
		var c model.Collaborator
		agent := &model.AgentProfile{}
		if err := rows.Scan(&c.ID, &c.ChatID, &c.UserID, &c.JoinedAt, &c.LeftAt,
			&agent.ID, &agent.Name, &agent.Email, &agent.AvatarURL); err != nil {
			return nil, fmt.Errorf("collabRepo.ActiveByChat scan: %w", err)
		}
		c.Agent = agent
		collabs = append(collabs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("collabRepo.ActiveByChat rows: %w", err)
	}
	return collabs, nil
}
