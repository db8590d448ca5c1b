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

type AgentRepository struct {
	pool *pgxpool.Pool
}

func NewAgentRepository(pool *pgxpool.Pool) *AgentRepository {
	return &AgentRepository{pool: pool}
}

// GetByID возвращает отображаемый профиль агента (подпись системных сообщений,
// список участников).
func (r *AgentRepository) GetByID(ctx context.Context, id string) (*model.AgentProfile, error) {
	defer logger.DeferLogDuration("agent.GetByID", time.Now())()
	a := &model.AgentProfile{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, email, avatar_url FROM agents WHERE id = $1`, id,
	).Scan(&a.ID, &a.Name, &a.Email, &a.AvatarURL)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("agentRepo.GetByID: %w", err)
	}
	return a, nil
}
