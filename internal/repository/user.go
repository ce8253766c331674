package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shenikar/falconwatch/internal/models"
	"github.com/shenikar/falconwatch/internal/service"
)

type UserRepository struct {
	db *pgxpool.Pool
}

func NewUserRepository(db *pgxpool.Pool) service.UserRepository {
	return &UserRepository{db: db}
}

// GetByID возвращает имя и роль пользователя
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*models.UserSummary, error) {
	query := `SELECT id, name, role FROM users WHERE id = $1;`

	user := &models.UserSummary{}
	err := r.db.QueryRow(ctx, query, id).Scan(&user.ID, &user.Name, &user.Role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user with id %d: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	return user, nil
}
