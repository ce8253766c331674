package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/shenikar/falconwatch/internal/auth"
	"github.com/shenikar/falconwatch/internal/config"
	"github.com/shenikar/falconwatch/internal/metrics"
	"github.com/shenikar/falconwatch/internal/models"
	"github.com/sirupsen/logrus"
)

// UserRepository - справочник пользователей внешнего сервиса учетных данных
type UserRepository interface {
	GetByID(ctx context.Context, id int64) (*models.UserSummary, error)
}

// AuthService проверяет bearer-токен и возвращает пользователя
type AuthService interface {
	Authenticate(ctx context.Context, token string) (*models.UserSummary, error)
}

type authService struct {
	users  UserRepository
	cfg    *config.Config
	logger *logrus.Logger
}

func NewAuthService(users UserRepository, cfg *config.Config, logger *logrus.Logger) AuthService {
	return &authService{
		users:  users,
		cfg:    cfg,
		logger: logger,
	}
}

// Authenticate возвращает ошибку, оборачивающую models.ErrAuth, для любого отказа
func (s *authService) Authenticate(ctx context.Context, token string) (*models.UserSummary, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service": "auth",
		"method":  "Authenticate",
	})

	claims, err := auth.ParseToken(s.cfg.JWTSecret, token)
	if err != nil {
		log.WithError(err).Warn("Rejected session credential")
		metrics.AuthFailures.WithLabelValues("token").Inc()
		return nil, fmt.Errorf("service: %w", err)
	}
	log = log.WithField("user_id", claims.UserID)

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			log.Warn("Credential refers to unknown user")
			metrics.AuthFailures.WithLabelValues("unknown_user").Inc()
			return nil, fmt.Errorf("service: unknown user %d: %w", claims.UserID, models.ErrAuth)
		}
		log.WithError(err).Error("Failed to look up user")
		return nil, fmt.Errorf("service: could not look up user: %w", err)
	}

	if !s.cfg.RoleAllowed(user.Role) {
		log.WithField("role", user.Role).Warn("Role is not permitted to open a session")
		metrics.AuthFailures.WithLabelValues("role").Inc()
		return nil, fmt.Errorf("service: role %q not permitted: %w", user.Role, models.ErrAuth)
	}

	log.Debug("Session credential verified")
	return user, nil
}
