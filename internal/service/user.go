package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/utafrali/bookshelf/internal/domain"
	"github.com/utafrali/bookshelf/internal/repository"
	apperrors "github.com/utafrali/bookshelf/pkg/errors"
)

// UpsertProfileInput carries the identity fields of a profile. Role comes
// from the token, never from the request body.
type UpsertProfileInput struct {
	UserID      string
	Email       string
	DisplayName string
	Role        string
}

// UserService implements profile operations.
type UserService struct {
	users  repository.UserRepository
	logger *slog.Logger
	now    func() time.Time
}

// NewUserService creates a new user service.
func NewUserService(users repository.UserRepository, logger *slog.Logger) *UserService {
	return &UserService{users: users, logger: logger, now: time.Now}
}

// Me returns the caller's full profile.
func (s *UserService) Me(ctx context.Context, userID string) (*domain.User, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return u, nil
}

// Upsert creates or refreshes the caller's profile. reviewsCount is left as
// stored.
func (s *UserService) Upsert(ctx context.Context, input *UpsertProfileInput) (*domain.User, error) {
	if input.UserID == "" {
		return nil, apperrors.Unauthorized("authentication required")
	}
	role := input.Role
	if !domain.IsValidRole(role) {
		role = domain.RoleUser
	}
	name := strings.TrimSpace(input.DisplayName)
	if name == "" {
		return nil, apperrors.InvalidInput("displayName is required")
	}

	u, err := s.users.Upsert(ctx, &domain.User{
		ID:          input.UserID,
		Email:       strings.TrimSpace(input.Email),
		DisplayName: name,
		Role:        role,
		UpdatedAt:   s.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("upsert profile: %w", err)
	}

	s.logger.InfoContext(ctx, "profile upserted",
		slog.String("user_id", u.ID),
		slog.String("role", u.Role),
	)
	return u, nil
}

// PublicProfile returns the view of a profile shown to other users.
func (s *UserService) PublicProfile(ctx context.Context, userID string) (domain.PublicProfile, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return domain.PublicProfile{}, fmt.Errorf("get profile: %w", err)
	}
	return u.Public(), nil
}
