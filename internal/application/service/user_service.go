package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/idea-hub/internal/application/port"
	"github.com/garyjia/idea-hub/internal/domain/entity"
	"github.com/garyjia/idea-hub/pkg/apperror"
	"github.com/garyjia/idea-hub/pkg/utils"
)

// UserInput is a new directory entry
type UserInput struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Email      string            `json:"email"`
	Role       entity.Role       `json:"role"`
	Department entity.Department `json:"department"`
}

// UserService manages the user directory
type UserService interface {
	Create(ctx context.Context, input UserInput, caller entity.Caller) (*entity.User, error)
	Get(ctx context.Context, userID string) (*entity.User, error)
	List(ctx context.Context, filter entity.UserFilter, page entity.Page) (*entity.UserPage, error)
}

type userServiceImpl struct {
	userRepo port.UserRepository
	now      func() time.Time
	logger   Logger
}

// NewUserService creates a new UserService
func NewUserService(userRepo port.UserRepository, logger Logger) UserService {
	return &userServiceImpl{
		userRepo: userRepo,
		now:      time.Now,
		logger:   logger,
	}
}

// Create adds a user. Only managers and admins maintain the directory.
func (s *userServiceImpl) Create(ctx context.Context, input UserInput, caller entity.Caller) (*entity.User, error) {
	if !caller.IsElevated() {
		return nil, forbidden(caller, "create user", entity.RoleManager, entity.RoleAdmin)
	}

	id := strings.TrimSpace(input.ID)
	if err := utils.ValidateIdentifier(id); err != nil {
		return nil, validation("id is invalid", map[string]interface{}{"field": "id"})
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, validation("name is required", map[string]interface{}{"field": "name"})
	}
	email := strings.TrimSpace(input.Email)
	if err := utils.ValidateEmail(email); err != nil {
		return nil, validation("email is invalid", map[string]interface{}{"field": "email"})
	}
	if !input.Role.IsValid() {
		return nil, validation("unknown role", map[string]interface{}{"role": string(input.Role)})
	}
	if input.Department != "" && !input.Department.IsValid() {
		return nil, validation("unknown department", map[string]interface{}{"department": string(input.Department)})
	}

	now := s.now().UTC()
	user := &entity.User{
		ID:         id,
		Name:       name,
		Email:      email,
		Role:       input.Role,
		Department: input.Department,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, port.ErrUniqueViolation) {
			return nil, apperror.Conflict(apperror.CodeUserExists, "user id or email already exists").
				WithParams(map[string]interface{}{"id": id, "email": email})
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.logger.Info("User created", "user_id", id, "role", input.Role, "by", caller.UserID)
	return user, nil
}

// Get returns a user or NotFound
func (s *userServiceImpl) Get(ctx context.Context, userID string) (*entity.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return nil, apperror.NotFound(apperror.CodeUserNotFound, "user not found").
			WithParams(map[string]interface{}{"user_id": userID})
	}
	return user, nil
}

// List returns one page of the directory
func (s *userServiceImpl) List(ctx context.Context, filter entity.UserFilter, page entity.Page) (*entity.UserPage, error) {
	if filter.Role != "" && !filter.Role.IsValid() {
		return nil, validation("unknown role", map[string]interface{}{"role": string(filter.Role)})
	}
	if filter.Department != "" && !filter.Department.IsValid() {
		return nil, validation("unknown department", map[string]interface{}{"department": string(filter.Department)})
	}
	page = NormalizePage(page)

	items, total, err := s.userRepo.List(ctx, filter, page)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	if items == nil {
		items = []*entity.User{}
	}
	return &entity.UserPage{Items: items, Total: total, Skip: page.Skip, Limit: page.Limit}, nil
}

// requireDeveloper loads developerID from the directory and checks it holds
// the developer role
func requireDeveloper(ctx context.Context, users port.UserRepository, developerID string) (*entity.User, error) {
	user, err := users.GetByID(ctx, developerID)
	if err != nil {
		return nil, fmt.Errorf("get developer: %w", err)
	}
	if user == nil || user.Role != entity.RoleDeveloper {
		return nil, apperror.NotFound(apperror.CodeDeveloperNotFound, "developer not found").
			WithParams(map[string]interface{}{"developer_id": developerID})
	}
	return user, nil
}
