package authkit

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// MinPasswordLength is the shortest accepted password.
	MinPasswordLength = 8
	// MaxPasswordLength is the bcrypt input limit in bytes.
	MaxPasswordLength = 72
)

// RegistrationInput is the payload accepted when creating an account.
type RegistrationInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

// UserRegistry creates and lists application users.
type UserRegistry struct {
	users  UserStore
	hasher PasswordHasher
	clock  Clock
	logger *zap.Logger
}

// NewUserRegistry builds a registry over the given store.
func NewUserRegistry(users UserStore, hasher PasswordHasher, clock Clock, logger *zap.Logger) *UserRegistry {
	if hasher == nil {
		hasher = NewBcryptHasher(DefaultBcryptCost)
	}
	if clock == nil {
		clock = NewSystemClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserRegistry{users: users, hasher: hasher, clock: clock, logger: logger}
}

// Register creates a USER account from public input.
func (registry *UserRegistry) Register(ctx context.Context, input RegistrationInput) (User, error) {
	return registry.Create(ctx, input, RoleUser)
}

// Create validates input and stores a user with the given role.
func (registry *UserRegistry) Create(ctx context.Context, input RegistrationInput, role Role) (User, error) {
	normalized, err := normalizeRegistration(input)
	if err != nil {
		return User{}, err
	}
	if !role.Valid() {
		return User{}, newAuthError(KindValidation, "Invalid role", string(role), ErrInvalidRegistration)
	}
	passwordHash, err := registry.hasher.Hash(normalized.Password)
	if err != nil {
		return User{}, internalError(err)
	}
	now := registry.clock.Now().UTC()
	user := User{
		ID:           uuid.NewString(),
		Username:     normalized.Username,
		Email:        normalized.Email,
		Name:         normalized.Name,
		PasswordHash: passwordHash,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	created, err := registry.users.CreateUser(ctx, user)
	if err != nil {
		if errors.Is(err, ErrUserExists) {
			return User{}, newAuthError(KindValidation, "User already exists", "Username "+normalized.Username+" is taken", err)
		}
		return User{}, internalError(err)
	}
	registry.logger.Info("user created", zap.String("code", "users.register.success"), zap.String("user_id", created.ID), zap.String("role", string(created.Role)))
	return created, nil
}

// List returns every user without credentials.
func (registry *UserRegistry) List(ctx context.Context) ([]User, error) {
	users, err := registry.users.ListUsers(ctx)
	if err != nil {
		return nil, internalError(err)
	}
	return users, nil
}

func normalizeRegistration(input RegistrationInput) (RegistrationInput, error) {
	normalized := RegistrationInput{
		Username: strings.ToLower(strings.TrimSpace(input.Username)),
		Email:    strings.ToLower(strings.TrimSpace(input.Email)),
		Name:     strings.TrimSpace(input.Name),
		Password: input.Password,
	}
	var missing []string
	if normalized.Username == "" {
		missing = append(missing, "username")
	}
	if normalized.Name == "" {
		missing = append(missing, "name")
	}
	if normalized.Password == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		return RegistrationInput{}, newAuthError(KindValidation, "Invalid Details", "Missing "+strings.Join(missing, ", "), ErrInvalidRegistration)
	}
	if strings.ContainsAny(normalized.Username, " \t\n@") {
		return RegistrationInput{}, newAuthError(KindValidation, "Invalid Details", "Username must not contain spaces or @", ErrInvalidRegistration)
	}
	if len(normalized.Password) < MinPasswordLength {
		return RegistrationInput{}, newAuthError(KindValidation, "Invalid Details", fmt.Sprintf("Password must be at least %d characters", MinPasswordLength), ErrInvalidRegistration)
	}
	if len(normalized.Password) > MaxPasswordLength {
		return RegistrationInput{}, newAuthError(KindValidation, "Invalid Details", fmt.Sprintf("Password must be at most %d bytes", MaxPasswordLength), ErrInvalidRegistration)
	}
	if normalized.Email != "" {
		address, err := mail.ParseAddress(normalized.Email)
		if err != nil || address.Address != normalized.Email {
			return RegistrationInput{}, newAuthError(KindValidation, "Invalid Details", "Email is not valid", ErrInvalidRegistration)
		}
	}
	return normalized, nil
}
