package authkit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// DatabaseUserStore persists users using GORM.
type DatabaseUserStore struct {
	db          *gorm.DB
	driverLabel string
}

type userRow struct {
	ID           string `gorm:"column:id;primaryKey"`
	Username     string `gorm:"column:username;uniqueIndex;not null"`
	Email        string `gorm:"column:email;index;not null;default:''"`
	Name         string `gorm:"column:name;not null"`
	PasswordHash string `gorm:"column:password_hash;not null"`
	Role         string `gorm:"column:role;not null;default:'USER'"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (userRow) TableName() string {
	return "users"
}

func (row userRow) user() User {
	return User{
		ID:           row.ID,
		Username:     row.Username,
		Email:        row.Email,
		Name:         row.Name,
		PasswordHash: row.PasswordHash,
		Role:         Role(row.Role),
		CreatedAt:    row.CreatedAt.UTC(),
		UpdatedAt:    row.UpdatedAt.UTC(),
	}
}

// NewDatabaseUserStore binds a user store to an opened database.
func NewDatabaseUserStore(database *Database) *DatabaseUserStore {
	return &DatabaseUserStore{
		db:          database.db,
		driverLabel: database.driverLabel,
	}
}

// CreateUser inserts the user; the username must be unique.
func (store *DatabaseUserStore) CreateUser(ctx context.Context, user User) (User, error) {
	if err := user.Validate(); err != nil {
		return User{}, fmt.Errorf("user_store.create.%s: %w", store.driverLabel, err)
	}
	row := userRow{
		ID:           user.ID,
		Username:     user.Username,
		Email:        user.Email,
		Name:         user.Name,
		PasswordHash: user.PasswordHash,
		Role:         string(user.Role),
		CreatedAt:    user.CreatedAt,
		UpdatedAt:    user.UpdatedAt,
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return User{}, fmt.Errorf("user_store.create.%s: %w", store.driverLabel, ErrUserExists)
		}
		return User{}, fmt.Errorf("user_store.create.%s: %w", store.driverLabel, err)
	}
	return row.user(), nil
}

// FindByLogin matches login against the username or the email.
func (store *DatabaseUserStore) FindByLogin(ctx context.Context, login string) (User, error) {
	normalized := strings.ToLower(strings.TrimSpace(login))
	if normalized == "" {
		return User{}, fmt.Errorf("user_store.find_login.%s: %w", store.driverLabel, ErrUserNotFound)
	}
	var row userRow
	err := store.db.WithContext(ctx).
		Where("username = ?", normalized).
		Or("email <> '' AND email = ?", normalized).
		Order("created_at").
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return User{}, fmt.Errorf("user_store.find_login.%s: %w", store.driverLabel, ErrUserNotFound)
		}
		return User{}, fmt.Errorf("user_store.find_login.%s: %w", store.driverLabel, err)
	}
	return row.user(), nil
}

// FindByID loads a user by identifier.
func (store *DatabaseUserStore) FindByID(ctx context.Context, userID string) (User, error) {
	var row userRow
	err := store.db.WithContext(ctx).Where("id = ?", userID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return User{}, fmt.Errorf("user_store.find_id.%s: %w", store.driverLabel, ErrUserNotFound)
		}
		return User{}, fmt.Errorf("user_store.find_id.%s: %w", store.driverLabel, err)
	}
	return row.user(), nil
}

// ListUsers returns every user ordered by creation time.
func (store *DatabaseUserStore) ListUsers(ctx context.Context) ([]User, error) {
	var rows []userRow
	if err := store.db.WithContext(ctx).Order("created_at, username").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("user_store.list.%s: %w", store.driverLabel, err)
	}
	users := make([]User, 0, len(rows))
	for _, row := range rows {
		users = append(users, row.user())
	}
	return users, nil
}
