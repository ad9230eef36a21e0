package usecases

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"waflow/internal/entities"
	"waflow/internal/interfaces"
)

const tokenTTL = 24 * time.Hour

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUsernameTaken      = errors.New("username already exists")
)

type AuthUsecase struct {
	users     interfaces.UserStore
	jwtSecret []byte
	now       func() time.Time
}

func NewAuthUsecase(users interfaces.UserStore, secret string) *AuthUsecase {
	return &AuthUsecase{
		users:     users,
		jwtSecret: []byte(secret),
		now:       time.Now,
	}
}

func (uc *AuthUsecase) Register(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(username)
	existing, err := uc.users.GetByUsername(ctx, username)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrUsernameTaken
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	return uc.users.Create(ctx, &entities.User{
		Username:     username,
		PasswordHash: string(hashed),
		Role:         "user",
		IsActive:     true,
	})
}

func (uc *AuthUsecase) Login(ctx context.Context, username, password string) (string, error) {
	user, err := uc.users.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": user.ID,
		"role":    user.Role,
		"exp":     uc.now().Add(tokenTTL).Unix(),
	})
	signed, err := token.SignedString(uc.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// EnsureAdmin creates the root user on first start.
func (uc *AuthUsecase) EnsureAdmin(ctx context.Context, username, password string) error {
	user, err := uc.users.GetByUsername(ctx, username)
	if err != nil || user != nil {
		return err
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return uc.users.Create(ctx, &entities.User{
		Username:       username,
		PasswordHash:   string(hashed),
		Role:           "admin",
		IsActive:       true,
		ChatbotEnabled: true,
		WarmerEnabled:  true,
	})
}
