package auth

import (
	"context"
	"errors"
	"log"
	"regexp"
	"strings"
	"time"

	"qms/waitless-service/internal/models"
	"qms/waitless-service/internal/store"
)

const minPasswordLength = 6

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

type Options struct {
	Secret     string
	TokenTTL   time.Duration
	BcryptCost int
}

type Service struct {
	users      store.UserStore
	tokens     *TokenIssuer
	bcryptCost int
}

type RegisterInput struct {
	Name     string
	Email    string
	Password string
	Phone    string
	Role     string
}

type Result struct {
	User  models.User `json:"user"`
	Token string      `json:"token"`
}

func NewService(users store.UserStore, options Options) *Service {
	cost := options.BcryptCost
	if cost <= 0 {
		cost = DefaultBcryptCost
	}
	return &Service{
		users:      users,
		tokens:     NewTokenIssuer(options.Secret, options.TokenTTL),
		bcryptCost: cost,
	}
}

func (s *Service) Tokens() *TokenIssuer {
	return s.tokens
}

func (s *Service) Register(ctx context.Context, input RegisterInput) (Result, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	input.Phone = strings.TrimSpace(input.Phone)

	if input.Name == "" || input.Email == "" || input.Password == "" {
		return Result{}, ValidationError{Message: "name, email, and password are required"}
	}
	if !emailPattern.MatchString(input.Email) {
		return Result{}, ValidationError{Message: "invalid email format"}
	}
	if len(input.Password) < minPasswordLength {
		return Result{}, ValidationError{Message: "password must be at least 6 characters long"}
	}
	role, ok := normalizeRole(input.Role)
	if !ok {
		return Result{}, ValidationError{Message: "role must be patient or admin"}
	}

	hash, err := HashPassword(input.Password, s.bcryptCost)
	if err != nil {
		return Result{}, err
	}

	user, err := s.users.CreateUser(ctx, store.CreateUserInput{
		Name:         input.Name,
		Email:        input.Email,
		Phone:        input.Phone,
		Role:         role,
		PasswordHash: hash,
	})
	if err != nil {
		return Result{}, err
	}

	token, err := s.tokens.Issue(user)
	if err != nil {
		return Result{}, err
	}
	return Result{User: user, Token: token}, nil
}

// Login never tells the caller whether the email or the password was wrong.
func (s *Service) Login(ctx context.Context, email, password string) (Result, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return Result{}, ValidationError{Message: "email and password are required"}
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return Result{}, ErrInvalidCredentials
		}
		return Result{}, err
	}
	if !CheckPassword(user.PasswordHash, password) {
		return Result{}, ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(user)
	if err != nil {
		return Result{}, err
	}
	return Result{User: user, Token: token}, nil
}

func (s *Service) CurrentUser(ctx context.Context, token string) (models.User, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return models.User{}, ErrInvalidToken
	}
	user, err := s.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if !errors.Is(err, store.ErrUserNotFound) {
			log.Printf("auth user lookup error user_id=%s err=%v", claims.UserID, err)
		}
		return models.User{}, ErrInvalidToken
	}
	return user, nil
}

func normalizeRole(role string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "", models.RolePatient, "user":
		return models.RolePatient, true
	case models.RoleAdmin:
		return models.RoleAdmin, true
	default:
		return "", false
	}
}
