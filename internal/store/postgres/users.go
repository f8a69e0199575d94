package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"qms/waitless-service/internal/models"
	"qms/waitless-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const userColumns = `id, name, email, phone, role, password_hash, created_at, updated_at`

func (s *Store) CreateUser(ctx context.Context, input store.CreateUserInput) (models.User, error) {
	var exists bool
	row := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE lower(email) = lower($1))`, input.Email)
	if err := row.Scan(&exists); err != nil {
		return models.User{}, err
	}
	if exists {
		return models.User{}, store.ErrEmailTaken
	}

	now := time.Now().UTC()
	row = s.pool.QueryRow(ctx, `
		INSERT INTO users (id, name, email, password_hash, phone, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		RETURNING `+userColumns,
		uuid.NewString(), input.Name, strings.ToLower(input.Email), input.PasswordHash, nullIfEmpty(input.Phone), input.Role, now)
	user, err := scanUser(row)
	if err != nil {
		return models.User{}, mapWriteError(err)
	}
	return user, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, store.ErrUserNotFound
		}
		return models.User{}, err
	}
	return user, nil
}

func (s *Store) GetUserByID(ctx context.Context, userID string) (models.User, error) {
	if !validID(userID) {
		return models.User{}, store.ErrUserNotFound
	}
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, store.ErrUserNotFound
		}
		return models.User{}, err
	}
	return user, nil
}

func scanUser(row pgx.Row) (models.User, error) {
	var user models.User
	var phone sql.NullString
	if err := row.Scan(&user.ID, &user.Name, &user.Email, &phone, &user.Role, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return models.User{}, err
	}
	if phone.Valid {
		user.Phone = phone.String
	}
	return user, nil
}
