package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"qms/waitless-service/internal/models"
	"qms/waitless-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const departmentColumns = `id, name, description, estimated_time_per_patient, is_active, created_at, updated_at`

func (s *Store) ListDepartments(ctx context.Context, activeOnly bool) ([]models.Department, error) {
	query := `SELECT ` + departmentColumns + ` FROM departments`
	if activeOnly {
		query += " WHERE is_active = TRUE"
	}
	query += " ORDER BY name ASC"

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	departments := []models.Department{}
	for rows.Next() {
		department, err := scanDepartment(rows)
		if err != nil {
			return nil, err
		}
		departments = append(departments, department)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return departments, nil
}

func (s *Store) GetDepartment(ctx context.Context, departmentID string) (models.Department, error) {
	if !validID(departmentID) {
		return models.Department{}, store.ErrDepartmentNotFound
	}
	row := s.pool.QueryRow(ctx, `SELECT `+departmentColumns+` FROM departments WHERE id = $1`, departmentID)
	department, err := scanDepartment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Department{}, store.ErrDepartmentNotFound
		}
		return models.Department{}, err
	}
	return department, nil
}

func (s *Store) CreateDepartment(ctx context.Context, department models.Department) (models.Department, error) {
	if department.ID == "" {
		department.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO departments (id, name, description, estimated_time_per_patient, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING `+departmentColumns,
		department.ID, department.Name, nullIfEmpty(department.Description), department.EstimatedTimePerPatient, department.IsActive, now)
	return scanDepartment(row)
}

func (s *Store) UpdateDepartment(ctx context.Context, department models.Department) (models.Department, error) {
	if !validID(department.ID) {
		return models.Department{}, store.ErrDepartmentNotFound
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE departments
		SET name = $2, description = $3, estimated_time_per_patient = $4, is_active = $5, updated_at = $6
		WHERE id = $1
		RETURNING `+departmentColumns,
		department.ID, department.Name, nullIfEmpty(department.Description), department.EstimatedTimePerPatient, department.IsActive, time.Now().UTC())
	updated, err := scanDepartment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Department{}, store.ErrDepartmentNotFound
		}
		return models.Department{}, err
	}
	return updated, nil
}

func scanDepartment(row pgx.Row) (models.Department, error) {
	var department models.Department
	var description sql.NullString
	if err := row.Scan(&department.ID, &department.Name, &description, &department.EstimatedTimePerPatient,
		&department.IsActive, &department.CreatedAt, &department.UpdatedAt); err != nil {
		return models.Department{}, err
	}
	if description.Valid {
		department.Description = description.String
	}
	return department, nil
}
