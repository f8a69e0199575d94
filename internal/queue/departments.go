package queue

import (
	"context"
	"errors"
	"strings"

	"qms/waitless-service/internal/models"
	"qms/waitless-service/internal/store"
)

const defaultMinutesPerPatient = 15

var errNoDepartments = errors.New("department store is not configured")

// DepartmentInput is a partial department write; nil fields keep their
// current value on update and take defaults on create.
type DepartmentInput struct {
	Name                    *string
	Description             *string
	EstimatedTimePerPatient *int
	IsActive                *bool
}

func (s *Service) Departments(ctx context.Context, activeOnly bool) ([]models.Department, error) {
	if s.departments == nil {
		return nil, errNoDepartments
	}
	return s.departments.ListDepartments(ctx, activeOnly)
}

func (s *Service) Department(ctx context.Context, departmentID string) (models.Department, error) {
	if s.departments == nil {
		return models.Department{}, errNoDepartments
	}
	return s.departments.GetDepartment(ctx, strings.TrimSpace(departmentID))
}

func (s *Service) CreateDepartment(ctx context.Context, input DepartmentInput) (models.Department, error) {
	if s.departments == nil {
		return models.Department{}, errNoDepartments
	}
	department := models.Department{
		EstimatedTimePerPatient: defaultMinutesPerPatient,
		IsActive:                true,
	}
	if err := applyDepartmentInput(&department, input); err != nil {
		return models.Department{}, err
	}
	if department.Name == "" {
		return models.Department{}, store.ErrInvalidInput
	}
	return s.departments.CreateDepartment(ctx, department)
}

// UpdateDepartment changes reference data only; tickets already in line keep
// their recorded wait estimates.
func (s *Service) UpdateDepartment(ctx context.Context, departmentID string, input DepartmentInput) (models.Department, error) {
	if s.departments == nil {
		return models.Department{}, errNoDepartments
	}
	department, err := s.departments.GetDepartment(ctx, strings.TrimSpace(departmentID))
	if err != nil {
		return models.Department{}, err
	}
	if err := applyDepartmentInput(&department, input); err != nil {
		return models.Department{}, err
	}
	return s.departments.UpdateDepartment(ctx, department)
}

func applyDepartmentInput(department *models.Department, input DepartmentInput) error {
	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return store.ErrInvalidInput
		}
		department.Name = name
	}
	if input.Description != nil {
		department.Description = strings.TrimSpace(*input.Description)
	}
	if input.EstimatedTimePerPatient != nil {
		if *input.EstimatedTimePerPatient <= 0 {
			return store.ErrInvalidInput
		}
		department.EstimatedTimePerPatient = *input.EstimatedTimePerPatient
	}
	if input.IsActive != nil {
		department.IsActive = *input.IsActive
	}
	return nil
}
