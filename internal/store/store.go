package store

import (
	"context"
	"time"

	"qms/waitless-service/internal/models"
)

type CreateTicketInput struct {
	UserID       string
	DepartmentID string
	JoinedAt     time.Time
}

// UpdateTicketInput carries a partial update; nil fields are left untouched.
type UpdateTicketInput struct {
	Status            *string
	Position          *int
	EstimatedWaitTime *int
	UpdatedAt         time.Time
}

func (in UpdateTicketInput) Empty() bool {
	return in.Status == nil && in.Position == nil && in.EstimatedWaitTime == nil
}

type TicketStore interface {
	CreateTicket(ctx context.Context, input CreateTicketInput) (models.Ticket, error)
	GetTicket(ctx context.Context, ticketID string) (models.Ticket, error)
	GetTicketByQRCode(ctx context.Context, payload QRPayload) (models.Ticket, error)
	UpdateTicket(ctx context.Context, ticketID string, input UpdateTicketInput) (models.Ticket, error)
	CallNext(ctx context.Context, departmentID string, calledAt time.Time) (models.Ticket, error)
	CompleteTicket(ctx context.Context, ticketID string, completedAt time.Time) (models.Ticket, error)
	MissTicket(ctx context.Context, ticketID string, missedAt time.Time) (models.Ticket, error)
	CancelTicket(ctx context.Context, ticketID string, cancelledAt time.Time) (models.Ticket, error)
	ListUserTickets(ctx context.Context, userID string) ([]models.Ticket, error)
	ListQueue(ctx context.Context, departmentID string) ([]models.Ticket, error)
	QueueStats(ctx context.Context, departmentID string) (models.QueueStats, error)
	ListCalledBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Ticket, error)
}

type DepartmentStore interface {
	ListDepartments(ctx context.Context, activeOnly bool) ([]models.Department, error)
	GetDepartment(ctx context.Context, departmentID string) (models.Department, error)
	CreateDepartment(ctx context.Context, department models.Department) (models.Department, error)
	UpdateDepartment(ctx context.Context, department models.Department) (models.Department, error)
}

type CreateUserInput struct {
	Name         string
	Email        string
	Phone        string
	Role         string
	PasswordHash string
}

type UserStore interface {
	CreateUser(ctx context.Context, input CreateUserInput) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
	GetUserByID(ctx context.Context, userID string) (models.User, error)
}
