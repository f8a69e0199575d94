package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"qms/waitless-service/internal/models"
	"qms/waitless-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ticketColumns = `id, ticket_number, user_id, department_id, status, position, estimated_wait_time, qr_code,
	joined_at, called_at, completed_at, missed_count, last_missed_at, created_at, updated_at`

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

type Store struct {
	pool               *pgxpool.Pool
	defaultWaitMinutes int
}

type Options struct {
	DefaultWaitMinutes int
}

func NewStore(pool *pgxpool.Pool, options Options) *Store {
	fallback := options.DefaultWaitMinutes
	if fallback <= 0 {
		fallback = store.DefaultWaitMinutes
	}
	return &Store{
		pool:               pool,
		defaultWaitMinutes: fallback,
	}
}

func (s *Store) CreateTicket(ctx context.Context, input store.CreateTicketInput) (models.Ticket, error) {
	if !validID(input.UserID) || !validID(input.DepartmentID) {
		return models.Ticket{}, store.ErrInvalidInput
	}
	joinedAt := input.JoinedAt
	if joinedAt.IsZero() {
		joinedAt = time.Now().UTC()
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = lockDepartmentQueue(ctx, tx, input.DepartmentID); err != nil {
		return models.Ticket{}, err
	}

	position, err := nextPosition(ctx, tx, input.DepartmentID)
	if err != nil {
		return models.Ticket{}, err
	}

	waitTime, err := s.estimateWait(ctx, tx, input.DepartmentID, position)
	if err != nil {
		return models.Ticket{}, err
	}

	ticketID := uuid.NewString()
	ticketNumber := store.FormatTicketNumber(joinedAt, position)
	qrCode, err := store.EncodeQRPayload(store.QRPayload{
		TicketID:     ticketID,
		TicketNumber: ticketNumber,
		DepartmentID: input.DepartmentID,
		UserID:       input.UserID,
	})
	if err != nil {
		return models.Ticket{}, err
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO queue_tickets (
			id, ticket_number, user_id, department_id, status, position, estimated_wait_time,
			qr_code, joined_at, missed_count, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,0,$9,$9)
		RETURNING `+ticketColumns,
		ticketID, ticketNumber, input.UserID, input.DepartmentID, models.StatusWaiting, position, waitTime, qrCode, joinedAt)

	var ticket models.Ticket
	if ticket, err = scanTicket(row); err != nil {
		err = mapWriteError(err)
		return models.Ticket{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	if !validID(ticketID) {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	row := s.pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM queue_tickets WHERE id = $1`, ticketID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrTicketNotFound
		}
		return models.Ticket{}, err
	}
	return ticket, nil
}

// GetTicketByQRCode resolves a scanned payload by the ticket id it carries and
// accepts it only if the stored payload names the same ticket number.
func (s *Store) GetTicketByQRCode(ctx context.Context, payload store.QRPayload) (models.Ticket, error) {
	ticket, err := s.GetTicket(ctx, payload.TicketID)
	if err != nil {
		return models.Ticket{}, err
	}
	if payload.TicketNumber != "" && payload.TicketNumber != ticket.TicketNumber {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	return ticket, nil
}

func (s *Store) UpdateTicket(ctx context.Context, ticketID string, input store.UpdateTicketInput) (models.Ticket, error) {
	if input.Status != nil && !models.IsWritableStatus(*input.Status) {
		return models.Ticket{}, store.ErrInvalidInput
	}
	if input.Position != nil && *input.Position < 1 {
		return models.Ticket{}, store.ErrInvalidInput
	}
	if input.EstimatedWaitTime != nil && *input.EstimatedWaitTime < 0 {
		return models.Ticket{}, store.ErrInvalidInput
	}
	updatedAt := input.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	// Department queue lock before the row lock, the same order joins and
	// misses take them.
	if input.Position != nil {
		var departmentID string
		if departmentID, err = ticketDepartment(ctx, tx, ticketID); err != nil {
			return models.Ticket{}, err
		}
		if err = lockDepartmentQueue(ctx, tx, departmentID); err != nil {
			return models.Ticket{}, err
		}
	}

	current, err := lockTicket(ctx, tx, ticketID)
	if err != nil {
		return models.Ticket{}, err
	}

	status := current.Status
	if input.Status != nil {
		status = *input.Status
	}
	if input.Position != nil && status == models.StatusWaiting && *input.Position != current.Position {
		var taken bool
		row := tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM queue_tickets
				WHERE department_id = $1 AND status = 'waiting' AND position = $2 AND id <> $3
			)
		`, current.DepartmentID, *input.Position, ticketID)
		if err = row.Scan(&taken); err != nil {
			return models.Ticket{}, err
		}
		if taken {
			err = store.ErrPositionTaken
			return models.Ticket{}, err
		}
	}

	var sets []string
	var args []interface{}
	if input.Status != nil {
		args = append(args, *input.Status)
		sets = append(sets, fmt.Sprintf("status = $%d", len(args)))
	}
	if input.Position != nil {
		args = append(args, *input.Position)
		sets = append(sets, fmt.Sprintf("position = $%d", len(args)))
	}
	if input.EstimatedWaitTime != nil {
		args = append(args, *input.EstimatedWaitTime)
		sets = append(sets, fmt.Sprintf("estimated_wait_time = $%d", len(args)))
	}
	args = append(args, updatedAt)
	sets = append(sets, fmt.Sprintf("updated_at = $%d", len(args)))
	args = append(args, ticketID)

	query := `UPDATE queue_tickets SET ` + strings.Join(sets, ", ") +
		fmt.Sprintf(" WHERE id = $%d RETURNING ", len(args)) + ticketColumns

	var ticket models.Ticket
	if ticket, err = scanTicket(tx.QueryRow(ctx, query, args...)); err != nil {
		err = mapWriteError(err)
		return models.Ticket{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) CallNext(ctx context.Context, departmentID string, calledAt time.Time) (models.Ticket, error) {
	if !validID(departmentID) {
		return models.Ticket{}, store.ErrInvalidInput
	}
	if calledAt.IsZero() {
		calledAt = time.Now().UTC()
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	row := tx.QueryRow(ctx, `
		UPDATE queue_tickets
		SET status = 'called', called_at = $1, updated_at = $1
		WHERE id = (
			SELECT id FROM queue_tickets
			WHERE department_id = $2 AND status = 'waiting'
			ORDER BY position ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+ticketColumns, calledAt, departmentID)

	var ticket models.Ticket
	if ticket, err = scanTicket(row); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrNoTicket
		}
		return models.Ticket{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) CompleteTicket(ctx context.Context, ticketID string, completedAt time.Time) (models.Ticket, error) {
	if completedAt.IsZero() {
		completedAt = time.Now().UTC()
	}
	return s.transition(ctx, ticketID, "complete", `
		UPDATE queue_tickets
		SET status = 'completed', completed_at = $2, updated_at = $2
		WHERE id = $1
		RETURNING `+ticketColumns, completedAt)
}

func (s *Store) CancelTicket(ctx context.Context, ticketID string, cancelledAt time.Time) (models.Ticket, error) {
	if cancelledAt.IsZero() {
		cancelledAt = time.Now().UTC()
	}
	return s.transition(ctx, ticketID, "cancel", `
		UPDATE queue_tickets
		SET status = 'cancelled', updated_at = $2
		WHERE id = $1
		RETURNING `+ticketColumns, cancelledAt)
}

// MissTicket records a no-response. The first miss sends the ticket to the
// tail of its department's line; a ticket that was already missed once is
// cancelled with its position and wait estimate left as they were.
func (s *Store) MissTicket(ctx context.Context, ticketID string, missedAt time.Time) (models.Ticket, error) {
	if missedAt.IsZero() {
		missedAt = time.Now().UTC()
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	departmentID, err := ticketDepartment(ctx, tx, ticketID)
	if err != nil {
		return models.Ticket{}, err
	}
	if err = lockDepartmentQueue(ctx, tx, departmentID); err != nil {
		return models.Ticket{}, err
	}

	current, err := lockTicket(ctx, tx, ticketID)
	if err != nil {
		return models.Ticket{}, err
	}
	if !store.ValidTransition("miss", current.Status) {
		err = store.ErrInvalidState
		return models.Ticket{}, err
	}

	var row pgx.Row
	switch store.MissOutcome(current.MissedCount) {
	case store.MissCancel:
		row = tx.QueryRow(ctx, `
			UPDATE queue_tickets
			SET status = 'cancelled', missed_count = missed_count + 1, last_missed_at = $2, updated_at = $2
			WHERE id = $1
			RETURNING `+ticketColumns, ticketID, missedAt)
	default:
		var position int
		if position, err = nextPosition(ctx, tx, departmentID); err != nil {
			return models.Ticket{}, err
		}
		var waitTime int
		if waitTime, err = s.estimateWait(ctx, tx, departmentID, position); err != nil {
			return models.Ticket{}, err
		}
		row = tx.QueryRow(ctx, `
			UPDATE queue_tickets
			SET status = 'waiting', position = $2, estimated_wait_time = $3,
				missed_count = missed_count + 1, last_missed_at = $4, updated_at = $4
			WHERE id = $1
			RETURNING `+ticketColumns, ticketID, position, waitTime, missedAt)
	}

	var ticket models.Ticket
	if ticket, err = scanTicket(row); err != nil {
		err = mapWriteError(err)
		return models.Ticket{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) ListUserTickets(ctx context.Context, userID string) ([]models.Ticket, error) {
	if !validID(userID) {
		return []models.Ticket{}, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT t.id, t.ticket_number, t.user_id, t.department_id, t.status, t.position, t.estimated_wait_time, t.qr_code,
			t.joined_at, t.called_at, t.completed_at, t.missed_count, t.last_missed_at, t.created_at, t.updated_at,
			COALESCE(d.name, '')
		FROM queue_tickets t
		LEFT JOIN departments d ON d.id = t.department_id
		WHERE t.user_id = $1 AND t.status IN ('waiting', 'called')
		ORDER BY t.created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tickets := []models.Ticket{}
	for rows.Next() {
		var ticket models.Ticket
		var calledAt, completedAt, lastMissedAt sql.NullTime
		if err := rows.Scan(&ticket.ID, &ticket.TicketNumber, &ticket.UserID, &ticket.DepartmentID, &ticket.Status, &ticket.Position,
			&ticket.EstimatedWaitTime, &ticket.QRCode, &ticket.JoinedAt, &calledAt, &completedAt, &ticket.MissedCount,
			&lastMissedAt, &ticket.CreatedAt, &ticket.UpdatedAt, &ticket.DepartmentName); err != nil {
			return nil, err
		}
		ticket.CalledAt = nullTimePtr(calledAt)
		ticket.CompletedAt = nullTimePtr(completedAt)
		ticket.LastMissedAt = nullTimePtr(lastMissedAt)
		tickets = append(tickets, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tickets, nil
}

func (s *Store) ListQueue(ctx context.Context, departmentID string) ([]models.Ticket, error) {
	if !validID(departmentID) {
		return nil, store.ErrInvalidInput
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM queue_tickets
		WHERE department_id = $1 AND status IN ('waiting', 'called')
		ORDER BY CASE status WHEN 'called' THEN 0 ELSE 1 END, position ASC
	`, departmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tickets := []models.Ticket{}
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tickets, nil
}

func (s *Store) QueueStats(ctx context.Context, departmentID string) (models.QueueStats, error) {
	if !validID(departmentID) {
		return models.QueueStats{}, store.ErrInvalidInput
	}
	stats := models.QueueStats{DepartmentID: departmentID}
	row := s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(AVG(estimated_wait_time), 0)::float8, COALESCE(MIN(position), 0)
		FROM queue_tickets
		WHERE department_id = $1 AND status = 'waiting'
	`, departmentID)
	if err := row.Scan(&stats.TotalWaiting, &stats.AverageWaitTime, &stats.CurrentPosition); err != nil {
		return models.QueueStats{}, err
	}
	stats.EstimatedWaitTime = stats.AverageWaitTime
	stats.LastUpdated = time.Now().UTC()
	return stats, nil
}

// ListCalledBefore returns called tickets whose call is older than cutoff,
// oldest first.
func (s *Store) ListCalledBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Ticket, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM queue_tickets
		WHERE status = 'called' AND called_at <= $1
		ORDER BY called_at ASC
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []models.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	return tickets, rows.Err()
}

// transition applies a single-row status change guarded by the lifecycle
// table. An unknown id is ErrTicketNotFound; a known id in the wrong state is
// ErrInvalidState.
func (s *Store) transition(ctx context.Context, ticketID, action, query string, at time.Time) (models.Ticket, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	current, err := lockTicket(ctx, tx, ticketID)
	if err != nil {
		return models.Ticket{}, err
	}
	if !store.ValidTransition(action, current.Status) {
		err = store.ErrInvalidState
		return models.Ticket{}, err
	}

	var ticket models.Ticket
	if ticket, err = scanTicket(tx.QueryRow(ctx, query, ticketID, at)); err != nil {
		return models.Ticket{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) estimateWait(ctx context.Context, tx pgx.Tx, departmentID string, position int) (int, error) {
	var perPatient int
	row := tx.QueryRow(ctx, `SELECT estimated_time_per_patient FROM departments WHERE id = $1`, departmentID)
	if err := row.Scan(&perPatient); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.EstimateWait(position, 0, false, s.defaultWaitMinutes), nil
		}
		return 0, err
	}
	return store.EstimateWait(position, perPatient, true, s.defaultWaitMinutes), nil
}

// lockDepartmentQueue serializes every tail-position computation for one
// department until the surrounding transaction ends.
func lockDepartmentQueue(ctx context.Context, tx pgx.Tx, departmentID string) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended('queue:' || $1::text, 0))`, departmentID)
	return err
}

func nextPosition(ctx context.Context, tx pgx.Tx, departmentID string) (int, error) {
	var next int
	row := tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(position), 0) + 1
		FROM queue_tickets
		WHERE department_id = $1 AND status = 'waiting'
	`, departmentID)
	if err := row.Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

func ticketDepartment(ctx context.Context, tx pgx.Tx, ticketID string) (string, error) {
	if !validID(ticketID) {
		return "", store.ErrTicketNotFound
	}
	var departmentID string
	row := tx.QueryRow(ctx, `SELECT department_id FROM queue_tickets WHERE id = $1`, ticketID)
	if err := row.Scan(&departmentID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", store.ErrTicketNotFound
		}
		return "", err
	}
	return departmentID, nil
}

func lockTicket(ctx context.Context, tx pgx.Tx, ticketID string) (models.Ticket, error) {
	if !validID(ticketID) {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	row := tx.QueryRow(ctx, `SELECT `+ticketColumns+` FROM queue_tickets WHERE id = $1 FOR UPDATE`, ticketID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrTicketNotFound
		}
		return models.Ticket{}, err
	}
	return ticket, nil
}

func scanTicket(row pgx.Row) (models.Ticket, error) {
	var ticket models.Ticket
	var calledAt, completedAt, lastMissedAt sql.NullTime
	if err := row.Scan(&ticket.ID, &ticket.TicketNumber, &ticket.UserID, &ticket.DepartmentID, &ticket.Status, &ticket.Position,
		&ticket.EstimatedWaitTime, &ticket.QRCode, &ticket.JoinedAt, &calledAt, &completedAt, &ticket.MissedCount,
		&lastMissedAt, &ticket.CreatedAt, &ticket.UpdatedAt); err != nil {
		return models.Ticket{}, err
	}
	ticket.CalledAt = nullTimePtr(calledAt)
	ticket.CompletedAt = nullTimePtr(completedAt)
	ticket.LastMissedAt = nullTimePtr(lastMissedAt)
	return ticket, nil
}

func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgUniqueViolation:
		if strings.Contains(pgErr.ConstraintName, "email") {
			return store.ErrEmailTaken
		}
		return store.ErrPositionTaken
	case pgForeignKeyViolation:
		return store.ErrUserNotFound
	default:
		return err
	}
}

func validID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	return &value.Time
}
