package queue

import (
	"context"
	"errors"
	"expvar"
	"log"
	"strings"
	"time"

	"qms/waitless-service/internal/cache"
	"qms/waitless-service/internal/hub"
	"qms/waitless-service/internal/models"
	"qms/waitless-service/internal/store"
)

const (
	EventTicketCreated   = "ticket_created"
	EventTicketUpdated   = "ticket_updated"
	EventPositionUpdate  = "position_update"
	EventTicketCalled    = "ticket_called"
	EventTicketCompleted = "ticket_completed"
	EventTicketMissed    = "ticket_missed"
	EventTicketCancelled = "ticket_cancelled"
)

var (
	ticketsCreated   = expvar.NewInt("tickets_created_total")
	ticketsCalled    = expvar.NewInt("tickets_called_total")
	ticketsCompleted = expvar.NewInt("tickets_completed_total")
	ticketsMissed    = expvar.NewInt("tickets_missed_total")
	ticketsCancelled = expvar.NewInt("tickets_cancelled_total")
	statsMirrorErrs  = expvar.NewInt("stats_mirror_errors_total")
)

// Publisher fans queue events out to realtime subscribers.
type Publisher interface {
	Publish(eventType string, payload interface{}, topics ...string)
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, interface{}, ...string) {}

type Service struct {
	tickets     store.TicketStore
	departments store.DepartmentStore
	mirror      cache.StatsMirror
	events      Publisher
	now         func() time.Time
}

func NewService(tickets store.TicketStore, departments store.DepartmentStore, mirror cache.StatsMirror, events Publisher) *Service {
	if mirror == nil {
		mirror = cache.Nop{}
	}
	if events == nil {
		events = nopPublisher{}
	}
	return &Service{
		tickets:     tickets,
		departments: departments,
		mirror:      mirror,
		events:      events,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Join(ctx context.Context, userID, departmentID string) (models.Ticket, error) {
	userID = strings.TrimSpace(userID)
	departmentID = strings.TrimSpace(departmentID)
	if userID == "" || departmentID == "" {
		return models.Ticket{}, store.ErrInvalidInput
	}

	ticket, err := s.tickets.CreateTicket(ctx, store.CreateTicketInput{
		UserID:       userID,
		DepartmentID: departmentID,
		JoinedAt:     s.now(),
	})
	if err != nil {
		return models.Ticket{}, err
	}
	ticketsCreated.Add(1)
	s.afterChange(ctx, EventTicketCreated, ticket)
	return ticket, nil
}

func (s *Service) Ticket(ctx context.Context, ticketID string) (models.Ticket, error) {
	return s.tickets.GetTicket(ctx, ticketID)
}

// TicketByQRCode resolves the raw text scanned from a ticket's QR code.
func (s *Service) TicketByQRCode(ctx context.Context, data string) (models.Ticket, error) {
	payload, err := store.DecodeQRPayload(data)
	if err != nil {
		return models.Ticket{}, err
	}
	return s.tickets.GetTicketByQRCode(ctx, payload)
}

func (s *Service) Update(ctx context.Context, ticketID string, input store.UpdateTicketInput) (models.Ticket, error) {
	input.UpdatedAt = s.now()
	ticket, err := s.tickets.UpdateTicket(ctx, ticketID, input)
	if err != nil {
		return models.Ticket{}, err
	}
	s.afterChange(ctx, EventTicketUpdated, ticket)
	return ticket, nil
}

func (s *Service) CallNext(ctx context.Context, departmentID string) (models.Ticket, error) {
	departmentID = strings.TrimSpace(departmentID)
	if departmentID == "" {
		return models.Ticket{}, store.ErrInvalidInput
	}
	ticket, err := s.tickets.CallNext(ctx, departmentID, s.now())
	if err != nil {
		return models.Ticket{}, err
	}
	ticketsCalled.Add(1)
	s.afterChange(ctx, EventTicketCalled, ticket)
	return ticket, nil
}

func (s *Service) Complete(ctx context.Context, ticketID string) (models.Ticket, error) {
	ticket, err := s.tickets.CompleteTicket(ctx, ticketID, s.now())
	if err != nil {
		return models.Ticket{}, err
	}
	ticketsCompleted.Add(1)
	s.afterChange(ctx, EventTicketCompleted, ticket)
	return ticket, nil
}

func (s *Service) Miss(ctx context.Context, ticketID string) (models.Ticket, error) {
	ticket, err := s.tickets.MissTicket(ctx, ticketID, s.now())
	if err != nil {
		return models.Ticket{}, err
	}
	ticketsMissed.Add(1)
	if ticket.Status == models.StatusCancelled {
		ticketsCancelled.Add(1)
	}
	s.afterChange(ctx, EventTicketMissed, ticket)
	return ticket, nil
}

func (s *Service) Cancel(ctx context.Context, ticketID string) (models.Ticket, error) {
	ticket, err := s.tickets.CancelTicket(ctx, ticketID, s.now())
	if err != nil {
		return models.Ticket{}, err
	}
	ticketsCancelled.Add(1)
	s.afterChange(ctx, EventTicketCancelled, ticket)
	return ticket, nil
}

func (s *Service) UserTickets(ctx context.Context, userID string) ([]models.Ticket, error) {
	return s.tickets.ListUserTickets(ctx, strings.TrimSpace(userID))
}

func (s *Service) Queue(ctx context.Context, departmentID string) ([]models.Ticket, error) {
	return s.tickets.ListQueue(ctx, strings.TrimSpace(departmentID))
}

// Stats computes the department's snapshot from the store and mirrors it.
// The mirrored copy is served only while the store cannot answer.
func (s *Service) Stats(ctx context.Context, departmentID string) (models.QueueStats, error) {
	departmentID = strings.TrimSpace(departmentID)
	if departmentID == "" {
		return models.QueueStats{}, store.ErrInvalidInput
	}
	stats, err := s.tickets.QueueStats(ctx, departmentID)
	if err == nil {
		s.mirrorStats(ctx, stats)
		return stats, nil
	}
	if errors.Is(err, store.ErrInvalidInput) {
		return models.QueueStats{}, err
	}

	cached, cacheErr := s.mirror.Get(ctx, departmentID)
	if cacheErr != nil {
		if !errors.Is(cacheErr, cache.ErrMiss) {
			statsMirrorErrs.Add(1)
			log.Printf("stats mirror read error department_id=%s err=%v", departmentID, cacheErr)
		}
		return models.QueueStats{}, err
	}
	log.Printf("stats served from mirror department_id=%s err=%v", departmentID, err)
	return cached, nil
}

// SweepCalled applies a miss to every ticket that has been in the called
// state for longer than grace. It returns how many tickets were processed.
func (s *Service) SweepCalled(ctx context.Context, grace time.Duration, batchSize int) (int, error) {
	if grace <= 0 {
		return 0, nil
	}
	stale, err := s.tickets.ListCalledBefore(ctx, s.now().Add(-grace), batchSize)
	if err != nil {
		return 0, err
	}
	processed := 0
	for _, ticket := range stale {
		if _, err := s.Miss(ctx, ticket.ID); err != nil {
			if errors.Is(err, store.ErrInvalidState) || errors.Is(err, store.ErrTicketNotFound) {
				continue
			}
			return processed, err
		}
		processed++
	}
	return processed, nil
}

// afterChange refreshes the department's stats snapshot and notifies
// subscribers. Failures here never undo the mutation.
func (s *Service) afterChange(ctx context.Context, eventType string, ticket models.Ticket) {
	s.events.Publish(eventType, ticket,
		hub.DepartmentTopic(ticket.DepartmentID),
		hub.UserTopic(ticket.UserID),
		hub.TicketTopic(ticket.ID),
	)

	stats, err := s.tickets.QueueStats(ctx, ticket.DepartmentID)
	if err != nil {
		log.Printf("stats refresh error department_id=%s err=%v", ticket.DepartmentID, err)
		if err := s.mirror.Delete(ctx, ticket.DepartmentID); err != nil {
			statsMirrorErrs.Add(1)
			log.Printf("stats mirror delete error department_id=%s err=%v", ticket.DepartmentID, err)
		}
		return
	}
	s.mirrorStats(ctx, stats)
	s.events.Publish(EventPositionUpdate, stats, hub.DepartmentTopic(ticket.DepartmentID))
}

func (s *Service) mirrorStats(ctx context.Context, stats models.QueueStats) {
	if err := s.mirror.Set(ctx, stats); err != nil {
		statsMirrorErrs.Add(1)
		log.Printf("stats mirror write error department_id=%s err=%v", stats.DepartmentID, err)
	}
}
