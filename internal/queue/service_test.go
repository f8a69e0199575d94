package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"qms/waitless-service/internal/cache"
	"qms/waitless-service/internal/models"
	"qms/waitless-service/internal/store"
)

type fakeTickets struct {
	createFn     func(ctx context.Context, input store.CreateTicketInput) (models.Ticket, error)
	getFn        func(ctx context.Context, ticketID string) (models.Ticket, error)
	byQRFn       func(ctx context.Context, payload store.QRPayload) (models.Ticket, error)
	updateFn     func(ctx context.Context, ticketID string, input store.UpdateTicketInput) (models.Ticket, error)
	callNextFn   func(ctx context.Context, departmentID string, calledAt time.Time) (models.Ticket, error)
	completeFn   func(ctx context.Context, ticketID string, at time.Time) (models.Ticket, error)
	missFn       func(ctx context.Context, ticketID string, at time.Time) (models.Ticket, error)
	cancelFn     func(ctx context.Context, ticketID string, at time.Time) (models.Ticket, error)
	userFn       func(ctx context.Context, userID string) ([]models.Ticket, error)
	queueFn      func(ctx context.Context, departmentID string) ([]models.Ticket, error)
	statsFn      func(ctx context.Context, departmentID string) (models.QueueStats, error)
	calledFn     func(ctx context.Context, cutoff time.Time, limit int) ([]models.Ticket, error)
	statsCallsMu sync.Mutex
	statsCalls   int
}

func (f *fakeTickets) CreateTicket(ctx context.Context, input store.CreateTicketInput) (models.Ticket, error) {
	if f.createFn == nil {
		return models.Ticket{}, nil
	}
	return f.createFn(ctx, input)
}

func (f *fakeTickets) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	if f.getFn == nil {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	return f.getFn(ctx, ticketID)
}

func (f *fakeTickets) GetTicketByQRCode(ctx context.Context, payload store.QRPayload) (models.Ticket, error) {
	if f.byQRFn == nil {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	return f.byQRFn(ctx, payload)
}

func (f *fakeTickets) UpdateTicket(ctx context.Context, ticketID string, input store.UpdateTicketInput) (models.Ticket, error) {
	if f.updateFn == nil {
		return models.Ticket{}, nil
	}
	return f.updateFn(ctx, ticketID, input)
}

func (f *fakeTickets) CallNext(ctx context.Context, departmentID string, calledAt time.Time) (models.Ticket, error) {
	if f.callNextFn == nil {
		return models.Ticket{}, store.ErrNoTicket
	}
	return f.callNextFn(ctx, departmentID, calledAt)
}

func (f *fakeTickets) CompleteTicket(ctx context.Context, ticketID string, at time.Time) (models.Ticket, error) {
	if f.completeFn == nil {
		return models.Ticket{}, nil
	}
	return f.completeFn(ctx, ticketID, at)
}

func (f *fakeTickets) MissTicket(ctx context.Context, ticketID string, at time.Time) (models.Ticket, error) {
	if f.missFn == nil {
		return models.Ticket{}, nil
	}
	return f.missFn(ctx, ticketID, at)
}

func (f *fakeTickets) CancelTicket(ctx context.Context, ticketID string, at time.Time) (models.Ticket, error) {
	if f.cancelFn == nil {
		return models.Ticket{}, nil
	}
	return f.cancelFn(ctx, ticketID, at)
}

func (f *fakeTickets) ListUserTickets(ctx context.Context, userID string) ([]models.Ticket, error) {
	if f.userFn == nil {
		return []models.Ticket{}, nil
	}
	return f.userFn(ctx, userID)
}

func (f *fakeTickets) ListQueue(ctx context.Context, departmentID string) ([]models.Ticket, error) {
	if f.queueFn == nil {
		return []models.Ticket{}, nil
	}
	return f.queueFn(ctx, departmentID)
}

func (f *fakeTickets) QueueStats(ctx context.Context, departmentID string) (models.QueueStats, error) {
	f.statsCallsMu.Lock()
	f.statsCalls++
	f.statsCallsMu.Unlock()
	if f.statsFn == nil {
		return models.QueueStats{DepartmentID: departmentID}, nil
	}
	return f.statsFn(ctx, departmentID)
}

func (f *fakeTickets) ListCalledBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Ticket, error) {
	if f.calledFn == nil {
		return nil, nil
	}
	return f.calledFn(ctx, cutoff, limit)
}

type fakeMirror struct {
	mu      sync.Mutex
	entries map[string]models.QueueStats
	setErr  error
	getErr  error
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{entries: make(map[string]models.QueueStats)}
}

func (m *fakeMirror) Set(ctx context.Context, stats models.QueueStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.entries[stats.DepartmentID] = stats
	return nil
}

func (m *fakeMirror) Delete(ctx context.Context, departmentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, departmentID)
	return nil
}

func (m *fakeMirror) Get(ctx context.Context, departmentID string) (models.QueueStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return models.QueueStats{}, m.getErr
	}
	stats, ok := m.entries[departmentID]
	if !ok {
		return models.QueueStats{}, cache.ErrMiss
	}
	return stats, nil
}

type published struct {
	eventType string
	topics    []string
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) Publish(eventType string, payload interface{}, topics ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{eventType: eventType, topics: topics})
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, event := range p.events {
		out = append(out, event.eventType)
	}
	return out
}

func TestJoinMirrorsStatsAndPublishes(t *testing.T) {
	tickets := &fakeTickets{
		createFn: func(ctx context.Context, input store.CreateTicketInput) (models.Ticket, error) {
			if input.JoinedAt.IsZero() {
				t.Fatalf("expected join timestamp")
			}
			return models.Ticket{ID: "t1", UserID: input.UserID, DepartmentID: input.DepartmentID, Position: 1, Status: models.StatusWaiting}, nil
		},
		statsFn: func(ctx context.Context, departmentID string) (models.QueueStats, error) {
			return models.QueueStats{DepartmentID: departmentID, TotalWaiting: 1, CurrentPosition: 1}, nil
		},
	}
	mirror := newFakeMirror()
	events := &recordingPublisher{}
	svc := NewService(tickets, nil, mirror, events)

	ticket, err := svc.Join(context.Background(), "u1", "d1")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if ticket.Position != 1 {
		t.Fatalf("unexpected ticket %+v", ticket)
	}

	mirrored, err := mirror.Get(context.Background(), "d1")
	if err != nil || mirrored.TotalWaiting != 1 {
		t.Fatalf("expected mirrored stats, got %+v err=%v", mirrored, err)
	}

	types := events.types()
	if len(types) != 2 || types[0] != EventTicketCreated || types[1] != EventPositionUpdate {
		t.Fatalf("unexpected events %v", types)
	}
	topics := events.events[0].topics
	if len(topics) != 3 || topics[0] != "department-d1" || topics[1] != "user-u1" || topics[2] != "ticket-t1" {
		t.Fatalf("unexpected topics %v", topics)
	}
}

func TestJoinRequiresIDs(t *testing.T) {
	svc := NewService(&fakeTickets{}, nil, nil, nil)
	if _, err := svc.Join(context.Background(), " ", "d1"); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := svc.Join(context.Background(), "u1", ""); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestMirrorFailureDoesNotFailMutation(t *testing.T) {
	tickets := &fakeTickets{
		callNextFn: func(ctx context.Context, departmentID string, calledAt time.Time) (models.Ticket, error) {
			return models.Ticket{ID: "t1", DepartmentID: departmentID, Status: models.StatusCalled}, nil
		},
	}
	mirror := newFakeMirror()
	mirror.setErr = errors.New("redis down")
	svc := NewService(tickets, nil, mirror, nil)

	ticket, err := svc.CallNext(context.Background(), "d1")
	if err != nil {
		t.Fatalf("call next: %v", err)
	}
	if ticket.Status != models.StatusCalled {
		t.Fatalf("unexpected ticket %+v", ticket)
	}
}

func TestStatsRefreshFailureDoesNotFailMutation(t *testing.T) {
	tickets := &fakeTickets{
		completeFn: func(ctx context.Context, ticketID string, at time.Time) (models.Ticket, error) {
			return models.Ticket{ID: ticketID, DepartmentID: "d1", Status: models.StatusCompleted}, nil
		},
		statsFn: func(ctx context.Context, departmentID string) (models.QueueStats, error) {
			return models.QueueStats{}, errors.New("db timeout")
		},
	}
	events := &recordingPublisher{}
	svc := NewService(tickets, nil, nil, events)

	if _, err := svc.Complete(context.Background(), "t1"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if types := events.types(); len(types) != 1 || types[0] != EventTicketCompleted {
		t.Fatalf("unexpected events %v", types)
	}
}

func TestStatsComputedFromStore(t *testing.T) {
	tickets := &fakeTickets{
		statsFn: func(ctx context.Context, departmentID string) (models.QueueStats, error) {
			return models.QueueStats{DepartmentID: departmentID, TotalWaiting: 3}, nil
		},
	}
	mirror := newFakeMirror()
	mirror.entries["d1"] = models.QueueStats{DepartmentID: "d1", TotalWaiting: 0}
	svc := NewService(tickets, nil, mirror, nil)

	stats, err := svc.Stats(context.Background(), "d1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalWaiting != 3 || tickets.statsCalls != 1 {
		t.Fatalf("expected store snapshot, got %+v calls=%d", stats, tickets.statsCalls)
	}
	if mirrored := mirror.entries["d1"]; mirrored.TotalWaiting != 3 {
		t.Fatalf("expected mirror refreshed, got %+v", mirrored)
	}
}

func TestStatsCorrectAfterFailedRefresh(t *testing.T) {
	waiting := 0
	var statsErr error
	tickets := &fakeTickets{
		createFn: func(ctx context.Context, input store.CreateTicketInput) (models.Ticket, error) {
			waiting++
			return models.Ticket{ID: "t1", UserID: input.UserID, DepartmentID: input.DepartmentID, Position: waiting, Status: models.StatusWaiting}, nil
		},
		statsFn: func(ctx context.Context, departmentID string) (models.QueueStats, error) {
			if statsErr != nil {
				return models.QueueStats{}, statsErr
			}
			return models.QueueStats{DepartmentID: departmentID, TotalWaiting: waiting}, nil
		},
	}
	mirror := newFakeMirror()
	svc := NewService(tickets, nil, mirror, nil)

	if stats, err := svc.Stats(context.Background(), "d1"); err != nil || stats.TotalWaiting != 0 {
		t.Fatalf("initial stats: %+v err=%v", stats, err)
	}

	statsErr = errors.New("db timeout")
	if _, err := svc.Join(context.Background(), "u1", "d1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := mirror.Get(context.Background(), "d1"); !errors.Is(err, cache.ErrMiss) {
		t.Fatalf("expected stale snapshot dropped, got %v", err)
	}

	statsErr = nil
	stats, err := svc.Stats(context.Background(), "d1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalWaiting != 1 {
		t.Fatalf("expected 1 waiting, got %d", stats.TotalWaiting)
	}
}

func TestStatsFallsBackToMirrorWhenStoreFails(t *testing.T) {
	storeErr := errors.New("db down")
	tickets := &fakeTickets{
		statsFn: func(ctx context.Context, departmentID string) (models.QueueStats, error) {
			return models.QueueStats{}, storeErr
		},
	}
	mirror := newFakeMirror()
	svc := NewService(tickets, nil, mirror, nil)

	if _, err := svc.Stats(context.Background(), "d1"); !errors.Is(err, storeErr) {
		t.Fatalf("expected store error without a snapshot, got %v", err)
	}

	mirror.entries["d1"] = models.QueueStats{DepartmentID: "d1", TotalWaiting: 2}
	stats, err := svc.Stats(context.Background(), "d1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalWaiting != 2 {
		t.Fatalf("expected mirrored snapshot, got %+v", stats)
	}
}

func TestTicketByQRCode(t *testing.T) {
	payload := `{"ticketId":"aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa","ticketNumber":"DEPT-20260112-0001"}`
	tickets := &fakeTickets{
		byQRFn: func(ctx context.Context, decoded store.QRPayload) (models.Ticket, error) {
			return models.Ticket{ID: decoded.TicketID, TicketNumber: decoded.TicketNumber}, nil
		},
	}
	svc := NewService(tickets, nil, nil, nil)

	ticket, err := svc.TicketByQRCode(context.Background(), payload)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if ticket.TicketNumber != "DEPT-20260112-0001" {
		t.Fatalf("unexpected ticket %+v", ticket)
	}

	if _, err := svc.TicketByQRCode(context.Background(), "not a payload"); !errors.Is(err, store.ErrInvalidQRCode) {
		t.Fatalf("expected ErrInvalidQRCode, got %v", err)
	}
}

func TestMissPublishesMissedEvent(t *testing.T) {
	tickets := &fakeTickets{
		missFn: func(ctx context.Context, ticketID string, at time.Time) (models.Ticket, error) {
			return models.Ticket{ID: ticketID, DepartmentID: "d1", Status: models.StatusCancelled, MissedCount: 2}, nil
		},
	}
	events := &recordingPublisher{}
	svc := NewService(tickets, nil, nil, events)

	ticket, err := svc.Miss(context.Background(), "t1")
	if err != nil {
		t.Fatalf("miss: %v", err)
	}
	if ticket.Status != models.StatusCancelled {
		t.Fatalf("unexpected ticket %+v", ticket)
	}
	if types := events.types(); types[0] != EventTicketMissed {
		t.Fatalf("unexpected events %v", types)
	}
}

func TestMutationErrorsPassThrough(t *testing.T) {
	tickets := &fakeTickets{
		completeFn: func(ctx context.Context, ticketID string, at time.Time) (models.Ticket, error) {
			return models.Ticket{}, store.ErrInvalidState
		},
	}
	events := &recordingPublisher{}
	svc := NewService(tickets, nil, nil, events)

	if _, err := svc.Complete(context.Background(), "t1"); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if _, err := svc.CallNext(context.Background(), "d1"); !errors.Is(err, store.ErrNoTicket) {
		t.Fatalf("expected ErrNoTicket, got %v", err)
	}
	if len(events.types()) != 0 {
		t.Fatalf("failed mutations must not publish")
	}
}

func TestSweepCalled(t *testing.T) {
	now := time.Date(2026, 1, 12, 9, 0, 0, 0, time.UTC)
	var missed []string
	tickets := &fakeTickets{
		calledFn: func(ctx context.Context, cutoff time.Time, limit int) ([]models.Ticket, error) {
			if !cutoff.Equal(now.Add(-5 * time.Minute)) {
				t.Fatalf("unexpected cutoff %v", cutoff)
			}
			return []models.Ticket{{ID: "t1"}, {ID: "t2"}, {ID: "t3"}}, nil
		},
		missFn: func(ctx context.Context, ticketID string, at time.Time) (models.Ticket, error) {
			if ticketID == "t2" {
				return models.Ticket{}, store.ErrInvalidState
			}
			missed = append(missed, ticketID)
			return models.Ticket{ID: ticketID, DepartmentID: "d1", Status: models.StatusWaiting}, nil
		},
	}
	svc := NewService(tickets, nil, nil, nil)
	svc.now = func() time.Time { return now }

	count, err := svc.SweepCalled(context.Background(), 5*time.Minute, 10)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if count != 2 || len(missed) != 2 {
		t.Fatalf("expected 2 processed, got %d (%v)", count, missed)
	}

	if count, _ := svc.SweepCalled(context.Background(), 0, 10); count != 0 {
		t.Fatalf("disabled sweep processed %d", count)
	}
}
