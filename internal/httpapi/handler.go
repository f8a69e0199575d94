package httpapi

import (
	"expvar"
	"net/http"
	"strconv"
	"strings"
	"time"

	"qms/waitless-service/internal/auth"
	"qms/waitless-service/internal/hub"
	"qms/waitless-service/internal/models"
	"qms/waitless-service/internal/qrcode"
	"qms/waitless-service/internal/queue"
	"qms/waitless-service/internal/store"
)

type Handler struct {
	queue            *queue.Service
	auth             *auth.Service
	hub              *hub.Hub
	requireStaffAuth bool
	started          time.Time
}

type Options struct {
	Hub              *hub.Hub
	RequireStaffAuth bool
}

type createTicketRequest struct {
	UserID       string `json:"userId"`
	DepartmentID string `json:"departmentId"`
}

type qrLookupRequest struct {
	QRCodeData string `json:"qrCodeData"`
}

type updateTicketRequest struct {
	Status            *string `json:"status"`
	Position          *int    `json:"position"`
	EstimatedWaitTime *int    `json:"estimatedWaitTime"`
}

type healthResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Uptime    int64  `json:"uptimeSeconds"`
}

func NewHandler(queueService *queue.Service, authService *auth.Service, options Options) *Handler {
	return &Handler{
		queue:            queueService,
		auth:             authService,
		hub:              options.Hub,
		requireStaffAuth: options.RequireStaffAuth,
		started:          time.Now(),
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.Handle("/metrics", expvar.Handler())
	mux.HandleFunc("/api/auth/register", h.handleRegister)
	mux.HandleFunc("/api/auth/login", h.handleLogin)
	mux.HandleFunc("/api/auth/me", h.handleMe)
	mux.HandleFunc("/api/queue/tickets", h.handleTickets)
	mux.HandleFunc("/api/queue/tickets/qr", h.handleTicketByQR)
	mux.HandleFunc("/api/queue/tickets/", h.handleTicketActions)
	mux.HandleFunc("/api/queue/departments", h.handleDepartments)
	mux.HandleFunc("/api/queue/departments/", h.handleDepartmentActions)
	mux.HandleFunc("/api/queue/users/", h.handleUserTickets)
	if h.hub != nil {
		mux.Handle("/realtime/", NewRealtimeHandler(h.hub))
	}
	return AuthMiddleware(h.auth, mux)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Success:   true,
		Message:   "waitless-service is running",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    int64(time.Since(h.started).Seconds()),
	})
}

func (h *Handler) handleTickets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req createTicketRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	req.DepartmentID = strings.TrimSpace(req.DepartmentID)
	if req.UserID == "" || req.DepartmentID == "" {
		writeError(w, http.StatusBadRequest, "userId and departmentId are required")
		return
	}

	ticket, err := h.queue.Join(r.Context(), req.UserID, req.DepartmentID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, ticket, "ticket created successfully")
}

func (h *Handler) handleTicketByQR(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req qrLookupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.QRCodeData) == "" {
		writeError(w, http.StatusBadRequest, "qrCodeData is required")
		return
	}

	ticket, err := h.queue.TicketByQRCode(r.Context(), req.QRCodeData)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, ticket, "")
}

func (h *Handler) handleTicketActions(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/queue/tickets/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" || len(parts) > 2 {
		writeError(w, http.StatusNotFound, "route not found")
		return
	}
	ticketID := parts[0]

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			h.handleGetTicket(w, r, ticketID)
		case http.MethodPatch:
			h.handleUpdateTicket(w, r, ticketID)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	action := parts[1]
	if action == "qr.png" {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleTicketQRImage(w, r, ticketID)
		return
	}

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	switch action {
	case "complete":
		h.handleCompleteTicket(w, r, ticketID)
	case "missed":
		h.handleMissTicket(w, r, ticketID)
	case "cancel":
		h.handleCancelTicket(w, r, ticketID)
	default:
		writeError(w, http.StatusNotFound, "route not found")
	}
}

func (h *Handler) handleGetTicket(w http.ResponseWriter, r *http.Request, ticketID string) {
	ticket, err := h.queue.Ticket(r.Context(), ticketID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, ticket, "")
}

func (h *Handler) handleUpdateTicket(w http.ResponseWriter, r *http.Request, ticketID string) {
	if !h.requireStaff(w, r) {
		return
	}
	var req updateTicketRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Status != nil {
		status := strings.TrimSpace(*req.Status)
		if !models.IsWritableStatus(status) {
			writeError(w, http.StatusBadRequest, "status must be waiting, called, completed or cancelled")
			return
		}
		req.Status = &status
	}

	ticket, err := h.queue.Update(r.Context(), ticketID, store.UpdateTicketInput{
		Status:            req.Status,
		Position:          req.Position,
		EstimatedWaitTime: req.EstimatedWaitTime,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, ticket, "ticket updated successfully")
}

func (h *Handler) handleTicketQRImage(w http.ResponseWriter, r *http.Request, ticketID string) {
	ticket, err := h.queue.Ticket(r.Context(), ticketID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	size, _ := strconv.Atoi(r.URL.Query().Get("size"))
	image, err := qrcode.PNG(ticket.QRCode, size)
	if err != nil {
		respondError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(image)
}

func (h *Handler) handleCompleteTicket(w http.ResponseWriter, r *http.Request, ticketID string) {
	if !h.requireStaff(w, r) {
		return
	}
	ticket, err := h.queue.Complete(r.Context(), ticketID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, ticket, "ticket completed")
}

func (h *Handler) handleMissTicket(w http.ResponseWriter, r *http.Request, ticketID string) {
	if !h.requireStaff(w, r) {
		return
	}
	ticket, err := h.queue.Miss(r.Context(), ticketID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	message := "ticket requeued"
	if ticket.Status == models.StatusCancelled {
		message = "ticket removed from queue"
	}
	writeData(w, http.StatusOK, ticket, message)
}

func (h *Handler) handleCancelTicket(w http.ResponseWriter, r *http.Request, ticketID string) {
	ticket, err := h.queue.Ticket(r.Context(), ticketID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if !h.requireOwnerOrStaff(w, r, ticket.UserID) {
		return
	}
	ticket, err = h.queue.Cancel(r.Context(), ticketID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, ticket, "ticket cancelled")
}

func (h *Handler) handleUserTickets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/queue/users/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "tickets" {
		writeError(w, http.StatusNotFound, "route not found")
		return
	}

	tickets, err := h.queue.UserTickets(r.Context(), parts[0])
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, tickets, "")
}
