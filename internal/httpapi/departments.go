package httpapi

import (
	"net/http"
	"strings"

	"qms/waitless-service/internal/queue"
)

type departmentRequest struct {
	Name                    *string `json:"name"`
	Description             *string `json:"description"`
	EstimatedTimePerPatient *int    `json:"estimatedTimePerPatient"`
	IsActive                *bool   `json:"isActive"`
}

func (req departmentRequest) input() queue.DepartmentInput {
	return queue.DepartmentInput{
		Name:                    req.Name,
		Description:             req.Description,
		EstimatedTimePerPatient: req.EstimatedTimePerPatient,
		IsActive:                req.IsActive,
	}
}

func (h *Handler) handleDepartments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		activeOnly := r.URL.Query().Get("includeInactive") != "true"
		departments, err := h.queue.Departments(r.Context(), activeOnly)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeData(w, http.StatusOK, departments, "")
	case http.MethodPost:
		if !h.requireStaff(w, r) {
			return
		}
		var req departmentRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.Name == nil || strings.TrimSpace(*req.Name) == "" {
			writeError(w, http.StatusBadRequest, "name is required")
			return
		}
		department, err := h.queue.CreateDepartment(r.Context(), req.input())
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeData(w, http.StatusCreated, department, "department created")
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleDepartmentActions(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/queue/departments/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" || len(parts) > 2 {
		writeError(w, http.StatusNotFound, "route not found")
		return
	}
	departmentID := parts[0]

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			h.handleGetDepartment(w, r, departmentID)
		case http.MethodPatch:
			h.handleUpdateDepartment(w, r, departmentID)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	switch parts[1] {
	case "call-next":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleCallNext(w, r, departmentID)
	case "stats":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleStats(w, r, departmentID)
	case "queue":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleListQueue(w, r, departmentID)
	default:
		writeError(w, http.StatusNotFound, "route not found")
	}
}

func (h *Handler) handleGetDepartment(w http.ResponseWriter, r *http.Request, departmentID string) {
	department, err := h.queue.Department(r.Context(), departmentID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, department, "")
}

func (h *Handler) handleUpdateDepartment(w http.ResponseWriter, r *http.Request, departmentID string) {
	if !h.requireStaff(w, r) {
		return
	}
	var req departmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	department, err := h.queue.UpdateDepartment(r.Context(), departmentID, req.input())
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, department, "department updated")
}

func (h *Handler) handleCallNext(w http.ResponseWriter, r *http.Request, departmentID string) {
	if !h.requireStaff(w, r) {
		return
	}
	ticket, err := h.queue.CallNext(r.Context(), departmentID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, ticket, "next ticket called")
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request, departmentID string) {
	stats, err := h.queue.Stats(r.Context(), departmentID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, stats, "")
}

func (h *Handler) handleListQueue(w http.ResponseWriter, r *http.Request, departmentID string) {
	if !h.requireStaff(w, r) {
		return
	}
	tickets, err := h.queue.Queue(r.Context(), departmentID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, tickets, "")
}
