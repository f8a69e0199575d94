package models

import "time"

type Ticket struct {
	ID                string     `json:"id"`
	TicketNumber      string     `json:"ticketNumber"`
	UserID            string     `json:"userId"`
	DepartmentID      string     `json:"departmentId"`
	DepartmentName    string     `json:"departmentName,omitempty"`
	Status            string     `json:"status"`
	Position          int        `json:"position"`
	EstimatedWaitTime int        `json:"estimatedWaitTime"`
	QRCode            string     `json:"qrCode"`
	JoinedAt          time.Time  `json:"joinedAt"`
	CalledAt          *time.Time `json:"calledAt,omitempty"`
	CompletedAt       *time.Time `json:"completedAt,omitempty"`
	MissedCount       int        `json:"missedCount"`
	LastMissedAt      *time.Time `json:"lastMissedAt,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

const (
	StatusWaiting   = "waiting"
	StatusCalled    = "called"
	StatusCompleted = "completed"
	StatusMissed    = "missed"
	StatusCancelled = "cancelled"
)

// IsTerminal reports whether no further lifecycle action applies to the status.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusCancelled
}

// IsWritableStatus reports whether a status may be set through a ticket
// update. "missed" is reserved for reporting and never stored.
func IsWritableStatus(status string) bool {
	switch status {
	case StatusWaiting, StatusCalled, StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

// QueueStats is a derived snapshot of one department's waiting line. It is
// recomputed from the ticket table and mirrored to the cache; it is never
// written back.
type QueueStats struct {
	DepartmentID      string    `json:"departmentId"`
	TotalWaiting      int       `json:"totalWaiting"`
	AverageWaitTime   float64   `json:"averageWaitTime"`
	CurrentPosition   int       `json:"currentPosition"`
	EstimatedWaitTime float64   `json:"estimatedWaitTime"`
	LastUpdated       time.Time `json:"lastUpdated"`
}
