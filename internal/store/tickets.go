package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	ticketNumberPrefix = "DEPT"
	ticketNumberPad    = 4

	DefaultWaitMinutes = 30
)

// FormatTicketNumber renders the human-readable number, e.g. DEPT-20261019-0007.
func FormatTicketNumber(joinedAt time.Time, position int) string {
	return fmt.Sprintf("%s-%s-%0*d", ticketNumberPrefix, joinedAt.UTC().Format("20060102"), ticketNumberPad, position)
}

// EstimateWait returns the wait in minutes for a position. When the
// department could not be resolved the flat fallback is used instead.
func EstimateWait(position, minutesPerPatient int, departmentFound bool, fallback int) int {
	if !departmentFound {
		if fallback <= 0 {
			return DefaultWaitMinutes
		}
		return fallback
	}
	return position * minutesPerPatient
}

// QRPayload is the content encoded into a ticket's QR code.
type QRPayload struct {
	TicketID     string `json:"ticketId"`
	TicketNumber string `json:"ticketNumber"`
	DepartmentID string `json:"departmentId"`
	UserID       string `json:"userId"`
}

func EncodeQRPayload(payload QRPayload) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func DecodeQRPayload(data string) (QRPayload, error) {
	var payload QRPayload
	if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &payload); err != nil {
		return QRPayload{}, fmt.Errorf("%w: %v", ErrInvalidQRCode, err)
	}
	payload.TicketID = strings.TrimSpace(payload.TicketID)
	if _, err := uuid.Parse(payload.TicketID); err != nil {
		return QRPayload{}, fmt.Errorf("%w: ticketId must be a UUID", ErrInvalidQRCode)
	}
	return payload, nil
}
