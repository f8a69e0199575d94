package store

import "errors"

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrNoTicket           = errors.New("no ticket available")
	ErrTicketNotFound     = errors.New("ticket not found")
	ErrInvalidState       = errors.New("invalid ticket state")
	ErrPositionTaken      = errors.New("position already taken")
	ErrDepartmentNotFound = errors.New("department not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidQRCode      = errors.New("invalid qr code payload")
)
