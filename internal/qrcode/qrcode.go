package qrcode

import (
	"errors"

	goqrcode "github.com/skip2/go-qrcode"
)

const (
	DefaultSize = 256
	maxSize     = 1024
	minSize     = 64
)

var ErrEmptyPayload = errors.New("empty qr payload")

// PNG renders the payload as a square PNG. Sizes outside [64, 1024] fall back
// to DefaultSize.
func PNG(payload string, size int) ([]byte, error) {
	if payload == "" {
		return nil, ErrEmptyPayload
	}
	if size < minSize || size > maxSize {
		size = DefaultSize
	}
	return goqrcode.Encode(payload, goqrcode.Medium, size)
}
