package errors

import (
	"encoding/json"
	"errors"
	"fmt"
)

type AppError struct {
	Code    int    // HTTP status code or custom error code
	Message string // User-facing message
	Err     error  // Underlying error (optional)
}

const (
	ErrInvalidToken       = 1001
	ErrAuctionNotFound    = 1002
	ErrBidTooLow          = 1003
	ErrAuctionClosed      = 1004
	ErrWebSocketUpgrade   = 1005
	ErrAuctionEnded       = 1006
	ErrSelfBid            = 1007
	ErrRateLimited        = 1008
	ErrBadMessageFormat   = 1009
	ErrUnknownMessageType = 1010

	ErrInternalServer = 500
)

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Wrapping utility
func Wrap(err error, message string) *AppError {
	return &AppError{Message: message, Err: err}
}

// Error creation utility
func New(code int, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// ToJSON renders the error as a client-facing websocket message.
func (e *AppError) ToJSON() []byte {
	payload := struct {
		Type    string `json:"type"`
		Code    int    `json:"code"`
		Message string `json:"message"`
	}{Type: "error", Code: e.Code, Message: e.Message}
	b, err := json.Marshal(payload)
	if err != nil {
		return []byte(`{"type":"error","code":500,"message":"internal server error"}`)
	}
	return b
}

// Code extracts the AppError code from an error chain, or 0 if none.
func Code(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return 0
}
