package models

import (
	"time"

	"github.com/google/uuid"
)

// RequestResult is the immutable outcome of one top-level completion call.
// It is constructed once by the dispatcher and never mutated afterwards.
type RequestResult struct {
	RequestID    uuid.UUID     `json:"request_id"`
	Success      bool          `json:"success"`
	Content      string        `json:"content,omitempty"`
	StatusCode   int           `json:"status_code,omitempty"`
	ErrorKind    string        `json:"error_kind,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	Provider     string        `json:"provider,omitempty"`
	Model        string        `json:"model,omitempty"`
	Elapsed      time.Duration `json:"elapsed"`
	Attempts     int           `json:"attempts"`
}
