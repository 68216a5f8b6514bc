package backend

import (
	"errors"
	"fmt"
)

var (
	// ErrConversationNotFound indicates the conversation id no longer exists
	// server-side. Callers reset to a fresh conversation state.
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrMessageNotFound indicates the message id does not exist server-side.
	ErrMessageNotFound = errors.New("message not found")
)

// UploadError is a rejected attachment upload. Fatal for the turn: the
// orchestrator must not proceed to OCR polling.
type UploadError struct {
	Status  int
	Message string
	Err     error
}

func (e *UploadError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("upload failed: %s", e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("upload failed: %v", e.Err)
	}
	return fmt.Sprintf("upload failed: status %d", e.Status)
}

func (e *UploadError) Unwrap() error { return e.Err }

// StatusError is a non-2xx response from the persistence service.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend error: status %d: %s", e.Status, e.Body)
}
