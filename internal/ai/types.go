// Package ai is the HTTP client for the chat-completion service.
package ai

import (
	"context"
	"fmt"
)

// HistoryMessage is one prior turn carried as model context.
type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatInput is the input for a single chat dispatch. Exactly one request is
// issued per send; retries are manual, by the user re-sending.
type ChatInput struct {
	ConversationID string
	Message        string
	OCRContent     string
	History        []HistoryMessage
}

// Reply is the structured answer of a chat dispatch.
type Reply struct {
	Response       string   `json:"response"`
	Heading        string   `json:"heading"`
	Sources        []string `json:"sources"`
	TokensUsed     int      `json:"tokens_used"`
	ProcessingTime float64  `json:"processing_time"`
}

// Summary is the output of a summarize call.
type Summary struct {
	Summary        string `json:"summary"`
	Type           string `json:"type"`
	OriginalLength int    `json:"original_length"`
	SummaryLength  int    `json:"summary_length"`
}

// Dispatcher is the surface the session layer depends on.
type Dispatcher interface {
	Chat(ctx context.Context, input ChatInput) (Reply, error)
}

// RequestError is a failed AI call: network, auth or server-side. Fatal for
// the current turn; the placeholder assistant message is removed.
type RequestError struct {
	Status  int
	Message string
	Err     error
}

func (e *RequestError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("ai request failed: %s", e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("ai request failed: %v", e.Err)
	}
	return fmt.Sprintf("ai request failed: status %d", e.Status)
}

func (e *RequestError) Unwrap() error { return e.Err }
