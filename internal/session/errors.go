package session

import "errors"

var (
	// ErrSendInFlight indicates a send is already active for the
	// conversation; sends are serialized per conversation.
	ErrSendInFlight = errors.New("a send is already in flight for this conversation")
	// ErrTurnCancelled indicates the active conversation changed while the
	// turn was in flight; the result was discarded.
	ErrTurnCancelled = errors.New("turn cancelled by conversation switch")
	// ErrEmptyMessage indicates the send carried neither text nor files.
	ErrEmptyMessage = errors.New("message text or files required")
	// ErrMessageNotFound indicates the message id is not in the store.
	ErrMessageNotFound = errors.New("message not found")
	// ErrNotAssistantMessage indicates regeneration was requested for a
	// non-assistant message.
	ErrNotAssistantMessage = errors.New("only assistant messages can be regenerated")
	// ErrNoPrecedingUserMessage indicates no user message precedes the
	// regeneration target.
	ErrNoPrecedingUserMessage = errors.New("no preceding user message to regenerate from")
)
