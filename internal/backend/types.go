// Package backend is the HTTP client for the persistence service that owns
// conversations, messages and uploaded attachments.
package backend

import (
	"context"
	"io"
	"time"
)

// Message role constants. System messages are kept as-is on the wire and
// folded into assistant at display time.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Attachment logical type constants.
const (
	AttachmentImage    = "image"
	AttachmentDocument = "document"
)

// Conversation is a single chat thread owned by the authenticated user.
type Conversation struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Category      string    `json:"category"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	LastMessageAt time.Time `json:"last_message_at"`
}

// Attachment is an uploaded blob linked to a message. OCRProcessed and
// OCRError are terminal outcomes of the OCR run; a poll timeout leaves both
// unset and the turn proceeds without extracted text.
type Attachment struct {
	ID             string     `json:"id"`
	Type           string     `json:"type"`
	FileName       string     `json:"file_name"`
	Container      string     `json:"container"`
	BlobName       string     `json:"blob_name"`
	URL            string     `json:"url"`
	MimeType       string     `json:"mime_type"`
	SizeBytes      int64      `json:"size_bytes"`
	OCRProcessed   bool       `json:"ocrProcessed"`
	OCRCompletedAt *time.Time `json:"ocrCompletedAt,omitempty"`
	OCRError       string     `json:"ocrError,omitempty"`
}

// Message is one turn in a conversation. User messages are immutable after
// creation; assistant messages start as empty placeholders and are filled in
// exactly once.
type Message struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversation_id"`
	Role           string       `json:"role"`
	Content        string       `json:"content"`
	Heading        string       `json:"heading,omitempty"`
	Sources        []string     `json:"sources,omitempty"`
	TokensUsed     int          `json:"tokens_used,omitempty"`
	ProcessingTime float64      `json:"processing_time,omitempty"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	OCRText        string       `json:"ocr_text,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// DisplayRole returns the role used for rendering: system folds into
// assistant.
func (m Message) DisplayRole() string {
	if m.Role == RoleSystem {
		return RoleAssistant
	}
	return m.Role
}

// HasAttachments reports whether the message carries uploaded attachments.
func (m Message) HasAttachments() bool {
	return len(m.Attachments) > 0
}

// OCRStatusAttachment is the per-attachment slice of an OCR status response.
type OCRStatusAttachment struct {
	OCRProcessed bool   `json:"ocrProcessed"`
	OCRError     string `json:"ocrError,omitempty"`
}

// OCRStatus is the processing state of a message's attachments.
type OCRStatus struct {
	Status      string                `json:"status"`
	Attachments []OCRStatusAttachment `json:"attachments"`
	OCRContent  string                `json:"ocrContent,omitempty"`
}

// Completed reports whether the aggregate status or every attachment flag has
// reached the processed state.
func (s OCRStatus) Completed() bool {
	if s.Status == "completed" {
		return true
	}
	if len(s.Attachments) == 0 {
		return false
	}
	for _, att := range s.Attachments {
		if !att.OCRProcessed {
			return false
		}
	}
	return true
}

// FirstError returns the first per-attachment OCR error, if any.
func (s OCRStatus) FirstError() string {
	for _, att := range s.Attachments {
		if att.OCRError != "" {
			return att.OCRError
		}
	}
	return ""
}

// UploadFile is one file handed to Upload. The caller owns the reader.
type UploadFile struct {
	Name     string
	MimeType string
	Reader   io.Reader
}

// UploadInput carries the files and optional message text for an upload.
type UploadInput struct {
	Message string
	Files   []UploadFile
}

// Service is the persistence surface the session layer depends on.
type Service interface {
	CreateConversation(ctx context.Context, title, category string) (Conversation, error)
	ListConversations(ctx context.Context) ([]Conversation, error)
	ListMessages(ctx context.Context, conversationID string, page int) ([]Message, error)
	UpdateTitle(ctx context.Context, conversationID, title string) (Conversation, error)
	DeleteConversation(ctx context.Context, conversationID string) error
	Upload(ctx context.Context, conversationID string, input UploadInput) (Message, error)
	OCRStatus(ctx context.Context, messageID string) (OCRStatus, error)
}
