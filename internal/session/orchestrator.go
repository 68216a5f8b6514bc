package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinichat/clinichat/internal/ai"
	"github.com/clinichat/clinichat/internal/backend"
	"github.com/clinichat/clinichat/internal/ocr"
)

// DefaultCategory is used when a conversation is created lazily on the first
// message of a thread.
const DefaultCategory = "general"

const titleMaxLen = 50

// StatusPoller drives the OCR status loop for an uploaded message.
type StatusPoller interface {
	Poll(ctx context.Context, messageID string) (ocr.Outcome, error)
}

// SendInput is a user-initiated send. An empty ConversationID creates a new
// thread before anything else so attachments can be associated with it.
type SendInput struct {
	ConversationID string
	Text           string
	Files          []backend.UploadFile
}

// SendResult reports what a completed turn produced.
type SendResult struct {
	ConversationID string
	UserMessage    backend.Message
	Assistant      backend.Message
	OCR            *ocr.Outcome
}

// Orchestrator drives a send through upload, OCR polling and AI dispatch,
// keeping the store's optimistic state consistent throughout. One turn per
// conversation at a time; the guard flags in the store substitute for locks
// against logically-inconsistent interleavings.
type Orchestrator struct {
	store      *Store
	backend    backend.Service
	dispatcher ai.Dispatcher
	poller     StatusPoller
	notifier   Notifier
	logger     *slog.Logger
}

// NewOrchestrator creates the orchestrator. A nil notifier discards notices.
func NewOrchestrator(
	log *slog.Logger,
	store *Store,
	backendSvc backend.Service,
	dispatcher ai.Dispatcher,
	poller StatusPoller,
	notifier Notifier,
) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Orchestrator{
		store:      store,
		backend:    backendSvc,
		dispatcher: dispatcher,
		poller:     poller,
		notifier:   notifier,
		logger:     log.With(slog.String("service", "orchestrator")),
	}
}

// Store exposes the state store for read access by the UI layer.
func (o *Orchestrator) Store() *Store { return o.store }

// Send runs one full turn: ensure a conversation id, upload files when
// present, poll OCR until terminal, dispatch exactly one AI request and
// reconcile the placeholder. OCR failure or timeout degrade to a dispatch
// without extracted text; upload and dispatch failures abort the turn.
func (o *Orchestrator) Send(ctx context.Context, input SendInput) (SendResult, error) {
	text := strings.TrimSpace(input.Text)
	if text == "" && len(input.Files) == 0 {
		return SendResult{}, ErrEmptyMessage
	}

	conversationID := input.ConversationID
	if conversationID == "" {
		conv, err := o.backend.CreateConversation(ctx, deriveTitle(text), DefaultCategory)
		if err != nil {
			o.notifier.Notify(Notice{Level: LevelError, Title: "Could not start conversation", Detail: err.Error()})
			return SendResult{}, fmt.Errorf("create conversation: %w", err)
		}
		conversationID = conv.ID
		o.store.AddConversation(conv)
	}

	if !o.store.BeginSend(conversationID) {
		return SendResult{}, ErrSendInFlight
	}
	defer o.store.EndSend(conversationID)

	// A user-initiated send implies the conversation is on screen.
	o.store.SetActive(conversationID)
	epoch := o.store.Epoch()

	result := SendResult{ConversationID: conversationID}
	var ocrText string

	if len(input.Files) > 0 {
		userMsg, err := o.backend.Upload(ctx, conversationID, backend.UploadInput{
			Message: text,
			Files:   input.Files,
		})
		if err != nil {
			// No placeholder exists yet; nothing to clean up.
			o.logger.Error("upload failed",
				slog.String("conversation_id", conversationID),
				slog.Any("error", err),
			)
			o.notifier.Notify(Notice{Level: LevelError, Title: "Upload failed", Detail: err.Error()})
			return SendResult{}, err
		}
		// Optimistic: the user sees their attachment while OCR runs.
		o.store.AppendMessage(conversationID, userMsg)
		result.UserMessage = userMsg

		if userMsg.HasAttachments() {
			outcome, err := o.poller.Poll(ctx, userMsg.ID)
			if err != nil {
				return result, err
			}
			result.OCR = &outcome
			switch outcome.State {
			case ocr.StateProcessed:
				ocrText = outcome.Text
			case ocr.StateFailed:
				// Non-fatal: the send proceeds without extracted text.
				o.notifier.Notify(Notice{Level: LevelWarning, Title: "OCR Error", Detail: outcome.Error})
			case ocr.StateTimedOut:
				o.notifier.Notify(Notice{
					Level:  LevelWarning,
					Title:  "Document processing timed out",
					Detail: "Continuing without document text",
				})
			}
		}
	} else {
		userMsg := backend.Message{
			ID:             uuid.NewString(),
			ConversationID: conversationID,
			Role:           backend.RoleUser,
			Content:        text,
			CreatedAt:      time.Now().UTC(),
		}
		o.store.AppendMessage(conversationID, userMsg)
		result.UserMessage = userMsg
	}

	if !o.store.StillCurrent(conversationID, epoch) {
		o.logger.Info("turn abandoned before dispatch", slog.String("conversation_id", conversationID))
		return result, ErrTurnCancelled
	}

	history := o.historyBefore(conversationID, result.UserMessage.ID)

	placeholder := backend.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           backend.RoleAssistant,
		CreatedAt:      time.Now().UTC(),
	}
	o.store.AppendMessage(conversationID, placeholder)
	o.store.SetPending(conversationID, placeholder.ID)

	reply, err := o.dispatcher.Chat(ctx, ai.ChatInput{
		ConversationID: conversationID,
		Message:        text,
		OCRContent:     ocrText,
		History:        history,
	})

	if !o.store.StillCurrent(conversationID, epoch) {
		// The user navigated away mid-flight; the resolved result must not
		// land in another conversation's list.
		o.store.RemoveMessage(conversationID, placeholder.ID)
		o.store.ClearPending(conversationID)
		o.logger.Info("turn result discarded after conversation switch",
			slog.String("conversation_id", conversationID),
		)
		return result, ErrTurnCancelled
	}

	if err != nil {
		// The placeholder is removed entirely, never left empty.
		o.store.RemoveMessage(conversationID, placeholder.ID)
		o.store.ClearPending(conversationID)
		o.notifier.Notify(Notice{Level: LevelError, Title: "AI request failed", Detail: requestDetail(err)})
		return result, fmt.Errorf("dispatch: %w", err)
	}

	o.store.ReplaceMessage(conversationID, placeholder.ID, func(msg backend.Message) backend.Message {
		msg.Content = reply.Response
		msg.Heading = reply.Heading
		msg.Sources = reply.Sources
		msg.TokensUsed = reply.TokensUsed
		msg.ProcessingTime = reply.ProcessingTime
		return msg
	})
	o.store.ClearPending(conversationID)
	o.store.TouchConversation(conversationID, time.Now().UTC())

	assistant, _ := o.store.MessageByID(conversationID, placeholder.ID)
	result.Assistant = assistant
	return result, nil
}

// Regenerate re-runs the AI dispatch for an existing assistant message. The
// preceding user message supplies the prompt and the target's id is reused:
// on success the content is replaced in place, on failure the prior content
// is left untouched.
func (o *Orchestrator) Regenerate(ctx context.Context, conversationID, messageID string) (backend.Message, error) {
	target, ok := o.store.MessageByID(conversationID, messageID)
	if !ok {
		return backend.Message{}, ErrMessageNotFound
	}
	if target.DisplayRole() != backend.RoleAssistant {
		return backend.Message{}, ErrNotAssistantMessage
	}
	userMsg, ok := o.store.PrecedingUserMessage(conversationID, messageID)
	if !ok {
		return backend.Message{}, ErrNoPrecedingUserMessage
	}

	if !o.store.BeginSend(conversationID) {
		return backend.Message{}, ErrSendInFlight
	}
	defer o.store.EndSend(conversationID)

	o.store.SetActive(conversationID)
	epoch := o.store.Epoch()

	o.store.SetRegenerating(conversationID, messageID)
	defer o.store.ClearRegenerating(conversationID)

	reply, err := o.dispatcher.Chat(ctx, ai.ChatInput{
		ConversationID: conversationID,
		Message:        userMsg.Content,
		History:        o.historyBefore(conversationID, userMsg.ID),
	})

	if !o.store.StillCurrent(conversationID, epoch) {
		return backend.Message{}, ErrTurnCancelled
	}
	if err != nil {
		// Non-destructive: the previous content stays.
		o.notifier.Notify(Notice{Level: LevelError, Title: "Regeneration failed", Detail: requestDetail(err)})
		return backend.Message{}, fmt.Errorf("dispatch: %w", err)
	}

	o.store.ReplaceMessage(conversationID, messageID, func(msg backend.Message) backend.Message {
		msg.Content = reply.Response
		msg.Heading = reply.Heading
		msg.Sources = reply.Sources
		msg.TokensUsed = reply.TokensUsed
		msg.ProcessingTime = reply.ProcessingTime
		return msg
	})
	updated, _ := o.store.MessageByID(conversationID, messageID)
	return updated, nil
}

// LoadMessages replaces the conversation's cached messages with the full
// server snapshot, fetching pages until a short or empty one. Skipped while a
// send is active for the conversation so the stale snapshot cannot overwrite
// optimistically-appended messages.
func (o *Orchestrator) LoadMessages(ctx context.Context, conversationID string) error {
	if o.store.Sending(conversationID) {
		o.logger.Debug("reload skipped, send in flight", slog.String("conversation_id", conversationID))
		return nil
	}
	if !o.store.BeginLoad(conversationID) {
		return nil
	}
	defer o.store.EndLoad(conversationID)

	var messages []backend.Message
	pageLen := 0
	for page := 1; ; page++ {
		batch, err := o.backend.ListMessages(ctx, conversationID, page)
		if err != nil {
			if errors.Is(err, backend.ErrConversationNotFound) {
				o.store.Reset(conversationID)
				return err
			}
			return fmt.Errorf("load messages: %w", err)
		}
		messages = append(messages, batch...)
		if page == 1 {
			pageLen = len(batch)
		}
		if len(batch) == 0 || len(batch) < pageLen {
			break
		}
	}

	// A send may have started while the fetch was in flight; applying the
	// snapshot now would drop its optimistic messages.
	if o.store.Sending(conversationID) {
		o.logger.Debug("reload result discarded, send started mid-fetch",
			slog.String("conversation_id", conversationID),
		)
		return nil
	}
	o.store.SetMessages(conversationID, messages)
	return nil
}

// SwitchConversation makes the conversation active and reloads its messages.
func (o *Orchestrator) SwitchConversation(ctx context.Context, conversationID string) error {
	o.store.SetActive(conversationID)
	return o.LoadMessages(ctx, conversationID)
}

// RefreshConversations replaces the conversation list from the server.
func (o *Orchestrator) RefreshConversations(ctx context.Context) error {
	conversations, err := o.backend.ListConversations(ctx)
	if err != nil {
		return fmt.Errorf("refresh conversations: %w", err)
	}
	o.store.SetConversations(conversations)
	return nil
}

// Rename updates a conversation title server-side and in the store.
func (o *Orchestrator) Rename(ctx context.Context, conversationID, title string) error {
	conv, err := o.backend.UpdateTitle(ctx, conversationID, title)
	if err != nil {
		return err
	}
	o.store.UpdateConversation(conv)
	return nil
}

// Delete removes the conversation server-side and locally. Returns the id of
// the conversation that became active, or empty when none remain.
func (o *Orchestrator) Delete(ctx context.Context, conversationID string) (string, error) {
	if err := o.backend.DeleteConversation(ctx, conversationID); err != nil && !errors.Is(err, backend.ErrConversationNotFound) {
		return o.store.ActiveID(), err
	}
	return o.store.RemoveConversation(conversationID), nil
}

// historyBefore builds the dispatch history from the messages preceding the
// given message, skipping empty placeholders.
func (o *Orchestrator) historyBefore(conversationID, messageID string) []ai.HistoryMessage {
	messages := o.store.Messages(conversationID)
	idx := len(messages)
	for i := range messages {
		if messages[i].ID == messageID {
			idx = i
			break
		}
	}
	history := make([]ai.HistoryMessage, 0, idx)
	for _, msg := range messages[:idx] {
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		history = append(history, ai.HistoryMessage{Role: msg.DisplayRole(), Content: msg.Content})
	}
	return history
}

func deriveTitle(text string) string {
	title := strings.TrimSpace(text)
	if title == "" {
		return "New conversation"
	}
	if runes := []rune(title); len(runes) > titleMaxLen {
		title = strings.TrimSpace(string(runes[:titleMaxLen]))
	}
	return title
}

func requestDetail(err error) string {
	var reqErr *ai.RequestError
	if errors.As(err, &reqErr) && reqErr.Message != "" {
		return reqErr.Message
	}
	return err.Error()
}
