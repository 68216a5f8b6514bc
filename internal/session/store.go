package session

import (
	"sync"
	"time"

	"github.com/clinichat/clinichat/internal/backend"
)

// Store is the single shared mutable resource of the client core: the ordered
// conversation list and, per conversation, the ordered message list. Every
// mutation replaces a whole slice so concurrent readers observe either the
// pre- or post-mutation state, never a partially updated one. Guard flags
// (sending, loading) serialize logically-conflicting interleavings; the epoch
// counter lets in-flight turns detect a conversation switch and discard their
// result.
type Store struct {
	mu            sync.Mutex
	conversations []backend.Conversation
	messages      map[string][]backend.Message
	activeID      string
	epoch         uint64
	pending       map[string]string
	regenerating  map[string]string
	sending       map[string]bool
	loading       map[string]bool
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		messages:     make(map[string][]backend.Message),
		pending:      make(map[string]string),
		regenerating: make(map[string]string),
		sending:      make(map[string]bool),
		loading:      make(map[string]bool),
	}
}

// --- conversations ---

// Conversations returns a snapshot of the conversation list.
func (s *Store) Conversations() []backend.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]backend.Conversation, len(s.conversations))
	copy(out, s.conversations)
	return out
}

// SetConversations replaces the whole conversation list.
func (s *Store) SetConversations(conversations []backend.Conversation) {
	next := make([]backend.Conversation, len(conversations))
	copy(next, conversations)
	s.mu.Lock()
	s.conversations = next
	s.mu.Unlock()
}

// AddConversation prepends a newly created conversation.
func (s *Store) AddConversation(conv backend.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make([]backend.Conversation, 0, len(s.conversations)+1)
	next = append(next, conv)
	next = append(next, s.conversations...)
	s.conversations = next
}

// UpdateConversation replaces the stored conversation with the same id.
func (s *Store) UpdateConversation(conv backend.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make([]backend.Conversation, len(s.conversations))
	copy(next, s.conversations)
	for i := range next {
		if next[i].ID == conv.ID {
			next[i] = conv
			break
		}
	}
	s.conversations = next
}

// TouchConversation bumps the conversation's last-message time.
func (s *Store) TouchConversation(conversationID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make([]backend.Conversation, len(s.conversations))
	copy(next, s.conversations)
	for i := range next {
		if next[i].ID == conversationID {
			next[i].LastMessageAt = at
			break
		}
	}
	s.conversations = next
}

// RemoveConversation drops the conversation and its cached messages. When the
// active conversation is removed, the next available one becomes active (or
// none), so no dangling active id survives a delete. Returns the new active
// id.
func (s *Store) RemoveConversation(conversationID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]backend.Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		if conv.ID != conversationID {
			next = append(next, conv)
		}
	}
	s.conversations = next
	delete(s.messages, conversationID)
	delete(s.pending, conversationID)
	delete(s.regenerating, conversationID)
	delete(s.sending, conversationID)
	delete(s.loading, conversationID)

	if s.activeID == conversationID {
		s.activeID = ""
		if len(next) > 0 {
			s.activeID = next[0].ID
		}
		s.epoch++
	}
	return s.activeID
}

// --- active conversation / cancellation epoch ---

// ActiveID returns the currently active conversation id.
func (s *Store) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// SetActive switches the active conversation. Every switch bumps the epoch,
// invalidating in-flight turns started under the previous one.
func (s *Store) SetActive(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeID == conversationID {
		return
	}
	s.activeID = conversationID
	s.epoch++
}

// Epoch returns the current switch epoch. Captured at turn start and checked
// before applying async results.
func (s *Store) Epoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// StillCurrent reports whether the conversation is still active and no switch
// happened since the given epoch.
func (s *Store) StillCurrent(conversationID string, epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID == conversationID && s.epoch == epoch
}

// --- messages ---

// Messages returns a snapshot of the conversation's message list.
func (s *Store) Messages(conversationID string) []backend.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.messages[conversationID]
	out := make([]backend.Message, len(cur))
	copy(out, cur)
	return out
}

// SetMessages replaces the cached message list for the conversation, as done
// on a full reload from the server.
func (s *Store) SetMessages(conversationID string, messages []backend.Message) {
	next := make([]backend.Message, len(messages))
	copy(next, messages)
	s.mu.Lock()
	s.messages[conversationID] = next
	s.mu.Unlock()
}

// AppendMessage adds a message at the end of the conversation's list.
func (s *Store) AppendMessage(conversationID string, msg backend.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.messages[conversationID]
	next := make([]backend.Message, 0, len(cur)+1)
	next = append(next, cur...)
	next = append(next, msg)
	s.messages[conversationID] = next
}

// ReplaceMessage swaps the message with the given id for the result of
// replace. Returns false when the id is not present.
func (s *Store) ReplaceMessage(conversationID, messageID string, replace func(backend.Message) backend.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.messages[conversationID]
	idx := indexOf(cur, messageID)
	if idx < 0 {
		return false
	}
	next := make([]backend.Message, len(cur))
	copy(next, cur)
	next[idx] = replace(next[idx])
	s.messages[conversationID] = next
	return true
}

// RemoveMessage drops the message with the given id. Returns false when the
// id is not present.
func (s *Store) RemoveMessage(conversationID, messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.messages[conversationID]
	idx := indexOf(cur, messageID)
	if idx < 0 {
		return false
	}
	next := make([]backend.Message, 0, len(cur)-1)
	next = append(next, cur[:idx]...)
	next = append(next, cur[idx+1:]...)
	s.messages[conversationID] = next
	return true
}

// MessageByID returns the stored message with the given id.
func (s *Store) MessageByID(conversationID, messageID string) (backend.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.messages[conversationID]
	idx := indexOf(cur, messageID)
	if idx < 0 {
		return backend.Message{}, false
	}
	return cur[idx], true
}

// PrecedingUserMessage walks backward from the given message and returns the
// closest earlier user message.
func (s *Store) PrecedingUserMessage(conversationID, messageID string) (backend.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.messages[conversationID]
	idx := indexOf(cur, messageID)
	if idx < 0 {
		return backend.Message{}, false
	}
	for i := idx - 1; i >= 0; i-- {
		if cur[i].Role == backend.RoleUser {
			return cur[i], true
		}
	}
	return backend.Message{}, false
}

// Reset drops all local state for a conversation that no longer exists
// server-side, leaving a fresh unaddressed conversation as the active state.
func (s *Store) Reset(conversationID string) {
	s.RemoveConversation(conversationID)
}

// --- pending / regenerating markers ---

// SetPending marks the assistant placeholder that is mid-flight for the
// conversation. At most one per conversation; sends are serialized by the
// sending guard.
func (s *Store) SetPending(conversationID, messageID string) {
	s.mu.Lock()
	s.pending[conversationID] = messageID
	s.mu.Unlock()
}

// PendingID returns the in-flight placeholder id, if any.
func (s *Store) PendingID(conversationID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending[conversationID]
}

// ClearPending removes the pending marker.
func (s *Store) ClearPending(conversationID string) {
	s.mu.Lock()
	delete(s.pending, conversationID)
	s.mu.Unlock()
}

// SetRegenerating marks the assistant message being regenerated in place.
func (s *Store) SetRegenerating(conversationID, messageID string) {
	s.mu.Lock()
	s.regenerating[conversationID] = messageID
	s.mu.Unlock()
}

// RegeneratingID returns the id being regenerated, if any.
func (s *Store) RegeneratingID(conversationID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regenerating[conversationID]
}

// ClearRegenerating removes the regeneration marker.
func (s *Store) ClearRegenerating(conversationID string) {
	s.mu.Lock()
	delete(s.regenerating, conversationID)
	s.mu.Unlock()
}

// --- guard flags ---

// BeginSend claims the per-conversation send guard. Returns false when a send
// is already active.
func (s *Store) BeginSend(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sending[conversationID] {
		return false
	}
	s.sending[conversationID] = true
	return true
}

// EndSend releases the send guard.
func (s *Store) EndSend(conversationID string) {
	s.mu.Lock()
	delete(s.sending, conversationID)
	s.mu.Unlock()
}

// Sending reports whether a send is active for the conversation.
func (s *Store) Sending(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sending[conversationID]
}

// BeginLoad claims the per-conversation reload guard. Returns false when a
// reload is already running.
func (s *Store) BeginLoad(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loading[conversationID] {
		return false
	}
	s.loading[conversationID] = true
	return true
}

// EndLoad releases the reload guard.
func (s *Store) EndLoad(conversationID string) {
	s.mu.Lock()
	delete(s.loading, conversationID)
	s.mu.Unlock()
}

func indexOf(messages []backend.Message, messageID string) int {
	for i := range messages {
		if messages[i].ID == messageID {
			return i
		}
	}
	return -1
}
