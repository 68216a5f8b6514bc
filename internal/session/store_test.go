package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinichat/clinichat/internal/backend"
)

func TestStoreAppendDoesNotMutateSnapshots(t *testing.T) {
	store := NewStore()
	store.SetMessages("c1", []backend.Message{
		{ID: "m1", Role: backend.RoleUser, Content: "hello"},
	})

	before := store.Messages("c1")
	store.AppendMessage("c1", backend.Message{ID: "m2", Role: backend.RoleAssistant, Content: "hi"})

	assert.Len(t, before, 1, "earlier snapshot must not see the append")
	assert.Len(t, store.Messages("c1"), 2)
}

func TestStoreReplaceMessage(t *testing.T) {
	store := NewStore()
	store.SetMessages("c1", []backend.Message{
		{ID: "m1", Role: backend.RoleAssistant, Content: ""},
	})

	ok := store.ReplaceMessage("c1", "m1", func(msg backend.Message) backend.Message {
		msg.Content = "filled"
		return msg
	})
	require.True(t, ok)

	msg, found := store.MessageByID("c1", "m1")
	require.True(t, found)
	assert.Equal(t, "filled", msg.Content)

	assert.False(t, store.ReplaceMessage("c1", "missing", func(m backend.Message) backend.Message { return m }))
}

func TestStoreRemoveMessage(t *testing.T) {
	store := NewStore()
	store.SetMessages("c1", []backend.Message{
		{ID: "m1"}, {ID: "m2"}, {ID: "m3"},
	})

	require.True(t, store.RemoveMessage("c1", "m2"))
	msgs := store.Messages("c1")
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "m3", msgs[1].ID)
}

func TestStoreRemoveConversationSelectsNextActive(t *testing.T) {
	store := NewStore()
	store.SetConversations([]backend.Conversation{
		{ID: "c1"}, {ID: "c2"}, {ID: "c3"},
	})
	store.SetActive("c2")

	next := store.RemoveConversation("c2")
	assert.Equal(t, "c1", next)
	assert.Equal(t, "c1", store.ActiveID())

	// Deleting a non-active conversation leaves the active one alone.
	next = store.RemoveConversation("c3")
	assert.Equal(t, "c1", next)

	next = store.RemoveConversation("c1")
	assert.Equal(t, "", next, "no dangling active id when nothing remains")
}

func TestStoreEpochInvalidatesOnSwitch(t *testing.T) {
	store := NewStore()
	store.SetActive("c1")
	epoch := store.Epoch()

	assert.True(t, store.StillCurrent("c1", epoch))

	store.SetActive("c1") // no-op switch keeps the epoch
	assert.True(t, store.StillCurrent("c1", epoch))

	store.SetActive("c2")
	assert.False(t, store.StillCurrent("c1", epoch))

	// Switching back is still a different epoch: the old turn stays dead.
	store.SetActive("c1")
	assert.False(t, store.StillCurrent("c1", epoch))
}

func TestStoreSendGuardSerializes(t *testing.T) {
	store := NewStore()
	require.True(t, store.BeginSend("c1"))
	assert.False(t, store.BeginSend("c1"))
	assert.True(t, store.BeginSend("c2"), "guard is per conversation")
	store.EndSend("c1")
	assert.True(t, store.BeginSend("c1"))
}

func TestStorePendingMarkers(t *testing.T) {
	store := NewStore()
	store.SetPending("c1", "m9")
	assert.Equal(t, "m9", store.PendingID("c1"))
	assert.Equal(t, "", store.PendingID("c2"))
	store.ClearPending("c1")
	assert.Equal(t, "", store.PendingID("c1"))
}

func TestStorePrecedingUserMessage(t *testing.T) {
	store := NewStore()
	store.SetMessages("c1", []backend.Message{
		{ID: "u1", Role: backend.RoleUser, Content: "describe symptoms"},
		{ID: "a1", Role: backend.RoleAssistant, Content: "..."},
		{ID: "u2", Role: backend.RoleUser, Content: "and treatment?"},
		{ID: "a2", Role: backend.RoleAssistant, Content: "..."},
	})

	msg, ok := store.PrecedingUserMessage("c1", "a2")
	require.True(t, ok)
	assert.Equal(t, "u2", msg.ID)

	msg, ok = store.PrecedingUserMessage("c1", "a1")
	require.True(t, ok)
	assert.Equal(t, "u1", msg.ID)

	_, ok = store.PrecedingUserMessage("c1", "u1")
	assert.False(t, ok)
}
