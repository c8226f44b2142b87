package thread

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-recall/backend/internal/model/chat"
)

func TestInMemoryStoreUnknownThreadIsEmpty(t *testing.T) {
	store := NewInMemoryStore()
	msgs, err := store.Load(context.Background(), "t1")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestInMemoryStoreAppendPreservesOrder(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	require.NoError(t, store.Append(ctx, "t1", chat.Message{Role: chat.RoleUser, Content: "Hi"}))
	require.NoError(t, store.Append(ctx, "t1",
		chat.Message{Role: chat.RoleAssistant, Content: "Hello"},
		chat.Message{Role: chat.RoleUser, Content: "Bye"},
	))
	require.NoError(t, store.Append(ctx, "t2", chat.Message{Role: chat.RoleUser, Content: "Other"}))

	msgs, err := store.Load(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"Hi", "Hello", "Bye"}, []string{msgs[0].Content, msgs[1].Content, msgs[2].Content})
	for _, m := range msgs {
		assert.Equal(t, "t1", m.ThreadID)
		assert.NotEmpty(t, m.ID)
		assert.False(t, m.CreatedAt.IsZero())
	}
}

func TestInMemoryStoreLoadReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	require.NoError(t, store.Append(ctx, "t1", chat.Message{Role: chat.RoleUser, Content: "Hi"}))

	msgs, err := store.Load(ctx, "t1")
	require.NoError(t, err)
	msgs[0].Content = "mutated"

	again, err := store.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "Hi", again[0].Content)
}

func TestInMemoryStoreRequiresThreadID(t *testing.T) {
	store := NewInMemoryStore()
	_, err := store.Load(context.Background(), "")
	assert.ErrorIs(t, err, ErrThreadIDRequired)
	assert.ErrorIs(t, store.Append(context.Background(), " "), ErrThreadIDRequired)
}
