package records

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pdterrors "github.com/Copilotuser-cyber/ChatPDT/internal/errors"
	"github.com/Copilotuser-cyber/ChatPDT/internal/gateway"
	"github.com/Copilotuser-cyber/ChatPDT/internal/model"
	"github.com/Copilotuser-cyber/ChatPDT/internal/store/memstore"
)

func newRepo(t *testing.T) *Repo {
	t.Helper()
	g := gateway.New(memstore.New("local"), memstore.New("cloud"))
	t.Cleanup(func() { _ = g.Close() })
	return New(g)
}

func TestUpdateUser_ReadModifyWrite(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	require.NoError(t, r.SaveUser(ctx, model.User{ID: "u1", Username: "neo", IsPremium: true}))

	u, err := r.UpdateUser(ctx, "u1", func(u *model.User) error {
		u.IsBanned = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, u.IsBanned)

	got, ok, err := r.User(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.IsBanned)
	assert.True(t, got.IsPremium, "fields not touched by fn survive the replace")
	assert.NotEmpty(t, got.CreatedAt)
}

func TestUpdateUser_Missing(t *testing.T) {
	_, err := newRepo(t).UpdateUser(context.Background(), "ghost", func(*model.User) error { return nil })
	assert.ErrorIs(t, err, pdterrors.ErrNotFound)
}

func TestChatsOf_NewestFirst(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	require.NoError(t, r.g.Write(ctx, model.CollectionChats, model.Chat{ID: "old", OwnerID: "u1", UpdatedAt: "2024-01-01T00:00:00.000Z"}))
	require.NoError(t, r.g.Write(ctx, model.CollectionChats, model.Chat{ID: "new", OwnerID: "u1", UpdatedAt: "2025-01-01T00:00:00.000Z"}))
	require.NoError(t, r.g.Write(ctx, model.CollectionChats, model.Chat{ID: "other", OwnerID: "u2"}))

	chats, err := r.ChatsOf(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, "new", chats[0].ID)
	assert.Equal(t, "old", chats[1].ID)
}

func TestSaveChat_UpdatedAtNeverMovesBack(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	future := "2999-01-01T00:00:00.000Z"
	require.NoError(t, r.SaveChat(ctx, model.Chat{ID: "c1", OwnerID: "u1", UpdatedAt: future}))

	c, ok, err := r.Chat(ctx, "c1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, future, c.UpdatedAt)
	assert.NotNil(t, c.Messages)
}

func TestNewChat(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	c, err := r.NewChat(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, DefaultChatTitle, c.Title)

	got, ok, err := r.Chat(ctx, c.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "u1", got.OwnerID)
}

func TestPublicGame_OnlyPublished(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	require.NoError(t, r.SaveGame(ctx, model.GameProject{ID: "g1", OwnerID: "u1", LatestCode: "<canvas/>"}))
	require.NoError(t, r.SaveGame(ctx, model.GameProject{ID: "g2", OwnerID: "u1", IsPublished: true}))

	_, ok, err := r.PublicGame(ctx, "g1")
	require.NoError(t, err)
	assert.False(t, ok)

	g, ok, err := r.PublicGame(ctx, "g2")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "g2", g.ID)

	games, err := r.GamesOf(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, games, 2)
}

func TestPosts(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	first, err := r.SavePost(ctx, model.CommunityPost{OwnerID: "u1", Username: "neo", Text: "hello", Timestamp: "2024-01-01T00:00:00.000Z"})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, model.PostSignal, first.Type)

	_, err = r.SavePost(ctx, model.CommunityPost{OwnerID: "u1", Text: "look", Type: model.PostGame})
	assert.ErrorIs(t, err, pdterrors.ErrValidation)

	_, err = r.SavePost(ctx, model.CommunityPost{OwnerID: "u2", Text: "later"})
	require.NoError(t, err)

	posts, err := r.Posts(ctx)
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, "later", posts[0].Text)
}

func TestClearChats_OnlyOwner(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	for _, owner := range []string{"u1", "u1", "u2"} {
		_, err := r.NewChat(ctx, owner)
		require.NoError(t, err)
	}

	n, err := r.ClearChats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	mine, err := r.ChatsOf(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, mine)
	theirs, err := r.ChatsOf(ctx, "u2")
	require.NoError(t, err)
	assert.Len(t, theirs, 1)

	_, err = r.ClearChats(ctx, "")
	assert.ErrorIs(t, err, pdterrors.ErrValidation)
}

func TestDeleteUser_RemovesOwnedContent(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	require.NoError(t, r.SaveUser(ctx, model.User{ID: "u1", Username: "neo"}))
	require.NoError(t, r.SaveUser(ctx, model.User{ID: "u2", Username: "trinity"}))
	_, err := r.NewChat(ctx, "u1")
	require.NoError(t, err)
	_, err = r.NewChat(ctx, "u2")
	require.NoError(t, err)
	require.NoError(t, r.SaveGame(ctx, model.GameProject{ID: "g1", OwnerID: "u1"}))
	require.NoError(t, r.g.Write(ctx, model.CollectionOverrides, model.Document{"id": "u1", "theme": "dark"}))
	_, err = r.SavePost(ctx, model.CommunityPost{OwnerID: "u1", Text: "still here"})
	require.NoError(t, err)

	require.NoError(t, r.DeleteUser(ctx, "u1"))

	_, ok, err := r.User(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)
	chats, err := r.ChatsOf(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, chats)
	_, ok, err = r.Game(ctx, "g1")
	require.NoError(t, err)
	assert.False(t, ok)
	overrides, err := r.g.Read(ctx, model.CollectionOverrides, gateway.Filter{ID: "u1"})
	require.NoError(t, err)
	assert.Empty(t, overrides)

	others, err := r.ChatsOf(ctx, "u2")
	require.NoError(t, err)
	assert.Len(t, others, 1)
	posts, err := r.Posts(ctx)
	require.NoError(t, err)
	assert.Len(t, posts, 1)

	assert.ErrorIs(t, r.DeleteUser(ctx, "u1"), pdterrors.ErrNotFound)
}
