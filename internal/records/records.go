// Package records provides typed access to the replace-policy collections.
// Every mutation is a read-modify-write of the whole record.
package records

import (
	"context"
	"sort"

	"github.com/google/uuid"

	pdterrors "github.com/Copilotuser-cyber/ChatPDT/internal/errors"
	"github.com/Copilotuser-cyber/ChatPDT/internal/gateway"
	"github.com/Copilotuser-cyber/ChatPDT/internal/model"
)

// DefaultChatTitle names a chat until its first-turn title arrives.
const DefaultChatTitle = "New Signal"

// Repo wraps a gateway with typed helpers.
type Repo struct {
	g *gateway.Gateway
}

// New returns a Repo over g.
func New(g *gateway.Gateway) *Repo { return &Repo{g: g} }

// Gateway returns the underlying gateway.
func (r *Repo) Gateway() *gateway.Gateway { return r.g }

// ---- users ----

// User returns the user with id.
func (r *Repo) User(ctx context.Context, id string) (model.User, bool, error) {
	return gateway.Get[model.User](ctx, r.g, model.CollectionUsers, id)
}

// Users lists every account ordered by username.
func (r *Repo) Users(ctx context.Context) ([]model.User, error) {
	users, err := gateway.List[model.User](ctx, r.g, model.CollectionUsers, gateway.Filter{})
	if err != nil {
		return nil, err
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

// SaveUser replaces the user record.
func (r *Repo) SaveUser(ctx context.Context, u model.User) error {
	if u.CreatedAt == "" {
		u.CreatedAt = model.Now()
	}
	return r.g.Write(ctx, model.CollectionUsers, u)
}

// UpdateUser reads the user, applies fn and writes the whole record back.
// A missing user yields ErrNotFound.
func (r *Repo) UpdateUser(ctx context.Context, id string, fn func(*model.User) error) (model.User, error) {
	u, ok, err := r.User(ctx, id)
	if err != nil {
		return model.User{}, err
	}
	if !ok {
		return model.User{}, pdterrors.NotFound(model.CollectionUsers, id)
	}
	if err := fn(&u); err != nil {
		return model.User{}, err
	}
	return u, r.g.Write(ctx, model.CollectionUsers, u)
}

// DeleteUser removes the user together with their chats, game projects and
// override document. Community posts stay in the public feed. Content goes
// first, so a failure leaves the account in place for a retry. A missing
// user yields ErrNotFound.
func (r *Repo) DeleteUser(ctx context.Context, id string) error {
	if _, ok, err := r.User(ctx, id); err != nil {
		return err
	} else if !ok {
		return pdterrors.NotFound(model.CollectionUsers, id)
	}
	if _, err := r.ClearChats(ctx, id); err != nil {
		return err
	}
	games, err := r.GamesOf(ctx, id)
	if err != nil {
		return err
	}
	for _, p := range games {
		if err := r.DeleteGame(ctx, p.ID); err != nil {
			return err
		}
	}
	if err := r.g.Delete(ctx, model.CollectionOverrides, id); err != nil {
		return err
	}
	return r.g.Delete(ctx, model.CollectionUsers, id)
}

// ---- chats ----

// Chat returns the chat with id.
func (r *Repo) Chat(ctx context.Context, id string) (model.Chat, bool, error) {
	return gateway.Get[model.Chat](ctx, r.g, model.CollectionChats, id)
}

// ChatsOf lists the chats of owner, most recently updated first.
func (r *Repo) ChatsOf(ctx context.Context, owner string) ([]model.Chat, error) {
	chats, err := gateway.List[model.Chat](ctx, r.g, model.CollectionChats, gateway.Filter{OwnerID: owner})
	if err != nil {
		return nil, err
	}
	SortChats(chats)
	return chats, nil
}

// SortChats orders chats by updatedAt, newest first.
func SortChats(chats []model.Chat) {
	sort.SliceStable(chats, func(i, j int) bool { return chats[i].UpdatedAt > chats[j].UpdatedAt })
}

// NewChat creates and stores an empty chat for owner.
func (r *Repo) NewChat(ctx context.Context, owner string) (model.Chat, error) {
	now := model.Now()
	c := model.Chat{
		ID:        uuid.NewString(),
		OwnerID:   owner,
		Title:     DefaultChatTitle,
		Messages:  []model.Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	return c, r.g.Write(ctx, model.CollectionChats, c)
}

// SaveChat replaces the chat record. updatedAt never moves backwards
// relative to the value the caller read.
func (r *Repo) SaveChat(ctx context.Context, c model.Chat) error {
	if c.Messages == nil {
		c.Messages = []model.Message{}
	}
	if c.CreatedAt == "" {
		c.CreatedAt = model.Now()
	}
	c.UpdatedAt = model.LaterOf(model.Now(), c.UpdatedAt)
	return r.g.Write(ctx, model.CollectionChats, c)
}

// DeleteChat removes the chat.
func (r *Repo) DeleteChat(ctx context.Context, id string) error {
	return r.g.Delete(ctx, model.CollectionChats, id)
}

// ClearChats deletes every chat of owner and returns how many were removed.
func (r *Repo) ClearChats(ctx context.Context, owner string) (int, error) {
	if owner == "" {
		return 0, pdterrors.NewValidationError("clear chats", "empty owner")
	}
	chats, err := r.ChatsOf(ctx, owner)
	if err != nil {
		return 0, err
	}
	for i, c := range chats {
		if err := r.DeleteChat(ctx, c.ID); err != nil {
			return i, err
		}
	}
	return len(chats), nil
}

// ---- games ----

// Game returns the game project with id.
func (r *Repo) Game(ctx context.Context, id string) (model.GameProject, bool, error) {
	return gateway.Get[model.GameProject](ctx, r.g, model.CollectionGames, id)
}

// GamesOf lists the game projects of owner, most recently updated first.
func (r *Repo) GamesOf(ctx context.Context, owner string) ([]model.GameProject, error) {
	games, err := gateway.List[model.GameProject](ctx, r.g, model.CollectionGames, gateway.Filter{OwnerID: owner})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(games, func(i, j int) bool { return games[i].UpdatedAt > games[j].UpdatedAt })
	return games, nil
}

// SaveGame replaces the game project.
func (r *Repo) SaveGame(ctx context.Context, p model.GameProject) error {
	if p.Messages == nil {
		p.Messages = []model.Message{}
	}
	if p.CreatedAt == "" {
		p.CreatedAt = model.Now()
	}
	p.UpdatedAt = model.LaterOf(model.Now(), p.UpdatedAt)
	return r.g.Write(ctx, model.CollectionGames, p)
}

// PublicGame returns a game only when its owner published it.
func (r *Repo) PublicGame(ctx context.Context, id string) (model.GameProject, bool, error) {
	p, ok, err := r.Game(ctx, id)
	if err != nil || !ok || !p.IsPublished {
		return model.GameProject{}, false, err
	}
	return p, true, nil
}

// DeleteGame removes the game project.
func (r *Repo) DeleteGame(ctx context.Context, id string) error {
	return r.g.Delete(ctx, model.CollectionGames, id)
}

// ---- community ----

// SavePost stores a community post, assigning id and timestamp when empty.
func (r *Repo) SavePost(ctx context.Context, p model.CommunityPost) (model.CommunityPost, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Timestamp == "" {
		p.Timestamp = model.Now()
	}
	if p.Type == "" {
		p.Type = model.PostSignal
	}
	if p.Type == model.PostGame && p.GameID == "" {
		return model.CommunityPost{}, pdterrors.NewValidationError("save post", "game post without gameId")
	}
	return p, r.g.Write(ctx, model.CollectionCommunityPosts, p)
}

// Posts lists the community feed, newest first.
func (r *Repo) Posts(ctx context.Context) ([]model.CommunityPost, error) {
	posts, err := gateway.List[model.CommunityPost](ctx, r.g, model.CollectionCommunityPosts, gateway.Filter{})
	if err != nil {
		return nil, err
	}
	SortPosts(posts)
	return posts, nil
}

// SortPosts orders posts newest first.
func SortPosts(posts []model.CommunityPost) {
	sort.SliceStable(posts, func(i, j int) bool { return posts[i].Timestamp > posts[j].Timestamp })
}
