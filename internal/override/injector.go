package override

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Copilotuser-cyber/ChatPDT/internal/model"
)

// ChatRepo is the chat access the injector needs.
type ChatRepo interface {
	Chat(ctx context.Context, id string) (model.Chat, bool, error)
	ChatsOf(ctx context.Context, owner string) ([]model.Chat, error)
	NewChat(ctx context.Context, owner string) (model.Chat, error)
	SaveChat(ctx context.Context, c model.Chat) error
}

// ChatInjector is the GhostSink that appends the ghost text to one of the
// receiving user's own chats as a model message carrying the sender in
// injectedBy. The target is the session's active chat, else the user's
// most recently updated chat, else a new chat.
type ChatInjector struct {
	repo   ChatRepo
	active func() string
	log    zerolog.Logger
}

var _ GhostSink = (*ChatInjector)(nil)

// NewChatInjector returns an injector. active may be nil or return "" when
// the session has no open chat.
func NewChatInjector(repo ChatRepo, active func() string, log zerolog.Logger) *ChatInjector {
	return &ChatInjector{repo: repo, active: active, log: log}
}

// GhostMessageID is the id of the message injected for g. A trigger is
// injected at most once per chat.
func GhostMessageID(g GhostMessageOverride) string {
	return fmt.Sprintf("ghost-%d", g.TriggerTimestamp)
}

// DeliverGhost implements GhostSink.
func (c *ChatInjector) DeliverGhost(ctx context.Context, userID string, g GhostMessageOverride) error {
	chat, err := c.target(ctx, userID)
	if err != nil {
		injectedTotal.WithLabelValues("error").Inc()
		return err
	}
	id := GhostMessageID(g)
	for _, m := range chat.Messages {
		if m.ID == id {
			injectedTotal.WithLabelValues("duplicate").Inc()
			return nil
		}
	}
	chat.Messages = append(chat.Messages, model.Message{
		ID:         id,
		OwnerID:    userID,
		Role:       model.RoleModel,
		Text:       g.Text,
		Timestamp:  time.UnixMilli(g.TriggerTimestamp).UTC().Format(model.TimeLayout),
		InjectedBy: g.Sender,
	})
	if err := c.repo.SaveChat(ctx, chat); err != nil {
		injectedTotal.WithLabelValues("error").Inc()
		return err
	}
	injectedTotal.WithLabelValues("ok").Inc()
	c.log.Info().Str("user_id", userID).Str("chat_id", chat.ID).Str("sender", g.Sender).Msg("ghost message injected")
	return nil
}

func (c *ChatInjector) target(ctx context.Context, userID string) (model.Chat, error) {
	if c.active != nil {
		if id := c.active(); id != "" {
			chat, ok, err := c.repo.Chat(ctx, id)
			if err != nil {
				return model.Chat{}, err
			}
			if ok && chat.OwnerID == userID {
				return chat, nil
			}
		}
	}
	chats, err := c.repo.ChatsOf(ctx, userID)
	if err != nil {
		return model.Chat{}, err
	}
	if len(chats) > 0 {
		return chats[0], nil
	}
	return c.repo.NewChat(ctx, userID)
}
