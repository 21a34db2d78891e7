package chatpdt

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"

	"github.com/Copilotuser-cyber/ChatPDT/internal/channel"
	pdterrors "github.com/Copilotuser-cyber/ChatPDT/internal/errors"
	"github.com/Copilotuser-cyber/ChatPDT/internal/model"
	"github.com/Copilotuser-cyber/ChatPDT/internal/override"
)

// Session is one signed-in user's view: it reacts to the user's override
// document and streams replies into the user's chats.
type Session struct {
	c      *Client
	user   User
	recv   *override.Receiver
	handle *channel.Handle

	mu     sync.RWMutex
	active string
	forced *ForcedConfigOverride

	closed atomic.Bool
}

// OpenSession attaches a session for user. Ghost messages are written into
// the user's active chat unless h.Ghost is set. Config overrides are
// remembered and applied to every later Reply before h.Config runs.
func (c *Client) OpenSession(ctx context.Context, user User, h Handlers) (*Session, error) {
	if user.ID == "" {
		return nil, pdterrors.NewValidationError("open session", "empty user id")
	}
	s := &Session{c: c, user: user}

	userConfig := h.Config
	h.Config = func(o ForcedConfigOverride) {
		s.mu.Lock()
		s.forced = &o
		s.mu.Unlock()
		if userConfig != nil {
			userConfig(o)
		}
	}
	if h.Ghost == nil {
		h.Ghost = override.NewChatInjector(c.repo, s.ActiveChat, c.log)
	}

	s.recv = override.NewReceiver(user.ID, h,
		override.WithReceiverLogger(c.log.With().Str("user_id", user.ID).Logger()),
		override.WithDurations(c.cfg.BroadcastDuration, c.cfg.TakeoverDuration),
		override.WithContext(context.WithoutCancel(ctx)),
	)
	s.handle = c.bus.Attach(s.recv)
	sessionsActive.Inc()
	c.log.Debug().Str("user_id", user.ID).Str("source", s.handle.Source()).Msg("session opened")
	return s, nil
}

// User returns the session's user.
func (s *Session) User() User { return s.user }

// ActiveChat returns the id of the chat the user is looking at, or "".
func (s *Session) ActiveChat() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// SetActiveChat records the chat the user is looking at.
func (s *Session) SetActiveChat(id string) {
	s.mu.Lock()
	s.active = id
	s.mu.Unlock()
}

// Config returns cfg with the last forced config override applied. A zero
// cfg stands for the session defaults.
func (s *Session) Config(cfg ChatConfig) ChatConfig {
	if cfg == (ChatConfig{}) {
		cfg = model.DefaultChatConfig()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.forced == nil {
		return cfg
	}
	return s.forced.ApplyTo(cfg)
}

// NewChat creates an empty chat and makes it active.
func (s *Session) NewChat(ctx context.Context) (Chat, error) {
	chat, err := s.c.repo.NewChat(ctx, s.user.ID)
	if err != nil {
		return Chat{}, err
	}
	s.SetActiveChat(chat.ID)
	return chat, nil
}

// Reply sends text to chatID and streams the model's answer. onFragment
// receives the accumulated reply. The exchange is committed to chatID even
// when the user switches chats or ctx is cancelled mid-stream.
func (s *Session) Reply(ctx context.Context, chatID, text string, cfg ChatConfig, onFragment func(string)) (string, error) {
	if s.c.acc == nil {
		return "", ErrNoEngine
	}
	if s.closed.Load() {
		return "", pdterrors.NewValidationError("reply", "session closed")
	}
	if s.user.IsBanned {
		return "", pkgerrors.Wrapf(ErrForbidden, "%s is banned", s.user.Username)
	}
	if chatID == "" {
		return "", pdterrors.NewValidationError("reply", "empty chat id")
	}

	var history []Message
	chat, ok, err := s.c.repo.Chat(ctx, chatID)
	if err != nil {
		return "", err
	}
	if ok {
		if chat.OwnerID != s.user.ID {
			return "", pkgerrors.Wrapf(ErrForbidden, "chat %s belongs to another user", chatID)
		}
		history = chat.Messages
	}

	msg := Message{
		ID:        uuid.NewString(),
		OwnerID:   s.user.ID,
		Role:      model.RoleUser,
		Text:      text,
		Timestamp: model.Now(),
	}
	return s.c.acc.Run(ctx, chatID, msg, history, s.Config(cfg), onFragment)
}

// Streaming reports whether a reply is in flight for chatID.
func (s *Session) Streaming(chatID string) bool {
	return s.c.acc != nil && s.c.acc.InFlightFor(chatID)
}

// Close detaches the session from its override document and stops its
// display timers. Safe to call multiple times.
func (s *Session) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.handle.Dispose()
	s.recv.Close()
	sessionsActive.Dec()
}

// AwaitTitle blocks until the title job queued for chatID, if any, has
// run.
func (c *Client) AwaitTitle(ctx context.Context, chatID string) error {
	if c.queue == nil {
		return nil
	}
	return c.queue.Barrier(ctx, chatID)
}
