// Package admin holds the operations of the administrator console: fleet
// broadcasts, user flags, account removal, direct messages and content
// inspection.
package admin

import (
	"context"
	stderrors "errors"
	"sync/atomic"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	pdterrors "github.com/Copilotuser-cyber/ChatPDT/internal/errors"
	"github.com/Copilotuser-cyber/ChatPDT/internal/model"
	"github.com/Copilotuser-cyber/ChatPDT/internal/override"
	"github.com/Copilotuser-cyber/ChatPDT/internal/records"
)

// ErrForbidden is returned when the acting user lacks the right to an
// operation.
var ErrForbidden = stderrors.New("forbidden")

// DefaultConcurrency bounds the number of in-flight broadcast writes.
const DefaultConcurrency = 8

// Pusher writes override payloads onto a user's override document.
type Pusher interface {
	Push(ctx context.Context, targetUserID string, payloads ...override.Override) error
}

// Console runs administrative operations on behalf of an acting user.
type Console struct {
	repo        *records.Repo
	bus         Pusher
	log         zerolog.Logger
	concurrency int
	now         func() int64
}

// Option configures a Console.
type Option func(*Console)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option { return func(c *Console) { c.log = l } }

// WithConcurrency bounds the broadcast fan-out.
func WithConcurrency(n int) Option {
	return func(c *Console) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithClock replaces the millisecond clock used for trigger timestamps.
func WithClock(now func() int64) Option { return func(c *Console) { c.now = now } }

// New returns a Console over repo, pushing overrides through bus.
func New(repo *records.Repo, bus Pusher, opts ...Option) *Console {
	c := &Console{
		repo:        repo,
		bus:         bus,
		log:         zerolog.Nop(),
		concurrency: DefaultConcurrency,
		now:         model.NowMillis,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func forbidden(actor model.User, action string) error {
	return pkgerrors.Wrapf(ErrForbidden, "%s may not %s", actor.Username, action)
}

func requireAdmin(actor model.User, action string) error {
	if !actor.IsAdmin {
		return forbidden(actor, action)
	}
	return nil
}

// Broadcast shows text to every user, one override write per user. All
// users share one trigger time. It returns how many writes succeeded and
// the first failure, which cancels the writes not yet started.
func (c *Console) Broadcast(ctx context.Context, actor model.User, text string) (int, error) {
	if err := requireAdmin(actor, "broadcast"); err != nil {
		return 0, err
	}
	payload := override.BroadcastOverride{Text: text, TriggerTimestamp: c.now()}
	if err := payload.Validate(); err != nil {
		return 0, err
	}
	users, err := c.repo.Users(ctx)
	if err != nil {
		return 0, err
	}

	var sent atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, u := range users {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := c.bus.Push(gctx, u.ID, payload); err != nil {
				return pkgerrors.Wrapf(err, "broadcast to %s", u.ID)
			}
			sent.Add(1)
			return nil
		})
	}
	err = g.Wait()
	broadcastTargetsTotal.Add(float64(sent.Load()))
	ev := c.log.Info()
	if err != nil {
		ev = c.log.Warn().Err(err)
	}
	ev.Str("actor", actor.Username).Int("users", len(users)).Int64("sent", sent.Load()).Msg("broadcast")
	return int(sent.Load()), err
}

// SetBanned sets the banned flag of userID. The superuser cannot be
// banned.
func (c *Console) SetBanned(ctx context.Context, actor model.User, userID string, banned bool) (model.User, error) {
	if err := requireAdmin(actor, "change bans"); err != nil {
		return model.User{}, err
	}
	u, err := c.repo.UpdateUser(ctx, userID, func(u *model.User) error {
		if banned && u.Username == model.SuperUsername {
			return forbidden(actor, "ban "+model.SuperUsername)
		}
		u.IsBanned = banned
		return nil
	})
	if err != nil {
		return model.User{}, err
	}
	flagChangesTotal.WithLabelValues("banned").Inc()
	c.log.Info().Str("actor", actor.Username).Str("user_id", userID).Bool("banned", banned).Msg("ban flag changed")
	return u, nil
}

// SetAdmin grants or revokes admin rights. Only the superuser may do so.
func (c *Console) SetAdmin(ctx context.Context, actor model.User, userID string, admin bool) (model.User, error) {
	if actor.Username != model.SuperUsername {
		return model.User{}, forbidden(actor, "change admin rights")
	}
	u, err := c.repo.UpdateUser(ctx, userID, func(u *model.User) error {
		u.IsAdmin = admin
		return nil
	})
	if err != nil {
		return model.User{}, err
	}
	flagChangesTotal.WithLabelValues("admin").Inc()
	c.log.Info().Str("actor", actor.Username).Str("user_id", userID).Bool("admin", admin).Msg("admin flag changed")
	return u, nil
}

// DeleteUser removes userID with their chats, game projects and override
// document. The superuser account cannot be deleted.
func (c *Console) DeleteUser(ctx context.Context, actor model.User, userID string) error {
	if err := requireAdmin(actor, "delete users"); err != nil {
		return err
	}
	u, ok, err := c.repo.User(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return pdterrors.NotFound(model.CollectionUsers, userID)
	}
	if u.Username == model.SuperUsername {
		return forbidden(actor, "delete "+model.SuperUsername)
	}
	if err := c.repo.DeleteUser(ctx, userID); err != nil {
		return err
	}
	deletionsTotal.WithLabelValues("user").Inc()
	c.log.Info().Str("actor", actor.Username).Str("user_id", userID).Str("username", u.Username).Msg("user deleted")
	return nil
}

// ClearChats deletes every chat of userID and returns how many were
// removed. Users may clear their own history; anyone else's needs admin
// rights.
func (c *Console) ClearChats(ctx context.Context, actor model.User, userID string) (int, error) {
	if actor.ID != userID {
		if err := requireAdmin(actor, "clear another user's chats"); err != nil {
			return 0, err
		}
	}
	n, err := c.repo.ClearChats(ctx, userID)
	deletionsTotal.WithLabelValues("chat").Add(float64(n))
	if err != nil {
		return n, err
	}
	c.log.Info().Str("actor", actor.Username).Str("user_id", userID).Int("chats", n).Msg("chat history cleared")
	return n, nil
}

// SendDirect delivers text to userID as a ghost message labelled with the
// sender's username. Any signed-in user may send one.
func (c *Console) SendDirect(ctx context.Context, sender model.User, userID, text string) error {
	if sender.Username == "" {
		return pdterrors.NewValidationError("direct message", "sender has no username")
	}
	if sender.IsBanned {
		return forbidden(sender, "send messages")
	}
	_, ok, err := c.repo.User(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return pdterrors.NotFound(model.CollectionUsers, userID)
	}
	return c.bus.Push(ctx, userID, override.GhostMessageOverride{
		Text:             text,
		Sender:           sender.Username,
		TriggerTimestamp: c.now(),
	})
}

// Content is everything a user owns.
type Content struct {
	User  model.User
	Chats []model.Chat
	Games []model.GameProject
}

// UserContent returns the chats and games of userID.
func (c *Console) UserContent(ctx context.Context, actor model.User, userID string) (Content, error) {
	if err := requireAdmin(actor, "inspect users"); err != nil {
		return Content{}, err
	}
	u, ok, err := c.repo.User(ctx, userID)
	if err != nil {
		return Content{}, err
	}
	if !ok {
		return Content{}, pdterrors.NotFound(model.CollectionUsers, userID)
	}

	var out Content
	out.User = u
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		out.Chats, err = c.repo.ChatsOf(gctx, userID)
		return err
	})
	g.Go(func() (err error) {
		out.Games, err = c.repo.GamesOf(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return Content{}, err
	}
	return out, nil
}
