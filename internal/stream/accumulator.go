// Package stream assembles completion engine fragments into one committed
// chat message per turn.
package stream

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	pdterrors "github.com/Copilotuser-cyber/ChatPDT/internal/errors"
	"github.com/Copilotuser-cyber/ChatPDT/internal/model"
	"github.com/Copilotuser-cyber/ChatPDT/internal/records"
	"github.com/Copilotuser-cyber/ChatPDT/internal/shardqueue"
)

// DefaultErrorSuffix is appended to the partial reply when the engine fails.
const DefaultErrorSuffix = "\n\n[FATAL: Neural transmission interrupted]"

// ChatStore is the chat persistence the accumulator commits through.
type ChatStore interface {
	Chat(ctx context.Context, id string) (model.Chat, bool, error)
	SaveChat(ctx context.Context, c model.Chat) error
}

// Submitter runs jobs asynchronously in per-key order.
type Submitter interface {
	Submit(ctx context.Context, key string, job shardqueue.Job) error
}

// Accumulator runs one reply turn at a time per call.
type Accumulator struct {
	engine      Engine
	chats       ChatStore
	queue       Submitter
	ownQueue    *shardqueue.ShardExecutor
	log         zerolog.Logger
	errorSuffix string
	newID       func() string

	mu       sync.Mutex
	inFlight map[string]int
	onBusy   func(busy bool)
}

// Option configures an Accumulator.
type Option func(*Accumulator)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option { return func(a *Accumulator) { a.log = l } }

// WithErrorSuffix replaces DefaultErrorSuffix.
func WithErrorSuffix(s string) Option {
	return func(a *Accumulator) {
		if s != "" {
			a.errorSuffix = s
		}
	}
}

// WithQueue runs title jobs on q instead of a private executor.
func WithQueue(q Submitter) Option { return func(a *Accumulator) { a.queue = q } }

// WithBusyHook is called with true when the first run starts and with false
// when the last in-flight run ends.
func WithBusyHook(fn func(busy bool)) Option { return func(a *Accumulator) { a.onBusy = fn } }

// WithIDGenerator sets the message id generator, uuid by default.
func WithIDGenerator(fn func() string) Option { return func(a *Accumulator) { a.newID = fn } }

// New returns an Accumulator.
func New(engine Engine, chats ChatStore, opts ...Option) *Accumulator {
	a := &Accumulator{
		engine:      engine,
		chats:       chats,
		log:         zerolog.Nop(),
		errorSuffix: DefaultErrorSuffix,
		newID:       uuid.NewString,
		inFlight:    map[string]int{},
	}
	for _, o := range opts {
		o(a)
	}
	if a.queue == nil {
		a.ownQueue = shardqueue.NewShardExecutor(shardqueue.Config{
			Shards:      2,
			MaxAttempts: 1,
			Logger:      a.log,
		})
		a.queue = a.ownQueue
	}
	return a
}

// Close stops the private title queue, waiting for queued titles.
func (a *Accumulator) Close() error {
	if a.ownQueue != nil {
		a.ownQueue.Stop()
	}
	return nil
}

// InFlight reports whether any run has not finished yet.
func (a *Accumulator) InFlight() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.inFlight) > 0
}

// InFlightFor reports whether a run targeting chatID has not finished.
func (a *Accumulator) InFlightFor(chatID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inFlight[chatID] > 0
}

func (a *Accumulator) begin(chatID string) {
	a.mu.Lock()
	wasIdle := len(a.inFlight) == 0
	a.inFlight[chatID]++
	overlapping := a.inFlight[chatID] > 1
	hook := a.onBusy
	a.mu.Unlock()

	if overlapping {
		overlappingRunsTotal.Inc()
		a.log.Warn().Str("chat_id", chatID).Msg("reply started while another reply to the same chat is in flight; commits may interleave")
	}
	if wasIdle && hook != nil {
		hook(true)
	}
}

func (a *Accumulator) end(chatID string) {
	a.mu.Lock()
	if a.inFlight[chatID]--; a.inFlight[chatID] <= 0 {
		delete(a.inFlight, chatID)
	}
	idle := len(a.inFlight) == 0
	hook := a.onBusy
	a.mu.Unlock()

	if idle && hook != nil {
		hook(false)
	}
}

// Run streams a reply to userMessage into targetChatID. onFragment receives
// the accumulated text after every fragment. The chat is written once when
// the stream ends, successfully or not. A stream failure is folded into
// the committed text and never returned; the only error returned comes
// from the commit. When history is empty a title is requested
// asynchronously afterwards.
func (a *Accumulator) Run(ctx context.Context, targetChatID string, userMessage model.Message, history []model.Message, cfg model.ChatConfig, onFragment func(accumulated string)) (string, error) {
	if targetChatID == "" {
		return "", pdterrors.NewValidationError("stream", "empty target chat id")
	}
	start := time.Now()
	a.begin(targetChatID)
	defer a.end(targetChatID)

	firstTurn := len(history) == 0
	if cfg.Model == "" {
		cfg.Model = model.DefaultModel
	}

	var acc strings.Builder
	var streamErr error
	for frag, err := range a.engine.StreamReply(ctx, history, userMessage.Text, cfg) {
		if err != nil {
			streamErr = err
			break
		}
		fragmentsTotal.Inc()
		acc.WriteString(frag)
		if onFragment != nil {
			onFragment(acc.String())
		}
	}

	text := acc.String()
	outcome := "ok"
	if streamErr != nil {
		outcome = "stream_error"
		if !pdterrors.IsStream(streamErr) {
			streamErr = pdterrors.NewStreamError("stream reply", streamErr)
		}
		a.log.Warn().Err(streamErr).Str("chat_id", targetChatID).Int("partial_len", len(text)).Msg("reply stream interrupted, committing partial text")
		text += a.errorSuffix
	}

	// The commit outlives a cancelled caller so the partial reply is kept.
	commitCtx := context.WithoutCancel(ctx)
	if err := a.commit(commitCtx, targetChatID, userMessage, history, text); err != nil {
		runsTotal.WithLabelValues("commit_error").Inc()
		a.log.Error().Err(err).Str("chat_id", targetChatID).Msg("reply commit failed")
		return text, err
	}
	runsTotal.WithLabelValues(outcome).Inc()
	runDuration.Observe(time.Since(start).Seconds())

	if firstTurn {
		a.scheduleTitle(commitCtx, targetChatID, userMessage.Text)
	}
	return text, nil
}

func (a *Accumulator) commit(ctx context.Context, chatID string, userMessage model.Message, history []model.Message, text string) error {
	chat, ok, err := a.chats.Chat(ctx, chatID)
	if err != nil {
		return err
	}
	if !ok {
		now := model.Now()
		chat = model.Chat{
			ID:        chatID,
			OwnerID:   userMessage.OwnerID,
			Title:     records.DefaultChatTitle,
			Messages:  append([]model.Message(nil), history...),
			CreatedAt: now,
			UpdatedAt: now,
		}
	}

	if userMessage.ID != "" && !hasMessage(chat.Messages, userMessage.ID) {
		if userMessage.Role == "" {
			userMessage.Role = model.RoleUser
		}
		if userMessage.Timestamp == "" {
			userMessage.Timestamp = model.Now()
		}
		chat.Messages = append(chat.Messages, userMessage)
	}
	chat.Messages = append(chat.Messages, model.Message{
		ID:        a.newID(),
		OwnerID:   chat.OwnerID,
		Role:      model.RoleModel,
		Text:      text,
		Timestamp: model.Now(),
	})
	return a.chats.SaveChat(ctx, chat)
}

func hasMessage(msgs []model.Message, id string) bool {
	for _, m := range msgs {
		if m.ID == id {
			return true
		}
	}
	return false
}

// scheduleTitle queues the first-turn title. Failures are logged; the chat
// keeps its current title.
func (a *Accumulator) scheduleTitle(ctx context.Context, chatID, firstMessage string) {
	job := shardqueue.JobFunc(func(ctx context.Context) error {
		title, err := a.engine.SummarizeTitle(ctx, firstMessage)
		if err != nil {
			titleFailuresTotal.Inc()
			a.log.Warn().Err(err).Str("chat_id", chatID).Msg("title generation failed")
			return nil
		}
		if title = CleanTitle(title); title == "" {
			return nil
		}
		chat, ok, err := a.chats.Chat(ctx, chatID)
		if err != nil || !ok {
			titleFailuresTotal.Inc()
			a.log.Warn().Err(err).Str("chat_id", chatID).Bool("found", ok).Msg("title write skipped")
			return nil
		}
		chat.Title = title
		if err := a.chats.SaveChat(ctx, chat); err != nil {
			titleFailuresTotal.Inc()
			a.log.Warn().Err(err).Str("chat_id", chatID).Msg("title write failed")
		}
		return nil
	})
	if err := a.queue.Submit(ctx, chatID, job); err != nil {
		titleFailuresTotal.Inc()
		a.log.Warn().Err(err).Str("chat_id", chatID).Msg("title job not queued")
	}
}
