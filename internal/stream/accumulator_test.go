package stream

import (
	"context"
	"errors"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Copilotuser-cyber/ChatPDT/internal/gateway"
	"github.com/Copilotuser-cyber/ChatPDT/internal/model"
	"github.com/Copilotuser-cyber/ChatPDT/internal/records"
	"github.com/Copilotuser-cyber/ChatPDT/internal/shardqueue"
	"github.com/Copilotuser-cyber/ChatPDT/internal/store/memstore"
)

// scriptedEngine yields fragments, then fail if set. When gate
// is non-nil it blocks after the first fragment until gate is closed.
type scriptedEngine struct {
	fragments []string
	fail      error
	gate      chan struct{}
	paused    chan struct{}

	title    string
	titleErr error

	mu      sync.Mutex
	history []model.Message
	cfg     model.ChatConfig
}

func (e *scriptedEngine) StreamReply(_ context.Context, history []model.Message, _ string, cfg model.ChatConfig) iter.Seq2[string, error] {
	e.mu.Lock()
	e.history, e.cfg = history, cfg
	e.mu.Unlock()
	return func(yield func(string, error) bool) {
		for i, f := range e.fragments {
			if !yield(f, nil) {
				return
			}
			if i == 0 && e.gate != nil {
				close(e.paused)
				<-e.gate
			}
		}
		if e.fail != nil {
			yield("", e.fail)
		}
	}
}

func (e *scriptedEngine) SummarizeTitle(context.Context, string) (string, error) {
	return e.title, e.titleErr
}

type fixture struct {
	repo  *records.Repo
	queue *shardqueue.ShardExecutor
	acc   *Accumulator
}

func newFixture(t *testing.T, e Engine) *fixture {
	t.Helper()
	g := gateway.New(memstore.New("local"), memstore.New("cloud"))
	q := shardqueue.NewShardExecutor(shardqueue.Config{Shards: 1, MaxAttempts: 1})
	repo := records.New(g)
	f := &fixture{repo: repo, queue: q, acc: New(e, repo, WithQueue(q))}
	t.Cleanup(func() {
		q.Stop()
		_ = f.acc.Close()
		_ = g.Close()
	})
	return f
}

func userMsg(text string) model.Message {
	return model.Message{ID: "m-user", OwnerID: "u1", Role: model.RoleUser, Text: text, Timestamp: model.Now()}
}

func TestRun_FragmentsAccumulateAndCommitOnce(t *testing.T) {
	ctx := context.Background()
	e := &scriptedEngine{fragments: []string{"Hel", "lo"}, title: `"Neural Greeting"`}
	f := newFixture(t, e)
	require.NoError(t, f.repo.SaveChat(ctx, model.Chat{ID: "c1", OwnerID: "u1", Title: records.DefaultChatTitle}))

	var seen []string
	text, err := f.acc.Run(ctx, "c1", userMsg("hi"), nil, model.ChatConfig{}, func(s string) { seen = append(seen, s) })
	require.NoError(t, err)
	assert.Equal(t, "Hello", text)
	assert.Equal(t, []string{"Hel", "Hello"}, seen)
	assert.Equal(t, model.DefaultModel, e.cfg.Model)

	chat, ok, err := f.repo.Chat(ctx, "c1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, chat.Messages, 2)
	assert.Equal(t, "hi", chat.Messages[0].Text)
	assert.Equal(t, model.RoleModel, chat.Messages[1].Role)
	assert.Equal(t, "Hello", chat.Messages[1].Text)
	assert.Empty(t, chat.Messages[1].InjectedBy)
	assert.False(t, f.acc.InFlight())
}

func TestRun_StreamErrorCommitsPartialWithSuffix(t *testing.T) {
	ctx := context.Background()
	e := &scriptedEngine{fragments: []string{"Hel"}, fail: errors.New("socket closed")}
	f := newFixture(t, e)

	var busy []bool
	f.acc.onBusy = func(b bool) { busy = append(busy, b) }

	text, err := f.acc.Run(ctx, "c1", userMsg("hi"), []model.Message{{ID: "m0", Role: model.RoleUser, Text: "earlier"}}, model.DefaultChatConfig(), nil)
	require.NoError(t, err, "stream failures are not returned")
	assert.Equal(t, "Hel"+DefaultErrorSuffix, text)

	chat, ok, err := f.repo.Chat(ctx, "c1")
	require.NoError(t, err)
	require.True(t, ok)
	last := chat.Messages[len(chat.Messages)-1]
	assert.Equal(t, "Hel"+DefaultErrorSuffix, last.Text)
	assert.False(t, f.acc.InFlight(), "in-flight indicator is cleared on the error path")
	assert.Equal(t, []bool{true, false}, busy)
}

func TestRun_TargetChatFixedAtInvocation(t *testing.T) {
	ctx := context.Background()
	e := &scriptedEngine{fragments: []string{"for ", "c1"}, gate: make(chan struct{}), paused: make(chan struct{})}
	f := newFixture(t, e)
	require.NoError(t, f.repo.SaveChat(ctx, model.Chat{ID: "c1", OwnerID: "u1"}))

	active := "c1"
	done := make(chan error, 1)
	go func() {
		_, err := f.acc.Run(ctx, active, userMsg("hi"), []model.Message{{ID: "x"}}, model.ChatConfig{}, nil)
		done <- err
	}()

	<-e.paused
	require.True(t, f.acc.InFlightFor("c1"))
	c2, err := f.repo.NewChat(ctx, "u1")
	require.NoError(t, err)
	active = c2.ID
	close(e.gate)
	require.NoError(t, <-done)

	c1, _, err := f.repo.Chat(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "for c1", c1.Messages[len(c1.Messages)-1].Text)

	got2, _, err := f.repo.Chat(ctx, active)
	require.NoError(t, err)
	assert.Empty(t, got2.Messages)
}

func TestRun_FirstTurnTitle(t *testing.T) {
	ctx := context.Background()
	e := &scriptedEngine{fragments: []string{"ok"}, title: ` "Neural Greeting" `}
	f := newFixture(t, e)
	require.NoError(t, f.repo.SaveChat(ctx, model.Chat{ID: "c1", OwnerID: "u1", Title: records.DefaultChatTitle}))

	_, err := f.acc.Run(ctx, "c1", userMsg("hi"), nil, model.ChatConfig{}, nil)
	require.NoError(t, err)
	require.NoError(t, f.queue.Barrier(ctx, "c1"))

	chat, _, err := f.repo.Chat(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Neural Greeting", chat.Title)
	assert.Len(t, chat.Messages, 2, "the title write keeps the committed messages")
}

func TestRun_TitleFailureKeepsCommit(t *testing.T) {
	ctx := context.Background()
	e := &scriptedEngine{fragments: []string{"ok"}, titleErr: errors.New("quota")}
	f := newFixture(t, e)

	_, err := f.acc.Run(ctx, "c1", userMsg("hi"), nil, model.ChatConfig{}, nil)
	require.NoError(t, err)
	require.NoError(t, f.queue.Barrier(ctx, "c1"))

	chat, ok, err := f.repo.Chat(ctx, "c1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, records.DefaultChatTitle, chat.Title)
	assert.Len(t, chat.Messages, 2)
}

func TestRun_NoTitleAfterFirstTurn(t *testing.T) {
	ctx := context.Background()
	e := &scriptedEngine{fragments: []string{"again"}, title: "Should Not Apply"}
	f := newFixture(t, e)
	require.NoError(t, f.repo.SaveChat(ctx, model.Chat{ID: "c1", OwnerID: "u1", Title: "Kept"}))

	_, err := f.acc.Run(ctx, "c1", userMsg("more"), []model.Message{{ID: "m0", Text: "before"}}, model.ChatConfig{}, nil)
	require.NoError(t, err)
	require.NoError(t, f.queue.Barrier(ctx, "c1"))

	chat, _, err := f.repo.Chat(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Kept", chat.Title)
}

func TestRun_UserMessageNotDuplicated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &scriptedEngine{fragments: []string{"ok"}})
	u := userMsg("hi")
	require.NoError(t, f.repo.SaveChat(ctx, model.Chat{ID: "c1", OwnerID: "u1", Messages: []model.Message{u}}))

	_, err := f.acc.Run(ctx, "c1", u, []model.Message{{ID: "m0"}}, model.ChatConfig{}, nil)
	require.NoError(t, err)

	chat, _, err := f.repo.Chat(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, chat.Messages, 2)
}

func TestRun_CancelledCallerStillCommits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := newFixture(t, &scriptedEngine{fail: context.Canceled})

	text, err := f.acc.Run(ctx, "c1", userMsg("hi"), []model.Message{{ID: "m0"}}, model.ChatConfig{}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultErrorSuffix, text)

	_, ok, err := f.repo.Chat(context.Background(), "c1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRun_OverlappingRunsAreTracked(t *testing.T) {
	ctx := context.Background()
	e := &scriptedEngine{fragments: []string{"a", "b"}, gate: make(chan struct{}), paused: make(chan struct{})}
	f := newFixture(t, e)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = f.acc.Run(ctx, "c1", userMsg("first"), []model.Message{{ID: "m0"}}, model.ChatConfig{}, nil)
	}()
	<-e.paused

	f.acc.begin("c1")
	assert.True(t, f.acc.InFlightFor("c1"))
	f.acc.end("c1")
	assert.True(t, f.acc.InFlightFor("c1"), "first run still in flight")

	close(e.gate)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}
	assert.False(t, f.acc.InFlight())
}

func TestRun_RejectsEmptyTarget(t *testing.T) {
	f := newFixture(t, &scriptedEngine{})
	_, err := f.acc.Run(context.Background(), "", userMsg("hi"), nil, model.ChatConfig{}, nil)
	require.Error(t, err)
}

func TestCleanTitle(t *testing.T) {
	assert.Equal(t, "Neural Log", CleanTitle(`  "Neural Log" `))
	assert.Equal(t, "", CleanTitle(`""`))
	long := CleanTitle("a very long title that keeps going well past the limit of characters")
	assert.LessOrEqual(t, len([]rune(long)), maxTitleRunes)
}
