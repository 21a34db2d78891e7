package override

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Copilotuser-cyber/ChatPDT/internal/channel"
	pdterrors "github.com/Copilotuser-cyber/ChatPDT/internal/errors"
	"github.com/Copilotuser-cyber/ChatPDT/internal/gateway"
	"github.com/Copilotuser-cyber/ChatPDT/internal/model"
	"github.com/Copilotuser-cyber/ChatPDT/internal/records"
	"github.com/Copilotuser-cyber/ChatPDT/internal/store/memstore"
)

func ptr[T any](v T) *T { return &v }

type env struct {
	g     *gateway.Gateway
	cloud *memstore.Store
	ch    *channel.Channel
	bus   *Bus
	repo  *records.Repo
	clock atomic.Int64
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{cloud: memstore.New("cloud")}
	e.g = gateway.New(memstore.New("local"), e.cloud)
	e.ch = channel.New(e.g)
	e.clock.Store(1_000)
	e.bus = NewBus(e.g, e.ch, WithClock(e.clock.Load), WithPollInterval(20*time.Millisecond))
	e.repo = records.New(e.g)
	t.Cleanup(func() {
		e.ch.Close()
		_ = e.g.Close()
	})
	return e
}

func (e *env) raw(t *testing.T, userID string) model.Document {
	t.Helper()
	docs, err := e.g.Read(context.Background(), model.CollectionOverrides, gateway.Filter{ID: userID})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	return docs[0]
}

// countingSink records accepted ghost messages.
type countingSink struct {
	mu   sync.Mutex
	got  []GhostMessageOverride
	seen chan struct{}
}

func newCountingSink() *countingSink { return &countingSink{seen: make(chan struct{}, 16)} }

func (s *countingSink) DeliverGhost(_ context.Context, _ string, g GhostMessageOverride) error {
	s.mu.Lock()
	s.got = append(s.got, g)
	s.mu.Unlock()
	s.seen <- struct{}{}
	return nil
}

func (s *countingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func TestPush_MergesFieldsAndStampsTimestamp(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	require.NoError(t, e.bus.Push(ctx, "u1", ThemeOverride{Theme: ThemeDark}))
	e.clock.Store(2_000)
	require.NoError(t, e.bus.Push(ctx, "u1", VisualMatrixOverride{AccentColor: "#fff"}))

	raw := e.raw(t, "u1")
	assert.Equal(t, "dark", raw[FieldTheme])
	assert.Equal(t, map[string]any{"accentColor": "#fff"}, raw[FieldVisualMatrix])
	assert.Equal(t, float64(2_000), raw[FieldTimestamp])
}

func TestPush_FillsTriggerTimestamp(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	require.NoError(t, e.bus.Push(ctx, "u1", BroadcastOverride{Text: "maintenance at noon"}, TakeoverOverride{ID: "matrix-rain", TriggerTimestamp: 5}))

	d, problems := Decode(e.raw(t, "u1"))
	require.Empty(t, problems)
	require.NotNil(t, d.Broadcast)
	assert.Equal(t, int64(1_000), d.Broadcast.TriggerTimestamp)
	assert.Equal(t, int64(5), d.Takeover.TriggerTimestamp)
}

func TestPush_RejectsInvalidPayloads(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	cases := map[string][]Override{
		"no payload":    nil,
		"nil payload":   {nil},
		"bad theme":     {ThemeOverride{Theme: "purple"}},
		"empty matrix":  {VisualMatrixOverride{}},
		"bad color":     {VisualMatrixOverride{AccentColor: "#12"}},
		"temperature":   {ForcedConfigOverride{Temperature: ptr(3.0)}},
		"ghost sender":  {GhostMessageOverride{Text: "hi"}},
		"silent audio":  {AudioOverride{Playing: true}},
		"duplicate":     {ThemeOverride{Theme: ThemeDark}, ThemeOverride{Theme: ThemeLight}},
		"opacity range": {AppSettingsOverride{BackgroundOpacity: ptr(120.0)}},
	}
	for name, payloads := range cases {
		t.Run(name, func(t *testing.T) {
			err := e.bus.Push(ctx, "u1", payloads...)
			assert.ErrorIs(t, err, pdterrors.ErrValidation)
		})
	}
	assert.Equal(t, 0, e.cloud.Len(model.CollectionOverrides))
	assert.ErrorIs(t, e.bus.Push(ctx, "", ThemeOverride{Theme: ThemeDark}), pdterrors.ErrValidation)
}

func TestPush_FailureIsReturnedWithoutRetry(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.cloud.FailOn(memstore.OpMerge, assert.AnError)

	err := e.bus.Push(ctx, "u1", ThemeOverride{Theme: ThemeLight})
	require.Error(t, err)
	assert.True(t, pdterrors.IsTransient(err))
	assert.Equal(t, 1, e.cloud.Calls(memstore.OpMerge))
}

func TestDecode_DropsInvalidFieldsOnly(t *testing.T) {
	d, problems := Decode(model.Document{
		"id":           "u1",
		"theme":        "sepia",
		"visualMatrix": map[string]any{"accentColor": "#0f0", "fontType": "mono"},
		"broadcast":    "not an object",
		"config":       map[string]any{"model": "gemini-3-pro-preview", "temperature": 0.2},
		"futureField":  true,
		"timestamp":    float64(42),
	})
	assert.Equal(t, "u1", d.UserID)
	assert.Equal(t, int64(42), d.Timestamp)
	assert.Nil(t, d.Theme)
	assert.Nil(t, d.Broadcast)
	require.NotNil(t, d.VisualMatrix)
	assert.Equal(t, "mono", d.VisualMatrix.FontType)
	require.NotNil(t, d.Config)
	assert.Equal(t, "gemini-3-pro-preview", d.Config.ApplyTo(model.DefaultChatConfig()).Model)
	assert.Len(t, problems, 2)
	assert.Len(t, d.Payloads(), 2)
}

func TestReceiver_GhostDedupByTrigger(t *testing.T) {
	sink := newCountingSink()
	r := NewReceiver("u1", Handlers{Ghost: sink})
	defer r.Close()

	g100 := &Document{Ghost: &GhostMessageOverride{Text: "hi", Sender: "@Maintenance", TriggerTimestamp: 100}}
	r.Apply(g100)
	r.Apply(g100)
	assert.Equal(t, 1, sink.count())

	r.Apply(&Document{Ghost: &GhostMessageOverride{Text: "hi", Sender: "@Maintenance", TriggerTimestamp: 200}})
	assert.Equal(t, 2, sink.count())

	r.Apply(&Document{Ghost: &GhostMessageOverride{Text: "old", Sender: "x", TriggerTimestamp: 150}})
	assert.Equal(t, 2, sink.count())
	assert.Equal(t, int64(200), r.LastSeen(FieldGhost))
}

// flakySink fails the first n deliveries.
type flakySink struct {
	countingSink
	failures int
}

func (s *flakySink) DeliverGhost(ctx context.Context, userID string, g GhostMessageOverride) error {
	s.mu.Lock()
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return errors.New("chat store unavailable")
	}
	s.mu.Unlock()
	return s.countingSink.DeliverGhost(ctx, userID, g)
}

func TestReceiver_FailedGhostIsRetriedOnNextDelivery(t *testing.T) {
	sink := &flakySink{countingSink: countingSink{seen: make(chan struct{}, 16)}, failures: 1}
	r := NewReceiver("u1", Handlers{Ghost: sink})
	defer r.Close()

	doc := &Document{Ghost: &GhostMessageOverride{Text: "hi", Sender: "@Maintenance", TriggerTimestamp: 100}}
	r.Apply(doc)
	assert.Equal(t, 0, sink.count())
	assert.Equal(t, int64(0), r.LastSeen(FieldGhost))

	r.Apply(doc)
	assert.Equal(t, 1, sink.count())
	assert.Equal(t, int64(100), r.LastSeen(FieldGhost))

	r.Apply(doc)
	assert.Equal(t, 1, sink.count())
}

func TestReceiver_GhostDedupEndToEnd(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	sink := newCountingSink()
	r := NewReceiver("u1", Handlers{Ghost: sink})
	defer r.Close()
	h := e.bus.Attach(r)
	defer h.Dispose()

	ghost := GhostMessageOverride{Text: "hi", Sender: "@Maintenance", TriggerTimestamp: 100}
	require.NoError(t, e.bus.Push(ctx, "u1", ghost))
	waitSeen(t, sink)
	require.NoError(t, e.bus.Push(ctx, "u1", ghost))
	require.NoError(t, e.bus.Push(ctx, "u1", ThemeOverride{Theme: ThemeLight}))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, sink.count())

	ghost.TriggerTimestamp = 200
	require.NoError(t, e.bus.Push(ctx, "u1", ghost))
	waitSeen(t, sink)
	assert.Equal(t, 2, sink.count())
}

func waitSeen(t *testing.T, s *countingSink) {
	t.Helper()
	select {
	case <-s.seen:
	case <-time.After(2 * time.Second):
		t.Fatal("ghost message not delivered")
	}
}

func TestReceiver_BareValuesApplyEveryDelivery(t *testing.T) {
	var themes []Theme
	r := NewReceiver("u1", Handlers{Theme: func(th Theme) { themes = append(themes, th) }})
	defer r.Close()

	d := &Document{Theme: &ThemeOverride{Theme: ThemeDark}}
	r.Apply(d)
	r.Apply(d)
	assert.Equal(t, []Theme{ThemeDark, ThemeDark}, themes)
}

func TestReceiver_TimersAutoDismissIndependently(t *testing.T) {
	expired := make(chan string, 4)
	r := NewReceiver("u1", Handlers{
		BroadcastExpired: func() { expired <- FieldBroadcast },
		TakeoverEnded:    func() { expired <- FieldTakeover },
	}, WithDurations(30*time.Millisecond, 30*time.Millisecond))
	defer r.Close()

	r.Apply(&Document{
		Broadcast: &BroadcastOverride{Text: "hello", TriggerTimestamp: 1},
		Takeover:  &TakeoverOverride{ID: "glitch", TriggerTimestamp: 1},
	})
	require.True(t, r.Pending(FieldBroadcast))
	require.True(t, r.Cancel(FieldTakeover))
	assert.False(t, r.Cancel(FieldTakeover))

	select {
	case f := <-expired:
		assert.Equal(t, FieldBroadcast, f)
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast did not expire")
	}
	select {
	case f := <-expired:
		t.Fatalf("cancelled timer fired: %s", f)
	case <-time.After(100 * time.Millisecond):
	}
	assert.False(t, r.Pending(FieldBroadcast))
}

func TestReceiver_NewerBroadcastRestartsTimer(t *testing.T) {
	var fired atomic.Int32
	r := NewReceiver("u1", Handlers{BroadcastExpired: func() { fired.Add(1) }}, WithDurations(80*time.Millisecond, 0))
	defer r.Close()

	r.Apply(&Document{Broadcast: &BroadcastOverride{Text: "a", TriggerTimestamp: 1}})
	time.Sleep(40 * time.Millisecond)
	r.Apply(&Document{Broadcast: &BroadcastOverride{Text: "b", TriggerTimestamp: 2}})

	assert.Eventually(t, func() bool { return fired.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}

func TestReceiver_WatermarkAndClose(t *testing.T) {
	sink := newCountingSink()
	r := NewReceiver("u1", Handlers{Ghost: sink}, WithWatermark(500))
	r.Apply(&Document{Ghost: &GhostMessageOverride{Text: "stale", Sender: "a", TriggerTimestamp: 400}})
	assert.Equal(t, 0, sink.count())

	r.Close()
	r.Apply(&Document{Ghost: &GhostMessageOverride{Text: "late", Sender: "a", TriggerTimestamp: 900}})
	assert.Equal(t, 0, sink.count())
}

func TestChatInjector_CreatesChatWhenNone(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	inj := NewChatInjector(e.repo, nil, zerolog.Nop())
	ghost := GhostMessageOverride{Text: "we are watching", Sender: "@Maintenance", TriggerTimestamp: 1_700_000_000_000}

	require.NoError(t, inj.DeliverGhost(ctx, "u1", ghost))
	require.NoError(t, inj.DeliverGhost(ctx, "u1", ghost))

	chats, err := e.repo.ChatsOf(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, chats, 1)
	require.Len(t, chats[0].Messages, 1, "a trigger is injected once")
	m := chats[0].Messages[0]
	assert.Equal(t, model.RoleModel, m.Role)
	assert.Equal(t, "@Maintenance", m.InjectedBy)
	assert.Equal(t, GhostMessageID(ghost), m.ID)
	assert.Equal(t, "2023-11-14T22:13:20.000Z", m.Timestamp)
}

func TestChatInjector_PrefersActiveThenNewest(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	require.NoError(t, e.g.Write(ctx, model.CollectionChats, model.Chat{ID: "old", OwnerID: "u1", UpdatedAt: "2024-01-01T00:00:00.000Z"}))
	require.NoError(t, e.g.Write(ctx, model.CollectionChats, model.Chat{ID: "new", OwnerID: "u1", UpdatedAt: "2025-01-01T00:00:00.000Z"}))
	require.NoError(t, e.g.Write(ctx, model.CollectionChats, model.Chat{ID: "foreign", OwnerID: "u2"}))

	active := "old"
	inj := NewChatInjector(e.repo, func() string { return active }, zerolog.Nop())
	require.NoError(t, inj.DeliverGhost(ctx, "u1", GhostMessageOverride{Text: "a", Sender: "s", TriggerTimestamp: 1}))

	old, _, err := e.repo.Chat(ctx, "old")
	require.NoError(t, err)
	require.Len(t, old.Messages, 1)
	assert.Equal(t, "a", old.Messages[0].Text)
	newest, _, err := e.repo.Chat(ctx, "new")
	require.NoError(t, err)
	assert.Empty(t, newest.Messages, "the active chat wins over the newest")

	active = "foreign"
	require.NoError(t, inj.DeliverGhost(ctx, "u1", GhostMessageOverride{Text: "b", Sender: "s", TriggerTimestamp: 2}))

	// "old" was just updated, so it is now the newest chat of u1
	foreign, _, err := e.repo.Chat(ctx, "foreign")
	require.NoError(t, err)
	assert.Empty(t, foreign.Messages, "another user's chat is never a target")
	old, _, err = e.repo.Chat(ctx, "old")
	require.NoError(t, err)
	require.Len(t, old.Messages, 2)
	assert.Equal(t, "b", old.Messages[1].Text)
}
