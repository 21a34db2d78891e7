// Package chatpdt is the persistence, sync and command layer of the ChatPDT
// assistant. A Client owns the storage gateway, the reactive channel, the
// override bus, the reply accumulator and the admin console, wired from one
// Config.
package chatpdt

import (
	"context"
	"os"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/Copilotuser-cyber/ChatPDT/internal/admin"
	"github.com/Copilotuser-cyber/ChatPDT/internal/channel"
	"github.com/Copilotuser-cyber/ChatPDT/internal/config"
	"github.com/Copilotuser-cyber/ChatPDT/internal/engine/gemini"
	"github.com/Copilotuser-cyber/ChatPDT/internal/factory"
	"github.com/Copilotuser-cyber/ChatPDT/internal/gateway"
	"github.com/Copilotuser-cyber/ChatPDT/internal/health"
	"github.com/Copilotuser-cyber/ChatPDT/internal/logger"
	"github.com/Copilotuser-cyber/ChatPDT/internal/model"
	"github.com/Copilotuser-cyber/ChatPDT/internal/override"
	"github.com/Copilotuser-cyber/ChatPDT/internal/records"
	"github.com/Copilotuser-cyber/ChatPDT/internal/shardqueue"
	"github.com/Copilotuser-cyber/ChatPDT/internal/store"
	"github.com/Copilotuser-cyber/ChatPDT/internal/stream"
)

// Client is safe for concurrent use. Close releases every resource.
type Client struct {
	cfg    *config.Config
	log    zerolog.Logger
	logSet bool

	local    store.Backend
	cloud    store.Backend
	cloudSet bool
	engine   stream.Engine

	gw    *gateway.Gateway
	ch    *channel.Channel
	repo  *records.Repo
	bus   *override.Bus
	queue *shardqueue.ShardExecutor
	acc   *stream.Accumulator
	admin *admin.Console
	mon   *health.Monitor

	closedOnce uint32
}

// New opens the configured backends, probes the cloud store and wires the
// components. A nil cfg is loaded from the environment. A cloud store that
// refuses access during the probe leaves the client in local-only mode; one
// that cannot be reached is logged and retried by later operations.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		var err error
		if cfg, err = config.New(); err != nil {
			return nil, err
		}
	} else if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{cfg: cfg}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if !c.logSet {
		c.log = logger.NewWithWriter(os.Stdout, "chatpdt", logger.ParseLevel(cfg.LogLevel))
	}

	if c.local == nil {
		local, err := factory.NewLocal(cfg)
		if err != nil {
			return nil, err
		}
		c.local = local
	}
	if !c.cloudSet {
		cloud, err := factory.NewCloud(ctx, cfg, c.log)
		if err != nil {
			_ = c.local.Close()
			return nil, err
		}
		c.cloud = cloud
	}

	c.gw = gateway.New(c.local, c.cloud, gateway.WithLogger(c.log))
	if err := c.gw.Probe(ctx, cfg.ProbeTimeout, cfg.ProbeMaxElapsed); err != nil {
		c.log.Warn().Err(err).Msg("continuing with an unreachable cloud store")
	}
	checkers := []health.Checker{health.NewBackendChecker(c.local, cfg.ProbeTimeout, nil, c.log)}
	if c.cloud != nil {
		checkers = append(checkers, health.NewBackendChecker(c.cloud, cfg.ProbeTimeout, c.gw.IsCloudEnabled, c.log))
	}
	c.mon = health.NewMonitor(c.log, checkers...)
	c.mon.Run(context.WithoutCancel(ctx), cfg.HealthInterval)

	c.ch = channel.New(c.gw,
		channel.WithLogger(c.log),
		channel.WithInterval(model.CollectionOverrides, cfg.OverridesPollInterval),
		channel.WithInterval(model.CollectionChats, cfg.ChatsPollInterval),
		channel.WithInterval(model.CollectionGames, cfg.ChatsPollInterval),
		channel.WithInterval(model.CollectionCommunityPosts, cfg.CommunityPollInterval),
		channel.WithInterval(model.CollectionUsers, cfg.CommunityPollInterval),
	)
	c.repo = records.New(c.gw)
	c.bus = override.NewBus(c.gw, c.ch,
		override.WithBusLogger(c.log),
		override.WithPollInterval(cfg.OverridesPollInterval),
	)
	c.admin = admin.New(c.repo, c.bus,
		admin.WithLogger(c.log),
		admin.WithConcurrency(cfg.BroadcastConcurrency),
	)

	if c.engine == nil && cfg.GeminiAPIKey != "" {
		eng, err := gemini.New(ctx, cfg.GeminiAPIKey, cfg.GeminiTitleModel, c.log)
		if err != nil {
			_ = c.Close()
			return nil, err
		}
		c.engine = eng
	}
	if c.engine != nil {
		c.queue = shardqueue.NewShardExecutor(shardqueue.Config{
			Shards:      cfg.QueueShards,
			QueueSize:   cfg.QueueSize,
			MaxAttempts: 1,
			Logger:      c.log,
		})
		c.acc = stream.New(c.engine, c.repo,
			stream.WithLogger(c.log),
			stream.WithErrorSuffix(cfg.StreamErrorSuffix),
			stream.WithQueue(c.queue),
		)
	} else {
		c.log.Info().Msg("no completion engine configured, replies are disabled")
	}

	c.log.Info().
		Str("mode", c.gw.Mode().String()).
		Str("local", c.local.Name()).
		Bool("engine", c.engine != nil).
		Msg("client ready")
	return c, nil
}

// Mode returns the current capability state of the storage gateway.
func (c *Client) Mode() Mode { return c.gw.Mode() }

// Downgraded is closed once the client runs in local-only mode.
func (c *Client) Downgraded() <-chan struct{} { return c.gw.Downgraded() }

// Records returns the typed record repository.
func (c *Client) Records() *records.Repo { return c.repo }

// Overrides returns the override bus used to push administrative commands.
func (c *Client) Overrides() *override.Bus { return c.bus }

// Admin returns the administrator console.
func (c *Client) Admin() *admin.Console { return c.admin }

// Healthy reports whether the backends in use answered their last ping.
func (c *Client) Healthy() bool { return c.mon.IsHealthy() }

// Logger returns the client logger.
func (c *Client) Logger() zerolog.Logger { return c.log }

// Push merge-writes override payloads onto targetUserID's document.
func (c *Client) Push(ctx context.Context, targetUserID string, payloads ...Override) error {
	return c.bus.Push(ctx, targetUserID, payloads...)
}

// SubscribeCommunity delivers the whole community feed, newest first, on
// every change.
func (c *Client) SubscribeCommunity(fn func([]CommunityPost)) *Subscription {
	return subscribeList(c, channel.Key{Collection: model.CollectionCommunityPosts}, records.SortPosts, fn)
}

// SubscribeChats delivers the chats of owner, newest first, on every
// change.
func (c *Client) SubscribeChats(owner string, fn func([]Chat)) *Subscription {
	key := channel.Key{Collection: model.CollectionChats, Filter: gateway.Filter{OwnerID: owner}}
	return subscribeList(c, key, records.SortChats, fn)
}

// SubscribeGames delivers the game projects of owner on every change.
func (c *Client) SubscribeGames(owner string, fn func([]GameProject)) *Subscription {
	key := channel.Key{Collection: model.CollectionGames, Filter: gateway.Filter{OwnerID: owner}}
	return subscribeList(c, key, nil, fn)
}

// subscribeList decodes every snapshot into T. Records that fail to decode
// are skipped with a warning.
func subscribeList[T any](c *Client, key channel.Key, sortFn func([]T), fn func([]T)) *Subscription {
	return c.ch.Subscribe(key, func(docs []model.Document) {
		out := make([]T, 0, len(docs))
		for _, d := range docs {
			v, err := model.Decode[T](d)
			if err != nil {
				c.log.Warn().Err(err).Str("collection", key.Collection).Str("id", d.ID()).Msg("skipping undecodable record")
				continue
			}
			out = append(out, v)
		}
		if sortFn != nil {
			sortFn(out)
		}
		fn(out)
	})
}

// Close disposes every subscription, waits for queued title jobs and
// closes the backends. Safe to call multiple times.
func (c *Client) Close() error {
	if !atomic.CompareAndSwapUint32(&c.closedOnce, 0, 1) {
		return nil
	}
	c.ch.Close()
	if c.acc != nil {
		_ = c.acc.Close()
	}
	if c.queue != nil {
		c.queue.Stop()
	}
	c.mon.Stop()
	return c.gw.Close()
}
