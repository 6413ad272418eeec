package commands

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coder/quartz"
	"github.com/dyluth/boardsync/internal/config"
	"github.com/dyluth/boardsync/internal/persist"
	"github.com/dyluth/boardsync/internal/printer"
	"github.com/dyluth/boardsync/internal/transport"
	"github.com/dyluth/boardsync/internal/transport/ws"
	"github.com/dyluth/boardsync/pkg/board"
)

// loadConfig reads the configuration named by --config.
func loadConfig() (*config.BoardsyncConfig, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, printer.Error(
			"invalid configuration",
			err.Error(),
			[]string{fmt.Sprintf("Check %s against the documented schema", describeConfigPath())},
		)
	}
	return cfg, nil
}

func describeConfigPath() string {
	if configPath == "" {
		return config.DefaultPath
	}
	return configPath
}

// connectRedis opens and pings the configured Redis server.
func connectRedis(ctx context.Context, cfg *config.BoardsyncConfig) (*board.Client, error) {
	redisOpts, err := cfg.RedisOptions()
	if err != nil {
		return nil, err
	}

	client, err := board.NewClient(redisOpts, cfg.Namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to create board client: %w", err)
	}

	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, printer.ErrorWithContext(
			"Redis connection failed",
			fmt.Sprintf("Could not connect to Redis at %s", cfg.Redis.URL),
			map[string]string{"Namespace": cfg.Namespace},
			[]string{
				fmt.Sprintf("Check that Redis is running and reachable, or set %s", config.EnvRedisURL),
			},
		)
	}

	return client, nil
}

// backend bundles the persistence store and room transport a session uses.
type backend struct {
	redis     *board.Client
	store     persist.Store
	transport transport.Transport
}

// openBackend builds the configured store and transport. Redis is only
// dialled when one of them needs it.
func openBackend(ctx context.Context, cfg *config.BoardsyncConfig, clock quartz.Clock) (*backend, error) {
	b := &backend{}

	if cfg.Persistence.Kind == config.KindRedis || cfg.Transport.Kind == config.KindRedis {
		client, err := connectRedis(ctx, cfg)
		if err != nil {
			return nil, err
		}
		b.redis = client
	}

	switch cfg.Persistence.Kind {
	case config.KindHTTP:
		store, err := persist.NewHTTPStore(persist.HTTPOptions{
			BaseURL: cfg.Persistence.URL,
			Header:  toHeader(cfg.Persistence.Headers),
			Timeout: cfg.Persistence.Timeout.Std(),
		})
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("failed to create persistence store: %w", err)
		}
		b.store = store
	default:
		b.store = persist.NewRedisStore(b.redis, clock)
	}

	switch cfg.Transport.Kind {
	case config.KindWebSocket:
		t, err := ws.New(ws.Options{
			URL:          cfg.Transport.URL,
			Header:       toHeader(cfg.Transport.Headers),
			PingInterval: cfg.Transport.PingInterval.Std(),
			Clock:        clock,
		})
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("failed to create transport: %w", err)
		}
		b.transport = t
	default:
		b.transport = transport.NewRedisRoom(b.redis)
	}

	return b, nil
}

// Close releases the Redis connection, if any.
func (b *backend) Close() {
	if b.redis != nil {
		b.redis.Close()
	}
}

func toHeader(m map[string]string) http.Header {
	if len(m) == 0 {
		return nil
	}
	h := make(http.Header, len(m))
	for k, v := range m {
		h.Set(k, v)
	}
	return h
}
