package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/quotakeeper/internal/config"
	"github.com/goodtune/quotakeeper/internal/storage"
	"github.com/redis/go-redis/v9"
)

// Store implements the storage.Store interface using Redis
type Store struct {
	client    *redis.Client
	keys      keyspace
	events    *eventStore
	ledger    *ledgerStore
	ownership *ownershipStore
	deferred  *deferredStore
}

// Open creates a new Redis-backed storage instance
func Open(cfg config.RedisConfig) (*Store, error) {
	// Parse timeouts
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	// Port 0 means Host already carries the port
	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return New(client, cfg.KeyPrefix), nil
}

// New wraps an existing client. All keys are namespaced under prefix.
func New(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "quotakeeper"
	}
	k := keyspace{prefix: prefix}
	return &Store{
		client:    client,
		keys:      k,
		events:    &eventStore{client: client, keys: k},
		ledger:    &ledgerStore{client: client, keys: k},
		ownership: &ownershipStore{client: client, keys: k},
		deferred:  &deferredStore{client: client, keys: k},
	}
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Client exposes the underlying client for collaborators sharing the connection.
func (s *Store) Client() *redis.Client {
	return s.client
}

// Events returns the EventStore implementation
func (s *Store) Events() storage.EventStore {
	return s.events
}

// Ledger returns the LedgerStore implementation
func (s *Store) Ledger() storage.LedgerStore {
	return s.ledger
}

// Ownership returns the OwnershipStore implementation
func (s *Store) Ownership() storage.OwnershipStore {
	return s.ownership
}

// Deferred returns the DeferredStore implementation
func (s *Store) Deferred() storage.DeferredStore {
	return s.deferred
}

var _ storage.Store = (*Store)(nil)

// keyspace builds every key the store touches.
type keyspace struct {
	prefix string
}

func (k keyspace) events(entityID string) string { return k.prefix + ":events:" + entityID }
func (k keyspace) audit() string                 { return k.prefix + ":audit" }
func (k keyspace) ledger(ownerID string) string  { return k.prefix + ":ledger:" + ownerID }
func (k keyspace) owners() string                { return k.prefix + ":owners" }
func (k keyspace) entityOwner() string           { return k.prefix + ":entity:owner" }
func (k keyspace) ownerEntitiesPrefix() string   { return k.prefix + ":owner:entities:" }
func (k keyspace) ownerEntities(ownerID string) string {
	return k.ownerEntitiesPrefix() + ownerID
}
func (k keyspace) deferred() string       { return k.prefix + ":deferred" }
func (k keyspace) state() string          { return k.prefix + ":state" }
func (k keyspace) commands() string       { return k.prefix + ":commands" }
func (k keyspace) notifications() string  { return k.prefix + ":notifications" }
func (k keyspace) recentNotices() string  { return k.prefix + ":notifications:recent" }
