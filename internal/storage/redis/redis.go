package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/sitewarden/internal/config"
	"github.com/goodtune/sitewarden/internal/storage"
	"github.com/redis/go-redis/v9"
)

// Store implements the storage.Store interface using Redis
type Store struct {
	client   *redis.Client
	sites    *siteStore
	usage    *usageStore
	timeLock *timeLockStore
	policy   *policyStore
}

// Open creates a new Redis-backed storage instance
func Open(cfg config.RedisConfig) (*Store, error) {
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

	return &Store{
		client:   client,
		sites:    &siteStore{client: client},
		usage:    &usageStore{client: client},
		timeLock: &timeLockStore{client: client},
		policy:   &policyStore{client: client},
	}, nil
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Sites returns the SiteStore implementation
func (s *Store) Sites() storage.SiteStore { return s.sites }

// Usage returns the UsageStore implementation
func (s *Store) Usage() storage.UsageStore { return s.usage }

// TimeLock returns the TimeLockStore implementation
func (s *Store) TimeLock() storage.TimeLockStore { return s.timeLock }

// Policy returns the PolicyStore implementation
func (s *Store) Policy() storage.PolicyStore { return s.policy }

func siteKey(id string) string        { return "sitewarden:site:" + id }
func siteDomainKey(d string) string   { return "sitewarden:site:domain:" + d }
func usageKey(date, dom string) string {
	return fmt.Sprintf("sitewarden:usage:%s:%s", date, dom)
}
func usageDateIndex(date string) string  { return "sitewarden:usage:index:" + date }
func usageDomainIndex(d string) string   { return "sitewarden:usage:domain:" + d }

const (
	keySiteSet    = "sitewarden:sites"
	keyUsageDates = "sitewarden:usage:dates"
	keyTimeLock   = "sitewarden:timelock"
	keyPolicy     = "sitewarden:policy"
)
