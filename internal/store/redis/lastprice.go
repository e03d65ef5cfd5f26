// Package redis mirrors the engine's last-known prices into Redis so
// external readers (dashboards, the API layer) can observe them without
// touching engine memory.
package redis

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

const lastPriceTTL = 5 * time.Minute

// Config configures the publisher.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// Publisher writes last-traded prices to Redis. All writes are best-effort:
// a failure is logged and never propagates to the tick path, and a circuit
// breaker keeps a dead Redis from charging every tick a timeout.
type Publisher struct {
	client  *goredis.Client
	breaker *CircuitBreaker
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// New creates a Publisher and pings the server.
func New(cfg Config) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	breaker := NewCircuitBreaker(5, 10*time.Second)
	breaker.OnStateChange = func(from, to State) {
		log.Printf("[redis] circuit breaker %s -> %s", from, to)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Publisher{client: client, breaker: breaker}, nil
}

// PublishPrice stores the latest price under lastprice:{token} with a short
// TTL so a stalled feed does not leave stale prices behind.
func (p *Publisher) PublishPrice(ctx context.Context, token uint32, price decimal.Decimal) {
	key := "lastprice:" + strconv.FormatUint(uint64(token), 10)
	err := p.breaker.Execute(func() error {
		return p.client.Set(ctx, key, price.String(), lastPriceTTL).Err()
	})
	if err != nil && err != ErrCircuitOpen {
		log.Printf("[redis] publish %s failed: %v", key, err)
	}
}

// Close releases the client.
func (p *Publisher) Close() error { return p.client.Close() }
