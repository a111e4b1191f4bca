// Package cart stores shopper carts in Redis. A cart is one JSON document per
// session, mutated through optimistic WATCH/MULTI transactions so concurrent
// requests on the same session never lose a write.
package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rafaeljc/giftrules/internal/config"
)

var (
	// ErrLineNotFound is returned when no line has the requested key.
	ErrLineNotFound = errors.New("cart line not found")

	// ErrCartFull is returned when adding a line would exceed the configured maximum.
	ErrCartFull = errors.New("cart is full")

	// ErrInvalidQuantity is returned for quantities below 1.
	ErrInvalidQuantity = errors.New("quantity must be at least 1")

	// ErrConflict is returned when concurrent writers kept invalidating the transaction.
	ErrConflict = errors.New("cart modified concurrently, retries exhausted")
)

// Store creates session-bound carts over a Redis client.
type Store struct {
	client     redis.UniversalClient
	logger     *slog.Logger
	prefix     string
	ttl        time.Duration
	maxItems   int
	maxRetries int
	includeTax bool
}

// NewStore creates a cart store. If logger is nil, it defaults to slog.Default().
func NewStore(logger *slog.Logger, client redis.UniversalClient, sessionCfg *config.SessionConfig, cartCfg *config.CartConfig) *Store {
	if client == nil {
		panic("cart: redis client cannot be nil")
	}
	if sessionCfg == nil || cartCfg == nil {
		panic("cart: config cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{
		client:     client,
		logger:     logger,
		prefix:     sessionCfg.KeyPrefix,
		ttl:        sessionCfg.TTL,
		maxItems:   cartCfg.MaxItems,
		maxRetries: max(1, sessionCfg.MaxTxRetries),
		includeTax: cartCfg.PricesIncludeTax,
	}
}

func (s *Store) key(sessionID string) string {
	return fmt.Sprintf("%s:cart:%s", s.prefix, sessionID)
}

// load reads the document, returning an empty cart when none exists.
func (s *Store) load(ctx context.Context, cmd redis.Cmdable, sessionID string) (*document, error) {
	raw, err := cmd.Get(ctx, s.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return &document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cart %q: %w", sessionID, err)
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("corrupted cart %q: %w", sessionID, err)
	}
	return &doc, nil
}

// update applies fn to the current document and writes it back atomically.
// fn may run more than once when another writer wins the race; it must only
// touch the document it is given.
func (s *Store) update(ctx context.Context, sessionID string, fn func(*document) error) error {
	key := s.key(sessionID)

	txf := func(tx *redis.Tx) error {
		doc, err := s.load(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if err := fn(doc); err != nil {
			return err
		}

		doc.UpdatedAt = time.Now().UTC()
		payload, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("failed to encode cart: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.ttl)
			return nil
		})
		return err
	}

	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		s.logger.Debug("cart transaction conflict, retrying",
			slog.String("session_id", sessionID),
			slog.Int("attempt", attempt),
		)
	}
	return ErrConflict
}

// delete drops the whole cart.
func (s *Store) delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to empty cart %q: %w", sessionID, err)
	}
	return nil
}
